package services

import (
	"context"

	"github.com/ekaya-inc/tracking-engine/pkg/audit"
	"github.com/ekaya-inc/tracking-engine/pkg/validation"
)

// injectionGuard runs libinjection over user-supplied text and records
// rejections with the security auditor.
type injectionGuard struct {
	auditor  *audit.SecurityAuditor
	resource string
}

// check takes field/value pairs like validation.CheckFields.
func (g injectionGuard) check(ctx context.Context, fields ...string) error {
	result := validation.CheckFields(fields...)
	if result == nil {
		return nil
	}
	g.auditor.LogInjectionRejected(ctx, g.resource, result)
	return result.Error()
}
