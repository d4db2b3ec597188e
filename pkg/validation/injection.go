// Package validation guards free-text input before it is stored.
package validation

import (
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
)

// InjectionCheckResult describes a rejected field.
type InjectionCheckResult struct {
	Field       string
	Kind        string // "sqli" or "xss"
	Fingerprint string // libinjection fingerprint, SQLi only
}

// CheckText runs the libinjection SQLi and XSS detectors over value.
// Returns nil when the value is clean.
func CheckText(field, value string) *InjectionCheckResult {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		return &InjectionCheckResult{Field: field, Kind: "sqli", Fingerprint: string(fingerprint)}
	}
	if libinjection.IsXSS(value) {
		return &InjectionCheckResult{Field: field, Kind: "xss"}
	}
	return nil
}

// CheckFields checks each named value and returns the first failure.
// Map iteration order is not used so results are deterministic.
func CheckFields(fields ...string) *InjectionCheckResult {
	for i := 0; i+1 < len(fields); i += 2 {
		if result := CheckText(fields[i], fields[i+1]); result != nil {
			return result
		}
	}
	return nil
}

// Error converts a failed check into an ErrInvalidInput.
func (r *InjectionCheckResult) Error() error {
	return fmt.Errorf("%w: field %q contains disallowed content", apperrors.ErrInvalidInput, r.Field)
}
