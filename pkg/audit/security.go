// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/secrets"
	"github.com/ekaya-inc/tracking-engine/pkg/validation"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionRejected is logged when libinjection rejects user-supplied text.
	EventInjectionRejected SecurityEventType = "injection_rejected"
	// EventSecretsRedacted is logged when a scan strips credentials from captured code.
	EventSecretsRedacted SecurityEventType = "secrets_redacted"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	RepoID    *uuid.UUID        `json:"repo_id,omitempty"`
	JobID     *uuid.UUID        `json:"job_id,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails describes rejected input. The value itself is never logged.
type InjectionDetails struct {
	Resource    string `json:"resource"` // repo, plan, event or annotation
	Field       string `json:"field"`
	Kind        string `json:"kind"`                  // sqli or xss
	Fingerprint string `json:"fingerprint,omitempty"` // libinjection fingerprint, SQLi only
}

// RedactionDetails lists which gitleaks rules fired, without the matched secrets.
type RedactionDetails struct {
	Count   int      `json:"count"`
	RuleIDs []string `json:"rule_ids"`
}

// SecurityAuditor logs security events for SIEM consumption.
// A nil *SecurityAuditor is valid and logs nothing.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor under the "security_audit" logger name.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionRejected records input refused by the injection guard.
// The user is taken from the JWT claims in ctx when present.
func (a *SecurityAuditor) LogInjectionRejected(ctx context.Context, resource string, result *validation.InjectionCheckResult) {
	if a == nil || result == nil {
		return
	}
	userID := auth.GetUserIDFromContext(ctx)

	details := InjectionDetails{
		Resource:    resource,
		Field:       result.Field,
		Kind:        result.Kind,
		Fingerprint: result.Fingerprint,
	}
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventInjectionRejected,
		UserID:    userID,
		Details:   details,
		Severity:  "warning",
	}

	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Injection attempt rejected",
		zap.String("event_json", string(eventJSON)),
		zap.String("resource", resource),
		zap.String("field", result.Field),
		zap.String("kind", result.Kind),
		zap.String("fingerprint", result.Fingerprint),
		zap.String("user_id", userID),
		zap.String("severity", "warning"),
	)
}

// LogSecretsRedacted records credentials removed from event context during a scan.
func (a *SecurityAuditor) LogSecretsRedacted(userID, repoID, jobID uuid.UUID, findings []secrets.Finding) {
	if a == nil || len(findings) == 0 {
		return
	}

	seen := make(map[string]bool, len(findings))
	ruleIDs := make([]string, 0, len(findings))
	for _, f := range findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ruleIDs = append(ruleIDs, f.RuleID)
		}
	}

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSecretsRedacted,
		UserID:    userID.String(),
		RepoID:    &repoID,
		JobID:     &jobID,
		Details:   RedactionDetails{Count: len(findings), RuleIDs: ruleIDs},
		Severity:  "critical",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Error("Secrets redacted from scanned code",
		zap.String("event_json", string(eventJSON)),
		zap.String("user_id", userID.String()),
		zap.String("repo_id", repoID.String()),
		zap.String("job_id", jobID.String()),
		zap.Int("count", len(findings)),
		zap.Strings("rule_ids", ruleIDs),
		zap.String("severity", "critical"),
	)
}
