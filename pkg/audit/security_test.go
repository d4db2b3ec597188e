package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/secrets"
	"github.com/ekaya-inc/tracking-engine/pkg/validation"
)

// setupTestLogger creates a test logger with an observer to capture log entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	return zap.New(core), recorded
}

func TestNewSecurityAuditor(t *testing.T) {
	logger, _ := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	assert.NotNil(t, auditor)
	assert.NotNil(t, auditor.logger)
}

func TestLogInjectionRejected(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	result := &validation.InjectionCheckResult{Field: "description", Kind: "sqli", Fingerprint: "s&1c"}

	tests := []struct {
		name     string
		ctx      context.Context
		wantUser string
	}{
		{
			name: "with user context",
			ctx: func() context.Context {
				claims := &auth.Claims{}
				claims.Subject = "user-123"
				return auth.WithClaims(context.Background(), claims, "token")
			}(),
			wantUser: "user-123",
		},
		{
			name:     "without user context",
			ctx:      context.Background(),
			wantUser: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorded.TakeAll()

			auditor.LogInjectionRejected(tt.ctx, "plan", result)

			logs := recorded.All()
			require.Len(t, logs, 1, "Expected exactly one log entry")

			entry := logs[0]
			assert.Equal(t, zapcore.WarnLevel, entry.Level)
			assert.Equal(t, "Injection attempt rejected", entry.Message)

			fields := entry.ContextMap()
			assert.Equal(t, "plan", fields["resource"])
			assert.Equal(t, "description", fields["field"])
			assert.Equal(t, "s&1c", fields["fingerprint"])
			assert.Equal(t, tt.wantUser, fields["user_id"])

			eventJSON, ok := fields["event_json"].(string)
			require.True(t, ok, "event_json should be a string")

			var event SecurityEvent
			require.NoError(t, json.Unmarshal([]byte(eventJSON), &event))
			assert.Equal(t, EventInjectionRejected, event.EventType)
			assert.Equal(t, tt.wantUser, event.UserID)
			assert.Nil(t, event.RepoID)
			assert.Equal(t, "warning", event.Severity)

			details, ok := event.Details.(map[string]any)
			require.True(t, ok, "Details should be a map")
			assert.Equal(t, "sqli", details["kind"])
			assert.NotContains(t, eventJSON, "value")
		})
	}
}

func TestLogSecretsRedacted(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)
	userID, repoID, jobID := uuid.New(), uuid.New(), uuid.New()

	auditor.LogSecretsRedacted(userID, repoID, jobID, []secrets.Finding{
		{RuleID: "stripe-access-token", Line: 3},
		{RuleID: "stripe-access-token", Line: 9},
		{RuleID: "aws-access-token", Line: 12},
	})

	logs := recorded.All()
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, repoID.String(), fields["repo_id"])
	assert.Equal(t, int64(3), fields["count"])

	var event SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	assert.Equal(t, EventSecretsRedacted, event.EventType)
	require.NotNil(t, event.RepoID)
	assert.Equal(t, repoID, *event.RepoID)
	require.NotNil(t, event.JobID)
	assert.Equal(t, jobID, *event.JobID)

	details := event.Details.(map[string]any)
	assert.Equal(t, []any{"stripe-access-token", "aws-access-token"}, details["rule_ids"])
}

func TestSecurityAuditor_NoOps(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogInjectionRejected(context.Background(), "event", nil)
	auditor.LogSecretsRedacted(uuid.New(), uuid.New(), uuid.New(), nil)
	assert.Zero(t, recorded.Len())

	var nilAuditor *SecurityAuditor
	assert.NotPanics(t, func() {
		nilAuditor.LogInjectionRejected(context.Background(), "event", &validation.InjectionCheckResult{Field: "x"})
		nilAuditor.LogSecretsRedacted(uuid.New(), uuid.New(), uuid.New(), []secrets.Finding{{RuleID: "r"}})
	})
}

func TestLoggerNamespace(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogInjectionRejected(context.Background(), "repo", &validation.InjectionCheckResult{Field: "label", Kind: "xss"})

	logs := recorded.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "security_audit", logs[0].LoggerName)
}
