package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent session state keys.
const (
	SessionStateStatus       = "status"
	SessionStateRepoName     = "repo_name"
	SessionStateScanJobID    = "scan_job_id"
	SessionStateTrackingPlan = "analyzed_tracking_plan"
	SessionStateError        = "error"
)

// Agent session status values.
const (
	SessionStatusNotStarted = "not_started"
	SessionStatusRunning    = "running"
	SessionStatusCompleted  = "completed"
	SessionStatusFailed     = "failed"
)

// AgentSession holds per-user conversational state for the agent endpoint.
type AgentSession struct {
	ID        string         `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewSessionState returns the state every session starts with.
func NewSessionState() map[string]any {
	return map[string]any{SessionStateStatus: SessionStatusNotStarted}
}

// AgentRequest is the payload of the agent run and create-task endpoints.
type AgentRequest struct {
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// AgentResponse is the reply to an agent run.
type AgentResponse struct {
	Message   string         `json:"message"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data"`
	SessionID string         `json:"session_id"`
}

// Agent response status values.
const (
	AgentStatusSuccess = "success"
	AgentStatusError   = "error"
)
