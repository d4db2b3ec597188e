package models

import (
	"time"

	"github.com/google/uuid"
)

// EventSource records how an event entered the store.
// A rescan replaces only the repo's scan events.
type EventSource string

const (
	EventSourceScan   EventSource = "scan"
	EventSourceManual EventSource = "manual"
	EventSourceImport EventSource = "import"
)

// UserEvent is one tracking event occurrence in a repo.
// PlanID is set for events created or imported directly into a plan.
type UserEvent struct {
	ID         uuid.UUID   `json:"id"`
	RepoID     uuid.UUID   `json:"repo_id"`
	PlanID     *uuid.UUID  `json:"plan_id,omitempty"`
	EventName  string      `json:"event_name"`
	Context    string      `json:"context,omitempty"`
	Tags       []string    `json:"tags"`
	FilePath   string      `json:"file_path,omitempty"`
	LineNumber *int        `json:"line_number,omitempty"`
	Source     EventSource `json:"source"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// EventAnnotation is a free-text note a user attaches to an event.
type EventAnnotation struct {
	ID          uuid.UUID `json:"id"`
	UserEventID uuid.UUID `json:"user_event_id"`
	UserID      uuid.UUID `json:"user_id"`
	Annotation  string    `json:"annotation"`
	CreatedAt   time.Time `json:"created_at"`
}
