package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanStatus is the lifecycle state of a tracking plan.
type PlanStatus string

const (
	PlanStatusDraft    PlanStatus = "draft"
	PlanStatusActive   PlanStatus = "active"
	PlanStatusArchived PlanStatus = "archived"
)

// IsValid reports whether s is a known plan status.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusDraft, PlanStatusActive, PlanStatusArchived:
		return true
	}
	return false
}

// Plan is a named tracking plan spanning one or more repos.
type Plan struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Status       PlanStatus `json:"status"`
	Version      int        `json:"version"`
	ImportSource string     `json:"import_source,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Repos is populated only by endpoints that return plan membership.
	Repos []*Repo `json:"repos,omitempty"`
}
