package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanStatus represents the execution status of a scan job.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// IsTerminal returns true if the scan can no longer change state.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed || s == ScanStatusCancelled
}

// IsActive returns true if the scan is pending or running.
func (s ScanStatus) IsActive() bool {
	return s == ScanStatusPending || s == ScanStatusRunning
}

// ScanStep names a stage of the scan pipeline, in execution order.
type ScanStep string

const (
	ScanStepClone          ScanStep = "clone"
	ScanStepDependencyScan ScanStep = "dependency_reconnaissance"
	ScanStepPatternMatch   ScanStep = "pattern_matching"
	ScanStepPatternScan    ScanStep = "pattern_scanning"
	ScanStepPlanWriting    ScanStep = "tracking_plan_writing"
)

// ScanSteps lists every step in the order the pipeline runs them.
var ScanSteps = []ScanStep{
	ScanStepClone,
	ScanStepDependencyScan,
	ScanStepPatternMatch,
	ScanStepPatternScan,
	ScanStepPlanWriting,
}

// ScanJob records one run of the scan pipeline against a repo.
type ScanJob struct {
	ID           uuid.UUID  `json:"id"`
	RepoID       uuid.UUID  `json:"repo_id"`
	Status       ScanStatus `json:"status"`
	CurrentStep  ScanStep   `json:"current_step,omitempty"`
	Branch       string     `json:"branch,omitempty"`
	TrackingSDK  string     `json:"tracking_sdk,omitempty"`
	EventsFound  int        `json:"events_found"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
