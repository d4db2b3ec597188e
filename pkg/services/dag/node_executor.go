package dag

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
)

// NodeExecutor defines the interface for scan pipeline node execution.
// Each node wraps a service method and passes its result on through the ScanState.
type NodeExecutor interface {
	// Name returns the step this node implements (e.g., "pattern_scanning")
	Name() models.ScanStep

	// Execute runs the node's work. Returns an error if the node fails.
	Execute(ctx context.Context, state *ScanState) error
}

// ScanState carries values between nodes for a single scan job.
type ScanState struct {
	JobID    uuid.UUID
	UserID   uuid.UUID
	RepoID   uuid.UUID
	RepoName string

	// Branch is the requested branch on input and the branch actually cloned afterwards.
	Branch string
	// Dir is the clone root. The caller owns its removal.
	Dir string

	Report   *models.DependencyReport
	Patterns []models.SearchPattern
	Calls    []models.TrackingCall
	Plan     *models.TrackingPlan

	EventsFound     int
	SecretsRedacted int
}

// ProjectRoot returns the directory the detected project lives in, falling back to the clone root.
func (s *ScanState) ProjectRoot() string {
	if s.Report == nil || s.Report.ProjectPath == "" || s.Report.ProjectPath == "." {
		return s.Dir
	}
	return filepath.Join(s.Dir, s.Report.ProjectPath)
}

func (s *ScanState) projectPrefix() string {
	if s.Report == nil || s.Report.ProjectPath == "." {
		return ""
	}
	return filepath.ToSlash(s.Report.ProjectPath)
}

// BaseNode provides common functionality for all scan nodes.
type BaseNode struct {
	nodeName models.ScanStep
	jobRepo  repositories.ScanJobRepository
	logger   *zap.Logger
}

// NewBaseNode creates a new base node with common dependencies.
func NewBaseNode(
	nodeName models.ScanStep,
	jobRepo repositories.ScanJobRepository,
	logger *zap.Logger,
) *BaseNode {
	return &BaseNode{
		nodeName: nodeName,
		jobRepo:  jobRepo,
		logger:   logger.Named(string(nodeName)),
	}
}

// Name returns the node name.
func (b *BaseNode) Name() models.ScanStep {
	return b.nodeName
}

// RecordDetails stores the branch and SDK on the job once a node learns them.
// Failures are logged; they never fail the scan.
func (b *BaseNode) RecordDetails(ctx context.Context, state *ScanState, branch, sdk string) {
	if b.jobRepo == nil || state.JobID == uuid.Nil {
		return
	}
	if err := b.jobRepo.UpdateDetails(ctx, state.JobID, branch, sdk); err != nil {
		b.logger.Warn("Failed to record scan details",
			zap.String("job_id", state.JobID.String()),
			zap.Error(err))
	}
}

// Logger returns the node's logger.
func (b *BaseNode) Logger() *zap.Logger {
	return b.logger
}
