package dag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
)

// DependencyDetector identifies the tracking SDK a checkout uses.
type DependencyDetector interface {
	Detect(ctx context.Context, root string) (*models.DependencyReport, error)
}

// ReconNode runs dependency reconnaissance over the clone.
type ReconNode struct {
	*BaseNode
	detector DependencyDetector
}

// NewReconNode creates a new dependency reconnaissance node.
func NewReconNode(
	jobRepo repositories.ScanJobRepository,
	detector DependencyDetector,
	logger *zap.Logger,
) *ReconNode {
	return &ReconNode{
		BaseNode: NewBaseNode(models.ScanStepDependencyScan, jobRepo, logger),
		detector: detector,
	}
}

func (n *ReconNode) Execute(ctx context.Context, state *ScanState) error {
	if state.Dir == "" {
		return fmt.Errorf("no clone directory for reconnaissance")
	}

	report, err := n.detector.Detect(ctx, state.Dir)
	if err != nil {
		return err
	}
	state.Report = report

	n.RecordDetails(ctx, state, "", string(report.TrackingSDK))
	n.Logger().Info("Tracking SDK detected",
		zap.String("sdk", string(report.TrackingSDK)),
		zap.String("language", string(report.Language)),
		zap.String("package_file", report.PackageFilePath))
	return nil
}
