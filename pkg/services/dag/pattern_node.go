package dag

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
)

// PatternResolver turns a dependency report into search patterns.
type PatternResolver interface {
	Resolve(ctx context.Context, report *models.DependencyReport) ([]models.SearchPattern, error)
}

// PatternNode chooses the regular expressions the scanning node searches for.
type PatternNode struct {
	*BaseNode
	resolver PatternResolver
}

// NewPatternNode creates a new pattern matching node.
func NewPatternNode(
	jobRepo repositories.ScanJobRepository,
	resolver PatternResolver,
	logger *zap.Logger,
) *PatternNode {
	return &PatternNode{
		BaseNode: NewBaseNode(models.ScanStepPatternMatch, jobRepo, logger),
		resolver: resolver,
	}
}

func (n *PatternNode) Execute(ctx context.Context, state *ScanState) error {
	patterns, err := n.resolver.Resolve(ctx, state.Report)
	if err != nil {
		return err
	}
	state.Patterns = patterns

	n.Logger().Debug("Search patterns resolved", zap.Int("count", len(patterns)))
	return nil
}
