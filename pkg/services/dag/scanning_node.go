package dag

import (
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
	"github.com/ekaya-inc/tracking-engine/pkg/services/trackingparser"
)

// ErrNoPatterns fails a scan that reaches the scanning step with nothing to search for.
var ErrNoPatterns = errors.New("No patterns found")

// CodeSearcher greps a tree and returns vimgrep-format lines.
type CodeSearcher interface {
	Search(ctx context.Context, root string, patterns []models.SearchPattern) ([]string, error)
}

// ScanningNode searches the project for call sites and parses them into tracking calls.
type ScanningNode struct {
	*BaseNode
	searcher CodeSearcher
}

// NewScanningNode creates a new pattern scanning node.
func NewScanningNode(
	jobRepo repositories.ScanJobRepository,
	searcher CodeSearcher,
	logger *zap.Logger,
) *ScanningNode {
	return &ScanningNode{
		BaseNode: NewBaseNode(models.ScanStepPatternScan, jobRepo, logger),
		searcher: searcher,
	}
}

func (n *ScanningNode) Execute(ctx context.Context, state *ScanState) error {
	if len(state.Patterns) == 0 {
		return ErrNoPatterns
	}

	lines, err := n.searcher.Search(ctx, state.ProjectRoot(), state.Patterns)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	calls := trackingparser.ParseLines(lines)

	// Paths come back relative to the project; store them relative to the repo.
	if prefix := state.projectPrefix(); prefix != "" {
		for i := range calls {
			calls[i].FilePath = path.Join(prefix, calls[i].FilePath)
		}
	}
	state.Calls = calls

	n.Logger().Info("Call sites parsed",
		zap.Int("matches", len(lines)),
		zap.Int("rows", len(state.Calls)))
	return nil
}
