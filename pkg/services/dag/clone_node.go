package dag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
)

// TokenResolver returns the GitHub token to clone with for a user.
type TokenResolver interface {
	ResolveToken(ctx context.Context, userID uuid.UUID) (string, error)
}

// CloneMethods defines the clone operations the node needs.
// This interface allows the node to call service methods without causing import cycles.
type CloneMethods interface {
	Clone(ctx context.Context, repoName, branch, token string) (dir string, branchUsed string, err error)
	SwitchBranch(ctx context.Context, dir, branch, token string) error
	CurrentBranch(dir string) (string, error)
}

// CloneNode fetches the repository into a scratch directory.
type CloneNode struct {
	*BaseNode
	tokens TokenResolver
	cloner CloneMethods
}

// NewCloneNode creates a new clone node.
func NewCloneNode(
	jobRepo repositories.ScanJobRepository,
	tokens TokenResolver,
	cloner CloneMethods,
	logger *zap.Logger,
) *CloneNode {
	return &CloneNode{
		BaseNode: NewBaseNode(models.ScanStepClone, jobRepo, logger),
		tokens:   tokens,
		cloner:   cloner,
	}
}

// Execute resolves the user's token and clones state.RepoName on its default branch.
// When state.Branch names another branch the checkout is switched to it; a
// requested branch that does not exist fails the scan.
func (n *CloneNode) Execute(ctx context.Context, state *ScanState) error {
	token, err := n.tokens.ResolveToken(ctx, state.UserID)
	if err != nil {
		return fmt.Errorf("resolve github token: %w", err)
	}

	requested := state.Branch
	dir, branch, err := n.cloner.Clone(ctx, state.RepoName, "", token)
	if err != nil {
		return fmt.Errorf("clone %s: %w", state.RepoName, err)
	}
	state.Dir = dir

	if requested != "" && requested != branch {
		if err := n.cloner.SwitchBranch(ctx, dir, requested, token); err != nil {
			return fmt.Errorf("checkout %s: %w", requested, err)
		}
	}

	current, err := n.cloner.CurrentBranch(dir)
	if err != nil {
		return fmt.Errorf("read checked out branch: %w", err)
	}
	if current != "" {
		branch = current
	}
	state.Branch = branch

	n.RecordDetails(ctx, state, branch, "")
	n.Logger().Info("Repository cloned",
		zap.String("repo", state.RepoName),
		zap.String("branch", branch))
	return nil
}
