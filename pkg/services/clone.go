package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/logging"
)

// ValidateRepoName checks that name has the form "owner/repo".
func ValidateRepoName(name string) error {
	parts := strings.Split(strings.TrimSpace(name), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: Repository name must be in the format of 'owner/repo'", apperrors.ErrInvalidInput)
	}
	return nil
}

// ValidateBranchName rejects names git would refuse as a branch ref.
// An empty name is valid and means the default branch.
func ValidateBranchName(name string) error {
	if name == "" {
		return nil
	}
	invalid := len(name) > 255 ||
		strings.HasPrefix(name, "-") || strings.HasPrefix(name, "/") ||
		strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock") ||
		strings.Contains(name, "..") || strings.Contains(name, "//") || strings.Contains(name, "@{") ||
		strings.ContainsAny(name, " ~^:?*[\\")
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			invalid = true
		}
	}
	if invalid {
		return fmt.Errorf("%w: invalid branch name %q", apperrors.ErrInvalidInput, name)
	}
	return nil
}

// CloneService checks repositories out to local disk.
type CloneService interface {
	// Clone checks out branch into a new directory. If branch does not exist it retries
	// once with the alternate default branch and reports the branch actually used.
	Clone(ctx context.Context, repoName, branch, token string) (dir string, branchUsed string, err error)
	// SwitchBranch checks out branch in an existing clone, fetching it first if needed.
	// Returns ErrNotFound when the remote has no such branch.
	SwitchBranch(ctx context.Context, dir, branch, token string) error
	CurrentBranch(dir string) (string, error)
	Cleanup(dir string) error
}

// CloneConfig configures a CloneService.
type CloneConfig struct {
	BaseURL        string
	Dir            string
	Depth          int
	DefaultBranch  string
	FallbackBranch string
}

type cloneService struct {
	config   CloneConfig
	cloneURL func(repoName string) string
	logger   *zap.Logger
}

// NewCloneService creates a clone service.
func NewCloneService(cfg CloneConfig, logger *zap.Logger) CloneService {
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}
	if cfg.FallbackBranch == "" {
		cfg.FallbackBranch = "master"
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://github.com"
	}

	return &cloneService{
		config: cfg,
		cloneURL: func(repoName string) string {
			return base + "/" + repoName + ".git"
		},
		logger: logger.Named("clone"),
	}
}

var _ CloneService = (*cloneService)(nil)

func (s *cloneService) Clone(ctx context.Context, repoName, branch, token string) (string, string, error) {
	if err := ValidateRepoName(repoName); err != nil {
		return "", "", err
	}
	if branch == "" {
		branch = s.config.DefaultBranch
	}

	dir, err := s.cloneBranch(ctx, repoName, branch, token)
	if err == nil {
		return dir, branch, nil
	}
	if !isMissingRef(err) {
		return "", "", err
	}

	alternate := s.alternateBranch(branch)
	s.logger.Info("Branch not found, retrying with alternate",
		zap.String("repo", repoName),
		zap.String("branch", branch),
		zap.String("alternate", alternate))

	dir, err = s.cloneBranch(ctx, repoName, alternate, token)
	if err != nil {
		return "", "", err
	}
	return dir, alternate, nil
}

func (s *cloneService) cloneBranch(ctx context.Context, repoName, branch, token string) (string, error) {
	dir, err := os.MkdirTemp(s.config.Dir, "repo-*")
	if err != nil {
		return "", fmt.Errorf("failed to create clone directory: %w", err)
	}

	cloneURL := s.cloneURL(repoName)
	_, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           cloneURL,
		Auth:          basicAuth(token),
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Depth:         s.config.Depth,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		s.logger.Warn("Clone failed",
			zap.String("repo", repoName),
			zap.String("branch", branch),
			zap.String("url", logging.SanitizeCloneURL(cloneURL)),
			zap.String("error", logging.SanitizeError(err)))
		if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
			return "", fmt.Errorf("%w: cannot access %s", apperrors.ErrForbidden, repoName)
		}
		if errors.Is(err, transport.ErrRepositoryNotFound) {
			return "", fmt.Errorf("%w: repository %s", apperrors.ErrNotFound, repoName)
		}
		return "", fmt.Errorf("failed to clone %s@%s: %w", repoName, branch, err)
	}

	s.logger.Info("Repository cloned",
		zap.String("repo", repoName),
		zap.String("branch", branch),
		zap.String("dir", dir))
	return dir, nil
}

func (s *cloneService) alternateBranch(branch string) string {
	if branch == s.config.FallbackBranch {
		return s.config.DefaultBranch
	}
	return s.config.FallbackBranch
}

func (s *cloneService) SwitchBranch(ctx context.Context, dir, branch, token string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	local := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(local, false); err == nil {
		return wt.Checkout(&git.CheckoutOptions{Branch: local})
	}

	refSpec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, git.DefaultRemoteName, branch))
	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Auth:       basicAuth(token),
		Depth:      s.config.Depth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		if isMissingRef(err) {
			return fmt.Errorf("%w: branch %s", apperrors.ErrNotFound, branch)
		}
		return fmt.Errorf("failed to fetch branch %s: %w", branch, err)
	}

	remote, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch), true)
	if err != nil {
		return fmt.Errorf("%w: branch %s", apperrors.ErrNotFound, branch)
	}

	return wt.Checkout(&git.CheckoutOptions{
		Branch: local,
		Hash:   remote.Hash(),
		Create: true,
	})
}

// CurrentBranch returns the checked-out branch, or "" for a detached HEAD.
func (s *cloneService) CurrentBranch(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return "", nil
}

// Cleanup removes a clone directory. Paths outside the clone root are rejected.
func (s *cloneService) Cleanup(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := resolveInRoot(s.config.Dir, dir); err != nil {
		return fmt.Errorf("refusing to remove %s: %w", dir, err)
	}
	if filepath.Clean(dir) == filepath.Clean(s.config.Dir) {
		return fmt.Errorf("refusing to remove clone root %s", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

func basicAuth(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}
}

func isMissingRef(err error) bool {
	if errors.Is(err, git.NoMatchingRefSpecError{}) || errors.Is(err, plumbing.ErrReferenceNotFound) {
		return true
	}
	return strings.Contains(err.Error(), "couldn't find remote ref")
}
