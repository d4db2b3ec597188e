package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/crypto"
	"github.com/ekaya-inc/tracking-engine/pkg/logging"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
	"github.com/ekaya-inc/tracking-engine/pkg/retry"
	"github.com/ekaya-inc/tracking-engine/pkg/services/githubapp"
)

const (
	githubPageSize = 100
	githubMaxPages = 10
)

// AppTokenProvider supplies GitHub App installation tokens.
type AppTokenProvider interface {
	InstallationToken(ctx context.Context) (string, error)
}

// GitHubService manages a user's GitHub connection and proxies the API calls the UI needs.
type GitHubService interface {
	// SaveToken encrypts and stores a personal or OAuth token for the user.
	SaveToken(ctx context.Context, userID uuid.UUID, token string) error
	// ResolveToken returns the user's token, or an App installation token when the user
	// has none. Returns ErrGitHubNotConnected when neither is available.
	ResolveToken(ctx context.Context, userID uuid.UUID) (string, error)
	ListRepos(ctx context.Context, userID uuid.UUID) ([]*models.GitHubRepo, error)
	ListOrgs(ctx context.Context, userID uuid.UUID) ([]*models.GitHubOrg, error)
	RepoInfo(ctx context.Context, userID uuid.UUID, fullName string) (*models.GitHubRepo, error)

	OAuthEnabled() bool
	LoginURL(state string) string
	// Exchange trades an OAuth code for a token, stores it and returns the GitHub account.
	Exchange(ctx context.Context, userID uuid.UUID, code string) (*models.GitHubUser, error)
}

// GitHubServiceConfig configures a GitHubService.
type GitHubServiceConfig struct {
	ClientID          string
	ClientSecret      string
	RedirectURL       string
	WebBaseURL        string
	APIBaseURL        string
	RequestsPerSecond float64
	Retry             *retry.Config
}

type gitHubService struct {
	profileRepo repositories.ProfileRepository
	encryptor   *crypto.CredentialEncryptor
	appTokens   AppTokenProvider
	cache       RepoCache
	oauth       *oauth2.Config
	apiBaseURL  string
	limiter     *rate.Limiter
	retryConfig *retry.Config
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewGitHubService creates a GitHub service. appTokens may be nil.
func NewGitHubService(
	cfg GitHubServiceConfig,
	profileRepo repositories.ProfileRepository,
	encryptor *crypto.CredentialEncryptor,
	appTokens AppTokenProvider,
	cache RepoCache,
	logger *zap.Logger,
) GitHubService {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	retryConfig := cfg.Retry
	if retryConfig == nil {
		retryConfig = retry.DefaultConfig()
	}
	if cache == nil {
		cache = noopRepoCache{}
	}

	return &gitHubService{
		profileRepo: profileRepo,
		encryptor:   encryptor,
		appTokens:   appTokens,
		cache:       cache,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     oauthEndpoint(cfg.WebBaseURL),
			Scopes:       []string{"repo", "read:org", "read:user"},
		},
		apiBaseURL:  cfg.APIBaseURL,
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		retryConfig: retryConfig,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger.Named("github"),
	}
}

var _ GitHubService = (*gitHubService)(nil)

func oauthEndpoint(webBaseURL string) oauth2.Endpoint {
	base := strings.TrimSuffix(webBaseURL, "/")
	if base == "" || base == "https://github.com" {
		return githuboauth.Endpoint
	}
	return oauth2.Endpoint{
		AuthURL:  base + "/login/oauth/authorize",
		TokenURL: base + "/login/oauth/access_token",
	}
}

// ============================================================================
// Tokens
// ============================================================================

func (s *gitHubService) SaveToken(ctx context.Context, userID uuid.UUID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: github_token is required", apperrors.ErrInvalidInput)
	}

	sealed, err := s.encryptor.Encrypt(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt github token: %w", err)
	}
	if err := s.profileRepo.SetGitHubToken(ctx, userID, sealed); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, userID)
	s.logger.Info("GitHub token saved", zap.String("user_id", userID.String()))
	return nil
}

func (s *gitHubService) ResolveToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token, _, err := s.tokenFor(ctx, userID)
	return token, err
}

// tokenFor returns the token to use and whether it is an App installation token.
func (s *gitHubService) tokenFor(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	sealed, err := s.profileRepo.GetGitHubToken(ctx, userID)
	switch {
	case err == nil:
		token, err := s.encryptor.Decrypt(sealed)
		if err != nil {
			if errors.Is(err, crypto.ErrDecryptionFailed) {
				return "", false, apperrors.ErrCredentialsKeyMismatch
			}
			return "", false, err
		}
		return token, false, nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return "", false, err
	}

	if s.appTokens == nil {
		return "", false, apperrors.ErrGitHubNotConnected
	}
	token, err := s.appTokens.InstallationToken(ctx)
	if err != nil {
		if errors.Is(err, githubapp.ErrNoInstallation) {
			return "", false, apperrors.ErrGitHubNotConnected
		}
		return "", false, fmt.Errorf("failed to get app installation token: %w", err)
	}
	return token, true, nil
}

func (s *gitHubService) client(ctx context.Context, token string) (*github.Client, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	tc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return githubapp.NewClient(tc, s.apiBaseURL)
}

// call rate-limits fn and retries it while it fails transiently.
func (s *gitHubService) call(ctx context.Context, fn func() (*github.Response, error)) error {
	err := retry.DoIfRetryable(ctx, s.retryConfig, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := fn()
		return err
	})
	return mapGitHubError(err)
}

func mapGitHubError(err error) error {
	if err == nil {
		return nil
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", apperrors.ErrNotFound, ghErr.Message)
		case http.StatusUnauthorized:
			return apperrors.ErrGitHubNotConnected
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", apperrors.ErrForbidden, ghErr.Message)
		}
	}
	return fmt.Errorf("github api: %s", logging.SanitizeError(err))
}

// ============================================================================
// API
// ============================================================================

func (s *gitHubService) ListRepos(ctx context.Context, userID uuid.UUID) ([]*models.GitHubRepo, error) {
	if repos, ok := s.cache.Get(ctx, userID); ok {
		return repos, nil
	}

	token, isApp, err := s.tokenFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	client, err := s.client(ctx, token)
	if err != nil {
		return nil, err
	}

	var repos []*models.GitHubRepo
	for page := 1; page != 0 && page <= githubMaxPages; {
		var (
			batch []*github.Repository
			resp  *github.Response
		)
		err := s.call(ctx, func() (*github.Response, error) {
			var err error
			if isApp {
				var list *github.ListRepositories
				list, resp, err = client.Apps.ListRepos(ctx, &github.ListOptions{Page: page, PerPage: githubPageSize})
				if list != nil {
					batch = list.Repositories
				}
				return resp, err
			}
			batch, resp, err = client.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
				Sort:        "updated",
				ListOptions: github.ListOptions{Page: page, PerPage: githubPageSize},
			})
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, r := range batch {
			repos = append(repos, toGitHubRepo(r))
		}
		page = resp.NextPage
	}

	s.cache.Set(ctx, userID, repos)
	return repos, nil
}

func (s *gitHubService) ListOrgs(ctx context.Context, userID uuid.UUID) ([]*models.GitHubOrg, error) {
	token, isApp, err := s.tokenFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Installation tokens are not tied to a user, so there are no memberships to list.
	if isApp {
		return []*models.GitHubOrg{}, nil
	}
	client, err := s.client(ctx, token)
	if err != nil {
		return nil, err
	}

	var orgs []*github.Organization
	err = s.call(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		orgs, resp, err = client.Organizations.List(ctx, "", &github.ListOptions{PerPage: githubPageSize})
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.GitHubOrg, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, &models.GitHubOrg{ID: o.GetID(), Login: o.GetLogin(), AvatarURL: o.GetAvatarURL()})
	}
	return out, nil
}

func (s *gitHubService) RepoInfo(ctx context.Context, userID uuid.UUID, fullName string) (*models.GitHubRepo, error) {
	if err := ValidateRepoName(fullName); err != nil {
		return nil, err
	}
	owner, name, _ := strings.Cut(strings.TrimSpace(fullName), "/")

	token, _, err := s.tokenFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	client, err := s.client(ctx, token)
	if err != nil {
		return nil, err
	}

	var repo *github.Repository
	err = s.call(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		repo, resp, err = client.Repositories.Get(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return toGitHubRepo(repo), nil
}

func toGitHubRepo(r *github.Repository) *models.GitHubRepo {
	return &models.GitHubRepo{
		ID:            r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
		Language:      r.GetLanguage(),
		HTMLURL:       r.GetHTMLURL(),
		UpdatedAt:     r.GetUpdatedAt().Time,
	}
}

// ============================================================================
// OAuth
// ============================================================================

func (s *gitHubService) OAuthEnabled() bool {
	return s.oauth.ClientID != "" && s.oauth.ClientSecret != ""
}

func (s *gitHubService) LoginURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

func (s *gitHubService) Exchange(ctx context.Context, userID uuid.UUID, code string) (*models.GitHubUser, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", apperrors.ErrInvalidInput)
	}

	tok, err := s.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, s.httpClient), code)
	if err != nil {
		return nil, fmt.Errorf("%w: oauth code exchange failed: %s", apperrors.ErrUnauthorized, logging.SanitizeError(err))
	}

	client, err := s.client(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	var ghUser *github.User
	err = s.call(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		ghUser, resp, err = client.Users.Get(ctx, "")
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	if err := s.SaveToken(ctx, userID, tok.AccessToken); err != nil {
		return nil, err
	}

	user := &models.GitHubUser{
		ID:        ghUser.GetID(),
		Login:     ghUser.GetLogin(),
		Name:      ghUser.GetName(),
		AvatarURL: ghUser.GetAvatarURL(),
	}
	s.fillProfile(ctx, userID, user)
	return user, nil
}

// fillProfile copies the GitHub name and avatar onto a profile that lacks them.
func (s *gitHubService) fillProfile(ctx context.Context, userID uuid.UUID, user *models.GitHubUser) {
	profile, err := s.profileRepo.GetByID(ctx, userID)
	if err != nil {
		s.logger.Warn("Could not load profile after GitHub login", zap.Error(err))
		return
	}
	if profile.Name != "" && profile.AvatarURL != "" {
		return
	}
	if profile.Name == "" {
		profile.Name = user.Name
		if profile.Name == "" {
			profile.Name = user.Login
		}
	}
	if profile.AvatarURL == "" {
		profile.AvatarURL = user.AvatarURL
	}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		s.logger.Warn("Failed to update profile from GitHub", zap.Error(err))
	}
}
