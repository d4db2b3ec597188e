package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/logging"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// SaveGitHubTokenRequest for POST /api/github/token
type SaveGitHubTokenRequest struct {
	GitHubToken string `json:"github_token"`
}

// CloneRepoRequest for POST /api/github/clone-repo
type CloneRepoRequest struct {
	RepoName string `json:"repo_name"`
	Branch   string `json:"branch,omitempty"`
}

// CloneRepoResponse is returned once the scan of the cloned repo is queued.
type CloneRepoResponse struct {
	Repo *models.Repo    `json:"repo"`
	Job  *models.ScanJob `json:"job"`
}

// ============================================================================
// Handler
// ============================================================================

// GitHubHandler connects GitHub accounts and lists what the user can scan.
type GitHubHandler struct {
	githubService services.GitHubService
	repoService   services.RepoService
	scanService   services.ScanService
	scopes        services.ScopeProvider
	sessions      *auth.SessionStore
	frontendURL   string
	logger        *zap.Logger
}

// NewGitHubHandler creates a new GitHub handler.
// scopes opens the database scope for the OAuth callback, which carries no JWT.
func NewGitHubHandler(
	githubService services.GitHubService,
	repoService services.RepoService,
	scanService services.ScanService,
	scopes services.ScopeProvider,
	sessions *auth.SessionStore,
	frontendURL string,
	logger *zap.Logger,
) *GitHubHandler {
	return &GitHubHandler{
		githubService: githubService,
		repoService:   repoService,
		scanService:   scanService,
		scopes:        scopes,
		sessions:      sessions,
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		logger:        logger,
	}
}

// RegisterRoutes registers the GitHub handler's routes on the given mux.
func (h *GitHubHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, userMiddleware UserMiddleware) {
	mux.HandleFunc("POST /api/github/token", authMiddleware.RequireAuth(userMiddleware(h.SaveToken)))
	mux.HandleFunc("GET /api/github/repos", authMiddleware.RequireAuth(userMiddleware(h.ListRepos)))
	mux.HandleFunc("GET /api/github/orgs", authMiddleware.RequireAuth(userMiddleware(h.ListOrgs)))
	mux.HandleFunc("GET /api/github/info", authMiddleware.RequireAuth(userMiddleware(h.RepoInfo)))
	mux.HandleFunc("POST /api/github/clone-repo", authMiddleware.RequireAuth(userMiddleware(h.CloneRepo)))

	// The login redirect needs the caller's identity; the callback arrives from GitHub without it.
	mux.HandleFunc("GET /auth/github/login", authMiddleware.RequireAuth(userMiddleware(h.Login)))
	mux.HandleFunc("GET /auth/github/callback", h.Callback)
}

// SaveToken handles POST /api/github/token
func (h *GitHubHandler) SaveToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req SaveGitHubTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}

	if err := h.githubService.SaveToken(r.Context(), userID, req.GitHubToken); err != nil {
		writeServiceError(w, h.logger, err, "save_github_token_failed")
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "GitHub token saved"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListRepos handles GET /api/github/repos
func (h *GitHubHandler) ListRepos(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	repos, err := h.githubService.ListRepos(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_github_repos_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, repos)
}

// ListOrgs handles GET /api/github/orgs
func (h *GitHubHandler) ListOrgs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	orgs, err := h.githubService.ListOrgs(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_github_orgs_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, orgs)
}

// RepoInfo handles GET /api/github/info?repo=owner/repo
func (h *GitHubHandler) RepoInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("repo"))
	if err := services.ValidateRepoName(name); err != nil {
		writeServiceError(w, h.logger, err, "github_repo_info_failed")
		return
	}

	info, err := h.githubService.RepoInfo(r.Context(), userID, name)
	if err != nil {
		writeServiceError(w, h.logger, err, "github_repo_info_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, info)
}

// CloneRepo handles POST /api/github/clone-repo
// Registers the repo on first use and queues a scan of it.
func (h *GitHubHandler) CloneRepo(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req CloneRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.RepoName)
	if err := services.ValidateRepoName(name); err != nil {
		writeServiceError(w, h.logger, err, "clone_repo_failed")
		return
	}

	repo, err := h.findOrCreateRepo(r, userID, name)
	if err != nil {
		writeServiceError(w, h.logger, err, "clone_repo_failed")
		return
	}

	job, err := h.scanService.StartScan(r.Context(), userID, repo.ID, req.Branch)
	if err != nil {
		writeServiceError(w, h.logger, err, "clone_repo_failed")
		return
	}
	writeOK(w, h.logger, http.StatusAccepted, CloneRepoResponse{Repo: repo, Job: job})
}

func (h *GitHubHandler) findOrCreateRepo(r *http.Request, userID uuid.UUID, name string) (*models.Repo, error) {
	repos, err := h.repoService.List(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	for _, repo := range repos {
		if repo.Name == name {
			return repo, nil
		}
	}

	repo := &models.Repo{Name: name}
	if info, err := h.githubService.RepoInfo(r.Context(), userID, name); err == nil {
		repo.URL = info.HTMLURL
		repo.Description = info.Description
	} else if !errors.Is(err, apperrors.ErrGitHubNotConnected) {
		return nil, err
	}
	return h.repoService.Create(r.Context(), userID, repo)
}

// ============================================================================
// OAuth
// ============================================================================

// Login handles GET /auth/github/login
// Stores a random state and the caller's ID in the session cookie, then redirects to GitHub.
func (h *GitHubHandler) Login(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}
	if !h.githubService.OAuthEnabled() {
		if err := ErrorResponse(w, http.StatusNotFound, "github_oauth_disabled", "GitHub OAuth is not configured"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	state, err := newOAuthState()
	if err != nil {
		h.logger.Error("Failed to generate OAuth state", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to start GitHub login"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	session, _ := h.sessions.Get(r)
	session.Values[auth.SessionKeyState] = state
	session.Values[auth.SessionKeyUserID] = userID.String()
	session.Values[auth.SessionKeyOriginalURL] = safeReturnPath(r.URL.Query().Get("redirect"))
	if err := h.sessions.Save(r, w, session); err != nil {
		h.logger.Error("Failed to save OAuth session", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to start GitHub login"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	http.Redirect(w, r, h.githubService.LoginURL(state), http.StatusFound)
}

// Callback handles GET /auth/github/callback
// Verifies state, stores the token for the user who started the login and returns to the frontend.
func (h *GitHubHandler) Callback(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r)
	expected, _ := session.Values[auth.SessionKeyState].(string)
	userIDStr, _ := session.Values[auth.SessionKeyUserID].(string)
	returnPath, _ := session.Values[auth.SessionKeyOriginalURL].(string)

	auth.ClearSessionValues(session)
	if err := h.sessions.Save(r, w, session); err != nil {
		h.logger.Warn("Failed to clear OAuth session", zap.Error(err))
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		h.logger.Info("GitHub authorization declined", zap.String("error", errParam))
		h.redirectToFrontend(w, r, returnPath, "denied")
		return
	}

	state := query.Get("state")
	if expected == "" || state != expected {
		h.logger.Warn("OAuth state mismatch")
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_state", "OAuth state does not match"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_state", "OAuth session has no user"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ctx, cleanup, err := h.scopes.WithUserScope(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to acquire user connection", zap.String("user_id", userIDStr), zap.Error(err))
		h.redirectToFrontend(w, r, returnPath, "error")
		return
	}
	defer cleanup()

	account, err := h.githubService.Exchange(ctx, userID, query.Get("code"))
	if err != nil {
		h.logger.Error("GitHub OAuth exchange failed",
			zap.String("user_id", userIDStr),
			zap.String("error", logging.SanitizeError(err)))
		h.redirectToFrontend(w, r, returnPath, "error")
		return
	}

	h.logger.Info("GitHub account connected",
		zap.String("user_id", userIDStr),
		zap.String("login", account.Login))
	h.redirectToFrontend(w, r, returnPath, "connected")
}

func (h *GitHubHandler) redirectToFrontend(w http.ResponseWriter, r *http.Request, path, outcome string) {
	target, err := url.Parse(h.frontendURL + safeReturnPath(path))
	if err != nil {
		target = &url.URL{Path: "/"}
	}
	q := target.Query()
	q.Set("github", outcome)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// safeReturnPath accepts only local absolute paths so the callback cannot redirect off-site.
func safeReturnPath(path string) string {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.Contains(path, `\`) {
		return "/"
	}
	return path
}

func newOAuthState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
