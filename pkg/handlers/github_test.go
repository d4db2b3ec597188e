package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

const testFrontendURL = "http://localhost:5173"

type githubFixture struct {
	mux    *http.ServeMux
	github *mockGitHubService
	repos  *mockRepoService
	scans  *mockScanService
	scopes *fakeScopes
	userID uuid.UUID
}

func newGitHubFixture() *githubFixture {
	fx := &githubFixture{
		github: &mockGitHubService{oauth: true},
		repos:  newMockRepoService(),
		scans:  newMockScanService(),
		scopes: &fakeScopes{},
		userID: uuid.New(),
	}
	fx.mux = http.NewServeMux()
	NewGitHubHandler(fx.github, fx.repos, fx.scans, fx.scopes,
		auth.NewSessionStore("test-secret", auth.CookieSettings{}), testFrontendURL+"/", zap.NewNop(),
	).RegisterRoutes(fx.mux, testAuthMiddleware(), passthrough)
	return fx
}

// login starts the OAuth flow and returns the issued state and session cookies.
func (fx *githubFixture) login(t *testing.T, redirect string) (string, []*http.Cookie) {
	t.Helper()
	rec := serve(fx.mux, fx.userID, http.MethodGet, "/auth/github/login?redirect="+url.QueryEscape(redirect), nil)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)
	return state, rec.Result().Cookies()
}

func (fx *githubFixture) callback(query string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?"+query, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)
	return rec
}

func TestGitHubHandler_SaveTokenAndListRepos(t *testing.T) {
	fx := newGitHubFixture()
	fx.github.info = &models.GitHubRepo{FullName: "acme/web"}

	rec := serve(fx.mux, fx.userID, http.MethodGet, "/api/github/repos", nil)
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "github_not_connected", decodeError(t, rec)["error"])

	rec = serve(fx.mux, fx.userID, http.MethodPost, "/api/github/token", strings.NewReader(`{"github_token":""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(fx.mux, fx.userID, http.MethodPost, "/api/github/token", strings.NewReader(`{"github_token":"ghp_abc"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ghp_abc", fx.github.savedToken)

	rec = serve(fx.mux, fx.userID, http.MethodGet, "/api/github/repos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var repos []models.GitHubRepo
	decodeAPI(t, rec, &repos)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme/web", repos[0].FullName)
}

func TestGitHubHandler_CloneRepoCreatesAndScans(t *testing.T) {
	fx := newGitHubFixture()
	fx.github.info = &models.GitHubRepo{FullName: "acme/web", HTMLURL: "https://github.com/acme/web", Description: "Storefront"}

	rec := serve(fx.mux, fx.userID, http.MethodPost, "/api/github/clone-repo", strings.NewReader(`{"repo_name":" acme/web "}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp CloneRepoResponse
	decodeAPI(t, rec, &resp)
	require.NotNil(t, resp.Repo)
	require.NotNil(t, resp.Job)
	assert.Equal(t, "acme/web", resp.Repo.Name)
	assert.Equal(t, "https://github.com/acme/web", resp.Repo.URL)
	assert.Equal(t, resp.Repo.ID, resp.Job.RepoID)

	// A second clone reuses the registered repo.
	rec = serve(fx.mux, fx.userID, http.MethodPost, "/api/github/clone-repo", strings.NewReader(`{"repo_name":"acme/web"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var again CloneRepoResponse
	decodeAPI(t, rec, &again)
	assert.Equal(t, resp.Repo.ID, again.Repo.ID)
	assert.Len(t, fx.repos.repos, 1)
}

func TestGitHubHandler_CloneRepoBranch(t *testing.T) {
	fx := newGitHubFixture()
	fx.github.infoErr = apperrors.ErrGitHubNotConnected

	rec := serve(fx.mux, fx.userID, http.MethodPost, "/api/github/clone-repo", strings.NewReader(`{"repo_name":"acme/web","branch":"develop"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp CloneRepoResponse
	decodeAPI(t, rec, &resp)
	assert.Equal(t, "develop", resp.Job.Branch)
}

func TestGitHubHandler_CloneRepoWithoutGitHubToken(t *testing.T) {
	fx := newGitHubFixture()
	fx.github.infoErr = apperrors.ErrGitHubNotConnected

	rec := serve(fx.mux, fx.userID, http.MethodPost, "/api/github/clone-repo", strings.NewReader(`{"repo_name":"acme/public"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp CloneRepoResponse
	decodeAPI(t, rec, &resp)
	assert.Empty(t, resp.Repo.URL)
}

func TestGitHubHandler_CloneRepoRejectsBadName(t *testing.T) {
	for _, name := range []string{"", "acme", "acme/", "/web", "a/b/c"} {
		fx := newGitHubFixture()
		rec := serve(fx.mux, fx.userID, http.MethodPost, "/api/github/clone-repo", strings.NewReader(`{"repo_name":"`+name+`"}`))
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, "Repository name must be in the format of 'owner/repo'", decodeError(t, rec)["message"])
		assert.Empty(t, fx.scans.jobs)
	}
}

func TestGitHubHandler_LoginDisabled(t *testing.T) {
	fx := newGitHubFixture()
	fx.github.oauth = false

	rec := serve(fx.mux, fx.userID, http.MethodGet, "/auth/github/login", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "github_oauth_disabled", decodeError(t, rec)["error"])
}

func TestGitHubHandler_OAuthRoundTrip(t *testing.T) {
	fx := newGitHubFixture()
	state, cookies := fx.login(t, "/repos/new")

	rec := fx.callback("code=abc&state="+state, cookies)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testFrontendURL+"/repos/new?github=connected", rec.Header().Get("Location"))
	assert.Equal(t, []string{"abc"}, fx.github.exchanged)
	assert.Equal(t, []uuid.UUID{fx.userID}, fx.scopes.opened)
}

func TestGitHubHandler_CallbackOutcomes(t *testing.T) {
	t.Run("state mismatch", func(t *testing.T) {
		fx := newGitHubFixture()
		_, cookies := fx.login(t, "/")

		rec := fx.callback("code=abc&state=forged", cookies)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_state", decodeError(t, rec)["error"])
		assert.Empty(t, fx.github.exchanged)
	})

	t.Run("no session", func(t *testing.T) {
		fx := newGitHubFixture()
		rec := fx.callback("code=abc&state=anything", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("denied", func(t *testing.T) {
		fx := newGitHubFixture()
		_, cookies := fx.login(t, "/settings")

		rec := fx.callback("error=access_denied", cookies)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, testFrontendURL+"/settings?github=denied", rec.Header().Get("Location"))
	})

	t.Run("exchange fails", func(t *testing.T) {
		fx := newGitHubFixture()
		fx.github.exchangeErr = errors.New("bad_verification_code")
		state, cookies := fx.login(t, "https://evil.example.com")

		rec := fx.callback("code=abc&state="+state, cookies)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, testFrontendURL+"/?github=error", rec.Header().Get("Location"))
	})
}

func TestSafeReturnPath(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/repos":               "/repos",
		"/repos?tab=events":    "/repos?tab=events",
		"//evil.example.com":   "/",
		"https://evil.example": "/",
		`/\evil.example.com`:   "/",
		"relative/path":        "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeReturnPath(in), in)
	}
}
