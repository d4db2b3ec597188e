package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
	"github.com/ekaya-inc/tracking-engine/pkg/services/workqueue"
)

// testUserHeader carries the subject the stub auth service puts in the claims.
const testUserHeader = "X-Test-User"

// stubAuthService authenticates any request carrying testUserHeader.
type stubAuthService struct{}

func (stubAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	sub := r.Header.Get(testUserHeader)
	if sub == "" {
		return nil, "", auth.ErrMissingAuthorization
	}
	claims := &auth.Claims{Name: "Test User"}
	claims.Subject = sub
	return claims, "test-token", nil
}

func (stubAuthService) RequireUserSubject(claims *auth.Claims) error {
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return auth.ErrInvalidSubject
	}
	return nil
}

func testAuthMiddleware() *auth.Middleware {
	return auth.NewMiddleware(stubAuthService{}, zap.NewNop())
}

// passthrough stands in for the database scope middleware.
func passthrough(next http.HandlerFunc) http.HandlerFunc { return next }

// serve routes a request through mux as userID (uuid.Nil sends no credentials).
func serve(mux *http.ServeMux, userID uuid.UUID, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != uuid.Nil {
		req.Header.Set(testUserHeader, userID.String())
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// decodeAPI decodes an ApiResponse whose data is unmarshaled into data.
func decodeAPI(t *testing.T, rec *httptest.ResponseRecorder, data any) ApiResponse {
	t.Helper()
	var raw struct {
		ApiResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.ApiResponse
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// ============================================================================
// Repos
// ============================================================================

// mockRepoService keeps repos in memory, keyed by owner.
type mockRepoService struct {
	repos  map[uuid.UUID]*models.Repo
	events map[uuid.UUID][]*models.UserEvent
	err    error
}

func newMockRepoService() *mockRepoService {
	return &mockRepoService{
		repos:  map[uuid.UUID]*models.Repo{},
		events: map[uuid.UUID][]*models.UserEvent{},
	}
}

func (m *mockRepoService) add(userID uuid.UUID, name string) *models.Repo {
	repo := &models.Repo{ID: uuid.New(), UserID: userID, Name: name}
	m.repos[repo.ID] = repo
	return repo
}

func (m *mockRepoService) Create(ctx context.Context, userID uuid.UUID, repo *models.Repo) (*models.Repo, error) {
	if m.err != nil {
		return nil, m.err
	}
	if repo.Name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrInvalidInput)
	}
	repo.ID = uuid.New()
	repo.UserID = userID
	m.repos[repo.ID] = repo
	return repo, nil
}

func (m *mockRepoService) Get(ctx context.Context, userID, id uuid.UUID) (*models.Repo, error) {
	if m.err != nil {
		return nil, m.err
	}
	repo, ok := m.repos[id]
	if !ok || repo.UserID != userID {
		return nil, fmt.Errorf("repo %s: %w", id, apperrors.ErrNotFound)
	}
	return repo, nil
}

func (m *mockRepoService) List(ctx context.Context, userID uuid.UUID) ([]*models.Repo, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []*models.Repo{}
	for _, r := range m.repos {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepoService) Update(ctx context.Context, userID, id uuid.UUID, update services.RepoUpdate) (*models.Repo, error) {
	repo, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if update.Label != nil {
		repo.Label = *update.Label
	}
	return repo, nil
}

func (m *mockRepoService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return err
	}
	delete(m.repos, id)
	return nil
}

func (m *mockRepoService) ListEvents(ctx context.Context, userID, id uuid.UUID) ([]*models.UserEvent, error) {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	events := m.events[id]
	if events == nil {
		events = []*models.UserEvent{}
	}
	return events, nil
}

func (m *mockRepoService) ListPlans(ctx context.Context, userID, id uuid.UUID) ([]*models.Plan, error) {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return []*models.Plan{}, nil
}

// ============================================================================
// Events and annotations
// ============================================================================

// mockEventService records import calls and returns canned results.
type mockEventService struct {
	event     *models.UserEvent
	err       error
	csv       string
	imported  []string
	target    services.EventTarget
	importErr error
	callsRepo uuid.UUID
}

func (m *mockEventService) Create(ctx context.Context, userID uuid.UUID, event *models.UserEvent) (*models.UserEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	event.ID = uuid.New()
	return event, nil
}

func (m *mockEventService) Get(ctx context.Context, userID, id uuid.UUID) (*models.UserEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.event == nil || m.event.ID != id {
		return nil, apperrors.ErrNotFound
	}
	return m.event, nil
}

func (m *mockEventService) Update(ctx context.Context, userID, id uuid.UUID, update services.EventUpdate) (*models.UserEvent, error) {
	event, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if update.EventName != nil {
		event.EventName = *update.EventName
	}
	return event, nil
}

func (m *mockEventService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	_, err := m.Get(ctx, userID, id)
	return err
}

func (m *mockEventService) ExportCSV(ctx context.Context, userID uuid.UUID, target services.EventTarget, w io.Writer) error {
	if m.err != nil {
		return m.err
	}
	m.target = target
	_, err := io.WriteString(w, m.csv)
	return err
}

func (m *mockEventService) ExportCallsCSV(ctx context.Context, userID, repoID uuid.UUID, w io.Writer) error {
	if m.err != nil {
		return m.err
	}
	m.callsRepo = repoID
	_, err := io.WriteString(w, m.csv)
	return err
}

func (m *mockEventService) ImportCSV(ctx context.Context, userID uuid.UUID, target services.EventTarget, r io.Reader) (*services.ImportResult, error) {
	return m.recordImport("csv", target, r)
}

func (m *mockEventService) ImportYAML(ctx context.Context, userID uuid.UUID, target services.EventTarget, r io.Reader) (*services.ImportResult, error) {
	return m.recordImport("yaml", target, r)
}

func (m *mockEventService) recordImport(format string, target services.EventTarget, r io.Reader) (*services.ImportResult, error) {
	if m.importErr != nil {
		return nil, m.importErr
	}
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	m.imported = append(m.imported, format)
	m.target = target
	return &services.ImportResult{Imported: 1, Events: []*models.UserEvent{{EventName: "Signed Up"}}}, nil
}

type mockAnnotationService struct {
	annotations []*models.EventAnnotation
	err         error
	deleted     []uuid.UUID
}

func (m *mockAnnotationService) Create(ctx context.Context, userID, eventID uuid.UUID, text string) (*models.EventAnnotation, error) {
	if m.err != nil {
		return nil, m.err
	}
	a := &models.EventAnnotation{ID: uuid.New(), UserEventID: eventID, UserID: userID, Annotation: text}
	m.annotations = append(m.annotations, a)
	return a, nil
}

func (m *mockAnnotationService) List(ctx context.Context, userID, eventID uuid.UUID) ([]*models.EventAnnotation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.annotations, nil
}

func (m *mockAnnotationService) Delete(ctx context.Context, userID, eventID, annotationID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, annotationID)
	return nil
}

// ============================================================================
// Plans
// ============================================================================

type mockPlanService struct {
	plans  map[uuid.UUID]*models.Plan
	linked map[uuid.UUID][]uuid.UUID
	err    error
}

func newMockPlanService() *mockPlanService {
	return &mockPlanService{plans: map[uuid.UUID]*models.Plan{}, linked: map[uuid.UUID][]uuid.UUID{}}
}

func (m *mockPlanService) Create(ctx context.Context, userID uuid.UUID, plan *models.Plan) (*models.Plan, error) {
	if m.err != nil {
		return nil, m.err
	}
	plan.ID = uuid.New()
	plan.UserID = userID
	if plan.Status == "" {
		plan.Status = models.PlanStatusDraft
	}
	plan.Version = 1
	m.plans[plan.ID] = plan
	return plan, nil
}

func (m *mockPlanService) Get(ctx context.Context, userID, id uuid.UUID) (*models.Plan, error) {
	plan, ok := m.plans[id]
	if !ok || plan.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return plan, nil
}

func (m *mockPlanService) List(ctx context.Context, userID uuid.UUID) ([]*models.Plan, error) {
	out := []*models.Plan{}
	for _, p := range m.plans {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPlanService) Update(ctx context.Context, userID, id uuid.UUID, update services.PlanUpdate) (*models.Plan, error) {
	plan, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if update.Status != nil {
		if !update.Status.IsValid() {
			return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidInput, *update.Status)
		}
		plan.Status = *update.Status
	}
	plan.Version++
	return plan, nil
}

func (m *mockPlanService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return err
	}
	delete(m.plans, id)
	return nil
}

func (m *mockPlanService) AddRepos(ctx context.Context, userID, id uuid.UUID, repoIDs []uuid.UUID) ([]*models.Repo, error) {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if len(repoIDs) == 0 {
		return nil, fmt.Errorf("%w: repo_ids is required", apperrors.ErrInvalidInput)
	}
	m.linked[id] = append(m.linked[id], repoIDs...)
	return m.ListRepos(ctx, userID, id)
}

func (m *mockPlanService) ListRepos(ctx context.Context, userID, id uuid.UUID) ([]*models.Repo, error) {
	out := []*models.Repo{}
	for _, repoID := range m.linked[id] {
		out = append(out, &models.Repo{ID: repoID, UserID: userID})
	}
	return out, nil
}

func (m *mockPlanService) ListEvents(ctx context.Context, userID, id uuid.UUID) ([]*models.UserEvent, error) {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return []*models.UserEvent{}, nil
}

// ============================================================================
// Scans
// ============================================================================

type mockScanService struct {
	jobs      map[uuid.UUID]*models.ScanJob
	startErr  error
	cancelled []uuid.UUID
}

func newMockScanService() *mockScanService {
	return &mockScanService{jobs: map[uuid.UUID]*models.ScanJob{}}
}

func (m *mockScanService) StartScan(ctx context.Context, userID, repoID uuid.UUID, branch string) (*models.ScanJob, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	if err := services.ValidateBranchName(branch); err != nil {
		return nil, err
	}
	job := &models.ScanJob{ID: uuid.New(), RepoID: repoID, Status: models.ScanStatusPending, Branch: branch, CreatedAt: time.Now()}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *mockScanService) RunScan(ctx context.Context, userID, repoID uuid.UUID, branch string) (*services.ScanResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockScanService) GetLatestJob(ctx context.Context, repoID uuid.UUID) (*models.ScanJob, error) {
	var latest *models.ScanJob
	for _, job := range m.jobs {
		if job.RepoID == repoID && (latest == nil || job.CreatedAt.After(latest.CreatedAt)) {
			latest = job
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	return latest, nil
}

func (m *mockScanService) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return job, nil
}

func (m *mockScanService) ListJobs(ctx context.Context, repoID uuid.UUID) ([]*models.ScanJob, error) {
	out := []*models.ScanJob{}
	for _, job := range m.jobs {
		if job.RepoID == repoID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *mockScanService) Cancel(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Status = models.ScanStatusCancelled
	m.cancelled = append(m.cancelled, jobID)
	return job, nil
}

func (m *mockScanService) FailStale(ctx context.Context) (int64, error) { return 0, nil }

func (m *mockScanService) Shutdown(ctx context.Context) error { return nil }

// ============================================================================
// GitHub, profiles, agent
// ============================================================================

type mockGitHubService struct {
	oauth       bool
	info        *models.GitHubRepo
	infoErr     error
	exchangeErr error
	savedToken  string
	exchanged   []string
}

func (m *mockGitHubService) SaveToken(ctx context.Context, userID uuid.UUID, token string) error {
	if token == "" {
		return fmt.Errorf("%w: github_token is required", apperrors.ErrInvalidInput)
	}
	m.savedToken = token
	return nil
}

func (m *mockGitHubService) ResolveToken(ctx context.Context, userID uuid.UUID) (string, error) {
	return m.savedToken, nil
}

func (m *mockGitHubService) ListRepos(ctx context.Context, userID uuid.UUID) ([]*models.GitHubRepo, error) {
	if m.savedToken == "" {
		return nil, apperrors.ErrGitHubNotConnected
	}
	return []*models.GitHubRepo{m.info}, nil
}

func (m *mockGitHubService) ListOrgs(ctx context.Context, userID uuid.UUID) ([]*models.GitHubOrg, error) {
	return []*models.GitHubOrg{}, nil
}

func (m *mockGitHubService) RepoInfo(ctx context.Context, userID uuid.UUID, fullName string) (*models.GitHubRepo, error) {
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	return m.info, nil
}

func (m *mockGitHubService) OAuthEnabled() bool { return m.oauth }

func (m *mockGitHubService) LoginURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (m *mockGitHubService) Exchange(ctx context.Context, userID uuid.UUID, code string) (*models.GitHubUser, error) {
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	m.exchanged = append(m.exchanged, code)
	return &models.GitHubUser{ID: 1, Login: "octocat"}, nil
}

// fakeScopes hands out no-op scopes and records who asked.
type fakeScopes struct {
	opened []uuid.UUID
}

func (f *fakeScopes) WithUserScope(ctx context.Context, userID uuid.UUID) (context.Context, func(), error) {
	f.opened = append(f.opened, userID)
	return ctx, func() {}, nil
}

type mockProfileService struct {
	calls int
	err   error
}

func (m *mockProfileService) GetOrCreate(ctx context.Context, userID uuid.UUID, name, avatarURL string) (*models.Profile, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &models.Profile{ID: userID, Name: name, AvatarURL: avatarURL}, nil
}

func (m *mockProfileService) Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	return &models.Profile{ID: userID}, nil
}

type mockAgentService struct {
	response *models.AgentResponse
	task     *services.AgentTaskResponse
	session  *models.AgentSession
	err      error
	tasks    []workqueue.TaskSnapshot
}

func (m *mockAgentService) Run(ctx context.Context, userID uuid.UUID, req models.AgentRequest) (*models.AgentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockAgentService) CreateTask(ctx context.Context, userID uuid.UUID, req models.AgentRequest) (*services.AgentTaskResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.task, nil
}

func (m *mockAgentService) GetSession(ctx context.Context, userID uuid.UUID, id string) (*models.AgentSession, error) {
	if m.session == nil || m.session.ID != id {
		return nil, apperrors.ErrNotFound
	}
	return m.session, nil
}

func (m *mockAgentService) ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.AgentSession, error) {
	if m.session == nil {
		return []*models.AgentSession{}, nil
	}
	return []*models.AgentSession{m.session}, nil
}

func (m *mockAgentService) ListTasks(userID uuid.UUID) []workqueue.TaskSnapshot {
	return m.tasks
}
