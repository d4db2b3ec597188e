package tools

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
)

func testLogger() *zap.Logger { return zap.NewNop() }

func userContext(userID uuid.UUID) context.Context {
	claims := &auth.Claims{}
	claims.Subject = userID.String()
	return auth.WithClaims(context.Background(), claims, "token")
}

// fakeScopes records the scopes it hands out.
type fakeScopes struct {
	opened []uuid.UUID
	closed int
	err    error
}

func (f *fakeScopes) WithUserScope(ctx context.Context, userID uuid.UUID) (context.Context, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.opened = append(f.opened, userID)
	return ctx, func() { f.closed++ }, nil
}

// mockRepoService serves a fixed set of repos owned by owner.
type mockRepoService struct {
	owner  uuid.UUID
	repos  []*models.Repo
	events map[uuid.UUID][]*models.UserEvent
}

func (m *mockRepoService) find(userID, id uuid.UUID) (*models.Repo, error) {
	if userID != m.owner {
		return nil, apperrors.ErrNotFound
	}
	for _, r := range m.repos {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockRepoService) Create(ctx context.Context, userID uuid.UUID, repo *models.Repo) (*models.Repo, error) {
	return nil, nil
}

func (m *mockRepoService) Get(ctx context.Context, userID, id uuid.UUID) (*models.Repo, error) {
	return m.find(userID, id)
}

func (m *mockRepoService) List(ctx context.Context, userID uuid.UUID) ([]*models.Repo, error) {
	if userID != m.owner {
		return []*models.Repo{}, nil
	}
	return m.repos, nil
}

func (m *mockRepoService) Update(ctx context.Context, userID, id uuid.UUID, update services.RepoUpdate) (*models.Repo, error) {
	return nil, nil
}

func (m *mockRepoService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return nil
}

func (m *mockRepoService) ListEvents(ctx context.Context, userID, id uuid.UUID) ([]*models.UserEvent, error) {
	if _, err := m.find(userID, id); err != nil {
		return nil, err
	}
	events := m.events[id]
	if events == nil {
		events = []*models.UserEvent{}
	}
	return events, nil
}

func (m *mockRepoService) ListPlans(ctx context.Context, userID, id uuid.UUID) ([]*models.Plan, error) {
	return nil, nil
}

// mockPlanService serves a single plan.
type mockPlanService struct {
	plan   *models.Plan
	events []*models.UserEvent
}

func (m *mockPlanService) Create(ctx context.Context, userID uuid.UUID, plan *models.Plan) (*models.Plan, error) {
	return nil, nil
}

func (m *mockPlanService) Get(ctx context.Context, userID, id uuid.UUID) (*models.Plan, error) {
	if m.plan == nil || m.plan.ID != id || m.plan.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return m.plan, nil
}

func (m *mockPlanService) List(ctx context.Context, userID uuid.UUID) ([]*models.Plan, error) {
	return nil, nil
}

func (m *mockPlanService) Update(ctx context.Context, userID, id uuid.UUID, update services.PlanUpdate) (*models.Plan, error) {
	return nil, nil
}

func (m *mockPlanService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return nil
}

func (m *mockPlanService) AddRepos(ctx context.Context, userID, id uuid.UUID, repoIDs []uuid.UUID) ([]*models.Repo, error) {
	return nil, nil
}

func (m *mockPlanService) ListRepos(ctx context.Context, userID, id uuid.UUID) ([]*models.Repo, error) {
	return nil, nil
}

func (m *mockPlanService) ListEvents(ctx context.Context, userID, id uuid.UUID) ([]*models.UserEvent, error) {
	return m.events, nil
}

// mockScanService returns job for StartScan and GetJob, or err when set.
type mockScanService struct {
	job      *models.ScanJob
	startErr error
	started  []uuid.UUID
	branches []string
}

func (m *mockScanService) StartScan(ctx context.Context, userID, repoID uuid.UUID, branch string) (*models.ScanJob, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.started = append(m.started, repoID)
	m.branches = append(m.branches, branch)
	return m.job, nil
}

func (m *mockScanService) RunScan(ctx context.Context, userID, repoID uuid.UUID, branch string) (*services.ScanResult, error) {
	return nil, nil
}

func (m *mockScanService) GetLatestJob(ctx context.Context, repoID uuid.UUID) (*models.ScanJob, error) {
	return m.job, nil
}

func (m *mockScanService) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	if m.job == nil || m.job.ID != jobID {
		return nil, apperrors.ErrNotFound
	}
	return m.job, nil
}

func (m *mockScanService) ListJobs(ctx context.Context, repoID uuid.UUID) ([]*models.ScanJob, error) {
	return nil, nil
}

func (m *mockScanService) Cancel(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	return nil, nil
}

func (m *mockScanService) FailStale(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *mockScanService) Shutdown(ctx context.Context) error {
	return nil
}
