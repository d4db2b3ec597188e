package services

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
)

// memStore is an in-memory stand-in for the repositories, shared so that cascades
// between entities behave like the database.
type memStore struct {
	mu          sync.Mutex
	profiles    map[uuid.UUID]*models.Profile
	tokens      map[uuid.UUID]string
	repos       map[uuid.UUID]*models.Repo
	plans       map[uuid.UUID]*models.Plan
	planRepos   map[uuid.UUID][]uuid.UUID
	events      map[uuid.UUID]*models.UserEvent
	annotations map[uuid.UUID]*models.EventAnnotation
	jobs        map[uuid.UUID]*models.ScanJob
	sessions    map[string]*models.AgentSession
}

func newMemStore() *memStore {
	return &memStore{
		profiles:    map[uuid.UUID]*models.Profile{},
		tokens:      map[uuid.UUID]string{},
		repos:       map[uuid.UUID]*models.Repo{},
		plans:       map[uuid.UUID]*models.Plan{},
		planRepos:   map[uuid.UUID][]uuid.UUID{},
		events:      map[uuid.UUID]*models.UserEvent{},
		annotations: map[uuid.UUID]*models.EventAnnotation{},
		jobs:        map[uuid.UUID]*models.ScanJob{},
		sessions:    map[string]*models.AgentSession{},
	}
}

// fakeScopes satisfies ScopeProvider without a database.
type fakeScopes struct {
	mu     sync.Mutex
	opened int
}

func (f *fakeScopes) WithUserScope(ctx context.Context, userID uuid.UUID) (context.Context, func(), error) {
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	return ctx, func() {}, nil
}

// ============================================================================
// Profiles
// ============================================================================

type memProfileRepo struct{ s *memStore }

var _ repositories.ProfileRepository = memProfileRepo{}

func (r memProfileRepo) Upsert(ctx context.Context, p *models.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.profiles[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
		if p.Name == "" {
			p.Name = existing.Name
		}
		if p.AvatarURL == "" {
			p.AvatarURL = existing.AvatarURL
		}
	} else {
		p.CreatedAt = time.Now()
	}
	_, p.HasGitHubToken = r.s.tokens[p.ID]
	cp := *p
	r.s.profiles[p.ID] = &cp
	return nil
}

func (r memProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	_, cp.HasGitHubToken = r.s.tokens[id]
	return &cp, nil
}

func (r memProfileRepo) SetGitHubToken(ctx context.Context, id uuid.UUID, encrypted string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if encrypted == "" {
		delete(r.s.tokens, id)
		return nil
	}
	r.s.tokens[id] = encrypted
	return nil
}

func (r memProfileRepo) GetGitHubToken(ctx context.Context, id uuid.UUID) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[id]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return t, nil
}

// ============================================================================
// Repos
// ============================================================================

type memRepoRepo struct{ s *memStore }

var _ repositories.RepoRepository = memRepoRepo{}

func (r memRepoRepo) Create(ctx context.Context, repo *models.Repo) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.repos {
		if existing.UserID == repo.UserID && existing.Name == repo.Name {
			return apperrors.ErrConflict
		}
	}
	if repo.ID == uuid.Nil {
		repo.ID = uuid.New()
	}
	repo.CreatedAt, repo.UpdatedAt = time.Now(), time.Now()
	cp := *repo
	r.s.repos[repo.ID] = &cp
	return nil
}

func (r memRepoRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Repo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	repo, ok := r.s.repos[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *repo
	return &cp, nil
}

func (r memRepoRepo) GetByName(ctx context.Context, userID uuid.UUID, name string) (*models.Repo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, repo := range r.s.repos {
		if repo.UserID == userID && repo.Name == name {
			cp := *repo
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r memRepoRepo) List(ctx context.Context, userID uuid.UUID) ([]*models.Repo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Repo
	for _, repo := range r.s.repos {
		if repo.UserID == userID {
			cp := *repo
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memRepoRepo) Update(ctx context.Context, repo *models.Repo) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.repos[repo.ID]; !ok {
		return apperrors.ErrNotFound
	}
	repo.UpdatedAt = time.Now()
	cp := *repo
	r.s.repos[repo.ID] = &cp
	return nil
}

func (r memRepoRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.repos[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.repos, id)
	for eid, e := range r.s.events {
		if e.RepoID == id {
			delete(r.s.events, eid)
		}
	}
	for jid, j := range r.s.jobs {
		if j.RepoID == id {
			delete(r.s.jobs, jid)
		}
	}
	for pid, ids := range r.s.planRepos {
		kept := ids[:0]
		for _, rid := range ids {
			if rid != id {
				kept = append(kept, rid)
			}
		}
		r.s.planRepos[pid] = kept
	}
	return nil
}

// ============================================================================
// Plans
// ============================================================================

type memPlanRepo struct{ s *memStore }

var _ repositories.PlanRepository = memPlanRepo{}

func (r memPlanRepo) Create(ctx context.Context, plan *models.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	plan.CreatedAt, plan.UpdatedAt = time.Now(), time.Now()
	cp := *plan
	r.s.plans[plan.ID] = &cp
	return nil
}

func (r memPlanRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r memPlanRepo) List(ctx context.Context, userID uuid.UUID) ([]*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Plan
	for _, p := range r.s.plans {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memPlanRepo) Update(ctx context.Context, plan *models.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.plans[plan.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	plan.Version = existing.Version + 1
	plan.UpdatedAt = time.Now()
	cp := *plan
	r.s.plans[plan.ID] = &cp
	return nil
}

func (r memPlanRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.plans[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.plans, id)
	delete(r.s.planRepos, id)
	for _, e := range r.s.events {
		if e.PlanID != nil && *e.PlanID == id {
			e.PlanID = nil
		}
	}
	return nil
}

func (r memPlanRepo) AddRepos(ctx context.Context, planID uuid.UUID, repoIDs []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.plans[planID]; !ok {
		return apperrors.ErrNotFound
	}
	for _, id := range repoIDs {
		if _, ok := r.s.repos[id]; !ok {
			return apperrors.ErrNotFound
		}
	}
	existing := map[uuid.UUID]bool{}
	for _, id := range r.s.planRepos[planID] {
		existing[id] = true
	}
	for _, id := range repoIDs {
		if !existing[id] {
			r.s.planRepos[planID] = append(r.s.planRepos[planID], id)
			existing[id] = true
		}
	}
	return nil
}

func (r memPlanRepo) ListRepos(ctx context.Context, planID uuid.UUID) ([]*models.Repo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Repo
	for _, id := range r.s.planRepos[planID] {
		if repo, ok := r.s.repos[id]; ok {
			cp := *repo
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memPlanRepo) ListByRepo(ctx context.Context, repoID uuid.UUID) ([]*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Plan
	for pid, ids := range r.s.planRepos {
		for _, id := range ids {
			if id == repoID {
				cp := *r.s.plans[pid]
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

// ============================================================================
// Events
// ============================================================================

type memEventRepo struct{ s *memStore }

var _ repositories.EventRepository = memEventRepo{}

func (r memEventRepo) insertLocked(e *models.UserEvent) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.Source == "" {
		e.Source = models.EventSourceManual
	}
	e.CreatedAt, e.UpdatedAt = time.Now(), time.Now()
	cp := *e
	r.s.events[e.ID] = &cp
}

func (r memEventRepo) Create(ctx context.Context, e *models.UserEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.repos[e.RepoID]; !ok {
		return apperrors.ErrNotFound
	}
	r.insertLocked(e)
	return nil
}

func (r memEventRepo) CreateBatch(ctx context.Context, events []*models.UserEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range events {
		if _, ok := r.s.repos[e.RepoID]; !ok {
			return apperrors.ErrNotFound
		}
	}
	for _, e := range events {
		r.insertLocked(e)
	}
	return nil
}

func (r memEventRepo) ReplaceScanned(ctx context.Context, repoID uuid.UUID, events []*models.UserEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, e := range r.s.events {
		if e.RepoID == repoID && e.Source == models.EventSourceScan {
			delete(r.s.events, id)
		}
	}
	for _, e := range events {
		e.RepoID = repoID
		e.Source = models.EventSourceScan
		r.insertLocked(e)
	}
	return nil
}

func (r memEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.UserEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r memEventRepo) Update(ctx context.Context, e *models.UserEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[e.ID]; !ok {
		return apperrors.ErrNotFound
	}
	e.UpdatedAt = time.Now()
	cp := *e
	r.s.events[e.ID] = &cp
	return nil
}

func (r memEventRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.events, id)
	return nil
}

func (r memEventRepo) ListByRepo(ctx context.Context, repoID uuid.UUID) ([]*models.UserEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.UserEvent
	for _, e := range r.s.events {
		if e.RepoID == repoID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortEvents(out)
	return out, nil
}

func (r memEventRepo) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*models.UserEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inPlan := map[uuid.UUID]bool{}
	for _, id := range r.s.planRepos[planID] {
		inPlan[id] = true
	}
	var out []*models.UserEvent
	for _, e := range r.s.events {
		if (e.PlanID != nil && *e.PlanID == planID) || inPlan[e.RepoID] {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(events []*models.UserEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].EventName != events[j].EventName {
			return events[i].EventName < events[j].EventName
		}
		return events[i].FilePath < events[j].FilePath
	})
}

// ============================================================================
// Annotations
// ============================================================================

type memAnnotationRepo struct{ s *memStore }

var _ repositories.AnnotationRepository = memAnnotationRepo{}

func (r memAnnotationRepo) Create(ctx context.Context, a *models.EventAnnotation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.events[a.UserEventID]; !ok {
		return apperrors.ErrNotFound
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	cp := *a
	r.s.annotations[a.ID] = &cp
	return nil
}

func (r memAnnotationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EventAnnotation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.annotations[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r memAnnotationRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.EventAnnotation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.EventAnnotation
	for _, a := range r.s.annotations {
		if a.UserEventID == eventID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memAnnotationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.annotations[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.annotations, id)
	return nil
}

// ============================================================================
// Scan jobs
// ============================================================================

type memScanJobRepo struct{ s *memStore }

var _ repositories.ScanJobRepository = memScanJobRepo{}

func (r memScanJobRepo) Create(ctx context.Context, job *models.ScanJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, j := range r.s.jobs {
		if j.RepoID == job.RepoID && j.Status.IsActive() {
			return apperrors.ErrScanInProgress
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.ScanStatusPending
	job.CreatedAt = time.Now()
	cp := *job
	r.s.jobs[job.ID] = &cp
	return nil
}

func (r memScanJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ScanJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r memScanJobRepo) GetLatestByRepo(ctx context.Context, repoID uuid.UUID) (*models.ScanJob, error) {
	jobs, _ := r.ListByRepo(ctx, repoID)
	if len(jobs) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return jobs[0], nil
}

func (r memScanJobRepo) ListByRepo(ctx context.Context, repoID uuid.UUID) ([]*models.ScanJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ScanJob
	for _, j := range r.s.jobs {
		if j.RepoID == repoID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memScanJobRepo) update(id uuid.UUID, fn func(j *models.ScanJob)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	fn(j)
	return nil
}

func (r memScanJobRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok || j.Status != models.ScanStatusPending {
		return apperrors.ErrNotFound
	}
	now := time.Now()
	j.Status, j.StartedAt = models.ScanStatusRunning, &now
	return nil
}

func (r memScanJobRepo) UpdateStep(ctx context.Context, id uuid.UUID, step models.ScanStep) error {
	return r.update(id, func(j *models.ScanJob) { j.CurrentStep = step })
}

func (r memScanJobRepo) UpdateDetails(ctx context.Context, id uuid.UUID, branch, sdk string) error {
	return r.update(id, func(j *models.ScanJob) {
		if branch != "" {
			j.Branch = branch
		}
		if sdk != "" {
			j.TrackingSDK = sdk
		}
	})
}

func (r memScanJobRepo) finish(id uuid.UUID, status models.ScanStatus, fn func(j *models.ScanJob)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok || j.Status.IsTerminal() {
		return apperrors.ErrNotFound
	}
	now := time.Now()
	j.Status, j.FinishedAt = status, &now
	if fn != nil {
		fn(j)
	}
	return nil
}

func (r memScanJobRepo) Complete(ctx context.Context, id uuid.UUID, eventsFound int) error {
	return r.finish(id, models.ScanStatusCompleted, func(j *models.ScanJob) { j.EventsFound = eventsFound })
}

func (r memScanJobRepo) Fail(ctx context.Context, id uuid.UUID, message string) error {
	return r.finish(id, models.ScanStatusFailed, func(j *models.ScanJob) { j.ErrorMessage = message })
}

func (r memScanJobRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	return r.finish(id, models.ScanStatusCancelled, nil)
}

func (r memScanJobRepo) FailStale(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, j := range r.s.jobs {
		if j.Status.IsActive() {
			j.Status, j.ErrorMessage = models.ScanStatusFailed, "interrupted by server restart"
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Agent sessions
// ============================================================================

type memSessionRepo struct{ s *memStore }

var _ repositories.AgentSessionRepository = memSessionRepo{}

func (r memSessionRepo) Create(ctx context.Context, sess *models.AgentSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[sess.ID]; ok {
		return apperrors.ErrConflict
	}
	sess.CreatedAt, sess.UpdatedAt = time.Now(), time.Now()
	cp := *sess
	cp.State = maps.Clone(sess.State)
	r.s.sessions[sess.ID] = &cp
	return nil
}

func (r memSessionRepo) Get(ctx context.Context, userID uuid.UUID, id string) (*models.AgentSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	cp := *sess
	cp.State = maps.Clone(sess.State)
	return &cp, nil
}

func (r memSessionRepo) List(ctx context.Context, userID uuid.UUID) ([]*models.AgentSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.AgentSession
	for _, sess := range r.s.sessions {
		if sess.UserID == userID {
			cp := *sess
			cp.State = maps.Clone(sess.State)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memSessionRepo) MergeState(ctx context.Context, id string, delta map[string]any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	maps.Copy(sess.State, delta)
	sess.UpdatedAt = time.Now()
	return nil
}
