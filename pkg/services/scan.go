package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/audit"
	"github.com/ekaya-inc/tracking-engine/pkg/logging"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
	"github.com/ekaya-inc/tracking-engine/pkg/services/dag"
)

// ScopeProvider opens a user-scoped database context outside of an HTTP request.
// database.UserScopeProvider satisfies it.
type ScopeProvider interface {
	WithUserScope(ctx context.Context, userID uuid.UUID) (context.Context, func(), error)
}

// ScanResult is the outcome of a scan run synchronously.
type ScanResult struct {
	Job    *models.ScanJob
	Report *models.DependencyReport
	Plan   *models.TrackingPlan
}

// ScanService runs the clone → recon → patterns → scan → write pipeline against a repo.
type ScanService interface {
	// StartScan creates a job and runs it in the background. An empty branch scans
	// the repo's default branch. Returns ErrScanInProgress if the repo already has an active job.
	StartScan(ctx context.Context, userID, repoID uuid.UUID, branch string) (*models.ScanJob, error)
	// RunScan creates a job and runs it on the caller's goroutine. The scan stops
	// when either ctx or the service is shut down.
	RunScan(ctx context.Context, userID, repoID uuid.UUID, branch string) (*ScanResult, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error)
	// GetLatestJob returns the repo's most recent job, or ErrNotFound if it was never scanned.
	GetLatestJob(ctx context.Context, repoID uuid.UUID) (*models.ScanJob, error)
	ListJobs(ctx context.Context, repoID uuid.UUID) ([]*models.ScanJob, error)
	// Cancel stops a running job and marks it cancelled.
	Cancel(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error)
	// FailStale marks jobs left active by a previous process as failed. Call at startup.
	FailStale(ctx context.Context) (int64, error)
	// Shutdown cancels every running scan and waits for them to finish or ctx to expire.
	Shutdown(ctx context.Context) error
}

// ScanServiceDeps are the collaborators of a ScanService.
type ScanServiceDeps struct {
	RepoRepo  repositories.RepoRepository
	JobRepo   repositories.ScanJobRepository
	EventRepo repositories.EventRepository
	Scopes    ScopeProvider
	Tokens    dag.TokenResolver
	Cloner    CloneService
	Detector  dag.DependencyDetector
	Patterns  dag.PatternResolver
	Searcher  dag.CodeSearcher
	Redactor  dag.SecretRedactor
	Auditor   *audit.SecurityAuditor
}

type scanService struct {
	repoRepo repositories.RepoRepository
	jobRepo  repositories.ScanJobRepository
	scopes   ScopeProvider
	cloner   CloneService
	nodes    []dag.NodeExecutor
	logger   *zap.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc
	mu         sync.Mutex
	running    map[uuid.UUID]context.CancelFunc
	wg         sync.WaitGroup
}

// NewScanService wires the pipeline nodes in execution order.
func NewScanService(deps ScanServiceDeps, logger *zap.Logger) ScanService {
	logger = logger.Named("scan")
	rootCtx, rootCancel := context.WithCancel(context.Background())

	return &scanService{
		repoRepo: deps.RepoRepo,
		jobRepo:  deps.JobRepo,
		scopes:   deps.Scopes,
		cloner:   deps.Cloner,
		nodes: []dag.NodeExecutor{
			dag.NewCloneNode(deps.JobRepo, deps.Tokens, deps.Cloner, logger),
			dag.NewReconNode(deps.JobRepo, deps.Detector, logger),
			dag.NewPatternNode(deps.JobRepo, deps.Patterns, logger),
			dag.NewScanningNode(deps.JobRepo, deps.Searcher, logger),
			dag.NewWritingNode(deps.JobRepo, deps.EventRepo, deps.Redactor, deps.Auditor, logger),
		},
		logger:     logger,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		running:    make(map[uuid.UUID]context.CancelFunc),
	}
}

var _ ScanService = (*scanService)(nil)

// ============================================================================
// Lifecycle
// ============================================================================

func (s *scanService) StartScan(ctx context.Context, userID, repoID uuid.UUID, branch string) (*models.ScanJob, error) {
	repo, job, err := s.createJob(ctx, userID, repoID, branch)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(s.rootCtx)
	s.track(job.ID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(job.ID)
		if _, err := s.execute(runCtx, userID, repo, job); err != nil {
			s.logger.Info("Background scan ended with error",
				zap.String("job_id", job.ID.String()),
				zap.String("error", logging.SanitizeError(err)))
		}
	}()

	return job, nil
}

func (s *scanService) RunScan(ctx context.Context, userID, repoID uuid.UUID, branch string) (*ScanResult, error) {
	repo, job, err := s.createJob(ctx, userID, repoID, branch)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(s.rootCtx)
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	s.track(job.ID, cancel)
	defer s.untrack(job.ID)

	s.wg.Add(1)
	defer s.wg.Done()
	return s.execute(runCtx, userID, repo, job)
}

func (s *scanService) createJob(ctx context.Context, userID, repoID uuid.UUID, branch string) (*models.Repo, *models.ScanJob, error) {
	branch = strings.TrimSpace(branch)
	if err := ValidateBranchName(branch); err != nil {
		return nil, nil, err
	}

	repo, err := s.repoRepo.GetByID(ctx, repoID)
	if err != nil {
		return nil, nil, err
	}
	if repo.UserID != userID {
		return nil, nil, apperrors.ErrNotFound
	}

	job := &models.ScanJob{RepoID: repoID, Branch: branch}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, nil, err
	}

	s.logger.Info("Scan queued",
		zap.String("job_id", job.ID.String()),
		zap.String("repo", repo.Name),
		zap.String("branch", branch))
	return repo, job, nil
}

func (s *scanService) track(jobID uuid.UUID, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[jobID] = cancel
	s.mu.Unlock()
}

func (s *scanService) untrack(jobID uuid.UUID) {
	s.mu.Lock()
	if cancel, ok := s.running[jobID]; ok {
		cancel()
		delete(s.running, jobID)
	}
	s.mu.Unlock()
}

// ============================================================================
// Execution
// ============================================================================

// execute runs every node against a fresh state and records the outcome on the job.
// The clone directory is removed whatever the outcome.
func (s *scanService) execute(ctx context.Context, userID uuid.UUID, repo *models.Repo, job *models.ScanJob) (*ScanResult, error) {
	jobID := job.ID
	scoped, cleanup, err := s.scopes.WithUserScope(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open user scope: %w", err)
	}
	defer cleanup()

	// Status writes must land even after ctx is cancelled.
	persistCtx := context.WithoutCancel(scoped)

	if err := s.jobRepo.MarkRunning(persistCtx, jobID); err != nil {
		return nil, fmt.Errorf("failed to mark scan running: %w", err)
	}

	state := &dag.ScanState{
		JobID:    jobID,
		UserID:   userID,
		RepoID:   repo.ID,
		RepoName: repo.Name,
		Branch:   job.Branch,
	}
	defer func() {
		if state.Dir == "" {
			return
		}
		if err := s.cloner.Cleanup(state.Dir); err != nil {
			s.logger.Warn("Failed to remove clone directory", zap.String("dir", state.Dir), zap.Error(err))
		}
	}()

	runErr := s.runNodes(scoped, persistCtx, state)

	switch {
	case runErr == nil:
		if err := s.jobRepo.Complete(persistCtx, jobID, state.EventsFound); err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				return nil, fmt.Errorf("failed to complete scan: %w", err)
			}
			// Cancelled while the last node was finishing; the cancel wins.
			s.logger.Info("Scan finished after cancel", zap.String("job_id", jobID.String()))
		}
		s.logger.Info("Scan completed",
			zap.String("job_id", jobID.String()),
			zap.String("repo", repo.Name),
			zap.String("summary", EventSummary(state.EventsFound, repo.Name)))
	case errors.Is(runErr, context.Canceled):
		if err := s.jobRepo.Cancel(persistCtx, jobID); err != nil {
			s.logger.Warn("Failed to mark scan cancelled", zap.Error(err))
		}
		s.logger.Info("Scan cancelled", zap.String("job_id", jobID.String()))
	default:
		message := logging.SanitizeError(runErr)
		if err := s.jobRepo.Fail(persistCtx, jobID, message); err != nil {
			s.logger.Warn("Failed to mark scan failed", zap.Error(err))
		}
		s.logger.Warn("Scan failed",
			zap.String("job_id", jobID.String()),
			zap.String("repo", repo.Name),
			zap.String("error", message))
	}

	finished, err := s.jobRepo.GetByID(persistCtx, jobID)
	if err != nil {
		return nil, err
	}
	result := &ScanResult{Job: finished, Report: state.Report, Plan: state.Plan}
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (s *scanService) runNodes(ctx, persistCtx context.Context, state *dag.ScanState) error {
	for _, node := range s.nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.jobRepo.UpdateStep(persistCtx, state.JobID, node.Name()); err != nil {
			s.logger.Warn("Failed to record scan step", zap.String("step", string(node.Name())), zap.Error(err))
		}
		if err := s.runNode(ctx, node, state); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
	return nil
}

// runNode executes one node, converting a panic into an error.
func (s *scanService) runNode(ctx context.Context, node dag.NodeExecutor, state *dag.ScanState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scan node panicked",
				zap.String("step", string(node.Name())),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%s step crashed: %v", node.Name(), r)
		}
	}()
	return node.Execute(ctx, state)
}

// ============================================================================
// Queries and control
// ============================================================================

func (s *scanService) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	return s.jobRepo.GetByID(ctx, jobID)
}

func (s *scanService) GetLatestJob(ctx context.Context, repoID uuid.UUID) (*models.ScanJob, error) {
	return s.jobRepo.GetLatestByRepo(ctx, repoID)
}

func (s *scanService) ListJobs(ctx context.Context, repoID uuid.UUID) ([]*models.ScanJob, error) {
	if _, err := s.repoRepo.GetByID(ctx, repoID); err != nil {
		return nil, err
	}
	return s.jobRepo.ListByRepo(ctx, repoID)
}

func (s *scanService) Cancel(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: scan already %s", apperrors.ErrConflict, job.Status)
	}

	s.mu.Lock()
	cancel, ok := s.running[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}

	// A running scan may record the cancel itself before we get here.
	if err := s.jobRepo.Cancel(ctx, jobID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	s.logger.Info("Scan cancel requested", zap.String("job_id", jobID.String()), zap.Bool("was_running", ok))
	return s.jobRepo.GetByID(ctx, jobID)
}

func (s *scanService) FailStale(ctx context.Context) (int64, error) {
	n, err := s.jobRepo.FailStale(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("Marked interrupted scans as failed", zap.Int64("count", n))
	}
	return n, nil
}

func (s *scanService) Shutdown(ctx context.Context) error {
	s.rootCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scans still running at shutdown: %w", ctx.Err())
	}
}

// EventSummary renders "Found N tracking event(s) in repo".
func EventSummary(count int, repoName string) string {
	noun := "tracking event"
	if count != 1 {
		noun = "tracking " + inflection.Plural("event")
	}
	return fmt.Sprintf("Found %d %s in %s", count, noun, repoName)
}
