package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/logging"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
	"github.com/ekaya-inc/tracking-engine/pkg/services/workqueue"
)

// AgentTaskResponse acknowledges a task queued by CreateTask.
type AgentTaskResponse struct {
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	SessionID string         `json:"session_id"`
	UserID    uuid.UUID      `json:"user_id"`
}

// AgentService runs the tracking-plan agent for a user and keeps its session state.
type AgentService interface {
	// Run resolves the repo named by the request, scans it and returns the events found.
	// Scan failures are reported in the response; the error is reserved for storage failures.
	Run(ctx context.Context, userID uuid.UUID, req models.AgentRequest) (*models.AgentResponse, error)
	// CreateTask queues Run in the background and returns immediately.
	CreateTask(ctx context.Context, userID uuid.UUID, req models.AgentRequest) (*AgentTaskResponse, error)
	GetSession(ctx context.Context, userID uuid.UUID, id string) (*models.AgentSession, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.AgentSession, error)
	// ListTasks returns the user's queued and recent background tasks.
	ListTasks(userID uuid.UUID) []workqueue.TaskSnapshot
}

type agentService struct {
	sessions repositories.AgentSessionRepository
	repos    repositories.RepoRepository
	scans    ScanService
	queue    *workqueue.Queue
	scopes   ScopeProvider
	logger   *zap.Logger
}

// NewAgentService creates an agent service. Background tasks run on queue
// under a fresh user scope.
func NewAgentService(
	sessions repositories.AgentSessionRepository,
	repos repositories.RepoRepository,
	scans ScanService,
	queue *workqueue.Queue,
	scopes ScopeProvider,
	logger *zap.Logger,
) AgentService {
	return &agentService{
		sessions: sessions,
		repos:    repos,
		scans:    scans,
		queue:    queue,
		scopes:   scopes,
		logger:   logger.Named("agent"),
	}
}

var _ AgentService = (*agentService)(nil)

// repoSlugPattern finds an "owner/repo" slug, optionally inside a GitHub URL.
var repoSlugPattern = regexp.MustCompile(`(?:github\.com[/:])?([A-Za-z0-9][A-Za-z0-9-]*/[A-Za-z0-9_.-]+)`)

// treeURLPattern finds the branch in a ".../owner/repo/tree/<branch>" URL.
var treeURLPattern = regexp.MustCompile(`github\.com/[A-Za-z0-9][A-Za-z0-9-]*/[A-Za-z0-9_.-]+/tree/([^\s?#]+)`)

func (s *agentService) Run(ctx context.Context, userID uuid.UUID, req models.AgentRequest) (*models.AgentResponse, error) {
	session, err := s.ensureSession(ctx, userID, req.SessionID)
	if err != nil {
		return nil, err
	}

	repo, err := s.resolveRepo(ctx, userID, session.ID, req)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrNotFound) {
			return s.fail(ctx, session.ID, "", err)
		}
		return nil, err
	}

	if err := s.sessions.MergeState(ctx, session.ID, map[string]any{
		models.SessionStateStatus:   models.SessionStatusRunning,
		models.SessionStateRepoName: repo.Name,
	}); err != nil {
		return nil, err
	}

	branch := BranchFromRequest(req)
	s.logger.Info("Agent run started",
		zap.String("session_id", session.ID),
		zap.String("repo", repo.Name),
		zap.String("branch", branch))

	result, scanErr := s.scans.RunScan(ctx, userID, repo.ID, branch)
	if scanErr != nil {
		jobID := ""
		if result != nil && result.Job != nil {
			jobID = result.Job.ID.String()
		}
		return s.fail(ctx, session.ID, jobID, scanErr)
	}

	plan := result.Plan
	if plan == nil {
		plan = &models.TrackingPlan{Data: []models.TrackingEvent{}}
	}

	if err := s.sessions.MergeState(ctx, session.ID, map[string]any{
		models.SessionStateStatus:       models.SessionStatusCompleted,
		models.SessionStateScanJobID:    result.Job.ID.String(),
		models.SessionStateTrackingPlan: plan,
		models.SessionStateError:        nil,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Agent run completed",
		zap.String("session_id", session.ID),
		zap.String("repo", repo.Name),
		zap.Int("events", result.Job.EventsFound))

	return &models.AgentResponse{
		Message: EventSummary(result.Job.EventsFound, repo.Name),
		Status:  models.AgentStatusSuccess,
		Data: map[string]any{
			"raw_events": plan.Data,
			"job":        result.Job,
		},
		SessionID: session.ID,
	}, nil
}

// fail records a failed run on the session and renders the error response.
func (s *agentService) fail(ctx context.Context, sessionID, jobID string, cause error) (*models.AgentResponse, error) {
	message := logging.SanitizeError(cause)
	delta := map[string]any{
		models.SessionStateStatus: models.SessionStatusFailed,
		models.SessionStateError:  message,
	}
	if jobID != "" {
		delta[models.SessionStateScanJobID] = jobID
	}
	if err := s.sessions.MergeState(context.WithoutCancel(ctx), sessionID, delta); err != nil {
		return nil, err
	}

	s.logger.Warn("Agent run failed",
		zap.String("session_id", sessionID),
		zap.String("error", message))

	return &models.AgentResponse{
		Message:   message,
		Status:    models.AgentStatusError,
		Data:      map[string]any{},
		SessionID: sessionID,
	}, nil
}

// ensureSession loads the session, creating it with the initial state when
// it does not exist yet. An empty id gets a generated one.
func (s *agentService) ensureSession(ctx context.Context, userID uuid.UUID, id string) (*models.AgentSession, error) {
	if id == "" {
		id = uuid.New().String()
	} else {
		session, err := s.sessions.Get(ctx, userID, id)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	session := &models.AgentSession{ID: id, UserID: userID, State: models.NewSessionState()}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	s.logger.Debug("Created agent session", zap.String("session_id", id))
	return session, nil
}

// resolveRepo finds the repo a request is about: context.repo_id, then
// context.repo_name, then the first owner/repo slug in the message.
// A named repo the user has not registered yet is created.
func (s *agentService) resolveRepo(ctx context.Context, userID uuid.UUID, sessionID string, req models.AgentRequest) (*models.Repo, error) {
	if raw, ok := req.Context["repo_id"].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: repo_id %q is not a UUID", apperrors.ErrInvalidInput, raw)
		}
		repo, err := s.repos.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if repo.UserID != userID {
			return nil, apperrors.ErrNotFound
		}
		return repo, nil
	}

	name := RepoNameFromRequest(req)
	if name == "" {
		return nil, fmt.Errorf("%w: no repository named; pass context.repo_name or mention owner/repo", apperrors.ErrInvalidInput)
	}

	repo, err := s.repos.GetByName(ctx, userID, name)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	repo = &models.Repo{
		UserID:    userID,
		Name:      name,
		URL:       "https://github.com/" + name,
		SessionID: sessionID,
	}
	if err := s.repos.Create(ctx, repo); err != nil {
		return nil, err
	}
	s.logger.Info("Registered repo from agent request", zap.String("repo", name))
	return repo, nil
}

// RepoNameFromRequest returns the owner/repo slug named by context.repo_name
// or, failing that, mentioned in the message. Returns "" when there is none.
func RepoNameFromRequest(req models.AgentRequest) string {
	if name, ok := req.Context["repo_name"].(string); ok {
		if slug := extractRepoSlug(name); slug != "" {
			return slug
		}
	}
	return extractRepoSlug(req.Message)
}

// BranchFromRequest returns context.branch or, failing that, the branch of a
// GitHub tree URL in context.repo_name or the message. "" means the default branch.
func BranchFromRequest(req models.AgentRequest) string {
	if branch, ok := req.Context["branch"].(string); ok && strings.TrimSpace(branch) != "" {
		return strings.TrimSpace(branch)
	}
	if name, ok := req.Context["repo_name"].(string); ok {
		if branch := extractTreeBranch(name); branch != "" {
			return branch
		}
	}
	return extractTreeBranch(req.Message)
}

func extractTreeBranch(text string) string {
	m := treeURLPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], "/.,)")
}

func extractRepoSlug(text string) string {
	m := repoSlugPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSuffix(m[1], "."), ".git")
}

func (s *agentService) CreateTask(ctx context.Context, userID uuid.UUID, req models.AgentRequest) (*AgentTaskResponse, error) {
	// The session exists before the task runs so callers can poll it straight away.
	session, err := s.ensureSession(ctx, userID, req.SessionID)
	if err != nil {
		return nil, err
	}
	req.SessionID = session.ID

	task := workqueue.NewFuncTask("agent-run", userID, true, func(taskCtx context.Context) error {
		scoped, cleanup, err := s.scopes.WithUserScope(taskCtx, userID)
		if err != nil {
			return fmt.Errorf("failed to open user scope: %w", err)
		}
		defer cleanup()

		resp, err := s.Run(scoped, userID, req)
		if err != nil {
			return err
		}
		if resp.Status != models.AgentStatusSuccess {
			s.logger.Info("Agent task finished with error status",
				zap.String("session_id", resp.SessionID),
				zap.String("message", resp.Message))
		}
		return nil
	})

	if err := s.queue.Enqueue(task); err != nil {
		return nil, fmt.Errorf("failed to queue agent task: %w", err)
	}

	return &AgentTaskResponse{
		Status:    models.AgentStatusSuccess,
		Message:   "Task created successfully",
		Data:      map[string]any{"task_id": task.ID()},
		SessionID: session.ID,
		UserID:    userID,
	}, nil
}

func (s *agentService) GetSession(ctx context.Context, userID uuid.UUID, id string) (*models.AgentSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: session id is required", apperrors.ErrInvalidInput)
	}
	return s.sessions.Get(ctx, userID, id)
}

func (s *agentService) ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.AgentSession, error) {
	return s.sessions.List(ctx, userID)
}

func (s *agentService) ListTasks(userID uuid.UUID) []workqueue.TaskSnapshot {
	return s.queue.TasksFor(userID)
}
