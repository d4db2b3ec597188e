package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/audit"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
)

// PlanUpdate carries the editable plan fields. Nil fields are left unchanged.
type PlanUpdate struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	Status      *models.PlanStatus `json:"status,omitempty"`
}

// PlanService manages tracking plans and the repos they span.
type PlanService interface {
	Create(ctx context.Context, userID uuid.UUID, plan *models.Plan) (*models.Plan, error)
	// Get returns the plan with its repos populated.
	Get(ctx context.Context, userID, id uuid.UUID) (*models.Plan, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.Plan, error)
	Update(ctx context.Context, userID, id uuid.UUID, update PlanUpdate) (*models.Plan, error)
	// Delete removes the plan. Its repos and events survive.
	Delete(ctx context.Context, userID, id uuid.UUID) error
	// AddRepos links repos to the plan and returns the plan's repos.
	AddRepos(ctx context.Context, userID, id uuid.UUID, repoIDs []uuid.UUID) ([]*models.Repo, error)
	ListRepos(ctx context.Context, userID, id uuid.UUID) ([]*models.Repo, error)
	ListEvents(ctx context.Context, userID, id uuid.UUID) ([]*models.UserEvent, error)
}

type planService struct {
	planRepo  repositories.PlanRepository
	repoRepo  repositories.RepoRepository
	eventRepo repositories.EventRepository
	guard     injectionGuard
	logger    *zap.Logger
}

// NewPlanService creates a new plan service with dependencies.
func NewPlanService(
	planRepo repositories.PlanRepository,
	repoRepo repositories.RepoRepository,
	eventRepo repositories.EventRepository,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) PlanService {
	return &planService{
		planRepo:  planRepo,
		repoRepo:  repoRepo,
		eventRepo: eventRepo,
		guard:     injectionGuard{auditor: auditor, resource: "plan"},
		logger:    logger.Named("plans"),
	}
}

var _ PlanService = (*planService)(nil)

func ownedPlan(ctx context.Context, plans repositories.PlanRepository, userID, id uuid.UUID) (*models.Plan, error) {
	plan, err := plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return plan, nil
}

func (s *planService) validatePlan(ctx context.Context, plan *models.Plan) error {
	if strings.TrimSpace(plan.Name) == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrInvalidInput)
	}
	if !plan.Status.IsValid() {
		return fmt.Errorf("%w: unknown plan status %q", apperrors.ErrInvalidInput, plan.Status)
	}
	return s.guard.check(ctx,
		"name", plan.Name,
		"description", plan.Description,
	)
}

func (s *planService) Create(ctx context.Context, userID uuid.UUID, plan *models.Plan) (*models.Plan, error) {
	plan.Name = strings.TrimSpace(plan.Name)
	if plan.Status == "" {
		plan.Status = models.PlanStatusDraft
	}
	if err := s.validatePlan(ctx, plan); err != nil {
		return nil, err
	}

	plan.ID = uuid.Nil
	plan.UserID = userID
	plan.Version = 1

	if err := s.planRepo.Create(ctx, plan); err != nil {
		return nil, err
	}
	s.logger.Info("Plan created", zap.String("plan_id", plan.ID.String()), zap.String("name", plan.Name))
	return plan, nil
}

func (s *planService) Get(ctx context.Context, userID, id uuid.UUID) (*models.Plan, error) {
	plan, err := ownedPlan(ctx, s.planRepo, userID, id)
	if err != nil {
		return nil, err
	}
	repos, err := s.planRepo.ListRepos(ctx, id)
	if err != nil {
		return nil, err
	}
	if repos == nil {
		repos = []*models.Repo{}
	}
	plan.Repos = repos
	return plan, nil
}

func (s *planService) List(ctx context.Context, userID uuid.UUID) ([]*models.Plan, error) {
	plans, err := s.planRepo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []*models.Plan{}
	}
	return plans, nil
}

func (s *planService) Update(ctx context.Context, userID, id uuid.UUID, update PlanUpdate) (*models.Plan, error) {
	plan, err := ownedPlan(ctx, s.planRepo, userID, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		plan.Name = strings.TrimSpace(*update.Name)
	}
	if update.Description != nil {
		plan.Description = *update.Description
	}
	if update.Status != nil {
		plan.Status = *update.Status
	}
	if err := s.validatePlan(ctx, plan); err != nil {
		return nil, err
	}

	if err := s.planRepo.Update(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *planService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := ownedPlan(ctx, s.planRepo, userID, id); err != nil {
		return err
	}
	if err := s.planRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Plan deleted", zap.String("plan_id", id.String()))
	return nil
}

func (s *planService) AddRepos(ctx context.Context, userID, id uuid.UUID, repoIDs []uuid.UUID) ([]*models.Repo, error) {
	if len(repoIDs) == 0 {
		return nil, fmt.Errorf("%w: repo_ids is required", apperrors.ErrInvalidInput)
	}
	if _, err := ownedPlan(ctx, s.planRepo, userID, id); err != nil {
		return nil, err
	}
	for _, repoID := range repoIDs {
		if _, err := ownedRepo(ctx, s.repoRepo, userID, repoID); err != nil {
			return nil, fmt.Errorf("repo %s: %w", repoID, err)
		}
	}

	if err := s.planRepo.AddRepos(ctx, id, repoIDs); err != nil {
		return nil, err
	}
	return s.ListRepos(ctx, userID, id)
}

func (s *planService) ListRepos(ctx context.Context, userID, id uuid.UUID) ([]*models.Repo, error) {
	if _, err := ownedPlan(ctx, s.planRepo, userID, id); err != nil {
		return nil, err
	}
	repos, err := s.planRepo.ListRepos(ctx, id)
	if err != nil {
		return nil, err
	}
	if repos == nil {
		repos = []*models.Repo{}
	}
	return repos, nil
}

func (s *planService) ListEvents(ctx context.Context, userID, id uuid.UUID) ([]*models.UserEvent, error) {
	if _, err := ownedPlan(ctx, s.planRepo, userID, id); err != nil {
		return nil, err
	}
	events, err := s.eventRepo.ListByPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.UserEvent{}
	}
	return events, nil
}
