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

// RepoUpdate carries the editable repo fields. Nil fields are left unchanged.
type RepoUpdate struct {
	Label       *string `json:"label,omitempty"`
	Description *string `json:"description,omitempty"`
	URL         *string `json:"url,omitempty"`
}

// RepoService manages the repos a user has registered for scanning.
type RepoService interface {
	Create(ctx context.Context, userID uuid.UUID, repo *models.Repo) (*models.Repo, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.Repo, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.Repo, error)
	Update(ctx context.Context, userID, id uuid.UUID, update RepoUpdate) (*models.Repo, error)
	// Delete removes the repo with its events, scan jobs and plan links.
	Delete(ctx context.Context, userID, id uuid.UUID) error
	ListEvents(ctx context.Context, userID, id uuid.UUID) ([]*models.UserEvent, error)
	ListPlans(ctx context.Context, userID, id uuid.UUID) ([]*models.Plan, error)
}

type repoService struct {
	repoRepo  repositories.RepoRepository
	planRepo  repositories.PlanRepository
	eventRepo repositories.EventRepository
	guard     injectionGuard
	logger    *zap.Logger
}

// NewRepoService creates a new repo service with dependencies.
func NewRepoService(
	repoRepo repositories.RepoRepository,
	planRepo repositories.PlanRepository,
	eventRepo repositories.EventRepository,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) RepoService {
	return &repoService{
		repoRepo:  repoRepo,
		planRepo:  planRepo,
		eventRepo: eventRepo,
		guard:     injectionGuard{auditor: auditor, resource: "repo"},
		logger:    logger.Named("repos"),
	}
}

var _ RepoService = (*repoService)(nil)

// ownedRepo loads a repo and hides it unless userID owns it.
func ownedRepo(ctx context.Context, repos repositories.RepoRepository, userID, id uuid.UUID) (*models.Repo, error) {
	repo, err := repos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if repo.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return repo, nil
}

func (s *repoService) Create(ctx context.Context, userID uuid.UUID, repo *models.Repo) (*models.Repo, error) {
	repo.Name = strings.TrimSpace(repo.Name)
	if repo.Name == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrInvalidInput)
	}
	if err := ValidateRepoName(repo.Name); err != nil {
		return nil, err
	}
	if err := s.guard.check(ctx,
		"name", repo.Name,
		"label", repo.Label,
		"description", repo.Description,
		"url", repo.URL,
	); err != nil {
		return nil, err
	}

	repo.ID = uuid.Nil
	repo.UserID = userID
	if repo.URL == "" {
		repo.URL = "https://github.com/" + repo.Name
	}

	if err := s.repoRepo.Create(ctx, repo); err != nil {
		return nil, err
	}
	s.logger.Info("Repo created", zap.String("repo_id", repo.ID.String()), zap.String("name", repo.Name))
	return repo, nil
}

func (s *repoService) Get(ctx context.Context, userID, id uuid.UUID) (*models.Repo, error) {
	return ownedRepo(ctx, s.repoRepo, userID, id)
}

func (s *repoService) List(ctx context.Context, userID uuid.UUID) ([]*models.Repo, error) {
	repos, err := s.repoRepo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if repos == nil {
		repos = []*models.Repo{}
	}
	return repos, nil
}

func (s *repoService) Update(ctx context.Context, userID, id uuid.UUID, update RepoUpdate) (*models.Repo, error) {
	repo, err := ownedRepo(ctx, s.repoRepo, userID, id)
	if err != nil {
		return nil, err
	}

	if update.Label != nil {
		repo.Label = *update.Label
	}
	if update.Description != nil {
		repo.Description = *update.Description
	}
	if update.URL != nil {
		repo.URL = *update.URL
	}
	if err := s.guard.check(ctx,
		"label", repo.Label,
		"description", repo.Description,
		"url", repo.URL,
	); err != nil {
		return nil, err
	}

	if err := s.repoRepo.Update(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *repoService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := ownedRepo(ctx, s.repoRepo, userID, id); err != nil {
		return err
	}
	if err := s.repoRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Repo deleted", zap.String("repo_id", id.String()))
	return nil
}

func (s *repoService) ListEvents(ctx context.Context, userID, id uuid.UUID) ([]*models.UserEvent, error) {
	if _, err := ownedRepo(ctx, s.repoRepo, userID, id); err != nil {
		return nil, err
	}
	events, err := s.eventRepo.ListByRepo(ctx, id)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.UserEvent{}
	}
	return events, nil
}

func (s *repoService) ListPlans(ctx context.Context, userID, id uuid.UUID) ([]*models.Plan, error) {
	if _, err := ownedRepo(ctx, s.repoRepo, userID, id); err != nil {
		return nil, err
	}
	plans, err := s.planRepo.ListByRepo(ctx, id)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []*models.Plan{}
	}
	return plans, nil
}
