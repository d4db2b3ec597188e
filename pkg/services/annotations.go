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

// AnnotationService manages free-text notes on events.
type AnnotationService interface {
	Create(ctx context.Context, userID, eventID uuid.UUID, text string) (*models.EventAnnotation, error)
	List(ctx context.Context, userID, eventID uuid.UUID) ([]*models.EventAnnotation, error)
	Delete(ctx context.Context, userID, eventID, annotationID uuid.UUID) error
}

type annotationService struct {
	annotationRepo repositories.AnnotationRepository
	eventRepo      repositories.EventRepository
	repoRepo       repositories.RepoRepository
	guard          injectionGuard
	logger         *zap.Logger
}

// NewAnnotationService creates a new annotation service with dependencies.
func NewAnnotationService(
	annotationRepo repositories.AnnotationRepository,
	eventRepo repositories.EventRepository,
	repoRepo repositories.RepoRepository,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) AnnotationService {
	return &annotationService{
		annotationRepo: annotationRepo,
		eventRepo:      eventRepo,
		repoRepo:       repoRepo,
		guard:          injectionGuard{auditor: auditor, resource: "annotation"},
		logger:         logger.Named("annotations"),
	}
}

var _ AnnotationService = (*annotationService)(nil)

func (s *annotationService) Create(ctx context.Context, userID, eventID uuid.UUID, text string) (*models.EventAnnotation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: annotation is required", apperrors.ErrInvalidInput)
	}
	if err := s.guard.check(ctx, "annotation", text); err != nil {
		return nil, err
	}
	if _, err := ownedEvent(ctx, s.eventRepo, s.repoRepo, userID, eventID); err != nil {
		return nil, err
	}

	annotation := &models.EventAnnotation{
		UserEventID: eventID,
		UserID:      userID,
		Annotation:  text,
	}
	if err := s.annotationRepo.Create(ctx, annotation); err != nil {
		return nil, err
	}
	return annotation, nil
}

func (s *annotationService) List(ctx context.Context, userID, eventID uuid.UUID) ([]*models.EventAnnotation, error) {
	if _, err := ownedEvent(ctx, s.eventRepo, s.repoRepo, userID, eventID); err != nil {
		return nil, err
	}
	annotations, err := s.annotationRepo.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if annotations == nil {
		annotations = []*models.EventAnnotation{}
	}
	return annotations, nil
}

// Delete removes an annotation. It must belong to the event and to the caller.
func (s *annotationService) Delete(ctx context.Context, userID, eventID, annotationID uuid.UUID) error {
	if _, err := ownedEvent(ctx, s.eventRepo, s.repoRepo, userID, eventID); err != nil {
		return err
	}
	annotation, err := s.annotationRepo.GetByID(ctx, annotationID)
	if err != nil {
		return err
	}
	if annotation.UserEventID != eventID || annotation.UserID != userID {
		return apperrors.ErrNotFound
	}
	return s.annotationRepo.Delete(ctx, annotationID)
}
