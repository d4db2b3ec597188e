package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// AnnotationRepository defines the interface for event annotation data access.
type AnnotationRepository interface {
	Create(ctx context.Context, annotation *models.EventAnnotation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EventAnnotation, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.EventAnnotation, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type annotationRepository struct{}

// NewAnnotationRepository creates a new annotation repository.
func NewAnnotationRepository() AnnotationRepository {
	return &annotationRepository{}
}

var _ AnnotationRepository = (*annotationRepository)(nil)

func (r *annotationRepository) Create(ctx context.Context, a *models.EventAnnotation) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	err = c.QueryRow(ctx, `
		INSERT INTO event_annotations (id, user_event_id, user_id, annotation)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		a.ID, a.UserEventID, a.UserID, a.Annotation,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("event %s: %w", a.UserEventID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to create annotation: %w", err)
	}
	return nil
}

func (r *annotationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EventAnnotation, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	var a models.EventAnnotation
	err = c.QueryRow(ctx, `
		SELECT id, user_event_id, user_id, annotation, created_at
		FROM event_annotations
		WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserEventID, &a.UserID, &a.Annotation, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}
	return &a, nil
}

func (r *annotationRepository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.EventAnnotation, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `
		SELECT id, user_event_id, user_id, annotation, created_at
		FROM event_annotations
		WHERE user_event_id = $1
		ORDER BY created_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	annotations := make([]*models.EventAnnotation, 0)
	for rows.Next() {
		var a models.EventAnnotation
		if err := rows.Scan(&a.ID, &a.UserEventID, &a.UserID, &a.Annotation, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		annotations = append(annotations, &a)
	}
	return annotations, rows.Err()
}

func (r *annotationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	tag, err := c.Exec(ctx, `DELETE FROM event_annotations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
