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

// EventRepository defines the interface for tracking event data access.
type EventRepository interface {
	Create(ctx context.Context, event *models.UserEvent) error
	// CreateBatch inserts events in a single transaction.
	CreateBatch(ctx context.Context, events []*models.UserEvent) error
	// ReplaceScanned swaps the repo's scan events for events, which are stored as scan events.
	// Manual and imported events are left alone.
	ReplaceScanned(ctx context.Context, repoID uuid.UUID, events []*models.UserEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.UserEvent, error)
	Update(ctx context.Context, event *models.UserEvent) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByRepo(ctx context.Context, repoID uuid.UUID) ([]*models.UserEvent, error)
	// ListByPlan returns events attached to the plan plus all events of the plan's repos.
	ListByPlan(ctx context.Context, planID uuid.UUID) ([]*models.UserEvent, error)
}

type eventRepository struct{}

// NewEventRepository creates a new event repository.
func NewEventRepository() EventRepository {
	return &eventRepository{}
}

var _ EventRepository = (*eventRepository)(nil)

const eventColumns = `id, repo_id, plan_id, event_name, context, tags, file_path, line_number, source, created_at, updated_at`

const insertEventSQL = `
	INSERT INTO user_events (id, repo_id, plan_id, event_name, context, tags, file_path, line_number, source)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING created_at, updated_at`

func scanEvent(row pgx.Row) (*models.UserEvent, error) {
	var e models.UserEvent
	err := row.Scan(&e.ID, &e.RepoID, &e.PlanID, &e.EventName, &e.Context, &e.Tags, &e.FilePath, &e.LineNumber, &e.Source, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return &e, nil
}

func insertArgs(e *models.UserEvent) []any {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.Source == "" {
		e.Source = models.EventSourceManual
	}
	return []any{e.ID, e.RepoID, e.PlanID, e.EventName, e.Context, e.Tags, e.FilePath, e.LineNumber, e.Source}
}

func (r *eventRepository) Create(ctx context.Context, event *models.UserEvent) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	err = c.QueryRow(ctx, insertEventSQL, insertArgs(event)...).Scan(&event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("repo or plan for event: %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *eventRepository) CreateBatch(ctx context.Context, events []*models.UserEvent) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	tx, err := c.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := insertEventsTx(ctx, tx, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

func (r *eventRepository) ReplaceScanned(ctx context.Context, repoID uuid.UUID, events []*models.UserEvent) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	tx, err := c.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM user_events WHERE repo_id = $1 AND source = 'scan'`, repoID); err != nil {
		return fmt.Errorf("failed to clear scanned events: %w", err)
	}
	for _, e := range events {
		e.Source = models.EventSourceScan
	}

	if err := insertEventsTx(ctx, tx, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit scanned events: %w", err)
	}
	return nil
}

// insertEventsTx queues every insert in one batch.
// COPY is not an option: PostgreSQL rejects COPY FROM on tables under row level security.
func insertEventsTx(ctx context.Context, tx pgx.Tx, events []*models.UserEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		ev := e
		batch.Queue(insertEventSQL, insertArgs(ev)...).QueryRow(func(row pgx.Row) error {
			return row.Scan(&ev.CreatedAt, &ev.UpdatedAt)
		})
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("repo or plan for event: %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

func (r *eventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UserEvent, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	event, err := scanEvent(c.QueryRow(ctx, `SELECT `+eventColumns+` FROM user_events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

func (r *eventRepository) Update(ctx context.Context, event *models.UserEvent) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}
	if event.Tags == nil {
		event.Tags = []string{}
	}

	query := `
		UPDATE user_events
		SET event_name = $2, context = $3, tags = $4, file_path = $5, line_number = $6, plan_id = $7
		WHERE id = $1
		RETURNING updated_at`

	err = c.QueryRow(ctx, query,
		event.ID, event.EventName, event.Context, event.Tags, event.FilePath, event.LineNumber, event.PlanID,
	).Scan(&event.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

func (r *eventRepository) Delete(ctx context.Context, id uuid.UUID) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	tag, err := c.Exec(ctx, `DELETE FROM user_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *eventRepository) ListByRepo(ctx context.Context, repoID uuid.UUID) ([]*models.UserEvent, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `
		SELECT `+eventColumns+`
		FROM user_events
		WHERE repo_id = $1
		ORDER BY event_name, file_path, line_number`, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repo events: %w", err)
	}
	return collectEvents(rows)
}

func (r *eventRepository) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*models.UserEvent, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `
		SELECT `+eventColumns+`
		FROM user_events
		WHERE plan_id = $1
		   OR repo_id IN (SELECT repo_id FROM plan_repos WHERE plan_id = $1)
		ORDER BY event_name, file_path, line_number`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*models.UserEvent, error) {
	defer rows.Close()

	events := make([]*models.UserEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
