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

// ScanJobRepository defines the interface for scan job data access.
type ScanJobRepository interface {
	// Create inserts a pending job. Returns ErrScanInProgress if the repo already has an active job.
	Create(ctx context.Context, job *models.ScanJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScanJob, error)
	GetLatestByRepo(ctx context.Context, repoID uuid.UUID) (*models.ScanJob, error)
	ListByRepo(ctx context.Context, repoID uuid.UUID) ([]*models.ScanJob, error)

	// MarkRunning sets status running and started_at.
	MarkRunning(ctx context.Context, id uuid.UUID) error
	UpdateStep(ctx context.Context, id uuid.UUID, step models.ScanStep) error
	// UpdateDetails records the branch and SDK once they are known.
	UpdateDetails(ctx context.Context, id uuid.UUID, branch, trackingSDK string) error
	Complete(ctx context.Context, id uuid.UUID, eventsFound int) error
	Fail(ctx context.Context, id uuid.UUID, message string) error
	Cancel(ctx context.Context, id uuid.UUID) error
	// FailStale marks jobs left active by a previous process as failed.
	FailStale(ctx context.Context) (int64, error)
}

type scanJobRepository struct{}

// NewScanJobRepository creates a new scan job repository.
func NewScanJobRepository() ScanJobRepository {
	return &scanJobRepository{}
}

var _ ScanJobRepository = (*scanJobRepository)(nil)

const scanJobColumns = `id, repo_id, status, current_step, branch, tracking_sdk, events_found, error_message, started_at, finished_at, created_at`

func scanScanJob(row pgx.Row) (*models.ScanJob, error) {
	var j models.ScanJob
	err := row.Scan(&j.ID, &j.RepoID, &j.Status, &j.CurrentStep, &j.Branch, &j.TrackingSDK,
		&j.EventsFound, &j.ErrorMessage, &j.StartedAt, &j.FinishedAt, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *scanJobRepository) Create(ctx context.Context, job *models.ScanJob) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.ScanStatusPending

	err = c.QueryRow(ctx, `
		INSERT INTO scan_jobs (id, repo_id, status, branch)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		job.ID, job.RepoID, job.Status, job.Branch,
	).Scan(&job.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrScanInProgress
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("repo %s: %w", job.RepoID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to create scan job: %w", err)
	}
	return nil
}

func (r *scanJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScanJob, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	job, err := scanScanJob(c.QueryRow(ctx, `SELECT `+scanJobColumns+` FROM scan_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}
	return job, nil
}

func (r *scanJobRepository) GetLatestByRepo(ctx context.Context, repoID uuid.UUID) (*models.ScanJob, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	job, err := scanScanJob(c.QueryRow(ctx, `
		SELECT `+scanJobColumns+`
		FROM scan_jobs
		WHERE repo_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, repoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest scan job: %w", err)
	}
	return job, nil
}

func (r *scanJobRepository) ListByRepo(ctx context.Context, repoID uuid.UUID) ([]*models.ScanJob, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `
		SELECT `+scanJobColumns+`
		FROM scan_jobs
		WHERE repo_id = $1
		ORDER BY created_at DESC`, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.ScanJob, 0)
	for rows.Next() {
		job, err := scanScanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ============================================================================
// State transitions
// ============================================================================

// exec runs an update against one job and maps a missed row to ErrNotFound.
func (r *scanJobRepository) exec(ctx context.Context, query string, args ...any) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	tag, err := c.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update scan job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *scanJobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `
		UPDATE scan_jobs SET status = 'running', started_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
}

func (r *scanJobRepository) UpdateStep(ctx context.Context, id uuid.UUID, step models.ScanStep) error {
	return r.exec(ctx, `UPDATE scan_jobs SET current_step = $2 WHERE id = $1`, id, step)
}

func (r *scanJobRepository) UpdateDetails(ctx context.Context, id uuid.UUID, branch, trackingSDK string) error {
	return r.exec(ctx, `
		UPDATE scan_jobs
		SET branch = COALESCE(NULLIF($2, ''), branch),
		    tracking_sdk = COALESCE(NULLIF($3, ''), tracking_sdk)
		WHERE id = $1`, id, branch, trackingSDK)
}

func (r *scanJobRepository) Complete(ctx context.Context, id uuid.UUID, eventsFound int) error {
	return r.exec(ctx, `
		UPDATE scan_jobs
		SET status = 'completed', events_found = $2, finished_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`, id, eventsFound)
}

func (r *scanJobRepository) Fail(ctx context.Context, id uuid.UUID, message string) error {
	return r.exec(ctx, `
		UPDATE scan_jobs
		SET status = 'failed', error_message = $2, finished_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`, id, message)
}

func (r *scanJobRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `
		UPDATE scan_jobs
		SET status = 'cancelled', finished_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
}

func (r *scanJobRepository) FailStale(ctx context.Context) (int64, error) {
	c, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := c.Exec(ctx, `
		UPDATE scan_jobs
		SET status = 'failed', error_message = 'interrupted by server restart', finished_at = now()
		WHERE status IN ('pending', 'running')`)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale scan jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
