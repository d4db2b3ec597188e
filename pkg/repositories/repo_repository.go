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

// RepoRepository defines the interface for repo data access.
type RepoRepository interface {
	Create(ctx context.Context, repo *models.Repo) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Repo, error)
	GetByName(ctx context.Context, userID uuid.UUID, name string) (*models.Repo, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.Repo, error)
	Update(ctx context.Context, repo *models.Repo) error
	// Delete removes the repo. Its events, scan jobs and plan links go with it.
	Delete(ctx context.Context, id uuid.UUID) error
}

type repoRepository struct{}

// NewRepoRepository creates a new repo repository.
func NewRepoRepository() RepoRepository {
	return &repoRepository{}
}

var _ RepoRepository = (*repoRepository)(nil)

const repoColumns = `id, user_id, name, label, description, url, session_id, created_at, updated_at`

func scanRepo(row pgx.Row) (*models.Repo, error) {
	var r models.Repo
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Label, &r.Description, &r.URL, &r.SessionID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *repoRepository) Create(ctx context.Context, repo *models.Repo) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	if repo.ID == uuid.Nil {
		repo.ID = uuid.New()
	}

	query := `
		INSERT INTO repos (id, user_id, name, label, description, url, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err = c.QueryRow(ctx, query,
		repo.ID, repo.UserID, repo.Name, repo.Label, repo.Description, repo.URL, repo.SessionID,
	).Scan(&repo.CreatedAt, &repo.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("repo %q already exists: %w", repo.Name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create repo: %w", err)
	}
	return nil
}

func (r *repoRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Repo, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	repo, err := scanRepo(c.QueryRow(ctx, `SELECT `+repoColumns+` FROM repos WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get repo: %w", err)
	}
	return repo, nil
}

func (r *repoRepository) GetByName(ctx context.Context, userID uuid.UUID, name string) (*models.Repo, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	repo, err := scanRepo(c.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repos WHERE user_id = $1 AND name = $2`, userID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get repo by name: %w", err)
	}
	return repo, nil
}

func (r *repoRepository) List(ctx context.Context, userID uuid.UUID) ([]*models.Repo, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx,
		`SELECT `+repoColumns+` FROM repos WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repos: %w", err)
	}
	defer rows.Close()

	repos := make([]*models.Repo, 0)
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repo: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

func (r *repoRepository) Update(ctx context.Context, repo *models.Repo) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE repos
		SET name = $2, label = $3, description = $4, url = $5, session_id = $6
		WHERE id = $1
		RETURNING updated_at`

	err = c.QueryRow(ctx, query,
		repo.ID, repo.Name, repo.Label, repo.Description, repo.URL, repo.SessionID,
	).Scan(&repo.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("repo %q already exists: %w", repo.Name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to update repo: %w", err)
	}
	return nil
}

func (r *repoRepository) Delete(ctx context.Context, id uuid.UUID) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	tag, err := c.Exec(ctx, `DELETE FROM repos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
