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

// PlanRepository defines the interface for plan data access.
type PlanRepository interface {
	Create(ctx context.Context, plan *models.Plan) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) error
	// Delete removes the plan and its repo links. Repos and events are kept.
	Delete(ctx context.Context, id uuid.UUID) error

	// AddRepos links repos to the plan. Already-linked repos are ignored.
	AddRepos(ctx context.Context, planID uuid.UUID, repoIDs []uuid.UUID) error
	ListRepos(ctx context.Context, planID uuid.UUID) ([]*models.Repo, error)
	ListByRepo(ctx context.Context, repoID uuid.UUID) ([]*models.Plan, error)
}

type planRepository struct{}

// NewPlanRepository creates a new plan repository.
func NewPlanRepository() PlanRepository {
	return &planRepository{}
}

var _ PlanRepository = (*planRepository)(nil)

const planColumns = `p.id, p.user_id, p.name, p.description, p.status, p.version, p.import_source, p.created_at, p.updated_at`

func scanPlan(row pgx.Row) (*models.Plan, error) {
	var p models.Plan
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Status, &p.Version, &p.ImportSource, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *planRepository) Create(ctx context.Context, plan *models.Plan) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.Status == "" {
		plan.Status = models.PlanStatusDraft
	}
	if plan.Version == 0 {
		plan.Version = 1
	}

	query := `
		INSERT INTO plans (id, user_id, name, description, status, version, import_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err = c.QueryRow(ctx, query,
		plan.ID, plan.UserID, plan.Name, plan.Description, plan.Status, plan.Version, plan.ImportSource,
	).Scan(&plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (r *planRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := scanPlan(c.QueryRow(ctx, `SELECT `+planColumns+` FROM plans p WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

func (r *planRepository) List(ctx context.Context, userID uuid.UUID) ([]*models.Plan, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx,
		`SELECT `+planColumns+` FROM plans p WHERE p.user_id = $1 ORDER BY p.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return collectPlans(rows)
}

func (r *planRepository) ListByRepo(ctx context.Context, repoID uuid.UUID) ([]*models.Plan, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + planColumns + `
		FROM plans p
		JOIN plan_repos pr ON pr.plan_id = p.id
		WHERE pr.repo_id = $1
		ORDER BY p.created_at DESC`

	rows, err := c.Query(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans for repo: %w", err)
	}
	return collectPlans(rows)
}

func collectPlans(rows pgx.Rows) ([]*models.Plan, error) {
	defer rows.Close()

	plans := make([]*models.Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// Update writes name, description, status and import source, and bumps the version.
func (r *planRepository) Update(ctx context.Context, plan *models.Plan) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE plans
		SET name = $2, description = $3, status = $4, import_source = $5, version = version + 1
		WHERE id = $1
		RETURNING version, updated_at`

	err = c.QueryRow(ctx, query,
		plan.ID, plan.Name, plan.Description, plan.Status, plan.ImportSource,
	).Scan(&plan.Version, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return nil
}

func (r *planRepository) Delete(ctx context.Context, id uuid.UUID) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	tag, err := c.Exec(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *planRepository) AddRepos(ctx context.Context, planID uuid.UUID, repoIDs []uuid.UUID) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	tx, err := c.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, repoID := range repoIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO plan_repos (plan_id, repo_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, planID, repoID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("plan %s or repo %s: %w", planID, repoID, apperrors.ErrNotFound)
			}
			return fmt.Errorf("failed to link repo to plan: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit plan repos: %w", err)
	}
	return nil
}

func (r *planRepository) ListRepos(ctx context.Context, planID uuid.UUID) ([]*models.Repo, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT r.id, r.user_id, r.name, r.label, r.description, r.url, r.session_id, r.created_at, r.updated_at
		FROM repos r
		JOIN plan_repos pr ON pr.repo_id = r.id
		WHERE pr.plan_id = $1
		ORDER BY pr.created_at, r.name`

	rows, err := c.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan repos: %w", err)
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
