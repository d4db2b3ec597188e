package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// AgentSessionRepository defines the interface for agent session data access.
type AgentSessionRepository interface {
	Create(ctx context.Context, session *models.AgentSession) error
	Get(ctx context.Context, userID uuid.UUID, id string) (*models.AgentSession, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.AgentSession, error)
	// MergeState shallow-merges delta into the stored state.
	MergeState(ctx context.Context, id string, delta map[string]any) error
}

type agentSessionRepository struct{}

// NewAgentSessionRepository creates a new agent session repository.
func NewAgentSessionRepository() AgentSessionRepository {
	return &agentSessionRepository{}
}

var _ AgentSessionRepository = (*agentSessionRepository)(nil)

func scanSession(row pgx.Row) (*models.AgentSession, error) {
	var s models.AgentSession
	var state []byte
	if err := row.Scan(&s.ID, &s.UserID, &state, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(state, &s.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &s, nil
}

func (r *agentSessionRepository) Create(ctx context.Context, session *models.AgentSession) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	if session.State == nil {
		session.State = models.NewSessionState()
	}
	state, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	err = c.QueryRow(ctx, `
		INSERT INTO agent_sessions (id, user_id, state)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		session.ID, session.UserID, state,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s: %w", session.ID, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *agentSessionRepository) Get(ctx context.Context, userID uuid.UUID, id string) (*models.AgentSession, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	session, err := scanSession(c.QueryRow(ctx, `
		SELECT id, user_id, state, created_at, updated_at
		FROM agent_sessions
		WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (r *agentSessionRepository) List(ctx context.Context, userID uuid.UUID) ([]*models.AgentSession, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `
		SELECT id, user_id, state, created_at, updated_at
		FROM agent_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.AgentSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *agentSessionRepository) MergeState(ctx context.Context, id string, delta map[string]any) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	patch, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	tag, err := c.Exec(ctx, `
		UPDATE agent_sessions
		SET state = state || $2::jsonb, updated_at = now()
		WHERE id = $1`, id, patch)
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
