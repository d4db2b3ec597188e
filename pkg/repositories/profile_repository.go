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

// ProfileRepository defines the interface for profile data access.
type ProfileRepository interface {
	// Upsert creates the profile or refreshes its name and avatar.
	Upsert(ctx context.Context, profile *models.Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	// SetGitHubToken stores an already-encrypted token. Empty clears it.
	SetGitHubToken(ctx context.Context, id uuid.UUID, encrypted string) error
	// GetGitHubToken returns the encrypted token, or ErrNotFound if none is stored.
	GetGitHubToken(ctx context.Context, id uuid.UUID) (string, error)
}

type profileRepository struct{}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository() ProfileRepository {
	return &profileRepository{}
}

var _ ProfileRepository = (*profileRepository)(nil)

func (r *profileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO profiles (id, name, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE profiles.name END,
		    avatar_url = CASE WHEN EXCLUDED.avatar_url <> '' THEN EXCLUDED.avatar_url ELSE profiles.avatar_url END
		RETURNING name, avatar_url, created_at, github_token_encrypted IS NOT NULL`

	err = c.QueryRow(ctx, query, profile.ID, profile.Name, profile.AvatarURL).Scan(
		&profile.Name, &profile.AvatarURL, &profile.CreatedAt, &profile.HasGitHubToken,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (r *profileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, avatar_url, created_at, github_token_encrypted IS NOT NULL
		FROM profiles
		WHERE id = $1`

	var p models.Profile
	err = c.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.AvatarURL, &p.CreatedAt, &p.HasGitHubToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (r *profileRepository) SetGitHubToken(ctx context.Context, id uuid.UUID, encrypted string) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}

	tag, err := c.Exec(ctx,
		`UPDATE profiles SET github_token_encrypted = NULLIF($2, '') WHERE id = $1`, id, encrypted)
	if err != nil {
		return fmt.Errorf("failed to set github token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *profileRepository) GetGitHubToken(ctx context.Context, id uuid.UUID) (string, error) {
	c, err := conn(ctx)
	if err != nil {
		return "", err
	}

	var token *string
	err = c.QueryRow(ctx, `SELECT github_token_encrypted FROM profiles WHERE id = $1`, id).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("failed to get github token: %w", err)
	}
	if token == nil {
		return "", apperrors.ErrNotFound
	}
	return *token, nil
}
