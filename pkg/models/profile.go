// Package models contains domain types for tracking-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is a signed-in user. The ID is the JWT subject.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// HasGitHubToken reports whether a token is stored. The token itself never leaves the repository layer.
	HasGitHubToken bool `json:"has_github_token"`
}
