package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/repositories"
)

// ProfileService keeps a profile row for every signed-in user.
type ProfileService interface {
	// GetOrCreate upserts the profile from token claims. Empty name or avatar
	// keep the stored values.
	GetOrCreate(ctx context.Context, userID uuid.UUID, name, avatarURL string) (*models.Profile, error)
	Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

type profileService struct {
	profileRepo repositories.ProfileRepository
	logger      *zap.Logger
}

// NewProfileService creates a new profile service.
func NewProfileService(profileRepo repositories.ProfileRepository, logger *zap.Logger) ProfileService {
	return &profileService{profileRepo: profileRepo, logger: logger.Named("profiles")}
}

var _ ProfileService = (*profileService)(nil)

func (s *profileService) GetOrCreate(ctx context.Context, userID uuid.UUID, name, avatarURL string) (*models.Profile, error) {
	profile := &models.Profile{ID: userID, Name: name, AvatarURL: avatarURL}
	if err := s.profileRepo.Upsert(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *profileService) Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	return s.profileRepo.GetByID(ctx, userID)
}
