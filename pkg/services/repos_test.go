package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

func newRepoService(store *memStore) RepoService {
	return NewRepoService(memRepoRepo{store}, memPlanRepo{store}, memEventRepo{store}, nil, zap.NewNop())
}

func TestRepoService_Create(t *testing.T) {
	store := newMemStore()
	svc := newRepoService(store)
	userID := uuid.New()
	ctx := context.Background()

	repo, err := svc.Create(ctx, userID, &models.Repo{Name: " acme/web ", Label: "Web"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, repo.ID)
	assert.Equal(t, userID, repo.UserID)
	assert.Equal(t, "acme/web", repo.Name)
	assert.Equal(t, "https://github.com/acme/web", repo.URL)

	_, err = svc.Create(ctx, userID, &models.Repo{Name: "acme/web"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestRepoService_Create_Validation(t *testing.T) {
	svc := newRepoService(newMemStore())
	ctx := context.Background()

	tests := []struct {
		name string
		repo models.Repo
	}{
		{"missing name", models.Repo{}},
		{"not a slug", models.Repo{Name: "just-a-name"}},
		{"injected label", models.Repo{Name: "acme/web", Label: "<script>alert(1)</script>"}},
		{"injected description", models.Repo{Name: "acme/web", Description: "'; DROP TABLE repos--"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := tt.repo
			_, err := svc.Create(ctx, uuid.New(), &repo)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestRepoService_OtherUsersRepoIsNotFound(t *testing.T) {
	store := newMemStore()
	svc := newRepoService(store)
	ctx := context.Background()

	owner, stranger := uuid.New(), uuid.New()
	repo, err := svc.Create(ctx, owner, &models.Repo{Name: "acme/web"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, stranger, repo.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = svc.Update(ctx, stranger, repo.ID, RepoUpdate{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, stranger, repo.ID), apperrors.ErrNotFound)
	_, err = svc.ListEvents(ctx, stranger, repo.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	repos, err := svc.List(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, repos)
	assert.NotNil(t, repos)
}

func TestRepoService_Update(t *testing.T) {
	svc := newRepoService(newMemStore())
	userID := uuid.New()
	ctx := context.Background()

	repo, err := svc.Create(ctx, userID, &models.Repo{Name: "acme/web", Label: "Web", Description: "storefront"})
	require.NoError(t, err)

	label := "Storefront"
	updated, err := svc.Update(ctx, userID, repo.ID, RepoUpdate{Label: &label})
	require.NoError(t, err)
	assert.Equal(t, "Storefront", updated.Label)
	assert.Equal(t, "storefront", updated.Description)

	bad := "<script>alert(1)</script>"
	_, err = svc.Update(ctx, userID, repo.ID, RepoUpdate{Description: &bad})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRepoService_DeleteCascadesEventsButKeepsPlans(t *testing.T) {
	store := newMemStore()
	svc := newRepoService(store)
	userID := uuid.New()
	ctx := context.Background()

	repo, err := svc.Create(ctx, userID, &models.Repo{Name: "acme/web"})
	require.NoError(t, err)
	plan := &models.Plan{UserID: userID, Name: "Checkout", Status: models.PlanStatusDraft}
	require.NoError(t, memPlanRepo{store}.Create(ctx, plan))
	require.NoError(t, memPlanRepo{store}.AddRepos(ctx, plan.ID, []uuid.UUID{repo.ID}))
	require.NoError(t, memEventRepo{store}.Create(ctx, &models.UserEvent{RepoID: repo.ID, EventName: "Signed Up"}))

	plans, err := svc.ListPlans(ctx, userID, repo.ID)
	require.NoError(t, err)
	require.Len(t, plans, 1)

	require.NoError(t, svc.Delete(ctx, userID, repo.ID))

	_, err = svc.Get(ctx, userID, repo.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, store.events)
	_, err = memPlanRepo{store}.GetByID(ctx, plan.ID)
	assert.NoError(t, err)
	linked, err := memPlanRepo{store}.ListRepos(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, linked)
}
