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

type planFixture struct {
	store  *memStore
	svc    PlanService
	userID uuid.UUID
	web    *models.Repo
	api    *models.Repo
}

func newPlanFixture(t *testing.T) *planFixture {
	t.Helper()
	store := newMemStore()
	userID := uuid.New()
	web := &models.Repo{UserID: userID, Name: "acme/web"}
	api := &models.Repo{UserID: userID, Name: "acme/api"}
	require.NoError(t, memRepoRepo{store}.Create(context.Background(), web))
	require.NoError(t, memRepoRepo{store}.Create(context.Background(), api))

	return &planFixture{
		store:  store,
		svc:    NewPlanService(memPlanRepo{store}, memRepoRepo{store}, memEventRepo{store}, nil, zap.NewNop()),
		userID: userID,
		web:    web,
		api:    api,
	}
}

func TestPlanService_CreateDefaults(t *testing.T) {
	fx := newPlanFixture(t)

	plan, err := fx.svc.Create(context.Background(), fx.userID, &models.Plan{Name: "Checkout"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusDraft, plan.Status)
	assert.Equal(t, 1, plan.Version)
	assert.Equal(t, fx.userID, plan.UserID)
}

func TestPlanService_Create_Validation(t *testing.T) {
	fx := newPlanFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Create(ctx, fx.userID, &models.Plan{Name: "  "})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = fx.svc.Create(ctx, fx.userID, &models.Plan{Name: "Checkout", Status: "shipped"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = fx.svc.Create(ctx, fx.userID, &models.Plan{Name: "Checkout", Description: "<script>alert(1)</script>"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestPlanService_UpdateBumpsVersion(t *testing.T) {
	fx := newPlanFixture(t)
	ctx := context.Background()

	plan, err := fx.svc.Create(ctx, fx.userID, &models.Plan{Name: "Checkout"})
	require.NoError(t, err)

	active := models.PlanStatusActive
	updated, err := fx.svc.Update(ctx, fx.userID, plan.ID, PlanUpdate{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusActive, updated.Status)
	assert.Equal(t, "Checkout", updated.Name)
	assert.Equal(t, 2, updated.Version)
}

func TestPlanService_AddRepos(t *testing.T) {
	fx := newPlanFixture(t)
	ctx := context.Background()

	plan, err := fx.svc.Create(ctx, fx.userID, &models.Plan{Name: "Checkout"})
	require.NoError(t, err)

	repos, err := fx.svc.AddRepos(ctx, fx.userID, plan.ID, []uuid.UUID{fx.web.ID, fx.api.ID, fx.web.ID})
	require.NoError(t, err)
	assert.Len(t, repos, 2)

	// Linking again is a no-op.
	repos, err = fx.svc.AddRepos(ctx, fx.userID, plan.ID, []uuid.UUID{fx.api.ID})
	require.NoError(t, err)
	assert.Len(t, repos, 2)

	got, err := fx.svc.Get(ctx, fx.userID, plan.ID)
	require.NoError(t, err)
	assert.Len(t, got.Repos, 2)
}

func TestPlanService_AddRepos_Errors(t *testing.T) {
	fx := newPlanFixture(t)
	ctx := context.Background()

	plan, err := fx.svc.Create(ctx, fx.userID, &models.Plan{Name: "Checkout"})
	require.NoError(t, err)

	_, err = fx.svc.AddRepos(ctx, fx.userID, uuid.New(), []uuid.UUID{fx.web.ID})
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "missing plan")

	_, err = fx.svc.AddRepos(ctx, fx.userID, plan.ID, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "missing repo")

	theirs := &models.Repo{UserID: uuid.New(), Name: "other/repo"}
	require.NoError(t, memRepoRepo{fx.store}.Create(ctx, theirs))
	_, err = fx.svc.AddRepos(ctx, fx.userID, plan.ID, []uuid.UUID{theirs.ID})
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "another user's repo")

	_, err = fx.svc.AddRepos(ctx, fx.userID, plan.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestPlanService_ListEventsIncludesRepoAndPlanEvents(t *testing.T) {
	fx := newPlanFixture(t)
	ctx := context.Background()

	plan, err := fx.svc.Create(ctx, fx.userID, &models.Plan{Name: "Checkout"})
	require.NoError(t, err)
	_, err = fx.svc.AddRepos(ctx, fx.userID, plan.ID, []uuid.UUID{fx.web.ID})
	require.NoError(t, err)

	events := memEventRepo{fx.store}
	require.NoError(t, events.Create(ctx, &models.UserEvent{RepoID: fx.web.ID, EventName: "Scanned"}))
	require.NoError(t, events.Create(ctx, &models.UserEvent{RepoID: fx.api.ID, PlanID: &plan.ID, EventName: "Manual"}))
	require.NoError(t, events.Create(ctx, &models.UserEvent{RepoID: fx.api.ID, EventName: "Unrelated"}))

	got, err := fx.svc.ListEvents(ctx, fx.userID, plan.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Manual", got[0].EventName)
	assert.Equal(t, "Scanned", got[1].EventName)
}

func TestPlanService_DeleteKeepsReposAndEvents(t *testing.T) {
	fx := newPlanFixture(t)
	ctx := context.Background()

	plan, err := fx.svc.Create(ctx, fx.userID, &models.Plan{Name: "Checkout"})
	require.NoError(t, err)
	_, err = fx.svc.AddRepos(ctx, fx.userID, plan.ID, []uuid.UUID{fx.web.ID})
	require.NoError(t, err)
	event := &models.UserEvent{RepoID: fx.web.ID, PlanID: &plan.ID, EventName: "Manual"}
	require.NoError(t, memEventRepo{fx.store}.Create(ctx, event))

	require.NoError(t, fx.svc.Delete(ctx, fx.userID, plan.ID))

	_, err = fx.svc.Get(ctx, fx.userID, plan.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = memRepoRepo{fx.store}.GetByID(ctx, fx.web.ID)
	assert.NoError(t, err)
	kept, err := memEventRepo{fx.store}.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Nil(t, kept.PlanID)
}

func TestPlanService_OtherUsersPlan(t *testing.T) {
	fx := newPlanFixture(t)
	ctx := context.Background()

	plan, err := fx.svc.Create(ctx, fx.userID, &models.Plan{Name: "Checkout"})
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = fx.svc.Get(ctx, stranger, plan.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, fx.svc.Delete(ctx, stranger, plan.ID), apperrors.ErrNotFound)

	plans, err := fx.svc.List(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, plans)
}
