//go:build integration

package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
	"github.com/ekaya-inc/tracking-engine/pkg/testhelpers"
)

func TestRedisRepoCache_RoundTrip(t *testing.T) {
	client := testhelpers.GetRedisClient(t)
	cache := NewRepoCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	_, ok := cache.Get(ctx, userID)
	assert.False(t, ok)

	cache.Set(ctx, userID, []*models.GitHubRepo{{ID: 1, FullName: "acme/web", DefaultBranch: "main"}})
	repos, ok := cache.Get(ctx, userID)
	require.True(t, ok)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme/web", repos[0].FullName)

	ttl, err := client.TTL(ctx, repoCacheKey(userID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	cache.Invalidate(ctx, userID)
	_, ok = cache.Get(ctx, userID)
	assert.False(t, ok)
}

func TestRedisRepoCache_CorruptEntryIsMiss(t *testing.T) {
	client := testhelpers.GetRedisClient(t)
	cache := NewRepoCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, client.Set(ctx, repoCacheKey(userID), "not json", time.Minute).Err())

	_, ok := cache.Get(ctx, userID)
	assert.False(t, ok)

	exists, err := client.Exists(ctx, repoCacheKey(userID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}
