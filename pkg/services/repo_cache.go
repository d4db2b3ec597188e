package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// RepoCache caches a user's GitHub repository list.
type RepoCache interface {
	Get(ctx context.Context, userID uuid.UUID) ([]*models.GitHubRepo, bool)
	Set(ctx context.Context, userID uuid.UUID, repos []*models.GitHubRepo)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

type redisRepoCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRepoCache returns a Redis-backed cache, or a no-op cache when client is nil.
// Cache failures are logged and treated as misses.
func NewRepoCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) RepoCache {
	if client == nil {
		return noopRepoCache{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisRepoCache{client: client, ttl: ttl, logger: logger.Named("repo-cache")}
}

var (
	_ RepoCache = (*redisRepoCache)(nil)
	_ RepoCache = noopRepoCache{}
)

func repoCacheKey(userID uuid.UUID) string {
	return fmt.Sprintf("tracking-engine:github-repos:%s", userID)
}

func (c *redisRepoCache) Get(ctx context.Context, userID uuid.UUID) ([]*models.GitHubRepo, bool) {
	raw, err := c.client.Get(ctx, repoCacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Repo cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var repos []*models.GitHubRepo
	if err := json.Unmarshal(raw, &repos); err != nil {
		c.logger.Warn("Discarding corrupt repo cache entry", zap.Error(err))
		c.Invalidate(ctx, userID)
		return nil, false
	}
	return repos, true
}

func (c *redisRepoCache) Set(ctx context.Context, userID uuid.UUID, repos []*models.GitHubRepo) {
	raw, err := json.Marshal(repos)
	if err != nil {
		c.logger.Warn("Failed to encode repo list", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, repoCacheKey(userID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Repo cache write failed", zap.Error(err))
	}
}

func (c *redisRepoCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := c.client.Del(ctx, repoCacheKey(userID)).Err(); err != nil {
		c.logger.Warn("Repo cache invalidate failed", zap.Error(err))
	}
}

type noopRepoCache struct{}

func (noopRepoCache) Get(context.Context, uuid.UUID) ([]*models.GitHubRepo, bool) { return nil, false }
func (noopRepoCache) Set(context.Context, uuid.UUID, []*models.GitHubRepo)        {}
func (noopRepoCache) Invalidate(context.Context, uuid.UUID)                        {}
