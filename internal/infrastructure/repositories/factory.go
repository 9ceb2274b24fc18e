package repositories

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"duelnet/internal/core/ports"
	"duelnet/internal/infrastructure/repositories/memory"
	redisrepo "duelnet/internal/infrastructure/repositories/redis"
	"duelnet/pkg/config"
)

// NewDocumentStore builds the configured signaling store. An unreachable
// Redis is an error unless store.memory_fallback is set; the in-process
// store only connects peers that share the process.
func NewDocumentStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (ports.DocumentStore, string, error) {
	if cfg.Store.Backend == "redis" {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err == nil {
			logger.Infow("using Redis document store", "address", cfg.Redis.Address)
			return redisrepo.NewRedisDocumentStore(client, cfg.Store.DocumentTTL, logger), "redis", nil
		}
		if !cfg.Store.MemoryFallback {
			return nil, "", fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		logger.Warnw("failed to connect to Redis, falling back to memory document store; peers in other processes will not be found",
			"address", cfg.Redis.Address,
			"error", err,
		)
	}

	logger.Info("using memory document store")
	return memory.NewMemoryDocumentStore(), "memory", nil
}
