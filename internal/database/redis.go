package database

import (
	"context"
	"fmt"
	"time"

	"github.com/melvsalonga/affiliate-hub-sub002/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// The redirect hot path does at most one GET per request; deadlines
// stay tight so a slow Redis degrades to a DB lookup instead of
// stalling the redirect.
const (
	redisDialTimeout  = 2 * time.Second
	redisReadTimeout  = 500 * time.Millisecond
	redisWriteTimeout = 500 * time.Millisecond
)

// RedisDB holds the client shared by the short-code lookup cache and
// the round-robin rotation cursor. Redis is optional: without it the
// cache is off and the cursor is process-local.
type RedisDB struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedisDB connects and verifies the server is reachable.
func NewRedisDB(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisReadTimeout,
		WriteTimeout: redisWriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)

	return &RedisDB{Client: client, logger: logger}, nil
}

// Close shuts the client down.
func (r *RedisDB) Close() error {
	if r.Client == nil {
		return nil
	}
	r.logger.Info("redis client closed")
	return r.Client.Close()
}

// Health pings the server.
func (r *RedisDB) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
