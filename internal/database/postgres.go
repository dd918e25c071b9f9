package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/melvsalonga/affiliate-hub-sub002/internal/config"
	"go.uber.org/zap"
)

// Pool tuning for the event-store workload: many short INSERTs and
// counter UPDATEs from the tracking workers plus bursty analytics reads.
const (
	pgConnMaxLifetime   = time.Hour
	pgConnMaxIdleTime   = 15 * time.Minute
	pgHealthCheckPeriod = 30 * time.Second
	pgConnectTimeout    = 5 * time.Second
)

// PostgresDB owns the pgx pool behind the link, rotation-config and
// event repositories. The pool is optional at startup: when it cannot
// be established the caller falls back to in-memory storage.
type PostgresDB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDB builds the pool from config and verifies connectivity
// before handing it out.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = pgConnMaxLifetime
	poolCfg.MaxConnIdleTime = pgConnMaxIdleTime
	poolCfg.HealthCheckPeriod = pgHealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = pgConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("event store connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
		zap.Int("min_conns", cfg.MinConns),
		zap.Int("max_conns", cfg.MaxConns),
	)

	return &PostgresDB{Pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (db *PostgresDB) Close() {
	if db.Pool == nil {
		return
	}
	db.Pool.Close()
	db.logger.Info("event store pool closed")
}

// Health pings the database.
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Stats exposes pool counters for the metrics reporter.
func (db *PostgresDB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}
