package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/config"
)

// PostgresDB owns the connection pool backing the lifecycle event store.
// The workload is append-heavy with small rows and occasional session
// reads, so the pool favors a few long-lived connections over churn.
type PostgresDB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

const (
	pgConnectTimeout = 5 * time.Second
	pgHealthTimeout  = 2 * time.Second
)

// NewPostgresDB opens and pings the event store pool.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("invalid event store DSN: %w", err)
	}

	// Floors keep a misconfigured deploy from serializing event appends
	// behind a single connection.
	maxConns := cfg.MaxConns
	if maxConns < 4 {
		maxConns = 4
	}
	minConns := cfg.MinConns
	if minConns > maxConns {
		minConns = maxConns
	}
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = int32(minConns)

	// Appends are short. Recycling connections on this cadence picks up
	// a failed-over primary without operator action.
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event store pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("event store unreachable: %w", err)
	}

	logger.Info("event store connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
		zap.Int("max_conns", maxConns),
		zap.Int("min_conns", minConns),
	)

	return &PostgresDB{Pool: pool, logger: logger}, nil
}

// Close drains and closes the pool.
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("event store pool closed")
	}
}

// Health pings with its own short deadline so the health endpoint cannot
// hang on a wedged pool.
func (db *PostgresDB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pgHealthTimeout)
	defer cancel()
	return db.Pool.Ping(ctx)
}
