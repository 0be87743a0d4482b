package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/config"
)

// ClickHouseDB wraps a ClickHouse connection used by the analytics sink.
type ClickHouseDB struct {
	Conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseDB opens a ClickHouse connection.
func NewClickHouseDB(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		// One batching sink writes here; a couple of connections cover
		// flush overlap.
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("connected to ClickHouse",
		zap.String("addr", cfg.Addr),
		zap.String("database", cfg.Database),
	)

	return &ClickHouseDB{
		Conn:   conn,
		logger: logger,
	}, nil
}

// Close closes the ClickHouse connection.
func (c *ClickHouseDB) Close() error {
	if c.Conn != nil {
		c.logger.Info("ClickHouse connection closed")
		return c.Conn.Close()
	}
	return nil
}

// Health checks if ClickHouse is reachable.
func (c *ClickHouseDB) Health(ctx context.Context) error {
	return c.Conn.Ping(ctx)
}
