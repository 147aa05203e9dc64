// Package database provides the pgx connection pool used by the Postgres
// history store.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/config"
)

// Pool wraps pgxpool with lifecycle logging and health checks.
type Pool struct {
	*pgxpool.Pool
	logger *zap.Logger
}

// NewPool opens and verifies a connection pool from the database config.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database pool established",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int32("min_conns", poolCfg.MinConns),
	)
	return &Pool{Pool: pool, logger: logger}, nil
}

// HealthCheck pings the database and logs pool pressure.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	stat := p.Stat()
	if stat.AcquiredConns() == stat.MaxConns() {
		p.logger.Warn("connection pool saturated",
			zap.Int32("acquired", stat.AcquiredConns()),
			zap.Int32("max", stat.MaxConns()),
		)
	}
	return nil
}

// Close shuts the pool down.
func (p *Pool) Close() {
	p.logger.Info("closing database pool")
	p.Pool.Close()
}
