package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/scheduling-engine/internal/config"
)

// PoolConfig turns the DSN and pool tuning of cfg into a pgxpool config.
func PoolConfig(cfg config.Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		pc.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pc.MinConns = min(cfg.DBMinConns, pc.MaxConns)
	}
	if cfg.DBHealthCheck > 0 {
		pc.HealthCheckPeriod = cfg.DBHealthCheck
	}
	if cfg.DBConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.DBConnLifetime
	}
	if cfg.DBConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.DBConnIdleTime
	}
	return pc, nil
}

// ConnectPostgres opens a pool and pings it once.
func ConnectPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pc, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
