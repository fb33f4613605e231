package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const connectAttempts = 5

var connectBackoff = time.Second

// NewPostgresPool creates a PostgreSQL pool and waits for the server to answer.
// Workers hold a connection while they flush, so the pool keeps a small idle floor.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns
	poolCfg.MinConns = min(cfg.MaxDBConns, 2)
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := retry(ctx, log.With().Str("component", "postgres").Logger(), pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Str("database", poolCfg.ConnConfig.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Int32("min_conns", poolCfg.MinConns).
		Msg("PostgreSQL connected")

	return pool, nil
}

// retry calls ping with a linear backoff until it succeeds or attempts run out.
func retry(ctx context.Context, log zerolog.Logger, ping func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		wait := time.Duration(attempt) * connectBackoff
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("Not reachable yet")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
