package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openmmu/printflow/internal/config"
)

// ErrNotFound marks lookups that matched no row.
var ErrNotFound = errors.New("not found")

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

// InitSchema creates the tables if they do not exist yet. The history table
// is append-only; nothing in this package updates or deletes its rows.
func (p *PostgresClient) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS material_changes (
			id UUID PRIMARY KEY,
			layer INTEGER NOT NULL,
			material TEXT NOT NULL,
			trigger_source TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			step_timings JSONB NOT NULL DEFAULT '{}'::jsonb,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_material_changes_started_at
			ON material_changes(started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS recipes (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			recipe_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}
