package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the Postgres connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, uri string) (*DB, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate applies the embedded Postgres migrations.
func (db *DB) Migrate(ctx context.Context, log zerolog.Logger) error {
	return applyMigrations(ctx, "migrations/postgres", pgTarget{db}, log)
}

type pgTarget struct{ db *DB }

func (t pgTarget) exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.db.Pool.Exec(ctx, sql, args...)
	return err
}

func (t pgTarget) applied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := t.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
		version,
	).Scan(&exists)
	return exists, err
}

func (t pgTarget) record(ctx context.Context, version string) error {
	return t.exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
}
