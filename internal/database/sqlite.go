package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the local database file and applies
// the embedded SQLite migrations. Foreign keys are enforced so deleting a
// medicine cascades to its schedules and logs.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite prefers a single writer; this also serializes statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, "migrations/sqlite", sqliteTarget{db}, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type sqliteTarget struct{ db *sql.DB }

func (t sqliteTarget) exec(ctx context.Context, query string, args ...any) error {
	_, err := t.db.ExecContext(ctx, query, args...)
	return err
}

func (t sqliteTarget) applied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := t.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)",
		version,
	).Scan(&exists)
	return exists, err
}

func (t sqliteTarget) record(ctx context.Context, version string) error {
	return t.exec(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version)
}
