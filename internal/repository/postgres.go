package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hray3182/MedLine/internal/database"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) ClearAll(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `TRUNCATE notification_logs, schedules, medicines`)
	return err
}

func (r *PostgresStore) Close() error {
	r.db.Close()
	return nil
}

// pgError maps driver errors onto the package sentinels.
func pgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pe.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pe.ConstraintName)
		}
	}
	return err
}

func pgDate(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func pgTime(t time.Time) any { return t }
