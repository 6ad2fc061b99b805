// Package repository is the entity store for medicines, schedules and
// notification logs. Three drivers implement Store: Postgres (pgx), SQLite
// (the default, a single local file) and an in-memory map used by tests and
// dry runs.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/MedLine/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist, including when a
	// write references a medicine or schedule that is gone.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a notification log for the same
	// reminder instance already exists.
	ErrDuplicate = errors.New("duplicate")
)

type MedicineRepository interface {
	CreateMedicine(ctx context.Context, m *models.Medicine) error
	GetMedicine(ctx context.Context, id int64) (*models.Medicine, error)
	ListMedicines(ctx context.Context, activeOnly bool) ([]*models.Medicine, error)
	UpdateMedicine(ctx context.Context, id int64, p models.MedicinePatch) (*models.Medicine, error)
	// DeleteMedicine hard-deletes and cascades to schedules and logs.
	DeleteMedicine(ctx context.Context, id int64) error
}

type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	ListSchedules(ctx context.Context) ([]*models.Schedule, error)
	ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error)
	ListSchedulesByMedicine(ctx context.Context, medicineID int64) ([]*models.Schedule, error)
	// UpdateSchedule changes only the fields set in the patch; updated_at
	// always refreshes.
	UpdateSchedule(ctx context.Context, id int64, p models.SchedulePatch) (*models.Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) error
}

type LogRepository interface {
	CreateLog(ctx context.Context, l *models.NotificationLog) error
	GetLogByHandle(ctx context.Context, handle string) (*models.NotificationLog, error)
	// RespondLog moves a pending log to a terminal status. It reports false
	// when the log was no longer pending.
	RespondLog(ctx context.Context, id int64, status models.Status, at time.Time) (bool, error)
	ListLogs(ctx context.Context, f models.LogFilter) ([]*models.NotificationLogWithMedicine, error)
	CountLogs(ctx context.Context, f models.LogFilter) (map[models.Status]int, error)
	DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

type Store interface {
	MedicineRepository
	ScheduleRepository
	LogRepository
	// ClearAll wipes every table.
	ClearAll(ctx context.Context) error
	Close() error
}

// clauses assembles the dynamic SET and WHERE lists shared by the SQL
// drivers. Each "?" in a clause is rewritten to the driver's placeholder.
type clauses struct {
	placeholder func(n int) string
	list        []string
	args        []any
}

func (c *clauses) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.list = append(c.list, strings.ReplaceAll(clause, "?", c.placeholder(len(c.args))))
}

// raw appends a clause without an argument.
func (c *clauses) raw(clause string) {
	c.list = append(c.list, clause)
}

// bind appends an argument and returns its placeholder.
func (c *clauses) bind(arg any) string {
	c.args = append(c.args, arg)
	return c.placeholder(len(c.args))
}

func (c *clauses) where() string {
	if len(c.list) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.list, " AND ")
}

func (c *clauses) set() string {
	return strings.Join(c.list, ", ")
}

// logWhere translates a filter; encodeTime adapts instants to the driver.
func logWhere(f models.LogFilter, placeholder func(int) string, encodeTime func(time.Time) any) *clauses {
	w := &clauses{placeholder: placeholder}
	if f.Status != "" {
		w.add("nl.status = ?", string(f.Status))
	}
	if f.ScheduleID > 0 {
		w.add("nl.schedule_id = ?", f.ScheduleID)
	}
	if f.MedicineID > 0 {
		w.add("nl.medicine_id = ?", f.MedicineID)
	}
	if !f.From.IsZero() {
		w.add("nl.scheduled_time >= ?", encodeTime(f.From))
	}
	if !f.To.IsZero() {
		w.add("nl.scheduled_time < ?", encodeTime(f.To))
	}
	return w
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

// decodeSchedule fills the columns every driver stores as text or arrays.
func decodeSchedule(s *models.Schedule, timeOfDay, recurrence string, days []int, handles []string) error {
	t, err := models.ParseTimeOfDay(timeOfDay)
	if err != nil {
		return fmt.Errorf("schedule %d: %w", s.ID, err)
	}
	s.Time = t
	s.Recurrence = models.Recurrence(recurrence)
	wd, err := models.NewWeekdays(days...)
	if err != nil {
		return fmt.Errorf("schedule %d: %w", s.ID, err)
	}
	if len(wd) > 0 {
		s.RecurrenceDays = wd
	}
	if len(handles) > 0 {
		s.ReminderHandles = models.Handles(handles)
	}
	return nil
}

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func question(int) string { return "?" }
