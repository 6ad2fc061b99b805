// Package disposition records what happened to each fired reminder.
//
// Every firing gets one notification log row keyed by its instance id. A row
// starts pending and moves once to taken or skipped. A response that arrives
// before the fire was recorded creates the row directly in its final state.
package disposition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/repository"
)

const (
	DefaultPendingLimit  = 50
	DefaultMedicineLimit = 100
	DefaultRetention     = 90 * 24 * time.Hour
)

// Occurrence identifies one fired reminder instance.
type Occurrence struct {
	InstanceID    string
	ScheduleID    int64
	MedicineID    int64
	ScheduledTime time.Time
}

type Tracker struct {
	logs repository.LogRepository
	log  zerolog.Logger
	now  func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func New(logs repository.LogRepository, log zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		logs: logs,
		log:  log.With().Str("component", "disposition").Logger(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnFire makes sure a log row exists for the occurrence. Repeated delivery
// of the same firing is a no-op; created reports whether a row was added.
func (t *Tracker) OnFire(ctx context.Context, occ Occurrence) (l *models.NotificationLog, created bool, err error) {
	existing, err := t.logs.GetLogByHandle(ctx, occ.InstanceID)
	switch {
	case err == nil:
		t.log.Debug().Str("instance", occ.InstanceID).Msg("duplicate fire ignored")
		return existing, false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, fmt.Errorf("lookup log %s: %w", occ.InstanceID, err)
	}

	l = &models.NotificationLog{
		ReminderHandle: occ.InstanceID,
		ScheduleID:     occ.ScheduleID,
		MedicineID:     occ.MedicineID,
		ScheduledTime:  occ.ScheduledTime,
		Status:         models.StatusPending,
	}
	if err := t.logs.CreateLog(ctx, l); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			existing, err := t.logs.GetLogByHandle(ctx, occ.InstanceID)
			return existing, false, err
		}
		return nil, false, fmt.Errorf("create log %s: %w", occ.InstanceID, err)
	}
	t.log.Info().
		Str("instance", occ.InstanceID).
		Int64("schedule_id", occ.ScheduleID).
		Time("scheduled", occ.ScheduledTime).
		Msg("reminder fired")
	return l, true, nil
}

// OnUserResponse records taken or skipped. A pending row is finalized, a
// missing row is created already final, and a final row never changes.
func (t *Tracker) OnUserResponse(ctx context.Context, occ Occurrence, status models.Status) (*models.NotificationLog, error) {
	if status != models.StatusTaken && status != models.StatusSkipped {
		return nil, &models.ValidationError{Field: "status", Reason: "response must be taken or skipped"}
	}
	now := t.now()

	existing, err := t.logs.GetLogByHandle(ctx, occ.InstanceID)
	if errors.Is(err, repository.ErrNotFound) {
		l := &models.NotificationLog{
			ReminderHandle: occ.InstanceID,
			ScheduleID:     occ.ScheduleID,
			MedicineID:     occ.MedicineID,
			ScheduledTime:  occ.ScheduledTime,
			RespondedAt:    &now,
			Status:         status,
		}
		err = t.logs.CreateLog(ctx, l)
		if err == nil {
			t.logResponse(occ, status, "recorded response without fire")
			return l, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("create log %s: %w", occ.InstanceID, err)
		}
		// The fire landed in between; finalize its row instead.
		existing, err = t.logs.GetLogByHandle(ctx, occ.InstanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup log %s: %w", occ.InstanceID, err)
	}

	if existing.Status.Terminal() {
		t.log.Debug().
			Str("instance", occ.InstanceID).
			Str("status", string(existing.Status)).
			Msg("response ignored, already final")
		return existing, nil
	}
	if _, err := t.logs.RespondLog(ctx, existing.ID, status, now); err != nil {
		return nil, fmt.Errorf("respond log %s: %w", occ.InstanceID, err)
	}
	t.logResponse(occ, status, "recorded response")
	return t.logs.GetLogByHandle(ctx, occ.InstanceID)
}

func (t *Tracker) logResponse(occ Occurrence, status models.Status, msg string) {
	t.log.Info().
		Str("instance", occ.InstanceID).
		Int64("schedule_id", occ.ScheduleID).
		Str("status", string(status)).
		Msg(msg)
}

// Pending lists unanswered reminders, most recent first.
func (t *Tracker) Pending(ctx context.Context, limit int) ([]*models.NotificationLogWithMedicine, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return t.logs.ListLogs(ctx, models.LogFilter{Status: models.StatusPending, Limit: limit})
}

func (t *Tracker) ByStatus(ctx context.Context, status models.Status, limit int) ([]*models.NotificationLogWithMedicine, error) {
	if !status.Valid() {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", status)}
	}
	return t.logs.ListLogs(ctx, models.LogFilter{Status: status, Limit: limit})
}

func (t *Tracker) BySchedule(ctx context.Context, scheduleID int64, limit int) ([]*models.NotificationLogWithMedicine, error) {
	return t.logs.ListLogs(ctx, models.LogFilter{ScheduleID: scheduleID, Limit: limit})
}

func (t *Tracker) ByMedicine(ctx context.Context, medicineID int64, limit int) ([]*models.NotificationLogWithMedicine, error) {
	if limit <= 0 {
		limit = DefaultMedicineLimit
	}
	return t.logs.ListLogs(ctx, models.LogFilter{MedicineID: medicineID, Limit: limit})
}

// Today lists logs scheduled on now's calendar date.
func (t *Tracker) Today(ctx context.Context, now time.Time) ([]*models.NotificationLogWithMedicine, error) {
	return t.logs.ListLogs(ctx, DayFilter(now))
}

func (t *Tracker) Recent(ctx context.Context, limit int) ([]*models.NotificationLogWithMedicine, error) {
	return t.logs.ListLogs(ctx, models.LogFilter{Limit: limit})
}

// DayFilter matches logs scheduled on the calendar date of now, in now's
// location.
func DayFilter(now time.Time) models.LogFilter {
	day := civil.DateOf(now)
	return models.LogFilter{
		From: day.In(now.Location()),
		To:   day.AddDays(1).In(now.Location()),
	}
}

// Summary is a per-status count.
type Summary struct {
	Pending int `json:"pending"`
	Taken   int `json:"taken"`
	Skipped int `json:"skipped"`
	Missed  int `json:"missed"`
}

func (s Summary) Total() int {
	return s.Pending + s.Taken + s.Skipped + s.Missed
}

// Adherence is the share of answered reminders that were taken, in [0,1].
// It is 0 when nothing was answered.
func (s Summary) Adherence() float64 {
	answered := s.Taken + s.Skipped + s.Missed
	if answered == 0 {
		return 0
	}
	return float64(s.Taken) / float64(answered)
}

func (t *Tracker) Counts(ctx context.Context, f models.LogFilter) (Summary, error) {
	counts, err := t.logs.CountLogs(ctx, f)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Pending: counts[models.StatusPending],
		Taken:   counts[models.StatusTaken],
		Skipped: counts[models.StatusSkipped],
		Missed:  counts[models.StatusMissed],
	}, nil
}

// Purge deletes logs created more than olderThan ago.
func (t *Tracker) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = DefaultRetention
	}
	n, err := t.logs.DeleteLogsBefore(ctx, t.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge logs: %w", err)
	}
	t.log.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("purged notification logs")
	return n, nil
}
