package repository

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"

	"github.com/hray3182/MedLine/internal/models"
)

const scheduleColumns = `id, medicine_id, time, recurrence, recurrence_days, start_date, end_date,
	reminder_handles, active, created_at, updated_at`

// columnCodec converts the non-scalar schedule columns for one driver.
type columnCodec struct {
	days    func(models.Weekdays) any
	handles func(models.Handles) any
	date    func(civil.Date) any
}

var pgCodec = columnCodec{
	days: func(w models.Weekdays) any {
		out := make([]int16, len(w))
		for i, d := range w {
			out[i] = int16(d)
		}
		return out
	},
	handles: func(h models.Handles) any {
		if h == nil {
			return []string{}
		}
		return []string(h)
	},
	date: func(d civil.Date) any { return pgDate(d) },
}

func scanSchedule(row pgx.Row) (*models.Schedule, error) {
	var (
		s         models.Schedule
		timeOfDay string
		rec       string
		days      []int16
		start     time.Time
		end       *time.Time
		handles   []string
	)
	if err := row.Scan(&s.ID, &s.MedicineID, &timeOfDay, &rec, &days, &start, &end,
		&handles, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	ints := make([]int, len(days))
	for i, d := range days {
		ints[i] = int(d)
	}
	s.StartDate = civil.DateOf(start)
	if end != nil {
		d := civil.DateOf(*end)
		s.EndDate = &d
	}
	if err := decodeSchedule(&s, timeOfDay, rec, ints, handles); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresStore) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	var end any
	if s.EndDate != nil {
		end = pgDate(*s.EndDate)
	}
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO schedules (medicine_id, time, recurrence, recurrence_days, start_date, end_date, reminder_handles, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		s.MedicineID, s.Time.String(), string(s.Recurrence), pgCodec.days(s.RecurrenceDays),
		pgDate(s.StartDate), end, pgCodec.handles(s.ReminderHandles), s.Active,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return pgError(err)
}

func (r *PostgresStore) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	s, err := scanSchedule(r.db.Pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		return nil, pgError(err)
	}
	return s, nil
}

func (r *PostgresStore) ListSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return r.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY time, id`)
}

func (r *PostgresStore) ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return r.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE active ORDER BY time, id`)
}

func (r *PostgresStore) ListSchedulesByMedicine(ctx context.Context, medicineID int64) ([]*models.Schedule, error) {
	return r.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE medicine_id = $1 ORDER BY time, id`, medicineID)
}

func (r *PostgresStore) querySchedules(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *PostgresStore) UpdateSchedule(ctx context.Context, id int64, p models.SchedulePatch) (*models.Schedule, error) {
	set := scheduleSet(p, dollar, pgCodec)
	set.raw("updated_at = now()")
	query := `UPDATE schedules SET ` + set.set() + ` WHERE id = ` + set.bind(id) + ` RETURNING ` + scheduleColumns
	s, err := scanSchedule(r.db.Pool.QueryRow(ctx, query, set.args...))
	if err != nil {
		return nil, pgError(err)
	}
	return s, nil
}

func (r *PostgresStore) DeleteSchedule(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scheduleSet lists the columns a patch touches.
func scheduleSet(p models.SchedulePatch, placeholder func(int) string, codec columnCodec) *clauses {
	set := &clauses{placeholder: placeholder}
	if p.MedicineID != nil {
		set.add("medicine_id = ?", *p.MedicineID)
	}
	if p.Time != nil {
		set.add("time = ?", p.Time.String())
	}
	if p.Recurrence != nil {
		set.add("recurrence = ?", string(*p.Recurrence))
	}
	if p.RecurrenceDays != nil {
		set.add("recurrence_days = ?", codec.days(*p.RecurrenceDays))
	}
	if p.StartDate != nil {
		set.add("start_date = ?", codec.date(*p.StartDate))
	}
	if p.ClearEndDate {
		set.raw("end_date = NULL")
	} else if p.EndDate != nil {
		set.add("end_date = ?", codec.date(*p.EndDate))
	}
	if p.ReminderHandles != nil {
		set.add("reminder_handles = ?", codec.handles(*p.ReminderHandles))
	}
	if p.Active != nil {
		set.add("active = ?", *p.Active)
	}
	return set
}
