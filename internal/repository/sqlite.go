package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/hray3182/MedLine/internal/models"
)

// sqliteTimeLayout is fixed width so text comparison orders instants.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store on a local database/sql handle opened by
// database.OpenSQLite. Arrays are stored as JSON text.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (r *SQLiteStore) Close() error {
	return r.db.Close()
}

func (r *SQLiteStore) ClearAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"notification_logs", "schedules", "medicines"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteTime(t time.Time) any { return formatTime(t) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

var sqliteCodec = columnCodec{
	days: func(w models.Weekdays) any {
		return mustJSON(w.Ints())
	},
	handles: func(h models.Handles) any {
		if h == nil {
			h = models.Handles{}
		}
		return mustJSON([]string(h))
	},
	date: func(d civil.Date) any { return d.String() },
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Medicines

func scanSQLiteMedicine(row rowScanner) (*models.Medicine, error) {
	var (
		m                models.Medicine
		created, updated string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Dosage, &m.Form, &m.Instructions, &m.Color, &m.Icon,
		&m.Active, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *SQLiteStore) CreateMedicine(ctx context.Context, m *models.Medicine) error {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO medicines (name, dosage, form, instructions, color, icon, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.Dosage, string(m.Form), m.Instructions, m.Color, m.Icon, m.Active, formatTime(now), formatTime(now),
	)
	if err != nil {
		return sqliteError(err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	m.CreatedAt, m.UpdatedAt = now, now
	return nil
}

func (r *SQLiteStore) GetMedicine(ctx context.Context, id int64) (*models.Medicine, error) {
	m, err := scanSQLiteMedicine(r.db.QueryRowContext(ctx,
		`SELECT `+medicineColumns+` FROM medicines WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteError(err)
	}
	return m, nil
}

func (r *SQLiteStore) ListMedicines(ctx context.Context, activeOnly bool) ([]*models.Medicine, error) {
	query := `SELECT ` + medicineColumns + ` FROM medicines`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var medicines []*models.Medicine
	for rows.Next() {
		m, err := scanSQLiteMedicine(rows)
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, m)
	}
	return medicines, rows.Err()
}

func (r *SQLiteStore) UpdateMedicine(ctx context.Context, id int64, p models.MedicinePatch) (*models.Medicine, error) {
	set := medicineSet(p, question)
	set.add("updated_at = ?", formatTime(r.now()))
	res, err := r.db.ExecContext(ctx, `UPDATE medicines SET `+set.set()+` WHERE id = `+set.bind(id), set.args...)
	if err != nil {
		return nil, sqliteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.GetMedicine(ctx, id)
}

func (r *SQLiteStore) DeleteMedicine(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "medicines", id)
}

func (r *SQLiteStore) deleteByID(ctx context.Context, table string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Schedules

func scanSQLiteSchedule(row rowScanner) (*models.Schedule, error) {
	var (
		s                     models.Schedule
		timeOfDay, rec        string
		daysJSON, handlesJSON string
		start                 string
		end                   sql.NullString
		created, updated      string
	)
	if err := row.Scan(&s.ID, &s.MedicineID, &timeOfDay, &rec, &daysJSON, &start, &end,
		&handlesJSON, &s.Active, &created, &updated); err != nil {
		return nil, err
	}

	var days []int
	if err := json.Unmarshal([]byte(daysJSON), &days); err != nil {
		return nil, fmt.Errorf("schedule %d: recurrence_days: %w", s.ID, err)
	}
	var handles []string
	if err := json.Unmarshal([]byte(handlesJSON), &handles); err != nil {
		return nil, fmt.Errorf("schedule %d: reminder_handles: %w", s.ID, err)
	}

	var err error
	if s.StartDate, err = civil.ParseDate(start); err != nil {
		return nil, err
	}
	if end.Valid {
		d, err := civil.ParseDate(end.String)
		if err != nil {
			return nil, err
		}
		s.EndDate = &d
	}
	if s.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if err := decodeSchedule(&s, timeOfDay, rec, days, handles); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SQLiteStore) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	now := r.now().UTC()
	var end any
	if s.EndDate != nil {
		end = s.EndDate.String()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO schedules (medicine_id, time, recurrence, recurrence_days, start_date, end_date,
		 reminder_handles, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.MedicineID, s.Time.String(), string(s.Recurrence), sqliteCodec.days(s.RecurrenceDays),
		s.StartDate.String(), end, sqliteCodec.handles(s.ReminderHandles), s.Active,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return sqliteError(err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

func (r *SQLiteStore) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	s, err := scanSQLiteSchedule(r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteError(err)
	}
	return s, nil
}

func (r *SQLiteStore) ListSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return r.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY time, id`)
}

func (r *SQLiteStore) ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return r.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE active = 1 ORDER BY time, id`)
}

func (r *SQLiteStore) ListSchedulesByMedicine(ctx context.Context, medicineID int64) ([]*models.Schedule, error) {
	return r.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE medicine_id = ? ORDER BY time, id`, medicineID)
}

func (r *SQLiteStore) querySchedules(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		s, err := scanSQLiteSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *SQLiteStore) UpdateSchedule(ctx context.Context, id int64, p models.SchedulePatch) (*models.Schedule, error) {
	set := scheduleSet(p, question, sqliteCodec)
	set.add("updated_at = ?", formatTime(r.now()))
	res, err := r.db.ExecContext(ctx, `UPDATE schedules SET `+set.set()+` WHERE id = `+set.bind(id), set.args...)
	if err != nil {
		return nil, sqliteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.GetSchedule(ctx, id)
}

func (r *SQLiteStore) DeleteSchedule(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "schedules", id)
}

// Notification logs

func scanSQLiteLog(row rowScanner, extra ...any) (*models.NotificationLog, error) {
	var (
		l                  models.NotificationLog
		scheduled, created string
		responded          sql.NullString
	)
	dest := append([]any{&l.ID, &l.ReminderHandle, &l.ScheduleID, &l.MedicineID, &scheduled,
		&responded, &l.Status, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if l.ScheduledTime, err = parseTime(scheduled); err != nil {
		return nil, err
	}
	if l.RespondedAt, err = parseNullTime(responded); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *SQLiteStore) CreateLog(ctx context.Context, l *models.NotificationLog) error {
	now := r.now().UTC()
	var responded any
	if l.RespondedAt != nil {
		responded = formatTime(*l.RespondedAt)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_logs (reminder_handle, schedule_id, medicine_id, scheduled_time, responded_at, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ReminderHandle, l.ScheduleID, l.MedicineID, formatTime(l.ScheduledTime), responded, string(l.Status), formatTime(now),
	)
	if err != nil {
		return sqliteError(err)
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	l.CreatedAt = now
	return nil
}

func (r *SQLiteStore) GetLogByHandle(ctx context.Context, handle string) (*models.NotificationLog, error) {
	l, err := scanSQLiteLog(r.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM notification_logs nl WHERE nl.reminder_handle = ?`, handle))
	if err != nil {
		return nil, sqliteError(err)
	}
	return l, nil
}

func (r *SQLiteStore) RespondLog(ctx context.Context, id int64, status models.Status, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notification_logs SET status = ?, responded_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), formatTime(at), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SQLiteStore) ListLogs(ctx context.Context, f models.LogFilter) ([]*models.NotificationLogWithMedicine, error) {
	where := logWhere(f, question, sqliteTime)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+logColumns+`, COALESCE(m.name, ''), COALESCE(m.dosage, ''), COALESCE(m.form, '')
		 FROM notification_logs nl LEFT JOIN medicines m ON m.id = nl.medicine_id`+
			where.where()+` ORDER BY nl.scheduled_time DESC, nl.id DESC`+limitClause(f.Limit),
		where.args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.NotificationLogWithMedicine
	for rows.Next() {
		var (
			name, dosage string
			form         models.Form
		)
		l, err := scanSQLiteLog(rows, &name, &dosage, &form)
		if err != nil {
			return nil, err
		}
		logs = append(logs, &models.NotificationLogWithMedicine{
			NotificationLog: *l,
			MedicineName:    name,
			MedicineDosage:  dosage,
			MedicineForm:    form,
		})
	}
	return logs, rows.Err()
}

func (r *SQLiteStore) CountLogs(ctx context.Context, f models.LogFilter) (map[models.Status]int, error) {
	where := logWhere(f, question, sqliteTime)
	rows, err := r.db.QueryContext(ctx,
		`SELECT nl.status, COUNT(*) FROM notification_logs nl`+where.where()+` GROUP BY nl.status`,
		where.args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteStore) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notification_logs WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
