package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/MedLine/internal/models"
)

const logColumns = `nl.id, nl.reminder_handle, nl.schedule_id, nl.medicine_id, nl.scheduled_time,
	nl.responded_at, nl.status, nl.created_at`

func scanLog(row pgx.Row) (*models.NotificationLog, error) {
	l := &models.NotificationLog{}
	if err := row.Scan(&l.ID, &l.ReminderHandle, &l.ScheduleID, &l.MedicineID, &l.ScheduledTime,
		&l.RespondedAt, &l.Status, &l.CreatedAt); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *PostgresStore) CreateLog(ctx context.Context, l *models.NotificationLog) error {
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO notification_logs (reminder_handle, schedule_id, medicine_id, scheduled_time, responded_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		l.ReminderHandle, l.ScheduleID, l.MedicineID, l.ScheduledTime, l.RespondedAt, string(l.Status),
	).Scan(&l.ID, &l.CreatedAt)
	return pgError(err)
}

func (r *PostgresStore) GetLogByHandle(ctx context.Context, handle string) (*models.NotificationLog, error) {
	l, err := scanLog(r.db.Pool.QueryRow(ctx,
		`SELECT `+logColumns+` FROM notification_logs nl WHERE nl.reminder_handle = $1`, handle))
	if err != nil {
		return nil, pgError(err)
	}
	return l, nil
}

func (r *PostgresStore) RespondLog(ctx context.Context, id int64, status models.Status, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE notification_logs SET status = $1, responded_at = $2 WHERE id = $3 AND status = 'pending'`,
		string(status), at, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresStore) ListLogs(ctx context.Context, f models.LogFilter) ([]*models.NotificationLogWithMedicine, error) {
	where := logWhere(f, dollar, pgTime)
	rows, err := r.db.Pool.Query(ctx,
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
		l := &models.NotificationLogWithMedicine{}
		if err := rows.Scan(&l.ID, &l.ReminderHandle, &l.ScheduleID, &l.MedicineID, &l.ScheduledTime,
			&l.RespondedAt, &l.Status, &l.CreatedAt, &l.MedicineName, &l.MedicineDosage, &l.MedicineForm); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *PostgresStore) CountLogs(ctx context.Context, f models.LogFilter) (map[models.Status]int, error) {
	where := logWhere(f, dollar, pgTime)
	rows, err := r.db.Pool.Query(ctx,
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

func (r *PostgresStore) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM notification_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
