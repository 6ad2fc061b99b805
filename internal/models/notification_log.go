package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the disposition of one fired reminder instance.
type Status string

const (
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
	StatusSkipped Status = "skipped"
	// StatusMissed is accepted by storage but never produced yet.
	StatusMissed Status = "missed"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", s)}
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTaken, StatusSkipped, StatusMissed:
		return true
	}
	return false
}

// Terminal reports statuses that can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusTaken, StatusSkipped, StatusMissed:
		return true
	}
	return false
}

type NotificationLog struct {
	ID             int64      `json:"id"`
	ReminderHandle string     `json:"reminder_handle"` // fired instance id, unique
	ScheduleID     int64      `json:"schedule_id"`
	MedicineID     int64      `json:"medicine_id"`
	ScheduledTime  time.Time  `json:"scheduled_time"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NotificationLogWithMedicine adds the display fields of the medicine.
type NotificationLogWithMedicine struct {
	NotificationLog
	MedicineName   string `json:"medicine_name"`
	MedicineDosage string `json:"medicine_dosage"`
	MedicineForm   Form   `json:"medicine_form"`
}

// InstanceID identifies one firing of a timer. Repeating timers keep their
// id across firings, so the due instant is part of the identity.
func InstanceID(timerID string, due time.Time) string {
	return timerID + "@" + strconv.FormatInt(due.Unix(), 10)
}

// ParseInstanceID splits an id produced by InstanceID.
func ParseInstanceID(id string) (timerID string, due time.Time, err error) {
	i := strings.LastIndexByte(id, '@')
	if i <= 0 || i == len(id)-1 {
		return "", time.Time{}, fmt.Errorf("invalid reminder instance id %q", id)
	}
	sec, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid reminder instance id %q: %w", id, err)
	}
	return id[:i], time.Unix(sec, 0), nil
}

// LogFilter narrows log queries. Zero values mean "any".
type LogFilter struct {
	Status     Status
	ScheduleID int64
	MedicineID int64
	From       time.Time // inclusive, on scheduled_time
	To         time.Time // exclusive
	Limit      int
}
