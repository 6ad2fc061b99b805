// Package platform models the device timer service reminders are built on.
//
// The only primitive is "fire once after N seconds" or "fire after N seconds
// and then every M seconds". Anything calendar-shaped is translated into
// such triggers by the scheduler package.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/hray3182/MedLine/internal/models"
)

// ErrUnavailable is returned by timer services that cannot arm timers.
var ErrUnavailable = errors.New("platform timers unavailable")

// Payload travels with a timer and comes back on every firing.
type Payload struct {
	ScheduleID    int64     `json:"schedule_id"`
	MedicineID    int64     `json:"medicine_id"`
	MedicineName  string    `json:"medicine_name"`
	Dosage        string    `json:"dosage"`
	ScheduledTime time.Time `json:"scheduled_time"` // first due instant of this timer
}

// Trigger is the interval-only firing rule.
type Trigger struct {
	AfterSeconds  int64
	RepeatSeconds int64 // 0 = one-shot
}

func (t Trigger) Repeats() bool { return t.RepeatSeconds > 0 }

// Timers is the platform timer table.
type Timers interface {
	// Schedule arms a timer and returns its id.
	Schedule(ctx context.Context, p Payload, trig Trigger) (string, error)
	// Cancel disarms a timer. Unknown or already finished ids are not an error.
	Cancel(ctx context.Context, id string) error
	// RequestPermission reports whether reminders may be shown at all.
	RequestPermission(ctx context.Context) (bool, error)
}

type EventKind int

const (
	EventFired EventKind = iota + 1
	EventUserResponded
)

func (k EventKind) String() string {
	switch k {
	case EventFired:
		return "fired"
	case EventUserResponded:
		return "user_responded"
	}
	return "unknown"
}

// Event is delivered by the platform to the driving loop.
type Event struct {
	Kind    EventKind
	TimerID string
	Payload Payload
	// DueAt is the nominal instant of this firing.
	DueAt time.Time
	// Choice is set on EventUserResponded: taken or skipped.
	Choice models.Status
	// Reply, if set on EventUserResponded, receives the log as recorded or
	// the error. It runs on the loop goroutine.
	Reply func(*models.NotificationLog, error)
}

// InstanceID is the identity of this particular firing.
func (e Event) InstanceID() string {
	return models.InstanceID(e.TimerID, e.DueAt)
}

// Queue is the message-passing side of the platform.
type Queue interface {
	Events() <-chan Event
	// Post delivers an event produced outside the timer table, such as a
	// user tapping a reminder.
	Post(ctx context.Context, ev Event) error
}

// Offline never grants permission, so registrations come back empty and are
// picked up later by a sweep in a process that owns real timers.
type Offline struct{}

func (Offline) Schedule(context.Context, Payload, Trigger) (string, error) {
	return "", ErrUnavailable
}

func (Offline) Cancel(context.Context, string) error { return nil }

func (Offline) RequestPermission(context.Context) (bool, error) { return false, nil }
