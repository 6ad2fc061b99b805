package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/models"
)

// Reminder is a fired dose that should be shown to the user.
type Reminder struct {
	Occurrence disposition.Occurrence
	TimerID    string
	Schedule   models.Schedule
	Medicine   models.Medicine
	Log        *models.NotificationLog
}

type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// LogNotifier only writes reminders to the log. It is used when no chat
// front end is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, r Reminder) error {
	n.Log.Info().
		Str("medicine", r.Medicine.Name).
		Str("dosage", r.Medicine.Dosage).
		Time("scheduled", r.Occurrence.ScheduledTime).
		Str("instance", r.Occurrence.InstanceID).
		Msg("time to take medicine")
	return nil
}
