package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/hray3182/MedLine/internal/dispatch"
	"github.com/hray3182/MedLine/internal/format"
	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/platform"
)

// Telegram rejects callback data longer than this.
const maxCallbackData = 64

const dosePrefix = "dose"

// DoseCallback is the answer to a reminder button. It carries the whole
// occurrence so the answer can be recorded even when the fire was not.
type DoseCallback struct {
	Choice     models.Status
	ScheduleID int64
	MedicineID int64
	Due        time.Time
	TimerID    string
}

// Encode renders dose:<t|s>:<scheduleID>:<medicineID>:<unix>:<timerID>.
// UUID timer ids are written without dashes to stay under the size limit.
func (c DoseCallback) Encode() (string, error) {
	var choice string
	switch c.Choice {
	case models.StatusTaken:
		choice = "t"
	case models.StatusSkipped:
		choice = "s"
	default:
		return "", fmt.Errorf("cannot encode response %q", c.Choice)
	}
	if strings.Contains(c.TimerID, ":") {
		return "", fmt.Errorf("timer id %q contains a separator", c.TimerID)
	}

	data := strings.Join([]string{
		dosePrefix,
		choice,
		strconv.FormatInt(c.ScheduleID, 10),
		strconv.FormatInt(c.MedicineID, 10),
		strconv.FormatInt(c.Due.Unix(), 10),
		compactTimerID(c.TimerID),
	}, ":")
	if len(data) > maxCallbackData {
		return "", fmt.Errorf("callback data is %d bytes, limit is %d", len(data), maxCallbackData)
	}
	return data, nil
}

func ParseDoseCallback(data string) (DoseCallback, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 6 || parts[0] != dosePrefix {
		return DoseCallback{}, fmt.Errorf("not a dose callback: %q", data)
	}

	var c DoseCallback
	switch parts[1] {
	case "t":
		c.Choice = models.StatusTaken
	case "s":
		c.Choice = models.StatusSkipped
	default:
		return DoseCallback{}, fmt.Errorf("unknown response %q", parts[1])
	}

	var err error
	if c.ScheduleID, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
		return DoseCallback{}, fmt.Errorf("invalid schedule id: %w", err)
	}
	if c.MedicineID, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
		return DoseCallback{}, fmt.Errorf("invalid medicine id: %w", err)
	}
	sec, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return DoseCallback{}, fmt.Errorf("invalid due time: %w", err)
	}
	c.Due = time.Unix(sec, 0).UTC()
	if parts[5] == "" {
		return DoseCallback{}, fmt.Errorf("missing timer id")
	}
	c.TimerID = expandTimerID(parts[5])
	return c, nil
}

// Event is the platform event that records this answer.
func (c DoseCallback) Event() platform.Event {
	return platform.Event{
		Kind:    platform.EventUserResponded,
		TimerID: c.TimerID,
		Payload: platform.Payload{
			ScheduleID:    c.ScheduleID,
			MedicineID:    c.MedicineID,
			ScheduledTime: c.Due,
		},
		DueAt:  c.Due,
		Choice: c.Choice,
	}
}

func compactTimerID(id string) string {
	if len(id) == 36 {
		if _, err := uuid.Parse(id); err == nil {
			return strings.ReplaceAll(id, "-", "")
		}
	}
	return id
}

func expandTimerID(id string) string {
	if len(id) == 32 {
		if u, err := uuid.Parse(id); err == nil {
			return u.String()
		}
	}
	return id
}

// SendReminder posts a fired reminder with Taken and Skip buttons.
func (h *Handlers) SendReminder(ctx context.Context, r dispatch.Reminder) error {
	parsed := format.ParseMarkdown(ReminderText(r, h.loc))
	msg := tgbotapi.NewMessage(h.chatID, parsed.Text)
	msg.Entities = parsed.Entities

	keyboard, err := doseKeyboard(r)
	if err != nil {
		// The reminder still goes out; the answer can be given from the CLI.
		h.log.Warn().Err(err).Str("instance", r.Occurrence.InstanceID).Msg("sending reminder without buttons")
	} else {
		msg.ReplyMarkup = keyboard
	}

	if _, err := h.api.Send(msg); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	return nil
}

func doseKeyboard(r dispatch.Reminder) (tgbotapi.InlineKeyboardMarkup, error) {
	cb := DoseCallback{
		ScheduleID: r.Occurrence.ScheduleID,
		MedicineID: r.Occurrence.MedicineID,
		Due:        r.Occurrence.ScheduledTime,
		TimerID:    r.TimerID,
	}
	cb.Choice = models.StatusTaken
	taken, err := cb.Encode()
	if err != nil {
		return tgbotapi.InlineKeyboardMarkup{}, err
	}
	cb.Choice = models.StatusSkipped
	skip, err := cb.Encode()
	if err != nil {
		return tgbotapi.InlineKeyboardMarkup{}, err
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Taken", taken),
			tgbotapi.NewInlineKeyboardButtonData("⏭ Skip", skip),
		),
	), nil
}

// ReminderText is the markdown body of a reminder message.
func ReminderText(r dispatch.Reminder, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "💊 Time to take **%s** (%s)\n", r.Medicine.Name, r.Medicine.Dosage)
	fmt.Fprintf(&sb, "⏰ %s", r.Occurrence.ScheduledTime.In(loc).Format("Mon 2006-01-02 15:04"))
	if r.Medicine.Instructions != "" {
		fmt.Fprintf(&sb, "\n📝 %s", r.Medicine.Instructions)
	}
	return sb.String()
}

// resultLabel describes a recorded answer. An earlier answer wins over a
// later tap, so the label follows the log, not the button.
func resultLabel(l *models.NotificationLog, err error, loc *time.Location) string {
	if err != nil || l == nil {
		return "⚠️ Could not record your answer"
	}
	at := ""
	if l.RespondedAt != nil {
		at = " at " + l.RespondedAt.In(loc).Format("15:04")
	}
	switch l.Status {
	case models.StatusTaken:
		return "✅ Taken" + at
	case models.StatusSkipped:
		return "⏭ Skipped" + at
	}
	return "⚠️ Could not record your answer"
}
