package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/recurrence"
	"github.com/hray3182/MedLine/internal/service"
)

const (
	defaultUpcoming = 5
	maxUpcoming     = 20
	defaultStatDays = 7
	maxStatDays     = 365
)

func (h *Handlers) handleToday(ctx context.Context, msg *tgbotapi.Message) {
	now := h.now()
	doses, err := h.service.DueToday(ctx, now)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list today's doses")
		h.sendMessage(msg.Chat.ID, "Could not load today's doses, please try again later")
		return
	}
	h.sendMessage(msg.Chat.ID, RenderToday(doses, now))
}

func (h *Handlers) handleUpcoming(ctx context.Context, msg *tgbotapi.Message) {
	n := intArgument(msg.CommandArguments(), defaultUpcoming, maxUpcoming)
	now := h.now()
	doses, err := h.service.Upcoming(ctx, now, n)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list upcoming doses")
		h.sendMessage(msg.Chat.ID, "Could not load upcoming reminders, please try again later")
		return
	}
	h.sendMessage(msg.Chat.ID, RenderUpcoming(doses, h.loc))
}

func (h *Handlers) handlePending(ctx context.Context, msg *tgbotapi.Message) {
	logs, err := h.tracker.Pending(ctx, disposition.DefaultPendingLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list pending reminders")
		h.sendMessage(msg.Chat.ID, "Could not load pending reminders, please try again later")
		return
	}
	h.sendMessage(msg.Chat.ID, RenderPending(logs, h.loc))
}

func (h *Handlers) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	days := intArgument(msg.CommandArguments(), defaultStatDays, maxStatDays)
	now := h.now()
	from := disposition.DayFilter(now.AddDate(0, 0, -(days - 1))).From
	sum, err := h.tracker.Counts(ctx, models.LogFilter{From: from})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count logs")
		h.sendMessage(msg.Chat.ID, "Could not load statistics, please try again later")
		return
	}
	h.sendMessage(msg.Chat.ID, RenderStats(sum, days))
}

// intArgument parses a positive count, falling back to def and capping at
// limit.
func intArgument(args string, def, limit int) int {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, limit)
}

func statusIcon(s models.Status) string {
	switch s {
	case models.StatusPending:
		return "🔔"
	case models.StatusTaken:
		return "✅"
	case models.StatusSkipped:
		return "⏭"
	case models.StatusMissed:
		return "❌"
	}
	return "⏰"
}

func RenderToday(doses []*service.Dose, now time.Time) string {
	if len(doses) == 0 {
		return "📅 Nothing scheduled today"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 **Today** (%s)\n\n", now.Format("Mon 2006-01-02"))
	for _, d := range doses {
		when := d.At.Format("15:04")
		if d.Recurrence == models.RecurrenceAsNeeded {
			when = "as needed"
		}
		fmt.Fprintf(&sb, "%s %s  %s (%s)\n", statusIcon(d.Status), when, d.Medicine.Name, d.Medicine.Dosage)
	}
	return sb.String()
}

func RenderUpcoming(doses []*service.Dose, loc *time.Location) string {
	if len(doses) == 0 {
		return "⏰ No upcoming reminders"
	}
	var sb strings.Builder
	sb.WriteString("⏰ **Upcoming**\n\n")
	for _, d := range doses {
		fmt.Fprintf(&sb, "%s  %s (%s)\n", d.At.In(loc).Format("Mon 01-02 15:04"), d.Medicine.Name, d.Medicine.Dosage)
		fmt.Fprintf(&sb, "   %s\n", recurrence.Describe(&d.Schedule))
	}
	return sb.String()
}

func RenderPending(logs []*models.NotificationLogWithMedicine, loc *time.Location) string {
	if len(logs) == 0 {
		return "🔔 Nothing waiting for an answer"
	}
	var sb strings.Builder
	sb.WriteString("🔔 **Waiting for an answer**\n\n")
	for _, l := range logs {
		fmt.Fprintf(&sb, "%s  %s (%s)\n", l.ScheduledTime.In(loc).Format("01-02 15:04"), l.MedicineName, l.MedicineDosage)
	}
	return sb.String()
}

func RenderStats(s disposition.Summary, days int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 **Last %d days**\n\n", days)
	if s.Total() == 0 {
		sb.WriteString("No reminders recorded yet")
		return sb.String()
	}
	fmt.Fprintf(&sb, "✅ Taken: %d\n", s.Taken)
	fmt.Fprintf(&sb, "⏭ Skipped: %d\n", s.Skipped)
	fmt.Fprintf(&sb, "❌ Missed: %d\n", s.Missed)
	fmt.Fprintf(&sb, "🔔 Pending: %d\n\n", s.Pending)
	fmt.Fprintf(&sb, "Adherence: **%.0f%%**", s.Adherence()*100)
	return sb.String()
}
