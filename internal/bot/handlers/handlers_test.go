package handlers

import (
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/MedLine/internal/dispatch"
	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/platform"
	"github.com/hray3182/MedLine/internal/service"
)

var due = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

func TestDoseCallbackRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		timerID string
		encoded string
	}{
		{
			name:    "uuid timer id is compacted",
			timerID: "6f1c2d3e-4b5a-4c7d-8e9f-0a1b2c3d4e5f",
			encoded: "dose:t:12:3:1705309200:6f1c2d3e4b5a4c7d8e9f0a1b2c3d4e5f",
		},
		{
			name:    "other timer ids are kept",
			timerID: "timer-1",
			encoded: "dose:t:12:3:1705309200:timer-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := DoseCallback{
				Choice:     models.StatusTaken,
				ScheduleID: 12,
				MedicineID: 3,
				Due:        due,
				TimerID:    tt.timerID,
			}
			data, err := cb.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.encoded, data)
			assert.LessOrEqual(t, len(data), maxCallbackData)

			got, err := ParseDoseCallback(data)
			require.NoError(t, err)
			assert.Equal(t, cb, got)
		})
	}
}

func TestDoseCallbackEvent(t *testing.T) {
	got, err := ParseDoseCallback("dose:s:12:3:1705309200:timer-1")
	require.NoError(t, err)

	ev := got.Event()
	assert.Equal(t, platform.EventUserResponded, ev.Kind)
	assert.Equal(t, models.StatusSkipped, ev.Choice)
	assert.Equal(t, int64(12), ev.Payload.ScheduleID)
	assert.Equal(t, int64(3), ev.Payload.MedicineID)
	assert.True(t, due.Equal(ev.DueAt))
	// Must match the instance the fired event produced.
	assert.Equal(t, models.InstanceID("timer-1", due), ev.InstanceID())
}

func TestDoseCallbackEncodeErrors(t *testing.T) {
	_, err := DoseCallback{Choice: models.StatusPending, TimerID: "x", Due: due}.Encode()
	assert.Error(t, err)

	_, err = DoseCallback{Choice: models.StatusTaken, TimerID: "a:b", Due: due}.Encode()
	assert.Error(t, err)

	_, err = DoseCallback{Choice: models.StatusTaken, TimerID: strings.Repeat("x", 50), Due: due}.Encode()
	assert.ErrorContains(t, err, "limit")
}

func TestParseDoseCallbackRejects(t *testing.T) {
	for _, data := range []string{
		"",
		"confirm:1",
		"dose:x:1:2:3:t",
		"dose:t:a:2:3:t",
		"dose:t:1:b:3:t",
		"dose:t:1:2:c:t",
		"dose:t:1:2:3:",
		"dose:t:1:2:3",
	} {
		_, err := ParseDoseCallback(data)
		assert.Error(t, err, data)
	}
}

func TestDoseKeyboard(t *testing.T) {
	kb, err := doseKeyboard(dispatch.Reminder{
		Occurrence: disposition.Occurrence{ScheduleID: 12, MedicineID: 3, ScheduledTime: due},
		TimerID:    "timer-1",
	})
	require.NoError(t, err)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, "dose:t:12:3:1705309200:timer-1", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "dose:s:12:3:1705309200:timer-1", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestReminderText(t *testing.T) {
	r := dispatch.Reminder{
		Occurrence: disposition.Occurrence{ScheduledTime: due},
		Medicine:   models.Medicine{Name: "Aspirin", Dosage: "100mg", Instructions: "after breakfast"},
	}
	assert.Equal(t,
		"💊 Time to take **Aspirin** (100mg)\n⏰ Mon 2024-01-15 09:00\n📝 after breakfast",
		ReminderText(r, time.UTC))

	r.Medicine.Instructions = ""
	assert.NotContains(t, ReminderText(r, time.UTC), "📝")
}

func TestRenderToday(t *testing.T) {
	assert.Equal(t, "📅 Nothing scheduled today", RenderToday(nil, due))

	aspirin := models.Medicine{Name: "Aspirin", Dosage: "100mg"}
	doses := []*service.Dose{
		{
			ScheduleWithMedicine: models.ScheduleWithMedicine{
				Schedule: models.Schedule{Recurrence: models.RecurrenceDaily},
				Medicine: aspirin,
			},
			At:     due,
			Status: models.StatusTaken,
		},
		{
			ScheduleWithMedicine: models.ScheduleWithMedicine{
				Schedule: models.Schedule{Recurrence: models.RecurrenceAsNeeded},
				Medicine: aspirin,
			},
			At: due.Add(3 * time.Hour),
		},
	}
	got := RenderToday(doses, due)
	assert.Contains(t, got, "Mon 2024-01-15")
	assert.Contains(t, got, "✅ 09:00  Aspirin (100mg)")
	assert.Contains(t, got, "⏰ as needed  Aspirin (100mg)")
}

func TestRenderUpcoming(t *testing.T) {
	assert.Equal(t, "⏰ No upcoming reminders", RenderUpcoming(nil, time.UTC))

	got := RenderUpcoming([]*service.Dose{{
		ScheduleWithMedicine: models.ScheduleWithMedicine{
			Schedule: models.Schedule{
				Time:       models.MustTimeOfDay("09:00"),
				Recurrence: models.RecurrenceDaily,
				StartDate:  civil.Date{Year: 2024, Month: time.January, Day: 1},
				Active:     true,
			},
			Medicine: models.Medicine{Name: "Aspirin", Dosage: "100mg"},
		},
		At: due,
	}}, time.UTC)
	assert.Contains(t, got, "Mon 01-15 09:00  Aspirin (100mg)")
	assert.Contains(t, got, "every day at 09:00")
}

func TestRenderPending(t *testing.T) {
	assert.Equal(t, "🔔 Nothing waiting for an answer", RenderPending(nil, time.UTC))

	got := RenderPending([]*models.NotificationLogWithMedicine{{
		NotificationLog: models.NotificationLog{ScheduledTime: due, Status: models.StatusPending},
		MedicineName:    "Aspirin",
		MedicineDosage:  "100mg",
	}}, time.UTC)
	assert.Contains(t, got, "01-15 09:00  Aspirin (100mg)")
}

func TestRenderStats(t *testing.T) {
	assert.Contains(t, RenderStats(disposition.Summary{}, 7), "No reminders recorded yet")

	got := RenderStats(disposition.Summary{Taken: 3, Skipped: 1, Pending: 2}, 7)
	assert.Contains(t, got, "Last 7 days")
	assert.Contains(t, got, "✅ Taken: 3")
	assert.Contains(t, got, "Adherence: **75%**")
}

func TestIntArgument(t *testing.T) {
	assert.Equal(t, 5, intArgument("", 5, 20))
	assert.Equal(t, 5, intArgument("abc", 5, 20))
	assert.Equal(t, 5, intArgument("-3", 5, 20))
	assert.Equal(t, 8, intArgument(" 8 ", 5, 20))
	assert.Equal(t, 20, intArgument("99", 5, 20))
}

func TestResultLabel(t *testing.T) {
	at := time.Date(2024, time.January, 15, 9, 3, 0, 0, time.UTC)
	tests := []struct {
		name string
		log  *models.NotificationLog
		err  error
		want string
	}{
		{"taken", &models.NotificationLog{Status: models.StatusTaken, RespondedAt: &at}, nil, "✅ Taken at 09:03"},
		{"skipped", &models.NotificationLog{Status: models.StatusSkipped, RespondedAt: &at}, nil, "⏭ Skipped at 09:03"},
		{"no response time", &models.NotificationLog{Status: models.StatusTaken}, nil, "✅ Taken"},
		{"still pending", &models.NotificationLog{Status: models.StatusPending}, nil, "⚠️ Could not record your answer"},
		{"error", nil, errors.New("schedule gone"), "⚠️ Could not record your answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resultLabel(tt.log, tt.err, time.UTC))
		})
	}
}
