package dispatch

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/platform"
	"github.com/hray3182/MedLine/internal/repository"
	"github.com/hray3182/MedLine/internal/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var due = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	got chan Reminder
}

func (n *recordingNotifier) Notify(_ context.Context, r Reminder) error {
	n.got <- r
	return nil
}

type cancelRecorder struct {
	platform.Offline
	cancelled []string
}

func (c *cancelRecorder) Cancel(_ context.Context, id string) error {
	c.cancelled = append(c.cancelled, id)
	return nil
}

type fixture struct {
	store    *repository.MemoryStore
	loop     *Loop
	notifier *recordingNotifier
	sched    *models.Schedule
	med      *models.Medicine
}

func setup(t *testing.T, timers platform.Timers, queue platform.Queue, cfg Config) fixture {
	t.Helper()
	return setupIn(t, timers, queue, cfg, time.UTC)
}

func setupIn(t *testing.T, timers platform.Timers, queue platform.Queue, cfg Config, loc *time.Location) fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	med := &models.Medicine{Name: "Aspirin", Dosage: "100mg", Form: models.FormTablet, Active: true}
	require.NoError(t, store.CreateMedicine(ctx, med))
	sched := &models.Schedule{
		MedicineID:      med.ID,
		Time:            models.MustTimeOfDay("09:00"),
		Recurrence:      models.RecurrenceDaily,
		StartDate:       civil.Date{Year: 2024, Month: time.January, Day: 1},
		ReminderHandles: models.Handles{"timer-1"},
		Active:          true,
	}
	require.NoError(t, store.CreateSchedule(ctx, sched))

	sch := scheduler.New(timers, store, zerolog.Nop(), scheduler.WithLocation(loc))
	tracker := disposition.New(store, zerolog.Nop())
	notifier := &recordingNotifier{got: make(chan Reminder, 4)}
	return fixture{
		store:    store,
		loop:     New(queue, store, sch, tracker, notifier, cfg, zerolog.Nop()),
		notifier: notifier,
		sched:    sched,
		med:      med,
	}
}

func (f fixture) fired(timerID string) platform.Event {
	return f.firedAt(timerID, due)
}

func (f fixture) firedAt(timerID string, dueAt time.Time) platform.Event {
	return platform.Event{
		Kind:    platform.EventFired,
		TimerID: timerID,
		Payload: platform.Payload{
			ScheduleID:    f.sched.ID,
			MedicineID:    f.med.ID,
			MedicineName:  f.med.Name,
			Dosage:        f.med.Dosage,
			ScheduledTime: dueAt,
		},
		DueAt: dueAt,
	}
}

func (f fixture) logs(t *testing.T) []*models.NotificationLogWithMedicine {
	t.Helper()
	logs, err := f.store.ListLogs(context.Background(), models.LogFilter{})
	require.NoError(t, err)
	return logs
}

func TestFiredRecordsAndNotifiesOnce(t *testing.T) {
	timers := &cancelRecorder{}
	f := setup(t, timers, nil, Config{})
	ctx := context.Background()

	require.NoError(t, f.loop.Handle(ctx, f.fired("timer-1")))
	require.NoError(t, f.loop.Handle(ctx, f.fired("timer-1")))

	require.Len(t, f.notifier.got, 1)
	r := <-f.notifier.got
	assert.Equal(t, "Aspirin", r.Medicine.Name)
	assert.Equal(t, models.InstanceID("timer-1", due), r.Occurrence.InstanceID)
	assert.Equal(t, models.StatusPending, r.Log.Status)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, due, logs[0].ScheduledTime)
	assert.Empty(t, timers.cancelled)
}

func TestStaleTimersAreCancelled(t *testing.T) {
	ctx := context.Background()

	t.Run("replaced timer", func(t *testing.T) {
		timers := &cancelRecorder{}
		f := setup(t, timers, nil, Config{})
		require.NoError(t, f.loop.Handle(ctx, f.fired("old-timer")))
		assert.Equal(t, []string{"old-timer"}, timers.cancelled)
		assert.Empty(t, f.logs(t))
		assert.Empty(t, f.notifier.got)
	})

	t.Run("past end date", func(t *testing.T) {
		timers := &cancelRecorder{}
		f := setup(t, timers, nil, Config{})
		end := civil.Date{Year: 2024, Month: time.January, Day: 14}
		_, err := f.store.UpdateSchedule(ctx, f.sched.ID, models.SchedulePatch{EndDate: &end})
		require.NoError(t, err)

		require.NoError(t, f.loop.Handle(ctx, f.fired("timer-1")))
		assert.Equal(t, []string{"timer-1"}, timers.cancelled)
		assert.Empty(t, f.logs(t))
	})

	t.Run("inactive medicine", func(t *testing.T) {
		timers := &cancelRecorder{}
		f := setup(t, timers, nil, Config{})
		inactive := false
		_, err := f.store.UpdateMedicine(ctx, f.med.ID, models.MedicinePatch{Active: &inactive})
		require.NoError(t, err)

		require.NoError(t, f.loop.Handle(ctx, f.fired("timer-1")))
		assert.Equal(t, []string{"timer-1"}, timers.cancelled)
	})

	t.Run("deleted schedule", func(t *testing.T) {
		timers := &cancelRecorder{}
		f := setup(t, timers, nil, Config{})
		require.NoError(t, f.store.DeleteSchedule(ctx, f.sched.ID))

		require.NoError(t, f.loop.Handle(ctx, f.fired("timer-1")))
		assert.Equal(t, []string{"timer-1"}, timers.cancelled)
	})
}

func TestDriftedTimerIsRealigned(t *testing.T) {
	ctx := context.Background()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	t.Run("late after spring forward", func(t *testing.T) {
		timers := &cancelRecorder{}
		f := setupIn(t, timers, nil, Config{}, ny)
		// A 24h repeat armed for 09:00 EST lands at 10:00 EDT.
		fired := time.Date(2024, time.March, 10, 10, 0, 0, 0, ny)
		nominal := time.Date(2024, time.March, 10, 9, 0, 0, 0, ny)

		require.NoError(t, f.loop.Handle(ctx, f.firedAt("timer-1", fired)))

		require.Len(t, f.notifier.got, 1)
		r := <-f.notifier.got
		assert.True(t, nominal.Equal(r.Occurrence.ScheduledTime))
		assert.Equal(t, models.InstanceID("timer-1", nominal), r.Occurrence.InstanceID)

		logs := f.logs(t)
		require.Len(t, logs, 1)
		assert.True(t, nominal.Equal(logs[0].ScheduledTime))

		assert.Equal(t, []string{"timer-1"}, timers.cancelled)
		got, err := f.store.GetSchedule(ctx, f.sched.ID)
		require.NoError(t, err)
		assert.NotContains(t, got.ReminderHandles, "timer-1")
	})

	t.Run("early after fall back", func(t *testing.T) {
		timers := &cancelRecorder{}
		f := setupIn(t, timers, nil, Config{}, ny)
		fired := time.Date(2024, time.November, 3, 8, 0, 0, 0, ny)

		require.NoError(t, f.loop.Handle(ctx, f.firedAt("timer-1", fired)))

		assert.Empty(t, f.notifier.got)
		assert.Empty(t, f.logs(t))
		assert.Equal(t, []string{"timer-1"}, timers.cancelled)
	})
}

func TestUserResponseBeforeFire(t *testing.T) {
	f := setup(t, &cancelRecorder{}, nil, Config{})
	ctx := context.Background()

	ev := f.fired("timer-1")
	ev.Kind = platform.EventUserResponded
	ev.Choice = models.StatusTaken
	require.NoError(t, f.loop.Handle(ctx, ev))

	// The fire arriving afterwards must not re-notify.
	require.NoError(t, f.loop.Handle(ctx, f.fired("timer-1")))
	assert.Empty(t, f.notifier.got)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, models.StatusTaken, logs[0].Status)
}

func TestUserResponseRepliesWithRecordedStatus(t *testing.T) {
	f := setup(t, &cancelRecorder{}, nil, Config{})
	ctx := context.Background()
	require.NoError(t, f.loop.Handle(ctx, f.fired("timer-1")))

	respond := func(choice models.Status) *models.NotificationLog {
		var got *models.NotificationLog
		ev := f.fired("timer-1")
		ev.Kind = platform.EventUserResponded
		ev.Choice = choice
		ev.Reply = func(l *models.NotificationLog, err error) {
			require.NoError(t, err)
			got = l
		}
		require.NoError(t, f.loop.Handle(ctx, ev))
		require.NotNil(t, got)
		return got
	}

	assert.Equal(t, models.StatusTaken, respond(models.StatusTaken).Status)
	// A second tap is ignored and the reply says so.
	assert.Equal(t, models.StatusTaken, respond(models.StatusSkipped).Status)

	var replyErr error
	ev := f.fired("timer-1")
	ev.Kind = platform.EventUserResponded
	ev.Choice = models.StatusPending
	ev.Reply = func(_ *models.NotificationLog, err error) { replyErr = err }
	assert.Error(t, f.loop.Handle(ctx, ev))
	assert.Error(t, replyErr)
}

func TestUnknownEventKind(t *testing.T) {
	f := setup(t, &cancelRecorder{}, nil, Config{})
	assert.Error(t, f.loop.Handle(context.Background(), platform.Event{}))
}

func TestRunWithLocalTimers(t *testing.T) {
	timers := platform.NewLocalTimers(zerolog.Nop(), platform.WithIDs(func() string { return "timer-1" }))
	defer timers.Close()
	f := setup(t, timers, timers, Config{
		SweepSpec:   DefaultSweepSpec,
		PurgeSpec:   DefaultPurgeSpec,
		RealignSpec: DefaultRealignSpec,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	_, err := timers.Schedule(ctx, f.fired("timer-1").Payload, platform.Trigger{AfterSeconds: 0})
	require.NoError(t, err)

	select {
	case r := <-f.notifier.got:
		assert.Equal(t, due, r.Occurrence.ScheduledTime)
	case <-time.After(5 * time.Second):
		t.Fatal("reminder was not dispatched")
	}

	ev := f.fired("timer-1")
	ev.Kind = platform.EventUserResponded
	ev.Choice = models.StatusSkipped
	require.NoError(t, timers.Post(ctx, ev))

	require.Eventually(t, func() bool {
		l, err := f.store.GetLogByHandle(context.Background(), models.InstanceID("timer-1", due))
		return err == nil && l.Status == models.StatusSkipped
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunRejectsInvalidCronSpec(t *testing.T) {
	timers := platform.NewLocalTimers(zerolog.Nop())
	defer timers.Close()
	f := setup(t, timers, timers, Config{SweepSpec: "every now and then"})

	err := f.loop.Run(context.Background())
	assert.ErrorContains(t, err, "sweep")
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, LogNotifier{Log: zerolog.Nop()}.Notify(context.Background(), Reminder{}))
}
