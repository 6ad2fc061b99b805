package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/platform"
	"github.com/hray3182/MedLine/internal/repository"
)

type armed struct {
	id      string
	payload platform.Payload
	trigger platform.Trigger
}

type fakeTimers struct {
	denied      bool
	failOn      int // 1-based Schedule call that fails, 0 = never
	calls       int
	permissions int
	armed       []armed
	cancelled   []string
	cancelErr   error
}

func (f *fakeTimers) Schedule(_ context.Context, p platform.Payload, trig platform.Trigger) (string, error) {
	f.calls++
	if f.failOn == f.calls {
		return "", errors.New("boom")
	}
	id := fmt.Sprintf("t%d", f.calls)
	f.armed = append(f.armed, armed{id: id, payload: p, trigger: trig})
	return id, nil
}

func (f *fakeTimers) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeTimers) RequestPermission(context.Context) (bool, error) {
	f.permissions++
	return !f.denied, nil
}

func (f *fakeTimers) triggers() []platform.Trigger {
	out := make([]platform.Trigger, len(f.armed))
	for i, a := range f.armed {
		out[i] = a.trigger
	}
	return out
}

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newScheduler(timers platform.Timers, store Store, now time.Time) *Scheduler {
	return New(timers, store, zerolog.Nop(),
		WithClock(func() time.Time { return now }),
		WithLocation(time.UTC),
	)
}

func medicine() *models.Medicine {
	return &models.Medicine{ID: 1, Name: "Aspirin", Dosage: "100mg", Form: models.FormTablet, Active: true}
}

func daily(tod string) *models.Schedule {
	return &models.Schedule{
		ID:         7,
		MedicineID: 1,
		Time:       models.MustTimeOfDay(tod),
		Recurrence: models.RecurrenceDaily,
		StartDate:  date("2024-01-01"),
		Active:     true,
	}
}

func TestRegisterAsNeededTouchesNothing(t *testing.T) {
	timers := &fakeTimers{}
	s := newScheduler(timers, nil, at("2024-01-15 09:30"))

	sched := daily("09:00")
	sched.Recurrence = models.RecurrenceAsNeeded
	handles, err := s.Register(context.Background(), sched, medicine())

	require.NoError(t, err)
	assert.Nil(t, handles)
	assert.Zero(t, timers.calls)
	assert.Zero(t, timers.permissions)
}

func TestRegisterDailyRollsToTomorrow(t *testing.T) {
	timers := &fakeTimers{}
	s := newScheduler(timers, nil, at("2024-01-15 09:30"))

	handles, err := s.Register(context.Background(), daily("09:00"), medicine())
	require.NoError(t, err)
	assert.Equal(t, models.Handles{"t1", "t2"}, handles)

	require.Len(t, timers.armed, 2)
	oneShot, repeat := timers.armed[0], timers.armed[1]
	assert.Equal(t, platform.Trigger{AfterSeconds: 84600}, oneShot.trigger)
	assert.Equal(t, at("2024-01-16 09:00"), oneShot.payload.ScheduledTime)
	assert.Equal(t, platform.Trigger{AfterSeconds: 84600 + 86400, RepeatSeconds: 86400}, repeat.trigger)
	assert.Equal(t, at("2024-01-17 09:00"), repeat.payload.ScheduledTime)
	assert.Equal(t, "Aspirin", oneShot.payload.MedicineName)
	assert.Equal(t, int64(7), oneShot.payload.ScheduleID)
}

func TestReconcileIsIdempotent(t *testing.T) {
	timers := &fakeTimers{}
	s := newScheduler(timers, nil, at("2024-01-15 09:30"))
	ctx := context.Background()

	sched := daily("09:00")
	first, err := s.Register(ctx, sched, medicine())
	require.NoError(t, err)
	sched.ReminderHandles = first

	second, err := s.Reconcile(ctx, sched, medicine())
	require.NoError(t, err)

	assert.Equal(t, []string{"t1", "t2"}, timers.cancelled)
	assert.Equal(t, models.Handles{"t3", "t4"}, second)
	trig := timers.triggers()
	assert.Equal(t, trig[:2], trig[2:])
	assert.Equal(t, timers.armed[0].payload.ScheduledTime, timers.armed[2].payload.ScheduledTime)
}

func TestRegisterWeeklyArmsPairPerWeekday(t *testing.T) {
	timers := &fakeTimers{}
	// Tuesday.
	s := newScheduler(timers, nil, at("2024-01-02 10:00"))

	days, err := models.NewWeekdays(1, 3, 5)
	require.NoError(t, err)
	sched := daily("08:00")
	sched.Recurrence = models.RecurrenceWeekly
	sched.RecurrenceDays = days

	handles, err := s.Register(context.Background(), sched, medicine())
	require.NoError(t, err)
	assert.Len(t, handles, 6)

	firsts := map[time.Time]platform.Trigger{}
	for _, a := range timers.armed {
		firsts[a.payload.ScheduledTime] = a.trigger
	}
	week := int64(604800)
	assert.Equal(t, platform.Trigger{AfterSeconds: 22 * 3600}, firsts[at("2024-01-03 08:00")])
	assert.Equal(t, platform.Trigger{AfterSeconds: 22*3600 + week, RepeatSeconds: week}, firsts[at("2024-01-10 08:00")])
	assert.Equal(t, platform.Trigger{AfterSeconds: 70 * 3600}, firsts[at("2024-01-05 08:00")])
	assert.Equal(t, platform.Trigger{AfterSeconds: 142 * 3600}, firsts[at("2024-01-08 08:00")])
	assert.Equal(t, week, firsts[at("2024-01-15 08:00")].RepeatSeconds)
}

func TestRegisterWeeklyTodayLaterCountsAsToday(t *testing.T) {
	timers := &fakeTimers{}
	// Wednesday, before the dose.
	s := newScheduler(timers, nil, at("2024-01-03 07:00"))

	days, err := models.NewWeekdays(3)
	require.NoError(t, err)
	sched := daily("08:00")
	sched.Recurrence = models.RecurrenceWeekly
	sched.RecurrenceDays = days

	_, err = s.Register(context.Background(), sched, medicine())
	require.NoError(t, err)
	require.Len(t, timers.armed, 2)
	assert.Equal(t, int64(3600), timers.armed[0].trigger.AfterSeconds)
}

func TestPlanDropsRepeatPastEndDate(t *testing.T) {
	sched := daily("09:00")
	end := date("2024-01-16")
	sched.EndDate = &end

	arms := Plan(sched, at("2024-01-15 09:30"))
	require.Len(t, arms, 1)
	assert.False(t, arms[0].Trigger.Repeats())
	assert.Equal(t, at("2024-01-16 09:00"), arms[0].First)
}

func TestPlanRepeatKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := time.Date(2024, time.March, 9, 8, 0, 0, 0, loc)

	arms := Plan(daily("09:00"), now)
	require.Len(t, arms, 2)
	assert.True(t, time.Date(2024, time.March, 9, 9, 0, 0, 0, loc).Equal(arms[0].First))
	assert.Equal(t, int64(3600), arms[0].Trigger.AfterSeconds)

	repeat := arms[1]
	assert.True(t, time.Date(2024, time.March, 10, 9, 0, 0, 0, loc).Equal(repeat.First))
	assert.Equal(t, 9, repeat.First.In(loc).Hour())
	// 08:00 EST to 09:00 EDT the next day is exactly one day.
	assert.Equal(t, int64(86400), repeat.Trigger.AfterSeconds)
	assert.Equal(t, int64(86400), repeat.Trigger.RepeatSeconds)

	weekly := daily("09:00")
	weekly.Recurrence = models.RecurrenceWeekly
	weekly.RecurrenceDays = models.Weekdays{time.Saturday}
	arms = Plan(weekly, now)
	require.Len(t, arms, 2)
	assert.True(t, time.Date(2024, time.March, 16, 9, 0, 0, 0, loc).Equal(arms[1].First))
	assert.Equal(t, int64(7*86400), arms[1].Trigger.AfterSeconds)
}

func TestPlanExactInstantIsNotDue(t *testing.T) {
	arms := Plan(daily("09:00"), at("2024-01-15 09:00"))
	require.Len(t, arms, 2)
	assert.Equal(t, int64(86400), arms[0].Trigger.AfterSeconds)
}

func TestPlanRoundsUpToWholeSeconds(t *testing.T) {
	now := at("2024-01-15 08:59").Add(59*time.Second + 500*time.Millisecond)
	arms := Plan(daily("09:00"), now)
	require.NotEmpty(t, arms)
	assert.Equal(t, int64(1), arms[0].Trigger.AfterSeconds)
}

func TestRegisterReturnsNilWhenNothingToArm(t *testing.T) {
	ctx := context.Background()

	t.Run("range exhausted", func(t *testing.T) {
		timers := &fakeTimers{}
		s := newScheduler(timers, nil, at("2024-01-15 09:30"))
		sched := daily("09:00")
		end := date("2024-01-10")
		sched.EndDate = &end
		handles, err := s.Register(ctx, sched, medicine())
		require.NoError(t, err)
		assert.Nil(t, handles)
		assert.Zero(t, timers.permissions)
	})

	t.Run("inactive schedule", func(t *testing.T) {
		timers := &fakeTimers{}
		s := newScheduler(timers, nil, at("2024-01-15 09:30"))
		sched := daily("09:00")
		sched.Active = false
		handles, err := s.Register(ctx, sched, medicine())
		require.NoError(t, err)
		assert.Nil(t, handles)
		assert.Zero(t, timers.calls)
	})

	t.Run("inactive medicine", func(t *testing.T) {
		timers := &fakeTimers{}
		s := newScheduler(timers, nil, at("2024-01-15 09:30"))
		med := medicine()
		med.Active = false
		handles, err := s.Register(ctx, daily("09:00"), med)
		require.NoError(t, err)
		assert.Nil(t, handles)
		assert.Zero(t, timers.calls)
	})

	t.Run("dangling medicine", func(t *testing.T) {
		timers := &fakeTimers{}
		s := newScheduler(timers, nil, at("2024-01-15 09:30"))
		handles, err := s.Register(ctx, daily("09:00"), nil)
		require.NoError(t, err)
		assert.Nil(t, handles)
		assert.Zero(t, timers.calls)
	})

	t.Run("permission denied", func(t *testing.T) {
		timers := &fakeTimers{denied: true}
		s := newScheduler(timers, nil, at("2024-01-15 09:30"))
		handles, err := s.Register(ctx, daily("09:00"), medicine())
		require.NoError(t, err)
		assert.Nil(t, handles)
		assert.Equal(t, 1, timers.permissions)
		assert.Zero(t, timers.calls)
	})
}

func TestRegisterTimerFailureRollsBack(t *testing.T) {
	timers := &fakeTimers{failOn: 2}
	s := newScheduler(timers, nil, at("2024-01-15 09:30"))

	handles, err := s.Register(context.Background(), daily("09:00"), medicine())
	assert.ErrorIs(t, err, ErrTimerFailure)
	assert.Nil(t, handles)
	assert.Equal(t, []string{"t1"}, timers.cancelled)
}

func TestCancelJoinsErrors(t *testing.T) {
	timers := &fakeTimers{cancelErr: errors.New("nope")}
	s := newScheduler(timers, nil, at("2024-01-15 09:30"))

	err := s.Cancel(context.Background(), models.Handles{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancel timer a")
	assert.Contains(t, err.Error(), "cancel timer b")
	assert.Equal(t, []string{"a", "b"}, timers.cancelled)

	assert.NoError(t, s.Cancel(context.Background(), nil))
}

func TestOnDeleteCancelsWithoutReplacing(t *testing.T) {
	timers := &fakeTimers{}
	s := newScheduler(timers, nil, at("2024-01-15 09:30"))
	sched := daily("09:00")
	sched.ReminderHandles = models.Handles{"x", "y"}

	require.NoError(t, s.OnDelete(context.Background(), sched))
	assert.Equal(t, []string{"x", "y"}, timers.cancelled)
	assert.Zero(t, timers.calls)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	med := &models.Medicine{Name: "Aspirin", Dosage: "100mg", Form: models.FormTablet, Active: true}
	require.NoError(t, store.CreateMedicine(ctx, med))
	paused := &models.Medicine{Name: "Paused", Dosage: "5mg", Form: models.FormTablet, Active: false}
	require.NoError(t, store.CreateMedicine(ctx, paused))

	create := func(medicineID int64, rec models.Recurrence, handles models.Handles) *models.Schedule {
		s := &models.Schedule{
			MedicineID:      medicineID,
			Time:            models.MustTimeOfDay("09:00"),
			Recurrence:      rec,
			StartDate:       date("2024-01-01"),
			ReminderHandles: handles,
			Active:          true,
		}
		require.NoError(t, store.CreateSchedule(ctx, s))
		return s
	}
	armedAlready := create(med.ID, models.RecurrenceDaily, models.Handles{"old1", "old2"})
	missing := create(med.ID, models.RecurrenceDaily, nil)
	asNeeded := create(med.ID, models.RecurrenceAsNeeded, nil)
	pausedMed := create(paused.ID, models.RecurrenceDaily, models.Handles{"stale"})

	timers := &fakeTimers{}
	s := newScheduler(timers, store, at("2024-01-15 09:30"))

	res, err := s.Sweep(ctx, SweepMissing)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Registered: 1, Skipped: 3}, res)

	got, err := store.GetSchedule(ctx, missing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Handles{"t1", "t2"}, got.ReminderHandles)
	got, err = store.GetSchedule(ctx, armedAlready.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Handles{"old1", "old2"}, got.ReminderHandles)

	res, err = s.Sweep(ctx, SweepAll)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Registered: 2, Skipped: 2}, res)

	got, err = store.GetSchedule(ctx, armedAlready.ID)
	require.NoError(t, err)
	assert.Len(t, got.ReminderHandles, 2)
	assert.NotContains(t, got.ReminderHandles, "old1")
	assert.Contains(t, timers.cancelled, "old1")

	got, err = store.GetSchedule(ctx, pausedMed.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ReminderHandles, "inactive medicine loses its timers")
	assert.Contains(t, timers.cancelled, "stale")

	got, err = store.GetSchedule(ctx, asNeeded.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ReminderHandles)
}

func TestSweepKeepsFailedSchedulesEligible(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	med := &models.Medicine{Name: "Aspirin", Dosage: "100mg", Form: models.FormTablet, Active: true}
	require.NoError(t, store.CreateMedicine(ctx, med))
	sched := &models.Schedule{
		MedicineID: med.ID,
		Time:       models.MustTimeOfDay("09:00"),
		Recurrence: models.RecurrenceDaily,
		StartDate:  date("2024-01-01"),
		Active:     true,
	}
	require.NoError(t, store.CreateSchedule(ctx, sched))

	timers := &fakeTimers{failOn: 1}
	s := newScheduler(timers, store, at("2024-01-15 09:30"))

	res, err := s.Sweep(ctx, SweepMissing)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, err := store.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ReminderHandles)

	res, err = s.Sweep(ctx, SweepMissing)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Registered)
}

func TestRearmStoresHandles(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	med := &models.Medicine{Name: "Aspirin", Dosage: "100mg", Form: models.FormTablet, Active: true}
	require.NoError(t, store.CreateMedicine(ctx, med))
	sched := &models.Schedule{
		MedicineID:      med.ID,
		Time:            models.MustTimeOfDay("09:00"),
		Recurrence:      models.RecurrenceDaily,
		StartDate:       date("2024-01-01"),
		ReminderHandles: models.Handles{"old"},
		Active:          true,
	}
	require.NoError(t, store.CreateSchedule(ctx, sched))

	timers := &fakeTimers{}
	s := newScheduler(timers, store, at("2024-01-15 09:30"))
	handles, err := s.Rearm(ctx, sched, med)
	require.NoError(t, err)
	assert.Equal(t, models.Handles{"t1", "t2"}, handles)
	assert.Equal(t, []string{"old"}, timers.cancelled)

	got, err := store.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, handles, got.ReminderHandles)

	failing := &fakeTimers{failOn: 1}
	s = newScheduler(failing, store, at("2024-01-15 09:30"))
	_, err = s.Rearm(ctx, got, med)
	assert.ErrorIs(t, err, ErrTimerFailure)

	got, err = store.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.True(t, got.ReminderHandles.Empty())
}
