package disposition

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/repository"
)

var now = time.Date(2024, time.January, 15, 9, 5, 0, 0, time.UTC)

type fixture struct {
	store   *repository.MemoryStore
	tracker *Tracker
	occ     Occurrence
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStoreWithClock(func() time.Time { return now })
	med := &models.Medicine{Name: "Aspirin", Dosage: "100mg", Form: models.FormTablet, Active: true}
	require.NoError(t, store.CreateMedicine(ctx, med))
	sched := &models.Schedule{
		MedicineID: med.ID,
		Time:       models.MustTimeOfDay("09:00"),
		Recurrence: models.RecurrenceDaily,
		StartDate:  civil.Date{Year: 2024, Month: time.January, Day: 1},
		Active:     true,
	}
	require.NoError(t, store.CreateSchedule(ctx, sched))

	due := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
	return fixture{
		store:   store,
		tracker: New(store, zerolog.Nop(), WithClock(func() time.Time { return now })),
		occ: Occurrence{
			InstanceID:    models.InstanceID("timer-1", due),
			ScheduleID:    sched.ID,
			MedicineID:    med.ID,
			ScheduledTime: due,
		},
	}
}

func (f fixture) all(t *testing.T) []*models.NotificationLogWithMedicine {
	t.Helper()
	logs, err := f.store.ListLogs(context.Background(), models.LogFilter{})
	require.NoError(t, err)
	return logs
}

func TestOnFireIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, created, err := f.tracker.OnFire(ctx, f.occ)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.StatusPending, first.Status)

	second, created, err := f.tracker.OnFire(ctx, f.occ)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.Len(t, f.all(t), 1)
}

func TestResponseAfterFireTransitionsRow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	fired, _, err := f.tracker.OnFire(ctx, f.occ)
	require.NoError(t, err)

	l, err := f.tracker.OnUserResponse(ctx, f.occ, models.StatusTaken)
	require.NoError(t, err)
	assert.Equal(t, fired.ID, l.ID)
	assert.Equal(t, models.StatusTaken, l.Status)
	require.NotNil(t, l.RespondedAt)
	assert.Equal(t, now, *l.RespondedAt)
	assert.Len(t, f.all(t), 1)
}

func TestResponseBeforeFireCreatesTerminalRow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	l, err := f.tracker.OnUserResponse(ctx, f.occ, models.StatusSkipped)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, l.Status)
	assert.Equal(t, f.occ.ScheduledTime, l.ScheduledTime)
	require.NotNil(t, l.RespondedAt)

	// A late fire for the same instance leaves it alone.
	fired, created, err := f.tracker.OnFire(ctx, f.occ)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.StatusSkipped, fired.Status)

	pending, err := f.tracker.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Len(t, f.all(t), 1)
}

func TestTerminalStatusNeverChanges(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.tracker.OnUserResponse(ctx, f.occ, models.StatusTaken)
	require.NoError(t, err)
	l, err := f.tracker.OnUserResponse(ctx, f.occ, models.StatusSkipped)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTaken, l.Status)
}

func TestResponseRejectsNonFinalStatus(t *testing.T) {
	f := setup(t)
	_, err := f.tracker.OnUserResponse(context.Background(), f.occ, models.StatusPending)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, f.all(t))
}

func TestQueries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	yesterday := f.occ
	yesterday.ScheduledTime = f.occ.ScheduledTime.Add(-24 * time.Hour)
	yesterday.InstanceID = models.InstanceID("timer-1", yesterday.ScheduledTime)

	_, _, err := f.tracker.OnFire(ctx, yesterday)
	require.NoError(t, err)
	_, _, err = f.tracker.OnFire(ctx, f.occ)
	require.NoError(t, err)
	_, err = f.tracker.OnUserResponse(ctx, yesterday, models.StatusTaken)
	require.NoError(t, err)

	pending, err := f.tracker.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, f.occ.InstanceID, pending[0].ReminderHandle)
	assert.Equal(t, "Aspirin", pending[0].MedicineName)

	taken, err := f.tracker.ByStatus(ctx, models.StatusTaken, 0)
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.Equal(t, yesterday.InstanceID, taken[0].ReminderHandle)

	_, err = f.tracker.ByStatus(ctx, "later", 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	bySchedule, err := f.tracker.BySchedule(ctx, f.occ.ScheduleID, 0)
	require.NoError(t, err)
	assert.Len(t, bySchedule, 2)

	byMedicine, err := f.tracker.ByMedicine(ctx, f.occ.MedicineID, 1)
	require.NoError(t, err)
	require.Len(t, byMedicine, 1)
	assert.Equal(t, f.occ.InstanceID, byMedicine[0].ReminderHandle, "most recent first")

	today, err := f.tracker.Today(ctx, now)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, f.occ.InstanceID, today[0].ReminderHandle)

	recent, err := f.tracker.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	summary, err := f.tracker.Counts(ctx, models.LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Pending: 1, Taken: 1}, summary)
	assert.Equal(t, 2, summary.Total())
	assert.InDelta(t, 1.0, summary.Adherence(), 1e-9)
}

func TestSummaryAdherence(t *testing.T) {
	assert.Zero(t, Summary{Pending: 3}.Adherence())
	assert.InDelta(t, 0.75, Summary{Taken: 3, Skipped: 1}.Adherence(), 1e-9)
}

func TestPurge(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _, err := f.tracker.OnFire(ctx, f.occ)
	require.NoError(t, err)

	n, err := f.tracker.Purge(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh rows are kept")

	later := New(f.store, zerolog.Nop(), WithClock(func() time.Time { return now.Add(91 * 24 * time.Hour) }))
	n, err = later.Purge(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Empty(t, f.all(t))
}

func TestDayFilter(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	f := DayFilter(time.Date(2024, time.March, 3, 23, 59, 0, 0, loc))
	assert.Equal(t, time.Date(2024, time.March, 3, 0, 0, 0, 0, loc), f.From)
	assert.Equal(t, time.Date(2024, time.March, 4, 0, 0, 0, 0, loc), f.To)
}
