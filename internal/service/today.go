package service

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/recurrence"
)

// Dose is one scheduled intake on a given day.
type Dose struct {
	models.ScheduleWithMedicine
	At time.Time `json:"at"`
	// Status is the recorded outcome, empty if the reminder has not fired.
	Status models.Status `json:"status,omitempty"`
}

// DueToday lists the doses of active schedules of active medicines that are
// due on now's date, sorted by time. As-needed schedules are included with
// their nominal time so they can be logged by hand.
func (s *Service) DueToday(ctx context.Context, now time.Time) ([]*Dose, error) {
	schedules, err := s.store.ListActiveSchedules(ctx)
	if err != nil {
		return nil, err
	}
	joined, err := s.join(ctx, schedules)
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListLogs(ctx, disposition.DayFilter(now))
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.Schedule, len(joined))
	for _, sw := range joined {
		byID[sw.ID] = &sw.Schedule
	}

	// Logs are keyed by the occurrence they belong to, so one written at a
	// drifted firing time still counts for its dose.
	type key struct {
		scheduleID int64
		unix       int64
	}
	statuses := make(map[key]models.Status, len(logs))
	for _, l := range logs {
		at := l.ScheduledTime.In(now.Location())
		if sched, ok := byID[l.ScheduleID]; ok {
			at = recurrence.Nearest(sched, at)
		}
		statuses[key{l.ScheduleID, at.Unix()}] = l.Status
	}

	today := civil.DateOf(now)
	var doses []*Dose
	for _, sw := range joined {
		if !sw.Medicine.Active || !recurrence.IsDueOn(&sw.Schedule, today) {
			continue
		}
		at := sw.Time.On(today, now.Location())
		doses = append(doses, &Dose{
			ScheduleWithMedicine: *sw,
			At:                   at,
			Status:               statuses[key{sw.ID, at.Unix()}],
		})
	}
	sort.SliceStable(doses, func(i, j int) bool { return doses[i].At.Before(doses[j].At) })
	return doses, nil
}

// Upcoming merges the next occurrences of every active schedule and returns
// the first n after now.
func (s *Service) Upcoming(ctx context.Context, now time.Time, n int) ([]*Dose, error) {
	if n <= 0 {
		return nil, nil
	}
	schedules, err := s.store.ListActiveSchedules(ctx)
	if err != nil {
		return nil, err
	}
	joined, err := s.join(ctx, schedules)
	if err != nil {
		return nil, err
	}

	var doses []*Dose
	for _, sw := range joined {
		if !sw.Medicine.Active || sw.Recurrence == models.RecurrenceAsNeeded {
			continue
		}
		times, err := recurrence.Upcoming(&sw.Schedule, now, n)
		if err != nil {
			s.log.Warn().Err(err).Int64("schedule_id", sw.ID).Msg("cannot expand schedule")
			continue
		}
		for _, at := range times {
			doses = append(doses, &Dose{ScheduleWithMedicine: *sw, At: at})
		}
	}
	sort.SliceStable(doses, func(i, j int) bool { return doses[i].At.Before(doses[j].At) })
	if len(doses) > n {
		doses = doses[:n]
	}
	return doses, nil
}
