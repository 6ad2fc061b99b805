package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hray3182/MedLine/internal/models"
)

// MemoryStore is a Store kept in process memory. It enforces the same
// references and uniqueness rules as the SQL schemas.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	nextID    int64
	medicines map[int64]models.Medicine
	schedules map[int64]models.Schedule
	logs      map[int64]models.NotificationLog
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock stamps created/updated times from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:       now,
		medicines: make(map[int64]models.Medicine),
		schedules: make(map[int64]models.Schedule),
		logs:      make(map[int64]models.NotificationLog),
	}
}

func (r *MemoryStore) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemoryStore) Close() error { return nil }

func (r *MemoryStore) ClearAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.medicines)
	clear(r.schedules)
	clear(r.logs)
	return nil
}

func (r *MemoryStore) CreateMedicine(_ context.Context, m *models.Medicine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = r.id()
	m.CreatedAt = r.now()
	m.UpdatedAt = m.CreatedAt
	r.medicines[m.ID] = *m
	return nil
}

func (r *MemoryStore) GetMedicine(_ context.Context, id int64) (*models.Medicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.medicines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r *MemoryStore) ListMedicines(_ context.Context, activeOnly bool) ([]*models.Medicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Medicine
	for _, m := range r.medicines {
		if activeOnly && !m.Active {
			continue
		}
		m := m
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryStore) UpdateMedicine(_ context.Context, id int64, p models.MedicinePatch) (*models.Medicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.medicines[id]
	if !ok {
		return nil, ErrNotFound
	}
	m = p.Apply(m)
	m.UpdatedAt = r.now()
	r.medicines[id] = m
	return &m, nil
}

func (r *MemoryStore) DeleteMedicine(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.medicines[id]; !ok {
		return ErrNotFound
	}
	delete(r.medicines, id)
	for sid, s := range r.schedules {
		if s.MedicineID == id {
			r.deleteScheduleLocked(sid)
		}
	}
	for lid, l := range r.logs {
		if l.MedicineID == id {
			delete(r.logs, lid)
		}
	}
	return nil
}

func (r *MemoryStore) CreateSchedule(_ context.Context, s *models.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.medicines[s.MedicineID]; !ok {
		return fmt.Errorf("%w: medicine %d", ErrNotFound, s.MedicineID)
	}
	s.ID = r.id()
	s.CreatedAt = r.now()
	s.UpdatedAt = s.CreatedAt
	r.schedules[s.ID] = cloneSchedule(*s)
	return nil
}

func (r *MemoryStore) GetSchedule(_ context.Context, id int64) (*models.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	s = cloneSchedule(s)
	return &s, nil
}

func (r *MemoryStore) ListSchedules(context.Context) ([]*models.Schedule, error) {
	return r.listSchedules(func(models.Schedule) bool { return true }), nil
}

func (r *MemoryStore) ListActiveSchedules(context.Context) ([]*models.Schedule, error) {
	return r.listSchedules(func(s models.Schedule) bool { return s.Active }), nil
}

func (r *MemoryStore) ListSchedulesByMedicine(_ context.Context, medicineID int64) ([]*models.Schedule, error) {
	return r.listSchedules(func(s models.Schedule) bool { return s.MedicineID == medicineID }), nil
}

func (r *MemoryStore) listSchedules(keep func(models.Schedule) bool) []*models.Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Schedule
	for _, s := range r.schedules {
		if !keep(s) {
			continue
		}
		c := cloneSchedule(s)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time.String() < out[j].Time.String()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryStore) UpdateSchedule(_ context.Context, id int64, p models.SchedulePatch) (*models.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.MedicineID != nil {
		if _, ok := r.medicines[*p.MedicineID]; !ok {
			return nil, fmt.Errorf("%w: medicine %d", ErrNotFound, *p.MedicineID)
		}
	}
	s = cloneSchedule(p.Apply(s))
	s.UpdatedAt = r.now()
	r.schedules[id] = s
	out := cloneSchedule(s)
	return &out, nil
}

func (r *MemoryStore) DeleteSchedule(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; !ok {
		return ErrNotFound
	}
	r.deleteScheduleLocked(id)
	return nil
}

func (r *MemoryStore) deleteScheduleLocked(id int64) {
	delete(r.schedules, id)
	for lid, l := range r.logs {
		if l.ScheduleID == id {
			delete(r.logs, lid)
		}
	}
}

func (r *MemoryStore) CreateLog(_ context.Context, l *models.NotificationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[l.ScheduleID]; !ok {
		return fmt.Errorf("%w: schedule %d", ErrNotFound, l.ScheduleID)
	}
	if _, ok := r.medicines[l.MedicineID]; !ok {
		return fmt.Errorf("%w: medicine %d", ErrNotFound, l.MedicineID)
	}
	for _, existing := range r.logs {
		if existing.ReminderHandle == l.ReminderHandle {
			return fmt.Errorf("%w: reminder_handle %s", ErrDuplicate, l.ReminderHandle)
		}
	}
	l.ID = r.id()
	l.CreatedAt = r.now()
	r.logs[l.ID] = *l
	return nil
}

func (r *MemoryStore) GetLogByHandle(_ context.Context, handle string) (*models.NotificationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.ReminderHandle == handle {
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryStore) RespondLog(_ context.Context, id int64, status models.Status, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[id]
	if !ok || l.Status != models.StatusPending {
		return false, nil
	}
	l.Status = status
	l.RespondedAt = &at
	r.logs[id] = l
	return true, nil
}

func (r *MemoryStore) matchingLogs(f models.LogFilter) []models.NotificationLog {
	var out []models.NotificationLog
	for _, l := range r.logs {
		switch {
		case f.Status != "" && l.Status != f.Status:
		case f.ScheduleID > 0 && l.ScheduleID != f.ScheduleID:
		case f.MedicineID > 0 && l.MedicineID != f.MedicineID:
		case !f.From.IsZero() && l.ScheduledTime.Before(f.From):
		case !f.To.IsZero() && !l.ScheduledTime.Before(f.To):
		default:
			out = append(out, l)
		}
	}
	return out
}

func (r *MemoryStore) ListLogs(_ context.Context, f models.LogFilter) ([]*models.NotificationLogWithMedicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := r.matchingLogs(f)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ScheduledTime.Equal(matched[j].ScheduledTime) {
			return matched[i].ScheduledTime.After(matched[j].ScheduledTime)
		}
		return matched[i].ID > matched[j].ID
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]*models.NotificationLogWithMedicine, 0, len(matched))
	for _, l := range matched {
		row := &models.NotificationLogWithMedicine{NotificationLog: l}
		if m, ok := r.medicines[l.MedicineID]; ok {
			row.MedicineName, row.MedicineDosage, row.MedicineForm = m.Name, m.Dosage, m.Form
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *MemoryStore) CountLogs(_ context.Context, f models.LogFilter) (map[models.Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.Status]int)
	for _, l := range r.matchingLogs(f) {
		counts[l.Status]++
	}
	return counts, nil
}

func (r *MemoryStore) DeleteLogsBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, l := range r.logs {
		if l.CreatedAt.Before(before) {
			delete(r.logs, id)
			n++
		}
	}
	return n, nil
}

func cloneSchedule(s models.Schedule) models.Schedule {
	if s.RecurrenceDays != nil {
		s.RecurrenceDays = append(models.Weekdays(nil), s.RecurrenceDays...)
	}
	if s.ReminderHandles != nil {
		s.ReminderHandles = append(models.Handles(nil), s.ReminderHandles...)
	}
	if s.EndDate != nil {
		d := *s.EndDate
		s.EndDate = &d
	}
	return s
}
