// Package service holds the medication workflows used by the CLI and the
// bot. Every write validates first, then persists, then brings the
// schedule's timers in line with what was stored.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/repository"
	"github.com/hray3182/MedLine/internal/scheduler"
)

type Service struct {
	store     repository.Store
	scheduler *scheduler.Scheduler
	log       zerolog.Logger
}

func New(store repository.Store, sch *scheduler.Scheduler, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		scheduler: sch,
		log:       log.With().Str("component", "service").Logger(),
	}
}

// Medicines

func (s *Service) CreateMedicine(ctx context.Context, m *models.Medicine) error {
	if m.Form == "" {
		m.Form = models.FormOther
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if err := s.store.CreateMedicine(ctx, m); err != nil {
		return fmt.Errorf("create medicine: %w", err)
	}
	s.log.Info().Int64("medicine_id", m.ID).Str("name", m.Name).Msg("medicine created")
	return nil
}

func (s *Service) GetMedicine(ctx context.Context, id int64) (*models.Medicine, error) {
	return s.store.GetMedicine(ctx, id)
}

func (s *Service) ListMedicines(ctx context.Context, activeOnly bool) ([]*models.Medicine, error) {
	return s.store.ListMedicines(ctx, activeOnly)
}

// UpdateMedicine applies a patch. Toggling Active re-registers or cancels
// the timers of every schedule of the medicine.
func (s *Service) UpdateMedicine(ctx context.Context, id int64, p models.MedicinePatch) (*models.Medicine, error) {
	existing, err := s.store.GetMedicine(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get medicine %d: %w", id, err)
	}
	merged := p.Apply(*existing)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateMedicine(ctx, id, p)
	if err != nil {
		return nil, fmt.Errorf("update medicine %d: %w", id, err)
	}

	if p.Active != nil && *p.Active != existing.Active {
		if err := s.reconcileMedicine(ctx, updated); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// DeactivateMedicine is a soft delete: history stays, reminders stop.
func (s *Service) DeactivateMedicine(ctx context.Context, id int64) (*models.Medicine, error) {
	inactive := false
	return s.UpdateMedicine(ctx, id, models.MedicinePatch{Active: &inactive})
}

// DeleteMedicine cancels the timers of its schedules and removes the
// medicine together with its schedules and logs.
func (s *Service) DeleteMedicine(ctx context.Context, id int64) error {
	schedules, err := s.store.ListSchedulesByMedicine(ctx, id)
	if err != nil {
		return fmt.Errorf("list schedules of medicine %d: %w", id, err)
	}
	for _, sched := range schedules {
		if err := s.scheduler.OnDelete(ctx, sched); err != nil {
			s.log.Warn().Err(err).Int64("schedule_id", sched.ID).Msg("failed to cancel reminders")
		}
	}
	if err := s.store.DeleteMedicine(ctx, id); err != nil {
		return fmt.Errorf("delete medicine %d: %w", id, err)
	}
	s.log.Info().Int64("medicine_id", id).Int("schedules", len(schedules)).Msg("medicine deleted")
	return nil
}

func (s *Service) reconcileMedicine(ctx context.Context, m *models.Medicine) error {
	schedules, err := s.store.ListSchedulesByMedicine(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("list schedules of medicine %d: %w", m.ID, err)
	}
	for _, sched := range schedules {
		if err := s.applyHandles(ctx, sched, m); err != nil {
			return err
		}
	}
	return nil
}

// Schedules

// CreateSchedule stores a schedule and arms its reminders. A timer failure
// is not returned: the schedule is kept without handles and a later sweep
// retries it.
func (s *Service) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	sched.ReminderHandles = nil
	if err := sched.Validate(); err != nil {
		return err
	}
	med, err := s.medicineFor(ctx, sched.MedicineID)
	if err != nil {
		return err
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	s.log.Info().Int64("schedule_id", sched.ID).Int64("medicine_id", med.ID).Msg("schedule created")
	return s.applyHandles(ctx, sched, med)
}

func (s *Service) GetSchedule(ctx context.Context, id int64) (*models.ScheduleWithMedicine, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	med, err := s.store.GetMedicine(ctx, sched.MedicineID)
	if err != nil {
		return nil, fmt.Errorf("get medicine %d: %w", sched.MedicineID, err)
	}
	return &models.ScheduleWithMedicine{Schedule: *sched, Medicine: *med}, nil
}

// ListSchedules returns every schedule joined with its medicine. Schedules
// whose medicine is gone are left out.
func (s *Service) ListSchedules(ctx context.Context) ([]*models.ScheduleWithMedicine, error) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	return s.join(ctx, schedules)
}

// UpdateSchedule merges a patch, validates the result and stores it. When
// anything timing-related changed the timers are reconciled and the new
// handles are written in the same update.
func (s *Service) UpdateSchedule(ctx context.Context, id int64, p models.SchedulePatch) (*models.Schedule, error) {
	p.ReminderHandles = nil
	existing, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule %d: %w", id, err)
	}
	merged := p.Apply(*existing)
	merged.ReminderHandles = nil
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	if p.Empty() {
		return existing, nil
	}
	med, err := s.medicineFor(ctx, merged.MedicineID)
	if err != nil {
		return nil, err
	}

	if p.AffectsTiming() {
		merged.ReminderHandles = existing.ReminderHandles
		handles, err := s.scheduler.Reconcile(ctx, &merged, med)
		if err != nil {
			s.log.Error().Err(err).Int64("schedule_id", id).Msg("reminders not registered, will retry on sweep")
			handles = nil
		}
		p.ReminderHandles = &handles
	}

	updated, err := s.store.UpdateSchedule(ctx, id, p)
	if err != nil {
		return nil, fmt.Errorf("update schedule %d: %w", id, err)
	}
	return updated, nil
}

func (s *Service) DeleteSchedule(ctx context.Context, id int64) error {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return fmt.Errorf("get schedule %d: %w", id, err)
	}
	if err := s.scheduler.OnDelete(ctx, sched); err != nil {
		s.log.Warn().Err(err).Int64("schedule_id", id).Msg("failed to cancel reminders")
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}
	s.log.Info().Int64("schedule_id", id).Msg("schedule deleted")
	return nil
}

// applyHandles reconciles a stored schedule and persists the handles.
func (s *Service) applyHandles(ctx context.Context, sched *models.Schedule, med *models.Medicine) error {
	handles, err := s.scheduler.Reconcile(ctx, sched, med)
	if err != nil {
		s.log.Error().Err(err).Int64("schedule_id", sched.ID).Msg("reminders not registered, will retry on sweep")
		handles = nil
	}
	if handles.Empty() && sched.ReminderHandles.Empty() {
		sched.ReminderHandles = nil
		return nil
	}
	updated, err := s.store.UpdateSchedule(ctx, sched.ID, models.HandlesPatch(handles))
	if err != nil {
		return fmt.Errorf("store handles for schedule %d: %w", sched.ID, err)
	}
	*sched = *updated
	return nil
}

func (s *Service) medicineFor(ctx context.Context, id int64) (*models.Medicine, error) {
	med, err := s.store.GetMedicine(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &models.ValidationError{Field: "medicine_id", Reason: fmt.Sprintf("medicine %d does not exist", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("get medicine %d: %w", id, err)
	}
	return med, nil
}

func (s *Service) join(ctx context.Context, schedules []*models.Schedule) ([]*models.ScheduleWithMedicine, error) {
	medicines, err := s.store.ListMedicines(ctx, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Medicine, len(medicines))
	for _, m := range medicines {
		byID[m.ID] = m
	}
	out := make([]*models.ScheduleWithMedicine, 0, len(schedules))
	for _, sched := range schedules {
		med, ok := byID[sched.MedicineID]
		if !ok {
			continue
		}
		out = append(out, &models.ScheduleWithMedicine{Schedule: *sched, Medicine: *med})
	}
	return out, nil
}

// Snapshot is everything in the store, ready for JSON or YAML encoding.
type Snapshot struct {
	ExportedAt time.Time                             `json:"exported_at" yaml:"exported_at"`
	Medicines  []*models.Medicine                    `json:"medicines" yaml:"medicines"`
	Schedules  []*models.Schedule                    `json:"schedules" yaml:"schedules"`
	Logs       []*models.NotificationLogWithMedicine `json:"logs" yaml:"logs"`
}

func (s *Service) Export(ctx context.Context) (*Snapshot, error) {
	medicines, err := s.store.ListMedicines(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("export medicines: %w", err)
	}
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("export schedules: %w", err)
	}
	logs, err := s.store.ListLogs(ctx, models.LogFilter{})
	if err != nil {
		return nil, fmt.Errorf("export logs: %w", err)
	}
	return &Snapshot{
		ExportedAt: s.scheduler.Now(),
		Medicines:  medicines,
		Schedules:  schedules,
		Logs:       logs,
	}, nil
}

// ClearAll cancels every timer and wipes the store.
func (s *Service) ClearAll(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	var errs []error
	for _, sched := range schedules {
		errs = append(errs, s.scheduler.OnDelete(ctx, sched))
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn().Err(err).Msg("some reminders could not be cancelled")
	}
	if err := s.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	s.log.Warn().Int("schedules", len(schedules)).Msg("all data cleared")
	return nil
}
