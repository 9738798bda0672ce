package file

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
)

// ScheduleRepository handles schedule file operations.
type ScheduleRepository struct {
	store *Persistence
}

// Save creates or replaces a schedule. Run bookkeeping already stored is kept,
// since only ExecutionRepository.Finish writes it, and so is the stored next
// run unless the timing fields changed. schedule is updated to match.
func (r *ScheduleRepository) Save(_ context.Context, schedule *models.RefreshSchedule) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, err := r.get(schedule.ID)

	switch {
	case persistence.IsScheduleNotFound(err):
	case err != nil:
		return err
	default:
		keepBookkeeping(schedule, stored)
	}

	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	return r.store.write(schedulesDir, schedule.ID, schedule)
}

func keepBookkeeping(schedule, stored *models.RefreshSchedule) {
	schedule.CreatedAt = stored.CreatedAt
	schedule.LastRunAt = stored.LastRunAt
	schedule.LastError = stored.LastError
	schedule.RunCount = stored.RunCount
	schedule.ErrorCount = stored.ErrorCount

	if schedule.SameTiming(stored) {
		schedule.NextRunAt = stored.NextRunAt
	}
}

// GetByID returns the schedule or persistence.ErrScheduleNotFound.
func (r *ScheduleRepository) GetByID(_ context.Context, id string) (*models.RefreshSchedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.get(id)
}

func (r *ScheduleRepository) get(id string) (*models.RefreshSchedule, error) {
	schedule := &models.RefreshSchedule{}

	err := r.store.read(schedulesDir, id, schedule)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewScheduleError("GetByID", id, persistence.ErrScheduleNotFound)
	}

	if err != nil {
		return nil, err
	}

	return schedule, nil
}

// ListByOwner returns the owner's schedules, oldest first.
func (r *ScheduleRepository) ListByOwner(_ context.Context, ownerID string) ([]*models.RefreshSchedule, error) {
	return r.filter(func(s *models.RefreshSchedule) bool { return s.OwnerID == ownerID })
}

// Active returns every active schedule.
func (r *ScheduleRepository) Active(_ context.Context) ([]*models.RefreshSchedule, error) {
	return r.filter(func(s *models.RefreshSchedule) bool { return s.IsActive })
}

// Due returns polled schedules due at or before the given time.
func (r *ScheduleRepository) Due(_ context.Context, before time.Time) ([]*models.RefreshSchedule, error) {
	due, err := r.filter(func(s *models.RefreshSchedule) bool { return s.IsDue(before) })
	if err != nil {
		return nil, err
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})

	return due, nil
}

// ByTarget returns active schedules of scheduleType refreshing target.
func (r *ScheduleRepository) ByTarget(_ context.Context, target models.Target, scheduleType models.ScheduleType) ([]*models.RefreshSchedule, error) {
	return r.filter(func(s *models.RefreshSchedule) bool {
		return s.IsActive &&
			s.ScheduleType == scheduleType &&
			s.TargetType == target.Type() &&
			s.TargetID == target.ID()
	})
}

// Delete removes a schedule. Its executions are kept as history.
func (r *ScheduleRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := r.store.remove(schedulesDir, id)
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewScheduleError("Delete", id, persistence.ErrScheduleNotFound)
	}

	return err
}

func (r *ScheduleRepository) filter(keep func(*models.RefreshSchedule) bool) ([]*models.RefreshSchedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	all, err := readAll[models.RefreshSchedule](r.store, schedulesDir)
	if err != nil {
		return nil, err
	}

	out := make([]*models.RefreshSchedule, 0, len(all))

	for _, schedule := range all {
		if keep(schedule) {
			out = append(out, schedule)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}
