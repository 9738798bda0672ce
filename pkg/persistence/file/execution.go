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

// ExecutionRepository handles execution file operations.
type ExecutionRepository struct {
	store *Persistence
}

// Create stores a new RUNNING execution.
func (r *ExecutionRepository) Create(_ context.Context, execution *models.RefreshExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(executionsDir, execution.ID, execution)
}

// Finish closes the execution and applies outcome to the stored schedule under
// one lock, so the next run follows the schedule's current timing fields.
func (r *ExecutionRepository) Finish(_ context.Context, execution *models.RefreshExecution, outcome *persistence.ScheduleOutcome) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, err := r.get(execution.ID)
	if err != nil {
		return err
	}

	if current.Status != models.ExecutionStatusRunning {
		return persistence.NewExecutionError("Finish", execution.ID, persistence.ErrExecutionFinished)
	}

	var schedule *models.RefreshSchedule

	if outcome != nil {
		schedule = &models.RefreshSchedule{}

		err := r.store.read(schedulesDir, outcome.ScheduleID, schedule)
		if errors.Is(err, fs.ErrNotExist) {
			// Deleted while the refresh was running; only the history is kept.
			schedule = nil
		} else if err != nil {
			return err
		}
	}

	if err := r.store.write(executionsDir, execution.ID, execution); err != nil {
		return err
	}

	if schedule == nil {
		return nil
	}

	// A schedule whose next run cannot be computed is kept with no next run.
	_ = outcome.Apply(schedule)
	schedule.UpdatedAt = time.Now().UTC()

	return r.store.write(schedulesDir, schedule.ID, schedule)
}

// GetByID returns the execution or persistence.ErrExecutionNotFound.
func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.RefreshExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.get(id)
}

func (r *ExecutionRepository) get(id string) (*models.RefreshExecution, error) {
	execution := &models.RefreshExecution{}

	err := r.store.read(executionsDir, id, execution)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, err
	}

	return execution, nil
}

// ListBySchedule returns the newest executions of a schedule first.
func (r *ExecutionRepository) ListBySchedule(_ context.Context, scheduleID string, limit int) ([]*models.RefreshExecution, error) {
	executions, err := r.filter(func(e *models.RefreshExecution) bool { return e.ScheduleID == scheduleID })
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

// Running returns RUNNING executions started before startedBefore, oldest first.
func (r *ExecutionRepository) Running(_ context.Context, startedBefore time.Time) ([]*models.RefreshExecution, error) {
	executions, err := r.filter(func(e *models.RefreshExecution) bool {
		return e.Status == models.ExecutionStatusRunning && e.StartedAt.Before(startedBefore)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (r *ExecutionRepository) filter(keep func(*models.RefreshExecution) bool) ([]*models.RefreshExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	all, err := readAll[models.RefreshExecution](r.store, executionsDir)
	if err != nil {
		return nil, err
	}

	out := make([]*models.RefreshExecution, 0, len(all))

	for _, execution := range all {
		if keep(execution) {
			out = append(out, execution)
		}
	}

	return out, nil
}
