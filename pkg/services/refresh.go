package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/dukex/refreshd/pkg/refresh"
	"github.com/go-playground/validator/v10"
)

// ExecuteRequest asks for an immediate refresh of a target, optionally on
// behalf of one of the owner's schedules.
type ExecuteRequest struct {
	TargetType models.TargetType `json:"targetType"           validate:"required,oneof=DASHBOARD QUERY"`
	TargetID   string            `json:"targetId"             validate:"required"`
	ScheduleID string            `json:"scheduleId,omitempty"`
}

// ExecuteResult is the closed execution of an ad-hoc refresh.
type ExecuteResult struct {
	Execution       *models.RefreshExecution `json:"execution"`
	Duration        int64                    `json:"duration"`
	RecordsAffected int64                    `json:"recordsAffected"`
}

// Refresh runs ad-hoc refreshes.
type Refresh struct {
	persistence persistence.Persistence
	refresher   *refresh.TargetRefresher
	recorder    *refresh.Recorder
	scheduler   *refresh.Scheduler
	validator   *validator.Validate
	timeout     time.Duration
}

func NewRefresh(
	p persistence.Persistence,
	refresher *refresh.TargetRefresher,
	recorder *refresh.Recorder,
	scheduler *refresh.Scheduler,
	validate *validator.Validate,
) *Refresh {
	return &Refresh{
		persistence: p,
		refresher:   refresher,
		recorder:    recorder,
		scheduler:   scheduler,
		validator:   validate,
		timeout:     scheduler.Config().ExecutionTimeout,
	}
}

// Execute refreshes the requested target now. Validation, ownership and
// lookup failures are returned before any execution is recorded. When the
// refresh itself fails the closed execution is returned with the error.
func (r *Refresh) Execute(ctx context.Context, ownerID string, req ExecuteRequest) (*ExecuteResult, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, validationError("Execute", "", ErrEmptyOwnerID)
	}

	if err := r.validator.Struct(req); err != nil {
		return nil, structError("Execute", err)
	}

	target, err := models.NewTarget(req.TargetType, req.TargetID)
	if err != nil {
		return nil, validationError("Execute", err.Error(), err)
	}

	if req.ScheduleID != "" {
		return r.executeSchedule(ctx, ownerID, target, req.ScheduleID)
	}

	plan, err := r.refresher.Resolve(ctx, target, ownerID)
	if err != nil {
		return nil, err
	}

	execution, err := r.recorder.Begin(ctx, "", target, models.TriggerManual)
	if err != nil {
		return nil, err
	}

	// The execution must be closed even if the caller goes away.
	runCtx := context.WithoutCancel(ctx)

	execCtx, cancel := context.WithTimeout(runCtx, r.timeout)
	result, refreshErr := r.refresher.Execute(execCtx, plan)

	cancel()

	if refreshErr != nil {
		closed, err := r.recorder.Fail(runCtx, execution.ID, refreshErr.Error())
		if err != nil {
			return nil, err
		}

		return newExecuteResult(closed), refreshErr
	}

	closed, err := r.recorder.Complete(runCtx, execution.ID, result)
	if err != nil {
		return nil, err
	}

	return newExecuteResult(closed), nil
}

func (r *Refresh) executeSchedule(ctx context.Context, ownerID string, target models.Target, scheduleID string) (*ExecuteResult, error) {
	schedule, err := r.persistence.ScheduleRepository().GetByID(ctx, scheduleID)
	if err != nil {
		return nil, lookupSchedule("Execute", scheduleID, err)
	}

	if schedule.OwnerID != ownerID {
		return nil, refresh.NewError("Execute", refresh.ErrAuthorization, fmt.Sprintf("schedule %s belongs to another user", scheduleID), ErrForeignSchedule)
	}

	if schedule.TargetType != target.Type() || schedule.TargetID != target.ID() {
		return nil, validationError("Execute", fmt.Sprintf("schedule %s refreshes %s %s", scheduleID, schedule.TargetType, schedule.TargetID), ErrTargetMismatch)
	}

	if _, err := r.refresher.Resolve(ctx, target, ownerID); err != nil {
		return nil, err
	}

	dispatched, err := r.scheduler.Dispatch(ctx, schedule, models.TriggerManual)
	if err != nil {
		return nil, err
	}

	if dispatched.ExecutionID == "" {
		return nil, internal("Execute", fmt.Errorf("execution was not recorded: %s", dispatched.Error))
	}

	execution, err := r.persistence.ExecutionRepository().GetByID(context.WithoutCancel(ctx), dispatched.ExecutionID)
	if err != nil {
		return nil, internal("Execute", fmt.Errorf("failed to load execution: %w", err))
	}

	if dispatched.Status != models.ExecutionStatusCompleted {
		return newExecuteResult(execution), refresh.NewError("Execute", refresh.ErrExecution, dispatched.Error, nil)
	}

	return newExecuteResult(execution), nil
}

func newExecuteResult(execution *models.RefreshExecution) *ExecuteResult {
	result := &ExecuteResult{
		Execution:       execution,
		RecordsAffected: execution.RecordsAffected,
	}

	if execution.Duration != nil {
		result.Duration = *execution.Duration
	}

	return result
}
