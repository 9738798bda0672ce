package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/refreshd/pkg/eventbus"
	"github.com/dukex/refreshd/pkg/events"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultStaleAfter is how long a RUNNING execution may stay open before
// Reconcile closes it. It exceeds the default execution timeout.
const DefaultStaleAfter = DefaultExecutionTimeout + time.Minute

// Recorder persists the lifecycle of executions and the schedule bookkeeping
// that goes with it.
type Recorder struct {
	schedules  persistence.ScheduleRepository
	executions persistence.ExecutionRepository
	publisher  eventbus.EventPublisher
	clock      clockwork.Clock
	logger     *slog.Logger
	staleAfter time.Duration
}

type RecorderOption func(*Recorder)

// WithPublisher publishes execution lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) RecorderOption {
	return func(r *Recorder) { r.publisher = publisher }
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

func NewRecorder(p persistence.Persistence, clock clockwork.Clock, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		schedules:  p.ScheduleRepository(),
		executions: p.ExecutionRepository(),
		clock:      clock,
		logger:     logger.With("module", "recorder"),
		staleAfter: DefaultStaleAfter,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Begin persists a RUNNING execution. An empty scheduleID records an ad-hoc
// refresh under models.ManualScheduleID.
func (r *Recorder) Begin(ctx context.Context, scheduleID string, target models.Target, trigger models.ExecutionTrigger) (*models.RefreshExecution, error) {
	if scheduleID == "" {
		scheduleID = models.ManualScheduleID
	}

	execution := &models.RefreshExecution{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		TargetType: target.Type(),
		TargetID:   target.ID(),
		Trigger:    trigger,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  r.clock.Now().UTC(),
		Metadata:   models.Metadata{},
	}

	if err := r.executions.Create(ctx, execution); err != nil {
		return nil, NewError("Begin", ErrInternal, "", fmt.Errorf("failed to create execution: %w", err))
	}

	r.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   r.baseEvent(execution.ID, events.ExecutionStartedEvent),
		ExecutionID: execution.ID,
		ScheduleID:  execution.ScheduleID,
		TargetType:  execution.TargetType,
		TargetID:    execution.TargetID,
		Trigger:     execution.Trigger,
	})

	return execution, nil
}

// Complete closes the execution as COMPLETED. For schedule-bound executions
// the schedule's lastRunAt, runCount, lastError and nextRunAt are updated in
// the same transaction.
func (r *Recorder) Complete(ctx context.Context, executionID string, result *Result) (*models.RefreshExecution, error) {
	execution, err := r.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, classify("Complete", err)
	}

	if result == nil {
		result = &Result{}
	}

	metadata := result.Metadata
	if metadata == nil {
		metadata = models.Metadata{}
	}

	now := r.clock.Now()
	if err := execution.Complete(now, result.RecordsAffected, metadata); err != nil {
		return nil, NewError("Complete", ErrInternal, "", err)
	}

	if err := r.finish(ctx, execution, true, ""); err != nil {
		return nil, NewError("Complete", ErrInternal, "", err)
	}

	r.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent:       r.baseEvent(execution.ID, events.ExecutionCompletedEvent),
		ExecutionID:     execution.ID,
		ScheduleID:      execution.ScheduleID,
		Duration:        *execution.Duration,
		RecordsAffected: execution.RecordsAffected,
		Metadata:        execution.Metadata,
	})

	return execution, nil
}

// Fail closes the execution as FAILED with message. Schedule-bound
// executions bump errorCount, store message as lastError and advance
// nextRunAt as a success would.
func (r *Recorder) Fail(ctx context.Context, executionID, message string) (*models.RefreshExecution, error) {
	execution, err := r.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, classify("Fail", err)
	}

	if err := execution.Fail(r.clock.Now(), message); err != nil {
		return nil, NewError("Fail", ErrInternal, "", err)
	}

	if err := r.finish(ctx, execution, false, message); err != nil {
		return nil, NewError("Fail", ErrInternal, "", err)
	}

	r.publishFailed(ctx, execution)

	return execution, nil
}

// Reconcile closes RUNNING executions older than the stale threshold, left
// behind by a crashed process. It is safe to call while refreshes run and
// returns how many were closed.
func (r *Recorder) Reconcile(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.staleAfter)
	message := fmt.Sprintf("execution did not finish within %s and was closed", r.staleAfter)

	return r.reconcile(ctx, "Reconcile", cutoff, message)
}

// ReconcileAll closes every RUNNING execution. Only call it at startup when
// no other process shares the store, since it also closes fresh executions.
func (r *Recorder) ReconcileAll(ctx context.Context) (int, error) {
	return r.reconcile(ctx, "ReconcileAll", r.clock.Now(), "execution was interrupted by a restart")
}

func (r *Recorder) reconcile(ctx context.Context, op string, startedBefore time.Time, message string) (int, error) {
	now := r.clock.Now()

	stale, err := r.executions.Running(ctx, startedBefore)
	if err != nil {
		return 0, NewError(op, ErrInternal, "", fmt.Errorf("failed to list running executions: %w", err))
	}

	closed := 0

	for _, execution := range stale {
		if err := execution.Fail(now, message); err != nil {
			continue
		}

		outcome, err := r.reconcileOutcome(ctx, execution, message)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to load schedule of stale execution", "execution_id", execution.ID, "error", err)

			continue
		}

		err = r.executions.Finish(ctx, execution, outcome)
		if errors.Is(err, persistence.ErrExecutionFinished) {
			continue
		}

		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close stale execution", "execution_id", execution.ID, "error", err)

			continue
		}

		closed++

		r.logger.WarnContext(ctx, "closed stale execution", "execution_id", execution.ID, "schedule_id", execution.ScheduleID, "started_at", execution.StartedAt)
		r.publishFailed(ctx, execution)
	}

	return closed, nil
}

// reconcileOutcome counts the stale execution as a schedule failure unless
// the schedule already ran after it started.
func (r *Recorder) reconcileOutcome(ctx context.Context, execution *models.RefreshExecution, message string) (*persistence.ScheduleOutcome, error) {
	if execution.IsManual() {
		return nil, nil
	}

	schedule, err := r.schedules.GetByID(ctx, execution.ScheduleID)
	if persistence.IsScheduleNotFound(err) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if schedule.LastRunAt != nil && schedule.LastRunAt.After(execution.StartedAt) {
		return nil, nil
	}

	return newOutcome(execution, false, message), nil
}

// finish closes the execution. The store applies the outcome to the schedule
// row it holds locked, which also covers a schedule deleted mid-run.
func (r *Recorder) finish(ctx context.Context, execution *models.RefreshExecution, succeeded bool, message string) error {
	var outcome *persistence.ScheduleOutcome

	if !execution.IsManual() {
		outcome = newOutcome(execution, succeeded, message)
	}

	if err := r.executions.Finish(ctx, execution, outcome); err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}

	return nil
}

func newOutcome(execution *models.RefreshExecution, succeeded bool, message string) *persistence.ScheduleOutcome {
	return &persistence.ScheduleOutcome{
		ScheduleID: execution.ScheduleID,
		RanAt:      *execution.CompletedAt,
		Succeeded:  succeeded,
		Error:      message,
	}
}

func (r *Recorder) publishFailed(ctx context.Context, execution *models.RefreshExecution) {
	message := ""
	if execution.ErrorMessage != nil {
		message = *execution.ErrorMessage
	}

	r.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:   r.baseEvent(execution.ID, events.ExecutionFailedEvent),
		ExecutionID: execution.ID,
		ScheduleID:  execution.ScheduleID,
		Duration:    *execution.Duration,
		Error:       message,
	})
}

func (r *Recorder) baseEvent(executionID string, eventType events.EventType) events.BaseEvent {
	return events.NewBaseEvent(executionID+":"+string(eventType), eventType, r.clock.Now())
}

func (r *Recorder) publish(ctx context.Context, key string, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(ctx, key, event); err != nil {
		r.logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "key", key, "error", err)
	}
}
