package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/refreshd/pkg/lock"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/otelhelper"
	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTickInterval     = time.Minute
	DefaultMaxConcurrency   = 5
	DefaultExecutionTimeout = 5 * time.Minute
)

// Config tunes the scheduler loop.
type Config struct {
	TickInterval time.Duration
	// MaxConcurrency bounds dispatches running at the same time.
	MaxConcurrency int
	// ExecutionTimeout bounds every target refresh.
	ExecutionTimeout time.Duration
	// QueueSize is the number of dispatches that may wait for a worker.
	// Submitting beyond it blocks.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}

	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}

	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = DefaultExecutionTimeout
	}

	if c.QueueSize <= 0 {
		c.QueueSize = c.MaxConcurrency * 4
	}

	return c
}

// Refresher refreshes a target on behalf of its owner.
type Refresher interface {
	Refresh(ctx context.Context, target models.Target, ownerID string) (*Result, error)
}

// DispatchResult reports one dispatched schedule.
type DispatchResult struct {
	ScheduleID      string                 `json:"scheduleId"`
	ExecutionID     string                 `json:"executionId,omitempty"`
	Status          models.ExecutionStatus `json:"status"`
	Duration        *int64                 `json:"duration,omitempty"`
	RecordsAffected *int64                 `json:"recordsAffected,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// TickSummary reports one pass over the due schedules.
type TickSummary struct {
	SchedulesProcessed int               `json:"schedulesProcessed"`
	SchedulesSkipped   int               `json:"schedulesSkipped"`
	Results            []*DispatchResult `json:"results"`
}

// Status is a snapshot of the scheduler loop.
type Status struct {
	Running             bool                      `json:"running"`
	LastTickAt          *time.Time                `json:"lastTickAt,omitempty"`
	TickInterval        string                    `json:"tickInterval"`
	MaxConcurrency      int                       `json:"maxConcurrency"`
	ActiveScheduleCount int                       `json:"activeScheduleCount"`
	InFlight            []string                  `json:"inFlight"`
	ActiveSchedules     []*models.RefreshSchedule `json:"activeSchedules"`
}

// Scheduler dispatches due schedules on a fixed tick and serves single
// dispatches for realtime events and ad-hoc refreshes. A schedule never has
// two dispatches running at once.
type Scheduler struct {
	schedules persistence.ScheduleRepository
	recorder  *Recorder
	refresher Refresher
	inFlight  lock.InFlight
	config    Config
	pool      *pool
	clock     clockwork.Clock
	tracer    trace.Tracer
	logger    *slog.Logger

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastTickAt *time.Time
}

type SchedulerOption func(*Scheduler)

// WithInFlight replaces the process-local in-flight set, e.g. with a Redis
// backed one shared by replicas.
func WithInFlight(inFlight lock.InFlight) SchedulerOption {
	return func(s *Scheduler) { s.inFlight = inFlight }
}

func WithClock(clock clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

func WithTracer(tracer trace.Tracer) SchedulerOption {
	return func(s *Scheduler) { s.tracer = tracer }
}

func NewScheduler(
	schedules persistence.ScheduleRepository,
	recorder *Recorder,
	refresher Refresher,
	config Config,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		schedules: schedules,
		recorder:  recorder,
		refresher: refresher,
		inFlight:  lock.NewMemory(),
		config:    config.withDefaults(),
		clock:     clockwork.NewRealClock(),
		tracer:    otelhelper.NoopTracer(),
		logger:    logger.With("module", "scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.pool = newPool(s.config.MaxConcurrency, s.config.QueueSize)

	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// Tick dispatches every due schedule once and waits for the dispatches to
// finish. Only failing to list due schedules is returned as an error; refresh
// failures are reported in the summary.
func (s *Scheduler) Tick(ctx context.Context) (*TickSummary, error) {
	now := s.clock.Now()

	s.mu.Lock()
	tickAt := now.UTC()
	s.lastTickAt = &tickAt
	s.mu.Unlock()

	due, err := s.schedules.Due(ctx, now)
	if err != nil {
		return nil, NewError("Tick", ErrInternal, "", fmt.Errorf("failed to list due schedules: %w", err))
	}

	summary := &TickSummary{Results: make([]*DispatchResult, 0, len(due))}
	results := make([]*DispatchResult, len(due))

	var wg sync.WaitGroup

	for i, schedule := range due {
		if ctx.Err() != nil {
			break
		}

		acquired, err := s.inFlight.TryAcquire(ctx, schedule.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to acquire in-flight slot", "schedule_id", schedule.ID, "error", err)

			summary.SchedulesSkipped++

			continue
		}

		if !acquired {
			s.logger.InfoContext(ctx, "schedule still running, skipping", "schedule_id", schedule.ID)

			summary.SchedulesSkipped++

			continue
		}

		wg.Add(1)

		err = s.pool.submit(ctx, func() {
			defer wg.Done()

			results[i] = s.run(ctx, schedule, models.TriggerScheduled)
		})
		if err != nil {
			wg.Done()
			s.release(ctx, schedule.ID)

			summary.SchedulesSkipped++
		}
	}

	wg.Wait()

	for _, result := range results {
		if result != nil {
			summary.Results = append(summary.Results, result)
		}
	}

	summary.SchedulesProcessed = len(summary.Results)

	return summary, nil
}

// Dispatch runs one schedule now. It returns ErrConflict when the schedule
// already has a dispatch in flight.
func (s *Scheduler) Dispatch(ctx context.Context, schedule *models.RefreshSchedule, trigger models.ExecutionTrigger) (*DispatchResult, error) {
	acquired, err := s.inFlight.TryAcquire(ctx, schedule.ID)
	if err != nil {
		return nil, NewError("Dispatch", ErrInternal, "", fmt.Errorf("failed to acquire in-flight slot: %w", err))
	}

	if !acquired {
		return nil, NewError("Dispatch", ErrConflict, fmt.Sprintf("schedule %s is already running", schedule.ID), nil)
	}

	done := make(chan *DispatchResult, 1)

	err = s.pool.submit(ctx, func() {
		done <- s.run(ctx, schedule, trigger)
	})
	if err != nil {
		s.release(ctx, schedule.ID)

		return nil, NewError("Dispatch", ErrInternal, "", err)
	}

	select {
	case result := <-done:
		return result, nil
	case <-ctx.Done():
		return nil, NewError("Dispatch", ErrInternal, "", ctx.Err())
	}
}

// run executes an acquired schedule and releases it once the execution is
// closed. Cancelling parent does not stop a started refresh.
func (s *Scheduler) run(parent context.Context, schedule *models.RefreshSchedule, trigger models.ExecutionTrigger) *DispatchResult {
	ctx := context.WithoutCancel(parent)
	defer s.release(ctx, schedule.ID)

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "refresh.dispatch",
		attribute.String(otelhelper.ScheduleIDKey, schedule.ID),
		attribute.String(otelhelper.ScheduleTypeKey, string(schedule.ScheduleType)),
		attribute.String(otelhelper.TargetTypeKey, string(schedule.TargetType)),
		attribute.String(otelhelper.TargetIDKey, schedule.TargetID),
		attribute.String(otelhelper.TriggerKey, string(trigger)),
	)
	defer span.End()

	logger := s.logger.With("schedule_id", schedule.ID, "trigger", trigger)
	result := &DispatchResult{ScheduleID: schedule.ID, Status: models.ExecutionStatusFailed}

	target, err := schedule.Target()
	if err != nil {
		result.Error = err.Error()
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "schedule has an invalid target", "error", err)

		return result
	}

	execution, err := s.recorder.Begin(ctx, schedule.ID, target, trigger)
	if err != nil {
		result.Error = err.Error()
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "failed to record execution start", "error", err)

		return result
	}

	result.ExecutionID = execution.ID
	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	refreshCtx, cancel := context.WithTimeout(ctx, s.config.ExecutionTimeout)
	refreshed, err := s.refresher.Refresh(refreshCtx, target, schedule.OwnerID)
	timedOut := errors.Is(refreshCtx.Err(), context.DeadlineExceeded)

	cancel()

	if err != nil {
		message := err.Error()
		if timedOut {
			message = fmt.Sprintf("refresh timed out after %s: %s", s.config.ExecutionTimeout, message)
		}

		otelhelper.SetError(span, err)
		logger.WarnContext(ctx, "refresh failed", "execution_id", execution.ID, "error", message)

		closed, err := s.recorder.Fail(ctx, execution.ID, message)
		if err != nil {
			logger.ErrorContext(ctx, "failed to record failure, execution left running", "execution_id", execution.ID, "error", err)

			result.Status = models.ExecutionStatusRunning
			result.Error = message

			return result
		}

		result.Duration = closed.Duration
		result.Error = message

		return result
	}

	closed, err := s.recorder.Complete(ctx, execution.ID, refreshed)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "failed to record completion, execution left running", "execution_id", execution.ID, "error", err)

		result.Status = models.ExecutionStatusRunning
		result.Error = err.Error()

		return result
	}

	span.SetAttributes(attribute.Int64(otelhelper.RecordsKey, closed.RecordsAffected))
	logger.InfoContext(ctx, "refresh completed", "execution_id", execution.ID, "records_affected", closed.RecordsAffected, "duration_ms", *closed.Duration)

	records := closed.RecordsAffected
	result.Status = models.ExecutionStatusCompleted
	result.Duration = closed.Duration
	result.RecordsAffected = &records

	return result
}

func (s *Scheduler) release(ctx context.Context, scheduleID string) {
	if err := s.inFlight.Release(context.WithoutCancel(ctx), scheduleID); err != nil {
		s.logger.ErrorContext(ctx, "failed to release in-flight slot", "schedule_id", scheduleID, "error", err)
	}
}

// Start begins ticking every TickInterval, with a first tick right away.
// It returns false when the loop is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.running = true
	s.cancel = cancel
	s.done = done

	go s.loop(loopCtx, done)

	s.logger.InfoContext(ctx, "scheduler started", "tick_interval", s.config.TickInterval, "max_concurrency", s.config.MaxConcurrency)

	return true
}

// Stop cancels the pending tick. Dispatches already started run to
// completion. It returns false when the loop was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}

	s.cancel()
	s.running = false

	s.logger.Info("scheduler stopped")

	return true
}

// Running reports whether the loop is ticking.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Close stops the loop and waits for every started dispatch to finish.
func (s *Scheduler) Close() {
	s.Stop()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}

	s.pool.close()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.reconcile(ctx)

	summary, err := s.Tick(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "tick failed", "error", err)
		}

		return
	}

	if summary.SchedulesProcessed > 0 || summary.SchedulesSkipped > 0 {
		s.logger.InfoContext(ctx, "tick finished", "processed", summary.SchedulesProcessed, "skipped", summary.SchedulesSkipped)
	}
}

// reconcile closes executions abandoned by a crashed process while this one
// keeps running.
func (s *Scheduler) reconcile(ctx context.Context) {
	closed, err := s.recorder.Reconcile(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "reconcile failed", "error", err)
		}

		return
	}

	if closed > 0 {
		s.logger.InfoContext(ctx, "closed stale executions", "count", closed)
	}
}

// Status reports the loop state, the in-flight schedules and the active
// schedules.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	s.mu.Lock()
	running := s.running
	lastTickAt := s.lastTickAt
	s.mu.Unlock()

	active, err := s.schedules.Active(ctx)
	if err != nil {
		return nil, NewError("Status", ErrInternal, "", fmt.Errorf("failed to list active schedules: %w", err))
	}

	inFlight, err := s.inFlight.List(ctx)
	if err != nil {
		return nil, NewError("Status", ErrInternal, "", fmt.Errorf("failed to list in-flight schedules: %w", err))
	}

	return &Status{
		Running:             running,
		LastTickAt:          lastTickAt,
		TickInterval:        s.config.TickInterval.String(),
		MaxConcurrency:      s.config.MaxConcurrency,
		ActiveScheduleCount: len(active),
		InFlight:            inFlight,
		ActiveSchedules:     active,
	}, nil
}
