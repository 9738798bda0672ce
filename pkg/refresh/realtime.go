package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/refreshd/pkg/eventbus"
	"github.com/dukex/refreshd/pkg/events"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
)

// RealtimeListener dispatches REALTIME schedules when their target reports
// a change.
type RealtimeListener struct {
	schedules persistence.ScheduleRepository
	scheduler *Scheduler
	logger    *slog.Logger
}

func NewRealtimeListener(schedules persistence.ScheduleRepository, scheduler *Scheduler, logger *slog.Logger) *RealtimeListener {
	return &RealtimeListener{
		schedules: schedules,
		scheduler: scheduler,
		logger:    logger.With("module", "realtime"),
	}
}

// Register subscribes the listener to target change events.
func (l *RealtimeListener) Register(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.TargetChangedEvent, l.Handle)
}

// Handle dispatches every active REALTIME schedule of the changed target.
// Schedules that are still running are skipped.
func (l *RealtimeListener) Handle(ctx context.Context, event any) error {
	changed, ok := event.(*events.TargetChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	target, err := changed.Target()
	if err != nil {
		l.logger.WarnContext(ctx, "ignoring change of invalid target", "target_type", changed.TargetType, "target_id", changed.TargetID, "error", err)

		return nil
	}

	schedules, err := l.schedules.ByTarget(ctx, target, models.ScheduleTypeRealtime)
	if err != nil {
		return fmt.Errorf("failed to list realtime schedules: %w", err)
	}

	for _, schedule := range schedules {
		result, err := l.scheduler.Dispatch(ctx, schedule, models.TriggerRealtime)
		if errors.Is(err, ErrConflict) {
			l.logger.InfoContext(ctx, "realtime schedule still running, skipping", "schedule_id", schedule.ID)

			continue
		}

		if err != nil {
			l.logger.ErrorContext(ctx, "realtime dispatch failed", "schedule_id", schedule.ID, "error", err)

			continue
		}

		l.logger.InfoContext(ctx, "realtime refresh dispatched", "schedule_id", schedule.ID, "execution_id", result.ExecutionID, "status", result.Status)
	}

	return nil
}
