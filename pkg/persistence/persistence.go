// Package persistence provides the storage abstraction for refresh schedules,
// their execution history, and the external targets they refresh.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/refreshd/pkg/models"
)

// Persistence groups the repositories backed by one store.
type Persistence interface {
	ScheduleRepository() ScheduleRepository
	ExecutionRepository() ExecutionRepository
	TargetRepository() TargetRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ScheduleRepository stores refresh schedules.
type ScheduleRepository interface {
	Save(ctx context.Context, schedule *models.RefreshSchedule) error
	GetByID(ctx context.Context, id string) (*models.RefreshSchedule, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.RefreshSchedule, error)
	// Active returns every active schedule regardless of type.
	Active(ctx context.Context) ([]*models.RefreshSchedule, error)
	// Due returns active INTERVAL and CRON schedules with next_run_at <= before.
	Due(ctx context.Context, before time.Time) ([]*models.RefreshSchedule, error)
	// ByTarget returns active schedules of the given type that refresh target.
	ByTarget(ctx context.Context, target models.Target, scheduleType models.ScheduleType) ([]*models.RefreshSchedule, error)
	Delete(ctx context.Context, id string) error
}

// ScheduleOutcome is the schedule bookkeeping applied together with the
// terminal transition of one of its executions. Stores apply it to the
// schedule as read under their lock, never to a caller's copy.
type ScheduleOutcome struct {
	ScheduleID string
	RanAt      time.Time
	Succeeded  bool
	// Error is stored as last_error when Succeeded is false.
	Error string
}

// NextRun derives the next run from the schedule's timing fields. Inactive
// schedules have none.
func (o *ScheduleOutcome) NextRun(schedule *models.RefreshSchedule) (*time.Time, error) {
	if !schedule.IsActive {
		return nil, nil
	}

	return schedule.NextRunAfter(o.RanAt)
}

// Apply records the run on schedule. When the next run cannot be computed
// NextRunAt is cleared, so the schedule stops polling, and the error is returned.
func (o *ScheduleOutcome) Apply(schedule *models.RefreshSchedule) error {
	ranAt := o.RanAt.UTC()
	schedule.LastRunAt = &ranAt

	if o.Succeeded {
		schedule.RunCount++
		schedule.LastError = nil
	} else {
		message := o.Error
		schedule.ErrorCount++
		schedule.LastError = &message
	}

	next, err := o.NextRun(schedule)
	schedule.NextRunAt = next

	return err
}

// ExecutionRepository stores refresh executions.
type ExecutionRepository interface {
	// Create inserts a RUNNING execution.
	Create(ctx context.Context, execution *models.RefreshExecution) error
	// Finish persists the terminal state of a RUNNING execution and, when
	// outcome is non-nil, applies it to the owning schedule in the same
	// transaction. Returns ErrExecutionFinished if the execution is no longer
	// RUNNING.
	Finish(ctx context.Context, execution *models.RefreshExecution, outcome *ScheduleOutcome) error
	GetByID(ctx context.Context, id string) (*models.RefreshExecution, error)
	ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*models.RefreshExecution, error)
	// Running returns RUNNING executions started before the given time.
	Running(ctx context.Context, startedBefore time.Time) ([]*models.RefreshExecution, error)
}

// TargetRepository is the engine's view of the dashboard, query and data
// source tables owned by the CRUD layer.
type TargetRepository interface {
	DashboardByID(ctx context.Context, id string) (*models.Dashboard, error)
	QueryByID(ctx context.Context, id string) (*models.SavedQuery, error)
	DataSourceByID(ctx context.Context, id string) (*models.DataSource, error)
	TouchDashboard(ctx context.Context, id string, at time.Time) error
	RecordQueryRun(ctx context.Context, id string, at time.Time, rowCount int64) error
}

// TargetWriter seeds dashboards, saved queries and data sources. Both stores
// implement it on their concrete target repository for local setups and tests.
type TargetWriter interface {
	SaveDashboard(ctx context.Context, dashboard *models.Dashboard) error
	SaveQuery(ctx context.Context, query *models.SavedQuery) error
	SaveDataSource(ctx context.Context, dataSource *models.DataSource) error
}
