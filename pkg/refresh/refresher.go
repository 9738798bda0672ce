// Package refresh runs refresh schedules: it resolves and refreshes targets,
// records every attempt as an execution, and drives due schedules from a
// periodic loop.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/refreshd/pkg/connections"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

// ConnectionPool hands out pooled data source connections.
type ConnectionPool interface {
	GetConnection(ctx context.Context, dataSourceID string, dataSourceType models.DataSourceType, connectionString string) (*connections.Connection, error)
}

// Plan is a resolved target, ready to be executed.
type Plan struct {
	Target  models.Target
	OwnerID string

	Dashboard  *models.Dashboard
	Query      *models.SavedQuery
	DataSource *models.DataSource
}

// Result is the outcome of a successful refresh.
type Result struct {
	RecordsAffected int64
	Metadata        models.Metadata
}

// TargetRefresher recomputes dashboards and saved queries.
type TargetRefresher struct {
	targets persistence.TargetRepository
	pool    ConnectionPool
	clock   clockwork.Clock
	logger  *slog.Logger
}

func NewTargetRefresher(targets persistence.TargetRepository, pool ConnectionPool, clock clockwork.Clock, logger *slog.Logger) *TargetRefresher {
	return &TargetRefresher{
		targets: targets,
		pool:    pool,
		clock:   clock,
		logger:  logger.With("module", "refresher"),
	}
}

// Refresh resolves target on behalf of ownerID and executes it.
func (r *TargetRefresher) Refresh(ctx context.Context, target models.Target, ownerID string) (*Result, error) {
	plan, err := r.Resolve(ctx, target, ownerID)
	if err != nil {
		return nil, err
	}

	return r.Execute(ctx, plan)
}

// Resolve loads the target and everything needed to refresh it. Targets
// that do not exist or belong to someone else are reported as ErrNotFound.
func (r *TargetRefresher) Resolve(ctx context.Context, target models.Target, ownerID string) (*Plan, error) {
	v := &resolver{ctx: ctx, targets: r.targets, plan: &Plan{Target: target, OwnerID: ownerID}}

	if err := target.Accept(v); err != nil {
		return nil, err
	}

	return v.plan, nil
}

// Execute performs the refresh described by plan.
func (r *TargetRefresher) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	v := &executor{ctx: ctx, refresher: r, plan: plan}

	if err := plan.Target.Accept(v); err != nil {
		return nil, err
	}

	return v.result, nil
}

type resolver struct {
	ctx     context.Context
	targets persistence.TargetRepository
	plan    *Plan
}

func (v *resolver) VisitDashboard(t models.DashboardTarget) error {
	dashboard, err := v.targets.DashboardByID(v.ctx, t.DashboardID)
	if err != nil {
		return lookupError(t, err)
	}

	if dashboard.OwnerID != v.plan.OwnerID {
		return targetNotFound(t)
	}

	v.plan.Dashboard = dashboard

	return nil
}

func (v *resolver) VisitQuery(t models.QueryTarget) error {
	query, err := v.targets.QueryByID(v.ctx, t.QueryID)
	if err != nil {
		return lookupError(t, err)
	}

	if query.OwnerID != v.plan.OwnerID {
		return targetNotFound(t)
	}

	dataSource, err := v.targets.DataSourceByID(v.ctx, query.DataSourceID)
	if err != nil {
		if persistence.IsTargetNotFound(err) {
			return NewError("Resolve", ErrNotFound, fmt.Sprintf("data source %s not found", query.DataSourceID), err)
		}

		return NewError("Resolve", ErrInternal, "", err)
	}

	v.plan.Query = query
	v.plan.DataSource = dataSource

	return nil
}

type executor struct {
	ctx       context.Context
	refresher *TargetRefresher
	plan      *Plan
	result    *Result
}

func (v *executor) VisitDashboard(t models.DashboardTarget) error {
	now := v.refresher.clock.Now().UTC()

	if err := v.refresher.targets.TouchDashboard(v.ctx, t.DashboardID, now); err != nil {
		return classify("Execute", err)
	}

	name := ""
	if v.plan.Dashboard != nil {
		name = v.plan.Dashboard.Name
	}

	v.result = &Result{
		RecordsAffected: 1,
		Metadata: models.Metadata{
			"dashboardId":   t.DashboardID,
			"dashboardName": name,
			"refreshedAt":   now.Format(time.RFC3339Nano),
		},
	}

	return nil
}

func (v *executor) VisitQuery(t models.QueryTarget) error {
	query, dataSource := v.plan.Query, v.plan.DataSource
	if query == nil || dataSource == nil {
		return NewError("Execute", ErrInternal, "query target was not resolved", nil)
	}

	conn, err := v.refresher.pool.GetConnection(v.ctx, dataSource.ID, dataSource.Type, dataSource.ConnectionString)
	if err != nil {
		return classify("Execute", err)
	}

	result, err := conn.Query(v.ctx, query.Statement)
	if err != nil {
		return classify("Execute", err)
	}

	now := v.refresher.clock.Now().UTC()
	if err := v.refresher.targets.RecordQueryRun(v.ctx, t.QueryID, now, result.RowCount); err != nil {
		v.refresher.logger.WarnContext(v.ctx, "failed to record query run", "query_id", t.QueryID, "error", err)
	}

	v.result = &Result{
		RecordsAffected: result.RowCount,
		Metadata: models.Metadata{
			"statement":      query.Statement,
			"dataSourceId":   dataSource.ID,
			"dataSourceType": string(dataSource.Type),
			"columns":        result.Columns,
			"rowCount":       result.RowCount,
			"truncated":      result.Truncated,
		},
	}

	return nil
}

func lookupError(t models.Target, err error) error {
	if persistence.IsTargetNotFound(err) {
		return NewError("Resolve", ErrNotFound, targetNotFound(t).Message, err)
	}

	return NewError("Resolve", ErrInternal, "", err)
}

func targetNotFound(t models.Target) *Error {
	return NewError("Resolve", ErrNotFound, fmt.Sprintf("%s %s not found", targetLabel(t.Type()), t.ID()), nil)
}

func targetLabel(t models.TargetType) string {
	switch t {
	case models.TargetTypeDashboard:
		return "dashboard"
	case models.TargetTypeQuery:
		return "query"
	}

	return string(t)
}
