package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/jmoiron/sqlx"
)

// TargetRepository reads and touches the dashboards, saved_queries and
// data_sources tables.
type TargetRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func (r *TargetRepository) DashboardByID(ctx context.Context, id string) (*models.Dashboard, error) {
	dashboard := &models.Dashboard{}

	err := r.db.GetContext(ctx, dashboard, `
		SELECT id, name, owner_id, refreshed_at FROM dashboards WHERE id = $1
	`, id)
	if err != nil {
		return nil, r.lookupError("dashboard", id, err, persistence.ErrTargetNotFound)
	}

	return dashboard, nil
}

func (r *TargetRepository) QueryByID(ctx context.Context, id string) (*models.SavedQuery, error) {
	query := &models.SavedQuery{}

	err := r.db.GetContext(ctx, query, `
		SELECT id, name, owner_id, data_source_id, statement, last_run_at, last_row_count
		FROM saved_queries WHERE id = $1
	`, id)
	if err != nil {
		return nil, r.lookupError("query", id, err, persistence.ErrTargetNotFound)
	}

	return query, nil
}

func (r *TargetRepository) DataSourceByID(ctx context.Context, id string) (*models.DataSource, error) {
	dataSource := &models.DataSource{}

	err := r.db.GetContext(ctx, dataSource, `
		SELECT id, name, type, connection_string, owner_id, created_at, updated_at
		FROM data_sources WHERE id = $1
	`, id)
	if err != nil {
		return nil, r.lookupError("data source", id, err, persistence.ErrDataSourceNotFound)
	}

	return dataSource, nil
}

// TouchDashboard sets the dashboard's refreshed_at marker.
func (r *TargetRepository) TouchDashboard(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE dashboards SET refreshed_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to touch dashboard: %w", err)
	}

	return requireRow(result, "dashboard", id)
}

// RecordQueryRun stores when a saved query last ran and how many rows it returned.
func (r *TargetRepository) RecordQueryRun(ctx context.Context, id string, at time.Time, rowCount int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE saved_queries SET last_run_at = $2, last_row_count = $3 WHERE id = $1
	`, id, at.UTC(), rowCount)
	if err != nil {
		return fmt.Errorf("failed to record query run: %w", err)
	}

	return requireRow(result, "query", id)
}

// SaveDashboard inserts or updates a dashboard.
func (r *TargetRepository) SaveDashboard(ctx context.Context, dashboard *models.Dashboard) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO dashboards (id, name, owner_id, refreshed_at)
		VALUES (:id, :name, :owner_id, :refreshed_at)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, owner_id = EXCLUDED.owner_id
	`, dashboard)
	if err != nil {
		return fmt.Errorf("failed to save dashboard: %w", err)
	}

	return nil
}

// SaveQuery inserts or updates a saved query.
func (r *TargetRepository) SaveQuery(ctx context.Context, query *models.SavedQuery) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO saved_queries (id, name, owner_id, data_source_id, statement, last_run_at, last_row_count)
		VALUES (:id, :name, :owner_id, :data_source_id, :statement, :last_run_at, :last_row_count)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			owner_id = EXCLUDED.owner_id,
			data_source_id = EXCLUDED.data_source_id,
			statement = EXCLUDED.statement
	`, query)
	if err != nil {
		return fmt.Errorf("failed to save query: %w", err)
	}

	return nil
}

// SaveDataSource inserts or updates a data source.
func (r *TargetRepository) SaveDataSource(ctx context.Context, dataSource *models.DataSource) error {
	now := time.Now().UTC()
	if dataSource.CreatedAt.IsZero() {
		dataSource.CreatedAt = now
	}

	dataSource.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO data_sources (id, name, type, connection_string, owner_id, created_at, updated_at)
		VALUES (:id, :name, :type, :connection_string, :owner_id, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			connection_string = EXCLUDED.connection_string,
			owner_id = EXCLUDED.owner_id,
			updated_at = EXCLUDED.updated_at
	`, dataSource)
	if err != nil {
		return fmt.Errorf("failed to save data source: %w", err)
	}

	return nil
}

func (r *TargetRepository) lookupError(kind, id string, err, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, notFound)
	}

	return fmt.Errorf("failed to get %s: %w", kind, err)
}

func requireRow(result sql.Result, kind, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, persistence.ErrTargetNotFound)
	}

	return nil
}
