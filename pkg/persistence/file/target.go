package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
)

// TargetRepository stores dashboards, saved queries and data sources as files.
// In production these belong to the CRUD layer; the file store keeps a copy
// so local runs and tests have something to refresh.
type TargetRepository struct {
	store *Persistence
}

func (r *TargetRepository) DashboardByID(_ context.Context, id string) (*models.Dashboard, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	dashboard := &models.Dashboard{}
	if err := r.readTarget(dashboardsDir, id, dashboard, persistence.ErrTargetNotFound); err != nil {
		return nil, err
	}

	return dashboard, nil
}

func (r *TargetRepository) QueryByID(_ context.Context, id string) (*models.SavedQuery, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	query := &models.SavedQuery{}
	if err := r.readTarget(queriesDir, id, query, persistence.ErrTargetNotFound); err != nil {
		return nil, err
	}

	return query, nil
}

func (r *TargetRepository) DataSourceByID(_ context.Context, id string) (*models.DataSource, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored := &storedDataSource{}
	if err := r.readTarget(dataSourcesDir, id, stored, persistence.ErrDataSourceNotFound); err != nil {
		return nil, err
	}

	dataSource := stored.DataSource
	dataSource.ConnectionString = stored.ConnectionString

	return &dataSource, nil
}

// TouchDashboard sets the dashboard's refreshed_at marker.
func (r *TargetRepository) TouchDashboard(_ context.Context, id string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	dashboard := &models.Dashboard{}
	if err := r.readTarget(dashboardsDir, id, dashboard, persistence.ErrTargetNotFound); err != nil {
		return err
	}

	refreshedAt := at.UTC()
	dashboard.RefreshedAt = &refreshedAt

	return r.store.write(dashboardsDir, id, dashboard)
}

// RecordQueryRun stores when a saved query last ran and how many rows it returned.
func (r *TargetRepository) RecordQueryRun(_ context.Context, id string, at time.Time, rowCount int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	query := &models.SavedQuery{}
	if err := r.readTarget(queriesDir, id, query, persistence.ErrTargetNotFound); err != nil {
		return err
	}

	lastRunAt := at.UTC()
	query.LastRunAt = &lastRunAt
	query.LastRowCount = &rowCount

	return r.store.write(queriesDir, id, query)
}

// SaveDashboard stores a dashboard.
func (r *TargetRepository) SaveDashboard(_ context.Context, dashboard *models.Dashboard) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(dashboardsDir, dashboard.ID, dashboard)
}

// SaveQuery stores a saved query.
func (r *TargetRepository) SaveQuery(_ context.Context, query *models.SavedQuery) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(queriesDir, query.ID, query)
}

// SaveDataSource stores a data source. The connection string is kept on disk
// even though it is hidden from JSON API responses.
func (r *TargetRepository) SaveDataSource(_ context.Context, dataSource *models.DataSource) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(dataSourcesDir, dataSource.ID, storedDataSource{
		DataSource:       *dataSource,
		ConnectionString: dataSource.ConnectionString,
	})
}

// storedDataSource persists the connection string that models.DataSource
// omits from its JSON form.
type storedDataSource struct {
	models.DataSource

	ConnectionString string `json:"connectionString"`
}

func (r *TargetRepository) readTarget(dir, id string, v any, notFound error) error {
	err := r.store.read(dir, id, v)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", dir, id, notFound)
	}

	return err
}
