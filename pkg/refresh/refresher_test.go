package refresh

import (
	"path/filepath"
	"testing"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetRefresher_Dashboard(t *testing.T) {
	f := newFixture(t)
	f.saveDashboard(t, "dash-1", owner)

	result, err := f.refresher.Refresh(t.Context(), models.DashboardTarget{DashboardID: "dash-1"}, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RecordsAffected)
	assert.Equal(t, "dash-1", result.Metadata["dashboardId"])
	assert.Equal(t, "Dashboard dash-1", result.Metadata["dashboardName"])
	assert.Equal(t, "2026-03-01T12:00:00Z", result.Metadata["refreshedAt"])
}

func TestTargetRefresher_Query(t *testing.T) {
	f := newFixture(t)
	f.saveQuery(t, "q-1", "SELECT region, amount FROM sales ORDER BY id", salesDatabase(t))

	result, err := f.refresher.Refresh(t.Context(), models.QueryTarget{QueryID: "q-1"}, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.RecordsAffected)
	assert.Equal(t, "ds-q-1", result.Metadata["dataSourceId"])
	assert.Equal(t, "sqlite", result.Metadata["dataSourceType"])
	assert.Equal(t, []string{"region", "amount"}, result.Metadata["columns"])
	assert.Equal(t, int64(3), result.Metadata["rowCount"])
	assert.Equal(t, false, result.Metadata["truncated"])

	query, err := f.store.TargetRepository().QueryByID(t.Context(), "q-1")
	require.NoError(t, err)
	require.NotNil(t, query.LastRowCount)
	assert.Equal(t, int64(3), *query.LastRowCount)
	require.NotNil(t, query.LastRunAt)
	assert.True(t, epoch.Equal(*query.LastRunAt))
}

func TestTargetRefresher_NotFound(t *testing.T) {
	f := newFixture(t)
	f.saveDashboard(t, "dash-other", "user-2")

	_, err := f.refresher.Refresh(t.Context(), models.DashboardTarget{DashboardID: "dash-missing"}, owner)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "dashboard dash-missing not found", err.Error())

	_, err = f.refresher.Resolve(t.Context(), models.DashboardTarget{DashboardID: "dash-other"}, owner)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.refresher.Resolve(t.Context(), models.QueryTarget{QueryID: "q-missing"}, owner)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "query q-missing not found", err.Error())
}

func TestTargetRefresher_MissingDataSource(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Targets().SaveQuery(t.Context(), &models.SavedQuery{
		ID:           "q-1",
		OwnerID:      owner,
		DataSourceID: "ds-gone",
		Statement:    "SELECT 1",
	}))

	_, err := f.refresher.Resolve(t.Context(), models.QueryTarget{QueryID: "q-1"}, owner)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "data source ds-gone not found", err.Error())
}

func TestTargetRefresher_StatementErrorIsExecutionError(t *testing.T) {
	f := newFixture(t)
	f.saveQuery(t, "q-1", "SELECT * FROM missing_table", salesDatabase(t))

	_, err := f.refresher.Refresh(t.Context(), models.QueryTarget{QueryID: "q-1"}, owner)
	require.ErrorIs(t, err, ErrExecution)
	assert.NotErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "missing_table")
}

func TestTargetRefresher_WriteStatementIsExecutionError(t *testing.T) {
	f := newFixture(t)
	f.saveQuery(t, "q-1", "DELETE FROM sales", salesDatabase(t))

	_, err := f.refresher.Refresh(t.Context(), models.QueryTarget{QueryID: "q-1"}, owner)
	require.ErrorIs(t, err, ErrExecution)
}

func TestTargetRefresher_UnreachableBackendIsConnectionError(t *testing.T) {
	f := newFixture(t)
	f.saveQuery(t, "q-1", "SELECT 1", filepath.Join(t.TempDir(), "missing", "nested", "db.sqlite"))

	_, err := f.refresher.Refresh(t.Context(), models.QueryTarget{QueryID: "q-1"}, owner)
	require.ErrorIs(t, err, ErrConnection)
	assert.NotEmpty(t, err.Error())
}

func TestTargetRefresher_CredentialRotationReplacesPooledConnection(t *testing.T) {
	f := newFixture(t)
	f.saveQuery(t, "q-1", "SELECT region FROM sales", salesDatabase(t))

	_, err := f.refresher.Refresh(t.Context(), models.QueryTarget{QueryID: "q-1"}, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, f.pool.Len())

	rotated := salesDatabase(t)
	dataSource, err := f.store.TargetRepository().DataSourceByID(t.Context(), "ds-q-1")
	require.NoError(t, err)

	dataSource.ConnectionString = "sqlite://" + rotated
	require.NoError(t, f.store.Targets().SaveDataSource(t.Context(), dataSource))

	result, err := f.refresher.Refresh(t.Context(), models.QueryTarget{QueryID: "q-1"}, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.RecordsAffected)
	assert.Equal(t, 1, f.pool.Len())
}
