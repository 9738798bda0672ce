//go:build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/dukex/refreshd/pkg/persistence/postgresql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"refresh_executions", "refresh_schedules", "saved_queries", "dashboards", "data_sources", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("refreshd_test"),
			postgres.WithUsername("refreshd"),
			postgres.WithPassword("refreshd"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx
}

func TestPersistence_HealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)

	assert.NoError(t, p.HealthCheck(ctx))
}

func TestPersistence_ScheduleLifecycle(t *testing.T) {
	p, ctx := setupTestDB(t)
	schedules := p.ScheduleRepository()
	executions := p.ExecutionRepository()

	minutes := 5
	now := time.Now().UTC().Truncate(time.Second)
	due := now.Add(-time.Minute)

	schedule := &models.RefreshSchedule{
		ID:           uuid.NewString(),
		Name:         "Every five minutes",
		TargetType:   models.TargetTypeDashboard,
		TargetID:     "dash-1",
		ScheduleType: models.ScheduleTypeInterval,
		Interval:     &minutes,
		Timezone:     models.DefaultTimezone,
		IsActive:     true,
		NextRunAt:    &due,
		OwnerID:      "user-1",
	}
	require.NoError(t, schedules.Save(ctx, schedule))

	dueSchedules, err := schedules.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, dueSchedules, 1)

	execution := &models.RefreshExecution{
		ID:         uuid.NewString(),
		ScheduleID: schedule.ID,
		TargetType: schedule.TargetType,
		TargetID:   schedule.TargetID,
		Trigger:    models.TriggerScheduled,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  now,
	}
	require.NoError(t, executions.Create(ctx, execution))

	require.NoError(t, execution.Complete(now.Add(2*time.Second), 1, models.Metadata{"dashboardId": "dash-1"}))

	next := now.Add(5 * time.Minute)
	require.NoError(t, executions.Finish(ctx, execution, &persistence.ScheduleOutcome{
		ScheduleID: schedule.ID,
		RanAt:      now,
		Succeeded:  true,
	}))

	err = executions.Finish(ctx, execution, nil)
	assert.ErrorIs(t, err, persistence.ErrExecutionFinished)

	// schedule is the copy read before the run; saving it keeps the bookkeeping.
	schedule.Name = "Renamed"
	require.NoError(t, schedules.Save(ctx, schedule))
	assert.Equal(t, int64(1), schedule.RunCount)

	stored, err := schedules.GetByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.Equal(t, int64(1), stored.RunCount)
	assert.Equal(t, int64(0), stored.ErrorCount)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, next.Equal(*stored.NextRunAt))

	history, err := executions.ListBySchedule(ctx, schedule.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, history[0].Status)
	assert.Equal(t, "dash-1", history[0].Metadata["dashboardId"])

	dueSchedules, err = schedules.Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, dueSchedules)

	require.NoError(t, schedules.Delete(ctx, schedule.ID))

	_, err = executions.GetByID(ctx, execution.ID)
	assert.NoError(t, err)
}

func TestPersistence_Targets(t *testing.T) {
	p, ctx := setupTestDB(t)
	targets := p.Targets()

	require.NoError(t, targets.SaveDataSource(ctx, &models.DataSource{
		ID:               "ds-1",
		Name:             "Warehouse",
		Type:             models.DataSourceTypePostgres,
		ConnectionString: "postgres://localhost/warehouse",
		OwnerID:          "user-1",
	}))
	require.NoError(t, targets.SaveQuery(ctx, &models.SavedQuery{
		ID:           "q-1",
		OwnerID:      "user-1",
		DataSourceID: "ds-1",
		Statement:    "SELECT 1",
	}))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, targets.RecordQueryRun(ctx, "q-1", at, 12))

	query, err := targets.QueryByID(ctx, "q-1")
	require.NoError(t, err)
	require.NotNil(t, query.LastRowCount)
	assert.Equal(t, int64(12), *query.LastRowCount)

	_, err = targets.DashboardByID(ctx, "missing")
	assert.True(t, persistence.IsTargetNotFound(err))
}
