package services

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/refreshd/pkg/connections"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence/file"
	"github.com/dukex/refreshd/pkg/refresh"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const owner = "user-1"

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	store       *file.Persistence
	clock       *clockwork.FakeClock
	pool        *connections.Manager
	scheduler   *refresh.Scheduler
	schedules   *Schedule
	refresh     *Refresh
	dataSources *DataSource
}

func newEnv(t *testing.T) *env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(epoch)
	pool := connections.NewManager(logger, connections.DefaultConfig())

	refresher := refresh.NewTargetRefresher(store.TargetRepository(), pool, clock, logger)
	recorder := refresh.NewRecorder(store, clock, logger)
	scheduler := refresh.NewScheduler(store.ScheduleRepository(), recorder, refresher, refresh.Config{}, logger, refresh.WithClock(clock))

	t.Cleanup(func() {
		scheduler.Close()
		_ = pool.Close()
	})

	validate := NewValidator()

	return &env{
		store:       store,
		clock:       clock,
		pool:        pool,
		scheduler:   scheduler,
		schedules:   NewSchedule(store, refresher, validate, clock),
		refresh:     NewRefresh(store, refresher, recorder, scheduler, validate),
		dataSources: NewDataSource(store.TargetRepository(), pool),
	}
}

func (e *env) dashboard(t *testing.T, id, ownerID string) {
	t.Helper()

	require.NoError(t, e.store.Targets().SaveDashboard(t.Context(), &models.Dashboard{ID: id, Name: "Dashboard " + id, OwnerID: ownerID}))
}

func (e *env) query(t *testing.T, id, statement, connectionString string) {
	t.Helper()

	require.NoError(t, e.store.Targets().SaveDataSource(t.Context(), &models.DataSource{
		ID:               "ds-" + id,
		Name:             "warehouse",
		Type:             models.DataSourceTypeSQLite,
		ConnectionString: connectionString,
		OwnerID:          owner,
	}))

	require.NoError(t, e.store.Targets().SaveQuery(t.Context(), &models.SavedQuery{
		ID:           id,
		Name:         "Query " + id,
		OwnerID:      owner,
		DataSourceID: "ds-" + id,
		Statement:    statement,
	}))
}

func salesDatabase(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sales.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE sales (id INTEGER PRIMARY KEY, amount INTEGER); INSERT INTO sales (amount) VALUES (1), (2)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	return "sqlite://" + path
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }
