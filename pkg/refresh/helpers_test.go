package refresh

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/refreshd/pkg/connections"
	"github.com/dukex/refreshd/pkg/eventbus"
	"github.com/dukex/refreshd/pkg/lock"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence/file"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const owner = "user-1"

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	store     *file.Persistence
	clock     *clockwork.FakeClock
	pool      *connections.Manager
	inFlight  *lock.Memory
	refresher *TargetRefresher
	recorder  *Recorder
	scheduler *Scheduler
	events    *capturingPublisher
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	config    Config
	refresher Refresher
}

func withConfig(config Config) fixtureOption {
	return func(c *fixtureConfig) { c.config = config }
}

func withRefresher(refresher Refresher) fixtureOption {
	return func(c *fixtureConfig) { c.refresher = refresher }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := &fixtureConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := testLogger()

	f := &fixture{
		store:    file.NewPersistence(t.TempDir()),
		clock:    clockwork.NewFakeClockAt(epoch),
		inFlight: lock.NewMemory(),
		events:   &capturingPublisher{},
	}

	f.pool = connections.NewManager(logger, connections.DefaultConfig())
	f.refresher = NewTargetRefresher(f.store.TargetRepository(), f.pool, f.clock, logger)
	f.recorder = NewRecorder(f.store, f.clock, logger, WithPublisher(f.events))

	var refresher Refresher = f.refresher
	if cfg.refresher != nil {
		refresher = cfg.refresher
	}

	f.scheduler = NewScheduler(
		f.store.ScheduleRepository(),
		f.recorder,
		refresher,
		cfg.config,
		logger,
		WithClock(f.clock),
		WithInFlight(f.inFlight),
	)

	t.Cleanup(func() {
		f.scheduler.Close()
		_ = f.pool.Close()
	})

	return f
}

func (f *fixture) saveDashboard(t *testing.T, id, ownerID string) {
	t.Helper()

	require.NoError(t, f.store.Targets().SaveDashboard(t.Context(), &models.Dashboard{ID: id, Name: "Dashboard " + id, OwnerID: ownerID}))
}

// saveQuery stores a saved query reading from a sqlite data source.
func (f *fixture) saveQuery(t *testing.T, id, statement, databasePath string) {
	t.Helper()

	dataSourceID := "ds-" + id

	require.NoError(t, f.store.Targets().SaveDataSource(t.Context(), &models.DataSource{
		ID:               dataSourceID,
		Name:             "warehouse",
		Type:             models.DataSourceTypeSQLite,
		ConnectionString: "sqlite://" + databasePath,
		OwnerID:          owner,
	}))

	require.NoError(t, f.store.Targets().SaveQuery(t.Context(), &models.SavedQuery{
		ID:           id,
		Name:         "Query " + id,
		OwnerID:      owner,
		DataSourceID: dataSourceID,
		Statement:    statement,
	}))
}

func (f *fixture) saveSchedule(t *testing.T, schedule *models.RefreshSchedule) *models.RefreshSchedule {
	t.Helper()

	require.NoError(t, f.store.ScheduleRepository().Save(t.Context(), schedule))

	return schedule
}

func (f *fixture) schedule(t *testing.T, id string) *models.RefreshSchedule {
	t.Helper()

	schedule, err := f.store.ScheduleRepository().GetByID(t.Context(), id)
	require.NoError(t, err)

	return schedule
}

func (f *fixture) executions(t *testing.T, scheduleID string) []*models.RefreshExecution {
	t.Helper()

	executions, err := f.store.ExecutionRepository().ListBySchedule(t.Context(), scheduleID, 0)
	require.NoError(t, err)

	return executions
}

func intervalSchedule(id string, targetType models.TargetType, targetID string, minutes int, nextRunAt time.Time) *models.RefreshSchedule {
	return &models.RefreshSchedule{
		ID:           id,
		Name:         "schedule " + id,
		TargetType:   targetType,
		TargetID:     targetID,
		ScheduleType: models.ScheduleTypeInterval,
		Interval:     &minutes,
		Timezone:     models.DefaultTimezone,
		IsActive:     true,
		NextRunAt:    &nextRunAt,
		OwnerID:      owner,
	}
}

// salesDatabase creates a sqlite database with a three row sales table.
func salesDatabase(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sales.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE sales (id INTEGER PRIMARY KEY, region TEXT, amount INTEGER)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO sales (region, amount) VALUES ('north', 10), ('south', 20), ('east', 30)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	return path
}

type refresherFunc func(ctx context.Context, target models.Target, ownerID string) (*Result, error)

func (f refresherFunc) Refresh(ctx context.Context, target models.Target, ownerID string) (*Result, error) {
	return f(ctx, target, ownerID)
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, string(e.GetType()))
	}

	return types
}
