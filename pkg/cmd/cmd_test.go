package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/refreshd/pkg/lock"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence/file"
	"github.com/dukex/refreshd/pkg/refresh"
	"github.com/dukex/refreshd/pkg/sessions"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParsePersistenceProvider(t *testing.T) {
	tests := map[string]string{
		"./data":                          "file",
		"file:///var/lib/refreshd":        "file",
		"postgres://localhost/refreshd":   "postgres",
		"postgresql://localhost/refreshd": "postgresql",
		"mongodb://localhost/refreshd":    "file",
	}

	for url, want := range tests {
		assert.Equal(t, want, parsePersistenceProvider(url), url)
	}
}

func TestNewPersistence_File(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "data")

	p, targets, err := NewPersistence(t.Context(), testLogger(), "file://"+root)
	require.NoError(t, err)
	require.NoError(t, p.HealthCheck(t.Context()))

	require.NoError(t, targets.SaveDashboard(t.Context(), &models.Dashboard{ID: "dash-1", OwnerID: "user-1"}))

	dashboard, err := p.TargetRepository().DashboardByID(t.Context(), "dash-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", dashboard.OwnerID)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("gochannel", "", testLogger())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("kafka", " , ", testLogger())
	require.Error(t, err)

	_, err = NewEventBus("rabbitmq", "", testLogger())
	require.Error(t, err)
}

func TestNewInFlight_WithoutRedis(t *testing.T) {
	assert.IsType(t, &lock.Memory{}, NewInFlight(nil, time.Minute, testLogger()))
}

func TestNewSessions_Static(t *testing.T) {
	store, err := NewSessions(nil, []string{"token-1=user-1", " token-2 = user-2 "})
	require.NoError(t, err)

	owner, err := store.Resolve(t.Context(), "token-2")
	require.NoError(t, err)
	assert.Equal(t, "user-2", owner)

	_, err = store.Resolve(t.Context(), "token-3")
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)

	_, err = NewSessions(nil, []string{"token-only"})
	assert.Error(t, err)
}

// sharedInFlight stands in for a set shared with other replicas.
type sharedInFlight struct{ *lock.Memory }

func TestReconcileAtStartup(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		inFlight lock.InFlight
		closed   int
		status   models.ExecutionStatus
	}{
		{"process local set closes recent executions", lock.NewMemory(), 1, models.ExecutionStatusFailed},
		{"shared set keeps executions under the stale threshold", sharedInFlight{lock.NewMemory()}, 0, models.ExecutionStatusRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := file.NewPersistence(t.TempDir())
			clock := clockwork.NewFakeClockAt(startedAt)
			recorder := refresh.NewRecorder(store, clock, testLogger())

			execution, err := recorder.Begin(t.Context(), "", models.DashboardTarget{DashboardID: "dash-1"}, models.TriggerManual)
			require.NoError(t, err)

			// The process restarts two minutes into the refresh.
			clock.Advance(2 * time.Minute)

			closed, err := ReconcileAtStartup(t.Context(), recorder, tt.inFlight)
			require.NoError(t, err)
			assert.Equal(t, tt.closed, closed)

			stored, err := store.ExecutionRepository().GetByID(t.Context(), execution.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, stored.Status)
		})
	}
}
