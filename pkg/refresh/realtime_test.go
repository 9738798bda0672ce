package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/refreshd/pkg/channels/gochannel"
	"github.com/dukex/refreshd/pkg/eventbus"
	"github.com/dukex/refreshd/pkg/events"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realtimeSchedule(id, dashboardID string) *models.RefreshSchedule {
	return &models.RefreshSchedule{
		ID:           id,
		Name:         "live " + id,
		TargetType:   models.TargetTypeDashboard,
		TargetID:     dashboardID,
		ScheduleType: models.ScheduleTypeRealtime,
		Timezone:     models.DefaultTimezone,
		IsActive:     true,
		OwnerID:      owner,
	}
}

func TestRealtimeListener_DispatchesRealtimeSchedulesOfTarget(t *testing.T) {
	f := newFixture(t)
	f.saveDashboard(t, "dash-1", owner)
	f.saveSchedule(t, realtimeSchedule("live-1", "dash-1"))
	f.saveSchedule(t, realtimeSchedule("live-other", "dash-2"))
	f.saveSchedule(t, intervalSchedule("poll-1", models.TargetTypeDashboard, "dash-1", 5, epoch.Add(time.Hour)))

	inactive := realtimeSchedule("live-off", "dash-1")
	inactive.IsActive = false
	f.saveSchedule(t, inactive)

	listener := NewRealtimeListener(f.store.ScheduleRepository(), f.scheduler, testLogger())

	err := listener.Handle(t.Context(), &events.TargetChanged{TargetType: models.TargetTypeDashboard, TargetID: "dash-1"})
	require.NoError(t, err)

	executions := f.executions(t, "live-1")
	require.Len(t, executions, 1)
	assert.Equal(t, models.TriggerRealtime, executions[0].Trigger)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)

	schedule := f.schedule(t, "live-1")
	assert.Equal(t, int64(1), schedule.RunCount)
	assert.Nil(t, schedule.NextRunAt)

	assert.Empty(t, f.executions(t, "live-other"))
	assert.Empty(t, f.executions(t, "poll-1"))
	assert.Empty(t, f.executions(t, "live-off"))
}

func TestRealtimeListener_SkipsRunningSchedule(t *testing.T) {
	f := newFixture(t)
	f.saveSchedule(t, realtimeSchedule("live-1", "dash-1"))

	_, err := f.inFlight.TryAcquire(t.Context(), "live-1")
	require.NoError(t, err)

	listener := NewRealtimeListener(f.store.ScheduleRepository(), f.scheduler, testLogger())

	require.NoError(t, listener.Handle(t.Context(), &events.TargetChanged{TargetType: models.TargetTypeDashboard, TargetID: "dash-1"}))
	assert.Empty(t, f.executions(t, "live-1"))
}

func TestRealtimeListener_IgnoresInvalidEvents(t *testing.T) {
	f := newFixture(t)
	listener := NewRealtimeListener(f.store.ScheduleRepository(), f.scheduler, testLogger())

	require.NoError(t, listener.Handle(t.Context(), &events.TargetChanged{TargetType: "WIDGET", TargetID: "w-1"}))
	require.Error(t, listener.Handle(t.Context(), "not an event"))
}

func TestRealtimeListener_OverEventBus(t *testing.T) {
	f := newFixture(t)
	f.saveDashboard(t, "dash-1", owner)
	f.saveSchedule(t, realtimeSchedule("live-1", "dash-1"))

	logger := testLogger()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	listener := NewRealtimeListener(f.store.ScheduleRepository(), f.scheduler, logger)
	require.NoError(t, listener.Register(bus))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "dash-1", events.TargetChanged{
		BaseEvent:  events.NewBaseEvent(bus.GenerateID(), events.TargetChangedEvent, epoch),
		TargetType: models.TargetTypeDashboard,
		TargetID:   "dash-1",
	}))

	assert.Eventually(t, func() bool {
		return f.schedule(t, "live-1").RunCount == 1
	}, 5*time.Second, 10*time.Millisecond)
}
