package eventbus

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/refreshd/pkg/channels/gochannel"
	"github.com/dukex/refreshd/pkg/events"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.TargetChanged, 1)

	require.NoError(t, bus.Handle(events.TargetChangedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.TargetChanged)

		return nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sent := events.TargetChanged{
		BaseEvent:  events.NewBaseEvent(bus.GenerateID(), events.TargetChangedEvent, now),
		TargetType: models.TargetTypeQuery,
		TargetID:   "q-1",
	}

	require.NoError(t, bus.Publish(ctx, "q-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, models.TargetTypeQuery, got.TargetType)
		assert.Equal(t, "q-1", got.TargetID)
		assert.True(t, now.Equal(got.Timestamp))

		target, err := got.Target()
		require.NoError(t, err)
		assert.Equal(t, models.QueryTarget{QueryID: "q-1"}, target)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	done := make(chan error, 1)

	go func() {
		done <- bus.Publish(ctx, "exec-1", events.ExecutionStarted{ExecutionID: "exec-1"})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on an unhandled event")
	}
}

func TestDecode(t *testing.T) {
	event, err := Decode(events.ExecutionFailedEvent, []byte(`{"executionId":"e-1","error":"boom","duration":12}`))
	require.NoError(t, err)

	failed, ok := event.(*events.ExecutionFailed)
	require.True(t, ok)
	assert.Equal(t, "e-1", failed.ExecutionID)
	assert.Equal(t, "boom", failed.Error)
	assert.Equal(t, int64(12), failed.Duration)

	_, err = Decode("workflow.triggered", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownEventType)

	_, err = Decode(events.ExecutionCompletedEvent, []byte(`not json`))
	require.Error(t, err)
}
