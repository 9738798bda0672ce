package refresh

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsQueuedTasksBeforeClosing(t *testing.T) {
	p := newPool(2, 4)

	var ran atomic.Int32

	for range 10 {
		require.NoError(t, p.submit(t.Context(), func() { ran.Add(1) }))
	}

	p.close()

	assert.Equal(t, int32(10), ran.Load())
	assert.ErrorIs(t, p.submit(t.Context(), func() {}), errPoolClosed)

	p.close()
}

func TestPool_SubmitHonoursContext(t *testing.T) {
	p := newPool(1, 0)

	block := make(chan struct{})
	require.NoError(t, p.submit(t.Context(), func() { <-block }))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	assert.ErrorIs(t, p.submit(ctx, func() {}), context.Canceled)

	close(block)
	p.close()
}
