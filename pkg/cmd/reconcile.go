package cmd

import (
	"context"

	"github.com/dukex/refreshd/pkg/lock"
	"github.com/dukex/refreshd/pkg/refresh"
)

// ReconcileAtStartup closes executions a previous process left RUNNING. With
// a process-local in-flight set nothing else can own one, so every RUNNING
// execution is closed. A shared set only allows closing stale ones.
func ReconcileAtStartup(ctx context.Context, recorder *refresh.Recorder, inFlight lock.InFlight) (int, error) {
	if _, local := inFlight.(*lock.Memory); local {
		return recorder.ReconcileAll(ctx)
	}

	return recorder.Reconcile(ctx)
}
