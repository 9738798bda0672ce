package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		scheduleErr := persistence.NewScheduleError("GetByID", "sched-123", persistence.ErrScheduleNotFound)
		executionErr := persistence.NewExecutionError("Finish", "exec-9", persistence.ErrExecutionNotFound)

		assert.True(t, persistence.IsScheduleNotFound(scheduleErr))
		assert.True(t, persistence.IsExecutionNotFound(executionErr))
		assert.False(t, persistence.IsScheduleNotFound(executionErr))

		assert.True(t, errors.Is(scheduleErr, persistence.ErrScheduleNotFound))
		assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", executionErr), persistence.ErrExecutionNotFound))
	})

	t.Run("target lookups", func(t *testing.T) {
		assert.True(t, persistence.IsTargetNotFound(persistence.ErrTargetNotFound))
		assert.True(t, persistence.IsTargetNotFound(fmt.Errorf("query q-1: %w", persistence.ErrDataSourceNotFound)))
		assert.False(t, persistence.IsTargetNotFound(persistence.ErrScheduleNotFound))
	})

	t.Run("schedule error contains context", func(t *testing.T) {
		err := persistence.NewScheduleError("Delete", "sched-123", persistence.ErrScheduleNotFound)

		assert.Contains(t, err.Error(), "Delete")
		assert.Contains(t, err.Error(), "sched-123")
		assert.Contains(t, err.Error(), "schedule not found")
	})
}
