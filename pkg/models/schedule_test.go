package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }
func strPtr(v string) *string { return &v }
func timePtr(t time.Time) *time.Time { return &t }

func validSchedule() *RefreshSchedule {
	return &RefreshSchedule{
		ID:           "sched-1",
		Name:         "Sales dashboard",
		TargetType:   TargetTypeDashboard,
		TargetID:     "dash-1",
		ScheduleType: ScheduleTypeInterval,
		Interval:     intPtr(5),
		IsActive:     true,
		OwnerID:      "user-1",
	}
}

func TestParseScheduleType(t *testing.T) {
	for _, st := range ScheduleTypes {
		parsed, err := ParseScheduleType(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
	}

	_, err := ParseScheduleType("HOURLY")
	assert.ErrorIs(t, err, ErrUnknownScheduleType)
}

func TestScheduleType_Polled(t *testing.T) {
	assert.True(t, ScheduleTypeInterval.Polled())
	assert.True(t, ScheduleTypeCron.Polled())
	assert.False(t, ScheduleTypeManual.Polled())
	assert.False(t, ScheduleTypeRealtime.Polled())
	assert.False(t, ScheduleType("bogus").Polled())
}

func TestNextRunAfter_Interval(t *testing.T) {
	ref := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	schedule := validSchedule()

	next, err := schedule.NextRunAfter(ref)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, ref.Add(5*time.Minute), *next)
	assert.True(t, next.After(ref))
}

func TestNextRunAfter_IntervalAboveMaximum(t *testing.T) {
	ref := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, minutes := range []int{MaxIntervalMinutes + 1, 200_000_000} {
		schedule := validSchedule()
		schedule.Interval = intPtr(minutes)

		next, err := schedule.NextRunAfter(ref)
		require.ErrorIs(t, err, ErrIntervalTooLarge)
		assert.Nil(t, next)
	}

	schedule := validSchedule()
	schedule.Interval = intPtr(MaxIntervalMinutes)

	next, err := schedule.NextRunAfter(ref)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, ref.AddDate(1, 0, 0), *next)
}

func TestNextRunAfter_Cron(t *testing.T) {
	testCases := []struct {
		name     string
		expr     string
		timezone string
		ref      time.Time
		expected time.Time
	}{
		{
			name:     "every 15 minutes",
			expr:     "*/15 * * * *",
			ref:      time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC),
		},
		{
			name:     "exactly on an occurrence moves to the next one",
			expr:     "0 * * * *",
			ref:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name:     "daily at 9 in another timezone",
			expr:     "0 9 * * *",
			timezone: "America/New_York",
			ref:      time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC),
		},
		{
			name:     "descriptor",
			expr:     "@hourly",
			ref:      time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			schedule := validSchedule()
			schedule.ScheduleType = ScheduleTypeCron
			schedule.Interval = nil
			schedule.CronExpression = strPtr(tc.expr)
			schedule.Timezone = tc.timezone

			next, err := schedule.NextRunAfter(tc.ref)
			require.NoError(t, err)
			require.NotNil(t, next)
			assert.Equal(t, tc.expected, *next)
			assert.Equal(t, time.UTC, next.Location())
		})
	}
}

func TestNextRunAfter_NotPolled(t *testing.T) {
	for _, st := range []ScheduleType{ScheduleTypeManual, ScheduleTypeRealtime} {
		schedule := validSchedule()
		schedule.ScheduleType = st

		next, err := schedule.NextRunAfter(time.Now())
		require.NoError(t, err)
		assert.Nil(t, next, "%s schedules must not get a nextRunAt", st)
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	schedule := validSchedule()
	schedule.NextRunAt = timePtr(now)
	assert.True(t, schedule.IsDue(now))

	schedule.NextRunAt = timePtr(now.Add(time.Second))
	assert.False(t, schedule.IsDue(now))

	schedule.NextRunAt = timePtr(now.Add(-time.Minute))
	schedule.IsActive = false
	assert.False(t, schedule.IsDue(now))

	manual := validSchedule()
	manual.ScheduleType = ScheduleTypeManual
	manual.NextRunAt = timePtr(now.Add(-time.Hour))
	assert.False(t, manual.IsDue(now), "manual schedules are never due")
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(s *RefreshSchedule)
		expected error
	}{
		{name: "valid interval", mutate: func(*RefreshSchedule) {}},
		{
			name:     "interval missing",
			mutate:   func(s *RefreshSchedule) { s.Interval = nil },
			expected: ErrIntervalRequired,
		},
		{
			name:     "interval zero",
			mutate:   func(s *RefreshSchedule) { s.Interval = intPtr(0) },
			expected: ErrIntervalRequired,
		},
		{
			name:     "interval above one year",
			mutate:   func(s *RefreshSchedule) { s.Interval = intPtr(200_000_000) },
			expected: ErrIntervalTooLarge,
		},
		{
			name: "cron missing expression",
			mutate: func(s *RefreshSchedule) {
				s.ScheduleType = ScheduleTypeCron
			},
			expected: ErrCronExpressionRequired,
		},
		{
			name: "cron invalid expression",
			mutate: func(s *RefreshSchedule) {
				s.ScheduleType = ScheduleTypeCron
				s.CronExpression = strPtr("not a cron")
			},
			expected: ErrInvalidCronExpression,
		},
		{
			name: "bad timezone",
			mutate: func(s *RefreshSchedule) {
				s.Timezone = "Mars/Olympus"
			},
			expected: ErrInvalidTimezone,
		},
		{
			name:     "unknown target type",
			mutate:   func(s *RefreshSchedule) { s.TargetType = "REPORT" },
			expected: ErrUnknownTargetType,
		},
		{
			name:     "missing owner",
			mutate:   func(s *RefreshSchedule) { s.OwnerID = "" },
			expected: ErrInvalidSchedule,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			schedule := validSchedule()
			tc.mutate(schedule)

			err := schedule.Validate()
			if tc.expected == nil {
				assert.NoError(t, err)

				return
			}

			assert.True(t, errors.Is(err, tc.expected), "expected %v, got %v", tc.expected, err)
		})
	}
}

func TestNewTarget(t *testing.T) {
	target, err := NewTarget(TargetTypeQuery, "q-1")
	require.NoError(t, err)
	assert.Equal(t, QueryTarget{QueryID: "q-1"}, target)
	assert.Equal(t, TargetTypeQuery, target.Type())
	assert.Equal(t, "q-1", target.ID())

	_, err = NewTarget("WIDGET", "w-1")
	assert.ErrorIs(t, err, ErrUnknownTargetType)

	_, err = NewTarget(TargetTypeDashboard, "")
	assert.Error(t, err)
}

func TestExecution_SingleTerminalTransition(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	execution := &RefreshExecution{ID: "exec-1", Status: ExecutionStatusRunning, StartedAt: started}

	require.NoError(t, execution.Complete(started.Add(1500*time.Millisecond), 3, Metadata{"k": "v"}))
	assert.Equal(t, ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, int64(1500), *execution.Duration)
	assert.Equal(t, int64(3), execution.RecordsAffected)

	assert.ErrorIs(t, execution.Fail(started.Add(2*time.Second), "late"), ErrExecutionTerminal)
	assert.Equal(t, ExecutionStatusCompleted, execution.Status)
	assert.Nil(t, execution.ErrorMessage)
}

func TestMetadata_ScanValue(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan([]byte(`{"statement":"SELECT 1","rowCount":1}`)))
	assert.Equal(t, "SELECT 1", m["statement"])

	require.NoError(t, m.Scan(nil))
	assert.Empty(t, m)

	value, err := Metadata(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), value)
}
