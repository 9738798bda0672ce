package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ManualScheduleID is stored as the schedule id of ad-hoc executions that are
// not bound to a schedule.
const ManualScheduleID = "manual"

// ExecutionStatus is the lifecycle state of a RefreshExecution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ExecutionTrigger records what started an execution.
type ExecutionTrigger string

const (
	TriggerScheduled ExecutionTrigger = "SCHEDULED"
	TriggerManual    ExecutionTrigger = "MANUAL"
	TriggerRealtime  ExecutionTrigger = "REALTIME"
)

// Metadata is a free-form JSON object describing a refresh result.
type Metadata map[string]any

// Value implements driver.Valuer so Metadata is stored as JSON.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}

	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte

	switch v := src.(type) {
	case nil:
		*m = Metadata{}

		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}

	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	*m = out

	return nil
}

// RefreshExecution is one dispatch attempt of a schedule or an ad-hoc refresh.
// It refers to its schedule only by id.
type RefreshExecution struct {
	ID         string           `json:"id"         db:"id"`
	ScheduleID string           `json:"scheduleId" db:"schedule_id"`
	TargetType TargetType       `json:"targetType" db:"target_type"`
	TargetID   string           `json:"targetId"   db:"target_id"`
	Trigger    ExecutionTrigger `json:"trigger"    db:"trigger_kind"`
	Status     ExecutionStatus  `json:"status"     db:"status"`

	StartedAt   time.Time  `json:"startedAt"             db:"started_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	// Duration in milliseconds, set at the terminal transition.
	Duration *int64 `json:"duration,omitempty" db:"duration_ms"`

	RecordsAffected int64    `json:"recordsAffected"        db:"records_affected"`
	Metadata        Metadata `json:"metadata"               db:"metadata"`
	ErrorMessage    *string  `json:"errorMessage,omitempty" db:"error_message"`
}

// IsManual reports whether the execution is not bound to a schedule.
func (e *RefreshExecution) IsManual() bool {
	return e.ScheduleID == ManualScheduleID || e.ScheduleID == ""
}

// ErrExecutionTerminal is returned when closing an execution twice.
var ErrExecutionTerminal = errors.New("execution already reached a terminal status")

// Complete moves a RUNNING execution to COMPLETED at now.
func (e *RefreshExecution) Complete(now time.Time, recordsAffected int64, metadata Metadata) error {
	if e.Status.Terminal() {
		return ErrExecutionTerminal
	}

	e.finish(now, ExecutionStatusCompleted)
	e.RecordsAffected = recordsAffected
	e.Metadata = metadata

	return nil
}

// Fail moves a RUNNING execution to FAILED at now.
func (e *RefreshExecution) Fail(now time.Time, message string) error {
	if e.Status.Terminal() {
		return ErrExecutionTerminal
	}

	e.finish(now, ExecutionStatusFailed)
	e.ErrorMessage = &message

	return nil
}

func (e *RefreshExecution) finish(now time.Time, status ExecutionStatus) {
	completed := now.UTC()
	duration := completed.Sub(e.StartedAt).Milliseconds()

	if duration < 0 {
		duration = 0
	}

	e.Status = status
	e.CompletedAt = &completed
	e.Duration = &duration
}
