package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrScheduleNotFound indicates a schedule was not found by the given identifier.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionFinished indicates an execution already left the RUNNING state.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrTargetNotFound indicates a dashboard or saved query does not exist.
	ErrTargetNotFound = errors.New("target not found")

	// ErrDataSourceNotFound indicates a data source does not exist.
	ErrDataSourceNotFound = errors.New("data source not found")
)

// ScheduleError wraps schedule-related errors with additional context.
type ScheduleError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	ScheduleID string
	Err        error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("%s operation failed for schedule %s: %v", e.Op, e.ScheduleID, e.Err)
}

func (e *ScheduleError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for schedule errors.
func (e *ScheduleError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewScheduleError creates a new schedule error with context.
func NewScheduleError(op, scheduleID string, err error) *ScheduleError {
	return &ScheduleError{
		Op:         op,
		ScheduleID: scheduleID,
		Err:        err,
	}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// IsScheduleNotFound checks if an error indicates a schedule was not found.
func IsScheduleNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsTargetNotFound checks if an error indicates a dashboard, query or data source was not found.
func IsTargetNotFound(err error) bool {
	return errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrDataSourceNotFound)
}
