package refresh

import (
	"context"
	"errors"

	"github.com/dukex/refreshd/pkg/connections"
	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
	ErrConnection    = errors.New("connection failed")
	ErrExecution     = errors.New("execution failed")
	ErrInternal      = errors.New("internal error")
	// ErrConflict is returned when an ad-hoc refresh targets a schedule that
	// is already running.
	ErrConflict = errors.New("conflict")
)

var kinds = []error{
	ErrValidation,
	ErrAuthorization,
	ErrNotFound,
	ErrConnection,
	ErrExecution,
	ErrConflict,
	ErrInternal,
}

// Error is a classified failure. Message is what users see; for Connection
// and Execution errors it is the backend's message verbatim.
type Error struct {
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// NewError builds a classified error. An empty message falls back to err's.
func NewError(op string, kind error, message string, err error) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind err is classified with, ErrInternal when none.
func KindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return ErrInternal
}

// classify maps lower layer errors onto the kinds.
func classify(op string, err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	switch {
	case persistence.IsScheduleNotFound(err),
		persistence.IsExecutionNotFound(err),
		persistence.IsTargetNotFound(err):
		return NewError(op, ErrNotFound, "", err)
	case errors.Is(err, connections.ErrUnreachable),
		errors.Is(err, connections.ErrEmptyConnectionString):
		return NewError(op, ErrConnection, "", err)
	case errors.Is(err, connections.ErrStatement),
		errors.Is(err, connections.ErrReadOnly),
		errors.Is(err, context.DeadlineExceeded):
		return NewError(op, ErrExecution, "", err)
	case errors.Is(err, models.ErrUnknownDataSourceType),
		errors.Is(err, models.ErrUnknownTargetType):
		return NewError(op, ErrValidation, "", err)
	}

	return NewError(op, ErrInternal, "", err)
}
