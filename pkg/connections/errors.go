package connections

import "errors"

var (
	// ErrUnreachable marks failures to reach the backend.
	ErrUnreachable = errors.New("data source unreachable")

	// ErrStatement marks failures of a statement the backend received.
	ErrStatement = errors.New("statement failed")

	// ErrReadOnly is returned for statements that are not SELECT-class.
	ErrReadOnly = errors.New("only read-only statements are allowed")

	// ErrEmptyConnectionString is returned when a data source has no connection string.
	ErrEmptyConnectionString = errors.New("connection string is empty")

	// ErrManagerClosed is returned by GetConnection after Close.
	ErrManagerClosed = errors.New("connection manager is closed")
)

// Error carries the backend's message verbatim while classifying it with one
// of ErrUnreachable or ErrStatement.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func unreachable(err error) error {
	return &Error{Kind: ErrUnreachable, Err: err}
}

func statementFailed(err error) error {
	return &Error{Kind: ErrStatement, Err: err}
}
