package refresh

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/refreshd/pkg/connections"
	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestError_MessageAndKind(t *testing.T) {
	cause := errors.New(`pq: relation "orders" does not exist`)
	err := NewError("Execute", ErrExecution, "", cause)

	assert.Equal(t, cause.Error(), err.Error())
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrExecution, KindOf(err))

	wrapped := fmt.Errorf("dispatch: %w", NewError("Dispatch", ErrConflict, "schedule s-1 is already running", nil))
	assert.Equal(t, ErrConflict, KindOf(wrapped))
	assert.Equal(t, "conflict", NewError("Dispatch", ErrConflict, "", nil).Error())

	assert.Equal(t, ErrInternal, KindOf(errors.New("plain")))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{persistence.NewScheduleError("GetByID", "s-1", persistence.ErrScheduleNotFound), ErrNotFound},
		{persistence.ErrDataSourceNotFound, ErrNotFound},
		{&connections.Error{Kind: connections.ErrUnreachable, Err: errors.New("dial tcp: refused")}, ErrConnection},
		{connections.ErrEmptyConnectionString, ErrConnection},
		{&connections.Error{Kind: connections.ErrStatement, Err: errors.New("syntax error")}, ErrExecution},
		{connections.ErrReadOnly, ErrExecution},
		{errors.New("disk full"), ErrInternal},
	}

	for _, tc := range cases {
		got := classify("op", tc.err)
		assert.ErrorIs(t, got, tc.kind, tc.err.Error())
		assert.Equal(t, tc.err.Error(), got.Error())
	}

	already := NewError("Resolve", ErrNotFound, "dashboard d-1 not found", nil)
	assert.Same(t, already, classify("Execute", already))
}
