// internal/errors/errors_test.go
package errors

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreFailure(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, StoreFailure("find", nil))
	})

	t.Run("cancellation is not an outage", func(t *testing.T) {
		err := StoreFailure("find", context.Canceled)
		assert.ErrorIs(t, err, ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrStoreUnavailable)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("deadline maps to timeout", func(t *testing.T) {
		err := StoreFailure("insert", context.DeadlineExceeded)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.NotErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("other failures are store unavailable", func(t *testing.T) {
		cause := stderrors.New("connection refused")
		err := StoreFailure("insert", cause)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "insert")
	})
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	assert.ErrorIs(t, &NotFoundError{Resource: "project", Key: "x"}, ErrNotFound)
	assert.ErrorIs(t, &ConflictError{Resource: "project", Key: "x"}, ErrConflict)
	assert.ErrorIs(t, &UnknownProjectError{Project: "x"}, ErrUnknownProject)

	cause := stderrors.New("unexpected EOF")
	err := Malformed("commit array", cause)
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `project "x" not found`, (&NotFoundError{Resource: "project", Key: "x"}).Error())
}
