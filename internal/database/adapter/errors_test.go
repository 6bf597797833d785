package adapter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(BackendPostgres, "create", cause)

	assert.ErrorIs(t, err, cause)
	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, BackendPostgres, dbErr.Backend)
	assert.Equal(t, "create", dbErr.Operation)
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError(BackendMongoDB, "users", "u-1")
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "users/u-1")
}

func TestConnectionError(t *testing.T) {
	err := NewConnectionError(BackendPostgres, "db", 5432, errors.New("refused"))
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestUnsupportedErrors(t *testing.T) {
	opErr := NewUnsupportedOperationError(BackendPostgres, "subscribe", "no live query support")
	assert.True(t, IsUnsupported(opErr))
	assert.ErrorIs(t, opErr, ErrOperationNotSupported)

	filterErr := NewUnsupportedOperatorError(BackendMongoDB, Operator("like"))
	assert.ErrorIs(t, filterErr, ErrUnsupportedOperator)
}

func TestFailedResult(t *testing.T) {
	r := FailedResult("read", BackendPostgres, time.Now(), ErrNotFound)
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Error, ErrNotFound)
	assert.Equal(t, "read", r.Metadata.Operation)
	assert.Equal(t, BackendPostgres, r.Metadata.Backend)
}
