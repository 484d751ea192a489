package storeerr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStorageExhausted(t *testing.T) {
	err := NewStorageExhausted("working", 9)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, StorageExhausted, kind)
	assert.Equal(t, "working", err.Tier)
	assert.Equal(t, 9, err.Limit)
	assert.Contains(t, err.Error(), "working")
	assert.Contains(t, err.Error(), "9")
}

func TestNewTransient(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransient("store", 200*time.Millisecond, cause)

	assert.True(t, Is(err, Transient))
	assert.Equal(t, "store", err.Source)
	assert.Equal(t, 200*time.Millisecond, err.RetryAfter)
	assert.ErrorIs(t, err, cause)
}

func TestNewInvalidTierTransition(t *testing.T) {
	err := NewInvalidTierTransition("working", "frozen")
	assert.True(t, Is(err, InvalidTierTransition))
	assert.Contains(t, err.Error(), "working -> frozen")
}

func TestNewDuplicateContent(t *testing.T) {
	err := NewDuplicateContent("working")
	assert.True(t, Is(err, DuplicateContent))
	assert.Equal(t, "working", err.Tier)
}

func TestErrorIsByKind(t *testing.T) {
	a := New(NotFound, errors.New("no such memory"))
	b := New(NotFound, errors.New("different message"))
	c := New(InvalidInput, errors.New("no such memory"))

	assert.True(t, errors.Is(a, b), "two errors of the same kind should match via errors.Is")
	assert.False(t, errors.Is(a, c), "errors of different kinds should not match")
}

func TestKindOf_NonStoreErr(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(Fatal, cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}
