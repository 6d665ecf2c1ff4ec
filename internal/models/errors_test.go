package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorageErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStorageError("insert", cause)

	assert.True(t, IsStorageError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "storage insert: connection refused", err.Error())
	assert.Nil(t, NewStorageError("insert", nil))
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := NewStorageError("latest", errors.New("timeout"))
	err := Unavailable(cause)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsStorageError(err))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-05-01T10:00:00.5+02:00")
	assert.NoError(t, err)
	assert.Equal(t, "2024-05-01T08:00:00.5Z", ts.Format("2006-01-02T15:04:05.999999999Z07:00"))

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}
