package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", Validation("usage", "ac-1", "hours", "must be >= 0"), ErrValidation},
		{"conflict", Conflict("component", "c-1", "already installed"), ErrConflict},
		{"not found", NotFound("segment", "c-1", "no open segment"), ErrNotFound},
		{"temporal", Temporal("segment", "s-1", "removed_at", "precedes install"), ErrTemporal},
		{"authorization", Authorization("schedule", "s-1", "inspector", "missing"), ErrAuthorization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)

			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)

			for _, other := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrTemporal, ErrAuthorization} {
				if other != tt.sentinel {
					assert.NotErrorIs(t, tt.err, other)
				}
			}
		})
	}
}

func TestErrorContext(t *testing.T) {
	err := fmt.Errorf("install: %w", Conflict("component", "c-42", "already has an open segment"))

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindConflict, fe.Kind)
	assert.Equal(t, "component", fe.Entity)
	assert.Equal(t, "c-42", fe.ID)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "ConflictError: component c-42: already has an open segment")
}

func TestWrapConflictKeepsCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := WrapConflict("aircraft", "ac-1", cause)

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Kind(0), KindOf(cause))
}
