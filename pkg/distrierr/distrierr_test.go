package distrierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"new", New(NotFound, "missing"), NotFound},
		{"newf", Newf(Validation, "bad field %q", "name"), Validation},
		{"wrapped", Wrap(LLM, errors.New("boom"), "generate"), LLM},
		{"deeply wrapped", fmt.Errorf("outer: %w", Wrap(Cancelled, errors.New("ctx"), "run")), Cancelled},
		{"plain error", errors.New("boom"), Kind("")},
		{"nil-safe wrap", Wrap(Session, nil, "ignored"), Kind("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(ToolExecution, errors.New("connection refused"), "call search")
	require.Error(t, err)
	assert.Equal(t, "call search: connection refused", err.Error())
	assert.Equal(t, "connection refused", errors.Unwrap(err).Error())

	bare := New(MaxIterations, "too many steps")
	assert.Equal(t, "too many steps", bare.Error())
}

func TestIs(t *testing.T) {
	err := Wrap(External, errors.New("no reply"), "await result")
	assert.True(t, Is(err, External))
	assert.False(t, Is(err, NotFound))
	assert.False(t, Is(errors.New("plain"), External))
}

func TestCancelledKindSpelling(t *testing.T) {
	// The terminal event's error code is the kind string; observers match on
	// "canceled".
	assert.Equal(t, Kind("canceled"), Cancelled)
	assert.Equal(t, Kind("max_iterations"), MaxIterations)
}
