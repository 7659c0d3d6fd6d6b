package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrapConvention(t *testing.T) {
	base := New("socket refused")
	err := Wrap(base, "replay-server", "Start", "listener bind")
	require.Error(t, err)
	assert.Equal(t, "replay-server.Start: listener bind failed: socket refused", err.Error())
	assert.True(t, Is(err, base))
}

func TestWrapNilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"wrapped transient", WrapTransient(New("boom"), "reader", "Read", "dial"), ErrorTransient},
		{"wrapped invalid", WrapInvalid(New("boom"), "record", "Parse", "envelope"), ErrorInvalid},
		{"wrapped fatal", WrapFatal(New("boom"), "sink", "Append", "write"), ErrorFatal},
		{"sentinel connection lost", fmt.Errorf("read: %w", ErrConnectionLost), ErrorTransient},
		{"sentinel parse", fmt.Errorf("line 4: %w", ErrParsingFailed), ErrorInvalid},
		{"sentinel append", fmt.Errorf("disk: %w", ErrAppendFailed), ErrorFatal},
		{"deadline", context.DeadlineExceeded, ErrorTransient},
		{"unknown defaults transient", New("mystery"), ErrorTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := ErrNonMonotonic
	err := WrapInvalid(base, "replay", "rebase", "timestamp check")

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "replay", ce.Component)
	assert.True(t, Is(err, base))
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
	assert.False(t, IsFatal(err))
}
