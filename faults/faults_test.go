package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedFault(t *testing.T) {
	base := New(KindDevice, "host unreachable")
	wrapped := fmt.Errorf("dispatch: %w", base)
	assert.Equal(t, KindDevice, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindDevice))
	assert.False(t, Retryable(wrapped))
}

func TestClassifyTimeouts(t *testing.T) {
	assert.Equal(t, KindTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindTransient, Classify(errors.New("i/o timeout")))
	assert.Equal(t, KindTransient, Classify(errors.New("connection reset by peer")))
}

func TestClassifyDeviceFailures(t *testing.T) {
	assert.Equal(t, KindDevice, Classify(errors.New("connect: connection refused")))
	assert.Equal(t, KindDevice, Classify(errors.New("no route to host")))
}

func TestWrapPreservesChain(t *testing.T) {
	inner := errors.New("root cause")
	f := Wrap(KindConfiguration, "bad threshold", inner)
	assert.ErrorIs(t, f, inner)
	assert.Contains(t, f.Error(), "Configuration")
	assert.Contains(t, f.Error(), "root cause")
}

func TestUnclassifiedDefaultsToTransient(t *testing.T) {
	assert.True(t, Retryable(errors.New("something odd happened")))
}
