package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownSignalMovesForwardOnly(t *testing.T) {
	t.Parallel()

	signal := NewShutdownSignal()
	assert.Equal(t, Running, signal.State())
	assert.False(t, signal.StopRequested())
	assert.False(t, signal.Stopped())

	assert.True(t, signal.RequestStop())
	assert.False(t, signal.RequestStop())
	assert.Equal(t, StopRequested, signal.State())
	assert.True(t, signal.StopRequested())
	assert.False(t, signal.Stopped())

	signal.markStopped()
	assert.Equal(t, Stopped, signal.State())
	assert.True(t, signal.StopRequested())
	assert.True(t, signal.Stopped())

	// no way back
	assert.False(t, signal.RequestStop())
	assert.Equal(t, Stopped, signal.State())
}

func TestShutdownSignalDoneUnblocksWaiters(t *testing.T) {
	t.Parallel()

	signal := NewShutdownSignal()
	select {
	case <-signal.Done():
		t.Fatal("done should not be closed yet")
	default:
	}

	signal.markStopped()
	select {
	case <-signal.Done():
	case <-time.After(time.Second):
		t.Fatal("done should be closed")
	}
	// closing twice must not panic
	signal.markStopped()
}

func TestShutdownSignalConcurrentStopRequests(t *testing.T) {
	t.Parallel()

	signal := NewShutdownSignal()
	accepted := make(chan bool, 10)
	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted <- signal.RequestStop()
		}()
	}
	wg.Wait()
	close(accepted)

	winners := 0
	for ok := range accepted {
		if ok {
			winners++
		}
	}
	require.Equal(t, 1, winners)
}

func TestShutdownStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stop requested", StopRequested.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", ShutdownState(12).String())
}
