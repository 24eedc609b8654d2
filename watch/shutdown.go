package watch

import (
	"sync"
	"sync/atomic"
)

// ShutdownState is the lifecycle of one watch loop. Transitions only move
// forward: Running -> StopRequested -> Stopped.
type ShutdownState int32

const (
	Running ShutdownState = iota
	StopRequested
	Stopped
)

func (s ShutdownState) String() string {
	switch s {
	case Running:
		return "running"
	case StopRequested:
		return "stop requested"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// ShutdownSignal is the single piece of state shared between the watch loop
// and whoever asks it to stop. The trigger writes it once (RequestStop), the
// loop writes it once (markStopped) after unwinding cleanly.
type ShutdownSignal struct {
	state atomic.Int32
	once  sync.Once
	done  chan struct{}
}

func NewShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{
		done: make(chan struct{}),
	}
}

// RequestStop moves the state from Running to StopRequested. It returns
// false when the request was already made (or the loop already stopped),
// making repeated stop requests no-ops.
func (s *ShutdownSignal) RequestStop() bool {
	return s.state.CompareAndSwap(int32(Running), int32(StopRequested))
}

// StopRequested reports whether a stop was requested or already completed.
func (s *ShutdownSignal) StopRequested() bool {
	return ShutdownState(s.state.Load()) != Running
}

// Stopped reports whether the loop has unwound completely.
func (s *ShutdownSignal) Stopped() bool {
	return ShutdownState(s.state.Load()) == Stopped
}

// State returns the current lifecycle state.
func (s *ShutdownSignal) State() ShutdownState {
	return ShutdownState(s.state.Load())
}

// Done returns a channel closed once the loop has stopped.
func (s *ShutdownSignal) Done() <-chan struct{} {
	return s.done
}

// markStopped is called by the loop, and only by the loop, once it has
// logged out and released the connection.
func (s *ShutdownSignal) markStopped() {
	s.state.Store(int32(Stopped))
	s.once.Do(func() {
		close(s.done)
	})
}
