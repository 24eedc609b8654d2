package watch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creativeprojects/imapwatch/lib"
	"github.com/creativeprojects/imapwatch/mailbox"
	"github.com/creativeprojects/imapwatch/store"
	"golang.org/x/time/rate"
)

const (
	DefaultMailbox       = "INBOX"
	DefaultIdleTimeout   = 20 * time.Second
	DefaultRetryInterval = 5 * time.Second
	DefaultSwitchTimeout = 10 * time.Second
)

type state int

const (
	stateLoggingIn state = iota
	stateSelecting
	stateDraining
	stateIdling
	stateReconnecting
	stateLoggingOut
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateLoggingIn:
		return "logging in"
	case stateSelecting:
		return "selecting"
	case stateDraining:
		return "draining"
	case stateIdling:
		return "idling"
	case stateReconnecting:
		return "reconnecting"
	case stateLoggingOut:
		return "logging out"
	case stateStopped:
		return "stopped"
	}
	return "unknown"
}

// Recorder receives lifecycle events from the watcher. The bolt journal
// implements it; the default is to record nothing.
type Recorder interface {
	Append(event store.Event) error
}

type Config struct {
	// Dial creates the transport, at startup and on every reconnection.
	Dial     DialFunc
	Username string
	Password string
	// Mailbox to watch, INBOX when empty.
	Mailbox string
	// IdleTimeout bounds every suspension point; keep it at or under the
	// transport connection timeout.
	IdleTimeout time.Duration
	// RetryInterval paces login retries and reconnection attempts.
	RetryInterval time.Duration
	// SwitchTimeout bounds how long SwitchMailbox waits for the loop.
	SwitchTimeout time.Duration
	Handler       Handler
	Logger        lib.Logger
	Recorder      Recorder
}

type switchRequest struct {
	name string
	done chan error
}

// Watcher drives one session through login, mailbox selection and the
// idle/drain cycle, reconnecting on connection loss and unwinding cleanly on
// a stop request. It never installs signal handlers: whoever runs it decides
// how stop requests are triggered.
type Watcher struct {
	dial          DialFunc
	username      string
	password      string
	idleTimeout   time.Duration
	switchTimeout time.Duration
	retry         *rate.Limiter
	handler       Handler
	log           lib.Logger
	recorder      Recorder

	shutdown *ShutdownSignal
	started  atomic.Bool
	switchCh chan *switchRequest

	mu          sync.Mutex
	mailboxName string
	cancelRun   context.CancelFunc
	cancelWait  context.CancelFunc

	session *Session
	runErr  error
}

func NewWatcher(cfg Config) (*Watcher, error) {
	if cfg.Dial == nil || cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("missing information from Config object")
	}
	if strings.TrimSpace(cfg.Mailbox) == "" {
		cfg.Mailbox = DefaultMailbox
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.SwitchTimeout <= 0 {
		cfg.SwitchTimeout = DefaultSwitchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = &lib.NoLog{}
	}

	return &Watcher{
		dial:          cfg.Dial,
		username:      cfg.Username,
		password:      cfg.Password,
		mailboxName:   cfg.Mailbox,
		idleTimeout:   cfg.IdleTimeout,
		switchTimeout: cfg.SwitchTimeout,
		retry:         rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
		handler:       cfg.Handler,
		log:           cfg.Logger,
		recorder:      cfg.Recorder,
		shutdown:      NewShutdownSignal(),
		switchCh:      make(chan *switchRequest, 1),
	}, nil
}

// Run drives the state machine until it stops. It blocks for the whole
// lifetime of the watch and returns an error only for unrecoverable
// configuration failures; every protocol or network failure is handled
// inside the loop.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watcher already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.cancelRun = cancel
	w.mu.Unlock()

	transport, err := w.dial()
	if err != nil {
		w.finish()
		return fmt.Errorf("cannot create transport: %w", err)
	}
	w.session = NewSession(transport, w.log)
	w.record(store.EventStarted, "")

	current := stateLoggingIn
	for current != stateStopped {
		if runCtx.Err() != nil {
			w.shutdown.RequestStop()
		}
		if w.shutdown.StopRequested() && current != stateLoggingOut {
			current = stateLoggingOut
		}
		w.log.Printf("state: %s", current)
		switch current {
		case stateLoggingIn:
			current = w.loggingIn(runCtx)
		case stateSelecting:
			current = w.selecting(runCtx)
		case stateDraining:
			current = w.draining(runCtx)
		case stateIdling:
			current = w.idling(runCtx)
		case stateReconnecting:
			current = w.reconnecting(runCtx)
		case stateLoggingOut:
			current = w.loggingOut()
		}
	}
	w.finish()
	return w.runErr
}

// Stop requests a graceful shutdown and cancels whatever wait the loop is
// suspended in, so shutdown is prompt rather than waiting for the next idle
// timeout. Calling it more than once has no further effect.
func (w *Watcher) Stop() {
	if !w.shutdown.RequestStop() {
		return
	}
	w.log.Print("graceful shutdown")
	w.mu.Lock()
	cancel := w.cancelRun
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether the watch loop is active: started and not yet
// fully stopped.
func (w *Watcher) Running() bool {
	return w.started.Load() && !w.shutdown.Stopped()
}

// Shutdown exposes the lifecycle flag, mostly for whoever needs to wait on
// Done().
func (w *Watcher) Shutdown() *ShutdownSignal {
	return w.shutdown
}

// Mailbox returns the mailbox currently being watched.
func (w *Watcher) Mailbox() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mailboxName
}

// SwitchMailbox asks the loop to start watching another mailbox. The pending
// idle is cancelled, the new selection runs under the session's own command
// sequencing, and the loop re-drains the new mailbox before idling again. The
// call returns once the switch completed, failed, or the bounded wait ran
// out.
func (w *Watcher) SwitchMailbox(name string) error {
	if strings.TrimSpace(name) == "" {
		return lib.ErrInvalidMailbox
	}
	if !w.started.Load() || w.shutdown.StopRequested() {
		return lib.ErrNotRunning
	}
	request := &switchRequest{name: name, done: make(chan error, 1)}
	select {
	case w.switchCh <- request:
	default:
		return lib.ErrSwitchPending
	}
	w.interruptWait()

	timer := time.NewTimer(w.switchTimeout)
	defer timer.Stop()
	select {
	case err := <-request.done:
		return err
	case <-timer.C:
		return lib.ErrSwitchTimeout
	case <-w.shutdown.Done():
		return lib.ErrNotRunning
	}
}

func (w *Watcher) loggingIn(ctx context.Context) state {
	err := w.session.Login(ctx, w.username, w.password)
	if err == nil {
		w.record(store.EventConnected, w.username)
		return stateSelecting
	}
	if lib.IsConnectionError(err) {
		return stateReconnecting
	}
	// authentication failure: back off, then try again
	if !w.waitRetry(ctx) {
		return stateLoggingOut
	}
	return stateLoggingIn
}

func (w *Watcher) selecting(ctx context.Context) state {
	name := w.Mailbox()
	status, err := w.session.SelectMailbox(ctx, name)
	if err != nil {
		w.log.Printf("cannot select mailbox %q: %s", name, err)
		if lib.IsConnectionError(err) {
			return stateReconnecting
		}
		// a refused SELECT leaves the session with no mailbox selected:
		// drop it and start over on a fresh connection
		w.session.Logout()
		w.session = nil
		return stateReconnecting
	}
	w.log.Printf("selected mailbox %q: %d messages, %d unseen", name, status.Messages, status.Unseen)
	w.record(store.EventSelected, name)
	return stateDraining
}

func (w *Watcher) draining(ctx context.Context) state {
	ids, err := w.session.SearchUnseen(ctx)
	if err != nil {
		w.log.Printf("connection lost searching %q: %s", w.Mailbox(), err)
		return stateReconnecting
	}
	received := 0
	for _, id := range ids {
		if w.shutdown.StopRequested() {
			return stateLoggingOut
		}
		raw, err := w.session.Fetch(ctx, id)
		if err != nil {
			if lib.IsConnectionError(err) {
				w.log.Printf("connection lost fetching message %d from %q: %s", id, w.Mailbox(), err)
				return stateReconnecting
			}
			w.log.Printf("cannot fetch message %d from %q: %s", id, w.Mailbox(), err)
			continue
		}
		message, err := mailbox.ParseMessage(id, raw)
		if err != nil {
			w.log.Printf("cannot decode message %d from %q: %s", id, w.Mailbox(), err)
			continue
		}
		w.callHandler(message)
		received++
	}
	if received > 0 {
		w.record(store.EventDrained, strconv.Itoa(received))
	}
	return stateIdling
}

func (w *Watcher) idling(ctx context.Context) state {
	if next, switched := w.applyPendingSwitch(ctx); switched {
		return next
	}

	waitCtx, release := w.waitContext(ctx)
	push, err := w.session.Idle(waitCtx, w.idleTimeout)
	release()

	// shutdown wins over a notification arriving in the same step
	if w.shutdown.StopRequested() {
		return stateLoggingOut
	}
	if next, switched := w.applyPendingSwitch(ctx); switched {
		return next
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return stateIdling
		}
		if lib.IsConnectionError(err) {
			w.log.Printf("connection lost while idling on %q: %s", w.Mailbox(), err)
			return stateReconnecting
		}
		w.log.Printf("idle failed on %q: %s", w.Mailbox(), err)
		if !w.waitRetry(ctx) {
			return stateLoggingOut
		}
		return stateIdling
	}
	if push.Kind == mailbox.PushExists {
		w.log.Printf("mailbox %q now reports %d messages", w.Mailbox(), push.Messages)
		return stateDraining
	}
	return stateIdling
}

func (w *Watcher) reconnecting(ctx context.Context) state {
	if w.session != nil {
		w.session.Close()
		w.session = nil
	}
	w.record(store.EventDisconnected, "")
	w.failPendingSwitch()

	for {
		if w.shutdown.StopRequested() {
			return stateLoggingOut
		}
		if !w.waitRetry(ctx) {
			return stateLoggingOut
		}
		transport, err := w.dial()
		if err == nil {
			w.session = NewSession(transport, w.log)
			w.log.Print("reconnected")
			return stateLoggingIn
		}
		if !lib.IsConnectionError(err) {
			// misconfiguration, retrying won't help
			w.log.Printf("cannot recreate transport: %s", err)
			w.runErr = err
			return stateStopped
		}
		w.log.Printf("reconnection failed: %s", err)
	}
}

func (w *Watcher) loggingOut() state {
	w.failPendingSwitch()
	if w.session != nil {
		w.session.Logout()
		w.session = nil
	}
	return stateStopped
}

// applyPendingSwitch picks up an administrative mailbox-switch request, if
// any. The new SELECT goes through the same session lock as every other
// command, so it can never interleave with the loop's own traffic.
func (w *Watcher) applyPendingSwitch(ctx context.Context) (state, bool) {
	var request *switchRequest
	select {
	case request = <-w.switchCh:
	default:
		return stateIdling, false
	}

	status, err := w.session.SelectMailbox(ctx, request.name)
	if err != nil {
		request.done <- fmt.Errorf("cannot switch to mailbox %q: %w", request.name, err)
		if lib.IsConnectionError(err) {
			return stateReconnecting, true
		}
		// the failed SELECT deselected the old mailbox too, reselect it
		return stateSelecting, true
	}
	w.setMailbox(request.name)
	w.log.Printf("switched to mailbox %q: %d messages, %d unseen", request.name, status.Messages, status.Unseen)
	w.record(store.EventSwitched, request.name)
	request.done <- nil
	return stateDraining, true
}

func (w *Watcher) failPendingSwitch() {
	select {
	case request := <-w.switchCh:
		request.done <- lib.ErrNotRunning
	default:
	}
}

// waitContext wraps ctx so the current suspension point can be cancelled by
// Stop or SwitchMailbox. The returned release must be called when the wait
// is over.
func (w *Watcher) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	waitCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelWait = cancel
	w.mu.Unlock()
	return waitCtx, func() {
		w.mu.Lock()
		w.cancelWait = nil
		w.mu.Unlock()
		cancel()
	}
}

func (w *Watcher) interruptWait() {
	w.mu.Lock()
	cancel := w.cancelWait
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// waitRetry paces the next attempt. It reports false only when the loop has
// to unwind: the run context is gone or a stop was requested. A mailbox
// switch interrupting the wait is not a reason to give up, the request stays
// queued until the loop is back in a state that can serve it.
func (w *Watcher) waitRetry(ctx context.Context) bool {
	for {
		waitCtx, release := w.waitContext(ctx)
		err := w.retry.Wait(waitCtx)
		release()
		if err == nil {
			return true
		}
		if ctx.Err() != nil || w.shutdown.StopRequested() {
			return false
		}
	}
}

func (w *Watcher) setMailbox(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mailboxName = name
}

func (w *Watcher) callHandler(message *mailbox.Message) {
	if w.handler == nil {
		return
	}
	defer func() {
		if failure := recover(); failure != nil {
			w.log.Printf("message handler panic: %v", failure)
		}
	}()
	w.handler(message)
}

func (w *Watcher) record(eventType, detail string) {
	if w.recorder == nil {
		return
	}
	event := store.Event{
		Date:    time.Now(),
		Type:    eventType,
		Mailbox: w.Mailbox(),
		Detail:  detail,
	}
	if err := w.recorder.Append(event); err != nil {
		w.log.Printf("cannot record event %q: %s", eventType, err)
	}
}

func (w *Watcher) finish() {
	w.shutdown.markStopped()
	w.record(store.EventStopped, "")
	w.callHandler(mailbox.Stopped)
}
