package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creativeprojects/imapwatch/mailbox"
)

// idleOutcome is what the next WaitServerPush comes back with. An error
// outcome also clears the pending idle, like the real transport does when
// the connection drops mid-idle.
type idleOutcome struct {
	push mailbox.Push
	err  error
}

// fakeTransport runs the watcher against canned responses. It records the
// full operation sequence and flags any command issued while an idle is
// still outstanding.
type fakeTransport struct {
	mu sync.Mutex

	loginErrs []error            // popped per call, nil = success
	selectErr map[string]error   // per mailbox name
	statuses  map[string]*mailbox.Status
	searches  [][]uint32 // popped per call, exhausted = no messages
	messages  map[uint32][]byte
	idleQueue []idleOutcome // popped per wait, exhausted = wait for the timeout

	pendingIdle bool
	loginCalls  int
	idleStarts  int
	idleDones   int
	logouts     int
	closes      int
	ops         []string
	violations  []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		selectErr: make(map[string]error),
		statuses:  make(map[string]*mailbox.Status),
		messages:  make(map[uint32][]byte),
	}
}

func rawTestMessage(from, subject string) []byte {
	return []byte("From: " + from + "\r\n" +
		"To: someone@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Tue, 12 Jul 2022 10:00:00 +0000\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"nothing to see here\r\n")
}

// callers must hold mu
func (f *fakeTransport) op(name string) {
	f.ops = append(f.ops, name)
	if f.pendingIdle {
		f.violations = append(f.violations, fmt.Sprintf("%s issued while idle pending", name))
	}
}

func (f *fakeTransport) Login(_ context.Context, username, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.op("login")
	f.loginCalls++
	if len(f.loginErrs) == 0 {
		return nil
	}
	err := f.loginErrs[0]
	f.loginErrs = f.loginErrs[1:]
	return err
}

func (f *fakeTransport) Select(_ context.Context, name string) (*mailbox.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.op("select:" + name)
	if err := f.selectErr[name]; err != nil {
		return nil, err
	}
	status := f.statuses[name]
	if status == nil {
		status = &mailbox.Status{Name: name, UidValidity: 1}
	}
	return status, nil
}

func (f *fakeTransport) SearchUnseen(_ context.Context) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.op("search")
	if len(f.searches) == 0 {
		return nil, nil
	}
	ids := f.searches[0]
	f.searches = f.searches[1:]
	return ids, nil
}

func (f *fakeTransport) Fetch(_ context.Context, seqNum uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.op(fmt.Sprintf("fetch:%d", seqNum))
	return f.messages[seqNum], nil
}

func (f *fakeTransport) IdleStart(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.op("idle-start")
	f.pendingIdle = true
	f.idleStarts++
	return nil
}

func (f *fakeTransport) WaitServerPush(ctx context.Context, timeout time.Duration) (mailbox.Push, error) {
	f.mu.Lock()
	if len(f.idleQueue) > 0 {
		outcome := f.idleQueue[0]
		f.idleQueue = f.idleQueue[1:]
		if outcome.err != nil {
			f.pendingIdle = false
		}
		f.mu.Unlock()
		return outcome.push, outcome.err
	}
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return mailbox.Push{}, ctx.Err()
	case <-timer.C:
		return mailbox.Push{Kind: mailbox.PushTimeout}, nil
	}
}

func (f *fakeTransport) IdleDone() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pendingIdle {
		f.violations = append(f.violations, "idle-done with no pending idle")
	}
	f.pendingIdle = false
	f.idleDones++
	f.ops = append(f.ops, "idle-done")
	return nil
}

func (f *fakeTransport) HasPendingIdle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingIdle
}

func (f *fakeTransport) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.op("logout")
	f.logouts++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.ops))
	copy(ops, f.ops)
	return ops
}

func (f *fakeTransport) counters() (logins, idleStarts, idleDones, logouts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.idleStarts, f.idleDones, f.logouts
}

func (f *fakeTransport) allViolations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	violations := make([]string, len(f.violations))
	copy(violations, f.violations)
	return violations
}

func indexOf(ops []string, name string) int {
	for index, op := range ops {
		if op == name {
			return index
		}
	}
	return -1
}
