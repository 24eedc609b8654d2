package watch

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/creativeprojects/imapwatch/lib"
	"github.com/creativeprojects/imapwatch/mailbox"
)

// Session owns one live transport connection and serializes every operation
// against it: no two commands are ever in flight concurrently on the same
// connection. A session is never reused across reconnections, the watch loop
// builds a fresh one each time.
type Session struct {
	transport Transport
	mu        sync.Mutex
	username  string
	mailbox   string
	lastSeq   uint32
	log       lib.Logger
}

func NewSession(transport Transport, log lib.Logger) *Session {
	if log == nil {
		log = &lib.NoLog{}
	}
	return &Session{
		transport: transport,
		log:       log,
	}
}

// Login authenticates the connection. A failure is reported to the caller,
// which decides whether to retry; it is never escalated further.
func (s *Session) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.username = username
	if err := s.transport.Login(ctx, username, password); err != nil {
		s.log.Printf("login failed for %s: %s", username, err)
		return err
	}
	s.log.Printf("logged in as %s", username)
	return nil
}

// SelectMailbox makes name the watched mailbox and resets the watermark to
// the current number of messages. The transport takes care of quoting names
// containing whitespace.
func (s *Session) SelectMailbox(ctx context.Context, name string) (*mailbox.Status, error) {
	if strings.TrimSpace(name) == "" {
		return nil, lib.ErrInvalidMailbox
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.transport.Select(ctx, name)
	if err != nil {
		return nil, err
	}
	s.mailbox = name
	s.lastSeq = status.Messages
	return status, nil
}

// SearchUnseen returns the sequence numbers of unread messages, in ascending
// order. A protocol-level failure is logged and reported as "no messages" to
// keep the loop alive; only a lost connection surfaces as an error.
func (s *Session) SearchUnseen(ctx context.Context) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.transport.SearchUnseen(ctx)
	if err != nil {
		if lib.IsConnectionError(err) {
			return nil, err
		}
		s.log.Printf("search unseen failed on %q: %s", s.mailbox, err)
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Fetch retrieves the raw body of one message. A malformed or empty response
// comes back as lib.ErrMessageNotFound.
func (s *Session) Fetch(ctx context.Context, seqNum uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.transport.Fetch(ctx, seqNum)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, lib.ErrMessageNotFound
	}
	return raw, nil
}

// Idle runs one complete IDLE exchange: start, wait for a server push or the
// timeout, then end the command. The closing IDLE-done is tied to the scope
// of this call, so it runs on the timeout and cancellation paths too; the
// server forbids any other command while the idle is open.
func (s *Session) Idle(ctx context.Context, timeout time.Duration) (push mailbox.Push, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.transport.IdleStart(ctx); err != nil {
		return mailbox.Push{}, err
	}
	defer func() {
		if !s.transport.HasPendingIdle() {
			return
		}
		if doneErr := s.transport.IdleDone(); doneErr != nil {
			s.log.Printf("idle done failed on %q: %s", s.mailbox, doneErr)
			if err == nil && lib.IsConnectionError(doneErr) {
				err = doneErr
			}
		}
	}()

	push, err = s.transport.WaitServerPush(ctx, timeout)
	if err == nil && push.Kind == mailbox.PushExists {
		s.lastSeq = push.Messages
	}
	return push, err
}

// Logout is best-effort: it ends any pending idle, then logs out. Failures
// are logged and swallowed, this runs during shutdown where nothing can be
// done about them.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport.HasPendingIdle() {
		if err := s.transport.IdleDone(); err != nil {
			s.log.Printf("idle done failed on %q: %s", s.mailbox, err)
		}
	}
	if err := s.transport.Logout(); err != nil {
		s.log.Printf("logout failed for %s: %s", s.username, err)
	} else {
		s.log.Printf("logged out %s", s.username)
	}
	_ = s.transport.Close()
}

// Close drops the connection without the logout exchange, typically after
// the transport already reported the connection lost.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.transport.Close()
}

// Mailbox returns the currently selected mailbox name.
func (s *Session) Mailbox() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mailbox
}

// LastSeq returns the watermark: the last known highest message sequence
// number, refreshed on select and on EXISTS pushes.
func (s *Session) LastSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}
