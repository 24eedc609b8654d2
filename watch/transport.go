package watch

import (
	"context"
	"time"

	"github.com/creativeprojects/imapwatch/mailbox"
)

// Transport performs the wire-level exchange over exactly one connection to
// the mail server: authentication, mailbox selection, search, fetch and the
// IDLE command framing. Implementations don't need to be safe for concurrent
// use, the Session serializes every call.
//
// A lost connection is reported through errors that satisfy
// lib.IsConnectionError; protocol-level failures (a NO or BAD response) come
// back as plain errors.
type Transport interface {
	// Login authenticates the connection. The server greeting is expected
	// to have been consumed when the transport was created.
	Login(ctx context.Context, username, password string) error
	// Select makes name the currently selected mailbox.
	Select(ctx context.Context, name string) (*mailbox.Status, error)
	// SearchUnseen returns the sequence numbers of messages not yet marked
	// as read in the selected mailbox.
	SearchUnseen(ctx context.Context) ([]uint32, error)
	// Fetch retrieves the full raw body of one message.
	Fetch(ctx context.Context, seqNum uint32) ([]byte, error)

	// IdleStart opens an IDLE command. At most one may be pending at a
	// time; it must be closed with IdleDone before any other command.
	IdleStart(ctx context.Context) error
	// WaitServerPush suspends until the server pushes an update, the
	// timeout elapses, or ctx is cancelled. A timeout is not an error.
	WaitServerPush(ctx context.Context, timeout time.Duration) (mailbox.Push, error)
	// IdleDone closes the pending IDLE command.
	IdleDone() error
	// HasPendingIdle reports whether an IDLE command is still open.
	HasPendingIdle() bool

	// Logout ends the session on the server.
	Logout() error
	// Close tears down the connection without the logout exchange.
	Close() error
}

// DialFunc creates a fresh Transport. It is called once at startup and again
// on every reconnection, always with the same configuration.
type DialFunc func() (Transport, error)

// Handler is invoked once per newly observed message, and a final time with
// the mailbox.Stopped sentinel when the watch loop exits. A panic inside the
// handler is recovered and logged, it never reaches the loop.
type Handler func(msg *mailbox.Message)
