package lib

import (
	"errors"
	"io"
	"net"
)

var (
	ErrNotSelected      = errors.New("mailbox not selected")
	ErrInvalidMailbox   = errors.New("invalid mailbox name")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotRunning       = errors.New("receiver is not running")
	ErrSwitchPending    = errors.New("another mailbox switch is already pending")
	ErrSwitchTimeout    = errors.New("timeout waiting for the mailbox switch to complete")
	ErrConnectionClosed = errors.New("connection closed by the server")
)

// IsConnectionError reports whether err indicates the underlying connection
// is gone, as opposed to a protocol-level failure like a NO response.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
