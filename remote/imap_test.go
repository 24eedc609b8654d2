package remote

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/creativeprojects/imapwatch/lib"
	"github.com/creativeprojects/imapwatch/mailbox"
	"github.com/emersion/go-imap"
	compress "github.com/emersion/go-imap-compress"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

func TestImapNeedsAServerURL(t *testing.T) {
	_, err := NewImap(Config{})
	assert.Error(t, err)
}

func TestImapTransport(t *testing.T) {
	// Create a memory backend: it comes preloaded with one user
	// (username/password) and one already read message in INBOX
	be := memory.New()

	// Create a new server
	server := server.New(be)
	// Since we will use this server for testing only, we can allow plain text
	// authentication over non-encrypted connections
	server.AllowInsecureAuth = true
	server.Enable(compress.NewExtension())
	server.Enable(idle.NewExtension())

	listener, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)

	t.Logf("Starting IMAP server at %s", listener.Addr().String())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = server.Serve(listener)
	}()

	time.Sleep(100 * time.Millisecond)

	transport, err := NewImap(Config{
		ServerURL:         listener.Addr().String(),
		ConnectionTimeout: 10 * time.Second,
		NoTLS:             true,
		DebugLogger:       lib.NewTestLogger(t, "imap"),
	})
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("CommandsBeforeSelect", func(t *testing.T) {
		_, err := transport.SearchUnseen(ctx)
		assert.ErrorIs(t, err, lib.ErrNotSelected)
		_, err = transport.Fetch(ctx, 1)
		assert.ErrorIs(t, err, lib.ErrNotSelected)
	})

	t.Run("Login", func(t *testing.T) {
		require.NoError(t, transport.Login(ctx, "username", "password"))
	})

	t.Run("Select", func(t *testing.T) {
		status, err := transport.Select(ctx, "INBOX")
		require.NoError(t, err)
		assert.Equal(t, "INBOX", status.Name)
		assert.Equal(t, uint32(1), status.Messages)
	})

	t.Run("SelectUnknownMailbox", func(t *testing.T) {
		_, err := transport.Select(ctx, "NoSuchMailbox")
		assert.Error(t, err)
		// reselect the one we watch
		_, err = transport.Select(ctx, "INBOX")
		require.NoError(t, err)
	})

	t.Run("SearchUnseenEmpty", func(t *testing.T) {
		// the preloaded message carries the Seen flag
		ids, err := transport.SearchUnseen(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("SearchUnseenFindsNewMessage", func(t *testing.T) {
		deliverTestMessage(t, be)
		ids, err := transport.SearchUnseen(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint32{2}, ids)
	})

	t.Run("Fetch", func(t *testing.T) {
		raw, err := transport.Fetch(ctx, 2)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "Subject: fresh out of the oven")

		// the peek must not have marked it read
		ids, err := transport.SearchUnseen(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint32{2}, ids)
	})

	t.Run("FetchUnknownMessage", func(t *testing.T) {
		_, err := transport.Fetch(ctx, 999)
		assert.Error(t, err)
	})

	t.Run("IdleTimesOut", func(t *testing.T) {
		// previous commands may have buffered mailbox updates
		for len(transport.updates) > 0 {
			<-transport.updates
		}
		require.NoError(t, transport.IdleStart(ctx))
		assert.True(t, transport.HasPendingIdle())

		push, err := transport.WaitServerPush(ctx, 200*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, mailbox.PushTimeout, push.Kind)

		require.NoError(t, transport.IdleDone())
		assert.False(t, transport.HasPendingIdle())
	})

	t.Run("IdleCancelled", func(t *testing.T) {
		require.NoError(t, transport.IdleStart(ctx))

		waitCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		_, err := transport.WaitServerPush(waitCtx, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)

		require.NoError(t, transport.IdleDone())
		assert.False(t, transport.HasPendingIdle())
	})

	t.Run("CommandAfterIdle", func(t *testing.T) {
		// the connection must be usable again once the idle is closed
		ids, err := transport.SearchUnseen(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint32{2}, ids)
	})

	t.Run("Logout", func(t *testing.T) {
		assert.NoError(t, transport.Logout())
	})

	err = transport.Close()
	assert.NoError(t, err)

	// close the server
	err = server.Close()
	assert.NoError(t, err)
	wg.Wait()
}

func TestTranslateUpdate(t *testing.T) {
	t.Parallel()

	_, relevant := translateUpdate(&client.MailboxUpdate{})
	assert.False(t, relevant)

	push, relevant := translateUpdate(&client.MailboxUpdate{Mailbox: &imap.MailboxStatus{Messages: 7}})
	assert.True(t, relevant)
	assert.Equal(t, mailbox.PushExists, push.Kind)
	assert.Equal(t, uint32(7), push.Messages)

	push, relevant = translateUpdate(&client.ExpungeUpdate{})
	assert.True(t, relevant)
	assert.Equal(t, mailbox.PushOther, push.Kind)

	_, relevant = translateUpdate(&client.StatusUpdate{})
	assert.False(t, relevant)
}

// deliverTestMessage appends one unread message to the INBOX of the memory
// backend, behind the server's back.
func deliverTestMessage(t *testing.T, be *memory.Backend) {
	t.Helper()
	user, err := be.Login(nil, "username", "password")
	require.NoError(t, err)
	inbox, err := user.GetMailbox("INBOX")
	require.NoError(t, err)

	raw := "From: baker@example.com\r\n" +
		"To: username@example.com\r\n" +
		"Subject: fresh out of the oven\r\n" +
		"Date: Tue, 12 Jul 2022 10:00:00 +0000\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"still warm\r\n"
	err = inbox.CreateMessage(nil, time.Now(), bytes.NewBufferString(raw))
	require.NoError(t, err)
}
