package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/creativeprojects/imapwatch/lib"
	"github.com/creativeprojects/imapwatch/mailbox"
	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
)

// buffered so unilateral updates never block the client reader, and so a
// notification arriving between two idles is kept until the next wait
const updateBuffer = 64

type Config struct {
	ServerURL           string
	ConnectionTimeout   time.Duration
	NoTLS               bool
	SkipTLSVerification bool
	DebugLogger         lib.Logger
}

// Imap is the wire-level transport over one IMAP connection, using the IDLE
// extension when the server offers it (with a polling fallback when not).
// It is driven by a single session at a time and performs no locking of its
// own.
type Imap struct {
	client      *client.Client
	idle        *idle.Client
	updates     chan client.Update
	idleStop    chan struct{}
	idleResult  chan error
	pendingIdle bool
	selected    *mailbox.Status
	timeout     time.Duration
	log         lib.Logger
}

func NewImap(cfg Config) (*Imap, error) {
	log := cfg.DebugLogger
	if log == nil {
		log = &lib.NoLog{}
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("missing server URL from Config object")
	}
	timeout := cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// the dialer timeout also bounds the wait for the server greeting
	dialer := &net.Dialer{Timeout: timeout}

	var imapClient *client.Client
	var err error
	log.Printf("Connecting to server %s...", cfg.ServerURL)
	if cfg.NoTLS {
		imapClient, err = client.DialWithDialer(dialer, cfg.ServerURL)
	} else {
		tlsConfig := &tls.Config{}
		if cfg.SkipTLSVerification {
			tlsConfig.InsecureSkipVerify = true
		}
		imapClient, err = client.DialWithDialerTLS(dialer, cfg.ServerURL, tlsConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot connect to server %s: %w", cfg.ServerURL, err)
	}
	log.Print("Connected")
	imapClient.Timeout = timeout

	updates := make(chan client.Update, updateBuffer)
	imapClient.Updates = updates

	return &Imap{
		client:  imapClient,
		idle:    idle.NewClient(imapClient),
		updates: updates,
		timeout: timeout,
		log:     log,
	}, nil
}

func (i *Imap) Login(_ context.Context, username, password string) error {
	if err := i.client.Login(username, password); err != nil {
		return err
	}
	if caps, err := i.client.Capability(); err == nil {
		i.log.Printf("capabilities: %+v", caps)
	}
	return nil
}

func (i *Imap) Select(_ context.Context, name string) (*mailbox.Status, error) {
	i.log.Printf("Selecting mailbox %q", name)
	status, err := i.client.Select(name, false)
	if err != nil {
		return nil, err
	}
	i.selected = &mailbox.Status{
		Name:        status.Name,
		Messages:    status.Messages,
		Unseen:      status.Unseen,
		UidValidity: status.UidValidity,
	}
	return i.selected, nil
}

func (i *Imap) SearchUnseen(_ context.Context) ([]uint32, error) {
	if i.selected == nil {
		return nil, lib.ErrNotSelected
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	return i.client.Search(criteria)
}

func (i *Imap) Fetch(_ context.Context, seqNum uint32) ([]byte, error) {
	if i.selected == nil {
		return nil, lib.ErrNotSelected
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNum)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	receiver := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- i.client.Fetch(seqset, items, receiver)
	}()

	var raw []byte
	for message := range receiver {
		body := message.GetBody(section)
		if body == nil {
			continue
		}
		raw, _ = io.ReadAll(body)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, lib.ErrMessageNotFound
	}
	i.log.Printf("Fetched message %d (%d bytes)", seqNum, len(raw))
	return raw, nil
}

func (i *Imap) IdleStart(_ context.Context) error {
	if i.pendingIdle {
		return errors.New("idle already pending")
	}
	stop := make(chan struct{})
	result := make(chan error, 1)

	// the regular I/O deadline would kill a long idle
	i.client.Timeout = 0
	go func() {
		result <- i.idle.IdleWithFallback(stop, 0)
	}()

	i.idleStop = stop
	i.idleResult = result
	i.pendingIdle = true
	return nil
}

func (i *Imap) WaitServerPush(ctx context.Context, timeout time.Duration) (mailbox.Push, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return mailbox.Push{}, ctx.Err()

		case <-timer.C:
			return mailbox.Push{Kind: mailbox.PushTimeout}, nil

		case err := <-i.idleResult:
			// the idle ended without being asked to: the connection is gone
			i.finishIdle()
			if err == nil {
				err = errors.New("idle terminated")
			}
			return mailbox.Push{}, fmt.Errorf("%w: %s", lib.ErrConnectionClosed, err)

		case update := <-i.updates:
			if push, relevant := translateUpdate(update); relevant {
				i.log.Printf("Server push: %s", push.Kind)
				return push, nil
			}
		}
	}
}

func (i *Imap) IdleDone() error {
	if !i.pendingIdle {
		return nil
	}
	close(i.idleStop)
	err := <-i.idleResult
	i.finishIdle()
	if err != nil {
		return fmt.Errorf("%w: %s", lib.ErrConnectionClosed, err)
	}
	return nil
}

func (i *Imap) HasPendingIdle() bool {
	return i.pendingIdle
}

func (i *Imap) finishIdle() {
	i.pendingIdle = false
	i.idleStop = nil
	i.idleResult = nil
	i.client.Timeout = i.timeout
}

func (i *Imap) Logout() error {
	i.log.Print("Closing connection")
	return i.client.Logout()
}

func (i *Imap) Close() error {
	return i.client.Terminate()
}

func translateUpdate(update client.Update) (mailbox.Push, bool) {
	switch u := update.(type) {
	case *client.MailboxUpdate:
		if u.Mailbox == nil {
			return mailbox.Push{}, false
		}
		return mailbox.Push{Kind: mailbox.PushExists, Messages: u.Mailbox.Messages}, true
	case *client.MessageUpdate, *client.ExpungeUpdate:
		return mailbox.Push{Kind: mailbox.PushOther}, true
	default:
		return mailbox.Push{}, false
	}
}
