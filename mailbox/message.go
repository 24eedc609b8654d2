package mailbox

import (
	"bytes"
	"fmt"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Message is an immutable view over one fetched message: the decoded
// Subject and From headers, plus the sequence number it was fetched under.
type Message struct {
	// The message sequence number in the selected mailbox.
	SeqNum uint32
	// The decoded subject header.
	Subject string
	// The decoded sender, like "Jane Doe <jane@example.com>".
	Sender string
}

// Stopped is the sentinel delivered to the message handler when the watch
// loop exits, so callers can detect the end of the lifecycle. Compare by
// pointer identity.
var Stopped = &Message{}

// ParseMessage decodes the subject and sender from a raw RFC 822 message.
func ParseMessage(seqNum uint32, raw []byte) (*Message, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && reader == nil {
		return nil, fmt.Errorf("cannot parse message %d: %w", seqNum, err)
	}

	message := &Message{SeqNum: seqNum}
	message.Subject, _ = reader.Header.Subject()

	if senders, err := reader.Header.AddressList("From"); err == nil && len(senders) > 0 {
		message.Sender = formatAddress(senders[0])
	}
	return message, nil
}

func formatAddress(address *mail.Address) string {
	if address.Name == "" {
		return address.Address
	}
	return fmt.Sprintf("%s <%s>", address.Name, address.Address)
}
