package email

import (
	"context"
	"time"
)

// Mailbox is one IMAP mailbox as listed by the server.
type Mailbox struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// Message is a fetched IMAP message reduced to what the importer maps onto
// properties.
type Message struct {
	UID         uint32
	MessageID   string
	Subject     string
	SenderName  string
	SenderEmail string
	To          []string
	Cc          []string
	Date        time.Time
	Seen        bool
	BodyText    string
	BodyHTML    string
	Headers     map[string]string
}

// MailSource lists and fetches messages of one account.
type MailSource interface {
	ListMailboxes(ctx context.Context) ([]Mailbox, error)
	// FetchMessages returns up to limit of the most recent messages.
	FetchMessages(ctx context.Context, mailbox string, limit int) ([]*Message, error)
	Close() error
}
