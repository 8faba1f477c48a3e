package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mapi-bridge/internal/config"
)

// importedHeaders are copied into named properties of the internet headers
// property set.
var importedHeaders = []string{"X-Mailer", "List-Id", "Reply-To"}

// IMAPClient wraps an IMAP client connection
type IMAPClient struct {
	config *config.AccountConfig
	logger *logrus.Logger

	mu     sync.Mutex
	client *client.Client
}

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.AccountConfig, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{
		config: cfg,
		logger: logger,
	}
}

// connectLocked establishes a connection to the IMAP server. c.mu must be held.
func (c *IMAPClient) connectLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.config.IMAPHost, c.config.IMAPPort)

	cl, err := client.DialTLS(addr, &tls.Config{
		ServerName: c.config.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := cl.Login(c.config.IMAPUsername, c.config.IMAPPassword); err != nil {
		c.logger.WithError(err).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	c.client = cl
	c.logger.WithField("account", c.config.Name).Info("Connected to IMAP server")
	return nil
}

// Close closes the IMAP connection
func (c *IMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	return err
}

// ListMailboxes lists all mailboxes with their special-use attributes
func (c *IMAPClient) ListMailboxes(ctx context.Context) ([]Mailbox, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	infos := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.List("", "*", infos)
	}()

	var mailboxes []Mailbox
	for m := range infos {
		mailboxes = append(mailboxes, Mailbox{
			Name:       m.Name,
			Delimiter:  m.Delimiter,
			Attributes: m.Attributes,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return mailboxes, nil
}

// FetchMessages fetches the most recent messages of a mailbox
func (c *IMAPClient) FetchMessages(ctx context.Context, mailbox string, limit int) ([]*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	mbox, err := c.client.Select(mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	start := uint32(1)
	if limit > 0 && mbox.Messages > uint32(limit) {
		start = mbox.Messages - uint32(limit) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(start, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	fetched := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.Fetch(seqSet, items, fetched)
	}()

	var messages []*Message
	for msg := range fetched {
		messages = append(messages, c.parseMessage(msg, section))
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// parseMessage parses an IMAP message into a Message
func (c *IMAPClient) parseMessage(msg *imap.Message, section *imap.BodySectionName) *Message {
	m := &Message{
		UID:     msg.Uid,
		Date:    msg.InternalDate,
		Headers: make(map[string]string),
	}

	if env := msg.Envelope; env != nil {
		m.MessageID = env.MessageId
		m.Subject = env.Subject
		if !env.Date.IsZero() {
			m.Date = env.Date
		}
		if len(env.From) > 0 {
			m.SenderName = env.From[0].PersonalName
			m.SenderEmail = env.From[0].Address()
		}
		m.To = displayNames(env.To)
		m.Cc = displayNames(env.Cc)
	}

	for _, flag := range msg.Flags {
		if flag == imap.SeenFlag {
			m.Seen = true
		}
	}

	literal := msg.GetBody(section)
	if literal == nil {
		c.logger.WithField("uid", msg.Uid).Warn("Message body is missing")
		return m
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		c.logger.WithError(err).WithField("uid", msg.Uid).Warn("Failed to read message body")
		return m
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		c.logger.WithError(err).Debug("Failed to parse with enmime, using raw body")
		m.BodyText = string(raw)
		return m
	}
	m.BodyText = env.Text
	m.BodyHTML = env.HTML
	for _, name := range importedHeaders {
		if v := env.GetHeader(name); v != "" {
			m.Headers[name] = v
		}
	}

	c.logger.WithFields(logrus.Fields{
		"uid":      msg.Uid,
		"text_len": len(env.Text),
		"html_len": len(env.HTML),
	}).Debug("Parsed message body")
	return m
}

// displayNames renders addresses the way PR_DISPLAY_TO lists recipients
func displayNames(addrs []*imap.Address) []string {
	names := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.PersonalName != "" {
			names = append(names, a.PersonalName)
		} else {
			names = append(names, a.Address())
		}
	}
	return names
}
