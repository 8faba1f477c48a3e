package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mapi-bridge/internal/config"
	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
	"github.com/brandon/mapi-bridge/internal/metrics"
	"github.com/brandon/mapi-bridge/internal/sqlstore"
)

const mailContainerClass = "IPF.Note"

// specialUse maps RFC 6154 mailbox attributes to the property naming the
// folder and whether that property lives on the store entry.
var specialUse = map[string]struct {
	tag     mapi.Tag
	onStore bool
}{
	imap.SentAttr:    {mapi.TagIPMSentMailEntryID, true},
	imap.TrashAttr:   {mapi.TagIPMWastebasketEntryID, true},
	imap.DraftsAttr:  {mapi.TagIPMDraftsEntryID, false},
	imap.ArchiveAttr: {mapi.TagIPMArchiveEntryID, false},
}

// SyncResult counts what one sync wrote.
type SyncResult struct {
	Account string `json:"account"`
	Folders int    `json:"folders"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
}

// Manager imports mail accounts into the property store. Each account
// becomes a store named after it.
type Manager struct {
	accounts *AccountManager
	db       *sqlstore.DB
	limit    int
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewManager creates a new import manager
func NewManager(cfg *config.Config, db *sqlstore.DB, m *metrics.Metrics, logger *logrus.Logger) *Manager {
	return NewManagerWithAccounts(NewAccountManager(cfg, logger), db, cfg.SyncMessageLimit, m, logger)
}

// NewManagerWithAccounts creates a manager over already built accounts.
func NewManagerWithAccounts(accounts *AccountManager, db *sqlstore.DB, limit int, m *metrics.Metrics, logger *logrus.Logger) *Manager {
	return &Manager{
		accounts: accounts,
		db:       db,
		limit:    limit,
		metrics:  m,
		logger:   logger,
	}
}

// Accounts returns the configured account names.
func (m *Manager) Accounts() []string {
	return m.accounts.ListAccounts()
}

// SyncAll syncs every account concurrently.
func (m *Manager) SyncAll(ctx context.Context) ([]SyncResult, error) {
	names := m.accounts.ListAccounts()
	results := make([]SyncResult, len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			res, err := m.SyncAccount(ctx, name, "")
			if err != nil {
				return fmt.Errorf("failed to sync account %s: %w", name, err)
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// SyncAccount mirrors an account into its store. An empty mailbox syncs
// every mailbox; failures of single mailboxes are logged and skipped then.
func (m *Manager) SyncAccount(ctx context.Context, accountName, mailbox string) (*SyncResult, error) {
	account, err := m.accounts.GetAccount(accountName)
	if err != nil {
		return nil, err
	}

	storeID, rootID, err := m.ensureStore(ctx, accountName)
	if err != nil {
		return nil, err
	}
	named, err := m.db.RegisterNames(ctx, storeID, namedProps())
	if err != nil {
		return nil, fmt.Errorf("failed to register named properties: %w", err)
	}

	mailboxes, err := account.Source.ListMailboxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	res := &SyncResult{Account: accountName}
	found := false
	for _, mb := range mailboxes {
		if mailbox != "" && mb.Name != mailbox {
			continue
		}
		found = true
		err := m.syncMailbox(ctx, account, storeID, rootID, named, mb, res)
		if err == nil {
			continue
		}
		if mailbox != "" || ctx.Err() != nil {
			return nil, fmt.Errorf("failed to sync mailbox %s: %w", mb.Name, err)
		}
		m.logger.WithError(err).WithField("mailbox", mb.Name).Warn("Failed to sync mailbox")
	}
	if mailbox != "" && !found {
		return nil, fmt.Errorf("%w: mailbox %s", driver.ErrNotFound, mailbox)
	}

	m.logger.WithFields(logrus.Fields{
		"account": accountName,
		"folders": res.Folders,
		"created": res.Created,
		"updated": res.Updated,
	}).Info("Synced account")
	return res, nil
}

func (m *Manager) ensureStore(ctx context.Context, name string) (storeID, rootID []byte, err error) {
	storeID, rootID, err = m.db.FindStoreByName(ctx, name)
	if errors.Is(err, driver.ErrNotFound) {
		storeID, rootID, err = m.db.CreateStore(ctx, name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store for %s: %w", name, err)
	}
	return storeID, rootID, nil
}

// ensureFolder finds or creates the folder path of a mailbox below the IPM subtree.
func (m *Manager) ensureFolder(ctx context.Context, rootID []byte, mb Mailbox) ([]byte, error) {
	parts := []string{mb.Name}
	if mb.Delimiter != "" {
		parts = strings.Split(mb.Name, mb.Delimiter)
	}

	parent := rootID
	for _, part := range parts {
		if part == "" {
			continue
		}
		id, err := m.db.FindChildFolder(ctx, parent, part)
		if errors.Is(err, driver.ErrNotFound) {
			id, err = m.db.CreateFolder(ctx, parent, part, mailContainerClass)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open folder %s: %w", part, err)
		}
		parent = id
	}
	return parent, nil
}

func (m *Manager) syncMailbox(ctx context.Context, account *Account, storeID, rootID []byte, named []mapi.Tag, mb Mailbox, res *SyncResult) error {
	folderID, err := m.ensureFolder(ctx, rootID, mb)
	if err != nil {
		return err
	}
	if err := m.markSpecial(ctx, storeID, rootID, folderID, mb); err != nil {
		return err
	}

	messages, err := account.Source.FetchMessages(ctx, mb.Name, m.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	uidTag := named[0]
	for _, msg := range messages {
		props, err := messageProps(msg, named)
		if err != nil {
			return err
		}
		uid, err := uidValue(msg.UID)
		if err != nil {
			return err
		}

		existing, err := m.db.FindMessageByNamedValue(ctx, folderID, uidTag, uid)
		switch {
		case err == nil:
			if err := m.db.SetProps(ctx, existing, props); err != nil {
				return fmt.Errorf("failed to update message %d: %w", msg.UID, err)
			}
			res.Updated++
			m.metrics.StoreCall("import_update")
		case errors.Is(err, driver.ErrNotFound):
			if _, err := m.db.CreateMessage(ctx, folderID, props); err != nil {
				return fmt.Errorf("failed to create message %d: %w", msg.UID, err)
			}
			res.Created++
			m.metrics.StoreCall("import_create")
		default:
			return err
		}
	}
	res.Folders++

	m.logger.WithFields(logrus.Fields{
		"account": account.Config.Name,
		"folder":  mb.Name,
		"count":   len(messages),
	}).Info("Synced folder")
	return nil
}

// markSpecial records INBOX as the receive folder and special-use
// mailboxes in the entry id properties that name special folders.
func (m *Manager) markSpecial(ctx context.Context, storeID, rootID, folderID []byte, mb Mailbox) error {
	if strings.EqualFold(mb.Name, imap.InboxName) {
		if err := m.db.SetReceiveFolder(ctx, folderID); err != nil {
			return err
		}
	}
	for _, attr := range mb.Attributes {
		use, ok := specialUse[attr]
		if !ok {
			continue
		}
		target := rootID
		if use.onStore {
			target = storeID
		}
		prop := mapi.RawProp{Tag: use.tag, Data: folderID}
		if err := m.db.SetProps(ctx, target, []mapi.RawProp{prop}); err != nil {
			return fmt.Errorf("failed to mark %s: %w", attr, err)
		}
	}
	return nil
}

// Close closes all connections
func (m *Manager) Close() error {
	return m.accounts.Close()
}
