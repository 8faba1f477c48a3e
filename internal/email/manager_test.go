package email

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/brandon/mapi-bridge/internal/config"
	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/entity"
	"github.com/brandon/mapi-bridge/internal/sqlstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mailboxes []Mailbox
	messages  map[string][]*Message
	failOn    string
	fetches   int
	closed    bool
}

func (s *fakeSource) ListMailboxes(ctx context.Context) ([]Mailbox, error) {
	return s.mailboxes, nil
}

func (s *fakeSource) FetchMessages(ctx context.Context, mailbox string, limit int) ([]*Message, error) {
	s.fetches++
	if mailbox == s.failOn {
		return nil, errors.New("connection reset")
	}
	msgs := s.messages[mailbox]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestManager(t *testing.T, limit int, sources map[string]*fakeSource) (*Manager, *sqlstore.DB) {
	t.Helper()
	logger := testLogger()
	db, err := sqlstore.Open(filepath.Join(t.TempDir(), "store.db"), sqlstore.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	accounts := &AccountManager{accounts: make(map[string]*Account)}
	for name, src := range sources {
		accounts.Add(&Account{Config: &config.AccountConfig{Name: name}, Source: src})
	}
	return NewManagerWithAccounts(accounts, db, limit, nil, logger), db
}

func workSource() *fakeSource {
	return &fakeSource{
		mailboxes: []Mailbox{
			{Name: "INBOX", Delimiter: "/"},
			{Name: "Sent", Delimiter: "/", Attributes: []string{imap.SentAttr}},
			{Name: "Drafts", Delimiter: "/", Attributes: []string{imap.DraftsAttr}},
			{Name: "Archive/2024", Delimiter: "/"},
		},
		messages: map[string][]*Message{
			"INBOX": {
				{UID: 1, Subject: "Launch plan", SenderEmail: "ada@example.com", BodyText: "first", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
				{UID: 2, Subject: "Re: Launch plan", SenderEmail: "bob@example.com", BodyText: "second", Seen: true},
			},
			"Sent": {
				{UID: 7, Subject: "Status"},
			},
		},
	}
}

func TestSyncAccount(t *testing.T) {
	ctx := context.Background()
	mgr, db := newTestManager(t, 100, map[string]*fakeSource{"work": workSource()})

	res, err := mgr.SyncAccount(ctx, "work", "")
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Account: "work", Folders: 4, Created: 3}, *res)

	q := entity.NewQuery(db.Session(), entity.Options{Logger: testLogger()})
	defer q.Close()

	stores, err := q.Stores(ctx, nil, driver.Directives{})
	require.NoError(t, err)
	require.Len(t, stores, 1)
	store := stores[0]
	assert.Equal(t, "work", store.Name())

	roots, err := store.RootFolders(ctx, nil, driver.Directives{})
	require.NoError(t, err)
	var names []string
	byName := make(map[string]*entity.Folder, len(roots))
	for _, f := range roots {
		names = append(names, f.Name())
		byName[f.Name()] = f
	}
	assert.Equal(t, []string{"Archive", "Drafts", "INBOX", "Sent"}, names)

	archive := byName["Archive"]
	assert.True(t, archive.HasSubfolders())
	subs, err := archive.SubFolders(ctx, nil, driver.Directives{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "2024", subs[0].Name())
	assert.Equal(t, mailContainerClass, subs[0].ContainerClass())

	special, err := store.SpecialFolders(ctx, []entity.SpecialFolder{entity.Inbox, entity.Sent, entity.Drafts})
	require.NoError(t, err)
	assert.Equal(t, byName["INBOX"].ID(), special[0].ID())
	assert.Equal(t, byName["Sent"].ID(), special[1].ID())
	assert.Equal(t, byName["Drafts"].ID(), special[2].ID())

	inbox := byName["INBOX"]
	assert.EqualValues(t, 2, inbox.Count())
	assert.EqualValues(t, 1, inbox.Unread())

	items, err := inbox.Items(ctx, nil, driver.Directives{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Launch plan", items[0].Subject())
	assert.False(t, items[0].Read())
	assert.True(t, items[1].Read())
	assert.Equal(t, items[0].ConversationID(), items[1].ConversationID())
	received, ok := items[0].Received()
	require.True(t, ok)
	assert.True(t, received.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	body, err := items[1].Body(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", body)

	convs, err := inbox.Conversations(ctx, nil, driver.Directives{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].ItemIDs(), 2)
}

func TestSyncAccountUpdatesByUID(t *testing.T) {
	ctx := context.Background()
	src := workSource()
	mgr, db := newTestManager(t, 100, map[string]*fakeSource{"work": src})

	_, err := mgr.SyncAccount(ctx, "work", "INBOX")
	require.NoError(t, err)

	src.messages["INBOX"][0].Seen = true
	src.messages["INBOX"] = append(src.messages["INBOX"], &Message{UID: 3, Subject: "New"})

	res, err := mgr.SyncAccount(ctx, "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Account: "work", Folders: 1, Created: 1, Updated: 2}, *res)

	q := entity.NewQuery(db.Session(), entity.Options{Logger: testLogger()})
	defer q.Close()
	store, err := q.LookupStore(ctx, mustStoreID(t, db, "work"))
	require.NoError(t, err)
	inbox, err := store.LookupSpecialFolder(ctx, entity.Inbox)
	require.NoError(t, err)
	assert.EqualValues(t, 3, inbox.Count())
	assert.EqualValues(t, 1, inbox.Unread())
}

func mustStoreID(t *testing.T, db *sqlstore.DB, name string) []byte {
	t.Helper()
	id, _, err := db.FindStoreByName(context.Background(), name)
	require.NoError(t, err)
	return id
}

func TestSyncAccountLimit(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 1, map[string]*fakeSource{"work": workSource()})

	res, err := mgr.SyncAccount(ctx, "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestSyncAccountErrors(t *testing.T) {
	ctx := context.Background()
	src := workSource()
	src.failOn = "Sent"
	mgr, _ := newTestManager(t, 100, map[string]*fakeSource{"work": src})

	_, err := mgr.SyncAccount(ctx, "home", "")
	assert.ErrorIs(t, err, ErrUnknownAccount)

	_, err = mgr.SyncAccount(ctx, "work", "Spam")
	assert.ErrorIs(t, err, driver.ErrNotFound)

	_, err = mgr.SyncAccount(ctx, "work", "Sent")
	assert.ErrorContains(t, err, "connection reset")

	// A failing mailbox is skipped when syncing everything.
	res, err := mgr.SyncAccount(ctx, "work", "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Folders)
}

func TestSyncAll(t *testing.T) {
	ctx := context.Background()
	work, home := workSource(), workSource()
	mgr, db := newTestManager(t, 100, map[string]*fakeSource{"work": work, "home": home})

	results, err := mgr.SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "home", results[0].Account)
	assert.Equal(t, "work", results[1].Account)
	assert.Equal(t, 3, results[1].Created)

	for _, name := range []string{"home", "work"} {
		mustStoreID(t, db, name)
	}

	require.NoError(t, mgr.Close())
	assert.True(t, work.closed)
	assert.True(t, home.closed)
}
