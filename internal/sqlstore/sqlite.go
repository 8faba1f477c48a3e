// Package sqlstore is a property store backed by SQLite. It implements the
// driver interfaces for reading and a small writer API for importers.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/brandon/mapi-bridge/internal/driver"
)

// DefaultMaxInlineSize is the largest value returned by a bulk property call.
const DefaultMaxInlineSize = 32 * 1024

type entryKind int

const (
	kindStore entryKind = iota
	kindFolder
	kindMessage
)

func (k entryKind) String() string {
	switch k {
	case kindStore:
		return "store"
	case kindFolder:
		return "folder"
	case kindMessage:
		return "message"
	}
	return fmt.Sprintf("entryKind(%d)", int(k))
}

// Options configures a DB.
type Options struct {
	// MaxInlineSize is the value size above which GetProps reports
	// MAPI_E_NOT_ENOUGH_MEMORY. Zero means DefaultMaxInlineSize.
	MaxInlineSize int
	Logger        *logrus.Logger
}

// DB is an open property store.
type DB struct {
	db        *sql.DB
	logger    *logrus.Logger
	maxInline int
	notifier  *notifier
}

// Open opens or creates the store at path.
func Open(path string, opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	maxInline := opts.MaxInlineSize
	if maxInline <= 0 {
		maxInline = DefaultMaxInlineSize
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps the foreign key pragma in effect and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &DB{
		db:        db,
		logger:    logger,
		maxInline: maxInline,
		notifier:  newNotifier(logger),
	}

	logger.WithFields(logrus.Fields{
		"path":       path,
		"max_inline": humanize.IBytes(uint64(maxInline)),
	}).Info("Property store opened")
	return s, nil
}

// Close stops notification delivery and closes the database.
func (s *DB) Close() error {
	s.notifier.close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Session returns a logon to every store in the database.
func (s *DB) Session() driver.Session {
	return &session{db: s}
}

type session struct {
	db *DB
}

// StoresTable returns the table of message stores.
func (s *session) StoresTable(ctx context.Context) (driver.Table, error) {
	return &table{db: s.db, kind: storesTable}, nil
}

// OpenStore opens the store with the given entry id.
func (s *session) OpenStore(ctx context.Context, entryID []byte) (driver.MsgStore, error) {
	e, err := s.db.entry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.kind != kindStore {
		return nil, fmt.Errorf("%w: %x is a %s", driver.ErrWrongType, entryID, e.kind)
	}
	return &msgStore{object{db: s.db, entry: e}}, nil
}
