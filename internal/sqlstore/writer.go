package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
)

const (
	providerName = "SQLite property store"
	rootName     = "Top of Information Store"
)

func newEntryID() []byte {
	id := uuid.New()
	return id[:]
}

func (s *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, id, store, parent []byte, kind entryKind) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO entries (id, store_id, parent_id, kind) VALUES (?, ?, ?, ?)",
		id, store, nullable(parent), kind,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	return nil
}

// upsertProps writes props and stamps PR_LAST_MODIFICATION_TIME.
func upsertProps(ctx context.Context, tx *sql.Tx, id []byte, props []mapi.RawProp) error {
	modified, err := mapi.Encode(mapi.TagLastModified.ID(), mapi.DateTimeValue(time.Now().UTC()))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO props (entry_id, prop_id, prop_type, value, num)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entry_id, prop_id) DO UPDATE SET
			prop_type = excluded.prop_type,
			value = excluded.value,
			num = excluded.num
	`
	for _, p := range append(props[:len(props):len(props)], modified) {
		switch p.Tag.ID() {
		case mapi.TagEntryID.ID(), mapi.TagParentEntryID.ID(), mapi.TagContentCount.ID(),
			mapi.TagContentUnread.ID(), mapi.TagSubfolders.ID():
			return fmt.Errorf("property %s is computed and cannot be set", p.Tag)
		}
		if p.Tag.Type() == mapi.PtError || p.Tag.Type() == mapi.PtUnspecified {
			return fmt.Errorf("property %s has no storable type", p.Tag)
		}

		if _, err := tx.ExecContext(ctx, query, id, p.Tag.ID(), p.Tag.Type(), p.Data, numeric(p)); err != nil {
			return fmt.Errorf("failed to upsert property %s: %w", p.Tag, err)
		}
	}
	return nil
}

// numeric mirrors integer and boolean payloads into the num column.
func numeric(p mapi.RawProp) any {
	v, err := mapi.Decode(p)
	if err != nil {
		return nil
	}
	switch v := v.(type) {
	case mapi.IntValue:
		return int64(v)
	case mapi.BoolValue:
		if v {
			return int64(1)
		}
		return int64(0)
	}
	return nil
}

// nullable maps an empty id to SQL NULL.
func nullable(id []byte) any {
	if len(id) == 0 {
		return nil
	}
	return id
}

func stringProp(tag mapi.Tag, s string) mapi.RawProp {
	return mapi.RawProp{Tag: tag.WithType(mapi.PtUnicode), Data: mapi.EncodeUTF16(s)}
}

// CreateStore creates a store and its IPM subtree. It returns the store and
// subtree entry ids.
func (s *DB) CreateStore(ctx context.Context, name string) (storeID, rootID []byte, err error) {
	storeID, rootID = newEntryID(), newEntryID()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var stores int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM stores").Scan(&stores); err != nil {
			return fmt.Errorf("failed to count stores: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO stores (id, name, root_id) VALUES (?, ?, ?)", storeID, name, rootID); err != nil {
			return fmt.Errorf("failed to insert store: %w", err)
		}
		if err := insertEntry(ctx, tx, storeID, storeID, nil, kindStore); err != nil {
			return err
		}
		if err := insertEntry(ctx, tx, rootID, storeID, nil, kindFolder); err != nil {
			return err
		}

		defaultStore, _ := mapi.Encode(mapi.TagDefaultStore.ID(), mapi.BoolValue(stores == 0))
		if err := upsertProps(ctx, tx, storeID, []mapi.RawProp{
			stringProp(mapi.TagDisplayName, name),
			stringProp(mapi.TagProviderName, providerName),
			defaultStore,
			{Tag: mapi.TagIPMSubtreeEntryID, Data: rootID},
		}); err != nil {
			return err
		}
		return upsertProps(ctx, tx, rootID, []mapi.RawProp{stringProp(mapi.TagDisplayName, rootName)})
	})
	if err != nil {
		return nil, nil, err
	}

	s.notifier.publish(driver.TableRowAdded, storeID, tableKey(storesTable, nil))
	s.logger.WithField("store", name).Info("Created store")
	return storeID, rootID, nil
}

// CreateFolder creates a folder below parentID.
func (s *DB) CreateFolder(ctx context.Context, parentID []byte, name, containerClass string) ([]byte, error) {
	parent, err := s.entry(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.kind != kindFolder {
		return nil, fmt.Errorf("%w: parent %x is a %s", driver.ErrWrongType, parentID, parent.kind)
	}

	id := newEntryID()
	props := []mapi.RawProp{stringProp(mapi.TagDisplayName, name)}
	if containerClass != "" {
		props = append(props, stringProp(mapi.TagContainerClass, containerClass))
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertEntry(ctx, tx, id, parent.store, parentID, kindFolder); err != nil {
			return err
		}
		return upsertProps(ctx, tx, id, props)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.publish(driver.TableRowAdded, id, tableKey(hierarchyTable, parentID))
	if len(parent.parent) > 0 {
		s.notifier.publish(driver.TableRowModified, parentID, tableKey(hierarchyTable, parent.parent))
	}
	return id, nil
}

// CreateMessage creates a message in folderID.
func (s *DB) CreateMessage(ctx context.Context, folderID []byte, props []mapi.RawProp) ([]byte, error) {
	parent, err := s.entry(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if parent.kind != kindFolder {
		return nil, fmt.Errorf("%w: parent %x is a %s", driver.ErrWrongType, folderID, parent.kind)
	}

	id := newEntryID()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertEntry(ctx, tx, id, parent.store, folderID, kindMessage); err != nil {
			return err
		}
		return upsertProps(ctx, tx, id, props)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.publish(driver.TableRowAdded, id, tableKey(contentsTable, folderID))
	if len(parent.parent) > 0 {
		s.notifier.publish(driver.TableRowModified, folderID, tableKey(hierarchyTable, parent.parent))
	}
	return id, nil
}

// containers returns the table keys whose rows show e.
func containers(e entry, grandparent []byte) []string {
	switch e.kind {
	case kindStore:
		return []string{tableKey(storesTable, nil)}
	case kindFolder:
		if len(e.parent) == 0 {
			return nil
		}
		return []string{tableKey(hierarchyTable, e.parent)}
	}
	keys := []string{tableKey(contentsTable, e.parent)}
	if len(grandparent) > 0 {
		keys = append(keys, tableKey(hierarchyTable, grandparent))
	}
	return keys
}

func (s *DB) grandparent(ctx context.Context, e entry) ([]byte, error) {
	if e.kind != kindMessage || len(e.parent) == 0 {
		return nil, nil
	}
	parent, err := s.entry(ctx, e.parent)
	if err != nil {
		return nil, err
	}
	return parent.parent, nil
}

// SetProps writes properties of an existing entry.
func (s *DB) SetProps(ctx context.Context, entryID []byte, props []mapi.RawProp) error {
	e, err := s.entry(ctx, entryID)
	if err != nil {
		return err
	}
	gp, err := s.grandparent(ctx, e)
	if err != nil {
		return err
	}

	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertProps(ctx, tx, entryID, props)
	}); err != nil {
		return err
	}

	s.notifier.publish(driver.TableRowModified, entryID, containers(e, gp)...)
	return nil
}

// DeleteEntry removes an entry and everything below it. Deleting a store
// entry removes the whole store.
func (s *DB) DeleteEntry(ctx context.Context, entryID []byte) error {
	e, err := s.entry(ctx, entryID)
	if err != nil {
		return err
	}
	gp, err := s.grandparent(ctx, e)
	if err != nil {
		return err
	}

	query := "DELETE FROM entries WHERE id = ?"
	if e.kind == kindStore {
		query = "DELETE FROM stores WHERE id = ?"
	}
	if _, err := s.db.ExecContext(ctx, query, entryID); err != nil {
		return fmt.Errorf("failed to delete %s: %w", e.kind, err)
	}

	keys := containers(e, gp)
	if e.kind == kindFolder && len(e.parent) > 0 {
		if p, err := s.entry(ctx, e.parent); err == nil && len(p.parent) > 0 {
			keys = append(keys, tableKey(hierarchyTable, p.parent))
		}
	}
	s.notifier.publish(driver.TableRowDeleted, entryID, keys...)
	return nil
}

// SetReceiveFolder makes folderID the inbox of its store.
func (s *DB) SetReceiveFolder(ctx context.Context, folderID []byte) error {
	e, err := s.entry(ctx, folderID)
	if err != nil {
		return err
	}
	if e.kind != kindFolder {
		return fmt.Errorf("%w: %x is a %s", driver.ErrWrongType, folderID, e.kind)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE stores SET receive_folder = ? WHERE id = ?", folderID, e.store); err != nil {
		return fmt.Errorf("failed to set receive folder: %w", err)
	}
	return nil
}

// RegisterNames returns the ids of names in storeID, allocating ids in the
// named range for names that have none yet.
func (s *DB) RegisterNames(ctx context.Context, storeID []byte, names []mapi.NamedID) ([]mapi.Tag, error) {
	tags := make([]mapi.Tag, len(names))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, name := range names {
			var id int
			err := tx.QueryRowContext(ctx,
				"SELECT prop_id FROM named_props WHERE store_id = ? AND propset = ? AND kind = ? AND lid = ? AND name = ?",
				storeID, name.PropSet[:], name.Kind, lidOf(name), nameOf(name),
			).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				if err := tx.QueryRowContext(ctx,
					"SELECT COALESCE(MAX(prop_id), ?) + 1 FROM named_props WHERE store_id = ?",
					mapi.NamedIDThreshold-1, storeID,
				).Scan(&id); err != nil {
					return fmt.Errorf("failed to allocate named property id: %w", err)
				}
				if id > 0xFFFE {
					return fmt.Errorf("named property range of store %x is exhausted", storeID)
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO named_props (store_id, prop_id, propset, kind, lid, name) VALUES (?, ?, ?, ?, ?, ?)",
					storeID, id, name.PropSet[:], name.Kind, lidOf(name), nameOf(name),
				); err != nil {
					return fmt.Errorf("failed to register named property %s: %w", name, err)
				}
			} else if err != nil {
				return fmt.Errorf("failed to look up named property: %w", err)
			}
			tags[i] = mapi.PropTag(mapi.PtUnspecified, uint16(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// FindStoreByName returns the store and IPM subtree ids of the named store.
func (s *DB) FindStoreByName(ctx context.Context, name string) (storeID, rootID []byte, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT id, root_id FROM stores WHERE name = ?", name).Scan(&storeID, &rootID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: store %s", driver.ErrNotFound, name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find store: %w", err)
	}
	return storeID, rootID, nil
}

// FindChildFolder returns the child folder of parentID with the given display name.
func (s *DB) FindChildFolder(ctx context.Context, parentID []byte, name string) ([]byte, error) {
	var id []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT e.id FROM entries e
		JOIN props p ON p.entry_id = e.id AND p.prop_id = ?
		WHERE e.parent_id = ? AND e.kind = ? AND p.value = ?
		LIMIT 1
	`, mapi.TagDisplayName.ID(), parentID, kindFolder, mapi.EncodeUTF16(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: folder %s", driver.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find folder: %w", err)
	}
	return id, nil
}

// FindMessageByNamedValue returns the message of folderID whose property
// tag holds exactly value.
func (s *DB) FindMessageByNamedValue(ctx context.Context, folderID []byte, tag mapi.Tag, value []byte) ([]byte, error) {
	var id []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT e.id FROM entries e
		JOIN props p ON p.entry_id = e.id AND p.prop_id = ?
		WHERE e.parent_id = ? AND e.kind = ? AND p.value = ?
		LIMIT 1
	`, tag.ID(), folderID, kindMessage, value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message with %s", driver.ErrNotFound, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return id, nil
}
