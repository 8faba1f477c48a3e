package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
)

// entry is one row of the entries table.
type entry struct {
	id     []byte
	store  []byte
	parent []byte
	kind   entryKind
}

func (s *DB) entry(ctx context.Context, id []byte) (entry, error) {
	e := entry{id: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT store_id, parent_id, kind FROM entries WHERE id = ?", id,
	).Scan(&e.store, &e.parent, &e.kind)
	if errors.Is(err, sql.ErrNoRows) {
		return entry{}, fmt.Errorf("%w: %x", driver.ErrNotFound, id)
	}
	if err != nil {
		return entry{}, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

// object implements the property and name calls shared by stores, folders
// and messages.
type object struct {
	db    *DB
	entry entry
}

// loadProps returns every stored and computed property of e, keyed by id.
func (s *DB) loadProps(ctx context.Context, e entry) (map[uint16]mapi.RawProp, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT prop_id, prop_type, value FROM props WHERE entry_id = ?", e.id)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	props := make(map[uint16]mapi.RawProp)
	for rows.Next() {
		var id, typ int
		var value []byte
		if err := rows.Scan(&id, &typ, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		props[uint16(id)] = mapi.RawProp{Tag: mapi.PropTag(mapi.PropType(typ), uint16(id)), Data: value}
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}

	if err := s.computeProps(ctx, e, props); err != nil {
		return nil, err
	}
	return props, nil
}

// computeProps adds the properties derived from the entry tree.
func (s *DB) computeProps(ctx context.Context, e entry, props map[uint16]mapi.RawProp) error {
	props[mapi.TagEntryID.ID()] = mapi.RawProp{Tag: mapi.TagEntryID, Data: e.id}
	if len(e.parent) > 0 {
		props[mapi.TagParentEntryID.ID()] = mapi.RawProp{Tag: mapi.TagParentEntryID, Data: e.parent}
	}
	if e.kind != kindFolder {
		return nil
	}

	var count, unread, subfolders int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM entries WHERE parent_id = ?1 AND kind = ?2),
			(SELECT COUNT(*) FROM entries e
				LEFT JOIN props p ON p.entry_id = e.id AND p.prop_id = ?3
				WHERE e.parent_id = ?1 AND e.kind = ?2 AND (p.num IS NULL OR (p.num & ?4) = 0)),
			(SELECT COUNT(*) FROM entries WHERE parent_id = ?1 AND kind = ?5)
	`, e.id, kindMessage, mapi.TagMessageFlags.ID(), mapi.MessageFlagRead, kindFolder).Scan(&count, &unread, &subfolders)
	if err != nil {
		return fmt.Errorf("failed to count folder contents: %w", err)
	}

	for tag, v := range map[mapi.Tag]mapi.Value{
		mapi.TagContentCount:  mapi.IntValue(count),
		mapi.TagContentUnread: mapi.IntValue(unread),
		mapi.TagSubfolders:    mapi.BoolValue(subfolders > 0),
	} {
		raw, err := mapi.Encode(tag.ID(), v)
		if err != nil {
			return err
		}
		props[tag.ID()] = raw
	}
	return nil
}

// project returns the stored property for tag in the requested type, or a
// PT_ERROR property. With inline set, values above the inline limit are
// reported as MAPI_E_NOT_ENOUGH_MEMORY.
func (s *DB) project(props map[uint16]mapi.RawProp, tag mapi.Tag, inline bool) mapi.RawProp {
	stored, ok := props[tag.ID()]
	if !ok {
		return mapi.ErrorProp(tag.ID(), mapi.ErrCodeNotFound)
	}
	value, ok := coerce(stored, tag.Type())
	if !ok {
		return mapi.ErrorProp(tag.ID(), mapi.ErrCodeNotFound)
	}
	if inline && len(value.Data) > s.maxInline {
		return mapi.ErrorProp(tag.ID(), mapi.ErrCodeNotEnoughMemory)
	}
	return value
}

// coerce converts a stored property to the requested wire type. Only the two
// string types convert into each other; PT_UNSPECIFIED takes the stored type.
func coerce(stored mapi.RawProp, want mapi.PropType) (mapi.RawProp, bool) {
	have := stored.Tag.Type()
	if want == mapi.PtUnspecified || want == have {
		return stored, true
	}

	id := stored.Tag.ID()
	switch {
	case have == mapi.PtUnicode && want == mapi.PtString8:
		str, err := mapi.DecodeUTF16(stored.Data)
		if err != nil {
			return mapi.RawProp{}, false
		}
		return mapi.RawProp{Tag: mapi.PropTag(want, id), Data: []byte(str)}, true
	case have == mapi.PtString8 && want == mapi.PtUnicode:
		return mapi.RawProp{Tag: mapi.PropTag(want, id), Data: mapi.EncodeUTF16(string(stored.Data))}, true
	}
	return mapi.RawProp{}, false
}

// GetProps reads the requested properties of the entry, or all of them when tags is nil.
func (o *object) GetProps(ctx context.Context, tags []mapi.Tag) ([]mapi.RawProp, error) {
	props, err := o.db.loadProps(ctx, o.entry)
	if err != nil {
		return nil, err
	}

	if tags == nil {
		all := make([]mapi.RawProp, 0, len(props))
		for _, p := range props {
			all = append(all, o.db.project(props, p.Tag, true))
		}
		slices.SortFunc(all, func(a, b mapi.RawProp) int {
			return int(a.Tag.ID()) - int(b.Tag.ID())
		})
		return all, nil
	}

	out := make([]mapi.RawProp, len(tags))
	for i, tag := range tags {
		out[i] = o.db.project(props, tag, true)
	}
	return out, nil
}

// OpenPropertyStream opens a single stored property for reading.
func (o *object) OpenPropertyStream(ctx context.Context, tag mapi.Tag) (mapi.PropertyStream, error) {
	props, err := o.db.loadProps(ctx, o.entry)
	if err != nil {
		return nil, err
	}
	p := o.db.project(props, tag, false)
	if code, isErr := p.ErrorCode(); isErr {
		return nil, fmt.Errorf("%w: property %s (error 0x%08X)", driver.ErrNotFound, tag, code)
	}
	return &propStream{Reader: bytes.NewReader(p.Data), size: uint64(len(p.Data))}, nil
}

// propStream serves a property value from memory.
type propStream struct {
	*bytes.Reader
	size uint64
}

func (p *propStream) Size() (uint64, error) {
	return p.size, nil
}

func (p *propStream) Close() error {
	return nil
}

// GetIDsFromNames maps named ids to property tags, allocating missing ones.
func (o *object) GetIDsFromNames(ctx context.Context, names []mapi.NamedID) ([]mapi.Tag, error) {
	return o.db.idsFromNames(ctx, o.entry.store, names)
}

// GetNamesFromIDs maps named-range tags back to their names.
func (o *object) GetNamesFromIDs(ctx context.Context, tags []mapi.Tag) ([]*mapi.NamedID, error) {
	return o.db.namesFromIDs(ctx, o.entry.store, tags)
}

func (s *DB) idsFromNames(ctx context.Context, store []byte, names []mapi.NamedID) ([]mapi.Tag, error) {
	tags := make([]mapi.Tag, len(names))
	for i, name := range names {
		var id int
		err := s.db.QueryRowContext(ctx,
			"SELECT prop_id FROM named_props WHERE store_id = ? AND propset = ? AND kind = ? AND lid = ? AND name = ?",
			store, name.PropSet[:], name.Kind, lidOf(name), nameOf(name),
		).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			tags[i] = mapi.PropTag(mapi.PtError, 0)
		case err != nil:
			return nil, fmt.Errorf("failed to look up named property: %w", err)
		default:
			tags[i] = mapi.PropTag(mapi.PtUnspecified, uint16(id))
		}
	}
	return tags, nil
}

func (s *DB) namesFromIDs(ctx context.Context, store []byte, tags []mapi.Tag) ([]*mapi.NamedID, error) {
	names := make([]*mapi.NamedID, len(tags))
	for i, tag := range tags {
		var propset []byte
		var name mapi.NamedID
		err := s.db.QueryRowContext(ctx,
			"SELECT propset, kind, lid, name FROM named_props WHERE store_id = ? AND prop_id = ?",
			store, tag.ID(),
		).Scan(&propset, &name.Kind, &name.ID, &name.Name)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up property name: %w", err)
		}
		copy(name.PropSet[:], propset)
		names[i] = &name
	}
	return names, nil
}

func lidOf(n mapi.NamedID) int32 {
	if n.Kind == mapi.NameKindID {
		return n.ID
	}
	return 0
}

func nameOf(n mapi.NamedID) string {
	if n.Kind == mapi.NameKindString {
		return n.Name
	}
	return ""
}

type msgStore struct {
	object
}

// OpenFolder opens a folder of this store.
func (m *msgStore) OpenFolder(ctx context.Context, entryID []byte) (driver.Folder, error) {
	e, err := m.child(ctx, entryID, kindFolder)
	if err != nil {
		return nil, err
	}
	return &folder{object{db: m.db, entry: e}}, nil
}

// OpenMessage opens a message of this store.
func (m *msgStore) OpenMessage(ctx context.Context, entryID []byte) (driver.Message, error) {
	e, err := m.child(ctx, entryID, kindMessage)
	if err != nil {
		return nil, err
	}
	return &message{object{db: m.db, entry: e}}, nil
}

// child opens an entry of this store and checks its kind.
func (m *msgStore) child(ctx context.Context, entryID []byte, kind entryKind) (entry, error) {
	e, err := m.db.entry(ctx, entryID)
	if err != nil {
		return entry{}, err
	}
	if !bytes.Equal(e.store, m.entry.id) {
		return entry{}, fmt.Errorf("%w: %x belongs to another store", driver.ErrNotFound, entryID)
	}
	if e.kind != kind {
		return entry{}, fmt.Errorf("%w: %x is a %s", driver.ErrWrongType, entryID, e.kind)
	}
	return e, nil
}

// ReceiveFolder returns the entry id of the inbox, or nil.
func (m *msgStore) ReceiveFolder(ctx context.Context) ([]byte, error) {
	var id []byte
	err := m.db.db.QueryRowContext(ctx, "SELECT receive_folder FROM stores WHERE id = ?", m.entry.id).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to get receive folder: %w", err)
	}
	return id, nil
}

type folder struct {
	object
}

// HierarchyTable returns the table of child folders.
func (f *folder) HierarchyTable(ctx context.Context) (driver.Table, error) {
	return &table{db: f.db, kind: hierarchyTable, parent: f.entry.id}, nil
}

// ContentsTable returns the table of messages in the folder.
func (f *folder) ContentsTable(ctx context.Context) (driver.Table, error) {
	return &table{db: f.db, kind: contentsTable, parent: f.entry.id}, nil
}

type message struct {
	object
}
