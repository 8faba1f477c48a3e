package entity

import (
	"context"
	"fmt"
	"sync"
	"weak"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
	"github.com/brandon/mapi-bridge/internal/metrics"
)

// Store is one message store of the session. It owns the named property
// cache and the identity caches for its folders and items.
type Store struct {
	session driver.Session
	logger  *logrus.Logger
	metrics *metrics.Metrics

	id      []byte
	name    string
	columns []mapi.RawProp
	names   *mapi.IDCache
	self    weak.Pointer[Store]

	mu         sync.Mutex
	handle     driver.MsgStore
	rootID     []byte
	ipmSubtree driver.Folder
	storeProps []mapi.RawProp
	ipmProps   []mapi.RawProp
	inboxID    []byte
	inboxProps []mapi.RawProp
	special    map[SpecialFolder][]byte

	rootFolders collection[*Folder]
	folders     map[string]*Folder
	items       map[string]*Item
}

func newStore(session driver.Session, row []mapi.RawProp, logger *logrus.Logger, m *metrics.Metrics) *Store {
	columns := cloneRow(row)
	name, _ := stringColumn(columns, storeColName)
	names := mapi.NewIDCache()
	if m != nil {
		names.SetObserver(m)
	}

	s := &Store{
		session:     session,
		logger:      logger,
		metrics:     m,
		id:          binaryColumn(columns, storeColID),
		name:        name,
		columns:     columns,
		names:       names,
		rootFolders: collection[*Folder]{name: "root_folders"},
		folders:     make(map[string]*Folder),
		items:       make(map[string]*Item),
	}
	s.self = weak.Make(s)
	return s
}

// ID returns the store entry id.
func (s *Store) ID() []byte {
	return s.id
}

// Name returns the store display name.
func (s *Store) Name() string {
	return s.name
}

// Names exposes the store's named property cache.
func (s *Store) Names() *mapi.IDCache {
	return s.names
}

// Columns decodes the non-default columns of the store row.
func (s *Store) Columns(ctx context.Context) ([]mapi.Property, error) {
	return s.decodeColumns(ctx, s.columns, storeDefaultColumns)
}

func (s *Store) decodeColumns(ctx context.Context, row []mapi.RawProp, defaults int) ([]mapi.Property, error) {
	if len(row) < defaults {
		return nil, fmt.Errorf("%w: row has %d columns, want at least %d", mapi.ErrInconsistent, len(row), defaults)
	}
	handle, err := s.msgStore(ctx)
	if err != nil {
		return nil, err
	}
	return mapi.DecodeAll(ctx, handle, s.names, row[defaults:])
}

// RootID returns the entry id of the IPM subtree.
func (s *Store) RootID(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}
	return s.rootID, nil
}

func (s *Store) msgStore(ctx context.Context) (driver.MsgStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}
	return s.handle, nil
}

// openLocked opens the store and collects the special folder ids from the
// store, the IPM subtree and the inbox. Nothing is kept on failure.
func (s *Store) openLocked(ctx context.Context) error {
	if s.handle != nil {
		return nil
	}

	s.metrics.StoreCall("open_store")
	handle, err := s.session.OpenStore(ctx, s.id)
	if err != nil {
		return fmt.Errorf("failed to open store %x: %w", s.id, err)
	}

	s.metrics.StoreCall("get_props")
	storeProps, err := handle.GetProps(ctx, storeSpecialTags)
	if err != nil {
		return fmt.Errorf("failed to get store properties: %w", err)
	}
	if len(storeProps) != len(storeSpecialTags) {
		return fmt.Errorf("%w: store returned %d of %d properties", mapi.ErrInconsistent, len(storeProps), len(storeSpecialTags))
	}
	if storeProps[0].Tag != mapi.TagIPMSubtreeEntryID {
		return fmt.Errorf("%w: store %x has no IPM subtree", mapi.ErrInconsistent, s.id)
	}
	rootID := append([]byte(nil), storeProps[0].Data...)

	s.metrics.StoreCall("open_folder")
	ipmSubtree, err := handle.OpenFolder(ctx, rootID)
	if err != nil {
		return fmt.Errorf("failed to open IPM subtree: %w", err)
	}
	ipmProps, err := specialFolderProps(ctx, ipmSubtree)
	if err != nil {
		return err
	}

	var inboxID []byte
	var inboxProps []mapi.RawProp
	if id, err := handle.ReceiveFolder(ctx); err != nil {
		s.logger.WithError(err).WithField("store", s.name).Debug("Store has no receive folder")
	} else if len(id) > 0 {
		s.metrics.StoreCall("open_folder")
		inbox, err := handle.OpenFolder(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to open inbox: %w", err)
		}
		if inboxProps, err = specialFolderProps(ctx, inbox); err != nil {
			return err
		}
		inboxID = id
	}

	s.handle = handle
	s.rootID = rootID
	s.ipmSubtree = ipmSubtree
	s.storeProps = storeProps
	s.ipmProps = ipmProps
	s.inboxID = inboxID
	s.inboxProps = inboxProps

	s.logger.WithField("store", s.name).Debug("Opened store")
	return nil
}

func specialFolderProps(ctx context.Context, folder driver.Folder) ([]mapi.RawProp, error) {
	props, err := folder.GetProps(ctx, folderSpecialTags)
	if err != nil {
		return nil, fmt.Errorf("failed to get special folder properties: %w", err)
	}
	if len(props) != len(folderSpecialTags) {
		return nil, fmt.Errorf("%w: folder returned %d of %d properties", mapi.ErrInconsistent, len(props), len(folderSpecialTags))
	}
	return props, nil
}

// loadSpecialLocked fills the special folder map. The store properties win,
// then the inbox, then the IPM subtree.
func (s *Store) loadSpecialLocked(ctx context.Context) error {
	if s.special != nil {
		return nil
	}
	if err := s.openLocked(ctx); err != nil {
		return err
	}

	special := make(map[SpecialFolder][]byte)
	fill := func(kinds []SpecialFolder, props []mapi.RawProp) {
		for i, kind := range kinds {
			if i >= len(props) || props[i].Tag.Type() != mapi.PtBinary {
				continue
			}
			if _, ok := special[kind]; !ok {
				special[kind] = props[i].Data
			}
		}
	}

	fill(storeSpecialKinds, s.storeProps)
	if s.inboxProps != nil {
		special[Inbox] = s.inboxID
		fill(folderSpecialKinds, s.inboxProps)
	}
	fill(folderSpecialKinds, s.ipmProps)

	s.special = special
	return nil
}

// SpecialFolderIDs returns a copy of the special folder map.
func (s *Store) SpecialFolderIDs(ctx context.Context) (map[SpecialFolder][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSpecialLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[SpecialFolder][]byte, len(s.special))
	for k, v := range s.special {
		out[k] = v
	}
	return out, nil
}

// specialFolderOf reports which special folder id names, if any.
func (s *Store) specialFolderOf(ctx context.Context, id []byte) (SpecialFolder, bool, error) {
	ids, err := s.SpecialFolderIDs(ctx)
	if err != nil {
		return 0, false, err
	}
	for kind, specialID := range ids {
		if string(specialID) == string(id) {
			return kind, true, nil
		}
	}
	return 0, false, nil
}

// SpecialFolders opens the requested special folders. A kind the store does
// not have is an error.
func (s *Store) SpecialFolders(ctx context.Context, kinds []SpecialFolder) ([]*Folder, error) {
	ids, err := s.SpecialFolderIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*Folder, len(kinds))
	for i, kind := range kinds {
		id, ok := ids[kind]
		if !ok {
			return nil, fmt.Errorf("%w: special folder %s", ErrNotFound, kind)
		}
		if result[i], err = s.OpenFolder(ctx, id); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// LookupSpecialFolder returns the special folder, or nil if the store has none.
func (s *Store) LookupSpecialFolder(ctx context.Context, kind SpecialFolder) (*Folder, error) {
	ids, err := s.SpecialFolderIDs(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := ids[kind]
	if !ok {
		return nil, nil
	}
	return s.OpenFolder(ctx, id)
}

// RootFolders returns the child folders of the IPM subtree. With ids set,
// exactly those folders are returned and an unknown id is an error.
func (s *Store) RootFolders(ctx context.Context, ids [][]byte, dirs driver.Directives) ([]*Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folders, err := load(ctx, s, &s.rootFolders, dirs, (*Folder).ID, s.readRootFolders, (*Store).invalidateRootFolders, s.metrics)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		return folders, nil
	}
	return s.rootFolders.pick("root folder", ids)
}

// LookupRootFolder returns the root folder with id, or nil.
func (s *Store) LookupRootFolder(ctx context.Context, id []byte) (*Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := load(ctx, s, &s.rootFolders, s.rootFolders.directives, (*Folder).ID, s.readRootFolders, (*Store).invalidateRootFolders, s.metrics)
	if err != nil {
		return nil, err
	}
	folder, _ := s.rootFolders.lookup(id)
	return folder, nil
}

// readRootFolders runs with s.mu held.
func (s *Store) readRootFolders(ctx context.Context, dirs driver.Directives, watch func(driver.Table) error) ([]*Folder, error) {
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}

	s.metrics.StoreCall("hierarchy_table")
	table, err := s.ipmSubtree.HierarchyTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open root hierarchy table: %w", err)
	}

	if err := watch(table); err != nil {
		return nil, err
	}

	s.metrics.StoreCall("table_read")
	rows, err := table.Read(ctx, driver.ReadRequest{Columns: folderColumns, Sorts: folderSorts, Directives: dirs})
	if err != nil {
		return nil, fmt.Errorf("failed to read root hierarchy table: %w", err)
	}

	folders := make([]*Folder, 0, len(rows))
	for _, row := range rows {
		folders = append(folders, s.cacheFolderLocked(row, nil))
	}

	s.logger.WithFields(logrus.Fields{"store": s.name, "count": len(folders)}).Debug("Loaded root folders")
	return folders, nil
}

func (s *Store) invalidateRootFolders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootFolders.reset()
	s.metrics.Invalidated(s.rootFolders.name, "notification")
}

// cacheFolder returns the live folder for the row's id, creating it if needed.
func (s *Store) cacheFolder(row []mapi.RawProp, handle driver.Folder) *Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheFolderLocked(row, handle)
}

func (s *Store) cacheFolderLocked(row []mapi.RawProp, handle driver.Folder) *Folder {
	id := binaryColumn(row, folderColID)
	if folder, ok := s.folders[string(id)]; ok {
		return folder
	}
	folder := newFolder(s.self, row, handle)
	s.folders[string(id)] = folder
	return folder
}

func (s *Store) cacheItem(row []mapi.RawProp, handle driver.Message) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheItemLocked(row, handle)
}

func (s *Store) cacheItemLocked(row []mapi.RawProp, handle driver.Message) *Item {
	id := binaryColumn(row, itemColID)
	if item, ok := s.items[string(id)]; ok {
		return item
	}
	item := newItem(s.self, row, handle)
	s.items[string(id)] = item
	return item
}

// OpenFolder returns the folder with id; an empty id opens the IPM subtree.
func (s *Store) OpenFolder(ctx context.Context, id []byte) (*Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}
	if len(id) == 0 {
		id = s.rootID
	}
	if folder, ok := s.folders[string(id)]; ok {
		return folder, nil
	}

	s.metrics.StoreCall("open_folder")
	handle, err := s.handle.OpenFolder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to open folder %x: %w", id, err)
	}

	s.metrics.StoreCall("get_props")
	row, err := handle.GetProps(ctx, folderColumns)
	if err != nil {
		return nil, fmt.Errorf("failed to get folder properties: %w", err)
	}
	if len(row) != len(folderColumns) {
		return nil, fmt.Errorf("%w: folder returned %d of %d columns", mapi.ErrInconsistent, len(row), len(folderColumns))
	}
	return s.cacheFolderLocked(row, handle), nil
}

// OpenItem returns the item with id.
func (s *Store) OpenItem(ctx context.Context, id []byte) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.items[string(id)]; ok {
		return item, nil
	}
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}

	s.metrics.StoreCall("open_message")
	handle, err := s.handle.OpenMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to open item %x: %w", id, err)
	}

	s.metrics.StoreCall("get_props")
	row, err := handle.GetProps(ctx, itemColumns)
	if err != nil {
		return nil, fmt.Errorf("failed to get item properties: %w", err)
	}
	if len(row) != len(itemColumns) {
		return nil, fmt.Errorf("%w: item returned %d of %d columns", mapi.ErrInconsistent, len(row), len(itemColumns))
	}
	return s.cacheItemLocked(row, handle), nil
}

// FolderProperties reads properties of the folder with id.
func (s *Store) FolderProperties(ctx context.Context, id []byte, columns []mapi.Column) ([]mapi.Property, error) {
	folder, err := s.OpenFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	return folder.Properties(ctx, columns)
}

// ItemProperties reads properties of the item with id.
func (s *Store) ItemProperties(ctx context.Context, id []byte, columns []mapi.Column) ([]mapi.Property, error) {
	item, err := s.OpenItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.Properties(ctx, columns)
}

// FolderHierarchy walks the folders below parentID breadth first; an empty
// parentID starts at the IPM subtree. With onlyChildren only the direct
// children are returned.
func (s *Store) FolderHierarchy(ctx context.Context, parentID []byte, onlyChildren bool) ([]*Folder, error) {
	ancestor, err := s.OpenFolder(ctx, parentID)
	if err != nil {
		return nil, err
	}

	var result []*Folder
	queue := []*Folder{ancestor}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		children, err := next.SubFolders(ctx, nil, driver.Directives{})
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			result = append(result, child)
			if !onlyChildren && child.HasSubfolders() {
				queue = append(queue, child)
			}
		}
	}
	return result, nil
}

// properties runs the two-phase property fetch against obj, resolving names
// through the store.
func (s *Store) properties(ctx context.Context, obj mapi.PropObject, columns []mapi.Column) ([]mapi.Property, error) {
	handle, err := s.msgStore(ctx)
	if err != nil {
		return nil, err
	}
	props, err := mapi.GetProperties(ctx, obj, handle, s.names, columns)
	if err != nil {
		return nil, err
	}
	streams := 0
	for _, p := range props {
		if p.Value != nil && p.Value.Kind() == mapi.KindStream {
			streams++
		}
	}
	s.metrics.StreamFallback(streams)
	return props, nil
}

// ResolveNamed translates identifiers into tags through the store's cache.
func (s *Store) ResolveNamed(ctx context.Context, ids []mapi.PropertyID) ([]mapi.ResolvedTag, error) {
	handle, err := s.msgStore(ctx)
	if err != nil {
		return nil, err
	}
	return s.names.ResolveNamed(ctx, handle, ids)
}

// ResolveIDs translates numeric tags back into identifiers.
func (s *Store) ResolveIDs(ctx context.Context, tags []mapi.Tag) ([]mapi.ResolvedTag, error) {
	handle, err := s.msgStore(ctx)
	if err != nil {
		return nil, err
	}
	return s.names.ResolveIDs(ctx, handle, tags)
}

// ClearCaches forgets cached folders and items together with the root folder
// list that refers to them.
func (s *Store) ClearCaches() {
	s.mu.Lock()
	folders := s.folders
	s.folders = make(map[string]*Folder)
	s.items = make(map[string]*Item)
	if s.rootFolders.loaded {
		s.rootFolders.reset()
		s.metrics.Invalidated(s.rootFolders.name, "clear")
	}
	s.mu.Unlock()

	for _, folder := range folders {
		if err := folder.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to release folder subscriptions")
		}
	}
}

// Close releases every subscription held by the store and its folders.
func (s *Store) Close() error {
	s.ClearCaches()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootFolders.release()
}
