package entity

import (
	"context"
	"fmt"
	"sync"
	"time"
	"weak"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
)

// Folder is a cached folder of a store. There is at most one live Folder per
// entry id and store.
type Folder struct {
	store weak.Pointer[Store]

	id       []byte
	parentID []byte
	columns  []mapi.RawProp

	mu            sync.Mutex
	handle        driver.Folder
	subFolders    collection[*Folder]
	items         collection[*Item]
	conversations collection[*Conversation]
}

func newFolder(store weak.Pointer[Store], row []mapi.RawProp, handle driver.Folder) *Folder {
	columns := cloneRow(row)
	return &Folder{
		store:         store,
		id:            binaryColumn(columns, folderColID),
		parentID:      binaryColumn(columns, folderColParentID),
		columns:       columns,
		handle:        handle,
		subFolders:    collection[*Folder]{name: "sub_folders"},
		items:         collection[*Item]{name: "items"},
		conversations: collection[*Conversation]{name: "conversations"},
	}
}

// ID returns the folder entry id.
func (f *Folder) ID() []byte {
	return f.id
}

// ParentID returns the entry id of the parent folder.
func (f *Folder) ParentID() []byte {
	return f.parentID
}

// Name returns PR_DISPLAY_NAME.
func (f *Folder) Name() string {
	name, _ := stringColumn(f.columns, folderColName)
	return name
}

// ContainerClass returns PR_CONTAINER_CLASS, e.g. "IPF.Note".
func (f *Folder) ContainerClass() string {
	class, _ := stringColumn(f.columns, folderColContainerClass)
	return class
}

// Count returns the number of items in the folder.
func (f *Folder) Count() int64 {
	return intColumn(f.columns, folderColCount)
}

// Unread returns the number of unread items.
func (f *Folder) Unread() int64 {
	return intColumn(f.columns, folderColUnread)
}

// HasSubfolders reports PR_SUBFOLDERS.
func (f *Folder) HasSubfolders() bool {
	return boolColumn(f.columns, folderColSubfolders)
}

// Modified returns the last modification time, if the store reported one.
func (f *Folder) Modified() (time.Time, bool) {
	return timeColumn(f.columns, folderColModified)
}

func (f *Folder) owner() (*Store, error) {
	s := f.store.Value()
	if s == nil {
		return nil, ErrStoreReleased
	}
	return s, nil
}

// Store returns the owning store.
func (f *Folder) Store() (*Store, error) {
	return f.owner()
}

// Columns decodes the non-default columns of the folder row.
func (f *Folder) Columns(ctx context.Context) ([]mapi.Property, error) {
	s, err := f.owner()
	if err != nil {
		return nil, err
	}
	return s.decodeColumns(ctx, f.columns, folderDefaultColumns)
}

// openLocked opens the folder handle on first use. f.mu must be held.
func (f *Folder) openLocked(ctx context.Context) (*Store, driver.Folder, error) {
	s, err := f.owner()
	if err != nil {
		return nil, nil, err
	}
	if f.handle != nil {
		return s, f.handle, nil
	}
	store, err := s.msgStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.StoreCall("open_folder")
	handle, err := store.OpenFolder(ctx, f.id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open folder %x: %w", f.id, err)
	}
	f.handle = handle
	return s, handle, nil
}

// SubFolders returns the direct children. With ids set, exactly those
// folders are returned and an unknown id is an error.
func (f *Folder) SubFolders(ctx context.Context, ids [][]byte, dirs driver.Directives) ([]*Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	folders, err := f.loadSubFoldersLocked(ctx, dirs)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		return folders, nil
	}
	return f.subFolders.pick("folder", ids)
}

// LookupSubFolder returns the child folder with id, or nil.
func (f *Folder) LookupSubFolder(ctx context.Context, id []byte) (*Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.loadSubFoldersLocked(ctx, f.subFolders.directives); err != nil {
		return nil, err
	}
	folder, _ := f.subFolders.lookup(id)
	return folder, nil
}

func (f *Folder) loadSubFoldersLocked(ctx context.Context, dirs driver.Directives) ([]*Folder, error) {
	s, err := f.owner()
	if err != nil {
		return nil, err
	}
	return load(ctx, f, &f.subFolders, dirs, (*Folder).ID, f.readSubFolders, (*Folder).invalidateSubFolders, s.metrics)
}

func (f *Folder) readSubFolders(ctx context.Context, dirs driver.Directives, watch func(driver.Table) error) ([]*Folder, error) {
	s, handle, err := f.openLocked(ctx)
	if err != nil {
		return nil, err
	}

	s.metrics.StoreCall("hierarchy_table")
	table, err := handle.HierarchyTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open hierarchy table: %w", err)
	}

	if err := watch(table); err != nil {
		return nil, err
	}

	s.metrics.StoreCall("table_read")
	rows, err := table.Read(ctx, driver.ReadRequest{Columns: folderColumns, Sorts: folderSorts, Directives: dirs})
	if err != nil {
		return nil, fmt.Errorf("failed to read hierarchy table: %w", err)
	}

	folders := make([]*Folder, 0, len(rows))
	for _, row := range rows {
		folders = append(folders, s.cacheFolder(row, nil))
	}

	s.logger.WithFields(logrus.Fields{"folder": f.Name(), "count": len(folders)}).Debug("Loaded sub folders")
	return folders, nil
}

func (f *Folder) invalidateSubFolders() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subFolders.reset()
	if s := f.store.Value(); s != nil {
		s.metrics.Invalidated(f.subFolders.name, "notification")
	}
}

// Items returns the messages of the folder, newest first unless dirs say
// otherwise. With ids set, exactly those items are returned.
func (f *Folder) Items(ctx context.Context, ids [][]byte, dirs driver.Directives) ([]*Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.loadItemsLocked(ctx, dirs)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		return items, nil
	}
	return f.items.pick("item", ids)
}

// LookupItem returns the item with id, or nil.
func (f *Folder) LookupItem(ctx context.Context, id []byte) (*Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.loadItemsLocked(ctx, f.items.directives); err != nil {
		return nil, err
	}
	item, _ := f.items.lookup(id)
	return item, nil
}

func (f *Folder) loadItemsLocked(ctx context.Context, dirs driver.Directives) ([]*Item, error) {
	s, err := f.owner()
	if err != nil {
		return nil, err
	}
	return load(ctx, f, &f.items, dirs, (*Item).ID, f.readItems, (*Folder).invalidateItems, s.metrics)
}

func (f *Folder) readItems(ctx context.Context, dirs driver.Directives, watch func(driver.Table) error) ([]*Item, error) {
	s, table, err := f.contentsTable(ctx)
	if err != nil {
		return nil, err
	}

	if err := watch(table); err != nil {
		return nil, err
	}

	s.metrics.StoreCall("table_read")
	rows, err := table.Read(ctx, driver.ReadRequest{Columns: itemColumns, Sorts: itemSorts, Directives: dirs})
	if err != nil {
		return nil, fmt.Errorf("failed to read contents table: %w", err)
	}

	items := make([]*Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, s.cacheItem(row, nil))
	}

	s.logger.WithFields(logrus.Fields{"folder": f.Name(), "count": len(items)}).Debug("Loaded items")
	return items, nil
}

func (f *Folder) contentsTable(ctx context.Context) (*Store, driver.Table, error) {
	s, handle, err := f.openLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.StoreCall("contents_table")
	table, err := handle.ContentsTable(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open contents table: %w", err)
	}
	return s, table, nil
}

func (f *Folder) invalidateItems() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items.reset()
	if s := f.store.Value(); s != nil {
		s.metrics.Invalidated(f.items.name, "notification")
	}
}

// Conversations groups the folder contents by conversation id. With ids set,
// exactly those conversations are returned.
func (f *Folder) Conversations(ctx context.Context, ids [][]byte, dirs driver.Directives) ([]*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	convs, err := f.loadConversationsLocked(ctx, dirs)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		return convs, nil
	}
	return f.conversations.pick("conversation", ids)
}

// LookupConversation returns the conversation with id, or nil.
func (f *Folder) LookupConversation(ctx context.Context, id []byte) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.loadConversationsLocked(ctx, f.conversations.directives); err != nil {
		return nil, err
	}
	conv, _ := f.conversations.lookup(id)
	return conv, nil
}

func (f *Folder) loadConversationsLocked(ctx context.Context, dirs driver.Directives) ([]*Conversation, error) {
	s, err := f.owner()
	if err != nil {
		return nil, err
	}
	return load(ctx, f, &f.conversations, dirs, (*Conversation).ID, f.readConversations, (*Folder).invalidateConversations, s.metrics)
}

func (f *Folder) readConversations(ctx context.Context, dirs driver.Directives, watch func(driver.Table) error) ([]*Conversation, error) {
	s, table, err := f.contentsTable(ctx)
	if err != nil {
		return nil, err
	}

	if err := watch(table); err != nil {
		return nil, err
	}

	s.metrics.StoreCall("table_read")
	rows, err := table.Read(ctx, driver.ReadRequest{Columns: conversationColumns, Sorts: itemSorts, Directives: dirs})
	if err != nil {
		return nil, fmt.Errorf("failed to read contents table: %w", err)
	}

	convs := groupConversations(f.store, rows)
	s.logger.WithFields(logrus.Fields{"folder": f.Name(), "count": len(convs)}).Debug("Loaded conversations")
	return convs, nil
}

func (f *Folder) invalidateConversations() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations.reset()
	if s := f.store.Value(); s != nil {
		s.metrics.Invalidated(f.conversations.name, "notification")
	}
}

// Properties reads the requested columns from the folder object. With no
// columns every property is returned.
func (f *Folder) Properties(ctx context.Context, columns []mapi.Column) ([]mapi.Property, error) {
	f.mu.Lock()
	s, handle, err := f.openLocked(ctx)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.properties(ctx, handle, columns)
}

// ParentFolder returns the parent, or nil for the IPM subtree.
func (f *Folder) ParentFolder(ctx context.Context) (*Folder, error) {
	s, err := f.owner()
	if err != nil {
		return nil, err
	}
	rootID, err := s.RootID(ctx)
	if err != nil {
		return nil, err
	}
	if len(f.parentID) == 0 || string(f.id) == string(rootID) {
		return nil, nil
	}
	return s.OpenFolder(ctx, f.parentID)
}

// SpecialFolder reports whether the folder is one of the store's special folders.
func (f *Folder) SpecialFolder(ctx context.Context) (SpecialFolder, bool, error) {
	s, err := f.owner()
	if err != nil {
		return 0, false, err
	}
	return s.specialFolderOf(ctx, f.id)
}

// Close releases the folder's table subscriptions.
func (f *Folder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var first error
	for _, release := range []func() error{f.subFolders.release, f.items.release, f.conversations.release} {
		if err := release(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
