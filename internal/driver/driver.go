// Package driver defines the property-store interfaces the entity layer
// consumes. Implementations own the actual storage and change tracking.
package driver

import (
	"context"
	"errors"
	"slices"

	"github.com/brandon/mapi-bridge/internal/mapi"
)

var (
	// ErrNotFound is returned by OpenEntry-style calls for unknown entry ids.
	ErrNotFound = errors.New("entry not found")
	// ErrWrongType is returned when an entry id names an object of another kind.
	ErrWrongType = errors.New("entry has the wrong object type")
)

// Object is any addressable object in the store.
type Object interface {
	mapi.PropObject
	mapi.NameResolver
}

// Session is a logon to the store provider.
type Session interface {
	// StoresTable lists the message stores of the session.
	StoresTable(ctx context.Context) (Table, error)
	OpenStore(ctx context.Context, entryID []byte) (MsgStore, error)
}

// MsgStore is one message store.
type MsgStore interface {
	Object
	OpenFolder(ctx context.Context, entryID []byte) (Folder, error)
	OpenMessage(ctx context.Context, entryID []byte) (Message, error)
	// ReceiveFolder returns the entry id of the inbox, or nil when the store has none.
	ReceiveFolder(ctx context.Context) ([]byte, error)
}

// Folder is a container of folders and messages.
type Folder interface {
	Object
	HierarchyTable(ctx context.Context) (Table, error)
	ContentsTable(ctx context.Context) (Table, error)
}

// Message is a single item.
type Message interface {
	Object
}

// SortOrder sorts table rows on one column.
type SortOrder struct {
	Tag        mapi.Tag
	Descending bool
}

// Directives modify how a table is read. Two directive values are equal only
// when every field is identical.
type Directives struct {
	OrderBy []SortOrder
	Skip    int
	Take    int
}

// Equal compares directives structurally.
func (d Directives) Equal(o Directives) bool {
	return d.Skip == o.Skip && d.Take == o.Take && slices.Equal(d.OrderBy, o.OrderBy)
}

// ReadRequest describes one table read.
type ReadRequest struct {
	Columns    []mapi.Tag
	Sorts      []SortOrder
	Directives Directives
}

// Table is a row set over the children of an object.
type Table interface {
	// Read returns one row per child; each row has one raw property per column.
	Read(ctx context.Context, req ReadRequest) ([][]mapi.RawProp, error)
	// Subscribe registers fn for table-modified events. fn is called on a
	// store-owned goroutine, never from inside Subscribe or Read.
	Subscribe(ctx context.Context, fn func(Notification)) (Subscription, error)
}

// NotificationType classifies table events.
type NotificationType int

const (
	TableModified NotificationType = iota
	TableRowAdded
	TableRowDeleted
	TableRowModified
)

// Notification is a change event on a table.
type Notification struct {
	Type    NotificationType
	EntryID []byte
}

// Subscription is a live notification registration.
type Subscription interface {
	Unsubscribe() error
}
