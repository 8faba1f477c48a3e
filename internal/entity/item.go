package entity

import (
	"context"
	"fmt"
	"sync"
	"time"
	"weak"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
)

// Item is a cached message of a store.
type Item struct {
	store weak.Pointer[Store]

	id       []byte
	parentID []byte
	columns  []mapi.RawProp

	mu     sync.Mutex
	handle driver.Message
}

func newItem(store weak.Pointer[Store], row []mapi.RawProp, handle driver.Message) *Item {
	columns := cloneRow(row)
	return &Item{
		store:    store,
		id:       binaryColumn(columns, itemColID),
		parentID: binaryColumn(columns, itemColParentID),
		columns:  columns,
		handle:   handle,
	}
}

// ID returns the item entry id.
func (i *Item) ID() []byte {
	return i.id
}

// ParentID returns the entry id of the folder holding the item.
func (i *Item) ParentID() []byte {
	return i.parentID
}

// Subject returns PR_SUBJECT.
func (i *Item) Subject() string {
	v, _ := stringColumn(i.columns, itemColSubject)
	return v
}

// Sender returns the sender display name.
func (i *Item) Sender() string {
	v, _ := stringColumn(i.columns, itemColSender)
	return v
}

// To returns the display list of primary recipients.
func (i *Item) To() string {
	v, _ := stringColumn(i.columns, itemColTo)
	return v
}

// Cc returns the display list of copied recipients.
func (i *Item) Cc() string {
	v, _ := stringColumn(i.columns, itemColCc)
	return v
}

// Preview returns the short body preview.
func (i *Item) Preview() string {
	v, _ := stringColumn(i.columns, itemColPreview)
	return v
}

// Read reports whether the read flag is set.
func (i *Item) Read() bool {
	return intColumn(i.columns, itemColFlags)&mapi.MessageFlagRead != 0
}

// Received returns the delivery time, if set.
func (i *Item) Received() (time.Time, bool) {
	return timeColumn(i.columns, itemColReceived)
}

// Modified returns the last modification time, if set.
func (i *Item) Modified() (time.Time, bool) {
	return timeColumn(i.columns, itemColModified)
}

// ConversationID returns the conversation the item belongs to, or nil.
func (i *Item) ConversationID() []byte {
	return binaryColumn(i.columns, itemColConversationID)
}

func (i *Item) owner() (*Store, error) {
	s := i.store.Value()
	if s == nil {
		return nil, ErrStoreReleased
	}
	return s, nil
}

// Columns decodes the non-default columns of the item row.
func (i *Item) Columns(ctx context.Context) ([]mapi.Property, error) {
	s, err := i.owner()
	if err != nil {
		return nil, err
	}
	return s.decodeColumns(ctx, i.columns, itemDefaultColumns)
}

func (i *Item) open(ctx context.Context) (*Store, driver.Message, error) {
	s, err := i.owner()
	if err != nil {
		return nil, nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.handle != nil {
		return s, i.handle, nil
	}
	store, err := s.msgStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.StoreCall("open_message")
	handle, err := store.OpenMessage(ctx, i.id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open item %x: %w", i.id, err)
	}
	i.handle = handle
	return s, handle, nil
}

// Properties reads the requested columns from the message object. With no
// columns every property is returned.
func (i *Item) Properties(ctx context.Context, columns []mapi.Column) ([]mapi.Property, error) {
	s, handle, err := i.open(ctx)
	if err != nil {
		return nil, err
	}
	return s.properties(ctx, handle, columns)
}

// Body returns the plain text body, reading it as a stream when it is too
// large for a bulk property call. An item without a body returns "".
func (i *Item) Body(ctx context.Context) (string, error) {
	props, err := i.Properties(ctx, []mapi.Column{{ID: mapi.NumericID(uint32(mapi.TagBody.ID())), Type: mapi.ColumnString}})
	if err != nil {
		return "", err
	}
	if len(props) == 0 || props[0].Value == nil {
		return "", nil
	}

	value := props[0].Value
	if stream, ok := value.(*mapi.StreamValue); ok {
		if value, err = stream.Materialize(); err != nil {
			return "", err
		}
	}
	body, ok := value.(mapi.StringValue)
	if !ok {
		return "", fmt.Errorf("%w: body has kind %s", mapi.ErrInconsistent, value.Kind())
	}
	return string(body), nil
}

// ParentFolder returns the folder holding the item.
func (i *Item) ParentFolder(ctx context.Context) (*Folder, error) {
	s, err := i.owner()
	if err != nil {
		return nil, err
	}
	return s.OpenFolder(ctx, i.parentID)
}
