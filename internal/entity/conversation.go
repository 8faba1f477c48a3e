package entity

import (
	"context"
	"time"
	"weak"

	"github.com/brandon/mapi-bridge/internal/mapi"
)

// Conversation is a set of items of one folder sharing a conversation id.
// Items without a conversation id form a conversation of their own, keyed
// by the item entry id.
type Conversation struct {
	store weak.Pointer[Store]

	id       []byte
	topic    string
	itemIDs  [][]byte
	received time.Time
}

// groupConversations folds contents rows, already in display order, into
// conversations. A conversation takes the position, topic and time of its
// first row.
func groupConversations(store weak.Pointer[Store], rows [][]mapi.RawProp) []*Conversation {
	var convs []*Conversation
	byID := make(map[string]*Conversation)

	for _, row := range rows {
		itemID := binaryColumn(row, convColItemID)
		id := binaryColumn(row, convColID)
		if len(id) == 0 {
			id = itemID
		}

		conv, ok := byID[string(id)]
		if !ok {
			topic, _ := stringColumn(row, convColTopic)
			received, _ := timeColumn(row, convColReceived)
			conv = &Conversation{store: store, id: id, topic: topic, received: received}
			byID[string(id)] = conv
			convs = append(convs, conv)
		}
		conv.itemIDs = append(conv.itemIDs, itemID)
	}
	return convs
}

// ID returns the conversation id, or the entry id of its only item.
func (c *Conversation) ID() []byte {
	return c.id
}

// Topic returns the normalized subject shared by the conversation.
func (c *Conversation) Topic() string {
	return c.topic
}

// ItemIDs returns the entry ids of the conversation's items.
func (c *Conversation) ItemIDs() [][]byte {
	return c.itemIDs
}

// Received is the delivery time of the first item in display order.
func (c *Conversation) Received() time.Time {
	return c.received
}

// Items opens the conversation's items.
func (c *Conversation) Items(ctx context.Context) ([]*Item, error) {
	s := c.store.Value()
	if s == nil {
		return nil, ErrStoreReleased
	}
	items := make([]*Item, 0, len(c.itemIDs))
	for _, id := range c.itemIDs {
		item, err := s.OpenItem(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
