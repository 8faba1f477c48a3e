// Package types holds the JSON shapes returned by the bridge tools.
package types

import "time"

// PropertyID identifies a property. Exactly one of ID, Name or LID is set.
type PropertyID struct {
	ID      *uint32 `json:"id,omitempty"`
	PropSet string  `json:"propset,omitempty"`
	Name    *string `json:"name,omitempty"`
	LID     *int32  `json:"lid,omitempty"`
}

// Column is an explicitly requested property with its expected type.
type Column struct {
	PropertyID
	Type string `json:"type"`
}

// Property is a decoded value. Binary values are hex encoded and date-times
// use RFC 3339. A nil Value means the property is absent.
type Property struct {
	PropertyID
	Kind  string `json:"kind,omitempty"`
	Value any    `json:"value"`
}

// Store is a message store.
type Store struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Columns []Property `json:"columns,omitempty"`
}

// Folder is a folder row.
type Folder struct {
	ID             string     `json:"id"`
	ParentID       string     `json:"parent_id,omitempty"`
	Name           string     `json:"name"`
	ContainerClass string     `json:"container_class,omitempty"`
	Count          int64      `json:"count"`
	Unread         int64      `json:"unread"`
	HasSubfolders  bool       `json:"has_subfolders"`
	Special        string     `json:"special,omitempty"`
	Modified       *time.Time `json:"modified,omitempty"`
}

// Item is a message row.
type Item struct {
	ID             string     `json:"id"`
	ParentID       string     `json:"parent_id"`
	Subject        string     `json:"subject"`
	Sender         string     `json:"sender"`
	To             string     `json:"to,omitempty"`
	Cc             string     `json:"cc,omitempty"`
	Preview        string     `json:"preview,omitempty"`
	Read           bool       `json:"read"`
	Received       *time.Time `json:"received,omitempty"`
	Modified       *time.Time `json:"modified,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Body           *string    `json:"body,omitempty"`
}

// Conversation groups the items of a folder sharing a conversation id.
type Conversation struct {
	ID       string    `json:"id"`
	Topic    string    `json:"topic"`
	ItemIDs  []string  `json:"item_ids"`
	Received time.Time `json:"received"`
}
