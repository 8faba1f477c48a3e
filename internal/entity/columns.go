package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
)

// Store row columns; the first storeDefaultColumns are read by accessors.
var storeColumns = []mapi.Tag{
	mapi.TagEntryID,
	mapi.TagDisplayName,
	mapi.TagDefaultStore,
	mapi.TagProviderName,
}

const (
	storeColID = iota
	storeColName
	storeDefaultColumns
)

var storeSorts = []driver.SortOrder{{Tag: mapi.TagDisplayName}}

var folderColumns = []mapi.Tag{
	mapi.TagEntryID,
	mapi.TagParentEntryID,
	mapi.TagDisplayName,
	mapi.TagContainerClass,
	mapi.TagContentCount,
	mapi.TagContentUnread,
	mapi.TagSubfolders,
	mapi.TagLastModified,
}

const (
	folderColID = iota
	folderColParentID
	folderColName
	folderColContainerClass
	folderColCount
	folderColUnread
	folderColSubfolders
	folderColModified
	folderDefaultColumns
)

var folderSorts = []driver.SortOrder{{Tag: mapi.TagDisplayName}}

var itemColumns = []mapi.Tag{
	mapi.TagEntryID,
	mapi.TagParentEntryID,
	mapi.TagSubject,
	mapi.TagSenderName,
	mapi.TagDisplayTo,
	mapi.TagDisplayCc,
	mapi.TagMessageFlags,
	mapi.TagDeliveryTime,
	mapi.TagLastModified,
	mapi.TagPreview,
	mapi.TagConversationID,
	mapi.TagSenderEmail,
	mapi.TagInternetMessageID,
}

const (
	itemColID = iota
	itemColParentID
	itemColSubject
	itemColSender
	itemColTo
	itemColCc
	itemColFlags
	itemColReceived
	itemColModified
	itemColPreview
	itemColConversationID
	itemDefaultColumns
)

var itemSorts = []driver.SortOrder{{Tag: mapi.TagDeliveryTime, Descending: true}}

var conversationColumns = []mapi.Tag{
	mapi.TagEntryID,
	mapi.TagConversationID,
	mapi.TagConversationTopic,
	mapi.TagDeliveryTime,
}

const (
	convColItemID = iota
	convColID
	convColTopic
	convColReceived
)

// Special folder entry ids read from the store object.
var storeSpecialTags = []mapi.Tag{
	mapi.TagIPMSubtreeEntryID,
	mapi.TagIPMWastebasketEntryID,
	mapi.TagIPMOutboxEntryID,
	mapi.TagIPMSentMailEntryID,
}

// Special folder entry ids read from the inbox, then the IPM subtree.
var folderSpecialTags = []mapi.Tag{
	mapi.TagIPMAppointmentEntryID,
	mapi.TagIPMContactEntryID,
	mapi.TagIPMTaskEntryID,
	mapi.TagIPMArchiveEntryID,
	mapi.TagIPMDraftsEntryID,
}

// SpecialFolder names a well-known folder of a store.
type SpecialFolder int

const (
	IPMSubtree SpecialFolder = iota
	Inbox
	Deleted
	Outbox
	Sent
	Calendar
	Contacts
	Tasks
	Archive
	Drafts
)

var specialFolderNames = [...]string{
	IPMSubtree: "IPM_SUBTREE",
	Inbox:      "INBOX",
	Deleted:    "DELETED",
	Outbox:     "OUTBOX",
	Sent:       "SENT",
	Calendar:   "CALENDAR",
	Contacts:   "CONTACTS",
	Tasks:      "TASKS",
	Archive:    "ARCHIVE",
	Drafts:     "DRAFTS",
}

func (s SpecialFolder) String() string {
	if s < 0 || int(s) >= len(specialFolderNames) {
		return fmt.Sprintf("SpecialFolder(%d)", int(s))
	}
	return specialFolderNames[s]
}

// ParseSpecialFolder accepts the upper- or lower-case folder name.
func ParseSpecialFolder(name string) (SpecialFolder, error) {
	for i, n := range specialFolderNames {
		if strings.EqualFold(n, name) {
			return SpecialFolder(i), nil
		}
	}
	return 0, fmt.Errorf("unknown special folder: %s", name)
}

var (
	storeSpecialKinds  = []SpecialFolder{IPMSubtree, Deleted, Outbox, Sent}
	folderSpecialKinds = []SpecialFolder{Calendar, Contacts, Tasks, Archive, Drafts}
)

func column(row []mapi.RawProp, idx int, want mapi.PropType) (mapi.Value, bool) {
	if idx >= len(row) || row[idx].Tag.Type() != want {
		return nil, false
	}
	v, err := mapi.Decode(row[idx])
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

func binaryColumn(row []mapi.RawProp, idx int) []byte {
	if v, ok := column(row, idx, mapi.PtBinary); ok {
		return []byte(v.(mapi.BinaryValue))
	}
	return nil
}

func stringColumn(row []mapi.RawProp, idx int) (string, bool) {
	if v, ok := column(row, idx, mapi.PtUnicode); ok {
		return string(v.(mapi.StringValue)), true
	}
	if v, ok := column(row, idx, mapi.PtString8); ok {
		return string(v.(mapi.StringValue)), true
	}
	return "", false
}

func intColumn(row []mapi.RawProp, idx int) int64 {
	if v, ok := column(row, idx, mapi.PtLong); ok {
		return int64(v.(mapi.IntValue))
	}
	return 0
}

func boolColumn(row []mapi.RawProp, idx int) bool {
	if v, ok := column(row, idx, mapi.PtBoolean); ok {
		return bool(v.(mapi.BoolValue))
	}
	return false
}

func timeColumn(row []mapi.RawProp, idx int) (time.Time, bool) {
	if v, ok := column(row, idx, mapi.PtSysTime); ok {
		return v.(mapi.DateTimeValue).Time(), true
	}
	return time.Time{}, false
}

func cloneRow(row []mapi.RawProp) []mapi.RawProp {
	out := make([]mapi.RawProp, len(row))
	for i, p := range row {
		out[i] = p.Clone()
	}
	return out
}
