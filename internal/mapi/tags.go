// Package mapi models property identifiers, tags and values of a
// hierarchical property store, and resolves and decodes them.
package mapi

import "fmt"

// PropType is the wire type carried in the low word of a property tag.
type PropType uint16

// Property data types
const (
	PtUnspecified PropType = 0x0000
	PtNull        PropType = 0x0001
	PtI2          PropType = 0x0002
	PtLong        PropType = 0x0003
	PtError       PropType = 0x000A
	PtBoolean     PropType = 0x000B
	PtI8          PropType = 0x0014
	PtString8     PropType = 0x001E
	PtUnicode     PropType = 0x001F
	PtSysTime     PropType = 0x0040
	PtCLSID       PropType = 0x0048
	PtBinary      PropType = 0x0102
)

// Tag is a property tag: numeric id in the high word, wire type in the low word.
type Tag uint32

// TagNull is the resolved tag for a property that could not be resolved.
const TagNull Tag = 0

// NamedIDThreshold is the first property id that belongs to the named range.
const NamedIDThreshold = 0x8000

// SCODE values reported inside PT_ERROR properties.
const (
	ErrCodeNotFound        uint32 = 0x8004010F
	ErrCodeNotEnoughMemory uint32 = 0x8007000E
)

// PropTag builds a tag from a wire type and a property id.
func PropTag(t PropType, id uint16) Tag {
	return Tag(uint32(id)<<16 | uint32(t))
}

// ID returns the property id.
func (t Tag) ID() uint16 {
	return uint16(uint32(t) >> 16)
}

// Type returns the wire type.
func (t Tag) Type() PropType {
	return PropType(uint32(t) & 0xFFFF)
}

// WithType returns the same property id with another wire type.
func (t Tag) WithType(pt PropType) Tag {
	return PropTag(pt, t.ID())
}

// IsNamed reports whether the tag's id falls in the named range.
func (t Tag) IsNamed() bool {
	return t.ID() >= NamedIDThreshold
}

func (t Tag) String() string {
	return fmt.Sprintf("0x%08X", uint32(t))
}

// Well-known property tags.
var (
	TagEntryID           = PropTag(PtBinary, 0x0FFF)
	TagParentEntryID     = PropTag(PtBinary, 0x0E09)
	TagDisplayName       = PropTag(PtUnicode, 0x3001)
	TagSubject           = PropTag(PtUnicode, 0x0037)
	TagConversationTopic = PropTag(PtUnicode, 0x0070)
	TagConversationID    = PropTag(PtBinary, 0x3013)
	TagSenderName        = PropTag(PtUnicode, 0x0C1A)
	TagSenderEmail       = PropTag(PtUnicode, 0x0C1F)
	TagDisplayCc         = PropTag(PtUnicode, 0x0E03)
	TagDisplayTo         = PropTag(PtUnicode, 0x0E04)
	TagDeliveryTime      = PropTag(PtSysTime, 0x0E06)
	TagMessageFlags      = PropTag(PtLong, 0x0E07)
	TagBody              = PropTag(PtUnicode, 0x1000)
	TagHTML              = PropTag(PtBinary, 0x1013)
	TagInternetMessageID = PropTag(PtUnicode, 0x1035)
	TagLastModified      = PropTag(PtSysTime, 0x3008)
	TagPreview           = PropTag(PtUnicode, 0x3FD9)
	TagContentCount      = PropTag(PtLong, 0x3602)
	TagContentUnread     = PropTag(PtLong, 0x3603)
	TagSubfolders        = PropTag(PtBoolean, 0x360A)
	TagContainerClass    = PropTag(PtUnicode, 0x3613)
	TagDefaultStore      = PropTag(PtBoolean, 0x3400)
	TagProviderName      = PropTag(PtUnicode, 0x3D13)

	TagIPMSubtreeEntryID     = PropTag(PtBinary, 0x35E0)
	TagIPMOutboxEntryID      = PropTag(PtBinary, 0x35E2)
	TagIPMWastebasketEntryID = PropTag(PtBinary, 0x35E3)
	TagIPMSentMailEntryID    = PropTag(PtBinary, 0x35E4)

	// These come from the Inbox, falling back to the IPM subtree.
	TagIPMAppointmentEntryID = PropTag(PtBinary, 0x36D0)
	TagIPMContactEntryID     = PropTag(PtBinary, 0x36D1)
	TagIPMTaskEntryID        = PropTag(PtBinary, 0x36D4)
	TagIPMArchiveEntryID     = PropTag(PtBinary, 0x35FF)
	TagIPMDraftsEntryID      = PropTag(PtBinary, 0x36D7)
)

// MessageFlagRead is set in PR_MESSAGE_FLAGS once a message has been read.
const MessageFlagRead = 0x00000001

// ColumnType is the value type a caller expects for an explicitly requested column.
type ColumnType int

const (
	ColumnInteger ColumnType = iota
	ColumnBoolean
	ColumnString
	ColumnGuid
	ColumnDateTime
	ColumnBinary
)

var columnWireTypes = [...]PropType{
	ColumnInteger:  PtLong,
	ColumnBoolean:  PtBoolean,
	ColumnString:   PtUnicode,
	ColumnGuid:     PtCLSID,
	ColumnDateTime: PtSysTime,
	ColumnBinary:   PtBinary,
}

// WireType maps the column type onto the wire type used for the fetch.
func (c ColumnType) WireType() (PropType, error) {
	if c < 0 || int(c) >= len(columnWireTypes) {
		return PtUnspecified, fmt.Errorf("%w: column type %d", ErrInconsistent, int(c))
	}
	return columnWireTypes[c], nil
}

// StreamEncoding returns the encoding used when the column has to be streamed.
func (c ColumnType) StreamEncoding() StreamEncoding {
	switch c {
	case ColumnBinary:
		return EncodingBinary
	case ColumnString:
		return EncodingUTF16
	default:
		return EncodingUnknown
	}
}

// ParseColumnType parses the lower-case name of a column type.
func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "integer", "int":
		return ColumnInteger, nil
	case "boolean", "bool":
		return ColumnBoolean, nil
	case "string":
		return ColumnString, nil
	case "guid":
		return ColumnGuid, nil
	case "datetime", "time":
		return ColumnDateTime, nil
	case "binary":
		return ColumnBinary, nil
	}
	return 0, fmt.Errorf("unknown column type: %s", s)
}
