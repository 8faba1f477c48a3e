package mapi

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// ValueKind identifies the variant held by a Value.
type ValueKind int

const (
	KindInteger ValueKind = iota
	KindBoolean
	KindString
	KindGuid
	KindDateTime
	KindBinary
	KindStream
)

func (k ValueKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindGuid:
		return "guid"
	case KindDateTime:
		return "datetime"
	case KindBinary:
		return "binary"
	case KindStream:
		return "stream"
	}
	return "unknown"
}

// Value is a decoded property value. A nil Value means the property has no
// value the model can represent.
type Value interface {
	Kind() ValueKind
	// Clone returns a copy that shares no mutable memory with the receiver.
	Clone() Value
}

// IntValue holds PT_I2, PT_LONG and PT_I8 values.
type IntValue int64

func (IntValue) Kind() ValueKind { return KindInteger }
func (v IntValue) Clone() Value { return v }

// BoolValue holds a PT_BOOLEAN value.
type BoolValue bool

func (BoolValue) Kind() ValueKind { return KindBoolean }
func (v BoolValue) Clone() Value { return v }

// StringValue holds a PT_STRING8 or PT_UNICODE value.
type StringValue string

func (StringValue) Kind() ValueKind { return KindString }
func (v StringValue) Clone() Value { return v }

// GuidValue holds a PT_CLSID value.
type GuidValue uuid.UUID

func (GuidValue) Kind() ValueKind { return KindGuid }
func (v GuidValue) Clone() Value { return v }

// String formats the GUID in canonical form.
func (v GuidValue) String() string {
	return uuid.UUID(v).String()
}

// DateTimeValue holds a PT_SYSTIME value.
type DateTimeValue time.Time

func (DateTimeValue) Kind() ValueKind { return KindDateTime }
func (v DateTimeValue) Clone() Value { return v }

// Time returns the value as a time.Time.
func (v DateTimeValue) Time() time.Time {
	return time.Time(v)
}

// Equal reports whether both values name the same instant.
func (v DateTimeValue) Equal(o DateTimeValue) bool {
	return v.Time().Equal(o.Time())
}

// BinaryValue holds a PT_BINARY value.
type BinaryValue []byte

func (BinaryValue) Kind() ValueKind { return KindBinary }

// Clone returns a copy of the bytes.
func (v BinaryValue) Clone() Value {
	return BinaryValue(bytes.Clone(v))
}

// Property is an identifier paired with its decoded value. Value is nil when
// the property is absent or of a type the model does not represent.
type Property struct {
	ID    PropertyID
	Value Value
}

// Clone deep-copies the property.
func (p Property) Clone() Property {
	if p.Value == nil {
		return p
	}
	return Property{ID: p.ID, Value: p.Value.Clone()}
}
