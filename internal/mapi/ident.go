package mapi

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NameKind selects which half of a named identifier is meaningful.
type NameKind uint32

const (
	NameKindID     NameKind = 0 // MNID_ID
	NameKindString NameKind = 1 // MNID_STRING
)

// Well-known property sets.
var (
	PSPublicStrings   = uuid.MustParse("00020329-0000-0000-c000-000000000046")
	PSInternetHeaders = uuid.MustParse("00020386-0000-0000-c000-000000000046")
	PSetIDCommon      = uuid.MustParse("00062008-0000-0000-c000-000000000046")
)

// NamedID addresses a property by property set, kind and local value.
// It is a plain comparable value and is used directly as a map key.
type NamedID struct {
	PropSet uuid.UUID
	Kind    NameKind
	ID      int32
	Name    string
}

// NamedInt builds an MNID_ID identifier.
func NamedInt(propSet uuid.UUID, id int32) NamedID {
	return NamedID{PropSet: propSet, Kind: NameKindID, ID: id}
}

// NamedString builds an MNID_STRING identifier.
func NamedString(propSet uuid.UUID, name string) NamedID {
	return NamedID{PropSet: propSet, Kind: NameKindString, Name: name}
}

// Compare orders by property set bytes, then kind, then local value.
func (n NamedID) Compare(o NamedID) int {
	if c := bytes.Compare(n.PropSet[:], o.PropSet[:]); c != 0 {
		return c
	}
	if n.Kind != o.Kind {
		return cmp.Compare(n.Kind, o.Kind)
	}
	if n.Kind == NameKindID {
		return cmp.Compare(n.ID, o.ID)
	}
	return strings.Compare(n.Name, o.Name)
}

func (n NamedID) String() string {
	if n.Kind == NameKindString {
		return fmt.Sprintf("{%s}:%q", n.PropSet, n.Name)
	}
	return fmt.Sprintf("{%s}:0x%X", n.PropSet, n.ID)
}

// PropertyID is either a well-known numeric id or a named identifier.
type PropertyID struct {
	numeric uint32
	named   *NamedID
}

// NumericID wraps a well-known property id.
func NumericID(id uint32) PropertyID {
	return PropertyID{numeric: id}
}

// Named wraps a named identifier. The value is copied.
func Named(n NamedID) PropertyID {
	return PropertyID{named: &n}
}

// IsNamed reports whether this is a named identifier.
func (p PropertyID) IsNamed() bool {
	return p.named != nil
}

// Numeric returns the numeric id; zero for named identifiers.
func (p PropertyID) Numeric() uint32 {
	return p.numeric
}

// Name returns the named identifier and true, or false for numeric ids.
func (p PropertyID) Name() (NamedID, bool) {
	if p.named == nil {
		return NamedID{}, false
	}
	return *p.named, true
}

// Equal reports structural equality.
func (p PropertyID) Equal(o PropertyID) bool {
	if p.IsNamed() != o.IsNamed() {
		return false
	}
	if p.IsNamed() {
		return *p.named == *o.named
	}
	return p.numeric == o.numeric
}

func (p PropertyID) String() string {
	if p.named != nil {
		return p.named.String()
	}
	return fmt.Sprintf("0x%04X", p.numeric)
}

// ResolvedTag pairs a numeric tag with the cache-owned name it was resolved
// from, if any. Name pointers are shared with the cache, so two resolutions of
// the same named identifier return the same pointer.
type ResolvedTag struct {
	Tag  Tag
	Name *NamedID
}

// Absent reports whether resolution failed for this entry.
func (r ResolvedTag) Absent() bool {
	return r.Tag == TagNull
}

// PropertyID recovers the identifier that produced the tag.
func (r ResolvedTag) PropertyID() PropertyID {
	if r.Name != nil {
		return Named(*r.Name)
	}
	return NumericID(uint32(r.Tag.ID()))
}
