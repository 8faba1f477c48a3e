package mapi

import (
	"context"
	"errors"
	"fmt"
)

// PropObject is a store object whose properties can be fetched in bulk or
// opened one at a time as a stream.
type PropObject interface {
	// GetProps returns one raw property per tag, or every property when tags is nil.
	GetProps(ctx context.Context, tags []Tag) ([]RawProp, error)
	OpenPropertyStream(ctx context.Context, tag Tag) (PropertyStream, error)
}

// Column is an explicitly requested property and the type the caller expects.
type Column struct {
	ID   PropertyID
	Type ColumnType
}

type fetchState int

const (
	fetched fetchState = iota
	needsStream
)

// fetchResult is the first-pass outcome for one requested column.
type fetchResult struct {
	state    fetchState
	raw      RawProp
	encoding StreamEncoding
}

// GetProperties reads properties of obj. With a non-empty column list only
// those columns are fetched, in order, and values too large for the bulk call
// are re-opened as streams. With no columns every property is returned and
// named ids are reverse-resolved through cache.
func GetProperties(ctx context.Context, obj PropObject, names NameResolver, cache *IDCache, columns []Column) ([]Property, error) {
	if len(columns) == 0 {
		raw, err := obj.GetProps(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get properties: %w", err)
		}
		return DecodeAll(ctx, names, cache, raw)
	}

	ids := make([]PropertyID, len(columns))
	for i, col := range columns {
		ids[i] = col.ID
	}

	resolved, err := cache.ResolveNamed(ctx, names, ids)
	if err != nil {
		return nil, err
	}
	if len(resolved) != len(columns) {
		return nil, fmt.Errorf("%w: resolved %d of %d columns", ErrInconsistent, len(resolved), len(columns))
	}

	tags := make([]Tag, len(columns))
	for i, col := range columns {
		wire, err := col.Type.WireType()
		if err != nil {
			return nil, err
		}
		tags[i] = PropTag(wire, resolved[i].Tag.ID())
	}

	raw, err := obj.GetProps(ctx, tags)
	if err != nil {
		return nil, fmt.Errorf("failed to get properties: %w", err)
	}
	if len(raw) != len(tags) {
		return nil, fmt.Errorf("%w: requested %d properties, store returned %d", ErrInconsistent, len(tags), len(raw))
	}

	results := make([]fetchResult, len(raw))
	for i, prop := range raw {
		code, isErr := prop.ErrorCode()
		if isErr && code == ErrCodeNotEnoughMemory && !resolved[i].Absent() {
			results[i] = fetchResult{state: needsStream, encoding: columns[i].Type.StreamEncoding()}
			continue
		}
		results[i] = fetchResult{state: fetched, raw: prop}
	}

	props := make([]Property, len(results))
	for i, res := range results {
		props[i].ID = columns[i].ID

		switch res.state {
		case needsStream:
			stream, err := obj.OpenPropertyStream(ctx, tags[i])
			if err != nil {
				CloseProperties(props[:i])
				return nil, fmt.Errorf("failed to open property stream %s: %w", tags[i], err)
			}
			props[i].Value = NewStreamValue(stream, res.encoding)
		default:
			v, err := Decode(res.raw)
			if err != nil {
				CloseProperties(props[:i])
				return nil, err
			}
			props[i].Value = v
		}
	}
	return props, nil
}

// CloseProperties releases every stream in props that has not been read.
func CloseProperties(props []Property) error {
	var errs []error
	for _, p := range props {
		if s, ok := p.Value.(*StreamValue); ok {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}

// DecodeAll decodes raw properties whose ids are not known in advance,
// recovering named identifiers for ids in the named range. Ids the store
// cannot name keep their numeric identity.
func DecodeAll(ctx context.Context, names NameResolver, cache *IDCache, raw []RawProp) ([]Property, error) {
	tags := make([]Tag, len(raw))
	for i, prop := range raw {
		tags[i] = prop.Tag
	}

	resolved, err := cache.ResolveIDs(ctx, names, tags)
	if err != nil {
		return nil, err
	}
	if len(resolved) != len(raw) {
		return nil, fmt.Errorf("%w: resolved %d of %d properties", ErrInconsistent, len(resolved), len(raw))
	}

	props := make([]Property, len(raw))
	for i, prop := range raw {
		if resolved[i].Absent() {
			props[i].ID = NumericID(uint32(prop.Tag.ID()))
		} else {
			props[i].ID = resolved[i].PropertyID()
		}

		v, err := Decode(prop)
		if err != nil {
			return nil, err
		}
		props[i].Value = v
	}
	return props, nil
}
