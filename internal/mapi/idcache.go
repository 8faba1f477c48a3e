package mapi

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// NameResolver is the part of a store object that translates between named
// identifiers and numeric property ids.
type NameResolver interface {
	// GetIDsFromNames returns one tag per name. Names the store does not know
	// come back with a PT_ERROR type.
	GetIDsFromNames(ctx context.Context, names []NamedID) ([]Tag, error)
	// GetNamesFromIDs returns one entry per tag, nil where the store has no name.
	// The returned values may be reused by the store after the call returns.
	GetNamesFromIDs(ctx context.Context, tags []Tag) ([]*NamedID, error)
}

// LookupObserver receives hit and miss counts for every resolution call.
type LookupObserver interface {
	ObserveNameLookups(hits, misses int)
}

type idEntry struct {
	name *NamedID
	tag  Tag
}

// IDCache maps named identifiers to numeric tags for one store session.
// Entries are never invalidated: named-id mappings are stable for a store.
type IDCache struct {
	mu       sync.Mutex
	byName   map[NamedID]*idEntry
	byID     map[uint16]*idEntry
	observer LookupObserver
}

// NewIDCache returns an empty cache.
func NewIDCache() *IDCache {
	return &IDCache{
		byName: make(map[NamedID]*idEntry),
		byID:   make(map[uint16]*idEntry),
	}
}

// SetObserver installs an observer for hit/miss accounting.
func (c *IDCache) SetObserver(o LookupObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Len returns the number of cached named identifiers.
func (c *IDCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byName)
}

// Names returns the cached identifiers in Compare order.
func (c *IDCache) Names() []NamedID {
	c.mu.Lock()
	names := make([]NamedID, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	c.mu.Unlock()

	slices.SortFunc(names, NamedID.Compare)
	return names
}

// insert must be called with c.mu held. An existing mapping for the same name
// wins so repeated resolutions keep returning the same pointer.
func (c *IDCache) insert(name NamedID, tag Tag) *idEntry {
	if existing, ok := c.byName[name]; ok {
		return existing
	}
	owned := name
	entry := &idEntry{name: &owned, tag: tag}
	c.byName[owned] = entry
	if _, ok := c.byID[tag.ID()]; !ok {
		c.byID[tag.ID()] = entry
	}
	return entry
}

func (c *IDCache) observe(hits, misses int) {
	if c.observer != nil {
		c.observer.ObserveNameLookups(hits, misses)
	}
}

// ResolveNamed translates caller-supplied identifiers into tags. Numeric ids
// map straight through with PT_UNSPECIFIED; named ids come from the cache or
// from a single batched store call covering every miss. Unresolvable names
// yield TagNull in their slot. The result always has len(ids) entries in
// input order.
func (c *IDCache) ResolveNamed(ctx context.Context, r NameResolver, ids []PropertyID) ([]ResolvedTag, error) {
	result := make([]ResolvedTag, len(ids))
	var (
		pending []NamedID
		offsets []int
		hits    int
	)

	c.mu.Lock()
	for i, id := range ids {
		name, ok := id.Name()
		if !ok {
			if id.Numeric() > 0xFFFF {
				result[i] = ResolvedTag{Tag: TagNull}
				continue
			}
			result[i] = ResolvedTag{Tag: PropTag(PtUnspecified, uint16(id.Numeric()))}
			continue
		}

		if entry, ok := c.byName[name]; ok {
			result[i] = ResolvedTag{Tag: entry.tag, Name: entry.name}
			hits++
			continue
		}

		result[i] = ResolvedTag{Tag: TagNull}
		pending = append(pending, name)
		offsets = append(offsets, i)
	}
	c.observe(hits, len(pending))
	c.mu.Unlock()

	if len(pending) == 0 {
		return result, nil
	}

	tags, err := r.GetIDsFromNames(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve named properties: %w", err)
	}
	if len(tags) != len(pending) {
		return nil, fmt.Errorf("%w: requested %d names, store returned %d ids", ErrInconsistent, len(pending), len(tags))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, tag := range tags {
		if tag.Type() == PtError || !tag.IsNamed() {
			continue
		}
		entry := c.insert(pending[i], PropTag(PtUnspecified, tag.ID()))
		result[offsets[i]] = ResolvedTag{Tag: entry.tag, Name: entry.name}
	}
	return result, nil
}

// ResolveIDs is the reverse direction, used when enumerating every property of
// an object. Ids below NamedIDThreshold are well-known; the rest are looked
// up by numeric id and, on a miss, resolved in one batched call. Ids the store
// cannot name yield TagNull.
func (c *IDCache) ResolveIDs(ctx context.Context, r NameResolver, tags []Tag) ([]ResolvedTag, error) {
	result := make([]ResolvedTag, len(tags))
	var (
		pending []Tag
		offsets []int
		hits    int
	)

	c.mu.Lock()
	for i, tag := range tags {
		id := tag.ID()
		if id < NamedIDThreshold {
			result[i] = ResolvedTag{Tag: PropTag(PtUnspecified, id)}
			continue
		}

		if entry, ok := c.byID[id]; ok {
			result[i] = ResolvedTag{Tag: entry.tag, Name: entry.name}
			hits++
			continue
		}

		result[i] = ResolvedTag{Tag: TagNull}
		pending = append(pending, PropTag(PtUnspecified, id))
		offsets = append(offsets, i)
	}
	c.observe(hits, len(pending))
	c.mu.Unlock()

	if len(pending) == 0 {
		return result, nil
	}

	names, err := r.GetNamesFromIDs(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve property names: %w", err)
	}
	if len(names) != len(pending) {
		return nil, fmt.Errorf("%w: requested %d ids, store returned %d names", ErrInconsistent, len(pending), len(names))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, name := range names {
		if name == nil {
			continue
		}
		// Copy out of the store's buffer before keeping it.
		entry := c.insert(*name, pending[i])
		c.byID[pending[i].ID()] = entry
		result[offsets[i]] = ResolvedTag{Tag: entry.tag, Name: entry.name}
	}
	return result, nil
}
