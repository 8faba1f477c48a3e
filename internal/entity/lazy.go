package entity

import (
	"context"
	"fmt"
	"runtime"
	"weak"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/metrics"
)

// collection is a lazily loaded child list. It is either not loaded or fully
// loaded; callers hold the owning entity's mutex for every method.
type collection[T any] struct {
	name string

	loaded     bool
	directives driver.Directives
	items      []T
	index      map[string]int

	sub     driver.Subscription
	cleanup runtime.Cleanup
}

// reader opens the backing table, passes it to watch before reading any rows,
// and builds the children.
type reader[T any] func(ctx context.Context, dirs driver.Directives, watch func(driver.Table) error) ([]T, error)

// load returns the cached list when it was loaded with equal directives, and
// otherwise reads the table once. The table is subscribed before its first
// read, so a change racing the read still invalidates the result. The
// subscription callback only holds a weak reference to owner.
func load[E, T any](ctx context.Context, owner *E, c *collection[T], dirs driver.Directives,
	key func(T) []byte, read reader[T], invalidate func(*E), m *metrics.Metrics,
) ([]T, error) {
	if c.loaded && !c.directives.Equal(dirs) {
		c.reset()
		m.Invalidated(c.name, "directives")
	}
	if c.loaded {
		m.CollectionHit(c.name)
		return c.items, nil
	}

	watch := func(table driver.Table) error {
		if c.sub != nil {
			return nil
		}
		sub, err := table.Subscribe(ctx, bridge(owner, invalidate))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", c.name, err)
		}
		c.sub = sub
		c.cleanup = runtime.AddCleanup(owner, unsubscribe, sub)
		return nil
	}

	items, err := read(ctx, dirs, watch)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(items))
	for i, item := range items {
		index[string(key(item))] = i
	}

	c.loaded = true
	c.directives = dirs
	c.items = items
	c.index = index
	m.CollectionLoad(c.name)
	return items, nil
}

func (c *collection[T]) lookup(id []byte) (T, bool) {
	var zero T
	if !c.loaded {
		return zero, false
	}
	i, ok := c.index[string(id)]
	if !ok {
		return zero, false
	}
	return c.items[i], true
}

// pick resolves an explicit id list against the loaded collection. Any id
// that is not present is an error.
func (c *collection[T]) pick(kind string, ids [][]byte) ([]T, error) {
	result := make([]T, len(ids))
	for i, id := range ids {
		item, ok := c.lookup(id)
		if !ok {
			return nil, notFound(kind, id)
		}
		result[i] = item
	}
	return result, nil
}

func (c *collection[T]) reset() {
	c.loaded = false
	c.directives = driver.Directives{}
	c.items = nil
	c.index = nil
}

// release drops the cached state and the table subscription.
func (c *collection[T]) release() error {
	c.reset()
	if c.sub == nil {
		return nil
	}
	c.cleanup.Stop()
	sub := c.sub
	c.sub = nil
	return sub.Unsubscribe()
}

func unsubscribe(sub driver.Subscription) {
	_ = sub.Unsubscribe()
}

// bridge turns a table notification into an invalidation of owner without
// keeping owner reachable.
func bridge[E any](owner *E, invalidate func(*E)) func(driver.Notification) {
	wp := weak.Make(owner)
	return func(driver.Notification) {
		if e := wp.Value(); e != nil {
			invalidate(e)
		}
	}
}
