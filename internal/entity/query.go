// Package entity implements the Query, Store, Folder and Item facades over a
// property store: lazily loaded child collections, per-store identity caches
// and invalidation from store change notifications.
package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/metrics"
)

// Options carries the ambient dependencies shared by every entity of a query.
type Options struct {
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// Query is the root of the entity tree for one session.
type Query struct {
	session driver.Session
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	stores    collection[*Store]
	storeByID map[string]*Store
	closed    bool
}

// NewQuery creates a query over session.
func NewQuery(session driver.Session, opts Options) *Query {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Query{
		session:   session,
		logger:    logger,
		metrics:   opts.Metrics,
		stores:    collection[*Store]{name: "stores"},
		storeByID: make(map[string]*Store),
	}
}

// Stores returns the message stores. With ids set, exactly those stores are
// returned in order and an unknown id is an error.
func (q *Query) Stores(ctx context.Context, ids [][]byte, dirs driver.Directives) ([]*Store, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stores, err := q.loadStoresLocked(ctx, dirs)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		return stores, nil
	}
	return q.stores.pick("store", ids)
}

// LookupStore returns the store with id, or nil if there is none.
func (q *Query) LookupStore(ctx context.Context, id []byte) (*Store, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.loadStoresLocked(ctx, q.stores.directives); err != nil {
		return nil, err
	}
	store, _ := q.stores.lookup(id)
	return store, nil
}

func (q *Query) loadStoresLocked(ctx context.Context, dirs driver.Directives) ([]*Store, error) {
	if q.closed {
		return nil, fmt.Errorf("query is closed")
	}
	return load(ctx, q, &q.stores, dirs, (*Store).ID, q.readStores, (*Query).invalidateStores, q.metrics)
}

func (q *Query) readStores(ctx context.Context, dirs driver.Directives, watch func(driver.Table) error) ([]*Store, error) {
	q.metrics.StoreCall("stores_table")
	table, err := q.session.StoresTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open stores table: %w", err)
	}

	if err := watch(table); err != nil {
		return nil, err
	}

	q.metrics.StoreCall("table_read")
	rows, err := table.Read(ctx, driver.ReadRequest{Columns: storeColumns, Sorts: storeSorts, Directives: dirs})
	if err != nil {
		return nil, fmt.Errorf("failed to read stores table: %w", err)
	}

	stores := make([]*Store, 0, len(rows))
	for _, row := range rows {
		id := binaryColumn(row, storeColID)
		if store, ok := q.storeByID[string(id)]; ok {
			stores = append(stores, store)
			continue
		}
		store := newStore(q.session, row, q.logger, q.metrics)
		q.storeByID[string(id)] = store
		stores = append(stores, store)
	}

	q.logger.WithField("count", len(stores)).Debug("Loaded stores")
	return stores, nil
}

func (q *Query) invalidateStores() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stores.reset()
	q.metrics.Invalidated(q.stores.name, "notification")
}

// ClearCaches drops per-request state of every known store. It is called at
// the end of each request.
func (q *Query) ClearCaches() {
	q.mu.Lock()
	stores := make([]*Store, 0, len(q.storeByID))
	for _, store := range q.storeByID {
		stores = append(stores, store)
	}
	q.mu.Unlock()

	for _, store := range stores {
		store.ClearCaches()
	}
}

// Close releases every store and the stores table subscription.
func (q *Query) Close() error {
	q.mu.Lock()
	stores := q.storeByID
	q.storeByID = make(map[string]*Store)
	q.closed = true
	err := q.stores.release()
	q.mu.Unlock()

	for _, store := range stores {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
