package sqlstore

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
)

type tableKind int

const (
	storesTable tableKind = iota
	hierarchyTable
	contentsTable
)

// table is a view over the children of an entry, or over every store.
type table struct {
	db     *DB
	kind   tableKind
	parent []byte
}

func (t *table) key() string {
	return tableKey(t.kind, t.parent)
}

func tableKey(kind tableKind, parent []byte) string {
	switch kind {
	case hierarchyTable:
		return fmt.Sprintf("hierarchy:%x", parent)
	case contentsTable:
		return fmt.Sprintf("contents:%x", parent)
	}
	return "stores"
}

func (t *table) entries(ctx context.Context) ([]entry, error) {
	var query string
	var args []any
	switch t.kind {
	case storesTable:
		query = "SELECT id, store_id, parent_id, kind FROM entries WHERE kind = ?"
		args = []any{kindStore}
	case hierarchyTable:
		query = "SELECT id, store_id, parent_id, kind FROM entries WHERE parent_id = ? AND kind = ?"
		args = []any{t.parent, kindFolder}
	default:
		query = "SELECT id, store_id, parent_id, kind FROM entries WHERE parent_id = ? AND kind = ?"
		args = []any{t.parent, kindMessage}
	}

	rows, err := t.db.db.QueryContext(ctx, query+" ORDER BY created_at, rowid", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query table: %w", err)
	}
	defer rows.Close()

	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.store, &e.parent, &e.kind); err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type tableRow struct {
	columns []mapi.RawProp
	keys    []mapi.Value
}

// Read returns the requested columns for every row. Rows are sorted by
// req.Sorts, or by the directives' order when it is set, and then windowed by
// Skip and Take.
func (t *table) Read(ctx context.Context, req driver.ReadRequest) ([][]mapi.RawProp, error) {
	entries, err := t.entries(ctx)
	if err != nil {
		return nil, err
	}

	sorts := req.Sorts
	if len(req.Directives.OrderBy) > 0 {
		sorts = req.Directives.OrderBy
	}

	rows := make([]tableRow, 0, len(entries))
	for _, e := range entries {
		props, err := t.db.loadProps(ctx, e)
		if err != nil {
			return nil, err
		}
		row := tableRow{columns: make([]mapi.RawProp, len(req.Columns))}
		for i, tag := range req.Columns {
			row.columns[i] = t.db.project(props, tag, true)
		}
		for _, s := range sorts {
			v, _ := mapi.Decode(t.db.project(props, s.Tag, false))
			row.keys = append(row.keys, v)
		}
		rows = append(rows, row)
	}

	if len(sorts) > 0 {
		coll := collate.New(language.Und, collate.IgnoreCase)
		slices.SortStableFunc(rows, func(a, b tableRow) int {
			for i, s := range sorts {
				c := compareValues(coll, a.keys[i], b.keys[i])
				if s.Descending {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	skip := min(max(req.Directives.Skip, 0), len(rows))
	rows = rows[skip:]
	if take := req.Directives.Take; take > 0 && take < len(rows) {
		rows = rows[:take]
	}

	out := make([][]mapi.RawProp, len(rows))
	for i, row := range rows {
		out[i] = row.columns
	}
	return out, nil
}

// compareValues orders decoded values; missing values sort first.
func compareValues(coll *collate.Collator, a, b mapi.Value) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case mapi.IntValue:
		if bv, ok := b.(mapi.IntValue); ok {
			return cmp.Compare(av, bv)
		}
	case mapi.BoolValue:
		if bv, ok := b.(mapi.BoolValue); ok {
			return cmp.Compare(boolInt(bool(av)), boolInt(bool(bv)))
		}
	case mapi.StringValue:
		if bv, ok := b.(mapi.StringValue); ok {
			return coll.CompareString(string(av), string(bv))
		}
	case mapi.DateTimeValue:
		if bv, ok := b.(mapi.DateTimeValue); ok {
			return av.Time().Compare(bv.Time())
		}
	case mapi.GuidValue:
		if bv, ok := b.(mapi.GuidValue); ok {
			return bytes.Compare(av[:], bv[:])
		}
	case mapi.BinaryValue:
		if bv, ok := b.(mapi.BinaryValue); ok {
			return bytes.Compare(av, bv)
		}
	}
	return strings.Compare(a.Kind().String(), b.Kind().String())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Subscribe registers fn for changes to the rows of this table. fn runs on
// the store's notification goroutine.
func (t *table) Subscribe(ctx context.Context, fn func(driver.Notification)) (driver.Subscription, error) {
	return t.db.notifier.subscribe(t.key(), fn)
}
