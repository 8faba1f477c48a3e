package entity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
)

// fakeInlineLimit is the value size above which fake objects report
// MAPI_E_NOT_ENOUGH_MEMORY.
const fakeInlineLimit = 64

// calls counts driver calls by name.
type calls struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *calls) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

func (c *calls) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

type fakeSession struct {
	calls  *calls
	stores []*fakeStore
	table  *fakeTable
}

func newFakeSession() *fakeSession {
	c := &calls{}
	s := &fakeSession{calls: c}
	s.table = &fakeTable{name: "stores", calls: c, rows: func() []*fakeObj {
		rows := make([]*fakeObj, len(s.stores))
		for i, st := range s.stores {
			rows[i] = st.fakeObj
		}
		return rows
	}}
	return s
}

func (s *fakeSession) StoresTable(ctx context.Context) (driver.Table, error) {
	return s.table, nil
}

func (s *fakeSession) OpenStore(ctx context.Context, id []byte) (driver.MsgStore, error) {
	s.calls.inc("open_store")
	for _, st := range s.stores {
		if bytes.Equal(st.id, id) {
			return st, nil
		}
	}
	return nil, driver.ErrNotFound
}

func (s *fakeSession) addStore(id, name string) *fakeStore {
	st := &fakeStore{
		fakeObj: newFakeObj(s.calls, id),
		names:   make(map[mapi.NamedID]uint16),
		objects: make(map[string]*fakeObj),
	}
	st.store = st
	st.set(mapi.TagDisplayName, mapi.StringValue(name))

	root := st.addFolder(nil, "root", "")
	st.root = root
	st.set(mapi.TagIPMSubtreeEntryID, mapi.BinaryValue(root.id))
	s.stores = append(s.stores, st)
	return st
}

// fakeObj is a property bag with optional child tables.
type fakeObj struct {
	calls *calls
	store *fakeStore
	id    []byte

	mu       sync.Mutex
	props    map[uint16]mapi.RawProp
	folders  []*fakeObj
	messages []*fakeObj

	hierarchy *fakeTable
	contents  *fakeTable
}

func newFakeObj(c *calls, id string) *fakeObj {
	o := &fakeObj{calls: c, id: []byte(id), props: make(map[uint16]mapi.RawProp)}
	o.set(mapi.TagEntryID, mapi.BinaryValue(o.id))
	o.hierarchy = &fakeTable{name: "hierarchy:" + id, calls: c, rows: func() []*fakeObj {
		o.mu.Lock()
		defer o.mu.Unlock()
		return append([]*fakeObj(nil), o.folders...)
	}}
	o.contents = &fakeTable{name: "contents:" + id, calls: c, rows: func() []*fakeObj {
		o.mu.Lock()
		defer o.mu.Unlock()
		return append([]*fakeObj(nil), o.messages...)
	}}
	return o
}

func (o *fakeObj) set(tag mapi.Tag, v mapi.Value) {
	raw, err := mapi.Encode(tag.ID(), v)
	if err != nil {
		panic(err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.props[tag.ID()] = raw
}

func (o *fakeObj) setRaw(p mapi.RawProp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.props[p.Tag.ID()] = p
}

func (o *fakeObj) project(tag mapi.Tag) mapi.RawProp {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.props[tag.ID()]
	if !ok || (tag.Type() != mapi.PtUnspecified && tag.Type() != p.Tag.Type()) {
		return mapi.ErrorProp(tag.ID(), mapi.ErrCodeNotFound)
	}
	if len(p.Data) > fakeInlineLimit {
		return mapi.ErrorProp(tag.ID(), mapi.ErrCodeNotEnoughMemory)
	}
	return p
}

func (o *fakeObj) GetProps(ctx context.Context, tags []mapi.Tag) ([]mapi.RawProp, error) {
	o.calls.inc("get_props")
	if tags == nil {
		o.mu.Lock()
		for _, p := range o.props {
			tags = append(tags, p.Tag)
		}
		o.mu.Unlock()
	}
	out := make([]mapi.RawProp, len(tags))
	for i, tag := range tags {
		out[i] = o.project(tag)
	}
	return out, nil
}

func (o *fakeObj) OpenPropertyStream(ctx context.Context, tag mapi.Tag) (mapi.PropertyStream, error) {
	o.calls.inc("open_stream")
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.props[tag.ID()]
	if !ok {
		return nil, driver.ErrNotFound
	}
	return &fakeStream{Reader: bytes.NewReader(p.Data), size: uint64(len(p.Data))}, nil
}

func (o *fakeObj) GetIDsFromNames(ctx context.Context, names []mapi.NamedID) ([]mapi.Tag, error) {
	return o.store.GetIDsFromNames(ctx, names)
}

func (o *fakeObj) GetNamesFromIDs(ctx context.Context, tags []mapi.Tag) ([]*mapi.NamedID, error) {
	return o.store.GetNamesFromIDs(ctx, tags)
}

func (o *fakeObj) HierarchyTable(ctx context.Context) (driver.Table, error) {
	return o.hierarchy, nil
}

func (o *fakeObj) ContentsTable(ctx context.Context) (driver.Table, error) {
	return o.contents, nil
}

type fakeStream struct {
	*bytes.Reader
	size   uint64
	closed bool
}

func (s *fakeStream) Size() (uint64, error) {
	return s.size, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeStore struct {
	*fakeObj
	root  *fakeObj
	inbox *fakeObj

	namesMu sync.Mutex
	names   map[mapi.NamedID]uint16
	objects map[string]*fakeObj
}

func (s *fakeStore) addFolder(parent *fakeObj, id, name string) *fakeObj {
	f := newFakeObj(s.calls, id)
	f.store = s
	f.set(mapi.TagDisplayName, mapi.StringValue(name))
	if parent != nil {
		f.set(mapi.TagParentEntryID, mapi.BinaryValue(parent.id))
		parent.set(mapi.TagSubfolders, mapi.BoolValue(true))
		parent.mu.Lock()
		parent.folders = append(parent.folders, f)
		parent.mu.Unlock()
	}
	s.objects[id] = f
	return f
}

func (s *fakeStore) addMessage(folder *fakeObj, id, subject string) *fakeObj {
	m := newFakeObj(s.calls, id)
	m.store = s
	m.set(mapi.TagSubject, mapi.StringValue(subject))
	m.set(mapi.TagParentEntryID, mapi.BinaryValue(folder.id))
	folder.mu.Lock()
	folder.messages = append(folder.messages, m)
	folder.mu.Unlock()
	s.objects[id] = m
	return m
}

func (s *fakeStore) register(name mapi.NamedID, id uint16) {
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	s.names[name] = id
}

func (s *fakeStore) OpenFolder(ctx context.Context, id []byte) (driver.Folder, error) {
	s.calls.inc("open_folder")
	if o, ok := s.objects[string(id)]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("%w: folder %s", driver.ErrNotFound, id)
}

func (s *fakeStore) OpenMessage(ctx context.Context, id []byte) (driver.Message, error) {
	s.calls.inc("open_message")
	if o, ok := s.objects[string(id)]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("%w: message %s", driver.ErrNotFound, id)
}

func (s *fakeStore) ReceiveFolder(ctx context.Context) ([]byte, error) {
	if s.inbox == nil {
		return nil, nil
	}
	return s.inbox.id, nil
}

func (s *fakeStore) GetIDsFromNames(ctx context.Context, names []mapi.NamedID) ([]mapi.Tag, error) {
	s.calls.inc("ids_from_names")
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	tags := make([]mapi.Tag, len(names))
	for i, n := range names {
		if id, ok := s.names[n]; ok {
			tags[i] = mapi.PropTag(mapi.PtUnspecified, id)
		} else {
			tags[i] = mapi.PropTag(mapi.PtError, 0)
		}
	}
	return tags, nil
}

func (s *fakeStore) GetNamesFromIDs(ctx context.Context, tags []mapi.Tag) ([]*mapi.NamedID, error) {
	s.calls.inc("names_from_ids")
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	out := make([]*mapi.NamedID, len(tags))
	for i, tag := range tags {
		for name, id := range s.names {
			if id == tag.ID() {
				n := name
				out[i] = &n
			}
		}
	}
	return out, nil
}

// fakeTable serves rows from a callback and counts reads.
type fakeTable struct {
	name   string
	calls  *calls
	rows   func() []*fakeObj
	onRead func()

	mu      sync.Mutex
	failErr error
	subs    []func(driver.Notification)
	unsubs  int
}

func (t *fakeTable) failNext(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failErr = err
}

func (t *fakeTable) Read(ctx context.Context, req driver.ReadRequest) ([][]mapi.RawProp, error) {
	t.calls.inc("read:" + t.name)
	if t.onRead != nil {
		t.onRead()
	}
	t.mu.Lock()
	err := t.failErr
	t.failErr = nil
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	objs := t.rows()
	skip := min(req.Directives.Skip, len(objs))
	objs = objs[skip:]
	if req.Directives.Take > 0 && req.Directives.Take < len(objs) {
		objs = objs[:req.Directives.Take]
	}

	rows := make([][]mapi.RawProp, len(objs))
	for i, o := range objs {
		rows[i] = make([]mapi.RawProp, len(req.Columns))
		for j, tag := range req.Columns {
			rows[i][j] = o.project(tag)
		}
	}
	return rows, nil
}

func (t *fakeTable) Subscribe(ctx context.Context, fn func(driver.Notification)) (driver.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
	idx := len(t.subs) - 1
	return &fakeSub{t: t, idx: idx}, nil
}

// fire delivers a notification to every live subscriber.
func (t *fakeTable) fire() {
	t.mu.Lock()
	subs := slices.Clone(t.subs)
	t.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(driver.Notification{Type: driver.TableModified})
		}
	}
}

func (t *fakeTable) liveSubscriptions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, fn := range t.subs {
		if fn != nil {
			n++
		}
	}
	return n
}

type fakeSub struct {
	t   *fakeTable
	idx int
}

func (s *fakeSub) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if s.t.subs[s.idx] == nil {
		return errors.New("already unsubscribed")
	}
	s.t.subs[s.idx] = nil
	s.t.unsubs++
	return nil
}
