package tools

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/entity"
	"github.com/brandon/mapi-bridge/internal/mapi"
	"github.com/brandon/mapi-bridge/internal/sqlstore"
	"github.com/brandon/mapi-bridge/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var keywords = mapi.NamedString(mapi.PSPublicStrings, "Keywords")

type fixture struct {
	reg      *Registry
	storeID  string
	rootID   string
	inboxID  string
	subID    string
	itemID   string
	threadID []byte
}

func encode(t *testing.T, tag mapi.Tag, v mapi.Value) mapi.RawProp {
	t.Helper()
	p, err := mapi.Encode(tag.ID(), v)
	require.NoError(t, err)
	return p
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := sqlstore.Open(filepath.Join(t.TempDir(), "store.db"), sqlstore.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storeID, rootID, err := db.CreateStore(ctx, "work")
	require.NoError(t, err)
	inbox, err := db.CreateFolder(ctx, rootID, "Inbox", "IPF.Note")
	require.NoError(t, err)
	require.NoError(t, db.SetReceiveFolder(ctx, inbox))
	sub, err := db.CreateFolder(ctx, inbox, "Receipts", "IPF.Note")
	require.NoError(t, err)

	named, err := db.RegisterNames(ctx, storeID, []mapi.NamedID{keywords})
	require.NoError(t, err)

	thread := []byte("0123456789abcdef")
	item, err := db.CreateMessage(ctx, inbox, []mapi.RawProp{
		encode(t, mapi.TagSubject, mapi.StringValue("Quarterly numbers")),
		encode(t, mapi.TagSenderName, mapi.StringValue("Ada")),
		encode(t, mapi.TagBody, mapi.StringValue("See attached.")),
		encode(t, mapi.TagMessageFlags, mapi.IntValue(0)),
		encode(t, mapi.TagConversationID, mapi.BinaryValue(thread)),
		encode(t, named[0], mapi.StringValue("finance")),
	})
	require.NoError(t, err)

	q := entity.NewQuery(db.Session(), entity.Options{Logger: logger})
	t.Cleanup(func() { q.Close() })

	return &fixture{
		reg:      NewRegistry(q, nil, logger),
		storeID:  hex.EncodeToString(storeID),
		rootID:   hex.EncodeToString(rootID),
		inboxID:  hex.EncodeToString(inbox),
		subID:    hex.EncodeToString(sub),
		itemID:   hex.EncodeToString(item),
		threadID: thread,
	}
}

func (f *fixture) call(t *testing.T, name string, params map[string]interface{}) interface{} {
	t.Helper()
	res, err := f.reg.Call(context.Background(), name, params)
	require.NoError(t, err)
	return res
}

func TestToolDefinitions(t *testing.T) {
	f := newFixture(t)

	defs := f.reg.GetToolDefinitions()
	var names []string
	for _, d := range defs {
		names = append(names, d["name"].(string))
		assert.NotNil(t, d["inputSchema"])
	}
	assert.Equal(t, []string{
		"folder_hierarchy",
		"get_folder_properties",
		"get_item",
		"get_item_properties",
		"list_conversations",
		"list_items",
		"list_root_folders",
		"list_special_folders",
		"list_stores",
		"list_sub_folders",
	}, names)

	_, ok := f.reg.GetTool("sync_account")
	assert.False(t, ok)
	_, err := f.reg.Call(context.Background(), "send_email", nil)
	assert.ErrorContains(t, err, "tool not found")
}

func TestStoreAndFolderTools(t *testing.T) {
	f := newFixture(t)

	stores := f.call(t, "list_stores", nil).([]types.Store)
	require.Len(t, stores, 1)
	assert.Equal(t, f.storeID, stores[0].ID)
	assert.Equal(t, "work", stores[0].Name)
	assert.Empty(t, stores[0].Columns)

	withCols := f.call(t, "list_stores", map[string]interface{}{"include_columns": true}).([]types.Store)
	assert.NotEmpty(t, withCols[0].Columns)

	roots := f.call(t, "list_root_folders", map[string]interface{}{"store_id": f.storeID}).([]types.Folder)
	require.Len(t, roots, 1)
	inbox := roots[0]
	assert.Equal(t, f.inboxID, inbox.ID)
	assert.Equal(t, f.rootID, inbox.ParentID)
	assert.Equal(t, "Inbox", inbox.Name)
	assert.Equal(t, "INBOX", inbox.Special)
	assert.True(t, inbox.HasSubfolders)
	assert.EqualValues(t, 1, inbox.Count)
	assert.EqualValues(t, 1, inbox.Unread)

	subs := f.call(t, "list_sub_folders", map[string]interface{}{
		"store_id":  f.storeID,
		"folder_id": f.inboxID,
	}).([]types.Folder)
	require.Len(t, subs, 1)
	assert.Equal(t, "Receipts", subs[0].Name)
	assert.Empty(t, subs[0].Special)

	tree := f.call(t, "folder_hierarchy", map[string]interface{}{"store_id": f.storeID}).([]types.Folder)
	require.Len(t, tree, 2)
	assert.Equal(t, []string{f.inboxID, f.subID}, []string{tree[0].ID, tree[1].ID})

	direct := f.call(t, "folder_hierarchy", map[string]interface{}{
		"store_id":      f.storeID,
		"only_children": true,
	}).([]types.Folder)
	assert.Len(t, direct, 1)

	special := f.call(t, "list_special_folders", map[string]interface{}{
		"store_id": f.storeID,
		"kinds":    []interface{}{"inbox", "IPM_SUBTREE"},
	}).([]types.Folder)
	require.Len(t, special, 2)
	assert.Equal(t, f.inboxID, special[0].ID)
	assert.Equal(t, f.rootID, special[1].ID)

	_, err := f.reg.Call(context.Background(), "list_special_folders", map[string]interface{}{
		"store_id": f.storeID,
		"kinds":    []interface{}{"junk"},
	})
	assert.ErrorContains(t, err, "DRAFTS")

	_, err = f.reg.Call(context.Background(), "list_special_folders", map[string]interface{}{
		"store_id": f.storeID,
		"kinds":    []interface{}{"calendar"},
	})
	assert.ErrorIs(t, err, entity.ErrNotFound)

	props := f.call(t, "get_folder_properties", map[string]interface{}{
		"store_id":  f.storeID,
		"folder_id": f.inboxID,
		"columns":   []interface{}{map[string]interface{}{"id": "0x3001", "type": "string"}},
	}).([]types.Property)
	require.Len(t, props, 1)
	assert.Equal(t, "Inbox", props[0].Value)
	assert.Equal(t, "string", props[0].Kind)
}

func TestItemTools(t *testing.T) {
	f := newFixture(t)
	folder := map[string]interface{}{"store_id": f.storeID, "folder_id": f.inboxID}

	items := f.call(t, "list_items", folder).([]types.Item)
	require.Len(t, items, 1)
	assert.Equal(t, f.itemID, items[0].ID)
	assert.Equal(t, "Quarterly numbers", items[0].Subject)
	assert.Equal(t, "Ada", items[0].Sender)
	assert.False(t, items[0].Read)
	assert.Equal(t, hex.EncodeToString(f.threadID), items[0].ConversationID)
	assert.Nil(t, items[0].Body)

	item := f.call(t, "get_item", map[string]interface{}{"store_id": f.storeID, "item_id": f.itemID}).(types.Item)
	require.NotNil(t, item.Body)
	assert.Equal(t, "See attached.", *item.Body)

	convs := f.call(t, "list_conversations", folder).([]types.Conversation)
	require.Len(t, convs, 1)
	assert.Equal(t, []string{f.itemID}, convs[0].ItemIDs)

	props := f.call(t, "get_item_properties", map[string]interface{}{
		"store_id": f.storeID,
		"item_id":  f.itemID,
		"columns": []interface{}{
			map[string]interface{}{"id": float64(0x0037), "type": "string"},
			map[string]interface{}{"propset": mapi.PSPublicStrings.String(), "name": "Keywords", "type": "string"},
			map[string]interface{}{"propset": mapi.PSPublicStrings.String(), "name": "Missing", "type": "string"},
		},
	}).([]types.Property)
	require.Len(t, props, 3)
	assert.Equal(t, "Quarterly numbers", props[0].Value)
	require.NotNil(t, props[1].Name)
	assert.Equal(t, "Keywords", *props[1].Name)
	assert.Equal(t, "finance", props[1].Value)
	assert.Nil(t, props[2].Value)

	all := f.call(t, "get_item_properties", map[string]interface{}{"store_id": f.storeID, "item_id": f.itemID}).([]types.Property)
	var named *types.Property
	for i := range all {
		if all[i].Name != nil {
			named = &all[i]
		}
	}
	require.NotNil(t, named)
	assert.Equal(t, "Keywords", *named.Name)
	assert.Equal(t, mapi.PSPublicStrings.String(), named.PropSet)
}

func TestUnknownIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.Call(ctx, "list_root_folders", map[string]interface{}{"store_id": "00ff"})
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = f.reg.Call(ctx, "list_root_folders", map[string]interface{}{"store_id": "zz"})
	assert.ErrorContains(t, err, "invalid entry id")

	_, err = f.reg.Call(ctx, "list_items", map[string]interface{}{
		"store_id":  f.storeID,
		"folder_id": f.inboxID,
		"ids":       []interface{}{"00ff"},
	})
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestDirectivesParam(t *testing.T) {
	dirs, err := directivesParam(map[string]interface{}{
		"skip": float64(2),
		"take": "5",
		"order_by": []interface{}{
			map[string]interface{}{"tag": "0x0E060040", "descending": true},
			map[string]interface{}{"tag": float64(mapi.TagSubject)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, driver.Directives{
		Skip: 2,
		Take: 5,
		OrderBy: []driver.SortOrder{
			{Tag: mapi.TagDeliveryTime, Descending: true},
			{Tag: mapi.TagSubject},
		},
	}, dirs)

	_, err = directivesParam(map[string]interface{}{"skip": float64(-1)})
	assert.Error(t, err)
	_, err = directivesParam(map[string]interface{}{"order_by": []interface{}{"subject"}})
	assert.Error(t, err)
}

func TestParseColumn(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]interface{}
		want    mapi.Column
		wantErr bool
	}{
		{
			name: "numeric hex",
			in:   map[string]interface{}{"id": "0x1000", "type": "string"},
			want: mapi.Column{ID: mapi.NumericID(0x1000), Type: mapi.ColumnString},
		},
		{
			name: "named string",
			in:   map[string]interface{}{"propset": mapi.PSPublicStrings.String(), "name": "Keywords", "type": "string"},
			want: mapi.Column{ID: mapi.Named(keywords), Type: mapi.ColumnString},
		},
		{
			name: "named lid",
			in:   map[string]interface{}{"propset": mapi.PSInternetHeaders.String(), "lid": float64(7), "type": "integer"},
			want: mapi.Column{ID: mapi.Named(mapi.NamedInt(mapi.PSInternetHeaders, 7)), Type: mapi.ColumnInteger},
		},
		{name: "missing type", in: map[string]interface{}{"id": float64(1)}, wantErr: true},
		{name: "id too large", in: map[string]interface{}{"id": "0x10000", "type": "string"}, wantErr: true},
		{name: "bad propset", in: map[string]interface{}{"propset": "nope", "name": "x", "type": "string"}, wantErr: true},
		{name: "no name", in: map[string]interface{}{"propset": mapi.PSPublicStrings.String(), "type": "string"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseColumn(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.True(t, tt.want.ID.Equal(got.ID), "got %s", got.ID)
		})
	}
}

func TestValueJSON(t *testing.T) {
	kind, v, err := valueJSON(mapi.BinaryValue{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, "binary", kind)
	assert.Equal(t, "dead", v)

	kind, v, err = valueJSON(nil)
	require.NoError(t, err)
	assert.Empty(t, kind)
	assert.Nil(t, v)
}

type countingStream struct {
	*bytes.Reader
	sizeErr error
	closes  int
}

func (s *countingStream) Size() (uint64, error) {
	return uint64(s.Reader.Size()), s.sizeErr
}

func (s *countingStream) Close() error {
	s.closes++
	return nil
}

func TestPropertiesJSONClosesUnreadStreams(t *testing.T) {
	broken := &countingStream{Reader: bytes.NewReader(nil), sizeErr: errors.New("stat failed")}
	pending := &countingStream{Reader: bytes.NewReader([]byte("later"))}
	props := []mapi.Property{
		{ID: mapi.NumericID(uint32(mapi.TagBody.ID())), Value: mapi.NewStreamValue(broken, mapi.EncodingUTF16)},
		{ID: mapi.NumericID(uint32(mapi.TagHTML.ID())), Value: mapi.NewStreamValue(pending, mapi.EncodingBinary)},
	}

	_, err := propertiesJSON(props)
	require.Error(t, err)
	assert.Equal(t, 1, broken.closes)
	assert.Equal(t, 1, pending.closes)
	assert.Equal(t, 5, pending.Len())
}
