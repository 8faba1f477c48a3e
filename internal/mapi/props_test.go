package mapi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObject serves properties from a map and reports values above limit as
// too large for a bulk call.
type fakeObject struct {
	*fakeResolver
	props   map[uint16]RawProp
	limit   int
	fetches [][]Tag
	opened  []Tag
	streams []*memStream
	failTag Tag
	extra   int
}

func (o *fakeObject) GetProps(ctx context.Context, tags []Tag) ([]RawProp, error) {
	o.fetches = append(o.fetches, tags)
	if tags == nil {
		var out []RawProp
		for _, p := range o.props {
			out = append(out, p)
		}
		return out, nil
	}
	out := make([]RawProp, len(tags)+o.extra)
	for i, tag := range tags {
		p, ok := o.props[tag.ID()]
		switch {
		case !ok || p.Tag.Type() != tag.Type():
			out[i] = ErrorProp(tag.ID(), ErrCodeNotFound)
		case len(p.Data) > o.limit:
			out[i] = ErrorProp(tag.ID(), ErrCodeNotEnoughMemory)
		default:
			out[i] = p
		}
	}
	return out, nil
}

func (o *fakeObject) OpenPropertyStream(ctx context.Context, tag Tag) (PropertyStream, error) {
	o.opened = append(o.opened, tag)
	if o.failTag != 0 && tag == o.failTag {
		return nil, errors.New("stream unavailable")
	}
	stream := newMemStream(o.props[tag.ID()].Data)
	o.streams = append(o.streams, stream)
	return stream, nil
}

func newFakeObject(limit int, props ...RawProp) *fakeObject {
	o := &fakeObject{fakeResolver: newFakeResolver(), props: make(map[uint16]RawProp), limit: limit}
	for _, p := range props {
		o.props[p.Tag.ID()] = p
	}
	return o
}

func TestGetPropertiesExplicitColumns(t *testing.T) {
	ctx := context.Background()
	big := make([]byte, 100)
	obj := newFakeObject(32,
		RawProp{Tag: TagSubject, Data: EncodeUTF16("hi")},
		RawProp{Tag: TagBody, Data: EncodeUTF16("a much longer body than fits inline")},
		RawProp{Tag: TagHTML, Data: big},
		RawProp{Tag: PropTag(PtLong, 0x8001), Data: []byte{5, 0, 0, 0}},
	)
	cache := NewIDCache()

	columns := []Column{
		{ID: NumericID(uint32(TagSubject.ID())), Type: ColumnString},
		{ID: NumericID(uint32(TagBody.ID())), Type: ColumnString},
		{ID: NumericID(uint32(TagHTML.ID())), Type: ColumnBinary},
		{ID: Named(NamedInt(testPropSet, 1)), Type: ColumnInteger},
		{ID: Named(NamedString(testPropSet, "nope")), Type: ColumnString},
		{ID: NumericID(uint32(TagPreview.ID())), Type: ColumnString},
	}

	props, err := GetProperties(ctx, obj, obj, cache, columns)
	require.NoError(t, err)
	require.Len(t, props, len(columns))

	for i, p := range props {
		assert.True(t, p.ID.Equal(columns[i].ID), "column %d keeps its identifier", i)
	}
	assert.Equal(t, StringValue("hi"), props[0].Value)

	body, ok := props[1].Value.(*StreamValue)
	require.True(t, ok)
	assert.Equal(t, EncodingUTF16, body.Encoding())
	v, err := body.Materialize()
	require.NoError(t, err)
	assert.Equal(t, StringValue("a much longer body than fits inline"), v)

	html, ok := props[2].Value.(*StreamValue)
	require.True(t, ok)
	assert.Equal(t, EncodingBinary, html.Encoding())

	assert.Equal(t, IntValue(5), props[3].Value)
	assert.Nil(t, props[4].Value)
	assert.Nil(t, props[5].Value)

	assert.Equal(t, []Tag{TagBody, TagHTML}, obj.opened)
	require.Len(t, obj.fetches, 1)
	assert.Equal(t, PropTag(PtLong, 0x8001), obj.fetches[0][3])
	assert.Equal(t, PropTag(PtUnicode, 0), obj.fetches[0][4])
}

func TestGetPropertiesClosesStreamsOnOpenFailure(t *testing.T) {
	obj := newFakeObject(4,
		RawProp{Tag: TagBody, Data: EncodeUTF16("long enough body")},
		RawProp{Tag: TagHTML, Data: make([]byte, 16)},
	)
	obj.failTag = TagHTML

	_, err := GetProperties(context.Background(), obj, obj, NewIDCache(), []Column{
		{ID: NumericID(uint32(TagBody.ID())), Type: ColumnString},
		{ID: NumericID(uint32(TagHTML.ID())), Type: ColumnBinary},
	})
	require.Error(t, err)
	assert.Equal(t, []Tag{TagBody, TagHTML}, obj.opened)
	require.Len(t, obj.streams, 1)
	assert.Equal(t, 1, obj.streams[0].closes)
	assert.Zero(t, obj.streams[0].reads)
}

func TestCloseProperties(t *testing.T) {
	read := newMemStream([]byte("read"))
	unread := newMemStream([]byte("unread"))
	readValue := NewStreamValue(read, EncodingUTF8)
	_, err := readValue.Materialize()
	require.NoError(t, err)

	props := []Property{
		{ID: NumericID(1), Value: readValue},
		{ID: NumericID(2), Value: StringValue("inline")},
		{ID: NumericID(3), Value: NewStreamValue(unread, EncodingUTF8)},
		{ID: NumericID(4)},
	}
	require.NoError(t, CloseProperties(props))
	require.NoError(t, CloseProperties(props))
	assert.Equal(t, 1, read.closes)
	assert.Equal(t, 1, unread.closes)
	assert.Zero(t, unread.reads)
}

func TestGetPropertiesCountMismatch(t *testing.T) {
	obj := newFakeObject(32, RawProp{Tag: TagSubject, Data: EncodeUTF16("hi")})
	obj.extra = 1

	_, err := GetProperties(context.Background(), obj, obj, NewIDCache(), []Column{
		{ID: NumericID(uint32(TagSubject.ID())), Type: ColumnString},
	})
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestGetPropertiesInvalidColumnType(t *testing.T) {
	obj := newFakeObject(32)
	_, err := GetProperties(context.Background(), obj, obj, NewIDCache(), []Column{
		{ID: NumericID(1), Type: ColumnType(99)},
	})
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestGetPropertiesAll(t *testing.T) {
	ctx := context.Background()
	obj := newFakeObject(32,
		RawProp{Tag: TagSubject, Data: EncodeUTF16("hi")},
		RawProp{Tag: PropTag(PtLong, 0x8001), Data: []byte{5, 0, 0, 0}},
		RawProp{Tag: PropTag(PtLong, 0x8010), Data: []byte{6, 0, 0, 0}},
	)

	props, err := GetProperties(ctx, obj, obj, NewIDCache(), nil)
	require.NoError(t, err)
	require.Len(t, props, 3)

	got := make(map[string]Value)
	for _, p := range props {
		got[p.ID.String()] = p.Value
	}
	assert.Equal(t, StringValue("hi"), got[NumericID(0x0037).String()])
	assert.Equal(t, IntValue(5), got[Named(NamedInt(testPropSet, 1)).String()])
	assert.Equal(t, IntValue(6), got[NumericID(0x8010).String()])

	assert.Equal(t, [][]Tag{nil}, obj.fetches)
	require.Len(t, obj.tagBatch, 1)
	assert.Len(t, obj.tagBatch[0], 2)
}
