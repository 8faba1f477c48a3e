package email

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mapi-bridge/internal/mapi"
)

func testNamedTags() []mapi.Tag {
	tags := make([]mapi.Tag, len(namedProps()))
	for i := range tags {
		tags[i] = mapi.PropTag(mapi.PtUnspecified, uint16(mapi.NamedIDThreshold+i))
	}
	return tags
}

func propValues(t *testing.T, props []mapi.RawProp) map[uint16]mapi.Value {
	t.Helper()
	out := make(map[uint16]mapi.Value, len(props))
	for _, p := range props {
		v, err := mapi.Decode(p)
		require.NoError(t, err, "decode %s", p.Tag)
		out[p.Tag.ID()] = v
	}
	return out
}

func TestMessageProps(t *testing.T) {
	date := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	msg := &Message{
		UID:         4242,
		MessageID:   "<abc@example.com>",
		Subject:     "RE: Fwd: Quarterly numbers",
		SenderName:  "Ada Lovelace",
		SenderEmail: "ada@example.com",
		To:          []string{"Bob", "carol@example.com"},
		Cc:          []string{"Dave"},
		Date:        date,
		Seen:        true,
		BodyText:    "Hello\n\n  there",
		BodyHTML:    "<p>Hello there</p>",
		Headers:     map[string]string{"List-Id": "<team.example.com>"},
	}
	named := testNamedTags()

	props, err := messageProps(msg, named)
	require.NoError(t, err)
	values := propValues(t, props)

	assert.Equal(t, mapi.StringValue("RE: Fwd: Quarterly numbers"), values[mapi.TagSubject.ID()])
	assert.Equal(t, mapi.StringValue("Quarterly numbers"), values[mapi.TagConversationTopic.ID()])
	assert.Equal(t, mapi.StringValue("Ada Lovelace"), values[mapi.TagSenderName.ID()])
	assert.Equal(t, mapi.StringValue("ada@example.com"), values[mapi.TagSenderEmail.ID()])
	assert.Equal(t, mapi.StringValue("Bob; carol@example.com"), values[mapi.TagDisplayTo.ID()])
	assert.Equal(t, mapi.StringValue("Dave"), values[mapi.TagDisplayCc.ID()])
	assert.Equal(t, mapi.IntValue(mapi.MessageFlagRead), values[mapi.TagMessageFlags.ID()])
	assert.Equal(t, mapi.StringValue("Hello\n\n  there"), values[mapi.TagBody.ID()])
	assert.Equal(t, mapi.StringValue("Hello there"), values[mapi.TagPreview.ID()])
	assert.Equal(t, mapi.StringValue("<abc@example.com>"), values[mapi.TagInternetMessageID.ID()])
	assert.Equal(t, mapi.BinaryValue("<p>Hello there</p>"), values[mapi.TagHTML.ID()])
	assert.True(t, values[mapi.TagDeliveryTime.ID()].(mapi.DateTimeValue).Time().Equal(date))

	assert.Equal(t, mapi.IntValue(4242), values[named[0].ID()])
	listID := importedIndex(t, "List-Id")
	assert.Equal(t, mapi.StringValue("<team.example.com>"), values[named[listID+1].ID()])
	mailer := importedIndex(t, "X-Mailer")
	assert.NotContains(t, values, named[mailer+1].ID())
}

func importedIndex(t *testing.T, header string) int {
	t.Helper()
	for i, h := range importedHeaders {
		if h == header {
			return i
		}
	}
	t.Fatalf("header %s is not imported", header)
	return -1
}

func TestMessagePropsOptionalFields(t *testing.T) {
	props, err := messageProps(&Message{UID: 1, SenderEmail: "x@example.com"}, testNamedTags())
	require.NoError(t, err)
	values := propValues(t, props)

	assert.Equal(t, mapi.StringValue("x@example.com"), values[mapi.TagSenderName.ID()])
	assert.Equal(t, mapi.IntValue(0), values[mapi.TagMessageFlags.ID()])
	for _, tag := range []mapi.Tag{mapi.TagDeliveryTime, mapi.TagInternetMessageID, mapi.TagHTML, mapi.TagConversationID} {
		assert.NotContains(t, values, tag.ID(), tag.String())
	}
}

func TestMessagePropsWrongNamedTags(t *testing.T) {
	_, err := messageProps(&Message{UID: 1}, testNamedTags()[:1])
	assert.Error(t, err)
}

func TestConversationIDSharedByReplies(t *testing.T) {
	named := testNamedTags()
	first, err := messageProps(&Message{UID: 1, Subject: "Launch plan"}, named)
	require.NoError(t, err)
	reply, err := messageProps(&Message{UID: 2, Subject: "Re: RE: launch plan"}, named)
	require.NoError(t, err)
	other, err := messageProps(&Message{UID: 3, Subject: "Lunch plan"}, named)
	require.NoError(t, err)

	id := func(props []mapi.RawProp) mapi.Value {
		return propValues(t, props)[mapi.TagConversationID.ID()]
	}
	assert.Len(t, id(first).(mapi.BinaryValue), 16)
	assert.Equal(t, id(first), id(reply))
	assert.NotEqual(t, id(first), id(other))
}

func TestConversationTopic(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"Hello", "Hello"},
		{"  Re: Hello ", "Hello"},
		{"FW: re: Fwd:Hello", "Hello"},
		{"AW: SV: Hello", "Hello"},
		{"Note: Hello", "Note: Hello"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, conversationTopic(tt.subject))
		})
	}
}

func TestPreviewTruncates(t *testing.T) {
	body := strings.Repeat("ü ", 300)
	got := preview(body)
	assert.Equal(t, previewLength, len([]rune(got)))
	assert.True(t, strings.HasPrefix(got, "ü ü"))
}

func TestUIDValueMatchesEncodedProperty(t *testing.T) {
	named := testNamedTags()
	props, err := messageProps(&Message{UID: 3000000000}, named)
	require.NoError(t, err)

	want, err := uidValue(3000000000)
	require.NoError(t, err)
	for _, p := range props {
		if p.Tag.ID() == named[0].ID() {
			assert.Equal(t, mapi.PtI8, p.Tag.Type())
			assert.Equal(t, want, p.Data)
			return
		}
	}
	t.Fatal("UID property missing")
}
