package email

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/brandon/mapi-bridge/internal/mapi"
)

// PSetIMAP holds the properties the importer defines for itself.
var PSetIMAP = uuid.MustParse("6f0c2f8e-4b1a-4d7e-9a53-2e8d1c7b5a90")

// NameIMAPUID carries the IMAP UID a message was imported from.
var NameIMAPUID = mapi.NamedInt(PSetIMAP, 1)

const previewLength = 255

// namedProps lists the named properties messages are written with. The
// order matches the tags passed to messageProps.
func namedProps() []mapi.NamedID {
	names := []mapi.NamedID{NameIMAPUID}
	for _, h := range importedHeaders {
		names = append(names, mapi.NamedString(mapi.PSInternetHeaders, strings.ToLower(h)))
	}
	return names
}

// uidValue is the raw form of the UID property FindMessageByNamedValue matches on.
func uidValue(uid uint32) ([]byte, error) {
	p, err := mapi.Encode(0, mapi.IntValue(uid))
	if err != nil {
		return nil, err
	}
	return p.Data, nil
}

// messageProps maps a message onto raw properties. named holds the tags
// registered for namedProps in the target store.
func messageProps(msg *Message, named []mapi.Tag) ([]mapi.RawProp, error) {
	if len(named) != 1+len(importedHeaders) {
		return nil, fmt.Errorf("expected %d named tags, got %d", 1+len(importedHeaders), len(named))
	}

	var props []mapi.RawProp
	var err error
	add := func(tag mapi.Tag, v mapi.Value) {
		if err != nil {
			return
		}
		var p mapi.RawProp
		p, err = mapi.Encode(tag.ID(), v)
		props = append(props, p)
	}

	topic := conversationTopic(msg.Subject)
	flags := 0
	if msg.Seen {
		flags |= mapi.MessageFlagRead
	}

	add(mapi.TagSubject, mapi.StringValue(msg.Subject))
	add(mapi.TagConversationTopic, mapi.StringValue(topic))
	add(mapi.TagSenderName, mapi.StringValue(senderName(msg)))
	add(mapi.TagSenderEmail, mapi.StringValue(msg.SenderEmail))
	add(mapi.TagDisplayTo, mapi.StringValue(strings.Join(msg.To, "; ")))
	add(mapi.TagDisplayCc, mapi.StringValue(strings.Join(msg.Cc, "; ")))
	add(mapi.TagMessageFlags, mapi.IntValue(flags))
	add(mapi.TagBody, mapi.StringValue(msg.BodyText))
	add(mapi.TagPreview, mapi.StringValue(preview(msg.BodyText)))
	if !msg.Date.IsZero() {
		add(mapi.TagDeliveryTime, mapi.DateTimeValue(msg.Date))
	}
	if msg.MessageID != "" {
		add(mapi.TagInternetMessageID, mapi.StringValue(msg.MessageID))
	}
	if msg.BodyHTML != "" {
		add(mapi.TagHTML, mapi.BinaryValue(msg.BodyHTML))
	}
	if topic != "" {
		id := uuid.NewSHA1(PSetIMAP, []byte(strings.ToLower(topic)))
		add(mapi.TagConversationID, mapi.BinaryValue(id[:]))
	}

	add(named[0], mapi.IntValue(msg.UID))
	for i, h := range importedHeaders {
		if v, ok := msg.Headers[h]; ok {
			add(named[i+1], mapi.StringValue(v))
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to encode message %d: %w", msg.UID, err)
	}
	return props, nil
}

func senderName(msg *Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.SenderEmail
}

// conversationTopic strips reply and forward prefixes from a subject.
func conversationTopic(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		i := strings.IndexByte(s, ':')
		if i < 0 {
			return s
		}
		switch strings.ToLower(s[:i]) {
		case "re", "fw", "fwd", "aw", "sv":
			s = strings.TrimSpace(s[i+1:])
		default:
			return s
		}
	}
}

func preview(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	r := []rune(s)
	return string(r[:previewLength])
}
