package tools

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/brandon/mapi-bridge/internal/entity"
	"github.com/brandon/mapi-bridge/internal/mapi"
	"github.com/brandon/mapi-bridge/pkg/types"
)

func hexIDs(ids [][]byte) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = hex.EncodeToString(id)
	}
	return out
}

func timePtr(t time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	return &t
}

func storeJSON(ctx context.Context, s *entity.Store, withColumns bool) (types.Store, error) {
	out := types.Store{ID: hex.EncodeToString(s.ID()), Name: s.Name()}
	if withColumns {
		cols, err := s.Columns(ctx)
		if err != nil {
			return out, err
		}
		if out.Columns, err = propertiesJSON(cols); err != nil {
			return out, err
		}
	}
	return out, nil
}

func folderJSON(ctx context.Context, f *entity.Folder) (types.Folder, error) {
	modified, ok := f.Modified()
	out := types.Folder{
		ID:             hex.EncodeToString(f.ID()),
		ParentID:       hex.EncodeToString(f.ParentID()),
		Name:           f.Name(),
		ContainerClass: f.ContainerClass(),
		Count:          f.Count(),
		Unread:         f.Unread(),
		HasSubfolders:  f.HasSubfolders(),
		Modified:       timePtr(modified, ok),
	}
	kind, special, err := f.SpecialFolder(ctx)
	if err != nil {
		return out, err
	}
	if special {
		out.Special = kind.String()
	}
	return out, nil
}

func foldersJSON(ctx context.Context, folders []*entity.Folder) ([]types.Folder, error) {
	out := make([]types.Folder, 0, len(folders))
	for _, f := range folders {
		j, err := folderJSON(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func itemJSON(i *entity.Item) types.Item {
	received, rok := i.Received()
	modified, mok := i.Modified()
	out := types.Item{
		ID:       hex.EncodeToString(i.ID()),
		ParentID: hex.EncodeToString(i.ParentID()),
		Subject:  i.Subject(),
		Sender:   i.Sender(),
		To:       i.To(),
		Cc:       i.Cc(),
		Preview:  i.Preview(),
		Read:     i.Read(),
		Received: timePtr(received, rok),
		Modified: timePtr(modified, mok),
	}
	if id := i.ConversationID(); len(id) > 0 {
		out.ConversationID = hex.EncodeToString(id)
	}
	return out
}

func itemsJSON(items []*entity.Item) []types.Item {
	out := make([]types.Item, len(items))
	for n, i := range items {
		out[n] = itemJSON(i)
	}
	return out
}

func conversationJSON(c *entity.Conversation) types.Conversation {
	return types.Conversation{
		ID:       hex.EncodeToString(c.ID()),
		Topic:    c.Topic(),
		ItemIDs:  hexIDs(c.ItemIDs()),
		Received: c.Received(),
	}
}

func propertyIDJSON(id mapi.PropertyID) types.PropertyID {
	name, ok := id.Name()
	if !ok {
		n := id.Numeric()
		return types.PropertyID{ID: &n}
	}
	out := types.PropertyID{PropSet: name.PropSet.String()}
	if name.Kind == mapi.NameKindString {
		out.Name = &name.Name
	} else {
		out.LID = &name.ID
	}
	return out
}

// valueJSON renders a value for JSON. Streams are read in full.
func valueJSON(v mapi.Value) (string, any, error) {
	if s, ok := v.(*mapi.StreamValue); ok {
		m, err := s.Materialize()
		if err != nil {
			return "", nil, err
		}
		v = m
	}

	switch v := v.(type) {
	case nil:
		return "", nil, nil
	case mapi.IntValue:
		return v.Kind().String(), int64(v), nil
	case mapi.BoolValue:
		return v.Kind().String(), bool(v), nil
	case mapi.StringValue:
		return v.Kind().String(), string(v), nil
	case mapi.GuidValue:
		return v.Kind().String(), v.String(), nil
	case mapi.DateTimeValue:
		return v.Kind().String(), v.Time().UTC().Format(time.RFC3339Nano), nil
	case mapi.BinaryValue:
		return v.Kind().String(), hex.EncodeToString(v), nil
	}
	return "", nil, fmt.Errorf("unsupported value %T", v)
}

func propertiesJSON(props []mapi.Property) ([]types.Property, error) {
	out := make([]types.Property, 0, len(props))
	for _, p := range props {
		kind, value, err := valueJSON(p.Value)
		if err != nil {
			mapi.CloseProperties(props)
			return nil, fmt.Errorf("failed to read property %s: %w", p.ID, err)
		}
		out = append(out, types.Property{
			PropertyID: propertyIDJSON(p.ID),
			Kind:       kind,
			Value:      value,
		})
	}
	return out, nil
}
