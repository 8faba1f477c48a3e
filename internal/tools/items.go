package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mapi-bridge/pkg/types"
)

var folderIDSchema = idSchema("Hex entry id of the folder")

// ListItemsTool lists the messages of a folder
type ListItemsTool struct {
	base
}

// Name returns the tool name
func (t *ListItemsTool) Name() string {
	return "list_items"
}

// Description returns the tool description
func (t *ListItemsTool) Description() string {
	return "List the items of a folder with subject, sender, read state and preview"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListItemsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": withDirectives(map[string]interface{}{
			"store_id":  storeIDSchema,
			"folder_id": folderIDSchema,
		}),
		"required": []string{"store_id", "folder_id"},
	}
}

// Execute lists items of a folder
func (t *ListItemsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	f, err := t.folder(ctx, params)
	if err != nil {
		return nil, err
	}
	ids, err := idsParam(params)
	if err != nil {
		return nil, err
	}
	dirs, err := directivesParam(params)
	if err != nil {
		return nil, err
	}

	items, err := f.Items(ctx, ids, dirs)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return itemsJSON(items), nil
}

// ListConversationsTool groups the items of a folder by conversation
type ListConversationsTool struct {
	base
}

// Name returns the tool name
func (t *ListConversationsTool) Name() string {
	return "list_conversations"
}

// Description returns the tool description
func (t *ListConversationsTool) Description() string {
	return "List the conversations of a folder; each groups the items sharing a conversation id"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListConversationsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": withDirectives(map[string]interface{}{
			"store_id":  storeIDSchema,
			"folder_id": folderIDSchema,
		}),
		"required": []string{"store_id", "folder_id"},
	}
}

// Execute groups folder items into conversations
func (t *ListConversationsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	f, err := t.folder(ctx, params)
	if err != nil {
		return nil, err
	}
	ids, err := idsParam(params)
	if err != nil {
		return nil, err
	}
	dirs, err := directivesParam(params)
	if err != nil {
		return nil, err
	}

	convs, err := f.Conversations(ctx, ids, dirs)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	result := make([]types.Conversation, len(convs))
	for i, c := range convs {
		result[i] = conversationJSON(c)
	}
	return result, nil
}

// GetItemTool returns one item with its body
type GetItemTool struct {
	base
}

// Name returns the tool name
func (t *GetItemTool) Name() string {
	return "get_item"
}

// Description returns the tool description
func (t *GetItemTool) Description() string {
	return "Retrieve an item by id including its plain text body"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetItemTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"store_id": storeIDSchema,
			"item_id":  idSchema("Hex entry id of the item"),
		},
		"required": []string{"store_id", "item_id"},
	}
}

// Execute returns one item with its body
func (t *GetItemTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	s, err := t.store(ctx, params)
	if err != nil {
		return nil, err
	}
	id, err := idParam(params, "item_id")
	if err != nil {
		return nil, err
	}

	item, err := s.OpenItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to open item: %w", err)
	}
	body, err := item.Body(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read item body: %w", err)
	}

	result := itemJSON(item)
	result.Body = &body
	return result, nil
}

// GetItemPropertiesTool reads arbitrary properties of an item
type GetItemPropertiesTool struct {
	base
}

// Name returns the tool name
func (t *GetItemPropertiesTool) Name() string {
	return "get_item_properties"
}

// Description returns the tool description
func (t *GetItemPropertiesTool) Description() string {
	return "Read properties of an item by numeric id or named property; all properties when no columns are given"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetItemPropertiesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"store_id": storeIDSchema,
			"item_id":  idSchema("Hex entry id of the item"),
			"columns":  columnsSchema,
		},
		"required": []string{"store_id", "item_id"},
	}
}

// Execute reads properties of an item
func (t *GetItemPropertiesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	s, err := t.store(ctx, params)
	if err != nil {
		return nil, err
	}
	id, err := idParam(params, "item_id")
	if err != nil {
		return nil, err
	}
	columns, err := columnsParam(params)
	if err != nil {
		return nil, err
	}

	props, err := s.ItemProperties(ctx, id, columns)
	if err != nil {
		return nil, fmt.Errorf("failed to get item properties: %w", err)
	}
	return propertiesJSON(props)
}
