package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/brandon/mapi-bridge/internal/entity"
)

var storeIDSchema = idSchema("Hex entry id of the store")

// ListRootFoldersTool lists the folders below a store's IPM subtree
type ListRootFoldersTool struct {
	base
}

// Name returns the tool name
func (t *ListRootFoldersTool) Name() string {
	return "list_root_folders"
}

// Description returns the tool description
func (t *ListRootFoldersTool) Description() string {
	return "List the top-level folders of a store"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListRootFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": withDirectives(map[string]interface{}{
			"store_id": storeIDSchema,
		}),
		"required": []string{"store_id"},
	}
}

// Execute lists the top-level folders of a store
func (t *ListRootFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	s, err := t.store(ctx, params)
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

	folders, err := s.RootFolders(ctx, ids, dirs)
	if err != nil {
		return nil, fmt.Errorf("failed to list root folders: %w", err)
	}
	return foldersJSON(ctx, folders)
}

// ListSpecialFoldersTool resolves well-known folders such as the inbox
type ListSpecialFoldersTool struct {
	base
}

// Name returns the tool name
func (t *ListSpecialFoldersTool) Name() string {
	return "list_special_folders"
}

// Description returns the tool description
func (t *ListSpecialFoldersTool) Description() string {
	return "Resolve special folders (INBOX, SENT, DRAFTS, ...) of a store; every named kind must exist"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListSpecialFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"store_id": storeIDSchema,
			"kinds": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string", "enum": specialKinds()},
				"description": "Special folder kinds to resolve, in order",
			},
		},
		"required": []string{"store_id", "kinds"},
	}
}

// Execute resolves well-known folders of a store
func (t *ListSpecialFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	s, err := t.store(ctx, params)
	if err != nil {
		return nil, err
	}

	raw, _ := params["kinds"].([]interface{})
	if len(raw) == 0 {
		return nil, fmt.Errorf("kinds is required")
	}
	kinds := make([]entity.SpecialFolder, 0, len(raw))
	for _, v := range raw {
		name, _ := v.(string)
		kind, err := entity.ParseSpecialFolder(name)
		if err != nil {
			return nil, fmt.Errorf("%w (one of %s)", err, strings.Join(specialKinds(), ", "))
		}
		kinds = append(kinds, kind)
	}

	folders, err := s.SpecialFolders(ctx, kinds)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve special folders: %w", err)
	}
	return foldersJSON(ctx, folders)
}

// ListSubFoldersTool lists the child folders of a folder
type ListSubFoldersTool struct {
	base
}

// Name returns the tool name
func (t *ListSubFoldersTool) Name() string {
	return "list_sub_folders"
}

// Description returns the tool description
func (t *ListSubFoldersTool) Description() string {
	return "List the child folders of a folder"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListSubFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": withDirectives(map[string]interface{}{
			"store_id":  storeIDSchema,
			"folder_id": idSchema("Hex entry id of the parent folder"),
		}),
		"required": []string{"store_id", "folder_id"},
	}
}

// Execute lists the children of a folder
func (t *ListSubFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
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

	folders, err := f.SubFolders(ctx, ids, dirs)
	if err != nil {
		return nil, fmt.Errorf("failed to list sub folders: %w", err)
	}
	return foldersJSON(ctx, folders)
}

// FolderHierarchyTool walks the folder tree breadth first
type FolderHierarchyTool struct {
	base
}

// Name returns the tool name
func (t *FolderHierarchyTool) Name() string {
	return "folder_hierarchy"
}

// Description returns the tool description
func (t *FolderHierarchyTool) Description() string {
	return "List every folder below a folder, breadth first, or only its direct children"
}

// InputSchema returns the JSON schema for tool inputs
func (t *FolderHierarchyTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"store_id":  storeIDSchema,
			"folder_id": idSchema("Optional: hex entry id of the start folder; the IPM subtree when omitted"),
			"only_children": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: stop after the direct children",
			},
		},
		"required": []string{"store_id"},
	}
}

// Execute walks the folder tree below a folder
func (t *FolderHierarchyTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	s, err := t.store(ctx, params)
	if err != nil {
		return nil, err
	}
	var parent []byte
	if _, ok := stringParam(params, "folder_id"); ok {
		if parent, err = idParam(params, "folder_id"); err != nil {
			return nil, err
		}
	}

	folders, err := s.FolderHierarchy(ctx, parent, boolParam(params, "only_children"))
	if err != nil {
		return nil, fmt.Errorf("failed to walk folder hierarchy: %w", err)
	}
	return foldersJSON(ctx, folders)
}

// GetFolderPropertiesTool reads arbitrary properties of a folder
type GetFolderPropertiesTool struct {
	base
}

// Name returns the tool name
func (t *GetFolderPropertiesTool) Name() string {
	return "get_folder_properties"
}

// Description returns the tool description
func (t *GetFolderPropertiesTool) Description() string {
	return "Read properties of a folder by numeric id or named property; all properties when no columns are given"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetFolderPropertiesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"store_id":  storeIDSchema,
			"folder_id": idSchema("Hex entry id of the folder"),
			"columns":   columnsSchema,
		},
		"required": []string{"store_id", "folder_id"},
	}
}

// Execute reads properties of a folder
func (t *GetFolderPropertiesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	s, err := t.store(ctx, params)
	if err != nil {
		return nil, err
	}
	id, err := idParam(params, "folder_id")
	if err != nil {
		return nil, err
	}
	columns, err := columnsParam(params)
	if err != nil {
		return nil, err
	}

	props, err := s.FolderProperties(ctx, id, columns)
	if err != nil {
		return nil, fmt.Errorf("failed to get folder properties: %w", err)
	}
	return propertiesJSON(props)
}

func specialKinds() []string {
	names := make([]string, 0, int(entity.Drafts)+1)
	for k := entity.IPMSubtree; k <= entity.Drafts; k++ {
		names = append(names, k.String())
	}
	return names
}
