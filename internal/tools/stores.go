package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mapi-bridge/pkg/types"
)

// ListStoresTool lists the message stores of the session
type ListStoresTool struct {
	base
}

// Name returns the tool name
func (t *ListStoresTool) Name() string {
	return "list_stores"
}

// Description returns the tool description
func (t *ListStoresTool) Description() string {
	return "List message stores, optionally with every extra column of the store row"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListStoresTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": withDirectives(map[string]interface{}{
			"include_columns": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: include the non-default columns of each store",
			},
		}),
	}
}

// Execute executes the tool
func (t *ListStoresTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	ids, err := idsParam(params)
	if err != nil {
		return nil, err
	}
	dirs, err := directivesParam(params)
	if err != nil {
		return nil, err
	}

	stores, err := t.query.Stores(ctx, ids, dirs)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	withColumns := boolParam(params, "include_columns")
	result := make([]types.Store, 0, len(stores))
	for _, s := range stores {
		j, err := storeJSON(ctx, s, withColumns)
		if err != nil {
			return nil, fmt.Errorf("failed to read store %s: %w", s.Name(), err)
		}
		result = append(result, j)
	}
	return result, nil
}
