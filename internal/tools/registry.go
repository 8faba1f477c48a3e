package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mapi-bridge/internal/email"
	"github.com/brandon/mapi-bridge/internal/entity"
)

// Registry manages MCP tools
type Registry struct {
	logger   *logrus.Logger
	query    *entity.Query
	importer *email.Manager
	tools    map[string]Tool

	// mu serializes calls; a call's cached entities are dropped when it ends.
	mu sync.Mutex
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a new tool registry. importer may be nil, in which
// case sync_account is not offered.
func NewRegistry(query *entity.Query, importer *email.Manager, logger *logrus.Logger) *Registry {
	reg := &Registry{
		logger:   logger,
		query:    query,
		importer: importer,
		tools:    make(map[string]Tool),
	}

	reg.registerTools()
	return reg
}

// registerTools registers all available tools
func (r *Registry) registerTools() {
	b := base{query: r.query, logger: r.logger}
	toolList := []Tool{
		&ListStoresTool{b},
		&ListRootFoldersTool{b},
		&ListSpecialFoldersTool{b},
		&ListSubFoldersTool{b},
		&FolderHierarchyTool{b},
		&GetFolderPropertiesTool{b},
		&ListItemsTool{b},
		&ListConversationsTool{b},
		&GetItemTool{b},
		&GetItemPropertiesTool{b},
	}
	if r.importer != nil {
		toolList = append(toolList, &SyncAccountTool{base: b, importer: r.importer})
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	r.logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// Call runs a tool and then drops every entity the call cached.
func (r *Registry) Call(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	tool, ok := r.GetTool(name)
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.query.ClearCaches()

	result, err := tool.Execute(ctx, params)
	if err != nil {
		r.logger.WithError(err).WithField("tool", name).Debug("Tool call failed")
		return nil, err
	}
	return result, nil
}

// ListTools returns all registered tools sorted by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}

// base carries what every query tool needs.
type base struct {
	query  *entity.Query
	logger *logrus.Logger
}

func (b base) store(ctx context.Context, params map[string]interface{}) (*entity.Store, error) {
	id, err := idParam(params, "store_id")
	if err != nil {
		return nil, err
	}
	s, err := b.query.LookupStore(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up store: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: store with id=%x", entity.ErrNotFound, id)
	}
	return s, nil
}

// folder opens folder_id of store_id; an absent folder_id is the IPM subtree.
func (b base) folder(ctx context.Context, params map[string]interface{}) (*entity.Folder, error) {
	s, err := b.store(ctx, params)
	if err != nil {
		return nil, err
	}
	var id []byte
	if _, ok := stringParam(params, "folder_id"); ok {
		if id, err = idParam(params, "folder_id"); err != nil {
			return nil, err
		}
	}
	return s.OpenFolder(ctx, id)
}
