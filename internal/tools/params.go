package tools

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/brandon/mapi-bridge/internal/driver"
	"github.com/brandon/mapi-bridge/internal/mapi"
)

func idSchema(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

var idsSchema = map[string]interface{}{
	"type":        "array",
	"items":       map[string]interface{}{"type": "string"},
	"description": "Optional: hex entry ids to return, in order. Unknown ids are an error",
}

var orderBySchema = map[string]interface{}{
	"type": "array",
	"items": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tag":        map[string]interface{}{"type": "string", "description": "Property tag, e.g. 0x0E060040"},
			"descending": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"tag"},
	},
	"description": "Optional: sort orders replacing the default order",
}

var columnsSchema = map[string]interface{}{
	"type": "array",
	"items": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":      map[string]interface{}{"description": "Numeric property id, e.g. 0x0037"},
			"propset": map[string]interface{}{"type": "string", "description": "Property set GUID of a named property"},
			"name":    map[string]interface{}{"type": "string", "description": "String name of a named property"},
			"lid":     map[string]interface{}{"type": "integer", "description": "Numeric name of a named property"},
			"type":    map[string]interface{}{"type": "string", "enum": []string{"integer", "boolean", "string", "guid", "datetime", "binary"}},
		},
		"required": []string{"type"},
	},
	"description": "Optional: properties to fetch; all properties when omitted",
}

// withDirectives adds the table directive parameters to a properties map.
func withDirectives(props map[string]interface{}) map[string]interface{} {
	props["ids"] = idsSchema
	props["skip"] = map[string]interface{}{"type": "integer", "description": "Optional: rows to skip"}
	props["take"] = map[string]interface{}{"type": "integer", "description": "Optional: maximum rows to return"}
	props["order_by"] = orderBySchema
	return props
}

func stringParam(params map[string]interface{}, name string) (string, bool) {
	s, ok := params[name].(string)
	return s, ok && s != ""
}

func intParam(params map[string]interface{}, name string) (int, error) {
	switch v := params[name].(type) {
	case nil:
		return 0, nil
	case float64:
		if v < 0 || v != float64(int(v)) {
			return 0, fmt.Errorf("%s must be a non-negative integer", name)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%s must be a non-negative integer", name)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s must be a non-negative integer", name)
}

func boolParam(params map[string]interface{}, name string) bool {
	b, _ := params[name].(bool)
	return b
}

func parseID(s string) ([]byte, error) {
	id, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid entry id %q: %w", s, err)
	}
	return id, nil
}

// idParam decodes a required hex entry id.
func idParam(params map[string]interface{}, name string) ([]byte, error) {
	s, ok := stringParam(params, name)
	if !ok {
		return nil, fmt.Errorf("%s is required", name)
	}
	return parseID(s)
}

// idsParam decodes the optional ids list. Absent means nil, which selects
// the whole collection.
func idsParam(params map[string]interface{}) ([][]byte, error) {
	raw, ok := params["ids"].([]interface{})
	if !ok {
		return nil, nil
	}
	ids := make([][]byte, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("ids must be hex strings")
		}
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseUint(v interface{}, name string, bits int) (uint64, error) {
	switch v := v.(type) {
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("invalid %s: %v", name, v)
		}
		return uint64(v), nil
	case string:
		n, err := strconv.ParseUint(v, 0, bits)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s must be a number or string", name)
}

func directivesParam(params map[string]interface{}) (driver.Directives, error) {
	var dirs driver.Directives
	var err error
	if dirs.Skip, err = intParam(params, "skip"); err != nil {
		return dirs, err
	}
	if dirs.Take, err = intParam(params, "take"); err != nil {
		return dirs, err
	}

	raw, _ := params["order_by"].([]interface{})
	for _, v := range raw {
		o, ok := v.(map[string]interface{})
		if !ok {
			return dirs, fmt.Errorf("order_by entries must be objects")
		}
		tag, err := parseUint(o["tag"], "tag", 32)
		if err != nil {
			return dirs, err
		}
		dirs.OrderBy = append(dirs.OrderBy, driver.SortOrder{
			Tag:        mapi.Tag(tag),
			Descending: boolParam(o, "descending"),
		})
	}
	return dirs, nil
}

// columnsParam decodes the optional columns list; nil requests every property.
func columnsParam(params map[string]interface{}) ([]mapi.Column, error) {
	raw, ok := params["columns"].([]interface{})
	if !ok {
		return nil, nil
	}
	columns := make([]mapi.Column, 0, len(raw))
	for i, v := range raw {
		c, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("column %d must be an object", i)
		}
		col, err := parseColumn(c)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func parseColumn(c map[string]interface{}) (mapi.Column, error) {
	typeName, _ := c["type"].(string)
	colType, err := mapi.ParseColumnType(typeName)
	if err != nil {
		return mapi.Column{}, err
	}

	if id, ok := c["id"]; ok {
		n, err := parseUint(id, "id", 16)
		if err != nil {
			return mapi.Column{}, err
		}
		return mapi.Column{ID: mapi.NumericID(uint32(n)), Type: colType}, nil
	}

	set, ok := stringParam(c, "propset")
	if !ok {
		return mapi.Column{}, fmt.Errorf("either id or propset is required")
	}
	propSet, err := uuid.Parse(set)
	if err != nil {
		return mapi.Column{}, fmt.Errorf("invalid propset %q: %w", set, err)
	}
	if name, ok := stringParam(c, "name"); ok {
		return mapi.Column{ID: mapi.Named(mapi.NamedString(propSet, name)), Type: colType}, nil
	}
	lid, ok := c["lid"].(float64)
	if !ok || lid != float64(int32(lid)) {
		return mapi.Column{}, fmt.Errorf("named column needs a name or an integer lid")
	}
	return mapi.Column{ID: mapi.Named(mapi.NamedInt(propSet, int32(lid))), Type: colType}, nil
}
