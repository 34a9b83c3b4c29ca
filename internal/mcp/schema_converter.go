package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SchemaField is one typed field of the internal tool-schema format:
// type, constraints, and nested structure, decoupled from the raw JSON
// Schema document an MCP server declared.
type SchemaField struct {
	Type        string                  `json:"type"`
	Description string                  `json:"description,omitempty"`
	Enum        []any                   `json:"enum,omitempty"`
	Minimum     *float64                `json:"minimum,omitempty"`
	Maximum     *float64                `json:"maximum,omitempty"`
	MinLength   *int                    `json:"minLength,omitempty"`
	MaxLength   *int                    `json:"maxLength,omitempty"`
	Pattern     string                  `json:"pattern,omitempty"`
	Default     any                     `json:"default,omitempty"`
	Items       *SchemaField            `json:"items,omitempty"`
	Properties  map[string]*SchemaField `json:"properties,omitempty"`
	Required    []string                `json:"required,omitempty"`
}

// InternalSchema is the converted form of an MCP tool's input schema: a
// typed field map plus the required-field set.
type InternalSchema struct {
	Fields   map[string]*SchemaField
	Required []string
}

// dangerousKeys are refused during conversion and argument cloning.
// They are meaningless to any server implemented in a sane language and
// only ever appear in prototype-pollution payloads.
var dangerousKeys = map[string]bool{
	"__proto__":      true,
	"constructor":    true,
	"prototype":      true,
	"hasOwnProperty": true,
}

// FromMCPSchema converts an MCP JSON Schema document into the internal
// format, preserving types, constraints, nesting, and defaults. The
// input document is never retained: every value is copied.
func FromMCPSchema(raw json.RawMessage) (*InternalSchema, error) {
	if len(raw) == 0 {
		return &InternalSchema{Fields: map[string]*SchemaField{}}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse mcp schema: %w", err)
	}
	root, err := fieldFromDoc(doc)
	if err != nil {
		return nil, err
	}
	out := &InternalSchema{Fields: root.Properties, Required: root.Required}
	if out.Fields == nil {
		out.Fields = map[string]*SchemaField{}
	}
	return out, nil
}

func fieldFromDoc(doc map[string]any) (*SchemaField, error) {
	f := &SchemaField{}
	if t, ok := doc["type"].(string); ok {
		f.Type = t
	}
	if d, ok := doc["description"].(string); ok {
		f.Description = d
	}
	if p, ok := doc["pattern"].(string); ok {
		f.Pattern = p
	}
	if e, ok := doc["enum"].([]any); ok {
		f.Enum = append([]any(nil), e...)
	}
	if v, ok := numberField(doc, "minimum"); ok {
		f.Minimum = &v
	}
	if v, ok := numberField(doc, "maximum"); ok {
		f.Maximum = &v
	}
	if v, ok := numberField(doc, "minLength"); ok {
		n := int(v)
		f.MinLength = &n
	}
	if v, ok := numberField(doc, "maxLength"); ok {
		n := int(v)
		f.MaxLength = &n
	}
	if d, ok := doc["default"]; ok {
		f.Default = cloneValue(d)
	}
	if items, ok := doc["items"].(map[string]any); ok {
		child, err := fieldFromDoc(items)
		if err != nil {
			return nil, err
		}
		f.Items = child
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		f.Properties = make(map[string]*SchemaField, len(props))
		for name, sub := range props {
			if dangerousKeys[name] {
				return nil, fmt.Errorf("mcp schema declares forbidden property %q", name)
			}
			subDoc, ok := sub.(map[string]any)
			if !ok {
				continue
			}
			child, err := fieldFromDoc(subDoc)
			if err != nil {
				return nil, err
			}
			f.Properties[name] = child
		}
	}
	if req, ok := doc["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				f.Required = append(f.Required, name)
			}
		}
	}
	return f, nil
}

func numberField(doc map[string]any, key string) (float64, bool) {
	v, ok := doc[key].(float64)
	return v, ok
}

// ToMCPSchema converts the internal format back into an MCP JSON Schema
// object document. Round-tripping a converted schema yields a
// semantically identical document.
func (s *InternalSchema) ToMCPSchema() (json.RawMessage, error) {
	root := &SchemaField{Type: "object", Properties: s.Fields, Required: s.Required}
	doc := docFromField(root)
	return json.Marshal(doc)
}

func docFromField(f *SchemaField) map[string]any {
	doc := map[string]any{}
	if f.Type != "" {
		doc["type"] = f.Type
	}
	if f.Description != "" {
		doc["description"] = f.Description
	}
	if f.Pattern != "" {
		doc["pattern"] = f.Pattern
	}
	if len(f.Enum) > 0 {
		doc["enum"] = append([]any(nil), f.Enum...)
	}
	if f.Minimum != nil {
		doc["minimum"] = *f.Minimum
	}
	if f.Maximum != nil {
		doc["maximum"] = *f.Maximum
	}
	if f.MinLength != nil {
		doc["minLength"] = *f.MinLength
	}
	if f.MaxLength != nil {
		doc["maxLength"] = *f.MaxLength
	}
	if f.Default != nil {
		doc["default"] = cloneValue(f.Default)
	}
	if f.Items != nil {
		doc["items"] = docFromField(f.Items)
	}
	if f.Properties != nil {
		props := make(map[string]any, len(f.Properties))
		names := make([]string, 0, len(f.Properties))
		for name := range f.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			props[name] = docFromField(f.Properties[name])
		}
		doc["properties"] = props
	}
	if len(f.Required) > 0 {
		req := make([]any, 0, len(f.Required))
		for _, r := range f.Required {
			req = append(req, r)
		}
		doc["required"] = req
	}
	return doc
}

// CloneArguments deep-clones a tool-call argument payload, dropping any
// dangerous key at any depth, so structural sharing never escapes to the
// caller and a malicious payload cannot smuggle pollution keys through.
func CloneArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if dangerousKeys[k] {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return CloneArguments(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}
