// Package tools holds the functions the agent may call.
package tools

import (
	"context"
	"math"
	"sort"

	"github.com/exemi-au/exemi/internal/apperr"
)

// Handler runs a tool. The result is shown to the model verbatim.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a callable function offered to the model.
type Tool struct {
	Name string `json:"name"`
	// Label is the human-readable name shown to students while the tool
	// runs.
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds the tools of one agent. It is built per request and is
// not safe for concurrent Register calls.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry returns a registry holding tools.
func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool of the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Label returns the display label for name, falling back to the name.
func (r *Registry) Label(name string) string {
	if t := r.tools[name]; t != nil && t.Label != "" {
		return t.Label
	}
	return name
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the tool schemas for the model, sorted by name.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool with decoded arguments. Unknown tools fail with
// ErrToolUnavailable (not found) and arguments that do not fit the
// tool's parameters fail with ErrInvalidArguments (validation) before
// the handler runs.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", apperr.Wrap(apperr.KindNotFound, &ErrToolUnavailable{ToolName: name}, "")
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := tool.checkArgs(args); err != nil {
		return "", err
	}
	return tool.Handler(ctx, args)
}

// checkArgs checks args against the required list and the property types
// of t.Parameters. Unknown arguments are ignored.
func (t *Tool) checkArgs(args map[string]any) error {
	for _, key := range requiredArgs(t.Parameters["required"]) {
		if _, ok := args[key]; !ok {
			return InvalidArguments(t.Name, "%s is required", key)
		}
	}
	props, _ := t.Parameters["properties"].(map[string]any)
	for key, v := range args {
		prop, _ := props[key].(map[string]any)
		want, _ := prop["type"].(string)
		if want == "" || v == nil {
			continue
		}
		if !hasJSONType(v, want) {
			return InvalidArguments(t.Name, "%s must be a %s", key, want)
		}
	}
	return nil
}

func requiredArgs(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, k := range req {
			if s, ok := k.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// hasJSONType reports whether a value decoded by encoding/json has the
// JSON schema type want.
func hasJSONType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

// StringArg returns args[key] when it is a string.
func StringArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}
