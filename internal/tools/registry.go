package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pigforge/gopig/internal/providers"
)

// HandlerFunc executes a tool with validated arguments.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (*Result, error)

// Param describes one tool parameter.
type Param struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"` // "string", "number", "boolean", "object", "array"
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Default     interface{}   `json:"default,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
}

// Descriptor declares a registered tool.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	Handler     HandlerFunc
	Async       bool
}

// ToolError reports a tool lookup, validation, or execution failure. The
// agent loop feeds these back to the LLM instead of aborting the run.
type ToolError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// AsyncCallback receives the completion of an async tool execution.
type AsyncCallback func(tool string, result *Result)

// Registry holds the available tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Descriptor
	onAsync AsyncCallback
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds a tool. Re-registering a name replaces the previous
// descriptor.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if d.Handler == nil {
		return fmt.Errorf("register tool %q: nil handler", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		slog.Warn("tool re-registered, replacing", "tool", d.Name)
	}
	r.tools[d.Name] = d
	return nil
}

// Unregister removes a tool; unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the descriptor for a tool name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OnAsyncResult sets the callback invoked when an async tool completes.
func (r *Registry) OnAsyncResult(cb AsyncCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAsync = cb
}

// Schemas exports all tools as provider tool definitions, sorted by name
// for deterministic request bodies.
func (r *Registry) Schemas() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, n := range names {
		d := r.tools[n]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  paramsSchema(d.Params),
			},
		})
	}
	return defs
}

func paramsSchema(params []Param) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]interface{}{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Execute validates arguments and runs the named tool. Unknown tools,
// validation failures, and handler panics all come back as *ToolError;
// handler-level failures come back as an error Result, never a panic.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	r.mu.RLock()
	d, ok := r.tools[name]
	cb := r.onAsync
	r.mu.RUnlock()

	if !ok {
		return nil, &ToolError{Tool: name, Message: "unknown tool"}
	}

	validated, err := validateArgs(d, args)
	if err != nil {
		return nil, err
	}

	if d.Async {
		go func() {
			result := runHandler(ctx, d, validated)
			if cb != nil {
				cb(name, result)
			}
		}()
		return AsyncResult(fmt.Sprintf("%s started; result will be delivered when ready", name)), nil
	}

	return runHandler(ctx, d, validated), nil
}

func runHandler(ctx context.Context, d Descriptor, args map[string]interface{}) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool handler panicked", "tool", d.Name, "panic", rec)
			result = ErrorResult(fmt.Sprintf("tool %q panicked: %v", d.Name, rec))
		}
	}()

	res, err := d.Handler(ctx, args)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if res == nil {
		return NewResult("")
	}
	return res
}

// validateArgs checks required parameters, injects defaults, and performs
// basic type checking with numeric coercion (JSON numbers arrive as
// float64).
func validateArgs(d Descriptor, args map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}

	for _, p := range d.Params {
		v, present := out[p.Name]
		if !present {
			if p.Default != nil {
				out[p.Name] = p.Default
				continue
			}
			if p.Required {
				return nil, &ToolError{Tool: d.Name, Message: fmt.Sprintf("missing required parameter %q", p.Name)}
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return nil, &ToolError{
				Tool:    d.Name,
				Message: fmt.Sprintf("parameter %q: expected %s, got %T", p.Name, p.Type, v),
			}
		}
	}
	return out, nil
}

func typeMatches(paramType string, v interface{}) bool {
	switch paramType {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	default:
		return true
	}
}
