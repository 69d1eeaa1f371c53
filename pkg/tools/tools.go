// Package tools provides the tool registry and dispatcher for agentic
// conversations. A registry holds the tools a caller declares for a turn;
// the dispatcher resolves tool calls produced by the model against it and
// executes them, uniformly across local handlers, remote HTTP tools, and
// vendor-hosted tools (which are declared to the backend but never reach the
// dispatcher).
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Kind identifies how a tool is executed.
type Kind string

const (
	// KindLocal tools run an in-process Go handler.
	KindLocal Kind = "local"
	// KindRemote tools are invoked over HTTP against an external endpoint.
	KindRemote Kind = "remote"
	// KindHosted tools execute on the vendor's side; they are declared in
	// requests but never dispatched locally.
	KindHosted Kind = "hosted"
)

// ErrNotFound is returned when a tool call names an unregistered tool.
// This is a configuration error and always fatal for the turn.
var ErrNotFound = errors.New("tool not found")

// Handler is the function signature for local tools. The returned value is
// JSON-marshaled into the result delivered to the model.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool declares a single tool available to the model.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema for the tool's arguments.
	Parameters json.RawMessage
	Kind       Kind

	// Handler executes KindLocal tools.
	Handler Handler
	// Endpoint is the HTTP URL for KindRemote tools.
	Endpoint string
	// Native is the vendor-shaped declaration for KindHosted tools,
	// passed through to the backend verbatim.
	Native json.RawMessage
}

// Call is a normalized tool invocation extracted from a model response.
type Call struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Result is the outcome of one tool call. IsError marks an error payload
// that is delivered to the model as content (recoverable), as opposed to a
// dispatch failure, which surfaces as a Go error.
type Result struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Registry holds the tools declared for a conversation turn.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, validating it for its kind. Registering a duplicate
// name is an error.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	switch t.Kind {
	case KindLocal:
		if t.Handler == nil {
			return fmt.Errorf("local tool %q requires a handler", t.Name)
		}
	case KindRemote:
		if t.Endpoint == "" {
			return fmt.Errorf("remote tool %q requires an endpoint", t.Name)
		}
	case KindHosted:
		if len(t.Native) == 0 {
			return fmt.Errorf("hosted tool %q requires a native declaration", t.Name)
		}
	default:
		return fmt.Errorf("tool %q: unknown kind %q", t.Name, t.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister registers a tool and panics on error. Intended for static
// tool tables.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Callable returns local and remote tools in registration order. These are
// the tools the dispatcher can invoke.
func (r *Registry) Callable() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		if t.Kind != KindHosted {
			out = append(out, t)
		}
	}
	return out
}

// Hosted returns vendor-hosted tool declarations in registration order.
func (r *Registry) Hosted() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0)
	for _, name := range r.order {
		t := r.tools[name]
		if t.Kind == KindHosted {
			out = append(out, t)
		}
	}
	return out
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
