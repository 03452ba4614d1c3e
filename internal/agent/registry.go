package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool declares one capability offered to the model: a name, a natural
// language description, and a JSON schema for its arguments.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
}

// Executable is a Tool with an execution body. A registered tool that is
// NOT Executable is a terminating tool: calling it ends the loop instead of
// producing a result (idle, message_ask_user, and the ask-mode shell
// variant work this way).
type Executable interface {
	Tool

	// Execute runs the tool. Streamed status and output go through sink;
	// the returned string is the full untruncated output destined for
	// model context. Tool-level failures come back as errors and are fed
	// to the model as error results, never aborting the turn.
	Execute(ctx context.Context, params json.RawMessage, sink EventSink) (string, error)
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the tool set for one plugin configuration. Argument
// schemas are compiled at registration so malformed tool declarations fail
// at startup, not mid-turn.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool, compiling its argument schema.
func (r *Registry) Register(tool Tool) error {
	compiled, err := compileSchema(tool.Name(), tool.Schema())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name())
	}
	r.tools[tool.Name()] = registeredTool{tool: tool, schema: compiled}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := "tool://" + name + ".json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tool %q: add schema: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", name, err)
	}
	return compiled, nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Terminating reports whether a tool ends the loop when called.
func (r *Registry) Terminating(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return false
	}
	_, executable := rt.tool.(Executable)
	return !executable
}

// ValidateArgs checks params against the tool's compiled schema.
func (r *Registry) ValidateArgs(name string, params json.RawMessage) error {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return fmt.Errorf("tool %q: arguments are not valid JSON: %w", name, err)
	}
	if err := rt.schema.Validate(v); err != nil {
		return fmt.Errorf("tool %q: invalid arguments: %w", name, err)
	}
	return nil
}

// Defs returns provider-facing tool declarations in stable order.
func (r *Registry) Defs() []ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDef, 0, len(r.tools))
	for _, rt := range r.tools {
		defs = append(defs, ToolDef{
			Name:        rt.tool.Name(),
			Description: rt.tool.Description(),
			Schema:      rt.tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
