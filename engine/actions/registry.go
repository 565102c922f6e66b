package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/schemaflow/schemaflow/engine/execution"
)

// ExecuteFunc runs one node. config is the node's interpolated config; the
// returned value becomes the node record's result.
type ExecuteFunc func(ctx context.Context, ec *execution.Context, config map[string]any) (any, error)

// Metadata describes an action type for the editor toolbar and for LLM
// workflow generation.
type Metadata struct {
	Name        string         `json:"name"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Parameters  map[string]any `json:"parameters"`
	Inputs      []string       `json:"inputs"`
	Outputs     []string       `json:"outputs"`
}

// Registry maps node types to their metadata and executors.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]entry
	order   []string
}

type entry struct {
	meta Metadata
	fn   ExecuteFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]entry)}
}

// Register adds an action. Re-registering a name replaces it.
func (r *Registry) Register(meta Metadata, fn ExecuteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[meta.Name]; !exists {
		r.order = append(r.order, meta.Name)
	}
	r.actions[meta.Name] = entry{meta: meta, fn: fn}
}

// Get returns an action's metadata.
func (r *Registry) Get(name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[name]
	return e.meta, ok
}

// ExecuteFunc returns the executor for a node type.
func (r *Registry) ExecuteFunc(name string) (ExecuteFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("unknown action type: %s", name)
	}
	return e.fn, nil
}

// ListAll returns every action's metadata in registration order, for the
// editor toolbar.
func (r *Registry) ListAll() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.actions[name].meta)
	}
	return out
}

// Schemas returns the metadata of every non-base action, the compact form
// handed to an LLM generating workflows. start/end carry no parameters and
// are excluded.
func (r *Registry) Schemas() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		if e := r.actions[name]; e.meta.Category != "base" {
			out = append(out, e.meta)
		}
	}
	return out
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry populated by the builtin
// actions.
func Default() *Registry {
	return defaultRegistry
}

func register(meta Metadata, fn ExecuteFunc) {
	defaultRegistry.Register(meta, fn)
}

func objectSchema(required []string, props map[string]any) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
