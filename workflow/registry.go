package workflow

import (
	"context"
	"fmt"
	"sort"
)

// Runnable is a workflow a dispatcher can trigger by name. Executors of
// every state type implement it through their Summary reduction.
type Runnable interface {
	Name() string
	Execute(ctx context.Context, trig Trigger) (Summary, error)
}

// Registry maps workflow names to runnables. It is an explicit value
// built at startup and passed to whatever dispatches triggers; there is
// no process-wide registry.
type Registry struct {
	workflows map[string]Runnable
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]Runnable)}
}

// Register adds a workflow under its own name.
func (r *Registry) Register(w Runnable) error {
	name := w.Name()
	if name == "" {
		return fmt.Errorf("workflow has no name")
	}
	if _, exists := r.workflows[name]; exists {
		return fmt.Errorf("workflow %q already registered", name)
	}
	r.workflows[name] = w
	return nil
}

// Get looks a workflow up by name.
func (r *Registry) Get(name string) (Runnable, bool) {
	w, ok := r.workflows[name]
	return w, ok
}

// Names lists the registered workflows, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
