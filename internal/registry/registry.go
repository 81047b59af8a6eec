// Package registry maps operation names to their Go handlers. The stage
// graph refers to operations by name only; the registry is validated at
// startup so a dangling operation name fails the run before any task is
// scheduled.
package registry

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/tidemark/shoregrid/internal/stage"
	"github.com/tidemark/shoregrid/internal/task"
)

// Registry holds the registered operation handlers for one application
// instance.
type Registry struct {
	handlers map[string]task.Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]task.Handler)}
}

// Register binds an operation name to its handler. Re-registering a name
// is a programmer error and panics, matching construction-time semantics.
func (r *Registry) Register(operation string, h task.Handler) {
	if _, dup := r.handlers[operation]; dup {
		panic("registry: operation " + operation + " registered twice")
	}
	r.handlers[operation] = h
}

// Handler returns the handler for an operation.
func (r *Registry) Handler(operation string) (task.Handler, error) {
	h, ok := r.handlers[operation]
	if !ok {
		return nil, errors.Newf("no handler registered for operation %q", operation)
	}
	return h, nil
}

// Operations returns the registered operation names, sorted.
func (r *Registry) Operations() []string {
	ops := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		ops = append(ops, name)
	}
	sort.Strings(ops)
	return ops
}

// ValidateAgainst checks that every stage in the graph names a registered
// operation. Run at startup, before execution.
func (r *Registry) ValidateAgainst(g *stage.Graph) error {
	for _, s := range g.TopologicalOrder() {
		if s.Operation == "" {
			return errors.Newf("stage %q declares no operation", s.Name)
		}
		if _, ok := r.handlers[s.Operation]; !ok {
			return errors.Newf("stage %q names unregistered operation %q", s.Name, s.Operation)
		}
	}
	return nil
}
