// Package executor runs single task instances and owns the pluggable
// work-reference handler registry. A handler is the capability set
// {Invoke(ctx, args) (result, error); Supports(feature string) bool},
// registered under an opaque work-reference key.
package executor

import "context"

// Handler is the capability set a concrete work-reference resolves
// to. One handler instance may serve many WorkRefs (an HTTP handler
// serves every "http:..." ref, for instance).
type Handler interface {
	Invoke(ctx context.Context, args []any) (any, error)
	Supports(feature string) bool
}

// Registry maps opaque work references to the Handler that knows how
// to run them. Registration happens once at wiring time and Lookup only
// reads the map. The registry has no lock: every Register call must
// complete before Lookup is called from other goroutines.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry constructs an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs h under the opaque work-ref prefix key (e.g.
// "http", "shell", "policy").
func (r *Registry) Register(key string, h Handler) {
	r.handlers[key] = h
}

// Lookup returns the handler registered for key, if any.
func (r *Registry) Lookup(key string) (Handler, bool) {
	h, ok := r.handlers[key]
	return h, ok
}
