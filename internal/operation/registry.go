package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// ErrUnknownOperation is returned when no factory is registered under a name.
var ErrUnknownOperation = errors.New("unknown operation")

// Registry maps operation names to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry and registers every given module.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// Register adds a factory. Registering the same name twice is a programming
// error and panics.
func (r *Registry) Register(name string, f Factory) {
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("operation '%s' already registered", name))
	}
	slog.Debug("Registering operation.", "name", name)
	r.factories[name] = f
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// Create looks up name and constructs an instance bound to next.
func (r *Registry) Create(ctx context.Context, name string, next Sink, args []string) (Operation, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	op, err := f(ctx, next, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return op, nil
}

// Names lists registered operation names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
