package actions

import (
	"fmt"
	"sync"

	"neurosdk/pkg/api"
	"neurosdk/pkg/schema"
)

// ChangeHook receives the registry contents after every change.
type ChangeHook func(snapshot []api.Action)

// Registry is the ordered set of actions registered on one connection.
type Registry struct {
	mu        sync.RWMutex          // Protects actions and order
	actions   map[string]api.Action // Action name to definition
	order     []string              // Names in registration order
	validator schema.Validator
	onChange  ChangeHook
}

type Option func(*Registry)

// WithValidator sets the schema validator used at registration.
func WithValidator(v schema.Validator) Option {
	return func(r *Registry) {
		if v != nil {
			r.validator = v
		}
	}
}

// WithChangeHook installs a callback run after each mutation, outside the lock.
func WithChangeHook(h ChangeHook) Option {
	return func(r *Registry) {
		r.onChange = h
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		actions:   make(map[string]api.Action),
		validator: schema.Default,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check reports whether a batch could be registered, without registering it.
func (r *Registry) Check(batch ...api.Action) error {
	for _, a := range batch {
		if a.Name == "" {
			return fmt.Errorf("register: %w: empty name", api.ErrInvalidAction)
		}
		if err := r.validator.CheckWellFormed(a.Schema); err != nil {
			return fmt.Errorf("register %q: %w", a.Name, err)
		}
	}
	return nil
}

// Register inserts or replaces actions by name. The batch is applied only if
// every schema is well-formed. A replaced action moves to the end of the order.
func (r *Registry) Register(batch ...api.Action) error {
	if len(batch) == 0 {
		return nil
	}
	if err := r.Check(batch...); err != nil {
		return err
	}

	r.mu.Lock()
	for _, a := range batch {
		if _, ok := r.actions[a.Name]; ok {
			r.removeFromOrder(a.Name)
		}
		r.actions[a.Name] = a
		r.order = append(r.order, a.Name)
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
	return nil
}

// Unregister removes the named actions and returns those that were present.
// Unknown names are ignored.
func (r *Registry) Unregister(names ...string) []string {
	r.mu.Lock()
	var removed []string
	for _, name := range names {
		if _, ok := r.actions[name]; !ok {
			continue
		}
		delete(r.actions, name)
		r.removeFromOrder(name)
		removed = append(removed, name)
	}
	var snap []api.Action
	if len(removed) > 0 {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()

	if len(removed) > 0 {
		r.notify(snap)
	}
	return removed
}

// Resolve returns the current definition of name, enabled or not.
func (r *Registry) Resolve(name string) (api.Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Snapshot returns every action in registration order.
func (r *Registry) Snapshot() []api.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Visible returns the enabled actions in registration order.
func (r *Registry) Visible() []api.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]api.Action, 0, len(r.order))
	for _, name := range r.order {
		if a := r.actions[name]; a.Enabled() {
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear removes everything and notifies if anything was removed.
func (r *Registry) Clear() {
	if r.reset() > 0 {
		r.notify([]api.Action{})
	}
}

// Reset removes everything without notifying.
func (r *Registry) Reset() {
	r.reset()
}

func (r *Registry) reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.order)
	r.actions = make(map[string]api.Action)
	r.order = nil
	return n
}

func (r *Registry) removeFromOrder(name string) {
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Registry) snapshotLocked() []api.Action {
	out := make([]api.Action, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.actions[name])
	}
	return out
}

func (r *Registry) notify(snap []api.Action) {
	if r.onChange != nil {
		r.onChange(snap)
	}
}
