package cron

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps action names to callables. Unknown names fail at
// registration and at job-save time, never at execution time.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register binds a name to an action. Duplicate or empty names are
// programming errors and are rejected.
func (r *Registry) Register(name string, action Action) error {
	if name == "" {
		return fmt.Errorf("cron action name cannot be empty")
	}
	if action == nil {
		return fmt.Errorf("cron action %q cannot be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("cron action %q is already registered", name)
	}
	r.actions[name] = action
	return nil
}

// MustRegister is Register for wiring code that cannot continue on a
// bad registration.
func (r *Registry) MustRegister(name string, action Action) {
	if err := r.Register(name, action); err != nil {
		panic(err)
	}
}

// Get resolves a registered action.
func (r *Registry) Get(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("unknown cron action %q", name)
	}
	return action, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Names lists the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
