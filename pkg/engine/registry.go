package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Factory returns a fresh task instance for each submission.
type Factory func() Task

// Maturity tells users how far a task can be trusted.
type Maturity string

const (
	Experimental Maturity = "experimental"
	Stable       Maturity = "stable"
)

// Matured is implemented by tasks that declare a maturity level.
// Tasks that do not are reported as experimental.
type Matured interface {
	Maturity() Maturity
}

// Registration describes a registered task.
type Registration struct {
	Name        string
	Description string
	Maturity    Maturity
	Factory     Factory
}

// Registry maps task names to constructors.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds factory under the name of the task it builds.
func (r *Registry) Register(description string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("nil factory")
	}
	sample := factory()
	name := NameOf(sample)
	maturity := Experimental
	if m, ok := sample.(Matured); ok {
		maturity = m.Maturity()
	}
	if name == "" {
		return fmt.Errorf("task has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}
	r.entries[name] = Registration{Name: name, Description: description, Maturity: maturity, Factory: factory}
	return nil
}

// MustRegister is Register that panics on error. For use at startup.
func (r *Registry) MustRegister(description string, factory Factory) {
	if err := r.Register(description, factory); err != nil {
		panic(err)
	}
}

// New builds a fresh task by name.
func (r *Registry) New(name string) (Task, error) {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}
	return reg.Factory(), nil
}

// List returns registrations sorted by name.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
