package goal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrGoalExists   = errors.New("goal already registered")
	ErrGoalNotFound = errors.New("goal not found")
)

// Registry resolves goals by case-insensitive name.
type Registry struct {
	mu    sync.RWMutex
	goals map[string]Goal
}

func NewRegistry() *Registry {
	return &Registry{goals: make(map[string]Goal)}
}

// NewDefaultRegistry returns a registry preloaded with Builtins.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, g := range Builtins() {
		if err := r.Register(g); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(g Goal) error {
	if g == nil {
		return errors.New("goal is required")
	}
	key := normalizeName(g.Name())
	if key == "" {
		return errors.New("goal name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.goals[key]; exists {
		return fmt.Errorf("%w: %s", ErrGoalExists, g.Name())
	}
	r.goals[key] = g
	return nil
}

func (r *Registry) Resolve(name string) (Goal, error) {
	r.mu.RLock()
	g, ok := r.goals[normalizeName(name)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, name)
	}
	return g, nil
}

// List returns registered goals sorted by complexity, then name.
func (r *Registry) List() []Goal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Goal, 0, len(r.goals))
	for _, g := range r.goals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Complexity() != out[j].Complexity() {
			return out[i].Complexity() < out[j].Complexity()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
