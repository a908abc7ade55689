package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Strategy executes a task and produces its result
type Strategy interface {
	Execute(ctx context.Context, t *Task) (*Result, error)
}

// StrategyFunc adapts a plain function to the Strategy interface
type StrategyFunc func(ctx context.Context, t *Task) (*Result, error)

// Execute calls f(ctx, t)
func (f StrategyFunc) Execute(ctx context.Context, t *Task) (*Result, error) {
	return f(ctx, t)
}

// StrategyResolver maps a strategy tag to an executable strategy
type StrategyResolver interface {
	Resolve(tag StrategyType) (Strategy, error)
}

// Registry manages strategies by tag
type Registry struct {
	mu         sync.RWMutex
	strategies map[StrategyType]Strategy
}

// NewRegistry creates a new strategy registry
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[StrategyType]Strategy),
	}
}

// Register registers a strategy for a tag
func (r *Registry) Register(tag StrategyType, s Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy for '%s' is nil", tag)
	}
	tag = normalize(tag)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[tag]; exists {
		return fmt.Errorf("strategy '%s' already registered", tag)
	}

	r.strategies[tag] = s
	return nil
}

// Get retrieves the strategy registered under the exact tag
func (r *Registry) Get(tag StrategyType) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.strategies[tag]
	if !exists {
		return nil, fmt.Errorf("no strategy registered for '%s'", tag)
	}

	return s, nil
}

// Resolve looks up a strategy by tag, ignoring case and surrounding space
func (r *Registry) Resolve(tag StrategyType) (Strategy, error) {
	return r.Get(normalize(tag))
}

// Types returns all registered tags in sorted order
func (r *Registry) Types() []StrategyType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]StrategyType, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func normalize(tag StrategyType) StrategyType {
	return StrategyType(strings.ToLower(strings.TrimSpace(string(tag))))
}
