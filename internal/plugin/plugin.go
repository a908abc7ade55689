// Package plugin provides the ordered hook pipeline the engine runs around
// every benchmark and task.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/wgong/flowx/internal/task"
)

// Plugin observes and augments a benchmark run. PostTask may return a
// rewritten result; returning nil keeps the one it received.
type Plugin interface {
	Name() string
	PreBenchmark(ctx context.Context, b *task.Benchmark) error
	PostBenchmark(ctx context.Context, b *task.Benchmark) error
	PreTask(ctx context.Context, t *task.Task) error
	PostTask(ctx context.Context, t *task.Task, r *task.Result) (*task.Result, error)
}

// Base is a no-op Plugin meant to be embedded
type Base struct{}

func (Base) Name() string { return "base" }
func (Base) PreBenchmark(ctx context.Context, b *task.Benchmark) error { return nil }
func (Base) PostBenchmark(ctx context.Context, b *task.Benchmark) error { return nil }
func (Base) PreTask(ctx context.Context, t *task.Task) error { return nil }
func (Base) PostTask(ctx context.Context, t *task.Task, r *task.Result) (*task.Result, error) {
	return r, nil
}

// Pipeline runs plugins in registration order. Hook calls are serialized
// across goroutines, so a plugin never sees two hooks at once even when
// tasks run in parallel.
type Pipeline struct {
	mu      sync.RWMutex
	plugins []Plugin

	hookMu sync.Mutex
}

// NewPipeline creates a pipeline holding plugins in the given order
func NewPipeline(plugins ...Plugin) *Pipeline {
	p := &Pipeline{}
	for _, pl := range plugins {
		p.Add(pl)
	}
	return p
}

// Add appends a plugin. Nil plugins are ignored.
func (p *Pipeline) Add(pl Plugin) {
	if pl == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plugins = append(p.plugins, pl)
}

// Plugins returns a copy of the registered plugins
func (p *Pipeline) Plugins() []Plugin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Plugin, len(p.plugins))
	copy(out, p.plugins)
	return out
}

// Len returns the number of registered plugins
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.plugins)
}

// PreBenchmark runs every PreBenchmark hook, stopping at the first error
func (p *Pipeline) PreBenchmark(ctx context.Context, b *task.Benchmark) error {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()

	for _, pl := range p.Plugins() {
		if err := pl.PreBenchmark(ctx, b); err != nil {
			return fmt.Errorf("plugin %s pre-benchmark: %w", pl.Name(), err)
		}
	}
	return nil
}

// PreTask runs every PreTask hook, stopping at the first error. A panic
// counts as an error.
func (p *Pipeline) PreTask(ctx context.Context, t *task.Task) error {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()

	for _, pl := range p.Plugins() {
		if err := preTask(ctx, pl, t); err != nil {
			return fmt.Errorf("plugin %s pre-task: %w", pl.Name(), err)
		}
	}
	return nil
}

// PostTask runs every PostTask hook. A failing or panicking hook is
// recorded on the result and the remaining hooks still run.
func (p *Pipeline) PostTask(ctx context.Context, t *task.Task, r *task.Result) *task.Result {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()

	for _, pl := range p.Plugins() {
		next, err := postTask(ctx, pl, t, r)
		if err != nil {
			r.AddError(fmt.Sprintf("Plugin error: %v", err))
			continue
		}
		if next != nil {
			r = next
		}
	}
	return r
}

// PostBenchmark runs every PostBenchmark hook, stopping at the first error
func (p *Pipeline) PostBenchmark(ctx context.Context, b *task.Benchmark) error {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()

	for _, pl := range p.Plugins() {
		if err := pl.PostBenchmark(ctx, b); err != nil {
			return fmt.Errorf("plugin %s post-benchmark: %w", pl.Name(), err)
		}
	}
	return nil
}

// Cleanup runs every PostBenchmark hook after a failed run. Hook errors are
// appended to the benchmark error log.
func (p *Pipeline) Cleanup(ctx context.Context, b *task.Benchmark) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()

	for _, pl := range p.Plugins() {
		if err := pl.PostBenchmark(ctx, b); err != nil {
			b.ErrorLog = append(b.ErrorLog, fmt.Sprintf("Plugin error during cleanup: %v", err))
		}
	}
}

func preTask(ctx context.Context, pl Plugin, t *task.Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return pl.PreTask(ctx, t)
}

func postTask(ctx context.Context, pl Plugin, t *task.Task, r *task.Result) (next *task.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			next, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	return pl.PostTask(ctx, t, r)
}
