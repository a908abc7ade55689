package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wgong/flowx/internal/task"
)

type cacheEntry struct {
	ResultID  string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

type executionRecord struct {
	TaskID        string    `json:"task_id"`
	ExecutionTime float64   `json:"execution_time"`
	Timestamp     time.Time `json:"timestamp"`
}

// OptimizationPlugin marks runs as optimized, caches the latest result per
// strategy and objective, and records execution history
type OptimizationPlugin struct {
	Base

	mu      sync.Mutex
	cache   map[string]cacheEntry
	history []executionRecord
}

// NewOptimizationPlugin creates an empty optimization plugin
func NewOptimizationPlugin() *OptimizationPlugin {
	return &OptimizationPlugin{cache: make(map[string]cacheEntry)}
}

func (p *OptimizationPlugin) Name() string { return "optimization" }

func (p *OptimizationPlugin) PreBenchmark(ctx context.Context, b *task.Benchmark) error {
	b.Metadata["optimized"] = true
	return nil
}

func (p *OptimizationPlugin) PreTask(ctx context.Context, t *task.Task) error {
	t.Parameters["optimized"] = true
	return nil
}

func (p *OptimizationPlugin) PostTask(ctx context.Context, t *task.Task, r *task.Result) (*task.Result, error) {
	now := time.Now()
	key := fmt.Sprintf("%s-%s", t.Strategy, t.Objective)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache[key] = cacheEntry{ResultID: r.ID, Timestamp: now}
	p.history = append(p.history, executionRecord{
		TaskID:        t.ID,
		ExecutionTime: r.Performance.ExecutionTime,
		Timestamp:     now,
	})
	return r, nil
}

func (p *OptimizationPlugin) PostBenchmark(ctx context.Context, b *task.Benchmark) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b.Metadata["optimization_metrics"] = map[string]any{
		"cache_hits":        len(p.cache),
		"execution_history": len(p.history),
	}
	return nil
}
