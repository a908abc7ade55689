package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/wgong/flowx/internal/task"
)

// MetricsCollectionPlugin times each task and records run-level resource
// aggregates in the benchmark metadata
type MetricsCollectionPlugin struct {
	Base

	interval time.Duration

	mu      sync.Mutex
	started map[string]time.Time
}

// NewMetricsCollectionPlugin creates the plugin. interval is informational
// and is recorded in the benchmark metadata.
func NewMetricsCollectionPlugin(interval time.Duration) *MetricsCollectionPlugin {
	return &MetricsCollectionPlugin{
		interval: interval,
		started:  make(map[string]time.Time),
	}
}

func (p *MetricsCollectionPlugin) Name() string { return "metrics_collection" }

func (p *MetricsCollectionPlugin) PreBenchmark(ctx context.Context, b *task.Benchmark) error {
	b.Metadata["metrics_collection"] = map[string]any{
		"started_at":        time.Now().Format(time.RFC3339Nano),
		"sampling_interval": p.interval.Seconds(),
	}
	return nil
}

func (p *MetricsCollectionPlugin) PreTask(ctx context.Context, t *task.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started[t.ID] = time.Now()
	return nil
}

func (p *MetricsCollectionPlugin) PostTask(ctx context.Context, t *task.Task, r *task.Result) (*task.Result, error) {
	p.mu.Lock()
	start, ok := p.started[t.ID]
	delete(p.started, t.ID)
	p.mu.Unlock()

	if ok {
		r.Performance.ExecutionTime = time.Since(start).Seconds()
	}
	return r, nil
}

func (p *MetricsCollectionPlugin) PostBenchmark(ctx context.Context, b *task.Benchmark) error {
	section, ok := b.Metadata["metrics_collection"].(map[string]any)
	if !ok {
		section = map[string]any{}
		b.Metadata["metrics_collection"] = section
	}
	section["completed_at"] = time.Now().Format(time.RFC3339Nano)

	if len(b.Results) == 0 {
		return nil
	}

	var peak, cpuSum float64
	for _, r := range b.Results {
		if r.Resources.PeakMemoryMB > peak {
			peak = r.Resources.PeakMemoryMB
		}
		cpuSum += r.Resources.AverageCPUPercent
	}
	section["peak_memory_mb"] = peak
	section["avg_cpu_percent"] = cpuSum / float64(len(b.Results))
	return nil
}
