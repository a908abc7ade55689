package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wgong/flowx/internal/task"
)

// PrometheusPlugin exports task outcomes and durations as Prometheus metrics
type PrometheusPlugin struct {
	Base

	tasks     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	running   prometheus.Gauge

	mu         sync.Mutex
	started    map[string]time.Time
	benchmarks map[string]bool
}

// NewPrometheusPlugin creates the plugin and registers its collectors on reg
func NewPrometheusPlugin(reg prometheus.Registerer) (*PrometheusPlugin, error) {
	p := &PrometheusPlugin{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowx_tasks_total",
			Help: "Tasks executed, by strategy and result status.",
		}, []string{"strategy", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowx_task_duration_seconds",
			Help:    "Wall time from pre-task to post-task hooks.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowx_benchmarks_running",
			Help: "Benchmarks currently between pre- and post-benchmark hooks.",
		}),
		started:    make(map[string]time.Time),
		benchmarks: make(map[string]bool),
	}

	for _, c := range []prometheus.Collector{p.tasks, p.durations, p.running} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return p, nil
}

func (p *PrometheusPlugin) Name() string { return "prometheus" }

func (p *PrometheusPlugin) PreBenchmark(ctx context.Context, b *task.Benchmark) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.benchmarks[b.ID] = true
	p.running.Inc()
	return nil
}

// PostBenchmark only decrements for benchmarks this plugin saw start, since
// cleanup runs it even when an earlier pre-benchmark hook failed
func (p *PrometheusPlugin) PostBenchmark(ctx context.Context, b *task.Benchmark) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.benchmarks[b.ID] {
		delete(p.benchmarks, b.ID)
		p.running.Dec()
	}
	return nil
}

func (p *PrometheusPlugin) PreTask(ctx context.Context, t *task.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started[t.ID] = time.Now()
	return nil
}

func (p *PrometheusPlugin) PostTask(ctx context.Context, t *task.Task, r *task.Result) (*task.Result, error) {
	p.mu.Lock()
	start, ok := p.started[t.ID]
	delete(p.started, t.ID)
	p.mu.Unlock()

	strategy := string(t.Strategy)
	p.tasks.WithLabelValues(strategy, string(r.Status)).Inc()
	if ok {
		p.durations.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	}
	return r, nil
}
