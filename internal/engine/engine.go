// Package engine runs benchmarks: it builds the task set for an objective,
// drives the plugin pipeline around every task, dispatches tasks serially
// or under a concurrency bound, and converts every failure into a
// structured result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wgong/flowx/internal/config"
	"github.com/wgong/flowx/internal/errs"
	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/output"
	"github.com/wgong/flowx/internal/plugin"
	"github.com/wgong/flowx/internal/storage"
	"github.com/wgong/flowx/internal/task"
	"github.com/wgong/flowx/internal/worker"
)

// StatusReady is the only engine-level state; benchmark state lives on
// the Benchmark itself
const StatusReady = "READY"

// Engine orchestrates benchmark runs
type Engine struct {
	cfg      config.EngineConfig
	resolver task.StrategyResolver
	pipeline *plugin.Pipeline
	output   output.Collector
	store    storage.Storage
	reporter *errs.Reporter
	log      *logger.Logger

	mu      sync.Mutex
	queue   []*task.Task
	current *task.Benchmark
}

// Option configures an Engine
type Option func(*Engine)

// WithPlugins registers plugins in the given order
func WithPlugins(plugins ...plugin.Plugin) Option {
	return func(e *Engine) {
		for _, p := range plugins {
			e.pipeline.Add(p)
		}
	}
}

// WithOutput sets the collaborator finished benchmarks are handed to
func WithOutput(c output.Collector) Option {
	return func(e *Engine) {
		e.output = c
	}
}

// WithStore persists every task and result as it finishes
func WithStore(s storage.Storage) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithReporter records task and benchmark failures
func WithReporter(r *errs.Reporter) Option {
	return func(e *Engine) {
		e.reporter = r
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an engine executing tasks with strategies from resolver
func New(cfg config.EngineConfig, resolver task.StrategyResolver, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		resolver: resolver,
		pipeline: plugin.NewPipeline(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithComponent("engine")
	return e
}

// AddPlugin appends a plugin to the pipeline
func (e *Engine) AddPlugin(p plugin.Plugin) {
	e.pipeline.Add(p)
}

// SubmitTask queues an extra task for the next run
func (e *Engine) SubmitTask(t *task.Task) {
	if t == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, t)
}

// Status returns the engine state
func (e *Engine) Status() string {
	return StatusReady
}

// CurrentBenchmark returns the benchmark of the latest run, or nil
func (e *Engine) CurrentBenchmark() *task.Benchmark {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Run executes a complete benchmark for objective. It never returns an
// error: failures are reported through a failed Response.
func (e *Engine) Run(ctx context.Context, objective string) (resp *Response) {
	primary := e.primaryTask(objective)
	b := e.newBenchmark(objective, primary)
	b.MarkRunning()

	e.log.Info("Benchmark started", logger.Fields{
		"benchmark_id": b.ID,
		"name":         b.Name,
		"tasks":        len(b.Tasks),
		"parallel":     e.cfg.Parallel,
	})

	defer func() {
		if rec := recover(); rec != nil {
			resp = e.fail(ctx, b, errs.Newf(errs.KindExecution, "panic: %v", rec))
		}
	}()

	outputs, err := e.run(ctx, b, primary)
	if err != nil {
		return e.fail(ctx, b, err)
	}

	e.log.Info("Benchmark completed", logger.Fields{
		"benchmark_id": b.ID,
		"duration":     b.Duration().Seconds(),
		"success_rate": b.Metrics.SuccessRate,
	})
	return successResponse(b, outputs)
}

func (e *Engine) run(ctx context.Context, b *task.Benchmark, primary *task.Task) (map[string]string, error) {
	if err := e.pipeline.PreBenchmark(ctx, b); err != nil {
		return nil, err
	}

	var results []*task.Result
	if e.cfg.Parallel && len(b.Tasks) > 1 {
		pool := worker.NewPool(worker.PoolConfig{MaxWorkers: e.cfg.MaxAgents}, e.log)
		rs, err := pool.Run(ctx, b.Tasks, e.executeTask)
		if err != nil {
			return nil, err
		}
		results = rs
	} else {
		r, err := e.executeTask(ctx, primary)
		if err != nil {
			return nil, err
		}
		results = []*task.Result{r}
	}

	for _, r := range results {
		if err := b.AddResult(r); err != nil {
			return nil, errs.Wrap(errs.KindExecution, "failed to attach result", err)
		}
	}

	b.MarkCompleted()

	if err := e.pipeline.PostBenchmark(ctx, b); err != nil {
		return nil, err
	}

	if e.output == nil {
		return map[string]string{}, nil
	}
	outputs, err := e.output.Save(ctx, b, e.cfg.OutputDirectory, e.cfg.OutputFormats)
	if err != nil {
		return nil, errs.Wrap(errs.KindOutput, "failed to save benchmark results", err)
	}
	return outputs, nil
}

// fail marks b failed, gives every plugin a cleanup attempt and builds the
// failure response
func (e *Engine) fail(ctx context.Context, b *task.Benchmark, err error) *Response {
	b.MarkFailed(err)
	e.pipeline.Cleanup(ctx, b)

	e.log.Error("Benchmark failed", logger.Fields{
		"benchmark_id": b.ID,
		"error":        err,
	})
	if e.reporter != nil {
		e.reporter.Report(err, map[string]any{"benchmark_id": b.ID}, errs.SeverityHigh)
	}
	return failureResponse(b, err)
}

// executeTask runs one task through the pipeline and its strategy. Strategy
// failures become error results; only pre-task hook failures are returned.
func (e *Engine) executeTask(ctx context.Context, t *task.Task) (*task.Result, error) {
	if err := e.pipeline.PreTask(ctx, t); err != nil {
		return nil, err
	}

	t.MarkRunning()

	result, err := e.invoke(ctx, t)
	if err != nil {
		t.MarkFailed()
		result = task.NewErrorResult(t.ID, err)
		if errs.KindOf(err) == errs.KindTimeout {
			result.Status = task.ResultTimeout
		}

		e.log.Warn("Task failed", logger.Fields{"task_id": t.ID, "error": err})
		if e.reporter != nil {
			e.reporter.Report(err, map[string]any{"task_id": t.ID, "strategy": string(t.Strategy)}, errs.SeverityMedium)
		}
	} else {
		t.MarkCompleted()
	}

	result = e.pipeline.PostTask(ctx, t, result)
	e.persist(ctx, t, result)
	return result, nil
}

// invoke resolves and executes the task's strategy under the task timeout
func (e *Engine) invoke(ctx context.Context, t *task.Task) (result *task.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()

	strategy, err := e.resolver.Resolve(t.Strategy)
	if err != nil {
		return nil, err
	}

	tctx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	result, err = strategy.Execute(tctx, t)
	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, errs.Newf(errs.KindTimeout, "task timed out after %v", t.Timeout)
		}
		return nil, err
	}
	if result == nil {
		return nil, errs.Newf(errs.KindStrategy, "strategy %s returned no result", t.Strategy)
	}
	return result, nil
}

// persist writes the task and its result to the optional store. Failures
// are logged only.
func (e *Engine) persist(ctx context.Context, t *task.Task, r *task.Result) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveTask(ctx, t); err != nil {
		e.log.Warn("Failed to save task state", logger.Fields{"task_id": t.ID, "error": err})
	}
	if err := e.store.SaveResult(ctx, r); err != nil {
		e.log.Warn("Failed to save result", logger.Fields{"task_id": t.ID, "error": err})
	}
}

func (e *Engine) primaryTask(objective string) *task.Task {
	t := task.NewTask(objective).
		WithDescription("Benchmark task: " + objective).
		WithMaxRetries(e.cfg.MaxRetries)
	if e.cfg.Strategy != "" {
		t.WithStrategy(task.StrategyType(e.cfg.Strategy))
	}
	if e.cfg.Mode != "" {
		t.WithMode(task.CoordinationMode(e.cfg.Mode))
	}
	if e.cfg.TaskTimeout > 0 {
		t.WithTimeout(e.cfg.TaskTimeout)
	}
	return t
}

// newBenchmark wraps the primary task and drains the queue into a new
// benchmark, which becomes the current one
func (e *Engine) newBenchmark(objective string, primary *task.Task) *task.Benchmark {
	name := e.cfg.Name
	if name == "" {
		name = "benchmark-" + uuid.New().String()[:8]
	}
	desc := e.cfg.Description
	if desc == "" {
		desc = "Benchmark for: " + objective
	}

	b := task.NewBenchmark(name, desc)
	b.Config = e.cfg
	b.AddTask(primary)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.queue {
		b.AddTask(t)
	}
	e.queue = nil
	e.current = b
	return b
}
