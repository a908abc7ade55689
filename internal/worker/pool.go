package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/task"
)

// DefaultMaxWorkers bounds concurrent tasks when the config leaves it unset
const DefaultMaxWorkers = 5

// ExecFunc executes one task and produces its result
type ExecFunc func(ctx context.Context, t *task.Task) (*task.Result, error)

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	MaxWorkers int
}

// Pool runs batches of tasks with at most MaxWorkers in flight
type Pool struct {
	sem        *semaphore.Weighted
	maxWorkers int
	log        *logger.Logger

	mu           sync.RWMutex
	inFlight     int
	peakInFlight int
	completed    int64
	failed       int64
}

// NewPool creates a new worker pool
func NewPool(cfg PoolConfig, log *logger.Logger) *Pool {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Pool{
		sem:        semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		maxWorkers: cfg.MaxWorkers,
		log:        log.WithComponent("pool"),
	}
}

// Run executes every task through fn and returns one result per task, in
// completion order. Tasks wait for a free slot; a failing task never
// cancels its siblings. The first error returned by fn is reported once
// all tasks have finished.
func (p *Pool) Run(ctx context.Context, tasks []*task.Task, fn ExecFunc) ([]*task.Result, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  = make([]*task.Result, 0, len(tasks))
		firstErr error
	)

	record := func(r *task.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		if r != nil {
			results = append(results, r)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	p.log.Debug("Dispatching tasks", logger.Fields{
		"tasks":       len(tasks),
		"max_workers": p.maxWorkers,
	})

	for _, t := range tasks {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			// Slot never granted; the task still gets a result.
			t.MarkFailed()
			record(task.NewErrorResult(t.ID, err), fmt.Errorf("task %s not started: %w", t.ID, err))
			continue
		}

		wg.Add(1)
		go func(t *task.Task) {
			defer wg.Done()
			defer p.sem.Release(1)

			p.enter()
			r, err := p.execute(ctx, t, fn)
			p.leave(r, err)
			record(r, err)
		}(t)
	}

	wg.Wait()
	return results, firstErr
}

// execute calls fn, turning a panic into an error result
func (p *Pool) execute(ctx context.Context, t *task.Task, fn ExecFunc) (r *task.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("Task panicked", logger.Fields{"task_id": t.ID, "panic": fmt.Sprint(rec)})
			t.MarkFailed()
			r = task.NewErrorResult(t.ID, fmt.Errorf("panic: %v", rec))
			err = nil
		}
	}()
	return fn(ctx, t)
}

func (p *Pool) enter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight++
	if p.inFlight > p.peakInFlight {
		p.peakInFlight = p.inFlight
	}
}

func (p *Pool) leave(r *task.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
	p.completed++
	if err != nil || r == nil || !r.Succeeded() {
		p.failed++
	}
}

// MaxWorkers returns the concurrency bound
func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}

// PeakInFlight returns the highest number of tasks observed running at once
func (p *Pool) PeakInFlight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peakInFlight
}

// GetStats returns pool statistics
func (p *Pool) GetStats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]interface{}{
		"in_flight":      p.inFlight,
		"peak_in_flight": p.peakInFlight,
		"completed":      p.completed,
		"failed":         p.failed,
		"max_workers":    p.maxWorkers,
	}
}
