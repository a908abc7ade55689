package plugin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgong/flowx/internal/task"
)

// recorder logs every hook call as "<name>.<hook>"
type recorder struct {
	Base
	name  string
	calls *[]string
	mu    *sync.Mutex

	failPre  error
	failPost error
	failTask error
	rewrite  bool
}

func newRecorder(name string, calls *[]string, mu *sync.Mutex) *recorder {
	return &recorder{name: name, calls: calls, mu: mu}
}

func (r *recorder) record(hook string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.calls = append(*r.calls, r.name+"."+hook)
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) PreBenchmark(ctx context.Context, b *task.Benchmark) error {
	r.record("pre_benchmark")
	return r.failPre
}

func (r *recorder) PostBenchmark(ctx context.Context, b *task.Benchmark) error {
	r.record("post_benchmark")
	return r.failPost
}

func (r *recorder) PreTask(ctx context.Context, t *task.Task) error {
	r.record("pre_task")
	return r.failPre
}

func (r *recorder) PostTask(ctx context.Context, t *task.Task, res *task.Result) (*task.Result, error) {
	r.record("post_task")
	if r.failTask != nil {
		return nil, r.failTask
	}
	if r.rewrite {
		res.AddWarning("seen by " + r.name)
	}
	return res, nil
}

func TestPipeline_Order(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	p := NewPipeline(newRecorder("a", &calls, &mu), newRecorder("b", &calls, &mu))
	ctx := context.Background()

	b := task.NewBenchmark("bench", "")
	tk := task.NewTask("demo")
	b.AddTask(tk)

	require.NoError(t, p.PreBenchmark(ctx, b))
	require.NoError(t, p.PreTask(ctx, tk))
	p.PostTask(ctx, tk, task.NewResult(tk.ID, "agent", task.ResultSuccess))
	require.NoError(t, p.PostBenchmark(ctx, b))

	expected := []string{
		"a.pre_benchmark", "b.pre_benchmark",
		"a.pre_task", "b.pre_task",
		"a.post_task", "b.post_task",
		"a.post_benchmark", "b.post_benchmark",
	}
	assert.Equal(t, expected, calls)
	assert.Equal(t, 2, p.Len())
}

func TestPipeline_PreHookErrorStops(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	failing := newRecorder("a", &calls, &mu)
	failing.failPre = errors.New("not ready")
	p := NewPipeline(failing, newRecorder("b", &calls, &mu))

	err := p.PreBenchmark(context.Background(), task.NewBenchmark("bench", ""))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
	assert.Equal(t, []string{"a.pre_benchmark"}, calls)
}

func TestPipeline_PostTaskErrorContinues(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	failing := newRecorder("a", &calls, &mu)
	failing.failTask = errors.New("cache full")
	later := newRecorder("b", &calls, &mu)
	later.rewrite = true
	p := NewPipeline(failing, later)

	tk := task.NewTask("demo")
	res := p.PostTask(context.Background(), tk, task.NewResult(tk.ID, "agent", task.ResultSuccess))

	require.NotNil(t, res)
	assert.Equal(t, []string{"Plugin error: cache full"}, res.Errors)
	assert.Equal(t, []string{"seen by b"}, res.Warnings)
	assert.Equal(t, []string{"a.post_task", "b.post_task"}, calls)
}

func TestPipeline_CleanupRunsAll(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	first := newRecorder("a", &calls, &mu)
	first.failPost = errors.New("flush failed")
	p := NewPipeline(first, newRecorder("b", &calls, &mu))

	b := task.NewBenchmark("bench", "")
	p.Cleanup(context.Background(), b)

	assert.Equal(t, []string{"a.post_benchmark", "b.post_benchmark"}, calls)
	require.Len(t, b.ErrorLog, 1)
	assert.True(t, strings.HasPrefix(b.ErrorLog[0], "Plugin error during cleanup: "))
}

type panicky struct {
	Base
}

func (panicky) Name() string { return "panicky" }

func (panicky) PreTask(ctx context.Context, t *task.Task) error {
	panic("nil map")
}

func (panicky) PostTask(ctx context.Context, t *task.Task, r *task.Result) (*task.Result, error) {
	panic("nil map")
}

func TestPipeline_PanicsBecomeErrors(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	later := newRecorder("b", &calls, &mu)
	later.rewrite = true
	p := NewPipeline(panicky{}, later)
	ctx := context.Background()

	tk := task.NewTask("demo")
	err := p.PreTask(ctx, tk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin panicky pre-task: panic: nil map")
	assert.Empty(t, calls)

	res := task.NewResult(tk.ID, "agent", task.ResultSuccess)
	res.Output["raw_output"] = "kept"
	got := p.PostTask(ctx, tk, res)

	require.Same(t, res, got)
	assert.Equal(t, task.ResultSuccess, got.Status)
	assert.Equal(t, "kept", got.Output["raw_output"])
	assert.Equal(t, []string{"Plugin error: panic: nil map"}, got.Errors)
	assert.Equal(t, []string{"seen by b"}, got.Warnings)
}

// sleeper tracks how many of its hooks run at once
type sleeper struct {
	Base
	mu             sync.Mutex
	inFlight, peak int
}

func (s *sleeper) track() {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

func (s *sleeper) PreTask(ctx context.Context, t *task.Task) error {
	s.track()
	return nil
}

func (s *sleeper) PostTask(ctx context.Context, t *task.Task, r *task.Result) (*task.Result, error) {
	s.track()
	return r, nil
}

func TestPipeline_HooksSerializedAcrossGoroutines(t *testing.T) {
	s := &sleeper{}
	p := NewPipeline(s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk := task.NewTask("demo")
			assert.NoError(t, p.PreTask(ctx, tk))
			p.PostTask(ctx, tk, task.NewResult(tk.ID, "agent", task.ResultSuccess))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, s.peak)
}

func TestPipeline_IgnoresNil(t *testing.T) {
	p := NewPipeline(nil)
	p.Add(nil)
	assert.Equal(t, 0, p.Len())
}

func TestOptimizationPlugin(t *testing.T) {
	p := NewOptimizationPlugin()
	ctx := context.Background()
	b := task.NewBenchmark("bench", "")

	require.NoError(t, p.PreBenchmark(ctx, b))
	assert.Equal(t, true, b.Metadata["optimized"])

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk := task.NewTask("same objective")
			assert.NoError(t, p.PreTask(ctx, tk))
			assert.Equal(t, true, tk.Parameters["optimized"])
			_, err := p.PostTask(ctx, tk, task.NewResult(tk.ID, "agent", task.ResultSuccess))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.NoError(t, p.PostBenchmark(ctx, b))
	metrics, ok := b.Metadata["optimization_metrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, metrics["cache_hits"])
	assert.Equal(t, 10, metrics["execution_history"])
}

func TestMetricsCollectionPlugin(t *testing.T) {
	p := NewMetricsCollectionPlugin(100 * time.Millisecond)
	ctx := context.Background()
	b := task.NewBenchmark("bench", "")
	tk := task.NewTask("demo")
	b.AddTask(tk)

	require.NoError(t, p.PreBenchmark(ctx, b))
	require.NoError(t, p.PreTask(ctx, tk))
	time.Sleep(10 * time.Millisecond)

	res := task.NewResult(tk.ID, "agent", task.ResultSuccess)
	res.Resources.PeakMemoryMB = 42
	res.Resources.AverageCPUPercent = 12
	res, err := p.PostTask(ctx, tk, res)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Performance.ExecutionTime, 0.01)

	require.NoError(t, b.AddResult(res))
	require.NoError(t, p.PostBenchmark(ctx, b))

	section := b.Metadata["metrics_collection"].(map[string]any)
	assert.Equal(t, 0.1, section["sampling_interval"])
	assert.Contains(t, section, "started_at")
	assert.Contains(t, section, "completed_at")
	assert.Equal(t, 42.0, section["peak_memory_mb"])
	assert.Equal(t, 12.0, section["avg_cpu_percent"])
}

func TestMetricsCollectionPlugin_NoResults(t *testing.T) {
	p := NewMetricsCollectionPlugin(time.Second)
	b := task.NewBenchmark("bench", "")

	require.NoError(t, p.PostBenchmark(context.Background(), b))

	section := b.Metadata["metrics_collection"].(map[string]any)
	assert.Contains(t, section, "completed_at")
	assert.NotContains(t, section, "peak_memory_mb")
}

func TestPrometheusPlugin(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheusPlugin(reg)
	require.NoError(t, err)
	ctx := context.Background()

	b := task.NewBenchmark("bench", "")
	require.NoError(t, p.PreBenchmark(ctx, b))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.running))

	tk := task.NewTask("demo").WithStrategy(task.StrategyCommand)
	require.NoError(t, p.PreTask(ctx, tk))
	_, err = p.PostTask(ctx, tk, task.NewResult(tk.ID, "agent", task.ResultSuccess))
	require.NoError(t, err)
	_, err = p.PostTask(ctx, tk, task.NewErrorResult(tk.ID, errors.New("boom")))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.tasks.WithLabelValues("command", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.tasks.WithLabelValues("command", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.durations))

	require.NoError(t, p.PostBenchmark(ctx, b))
	require.NoError(t, p.PostBenchmark(ctx, b))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.running))

	_, err = NewPrometheusPlugin(reg)
	assert.Error(t, err, "registering twice on one registry fails")
}
