package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgong/flowx/internal/queue"
	"github.com/wgong/flowx/internal/storage"
	"github.com/wgong/flowx/internal/task"
)

type fixture struct {
	mr    *miniredis.Miniredis
	store *storage.RedisStorage
	queue *queue.RedisQueue
	srv   http.Handler
}

func newFixture(t *testing.T, withQueue bool) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	f := &fixture{mr: mr, store: storage.NewRedisStorage(client)}
	cfg := Config{Storage: f.store}
	if withQueue {
		f.queue = queue.NewRedisQueue(client)
		cfg.Queue = f.queue
	}
	f.srv = NewServer(cfg).Handler()
	return f
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestServer_Benchmarks(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	b := task.NewBenchmark("nightly", "")
	tk := task.NewTask("build")
	b.AddTask(tk)
	require.NoError(t, b.AddResult(task.NewResult(tk.ID, "agent", task.ResultSuccess)))
	b.MarkCompleted()
	require.NoError(t, f.store.SaveBenchmark(ctx, b))

	rec, body := f.get(t, "/api/benchmarks")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 1.0, body["total"])
	first := body["benchmarks"].([]any)[0].(map[string]any)
	assert.Equal(t, b.ID, first["id"])
	assert.Equal(t, "nightly", first["name"])
	assert.Equal(t, 1.0, first["task_count"])

	rec, body = f.get(t, "/api/benchmarks/"+b.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, b.ID, body["id"])

	rec, body = f.get(t, "/api/benchmarks/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "not found")
}

func TestServer_Tasks(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	done := task.NewTask("done")
	done.MarkCompleted()
	require.NoError(t, f.store.SaveTask(ctx, done))
	require.NoError(t, f.store.SaveResult(ctx, task.NewResult(done.ID, "agent", task.ResultSuccess)))

	pending := task.NewTask("pending")
	require.NoError(t, f.store.SaveTask(ctx, pending))

	_, body := f.get(t, "/api/tasks")
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, 1.0, body["total"])

	_, body = f.get(t, "/api/tasks?status=failed")
	assert.Equal(t, 0.0, body["total"])
	assert.Equal(t, []any{}, body["tasks"])

	rec, body := f.get(t, "/api/tasks/"+done.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "result")

	_, body = f.get(t, "/api/tasks/"+pending.ID)
	assert.NotContains(t, body, "result")

	rec, _ = f.get(t, "/api/tasks/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Queue(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, task.NewTask("a").WithPriority(task.PriorityHigh)))
	require.NoError(t, f.queue.Enqueue(ctx, task.NewTask("b")))

	_, body := f.get(t, "/api/queue")
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, 2.0, body["depth"])
	byPriority := body["by_priority"].(map[string]any)
	assert.Equal(t, 1.0, byPriority["high"])
	assert.Equal(t, 1.0, byPriority["normal"])
}

func TestServer_QueueDisabled(t *testing.T) {
	f := newFixture(t, false)

	_, body := f.get(t, "/api/queue")
	assert.Equal(t, false, body["enabled"])
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, true)

	rec, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	f.mr.Close()
	rec, body = f.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestServer_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, false)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/benchmarks", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/benchmarks", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "flowx_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := NewServer(Config{Gatherer: reg}).Handler()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flowx_test_total 1")
}
