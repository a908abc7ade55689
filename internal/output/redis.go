package output

import (
	"context"

	"github.com/wgong/flowx/internal/storage"
	"github.com/wgong/flowx/internal/task"
)

// FormatRedis is the format name of the Redis handler
const FormatRedis = "redis"

// RedisHandler persists the whole benchmark through a run store. The
// output directory is ignored.
type RedisHandler struct {
	store storage.Storage
}

// NewRedisHandler creates a handler writing to store
func NewRedisHandler(store storage.Storage) *RedisHandler {
	return &RedisHandler{store: store}
}

// Save stores the benchmark and returns redis://<key>
func (h *RedisHandler) Save(ctx context.Context, b *task.Benchmark, _ string) (string, error) {
	if err := h.store.SaveBenchmark(ctx, b); err != nil {
		return "", err
	}
	return "redis://" + storage.BenchmarkKey(b.ID), nil
}
