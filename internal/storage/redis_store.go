package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wgong/flowx/internal/config"
	"github.com/wgong/flowx/internal/task"
)

const (
	// Redis key prefixes for storage
	taskStorePrefix      = "flowx:store:task:"
	resultStorePrefix    = "flowx:store:result:"
	benchmarkStorePrefix = "flowx:store:benchmark:"
	statusIndexPrefix    = "flowx:index:status:"
	benchmarkIndexKey    = "flowx:index:benchmarks"

	// TTL for task data (7 days)
	taskTTL = 7 * 24 * time.Hour
	// TTL for result and benchmark data (30 days)
	resultTTL = 30 * 24 * time.Hour
)

var allStatuses = []task.Status{
	task.StatusPending,
	task.StatusRunning,
	task.StatusCompleted,
	task.StatusFailed,
}

// NewClient builds a go-redis client from the redis config section and
// checks the connection
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr(), err)
	}
	return client, nil
}

// RedisStorage implements Storage interface using Redis
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage creates a new Redis storage backend
func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{
		client: client,
	}
}

// BenchmarkKey returns the key a benchmark is stored under
func BenchmarkKey(benchmarkID string) string {
	return benchmarkStorePrefix + benchmarkID
}

// SaveTask persists a task to Redis and moves it into its status index
func (rs *RedisStorage) SaveTask(ctx context.Context, t *task.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("invalid task")
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskStorePrefix+t.ID, data, taskTTL)
		for _, s := range allStatuses {
			if s != t.Status {
				pipe.SRem(ctx, statusIndexPrefix+string(s), t.ID)
			}
		}
		pipe.SAdd(ctx, statusIndexPrefix+string(t.Status), t.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID
func (rs *RedisStorage) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task ID cannot be empty")
	}

	var t task.Task
	if err := rs.getJSON(ctx, taskStorePrefix+taskID, &t); err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	return &t, nil
}

// UpdateTaskStatus updates the status of a stored task
func (rs *RedisStorage) UpdateTaskStatus(ctx context.Context, taskID string, status task.Status) error {
	t, err := rs.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	t.Status = status
	return rs.SaveTask(ctx, t)
}

// SaveResult persists a task result
func (rs *RedisStorage) SaveResult(ctx context.Context, result *task.Result) error {
	if result == nil || result.TaskID == "" {
		return fmt.Errorf("invalid result")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := rs.client.Set(ctx, resultStorePrefix+result.TaskID, data, resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	return nil
}

// GetResult retrieves a task result by task ID
func (rs *RedisStorage) GetResult(ctx context.Context, taskID string) (*task.Result, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task ID cannot be empty")
	}

	var result task.Result
	if err := rs.getJSON(ctx, resultStorePrefix+taskID, &result); err != nil {
		return nil, fmt.Errorf("result for task %s: %w", taskID, err)
	}
	return &result, nil
}

// GetTasksByStatus retrieves tasks by their status. A limit of zero or
// less returns every indexed task.
func (rs *RedisStorage) GetTasksByStatus(ctx context.Context, status task.Status, limit int) ([]*task.Task, error) {
	statusKey := statusIndexPrefix + string(status)

	var taskIDs []string
	var err error

	if limit > 0 {
		taskIDs, err = rs.client.SRandMemberN(ctx, statusKey, int64(limit)).Result()
	} else {
		taskIDs, err = rs.client.SMembers(ctx, statusKey).Result()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get task IDs: %w", err)
	}

	tasks := make([]*task.Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		t, err := rs.GetTask(ctx, taskID)
		if err != nil {
			// Expired entries stay in the index until overwritten
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

// DeleteTask removes a task, its index entry and its result
func (rs *RedisStorage) DeleteTask(ctx context.Context, taskID string) error {
	t, err := rs.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, statusIndexPrefix+string(t.Status), taskID)
		pipe.Del(ctx, taskStorePrefix+taskID, resultStorePrefix+taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	return nil
}

// SaveBenchmark persists a benchmark with its tasks and results, and
// records it in the recency index
func (rs *RedisStorage) SaveBenchmark(ctx context.Context, b *task.Benchmark) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("invalid benchmark")
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal benchmark: %w", err)
	}

	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BenchmarkKey(b.ID), data, resultTTL)
		pipe.ZAdd(ctx, benchmarkIndexKey, redis.Z{
			Score:  float64(b.CreatedAt.UnixNano()),
			Member: b.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save benchmark: %w", err)
	}

	return nil
}

// GetBenchmark retrieves a benchmark by ID
func (rs *RedisStorage) GetBenchmark(ctx context.Context, benchmarkID string) (*task.Benchmark, error) {
	if benchmarkID == "" {
		return nil, fmt.Errorf("benchmark ID cannot be empty")
	}

	var b task.Benchmark
	if err := rs.getJSON(ctx, BenchmarkKey(benchmarkID), &b); err != nil {
		return nil, fmt.Errorf("benchmark %s: %w", benchmarkID, err)
	}
	return &b, nil
}

// ListBenchmarks returns stored benchmark IDs, most recent first
func (rs *RedisStorage) ListBenchmarks(ctx context.Context, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := rs.client.ZRevRange(ctx, benchmarkIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmarks: %w", err)
	}
	return ids, nil
}

// Close is a no-op; the caller owns the Redis client
func (rs *RedisStorage) Close() error {
	return nil
}

func (rs *RedisStorage) getJSON(ctx context.Context, key string, v any) error {
	data, err := rs.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
