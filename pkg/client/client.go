// Package client submits tasks to a flowx queue and reads back their
// status and results from Redis.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wgong/flowx/internal/queue"
	"github.com/wgong/flowx/internal/storage"
	"github.com/wgong/flowx/internal/task"
)

const resultPollInterval = 100 * time.Millisecond

// Config holds client configuration
type Config struct {
	RedisAddr string
	Password  string
	DB        int
	Timeout   time.Duration
}

// Client submits tasks and queries their progress
type Client struct {
	config Config
	redis  *redis.Client
	queue  *queue.RedisQueue
	store  *storage.RedisStorage
}

// New creates a client and checks the Redis connection
func New(config Config) (*Client, error) {
	if config.RedisAddr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}

	return &Client{
		config: config,
		redis:  rc,
		queue:  queue.NewRedisQueue(rc),
		store:  storage.NewRedisStorage(rc),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.redis.Close()
}

// Submit queues a task and returns its ID
func (c *Client) Submit(ctx context.Context, t *task.Task) (string, error) {
	if t == nil {
		return "", fmt.Errorf("task cannot be nil")
	}
	if err := c.queue.Enqueue(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// SubmitBatch queues tasks in order, stopping at the first failure. The
// returned IDs are those queued before it.
func (c *Client) SubmitBatch(ctx context.Context, tasks []*task.Task) ([]string, error) {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		id, err := c.Submit(ctx, t)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetResult waits up to timeout for the task's result to be stored
func (c *Client) GetResult(ctx context.Context, taskID string, timeout time.Duration) (*task.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(resultPollInterval)
	defer ticker.Stop()

	for {
		r, err := c.store.GetResult(ctx, taskID)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("result for task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetStatus returns the stored task. A task that is still queued and has
// not run yet is reported as not found.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*task.Task, error) {
	return c.store.GetTask(ctx, taskID)
}

// Stats holds queue and task counts
type Stats struct {
	Queued    int64
	Pending   int
	Running   int
	Completed int
	Failed    int
}

// GetStats counts queued tasks and stored tasks by status
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	queued, err := c.queue.Size(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Queued: queued}

	counts := map[task.Status]*int{
		task.StatusPending:   &stats.Pending,
		task.StatusRunning:   &stats.Running,
		task.StatusCompleted: &stats.Completed,
		task.StatusFailed:    &stats.Failed,
	}
	for status, n := range counts {
		tasks, err := c.store.GetTasksByStatus(ctx, status, 0)
		if err != nil {
			return nil, err
		}
		*n = len(tasks)
	}
	return stats, nil
}
