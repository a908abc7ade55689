package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wgong/flowx/internal/task"
)

const (
	// Redis key prefixes
	queueKeyPrefix = "flowx:queue:"
	taskKeyPrefix  = "flowx:queue:task:"
	statsKey       = "flowx:queue:stats"

	// Queued task payloads expire if nothing drains them
	queuedTaskTTL = 7 * 24 * time.Hour
)

// RedisQueue implements Queue with one Redis list per priority level
type RedisQueue struct {
	client    *redis.Client
	queueKeys map[int]string
}

// NewRedisQueue creates a queue on an existing client. The caller owns the
// client and closes it.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	keys := make(map[int]string, len(priorityOrder))
	for _, p := range priorityOrder {
		keys[p] = queueKeyPrefix + PriorityString(p)
	}
	return &RedisQueue{client: client, queueKeys: keys}
}

// Enqueue stores the task payload and pushes its ID onto its priority list
func (rq *RedisQueue) Enqueue(ctx context.Context, t *task.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("invalid task")
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	queueKey := rq.queueKeys[clampPriority(t.Priority)]
	_, err = rq.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKeyPrefix+t.ID, data, queuedTaskTTL)
		pipe.RPush(ctx, queueKey, t.ID)
		pipe.HIncrBy(ctx, statsKey, "enqueued", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", t.ID, err)
	}
	return nil
}

// Dequeue pops from the most urgent non-empty list. IDs whose payload has
// expired are skipped.
func (rq *RedisQueue) Dequeue(ctx context.Context) (*task.Task, error) {
	for _, p := range priorityOrder {
		queueKey := rq.queueKeys[p]
		for {
			id, err := rq.client.LPop(ctx, queueKey).Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to dequeue task: %w", err)
			}

			data, err := rq.client.GetDel(ctx, taskKeyPrefix+id).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				rq.client.LPush(ctx, queueKey, id)
				return nil, fmt.Errorf("failed to retrieve task %s: %w", id, err)
			}

			var t task.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return nil, fmt.Errorf("failed to unmarshal task %s: %w", id, err)
			}
			rq.client.HIncrBy(ctx, statsKey, "dequeued", 1)
			return &t, nil
		}
	}
	return nil, nil
}

// Peek returns the next task without removing it
func (rq *RedisQueue) Peek(ctx context.Context) (*task.Task, error) {
	for _, p := range priorityOrder {
		ids, err := rq.client.LRange(ctx, rq.queueKeys[p], 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to peek task: %w", err)
		}
		for _, id := range ids {
			data, err := rq.client.Get(ctx, taskKeyPrefix+id).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to retrieve task %s: %w", id, err)
			}
			var t task.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return nil, fmt.Errorf("failed to unmarshal task %s: %w", id, err)
			}
			return &t, nil
		}
	}
	return nil, ErrNoTask
}

// Drain dequeues up to max tasks in priority order
func (rq *RedisQueue) Drain(ctx context.Context, max int) ([]*task.Task, error) {
	var tasks []*task.Task
	for max <= 0 || len(tasks) < max {
		t, err := rq.Dequeue(ctx)
		if err != nil {
			return tasks, err
		}
		if t == nil {
			break
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Size returns the number of queued IDs across all levels
func (rq *RedisQueue) Size(ctx context.Context) (int64, error) {
	sizes, err := rq.SizeByPriority(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range sizes {
		total += n
	}
	return total, nil
}

// SizeByPriority returns the number of queued IDs for each level
func (rq *RedisQueue) SizeByPriority(ctx context.Context) (map[int]int64, error) {
	sizes := make(map[int]int64, len(rq.queueKeys))
	for p, key := range rq.queueKeys {
		n, err := rq.client.LLen(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get queue size for %s: %w", PriorityString(p), err)
		}
		sizes[p] = n
	}
	return sizes, nil
}

// Stats returns the enqueue and dequeue counters
func (rq *RedisQueue) Stats(ctx context.Context) (map[string]int64, error) {
	raw, err := rq.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	stats := map[string]int64{"enqueued": 0, "dequeued": 0}
	for k, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			stats[k] = n
		}
	}
	return stats, nil
}

// Purge removes every list, payload and counter
func (rq *RedisQueue) Purge(ctx context.Context) error {
	keys := []string{statsKey}
	for _, key := range rq.queueKeys {
		keys = append(keys, key)
	}

	iter := rq.client.Scan(ctx, 0, taskKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan queued tasks: %w", err)
	}

	if err := rq.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}
	return nil
}

// Health checks the Redis connection
func (rq *RedisQueue) Health(ctx context.Context) error {
	return rq.client.Ping(ctx).Err()
}
