// Package queue holds tasks submitted ahead of a benchmark run, ordered by
// priority, until a run drains them.
package queue

import (
	"context"
	"errors"

	"github.com/wgong/flowx/internal/task"
)

// ErrNoTask is returned by Peek when every priority list is empty
var ErrNoTask = errors.New("no task available")

// Queue defines the interface for task queue operations
type Queue interface {
	// Enqueue adds a task to the list for its priority
	Enqueue(ctx context.Context, t *task.Task) error

	// Dequeue removes and returns the highest priority task, or nil when
	// the queue is empty
	Dequeue(ctx context.Context) (*task.Task, error)

	// Peek returns the next task without removing it
	Peek(ctx context.Context) (*task.Task, error)

	// Drain dequeues up to max tasks (all of them when max <= 0)
	Drain(ctx context.Context, max int) ([]*task.Task, error)

	Size(ctx context.Context) (int64, error)
	SizeByPriority(ctx context.Context) (map[int]int64, error)
	Purge(ctx context.Context) error
	Health(ctx context.Context) error
}
