package storage

import (
	"context"
	"errors"

	"github.com/wgong/flowx/internal/task"
)

// ErrNotFound is returned when a task, result or benchmark does not exist
var ErrNotFound = errors.New("not found")

// Storage defines the interface for persisting run state
type Storage interface {
	// SaveTask persists a task and indexes it by status
	SaveTask(ctx context.Context, t *task.Task) error

	// GetTask retrieves a task by ID
	GetTask(ctx context.Context, taskID string) (*task.Task, error)

	// UpdateTaskStatus moves a stored task to a new status
	UpdateTaskStatus(ctx context.Context, taskID string, status task.Status) error

	// SaveResult persists a task result keyed by its task ID
	SaveResult(ctx context.Context, result *task.Result) error

	// GetResult retrieves a task result by task ID
	GetResult(ctx context.Context, taskID string) (*task.Result, error)

	// GetTasksByStatus retrieves tasks by their status
	GetTasksByStatus(ctx context.Context, status task.Status, limit int) ([]*task.Task, error)

	// DeleteTask removes a task and its result
	DeleteTask(ctx context.Context, taskID string) error

	// SaveBenchmark persists a whole benchmark run
	SaveBenchmark(ctx context.Context, b *task.Benchmark) error

	// GetBenchmark retrieves a benchmark by ID
	GetBenchmark(ctx context.Context, benchmarkID string) (*task.Benchmark, error)

	// ListBenchmarks returns benchmark IDs, most recent first
	ListBenchmarks(ctx context.Context, limit int) ([]string, error)

	// Close closes the storage connection
	Close() error
}
