package storage

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wgong/flowx/internal/config"
	"github.com/wgong/flowx/internal/task"
)

// setupTestRedis creates a test Redis server using miniredis
func setupTestRedis(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisStorage(client), mr
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default().Redis
	cfg.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("Bad miniredis port: %v", err)
	}
	cfg.Port = port

	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	client.Close()

	mr.Close()
	if _, err := NewClient(context.Background(), cfg); err == nil {
		t.Error("Expected error when redis is unreachable")
	}
}

func TestSaveTask(t *testing.T) {
	storage, mr := setupTestRedis(t)

	tsk := task.NewTask("index the corpus").WithStrategy(task.StrategyResearch)

	if err := storage.SaveTask(context.Background(), tsk); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	if !mr.Exists(taskStorePrefix + tsk.ID) {
		t.Error("Task was not saved to Redis")
	}

	isMember, _ := mr.SIsMember(statusIndexPrefix+string(task.StatusPending), tsk.ID)
	if !isMember {
		t.Error("Task was not added to status index")
	}

	if ttl := mr.TTL(taskStorePrefix + tsk.ID); ttl != taskTTL {
		t.Errorf("Expected TTL %v, got %v", taskTTL, ttl)
	}
}

func TestSaveTask_Invalid(t *testing.T) {
	storage, _ := setupTestRedis(t)

	tests := []struct {
		name string
		task *task.Task
	}{
		{"nil task", nil},
		{"empty ID", &task.Task{Objective: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := storage.SaveTask(context.Background(), tt.task); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestSaveTask_MovesStatusIndex(t *testing.T) {
	storage, mr := setupTestRedis(t)
	ctx := context.Background()

	tsk := task.NewTask("demo")
	if err := storage.SaveTask(ctx, tsk); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	tsk.MarkRunning()
	tsk.MarkCompleted()
	if err := storage.SaveTask(ctx, tsk); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	if ok, _ := mr.SIsMember(statusIndexPrefix+string(task.StatusPending), tsk.ID); ok {
		t.Error("Task still indexed as pending")
	}
	if ok, _ := mr.SIsMember(statusIndexPrefix+string(task.StatusCompleted), tsk.ID); !ok {
		t.Error("Task not indexed as completed")
	}
}

func TestGetTask(t *testing.T) {
	storage, _ := setupTestRedis(t)
	ctx := context.Background()

	original := task.NewTask("profile build").
		WithStrategy(task.StrategyCommand).
		WithMode(task.ModeMesh).
		WithTimeout(2 * time.Minute).
		WithMaxRetries(5)
	original.Parameters["command"] = []string{"make", "build"}

	if err := storage.SaveTask(ctx, original); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	retrieved, err := storage.GetTask(ctx, original.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}

	if retrieved.Objective != original.Objective {
		t.Errorf("Expected objective %s, got %s", original.Objective, retrieved.Objective)
	}
	if retrieved.Strategy != original.Strategy {
		t.Errorf("Expected strategy %s, got %s", original.Strategy, retrieved.Strategy)
	}
	if retrieved.Mode != original.Mode {
		t.Errorf("Expected mode %s, got %s", original.Mode, retrieved.Mode)
	}
	if retrieved.Timeout != original.Timeout {
		t.Errorf("Expected timeout %v, got %v", original.Timeout, retrieved.Timeout)
	}
	if retrieved.MaxRetries != original.MaxRetries {
		t.Errorf("Expected max retries %d, got %d", original.MaxRetries, retrieved.MaxRetries)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	storage, _ := setupTestRedis(t)

	tsk, err := storage.GetTask(context.Background(), "non_existent_id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if tsk != nil {
		t.Error("Expected nil task for non-existent ID")
	}

	if _, err := storage.GetTask(context.Background(), ""); err == nil {
		t.Error("Expected error for empty ID")
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	storage, mr := setupTestRedis(t)
	ctx := context.Background()

	tsk := task.NewTask("demo")
	if err := storage.SaveTask(ctx, tsk); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	if err := storage.UpdateTaskStatus(ctx, tsk.ID, task.StatusRunning); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	retrieved, _ := storage.GetTask(ctx, tsk.ID)
	if retrieved.Status != task.StatusRunning {
		t.Errorf("Expected status running, got %s", retrieved.Status)
	}
	if ok, _ := mr.SIsMember(statusIndexPrefix+string(task.StatusPending), tsk.ID); ok {
		t.Error("Task was not removed from old status index")
	}

	if err := storage.UpdateTaskStatus(ctx, "missing", task.StatusFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndGetResult(t *testing.T) {
	storage, mr := setupTestRedis(t)
	ctx := context.Background()

	original := task.NewResult("task-1", "agent-1", task.ResultSuccess)
	original.Output["raw_output"] = "hello"
	original.Performance.ExecutionTime = 1.5
	original.Resources.PeakMemoryMB = 64
	original.MarkCompleted()

	if err := storage.SaveResult(ctx, original); err != nil {
		t.Fatalf("Failed to save result: %v", err)
	}
	if ttl := mr.TTL(resultStorePrefix + "task-1"); ttl != resultTTL {
		t.Errorf("Expected TTL %v, got %v", resultTTL, ttl)
	}

	retrieved, err := storage.GetResult(ctx, "task-1")
	if err != nil {
		t.Fatalf("Failed to get result: %v", err)
	}

	if retrieved.Status != task.ResultSuccess {
		t.Errorf("Expected status success, got %s", retrieved.Status)
	}
	if retrieved.Output["raw_output"] != "hello" {
		t.Errorf("Output mismatch: %v", retrieved.Output)
	}
	if retrieved.Performance.ExecutionTime != 1.5 {
		t.Errorf("Expected execution time 1.5, got %v", retrieved.Performance.ExecutionTime)
	}
	if retrieved.Resources.PeakMemoryMB != 64 {
		t.Errorf("Expected peak memory 64, got %v", retrieved.Resources.PeakMemoryMB)
	}
	if retrieved.CompletedAt == nil {
		t.Error("Expected completed_at to survive the round trip")
	}
}

func TestSaveResult_Invalid(t *testing.T) {
	storage, _ := setupTestRedis(t)

	if err := storage.SaveResult(context.Background(), nil); err == nil {
		t.Error("Expected error when saving nil result")
	}
	if err := storage.SaveResult(context.Background(), &task.Result{}); err == nil {
		t.Error("Expected error when saving result with empty task ID")
	}
	if _, err := storage.GetResult(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGetTasksByStatus(t *testing.T) {
	storage, _ := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := storage.SaveTask(ctx, task.NewTask("pending work")); err != nil {
			t.Fatalf("Failed to save task: %v", err)
		}
	}

	running := task.NewTask("running work")
	running.MarkRunning()
	if err := storage.SaveTask(ctx, running); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	tasks, err := storage.GetTasksByStatus(ctx, task.StatusPending, 0)
	if err != nil {
		t.Fatalf("Failed to get tasks by status: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("Expected 3 pending tasks, got %d", len(tasks))
	}

	limited, err := storage.GetTasksByStatus(ctx, task.StatusPending, 2)
	if err != nil {
		t.Fatalf("Failed to get tasks by status: %v", err)
	}
	if len(limited) > 2 {
		t.Errorf("Expected at most 2 tasks, got %d", len(limited))
	}

	runningTasks, _ := storage.GetTasksByStatus(ctx, task.StatusRunning, 0)
	if len(runningTasks) != 1 || runningTasks[0].ID != running.ID {
		t.Errorf("Expected the running task, got %v", runningTasks)
	}
}

func TestDeleteTask(t *testing.T) {
	storage, mr := setupTestRedis(t)
	ctx := context.Background()

	tsk := task.NewTask("demo")
	if err := storage.SaveTask(ctx, tsk); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}
	if err := storage.SaveResult(ctx, task.NewResult(tsk.ID, "agent", task.ResultSuccess)); err != nil {
		t.Fatalf("Failed to save result: %v", err)
	}

	if err := storage.DeleteTask(ctx, tsk.ID); err != nil {
		t.Fatalf("Failed to delete task: %v", err)
	}

	if mr.Exists(taskStorePrefix + tsk.ID) {
		t.Error("Task was not deleted from Redis")
	}
	if mr.Exists(resultStorePrefix + tsk.ID) {
		t.Error("Result was not deleted")
	}
	if ok, _ := mr.SIsMember(statusIndexPrefix+string(tsk.Status), tsk.ID); ok {
		t.Error("Task was not removed from status index")
	}

	if err := storage.DeleteTask(ctx, tsk.ID); err == nil {
		t.Error("Expected error when deleting a missing task")
	}
}

func TestBenchmarkRoundTrip(t *testing.T) {
	storage, mr := setupTestRedis(t)
	ctx := context.Background()

	b := task.NewBenchmark("benchmark-1", "Benchmark for: demo")
	tsk := task.NewTask("demo")
	b.AddTask(tsk)
	r := task.NewResult(tsk.ID, "agent", task.ResultSuccess)
	r.MarkCompleted()
	if err := b.AddResult(r); err != nil {
		t.Fatalf("Failed to add result: %v", err)
	}
	b.MarkRunning()
	b.MarkCompleted()
	b.Metadata["optimized"] = true

	if err := storage.SaveBenchmark(ctx, b); err != nil {
		t.Fatalf("Failed to save benchmark: %v", err)
	}
	if !mr.Exists(BenchmarkKey(b.ID)) {
		t.Fatal("Benchmark was not saved")
	}

	retrieved, err := storage.GetBenchmark(ctx, b.ID)
	if err != nil {
		t.Fatalf("Failed to get benchmark: %v", err)
	}

	if retrieved.Name != b.Name {
		t.Errorf("Expected name %s, got %s", b.Name, retrieved.Name)
	}
	if retrieved.Status != task.StatusCompleted {
		t.Errorf("Expected status completed, got %s", retrieved.Status)
	}
	if len(retrieved.Tasks) != 1 || len(retrieved.Results) != 1 {
		t.Errorf("Expected 1 task and 1 result, got %d and %d", len(retrieved.Tasks), len(retrieved.Results))
	}
	if retrieved.Metrics.SuccessRate != 1 {
		t.Errorf("Expected success rate 1, got %v", retrieved.Metrics.SuccessRate)
	}
	if retrieved.Metadata["optimized"] != true {
		t.Error("Metadata was not preserved")
	}
}

func TestBenchmark_InvalidAndMissing(t *testing.T) {
	storage, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := storage.SaveBenchmark(ctx, nil); err == nil {
		t.Error("Expected error when saving nil benchmark")
	}
	if _, err := storage.GetBenchmark(ctx, ""); err == nil {
		t.Error("Expected error for empty ID")
	}
	if _, err := storage.GetBenchmark(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListBenchmarks(t *testing.T) {
	storage, _ := setupTestRedis(t)
	ctx := context.Background()

	var ids []string
	base := time.Now()
	for i := 0; i < 3; i++ {
		b := task.NewBenchmark("bench", "")
		b.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := storage.SaveBenchmark(ctx, b); err != nil {
			t.Fatalf("Failed to save benchmark: %v", err)
		}
		ids = append(ids, b.ID)
	}

	all, err := storage.ListBenchmarks(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list benchmarks: %v", err)
	}
	expected := []string{ids[2], ids[1], ids[0]}
	if len(all) != 3 {
		t.Fatalf("Expected 3 benchmarks, got %d", len(all))
	}
	for i := range expected {
		if all[i] != expected[i] {
			t.Errorf("Position %d: expected %s, got %s", i, expected[i], all[i])
		}
	}

	latest, _ := storage.ListBenchmarks(ctx, 1)
	if len(latest) != 1 || latest[0] != ids[2] {
		t.Errorf("Expected only the latest benchmark, got %v", latest)
	}
}

func TestClose(t *testing.T) {
	storage, _ := setupTestRedis(t)

	if err := storage.Close(); err != nil {
		t.Errorf("Failed to close storage: %v", err)
	}
}
