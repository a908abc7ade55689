package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BenchmarkMetrics aggregates results across a benchmark run
type BenchmarkMetrics struct {
	TotalTasks           int     `json:"total_tasks"`
	CompletedTasks       int     `json:"completed_tasks"`
	FailedTasks          int     `json:"failed_tasks"`
	SuccessRate          float64 `json:"success_rate"`
	AverageExecutionTime float64 `json:"average_execution_time"`
	TotalExecutionTime   float64 `json:"total_execution_time"`
	Throughput           float64 `json:"throughput"`
	PeakMemoryMB         float64 `json:"peak_memory_usage"`
	TotalCPUTime         float64 `json:"total_cpu_time"`
	AverageCPUPercent    float64 `json:"average_cpu_percent"`
}

// Benchmark owns every task and result produced by one engine run
type Benchmark struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Status      Status           `json:"status"`
	Config      any              `json:"config,omitempty"`
	Tasks       []*Task          `json:"tasks"`
	Results     []*Result        `json:"results"`
	Metrics     BenchmarkMetrics `json:"metrics"`
	Metadata    map[string]any   `json:"metadata"`
	ErrorLog    []string         `json:"error_log"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// NewBenchmark creates an empty pending benchmark
func NewBenchmark(name, description string) *Benchmark {
	return &Benchmark{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Status:      StatusPending,
		Tasks:       []*Task{},
		Results:     []*Result{},
		Metadata:    make(map[string]any),
		ErrorLog:    []string{},
		CreatedAt:   time.Now(),
	}
}

// AddTask attaches a task and bumps the task count
func (b *Benchmark) AddTask(t *Task) {
	b.Tasks = append(b.Tasks, t)
	b.Metrics.TotalTasks = len(b.Tasks)
}

// AddResult attaches a result produced for one of the benchmark's tasks
// and refreshes the aggregate metrics.
func (b *Benchmark) AddResult(r *Result) error {
	if r == nil {
		return fmt.Errorf("nil result")
	}
	if b.TaskByID(r.TaskID) == nil {
		return fmt.Errorf("result %s references unknown task %s", r.ID, r.TaskID)
	}
	b.Results = append(b.Results, r)
	b.updateMetrics()
	return nil
}

// TaskByID returns the owned task with the given ID, or nil
func (b *Benchmark) TaskByID(id string) *Task {
	for _, t := range b.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// MarkRunning moves the benchmark into the running state
func (b *Benchmark) MarkRunning() {
	now := time.Now()
	b.StartedAt = &now
	b.Status = StatusRunning
}

// MarkCompleted moves the benchmark into the completed state
func (b *Benchmark) MarkCompleted() {
	now := time.Now()
	b.CompletedAt = &now
	b.Status = StatusCompleted
	b.updateMetrics()
}

// MarkFailed moves the benchmark into the failed state and logs err
func (b *Benchmark) MarkFailed(err error) {
	now := time.Now()
	b.CompletedAt = &now
	b.Status = StatusFailed
	if err != nil {
		b.ErrorLog = append(b.ErrorLog, err.Error())
	}
}

// Duration returns elapsed run time. A running benchmark reports time since start.
func (b *Benchmark) Duration() time.Duration {
	if b.StartedAt == nil {
		return 0
	}
	if b.CompletedAt == nil {
		return time.Since(*b.StartedAt)
	}
	return b.CompletedAt.Sub(*b.StartedAt)
}

// updateMetrics recomputes the aggregate figures from the attached results
func (b *Benchmark) updateMetrics() {
	m := BenchmarkMetrics{TotalTasks: len(b.Tasks)}

	var cpuSum float64
	for _, r := range b.Results {
		if r.Succeeded() {
			m.CompletedTasks++
		} else {
			m.FailedTasks++
		}
		m.TotalExecutionTime += r.Performance.ExecutionTime
		m.TotalCPUTime += r.Resources.AverageCPUPercent * r.Performance.ExecutionTime
		cpuSum += r.Resources.AverageCPUPercent
		if r.Resources.PeakMemoryMB > m.PeakMemoryMB {
			m.PeakMemoryMB = r.Resources.PeakMemoryMB
		}
	}

	if n := len(b.Results); n > 0 {
		m.SuccessRate = float64(m.CompletedTasks) / float64(n)
		m.AverageExecutionTime = m.TotalExecutionTime / float64(n)
		m.AverageCPUPercent = cpuSum / float64(n)
	}
	if secs := b.Duration().Seconds(); secs > 0 {
		m.Throughput = float64(len(b.Results)) / secs
	}

	b.Metrics = m
}
