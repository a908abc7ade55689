package task

import (
	"time"

	"github.com/google/uuid"
)

// ResultStatus represents the outcome of a task execution
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultPartial ResultStatus = "partial"
	ResultError   ResultStatus = "error"
	ResultTimeout ResultStatus = "timeout"
)

// ErrorAgentID is the agent recorded on results synthesized from failures
const ErrorAgentID = "error-agent"

// PerformanceMetrics holds derived timing and rate figures. Execution and
// queue times are in seconds.
type PerformanceMetrics struct {
	ExecutionTime        float64 `json:"execution_time"`
	QueueTime            float64 `json:"queue_time"`
	Throughput           float64 `json:"throughput"`
	SuccessRate          float64 `json:"success_rate"`
	ErrorRate            float64 `json:"error_rate"`
	RetryCount           int     `json:"retry_count"`
	CoordinationOverhead float64 `json:"coordination_overhead"`
	CommunicationLatency float64 `json:"communication_latency"`
}

// ResourceUsage holds resource figures derived from sampler snapshots
type ResourceUsage struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryMB          float64 `json:"memory_mb"`
	PeakMemoryMB      float64 `json:"peak_memory_mb"`
	AverageCPUPercent float64 `json:"average_cpu_percent"`
	NetworkBytesSent  int64   `json:"network_bytes_sent"`
	NetworkBytesRecv  int64   `json:"network_bytes_recv"`
	DiskBytesRead     int64   `json:"disk_bytes_read"`
	DiskBytesWrite    int64   `json:"disk_bytes_write"`
}

// Result represents the outcome of one task execution
type Result struct {
	ID          string             `json:"id"`
	TaskID      string             `json:"task_id"`
	AgentID     string             `json:"agent_id"`
	Status      ResultStatus       `json:"status"`
	Output      map[string]any     `json:"output,omitempty"`
	Errors      []string           `json:"errors"`
	Warnings    []string           `json:"warnings"`
	Performance PerformanceMetrics `json:"performance_metrics"`
	Resources   ResourceUsage      `json:"resource_usage"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// NewResult creates an empty result bound to a task
func NewResult(taskID, agentID string, status ResultStatus) *Result {
	return &Result{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		AgentID:   agentID,
		Status:    status,
		Output:    make(map[string]any),
		Errors:    []string{},
		Warnings:  []string{},
		CreatedAt: time.Now(),
	}
}

// NewErrorResult creates an error result carrying err's text as its only error
func NewErrorResult(taskID string, err error) *Result {
	r := NewResult(taskID, ErrorAgentID, ResultError)
	r.Errors = append(r.Errors, err.Error())
	r.MarkCompleted()
	return r
}

// AddError appends an error message
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddWarning appends a warning message
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// MarkCompleted stamps the completion time if it is not already set
func (r *Result) MarkCompleted() {
	if r.CompletedAt != nil {
		return
	}
	now := time.Now()
	r.CompletedAt = &now
}

// Succeeded reports whether the result counts towards the success rate
func (r *Result) Succeeded() bool {
	return r.Status == ResultSuccess || r.Status == ResultPartial
}
