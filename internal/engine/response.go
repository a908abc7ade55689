package engine

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/wgong/flowx/internal/task"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	// outputPreviewLen is the number of characters of raw output kept in
	// result summaries
	outputPreviewLen = 200
)

// Response summarizes one benchmark run. A failed run only carries the
// ID, status, error and duration.
type Response struct {
	BenchmarkID string            `json:"benchmark_id"`
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	Error       string            `json:"error,omitempty"`
	Summary     string            `json:"summary"`
	Duration    float64           `json:"duration"`
	TaskCount   int               `json:"task_count"`
	SuccessRate float64           `json:"success_rate"`
	Metrics     *ResponseMetrics  `json:"metrics"`
	Results     []ResultSummary   `json:"results"`
	Metadata    map[string]any    `json:"metadata"`
	Outputs     map[string]string `json:"outputs"`
}

// ResponseMetrics flattens the benchmark aggregates
type ResponseMetrics struct {
	ExecutionTime     float64 `json:"execution_time"`
	TasksPerSecond    float64 `json:"tasks_per_second"`
	SuccessRate       float64 `json:"success_rate"`
	PeakMemoryMB      float64 `json:"peak_memory_mb"`
	AverageCPUPercent float64 `json:"average_cpu_percent"`
}

// ResultSummary is the response view of one result
type ResultSummary struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	AgentID       string         `json:"agent_id"`
	Status        string         `json:"status"`
	OutputSummary map[string]any `json:"output_summary"`
	Errors        []string       `json:"errors"`
	Warnings      []string       `json:"warnings"`
	Performance   struct {
		ExecutionTime float64 `json:"execution_time"`
		SuccessRate   float64 `json:"success_rate"`
		Throughput    float64 `json:"throughput"`
	} `json:"performance"`
	Resources struct {
		CPUPercent   float64 `json:"cpu_percent"`
		MemoryMB     float64 `json:"memory_mb"`
		PeakMemoryMB float64 `json:"peak_memory_mb"`
	} `json:"resources"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// MarshalJSON emits the short failure shape for failed runs
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Status != StatusSuccess {
		return json.Marshal(struct {
			BenchmarkID string  `json:"benchmark_id"`
			Status      string  `json:"status"`
			Error       string  `json:"error"`
			Duration    float64 `json:"duration"`
		}{r.BenchmarkID, r.Status, r.Error, r.Duration})
	}
	type plain Response
	return json.Marshal(plain(r))
}

// Succeeded reports whether the run completed
func (r *Response) Succeeded() bool {
	return r.Status == StatusSuccess
}

func successResponse(b *task.Benchmark, outputs map[string]string) *Response {
	duration := b.Duration().Seconds()

	results := make([]ResultSummary, 0, len(b.Results))
	for _, r := range b.Results {
		results = append(results, summarizeResult(r))
	}

	return &Response{
		BenchmarkID: b.ID,
		Name:        b.Name,
		Status:      StatusSuccess,
		Summary:     fmt.Sprintf("Completed %d tasks", len(b.Results)),
		Duration:    duration,
		TaskCount:   len(b.Tasks),
		SuccessRate: b.Metrics.SuccessRate,
		Metrics: &ResponseMetrics{
			ExecutionTime:     duration,
			TasksPerSecond:    b.Metrics.Throughput,
			SuccessRate:       b.Metrics.SuccessRate,
			PeakMemoryMB:      b.Metrics.PeakMemoryMB,
			AverageCPUPercent: b.Metrics.AverageCPUPercent,
		},
		Results:  results,
		Metadata: b.Metadata,
		Outputs:  outputs,
	}
}

func failureResponse(b *task.Benchmark, err error) *Response {
	return &Response{
		BenchmarkID: b.ID,
		Status:      StatusFailed,
		Error:       err.Error(),
		Duration:    b.Duration().Seconds(),
	}
}

func summarizeResult(r *task.Result) ResultSummary {
	s := ResultSummary{
		ID:            r.ID,
		TaskID:        r.TaskID,
		AgentID:       r.AgentID,
		Status:        string(r.Status),
		OutputSummary: summarizeOutput(r.Output),
		Errors:        r.Errors,
		Warnings:      r.Warnings,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
	}
	s.Performance.ExecutionTime = r.Performance.ExecutionTime
	s.Performance.SuccessRate = r.Performance.SuccessRate
	s.Performance.Throughput = r.Performance.Throughput
	s.Resources.CPUPercent = r.Resources.CPUPercent
	s.Resources.MemoryMB = r.Resources.MemoryMB
	s.Resources.PeakMemoryMB = r.Resources.PeakMemoryMB
	return s
}

// summarizeOutput shortens a raw_output string payload. Any other output
// is returned as is.
func summarizeOutput(out map[string]any) map[string]any {
	if len(out) == 0 {
		return map[string]any{}
	}

	raw, ok := out["raw_output"].(string)
	if !ok {
		return out
	}

	length := utf8.RuneCountInString(raw)
	preview := raw
	if length > outputPreviewLen {
		preview = string([]rune(raw)[:outputPreviewLen]) + "..."
	}

	return map[string]any{
		"truncated_output": preview,
		"output_length":    length,
		"sections_count":   sectionsCount(out["sections"]),
	}
}

func sectionsCount(v any) int {
	switch s := v.(type) {
	case map[string]any:
		return len(s)
	case []any:
		return len(s)
	case []string:
		return len(s)
	default:
		return 0
	}
}
