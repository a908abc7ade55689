package task

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task or benchmark
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StrategyType tags the strategy a task is executed with
type StrategyType string

const (
	StrategyAuto        StrategyType = "auto"
	StrategyResearch    StrategyType = "research"
	StrategyDevelopment StrategyType = "development"
	StrategyAnalysis    StrategyType = "analysis"
	StrategyTesting     StrategyType = "testing"
	StrategyCommand     StrategyType = "command"
)

// CoordinationMode tags how agents coordinate while executing a task
type CoordinationMode string

const (
	ModeCentralized  CoordinationMode = "centralized"
	ModeDistributed  CoordinationMode = "distributed"
	ModeHierarchical CoordinationMode = "hierarchical"
	ModeMesh         CoordinationMode = "mesh"
	ModeHybrid       CoordinationMode = "hybrid"
)

// Priority levels for queued tasks. NewTask defaults to PriorityNormal.
const (
	PriorityLow      = 0
	PriorityNormal   = 1
	PriorityHigh     = 2
	PriorityCritical = 3
)

// Task represents a unit of benchmark work
type Task struct {
	ID          string           `json:"id"`
	Objective   string           `json:"objective"`
	Description string           `json:"description,omitempty"`
	Strategy    StrategyType     `json:"strategy"`
	Mode        CoordinationMode `json:"mode"`
	Timeout     time.Duration    `json:"timeout"`
	MaxRetries  int              `json:"max_retries"`
	Priority    int              `json:"priority"`
	Status      Status           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Parameters  map[string]any   `json:"parameters,omitempty"`
}

// NewTask creates a new task with sensible defaults
func NewTask(objective string) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Objective:  objective,
		Strategy:   StrategyAuto,
		Mode:       ModeCentralized,
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		Priority:   PriorityNormal,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		Parameters: make(map[string]any),
	}
}

// WithDescription sets the task description
func (t *Task) WithDescription(d string) *Task {
	t.Description = d
	return t
}

// WithStrategy sets the strategy tag
func (t *Task) WithStrategy(s StrategyType) *Task {
	t.Strategy = s
	return t
}

// WithMode sets the coordination mode
func (t *Task) WithMode(m CoordinationMode) *Task {
	t.Mode = m
	return t
}

// WithTimeout sets the execution timeout
func (t *Task) WithTimeout(d time.Duration) *Task {
	t.Timeout = d
	return t
}

// WithMaxRetries sets the retry budget
func (t *Task) WithMaxRetries(max int) *Task {
	t.MaxRetries = max
	return t
}

// WithPriority sets the queue priority
func (t *Task) WithPriority(p int) *Task {
	t.Priority = p
	return t
}

// MarkRunning marks the task as started
func (t *Task) MarkRunning() {
	now := time.Now()
	t.StartedAt = &now
	t.Status = StatusRunning
}

// MarkCompleted marks the task as successfully completed
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.CompletedAt = &now
	t.Status = StatusCompleted
}

// MarkFailed marks the task as failed. A task that never reached running
// still gets a start timestamp so both ends of the interval are set.
func (t *Task) MarkFailed() {
	now := time.Now()
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.CompletedAt = &now
	t.Status = StatusFailed
}

// Duration returns how long the task ran, or zero if it has not finished
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// Terminal reports whether the task reached completed or failed
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
