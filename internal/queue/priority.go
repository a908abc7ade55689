package queue

import (
	"fmt"
	"strings"

	"github.com/wgong/flowx/internal/task"
)

// priorityOrder lists the levels from most to least urgent
var priorityOrder = []int{
	task.PriorityCritical,
	task.PriorityHigh,
	task.PriorityNormal,
	task.PriorityLow,
}

// PriorityString returns the name of a priority level
func PriorityString(p int) string {
	switch p {
	case task.PriorityCritical:
		return "critical"
	case task.PriorityHigh:
		return "high"
	case task.PriorityNormal:
		return "normal"
	case task.PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts a level name to its value
func ParsePriority(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return task.PriorityCritical, nil
	case "high":
		return task.PriorityHigh, nil
	case "normal":
		return task.PriorityNormal, nil
	case "low":
		return task.PriorityLow, nil
	default:
		return task.PriorityNormal, fmt.Errorf("unknown priority: %s", s)
	}
}

// clampPriority maps out-of-range values onto the nearest level
func clampPriority(p int) int {
	if p < task.PriorityLow {
		return task.PriorityLow
	}
	if p > task.PriorityCritical {
		return task.PriorityCritical
	}
	return p
}
