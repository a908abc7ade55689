package process

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wgong/flowx/internal/task"
)

// AgentID is recorded on results produced by CommandStrategy
const AgentID = "process-supervisor"

// CommandStrategy executes a task as an external command under the
// supervisor. The command comes from the task's "command" parameter, then
// the strategy default, then the objective split on whitespace.
type CommandStrategy struct {
	sup      *Supervisor
	fallback []string
}

// NewCommandStrategy creates a strategy running commands through sup
func NewCommandStrategy(sup *Supervisor, defaultCommand []string) *CommandStrategy {
	return &CommandStrategy{sup: sup, fallback: defaultCommand}
}

// Execute runs the task's command. A failing or timed out command is
// reported through the result status, not as an error.
func (c *CommandStrategy) Execute(ctx context.Context, t *task.Task) (*task.Result, error) {
	command, err := c.command(t)
	if err != nil {
		return nil, err
	}

	res := c.sup.Run(ctx, command, t.Timeout, stringMap(t.Parameters["env"]))

	status := task.ResultSuccess
	switch {
	case res.TimedOut || errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = task.ResultTimeout
	case !res.Success:
		status = task.ResultError
	}

	r := task.NewResult(t.ID, AgentID, status)
	r.Output["raw_output"] = res.Stdout
	r.Output["stderr"] = res.Stderr
	r.Output["exit_code"] = res.ExitCode
	r.Output["command"] = res.Command
	r.Output["output_size"] = res.OutputLines
	r.Output["error_count"] = res.ErrorLines

	r.Performance = res.Performance
	r.Performance.ExecutionTime = res.Duration.Seconds()
	if res.Success {
		r.Performance.SuccessRate = 1
	} else {
		r.Performance.ErrorRate = 1
		r.AddError(fmt.Sprintf("command exited with code %d", res.ExitCode))
	}
	r.Resources = res.Resources
	r.MarkCompleted()
	return r, nil
}

func (c *CommandStrategy) command(t *task.Task) ([]string, error) {
	switch v := t.Parameters["command"].(type) {
	case []string:
		if len(v) > 0 {
			return v, nil
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, a := range v {
			out = append(out, fmt.Sprint(a))
		}
		if len(out) > 0 {
			return out, nil
		}
	case string:
		if f := strings.Fields(v); len(f) > 0 {
			return f, nil
		}
	}

	if len(c.fallback) > 0 {
		return c.fallback, nil
	}
	if f := strings.Fields(t.Objective); len(f) > 0 {
		return f, nil
	}
	return nil, errors.New("no command to execute")
}

func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
		return out
	default:
		return nil
	}
}
