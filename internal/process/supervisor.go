// Package process runs external commands under a resource sampler and
// enforces timeouts with terminate-then-kill escalation.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/monitoring"
	"github.com/wgong/flowx/internal/task"
)

const (
	// ExitCodeFailure is reported when the process timed out or never ran
	ExitCodeFailure = -1

	// TimeoutMarker is appended to stderr of timed out processes
	TimeoutMarker = "Process execution timed out"

	DefaultGracePeriod = 500 * time.Millisecond
)

// ExecutionResult describes one supervised process run
type ExecutionResult struct {
	Command     []string                `json:"command"`
	ExitCode    int                     `json:"exit_code"`
	Stdout      string                  `json:"stdout"`
	Stderr      string                  `json:"stderr"`
	StartTime   time.Time               `json:"start_time"`
	EndTime     time.Time               `json:"end_time"`
	Duration    time.Duration           `json:"duration"`
	Success     bool                    `json:"success"`
	TimedOut    bool                    `json:"timed_out"`
	Performance task.PerformanceMetrics `json:"performance_metrics"`
	Resources   task.ResourceUsage      `json:"resource_usage"`
	OutputLines int                     `json:"output_size"`
	ErrorLines  int                     `json:"error_count"`
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithSamplingInterval sets the per-run sampler interval
func WithSamplingInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithGracePeriod sets the wait between terminate and kill
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithProbe makes every run sample through p instead of a fresh host probe
func WithProbe(p monitoring.Probe) Option {
	return func(s *Supervisor) {
		s.probe = p
	}
}

// Supervisor runs external commands. Runs are independent and may overlap.
type Supervisor struct {
	interval time.Duration
	grace    time.Duration
	probe    monitoring.Probe
	log      *logger.Logger
}

// New creates a supervisor
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		interval: monitoring.DefaultInterval,
		grace:    DefaultGracePeriod,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("supervisor")
	return s
}

// Start runs the command in the background and delivers its result on the
// returned channel
func (s *Supervisor) Start(ctx context.Context, command []string, timeout time.Duration, env map[string]string) <-chan *ExecutionResult {
	ch := make(chan *ExecutionResult, 1)
	go func() {
		defer close(ch)
		ch <- s.Run(ctx, command, timeout, env)
	}()
	return ch
}

// Run executes command and blocks until it exits, times out or ctx is
// cancelled. Failures are reported in the result, never as a panic or error.
// A non-positive timeout disables the deadline.
func (s *Supervisor) Run(ctx context.Context, command []string, timeout time.Duration, env map[string]string) *ExecutionResult {
	res := &ExecutionResult{
		Command:   append([]string(nil), command...),
		ExitCode:  ExitCodeFailure,
		StartTime: time.Now(),
	}

	sampler := s.newSampler()
	sampler.Start()

	if len(command) == 0 {
		return s.fail(res, sampler, errors.New("no command provided"))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	// bound Wait when descendants keep the output pipes open after a kill
	cmd.WaitDelay = s.grace + time.Second

	if err := cmd.Start(); err != nil {
		return s.fail(res, sampler, err)
	}
	s.log.Debug("Process started", logger.Fields{"pid": cmd.Process.Pid, "command": command[0]})

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var waitErr error
	select {
	case waitErr = <-waitCh:
		res.ExitCode = exitCodeForError(cmd, waitErr)

	case <-deadline:
		s.log.Warn("Process timed out", logger.Fields{"pid": cmd.Process.Pid, "timeout": timeout.String()})
		s.escalate(cmd.Process, waitCh)
		res.TimedOut = true

	case <-ctx.Done():
		s.escalate(cmd.Process, waitCh)
		waitErr = ctx.Err()
	}

	res.Stdout = decode(stdout.Bytes())
	res.Stderr = decode(stderr.Bytes())
	switch {
	case res.TimedOut:
		res.ExitCode = ExitCodeFailure
		res.Stderr += "\n" + TimeoutMarker
	case ctx.Err() != nil && waitErr == ctx.Err():
		res.ExitCode = ExitCodeFailure
		res.Stderr += "\nError executing process: " + waitErr.Error()
	}

	res.Performance = sampler.Stop()
	res.Resources = finalUsage(sampler)
	s.finish(res)
	return res
}

// escalate sends a terminate signal to the process group, waits the grace
// period, then kills whatever is left of the group. The kill is sent even
// when the leader exited early, since descendants may ignore the terminate.
func (s *Supervisor) escalate(p *os.Process, waitCh <-chan error) {
	if err := terminate(p); err != nil {
		s.log.Debug("Terminate failed", logger.Fields{"pid": p.Pid, "error": err})
	}

	exited := false
	select {
	case <-waitCh:
		exited = true
	case <-time.After(s.grace):
	}

	if err := kill(p); err != nil {
		s.log.Warn("Kill failed", logger.Fields{"pid": p.Pid, "error": err})
	}
	if !exited {
		<-waitCh
	}
}

func (s *Supervisor) fail(res *ExecutionResult, sampler *monitoring.Sampler, err error) *ExecutionResult {
	sampler.Stop()
	s.log.Warn("Process execution failed", logger.Fields{"error": err})

	res.ExitCode = ExitCodeFailure
	res.Stderr = fmt.Sprintf("Error executing process: %v", err)
	res.Performance = task.PerformanceMetrics{}
	res.Resources = task.ResourceUsage{}
	s.finish(res)
	return res
}

func (s *Supervisor) finish(res *ExecutionResult) {
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)
	res.Success = res.ExitCode == 0
	res.OutputLines = countLines(res.Stdout)
	res.ErrorLines = countLines(res.Stderr)
}

func (s *Supervisor) newSampler() *monitoring.Sampler {
	opts := []monitoring.Option{
		monitoring.WithInterval(s.interval),
		monitoring.WithLogger(s.log),
	}
	if s.probe != nil {
		opts = append(opts, monitoring.WithProbe(s.probe))
	}
	return monitoring.NewSampler(opts...)
}

// finalUsage reports the last snapshot's summed CPU and memory alongside
// the session's peak, average and counter deltas
func finalUsage(sampler *monitoring.Sampler) task.ResourceUsage {
	usage := sampler.ResourceUsage()
	last, ok := sampler.LastSnapshot()
	if !ok {
		return task.ResourceUsage{}
	}
	usage.CPUPercent = last.ProcessCPU()
	usage.MemoryMB = last.ProcessMemoryMB()
	return usage
}

func exitCodeForError(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	// the process exited but a descendant held the pipes past WaitDelay
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return ExitCodeFailure
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
