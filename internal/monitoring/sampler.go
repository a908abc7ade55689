package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/task"
)

const (
	// DefaultInterval is the time between ticks when WithInterval is not given
	DefaultInterval = 100 * time.Millisecond
	// DefaultCapacity is the history length that triggers a trim
	DefaultCapacity = 10000

	// stopWait bounds how long Stop waits for the sampling goroutine
	stopWait = 2 * time.Second
)

// Option configures a Sampler
type Option func(*Sampler)

// WithInterval sets the time between ticks
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithProbe replaces the host probe
func WithProbe(p Probe) Option {
	return func(s *Sampler) {
		if p != nil {
			s.probe = p
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCapacity sets how many snapshots are kept before the history is halved
func WithCapacity(n int) Option {
	return func(s *Sampler) {
		if n >= 2 {
			s.capacity = n
		}
	}
}

// Sampler periodically captures system and process metrics on its own
// goroutine. Start and Stop are the only synchronization points; readers
// see history through the mutex.
type Sampler struct {
	interval time.Duration
	capacity int
	probe    Probe
	log      *logger.Logger

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	endTime   time.Time
	baseline  *SystemMetrics
	snapshots []MetricsSnapshot
	stopCh    chan struct{}
	doneCh    chan struct{}
	cancel    context.CancelFunc
}

// NewSampler creates a stopped sampler
func NewSampler(opts ...Option) *Sampler {
	s := &Sampler{
		interval: DefaultInterval,
		capacity: DefaultCapacity,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.probe == nil {
		s.probe = NewHostProbe()
	}
	s.log = s.log.WithComponent("sampler")
	return s
}

// Interval returns the sampling interval
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Start begins a sampling session. Calling Start on a running sampler does nothing.
func (s *Sampler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.startTime = time.Now()
	s.endTime = time.Time{}
	s.baseline = nil
	s.snapshots = nil
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.cancel = cancel
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.loop(ctx, stop, done)

	if sys, err := s.probe.System(ctx); err == nil {
		s.mu.Lock()
		s.baseline = &sys
		s.mu.Unlock()
	} else {
		s.log.Warn("Failed to capture baseline", logger.Fields{"error": err})
	}
}

// Stop ends the session and returns the aggregated metrics. A sampler that
// is not running returns the zero value.
func (s *Sampler) Stop() task.PerformanceMetrics {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return task.PerformanceMetrics{}
	}
	s.running = false
	s.endTime = time.Now()
	close(s.stopCh)
	done, cancel := s.doneCh, s.cancel
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopWait):
		s.log.Warn("Sampling loop did not exit in time", logger.Fields{"wait": stopWait.String()})
	}
	cancel()

	return s.Aggregate()
}

// Running reports whether a session is active
func (s *Sampler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// loop captures one snapshot per interval until stop is closed
func (s *Sampler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		tickStart := time.Now()
		if err := s.tick(ctx); err != nil {
			select {
			case <-stop:
				return
			default:
			}
			s.log.Warn("Metrics collection tick failed", logger.Fields{"error": err})
		}

		wait := s.interval - time.Since(tickStart)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

func (s *Sampler) tick(ctx context.Context) error {
	sys, err := s.probe.System(ctx)
	if err != nil {
		return err
	}
	procs, err := s.probe.Processes(ctx)
	if err != nil {
		return err
	}

	snap := MetricsSnapshot{
		ID:         uuid.New().String(),
		Timestamp:  time.Now(),
		System:     sys,
		Processes:  procs,
		IntervalMS: float64(s.interval) / float64(time.Millisecond),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// keep timestamps non-decreasing even if the wall clock steps back
	if n := len(s.snapshots); n > 0 && snap.Timestamp.Before(s.snapshots[n-1].Timestamp) {
		snap.Timestamp = s.snapshots[n-1].Timestamp
	}
	s.snapshots = append(s.snapshots, snap)

	if len(s.snapshots) > s.capacity {
		keep := s.capacity / 2
		trimmed := make([]MetricsSnapshot, keep, s.capacity+1)
		copy(trimmed, s.snapshots[len(s.snapshots)-keep:])
		s.snapshots = trimmed
	}
	return nil
}

// Snapshots returns a copy of the current history
func (s *Sampler) Snapshots() []MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MetricsSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// LastSnapshot returns the most recent snapshot, if any
func (s *Sampler) LastSnapshot() (MetricsSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return MetricsSnapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// Baseline returns the system reading taken when the session started
func (s *Sampler) Baseline() (SystemMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.baseline == nil {
		return SystemMetrics{}, false
	}
	return *s.baseline, true
}

// PeakMemoryMB returns the largest summed process memory seen in the history
func (s *Sampler) PeakMemoryMB() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.snapshots).peakMemoryMB
}

// Aggregate derives performance metrics from the current history
func (s *Sampler) Aggregate() task.PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 || s.startTime.IsZero() {
		return task.PerformanceMetrics{}
	}

	elapsed := s.elapsedLocked().Seconds()
	m := task.PerformanceMetrics{
		ExecutionTime: elapsed,
		SuccessRate:   1.0,
	}
	if elapsed > 0 {
		m.Throughput = 1.0 / elapsed
	}
	return m
}

// ResourceUsage derives resource usage from the current history
func (s *Sampler) ResourceUsage() task.ResourceUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.snapshots).resourceUsage()
}

// elapsedLocked returns session length, measured to now while running
func (s *Sampler) elapsedLocked() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	end := s.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.startTime)
}
