package monitoring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Probe reads system and process metrics
type Probe interface {
	System(ctx context.Context) (SystemMetrics, error)
	Processes(ctx context.Context) ([]ProcessSnapshot, error)
}

// HostProbe reads metrics from the local host. The process set is the
// current process plus all of its descendants.
type HostProbe struct {
	mu   sync.Mutex
	self int32
	// handles are kept across ticks so CPU percent is a delta since the last read
	handles map[int32]*process.Process
	// children lists the direct children of a process
	children func(ctx context.Context, p *process.Process) ([]*process.Process, error)
}

// NewHostProbe creates a probe rooted at the current process
func NewHostProbe() *HostProbe {
	return &HostProbe{
		self:     int32(os.Getpid()),
		handles:  make(map[int32]*process.Process),
		children: listChildren,
	}
}

func listChildren(ctx context.Context, p *process.Process) ([]*process.Process, error) {
	return p.ChildrenWithContext(ctx)
}

// System reads host CPU, memory, disk and network counters. Disk and
// network counters are optional and read as zero when unavailable.
func (h *HostProbe) System(ctx context.Context) (SystemMetrics, error) {
	m := SystemMetrics{Timestamp: time.Now()}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return m, fmt.Errorf("failed to read cpu: %w", err)
	}
	if len(percents) > 0 {
		m.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return m, fmt.Errorf("failed to read memory: %w", err)
	}
	m.MemoryPercent = vm.UsedPercent
	m.MemoryAvailableMB = float64(vm.Available) / bytesPerMB
	m.MemoryUsedMB = float64(vm.Used) / bytesPerMB

	if counters, err := disk.IOCountersWithContext(ctx); err == nil {
		for _, c := range counters {
			m.DiskReadBytes += int64(c.ReadBytes)
			m.DiskWriteBytes += int64(c.WriteBytes)
		}
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		m.NetworkSentBytes = int64(counters[0].BytesSent)
		m.NetworkRecvBytes = int64(counters[0].BytesRecv)
	}

	return m, nil
}

// Processes reads every process in the tree. Processes that vanish or deny
// access are skipped. If the tree cannot be walked only the current process
// is read.
func (h *HostProbe) Processes(ctx context.Context) ([]ProcessSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	root, err := h.handle(ctx, h.self)
	if err != nil {
		return nil, fmt.Errorf("failed to open current process: %w", err)
	}

	tree, err := h.descendants(ctx, root)
	if err != nil {
		tree = []*process.Process{root}
	}

	seen := make(map[int32]bool, len(tree))
	snapshots := make([]ProcessSnapshot, 0, len(tree))
	for _, p := range tree {
		seen[p.Pid] = true
		snap, err := readProcess(ctx, p)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snap)
	}

	for pid := range h.handles {
		if !seen[pid] {
			delete(h.handles, pid)
		}
	}

	return snapshots, nil
}

// descendants returns root followed by every process below it
func (h *HostProbe) descendants(ctx context.Context, root *process.Process) ([]*process.Process, error) {
	out := []*process.Process{root}
	for i := 0; i < len(out); i++ {
		children, err := h.children(ctx, out[i])
		if err != nil {
			if errors.Is(err, process.ErrorNoChildren) {
				continue
			}
			// a child that exited mid-walk is not a tree failure
			if i > 0 {
				continue
			}
			return nil, err
		}
		for _, c := range children {
			p, err := h.handle(ctx, c.Pid)
			if err != nil {
				continue
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func (h *HostProbe) handle(ctx context.Context, pid int32) (*process.Process, error) {
	if p, ok := h.handles[pid]; ok {
		return p, nil
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}
	h.handles[pid] = p
	return p, nil
}

func readProcess(ctx context.Context, p *process.Process) (ProcessSnapshot, error) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return ProcessSnapshot{}, err
	}
	memInfo, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessSnapshot{}, err
	}
	cpuPercent, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		return ProcessSnapshot{}, err
	}

	snap := ProcessSnapshot{
		PID:        p.Pid,
		Name:       name,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / bytesPerMB,
		Timestamp:  time.Now(),
	}

	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		snap.Threads = threads
	}
	// io counters need extra privileges on some platforms
	if io, err := p.IOCountersWithContext(ctx); err == nil && io != nil {
		snap.ReadBytes = int64(io.ReadBytes)
		snap.WriteBytes = int64(io.WriteBytes)
		snap.IOCount = int64(io.ReadCount + io.WriteCount)
	}

	return snap, nil
}
