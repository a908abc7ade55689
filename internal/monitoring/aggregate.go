package monitoring

import (
	"github.com/wgong/flowx/internal/task"
)

// usage is the resource summary of a snapshot history
type usage struct {
	avgCPU       float64
	avgMemoryMB  float64
	peakMemoryMB float64

	diskRead  int64
	diskWrite int64
	netSent   int64
	netRecv   int64
}

// summarize folds a history into averages, peaks and counter deltas.
// Deltas are last minus first and stay zero with fewer than two snapshots.
func summarize(snaps []MetricsSnapshot) usage {
	var u usage
	if len(snaps) == 0 {
		return u
	}

	var cpuTotal, memTotal float64
	for _, s := range snaps {
		cpu := s.ProcessCPU()
		memMB := s.ProcessMemoryMB()
		cpuTotal += cpu
		memTotal += memMB
		if memMB > u.peakMemoryMB {
			u.peakMemoryMB = memMB
		}
	}
	n := float64(len(snaps))
	u.avgCPU = cpuTotal / n
	u.avgMemoryMB = memTotal / n

	if len(snaps) >= 2 {
		first, last := snaps[0].System, snaps[len(snaps)-1].System
		u.diskRead = last.DiskReadBytes - first.DiskReadBytes
		u.diskWrite = last.DiskWriteBytes - first.DiskWriteBytes
		u.netSent = last.NetworkSentBytes - first.NetworkSentBytes
		u.netRecv = last.NetworkRecvBytes - first.NetworkRecvBytes
	}
	return u
}

func (u usage) resourceUsage() task.ResourceUsage {
	return task.ResourceUsage{
		CPUPercent:        u.avgCPU,
		MemoryMB:          u.avgMemoryMB,
		PeakMemoryMB:      u.peakMemoryMB,
		AverageCPUPercent: u.avgCPU,
		NetworkBytesSent:  u.netSent,
		NetworkBytesRecv:  u.netRecv,
		DiskBytesRead:     u.diskRead,
		DiskBytesWrite:    u.diskWrite,
	}
}

// PeakMemoryMB returns the largest summed process memory across snaps
func PeakMemoryMB(snaps []MetricsSnapshot) float64 {
	return summarize(snaps).peakMemoryMB
}
