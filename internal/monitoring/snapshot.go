package monitoring

import (
	"time"
)

const bytesPerMB = 1024 * 1024

// SystemMetrics is one host-wide reading. Disk and network figures are
// cumulative counters since boot.
type SystemMetrics struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryPercent     float64   `json:"memory_percent"`
	MemoryAvailableMB float64   `json:"memory_available_mb"`
	MemoryUsedMB      float64   `json:"memory_used_mb"`
	DiskReadBytes     int64     `json:"disk_read_bytes"`
	DiskWriteBytes    int64     `json:"disk_write_bytes"`
	NetworkSentBytes  int64     `json:"network_sent_bytes"`
	NetworkRecvBytes  int64     `json:"network_recv_bytes"`
}

// ProcessSnapshot is one reading of a single process
type ProcessSnapshot struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	Threads    int32     `json:"threads"`
	ReadBytes  int64     `json:"read_bytes"`
	WriteBytes int64     `json:"write_bytes"`
	IOCount    int64     `json:"io_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// MetricsSnapshot is everything captured in one sampler tick
type MetricsSnapshot struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	System     SystemMetrics     `json:"system"`
	Processes  []ProcessSnapshot `json:"processes"`
	IntervalMS float64           `json:"interval_ms"`
}

// ProcessCPU sums CPU percent across the snapshot's processes
func (s MetricsSnapshot) ProcessCPU() float64 {
	var total float64
	for _, p := range s.Processes {
		total += p.CPUPercent
	}
	return total
}

// ProcessMemoryMB sums resident memory across the snapshot's processes
func (s MetricsSnapshot) ProcessMemoryMB() float64 {
	var total float64
	for _, p := range s.Processes {
		total += p.MemoryMB
	}
	return total
}

func toMB(b int64) float64 {
	return float64(b) / bytesPerMB
}
