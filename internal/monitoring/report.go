package monitoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// maxSeriesPoints is the target length of the down-sampled time series
const maxSeriesPoints = 100

// Report is the detailed view of one sampling session
type Report struct {
	CollectionInfo CollectionInfo            `json:"collection_info"`
	Summary        ReportSummary             `json:"summary"`
	Processes      map[string]ProcessSummary `json:"processes"`
	TimeSeries     TimeSeries                `json:"time_series"`
}

// CollectionInfo describes the session itself
type CollectionInfo struct {
	StartTime        *time.Time `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	Duration         float64    `json:"duration"`
	SamplingInterval float64    `json:"sampling_interval"`
	SamplesCount     int        `json:"samples_count"`
}

// ReportSummary holds host-wide aggregates in percent and MB
type ReportSummary struct {
	ExecutionTime      float64 `json:"execution_time"`
	AverageCPUPercent  float64 `json:"average_cpu_percent"`
	PeakCPUPercent     float64 `json:"peak_cpu_percent"`
	AverageMemoryMB    float64 `json:"average_memory_mb"`
	PeakMemoryMB       float64 `json:"peak_memory_mb"`
	TotalDiskReadMB    float64 `json:"total_disk_read_mb"`
	TotalDiskWriteMB   float64 `json:"total_disk_write_mb"`
	TotalNetworkSentMB float64 `json:"total_network_sent_mb"`
	TotalNetworkRecvMB float64 `json:"total_network_recv_mb"`
}

// ProcessSummary aggregates every reading of processes sharing a name
type ProcessSummary struct {
	AverageCPUPercent float64 `json:"average_cpu_percent"`
	PeakMemoryMB      float64 `json:"peak_memory_mb"`
}

// TimeSeries holds parallel down-sampled series
type TimeSeries struct {
	Timestamps     []string  `json:"timestamps"`
	SystemCPU      []float64 `json:"system_cpu"`
	SystemMemoryMB []float64 `json:"system_memory_mb"`
	ProcessesCount []int     `json:"processes_count"`
}

// Report builds the session report from the current history
func (s *Sampler) Report() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := CollectionInfo{
		Duration:         s.elapsedLocked().Seconds(),
		SamplingInterval: s.interval.Seconds(),
		SamplesCount:     len(s.snapshots),
	}
	if !s.startTime.IsZero() {
		start := s.startTime
		info.StartTime = &start
	}
	if !s.endTime.IsZero() {
		end := s.endTime
		info.EndTime = &end
	}

	return Report{
		CollectionInfo: info,
		Summary:        buildSummary(s.snapshots, info.Duration),
		Processes:      buildProcessSummaries(s.snapshots),
		TimeSeries:     buildTimeSeries(s.snapshots),
	}
}

// SaveReport writes the session report to path as indented JSON
func (s *Sampler) SaveReport(path string) error {
	data, err := json.MarshalIndent(s.Report(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func buildSummary(snaps []MetricsSnapshot, elapsed float64) ReportSummary {
	sum := ReportSummary{ExecutionTime: elapsed}
	if len(snaps) == 0 {
		return sum
	}

	var cpuTotal, memTotal float64
	for _, s := range snaps {
		cpuTotal += s.System.CPUPercent
		memTotal += s.System.MemoryUsedMB
		if s.System.CPUPercent > sum.PeakCPUPercent {
			sum.PeakCPUPercent = s.System.CPUPercent
		}
		if s.System.MemoryUsedMB > sum.PeakMemoryMB {
			sum.PeakMemoryMB = s.System.MemoryUsedMB
		}
	}
	n := float64(len(snaps))
	sum.AverageCPUPercent = cpuTotal / n
	sum.AverageMemoryMB = memTotal / n

	u := summarize(snaps)
	sum.TotalDiskReadMB = toMB(u.diskRead)
	sum.TotalDiskWriteMB = toMB(u.diskWrite)
	sum.TotalNetworkSentMB = toMB(u.netSent)
	sum.TotalNetworkRecvMB = toMB(u.netRecv)
	return sum
}

func buildProcessSummaries(snaps []MetricsSnapshot) map[string]ProcessSummary {
	type acc struct {
		cpu   float64
		count int
		peak  float64
	}

	byName := make(map[string]*acc)
	for _, s := range snaps {
		for _, p := range s.Processes {
			a, ok := byName[p.Name]
			if !ok {
				a = &acc{}
				byName[p.Name] = a
			}
			a.cpu += p.CPUPercent
			a.count++
			if p.MemoryMB > a.peak {
				a.peak = p.MemoryMB
			}
		}
	}

	out := make(map[string]ProcessSummary, len(byName))
	for name, a := range byName {
		out[name] = ProcessSummary{
			AverageCPUPercent: a.cpu / float64(a.count),
			PeakMemoryMB:      a.peak,
		}
	}
	return out
}

// buildTimeSeries takes every n-th snapshot, with n rounded up so the
// series never exceeds maxSeriesPoints
func buildTimeSeries(snaps []MetricsSnapshot) TimeSeries {
	stride := 1
	if len(snaps) > maxSeriesPoints {
		stride = (len(snaps) + maxSeriesPoints - 1) / maxSeriesPoints
	}

	ts := TimeSeries{
		Timestamps:     []string{},
		SystemCPU:      []float64{},
		SystemMemoryMB: []float64{},
		ProcessesCount: []int{},
	}
	for i := 0; i < len(snaps); i += stride {
		s := snaps[i]
		ts.Timestamps = append(ts.Timestamps, s.Timestamp.Format(time.RFC3339Nano))
		ts.SystemCPU = append(ts.SystemCPU, s.System.CPUPercent)
		ts.SystemMemoryMB = append(ts.SystemMemoryMB, s.System.MemoryUsedMB)
		ts.ProcessesCount = append(ts.ProcessesCount, len(s.Processes))
	}
	return ts
}
