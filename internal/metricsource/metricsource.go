// Package metricsource samples host resource usage for the quota enforcer's
// monitor loop.
package metricsource

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// Sample is one point-in-time reading of host resource usage.
type Sample struct {
	CPUPercent   float64   `json:"cpuPercent"`
	MemoryUsedMB int64     `json:"memoryUsedMb"`
	DiskUsedMB   int64     `json:"diskUsedMb"`
	NetworkKBps  int64     `json:"networkKbps"`
	At           time.Time `json:"at"`
}

// Source produces usage samples.
type Source interface {
	Sample(ctx context.Context) (*Sample, error)
}

// HostSource samples the local host via gopsutil. Network throughput is
// derived from the delta between consecutive samples, so the first sample
// reports zero.
type HostSource struct {
	diskPath string

	lastBytes uint64
	lastAt    time.Time
}

var _ Source = (*HostSource)(nil)

// NewHostSource creates a host sampler. diskPath defaults to "/".
func NewHostSource(diskPath string) *HostSource {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSource{diskPath: diskPath}
}

// Sample reads CPU, memory, disk, and network usage from the host.
func (h *HostSource) Sample(ctx context.Context) (*Sample, error) {
	now := time.Now()

	cpuPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("sample cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample memory: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, h.diskPath)
	if err != nil {
		return nil, fmt.Errorf("sample disk: %w", err)
	}
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("sample network: %w", err)
	}

	s := &Sample{
		MemoryUsedMB: int64(vm.Used / (1 << 20)),
		DiskUsedMB:   int64(du.Used / (1 << 20)),
		At:           now,
	}
	if len(cpuPct) > 0 {
		s.CPUPercent = cpuPct[0]
	}
	if len(counters) > 0 {
		total := counters[0].BytesSent + counters[0].BytesRecv
		if !h.lastAt.IsZero() && total >= h.lastBytes {
			elapsed := now.Sub(h.lastAt).Seconds()
			if elapsed > 0 {
				s.NetworkKBps = int64(float64(total-h.lastBytes) / 1024 / elapsed)
			}
		}
		h.lastBytes = total
		h.lastAt = now
	}
	return s, nil
}

// StaticSource returns a fixed sample, for tests.
type StaticSource struct {
	S Sample
}

var _ Source = (*StaticSource)(nil)

// Sample returns the configured sample with At set to now.
func (s *StaticSource) Sample(ctx context.Context) (*Sample, error) {
	out := s.S
	out.At = time.Now()
	return &out, nil
}
