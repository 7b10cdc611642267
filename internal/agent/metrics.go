package agent

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// MetricsSampler samples the resource metrics reported with each heartbeat.
type MetricsSampler interface {
	// Sample returns the current resource snapshot. On failure the caller
	// degrades to zero-valued metrics rather than skipping the beat.
	Sample() (models.ResourceSnapshot, error)
}

// HostSampler samples host CPU and memory utilization from procfs.
// GPU metrics are reported as zero unless configured statically.
type HostSampler struct {
	// GPUVRAMTotalMB is the statically configured GPU memory, if any.
	GPUVRAMTotalMB int64
}

// Sample implements MetricsSampler.
func (s *HostSampler) Sample() (models.ResourceSnapshot, error) {
	snap := models.ResourceSnapshot{
		CPUPct:         cpuUtilizationPercent(),
		MemPct:         memoryUtilizationPercent(),
		GPUVRAMTotalMB: s.GPUVRAMTotalMB,
	}
	snap.GPUVRAMAvailableMB = s.GPUVRAMTotalMB
	return snap, nil
}

// cpuUtilizationPercent estimates CPU utilization from loadavg normalized
// by core count. Returns 0 when the information is unavailable.
func cpuUtilizationPercent() float64 {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	parts := strings.Fields(string(b))
	if len(parts) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}

	cpus := float64(runtime.NumCPU())
	if cpus <= 0 {
		cpus = 1
	}
	pct := (v / cpus) * 100.0
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// memoryUtilizationPercent reads host memory utilization from /proc/meminfo.
// Returns 0 when the information is unavailable.
func memoryUtilizationPercent() float64 {
	b, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}

	var totalKB, availKB float64
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if totalKB <= 0 {
		return 0
	}

	pct := (1 - availKB/totalKB) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// StaticSampler returns a fixed snapshot. Useful for tests and for agents
// whose capacity is declared rather than measured.
type StaticSampler struct {
	// Snapshot is the fixed snapshot to report.
	Snapshot models.ResourceSnapshot
}

// Sample implements MetricsSampler.
func (s *StaticSampler) Sample() (models.ResourceSnapshot, error) {
	return s.Snapshot, nil
}
