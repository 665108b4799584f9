package metrics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	targetRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "affinity",
			Subsystem: "target",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the launched process when the launch settled.",
		}, []string{"profile", "pid"},
	)
	targetThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "affinity",
			Subsystem: "target",
			Name:      "threads",
			Help:      "Thread count of the launched process when the launch settled.",
		}, []string{"profile", "pid"},
	)
)

// TargetSample is a snapshot of the launched process.
type TargetSample struct {
	PID        int32
	MemoryRSS  uint64
	NumThreads int32
}

// SampleTarget reads memory and thread count of pid.
func SampleTarget(ctx context.Context, pid int) (TargetSample, error) {
	if pid <= 0 {
		return TargetSample{}, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return TargetSample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return TargetSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	s := TargetSample{PID: int32(pid), MemoryRSS: mem.RSS}
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		s.NumThreads = n
	}
	return s, nil
}

func RecordTarget(profile string, s TargetSample) {
	if !regOK.Load() {
		return
	}
	pid := strconv.Itoa(int(s.PID))
	targetRSS.WithLabelValues(profile, pid).Set(float64(s.MemoryRSS))
	targetThreads.WithLabelValues(profile, pid).Set(float64(s.NumThreads))
}
