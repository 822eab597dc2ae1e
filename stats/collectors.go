package stats

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ProcessCollector collects metrics about the current process
type ProcessCollector struct {
	startTime time.Time
}

// NewProcessCollector creates a new process metrics collector
func NewProcessCollector() *ProcessCollector {
	return &ProcessCollector{
		startTime: time.Now(),
	}
}

// Collect gathers process-level metrics
func (c *ProcessCollector) Collect(_ context.Context) ([]Metric, error) {
	metrics := make([]Metric, 0)
	now := time.Now()

	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return nil, fmt.Errorf("failed to get resource usage: %w", err)
	}

	// Get memory stats
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	metrics = append(metrics, Metric{
		Name:      "process_resident_memory_bytes",
		Type:      MetricTypeGauge,
		Value:     float64(ru.Maxrss) * 1024, // Maxrss is in KB on Linux
		Timestamp: now,
		Help:      "Process peak resident memory in bytes",
	})

	metrics = append(metrics, Metric{
		Name:      "process_heap_bytes",
		Type:      MetricTypeGauge,
		Value:     float64(m.HeapAlloc),
		Timestamp: now,
		Help:      "Process heap size in bytes",
	})

	metrics = append(metrics, Metric{
		Name:      "process_goroutines",
		Type:      MetricTypeGauge,
		Value:     float64(runtime.NumGoroutine()),
		Timestamp: now,
		Help:      "Number of goroutines",
	})

	metrics = append(metrics, Metric{
		Name:      "process_cpu_seconds_total",
		Type:      MetricTypeCounter,
		Value:     timevalSeconds(ru.Utime) + timevalSeconds(ru.Stime),
		Timestamp: now,
		Help:      "Total user and system CPU time spent in seconds",
	})

	metrics = append(metrics, Metric{
		Name:      "process_start_time_seconds",
		Type:      MetricTypeGauge,
		Value:     float64(c.startTime.UnixMilli()) / 1000,
		Timestamp: now,
		Help:      "Start time of the process since unix epoch in seconds",
	})

	// The meter sheds its privileges before sampling; these report the
	// identity it ended up with.
	metrics = append(metrics, Metric{
		Name:      "process_effective_uid",
		Type:      MetricTypeGauge,
		Value:     float64(unix.Geteuid()),
		Timestamp: now,
		Help:      "Effective user id of the process",
	})

	metrics = append(metrics, Metric{
		Name:      "process_effective_gid",
		Type:      MetricTypeGauge,
		Value:     float64(unix.Getegid()),
		Timestamp: now,
		Help:      "Effective group id of the process",
	})

	return metrics, nil
}

func timevalSeconds(tv unix.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}

// USER_HZ is 100 on every Linux architecture Go supports.
const userHZ = 100

// cpuModes are the /proc/stat per-cpu columns, in file order.
var cpuModes = []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq", "steal"}

// CPUTimeCollector collects per-core CPU time from /proc/stat
type CPUTimeCollector struct {
	procStatPath string
}

// NewCPUTimeCollector creates a new per-core CPU time collector
func NewCPUTimeCollector() *CPUTimeCollector {
	return &CPUTimeCollector{
		procStatPath: "/proc/stat",
	}
}

// Collect gathers per-core CPU time metrics
func (c *CPUTimeCollector) Collect(_ context.Context) ([]Metric, error) {
	f, err := os.Open(c.procStatPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.procStatPath, err)
	}
	defer f.Close()

	metrics := make([]Metric, 0)
	now := time.Now()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		// Per-core lines are "cpuN ..."; skip the aggregate "cpu" line
		cpu, ok := strings.CutPrefix(fields[0], "cpu")
		if !ok || cpu == "" {
			continue
		}

		for i, mode := range cpuModes {
			if i+1 >= len(fields) {
				break
			}
			jiffies, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s line for cpu %s: %w", c.procStatPath, cpu, err)
			}
			metrics = append(metrics, Metric{
				Name:      "cpu_energy_meter_cpu_seconds_total",
				Type:      MetricTypeCounter,
				Value:     float64(jiffies) / userHZ,
				Labels:    map[string]string{"cpu": cpu, "mode": mode},
				Timestamp: now,
				Help:      "Per-core CPU time by mode in seconds",
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.procStatPath, err)
	}

	return metrics, nil
}

// SweepCollector exposes counters the sampling loop feeds as it walks
// the target cores. All methods are safe for concurrent use.
type SweepCollector struct {
	sweeps        atomic.Int64
	coresSampled  atomic.Int64
	coresOffline  atomic.Int64
	bindFailures  atomic.Int64
	lastSweepUsec atomic.Int64
}

// NewSweepCollector creates a new sweep counter collector
func NewSweepCollector() *SweepCollector {
	return &SweepCollector{}
}

// RecordSweep records one completed sweep and its duration
func (c *SweepCollector) RecordSweep(elapsed time.Duration) {
	c.sweeps.Add(1)
	c.lastSweepUsec.Store(elapsed.Microseconds())
}

// RecordCoreSampled records one successfully sampled core
func (c *SweepCollector) RecordCoreSampled() {
	c.coresSampled.Add(1)
}

// RecordCoreOffline records one core skipped because it was offline
func (c *SweepCollector) RecordCoreOffline() {
	c.coresOffline.Add(1)
}

// RecordBindFailure records one failed affinity bind
func (c *SweepCollector) RecordBindFailure() {
	c.bindFailures.Add(1)
}

// Collect reports the sweep counters
func (c *SweepCollector) Collect(_ context.Context) ([]Metric, error) {
	now := time.Now()
	return []Metric{
		{
			Name:      "cpu_energy_meter_sweeps_total",
			Type:      MetricTypeCounter,
			Value:     float64(c.sweeps.Load()),
			Timestamp: now,
			Help:      "Completed sampling sweeps",
		},
		{
			Name:      "cpu_energy_meter_cores_sampled_total",
			Type:      MetricTypeCounter,
			Value:     float64(c.coresSampled.Load()),
			Timestamp: now,
			Help:      "Cores sampled across all sweeps",
		},
		{
			Name:      "cpu_energy_meter_cores_offline_total",
			Type:      MetricTypeCounter,
			Value:     float64(c.coresOffline.Load()),
			Timestamp: now,
			Help:      "Cores skipped because they were offline",
		},
		{
			Name:      "cpu_energy_meter_bind_failures_total",
			Type:      MetricTypeCounter,
			Value:     float64(c.bindFailures.Load()),
			Timestamp: now,
			Help:      "CPU affinity bind failures",
		},
		{
			Name:      "cpu_energy_meter_last_sweep_duration_seconds",
			Type:      MetricTypeGauge,
			Value:     float64(c.lastSweepUsec.Load()) / 1e6,
			Timestamp: now,
			Help:      "Duration of the most recent sweep",
		},
	}, nil
}
