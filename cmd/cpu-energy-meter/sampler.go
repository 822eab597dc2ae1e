package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sample is the result of one measurement slot on one core.
type Sample struct {
	CPU int
	// Busy is the non-idle cpu time the core accumulated since the
	// sampler's previous observation of it. Zero on the first sweep.
	Busy time.Duration
	// Total is the cpu time across all modes over the same window.
	Total time.Duration
}

// sampler runs one measurement slot. The sweep calls it while the
// process is bound to the target core, so implementations that read
// per-core hardware state see the core they report on. Implementations
// report the change since their previous call for the same core.
type sampler interface {
	Sample(ctx context.Context, cpu int) (Sample, error)
}

// USER_HZ is 100 on every Linux architecture Go supports.
const userHZ = 100

type cpuTicks struct {
	busy, total uint64
}

// cpuTimeSampler measures per-core cpu time from /proc/stat. It is the
// built-in occupant of the measurement slot; energy counters would
// plug in through the same interface.
type cpuTimeSampler struct {
	procStatPath string
	prev         map[int]cpuTicks
}

func newCPUTimeSampler() *cpuTimeSampler {
	return &cpuTimeSampler{
		procStatPath: "/proc/stat",
		prev:         make(map[int]cpuTicks),
	}
}

func (s *cpuTimeSampler) Sample(_ context.Context, cpu int) (Sample, error) {
	ticks, err := s.read(cpu)
	if err != nil {
		return Sample{}, err
	}

	prev, seen := s.prev[cpu]
	s.prev[cpu] = ticks

	sample := Sample{CPU: cpu}
	if seen {
		sample.Busy = ticksToDuration(ticks.busy - prev.busy)
		sample.Total = ticksToDuration(ticks.total - prev.total)
	}
	return sample, nil
}

// read returns the accumulated cpu time of one core. The jiffies
// fields are, in order: user nice system idle iowait irq softirq
// steal; idle and iowait count as not busy.
func (s *cpuTimeSampler) read(cpu int) (cpuTicks, error) {
	f, err := os.Open(s.procStatPath)
	if err != nil {
		return cpuTicks{}, fmt.Errorf("opening %s: %w", s.procStatPath, err)
	}
	defer f.Close()

	want := "cpu" + strconv.Itoa(cpu)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 9 || fields[0] != want {
			continue
		}

		var ticks cpuTicks
		for i, field := range fields[1:9] {
			value, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return cpuTicks{}, fmt.Errorf("parsing %s field %q: %w", want, field, err)
			}
			ticks.total += value
			// idle and iowait are fields 4 and 5.
			if i != 3 && i != 4 {
				ticks.busy += value
			}
		}
		return ticks, nil
	}
	if err := scanner.Err(); err != nil {
		return cpuTicks{}, fmt.Errorf("reading %s: %w", s.procStatPath, err)
	}
	return cpuTicks{}, fmt.Errorf("no cpu %d in %s", cpu, s.procStatPath)
}

func ticksToDuration(ticks uint64) time.Duration {
	return time.Duration(ticks) * (time.Second / userHZ)
}
