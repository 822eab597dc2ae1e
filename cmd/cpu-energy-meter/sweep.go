package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/viniciusvgp/cpu-energy-meter/affinity"
	"github.com/viniciusvgp/cpu-energy-meter/logging"
	"github.com/viniciusvgp/cpu-energy-meter/stats"
)

// binder is the affinity surface the sweep needs. *affinity.Controller
// satisfies it.
type binder interface {
	Current() (affinity.Mask, error)
	Bind(cpu int, prev *affinity.Mask) error
	BindMask(next affinity.Mask, prev *affinity.Mask) error
	IsOffline(cpu int) (bool, error)
}

// Tally counts what happened during a run.
type Tally struct {
	Sweeps       int
	Sampled      int
	Offline      int
	BindFailures int
}

// Sweeper visits the target cores once per sweep: it skips offline
// cores, binds to each remaining core, runs the measurement slot, and
// restores the affinity that was in effect before the bind.
type Sweeper struct {
	bind     binder
	sampler  sampler
	log      *logging.Logger
	counters *stats.SweepCollector
	interval time.Duration
	cpus     []int

	tally   Tally
	samples []Sample
}

func NewSweeper(bind binder, sampler sampler, log *logging.Logger, counters *stats.SweepCollector, interval time.Duration, cpus []int) *Sweeper {
	return &Sweeper{
		bind:     bind,
		sampler:  sampler,
		log:      log,
		counters: counters,
		interval: interval,
		cpus:     cpus,
	}
}

// Tally returns the run counters accumulated so far.
func (s *Sweeper) Tally() Tally {
	return s.tally
}

// Samples returns the collected measurement slot results.
func (s *Sweeper) Samples() []Sample {
	return s.samples
}

// Run performs sweeps paced at the configured interval until ctx is
// canceled; a positive sweeps bounds the count. Affinity is a property
// of the OS thread, so the goroutine is locked to its thread for the
// duration.
func (s *Sweeper) Run(ctx context.Context, sweeps int) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	limiter := rate.NewLimiter(rate.Every(s.interval), 1)
	for n := 0; sweeps <= 0 || n < sweeps; n++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.sweepOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sweeper) sweepOnce(ctx context.Context) error {
	start := time.Now()
	for _, cpu := range s.cpus {
		if err := ctx.Err(); err != nil {
			return err
		}

		offline, err := s.bind.IsOffline(cpu)
		if err != nil {
			s.log.Warnf(logging.DestinationSampler, "Skipping CPU %d: %v", cpu, err)
			continue
		}
		if offline {
			s.tally.Offline++
			s.counters.RecordCoreOffline()
			continue
		}

		s.sampleCore(ctx, cpu)
	}

	elapsed := time.Since(start)
	s.tally.Sweeps++
	s.counters.RecordSweep(elapsed)
	s.log.Debugf(logging.DestinationSampler, "Sweep %d finished (elapsed=%v)", s.tally.Sweeps, elapsed)
	return nil
}

// sampleCore binds to cpu, runs the measurement slot, and restores the
// previous affinity. Failures are the recoverable tier: they are
// counted and the sweep moves on to the next core.
func (s *Sweeper) sampleCore(ctx context.Context, cpu int) {
	var prev affinity.Mask
	if err := s.bind.Bind(cpu, &prev); err != nil {
		s.tally.BindFailures++
		s.counters.RecordBindFailure()
		return
	}
	// The controller logs restore failures; the saved mask is the
	// best state this thread can return to either way.
	defer s.bind.BindMask(prev, nil)

	s.log.Debugf(logging.DestinationAffinity, "Bound to CPU %d (was %s)", cpu, affinity.FormatMask(prev))

	sample, err := s.sampler.Sample(ctx, cpu)
	if err != nil {
		s.log.Warnf(logging.DestinationSampler, "Failed to sample CPU %d: %v", cpu, err)
		return
	}

	s.tally.Sampled++
	s.counters.RecordCoreSampled()
	s.samples = append(s.samples, sample)
}

// Kernel cpu sets address 1024 cpus.
const maxCPU = 1023

// parseCPUList parses a cpu list such as "0,2-4,8" into a sorted,
// deduplicated slice of cpu indexes.
func parseCPUList(list string) ([]int, error) {
	var cpus []int
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		first, last, isRange := strings.Cut(field, "-")
		start, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil || start < 0 || start > maxCPU {
			return nil, fmt.Errorf("invalid cpu %q in list", field)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(strings.TrimSpace(last))
			if err != nil || end < start || end > maxCPU {
				return nil, fmt.Errorf("invalid cpu range %q in list", field)
			}
		}
		for cpu := start; cpu <= end; cpu++ {
			cpus = append(cpus, cpu)
		}
	}
	if len(cpus) == 0 {
		return nil, errors.New("empty cpu list")
	}
	slices.Sort(cpus)
	return slices.Compact(cpus), nil
}

// planCPUs resolves the cores a run will sweep: the parsed list when
// one was given, otherwise every cpu the process is currently allowed
// to run on.
func planCPUs(bind binder, list string) ([]int, error) {
	if list != "" {
		return parseCPUList(list)
	}

	mask, err := bind.Current()
	if err != nil {
		return nil, fmt.Errorf("discovering schedulable cpus: %w", err)
	}
	cpus := affinity.CPUs(mask)
	if len(cpus) == 0 {
		return nil, errors.New("no schedulable cpus")
	}
	return cpus, nil
}
