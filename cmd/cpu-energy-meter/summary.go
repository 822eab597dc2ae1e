package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/samber/lo"
)

// printSummary writes the run counters and the per-core results
// aggregated over all sweeps.
func (r *Runner) printSummary(tally Tally, samples []Sample, elapsed time.Duration) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	_, _ = fmt.Fprintf(r.Stdout, "%s\n", green("Sweep summary"))
	_, _ = fmt.Fprintf(r.Stdout, "%s %d\n", cyan("Sweeps:"), tally.Sweeps)
	_, _ = fmt.Fprintf(r.Stdout, "%s %v\n", cyan("Elapsed:"), elapsed.Round(time.Millisecond))
	_, _ = fmt.Fprintf(r.Stdout, "%s %d\n", cyan("Cores sampled:"), tally.Sampled)
	if tally.Offline > 0 {
		_, _ = fmt.Fprintf(r.Stdout, "%s %d\n", yellow("Cores offline:"), tally.Offline)
	}
	if tally.BindFailures > 0 {
		_, _ = fmt.Fprintf(r.Stdout, "%s %d\n", yellow("Bind failures:"), tally.BindFailures)
	}

	byCPU := lo.GroupBy(samples, func(s Sample) int { return s.CPU })
	cpus := lo.Keys(byCPU)
	slices.Sort(cpus)
	if len(cpus) == 0 {
		return
	}

	_, _ = fmt.Fprintln(r.Stdout)
	_, _ = fmt.Fprintf(r.Stdout, "%-6s %12s %8s\n", "CPU", "BUSY", "UTIL")
	for _, cpu := range cpus {
		group := byCPU[cpu]
		busy := lo.SumBy(group, func(s Sample) time.Duration { return s.Busy })
		total := lo.SumBy(group, func(s Sample) time.Duration { return s.Total })

		// Utilization needs at least two observations of the core;
		// a single sweep has no window to report on.
		util := "-"
		if total > 0 {
			util = fmt.Sprintf("%.1f%%", 100*float64(busy)/float64(total))
		}
		_, _ = fmt.Fprintf(r.Stdout, "%-6d %12v %8s\n", cpu, busy.Round(time.Millisecond), util)
	}
}
