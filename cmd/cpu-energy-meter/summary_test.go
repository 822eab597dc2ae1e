package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

func plainColors(t *testing.T) {
	t.Helper()
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })
}

func TestPrintSummary(t *testing.T) {
	plainColors(t)

	var buf bytes.Buffer
	r := &Runner{Stdout: &buf, Stderr: &buf}
	tally := Tally{Sweeps: 2, Sampled: 4, Offline: 1, BindFailures: 1}
	samples := []Sample{
		{CPU: 0, Busy: 10 * time.Millisecond, Total: 100 * time.Millisecond},
		{CPU: 0, Busy: 30 * time.Millisecond, Total: 100 * time.Millisecond},
		{CPU: 2, Busy: 0, Total: 0},
	}

	r.printSummary(tally, samples, 2*time.Second)
	out := buf.String()

	for _, want := range []string{
		"Sweep summary",
		"Sweeps: 2",
		"Elapsed: 2s",
		"Cores sampled: 4",
		"Cores offline: 1",
		"Bind failures: 1",
		"UTIL",
		"20.0%",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary missing %q:\n%s", want, out)
		}
	}

	// cpu 2 was only seen once, so it has no utilization window yet.
	if !strings.Contains(out, "-") {
		t.Errorf("Summary should mark the single-observation core:\n%s", out)
	}
	if strings.Index(out, "20.0%") > strings.Index(out, "-\n") {
		t.Errorf("Core rows out of order:\n%s", out)
	}
}

func TestPrintSummaryHidesCleanCounters(t *testing.T) {
	plainColors(t)

	var buf bytes.Buffer
	r := &Runner{Stdout: &buf, Stderr: &buf}
	r.printSummary(Tally{Sweeps: 1, Sampled: 1}, nil, time.Second)
	out := buf.String()

	if strings.Contains(out, "offline") || strings.Contains(out, "failures") {
		t.Errorf("Summary shows zero counters:\n%s", out)
	}
	if strings.Contains(out, "UTIL") {
		t.Errorf("Summary shows a core table without samples:\n%s", out)
	}
}
