package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const statBefore = `cpu  100 0 50 1000 20 0 5 0 0 0
cpu0 60 0 30 500 10 0 3 0 0 0
cpu1 40 0 20 500 10 0 2 0 0 0
intr 12345
ctxt 67890
`

const statAfter = `cpu  120 0 70 1100 22 0 5 0 0 0
cpu0 80 0 40 600 12 0 3 0 0 0
cpu1 40 0 30 500 10 0 2 0 0 0
intr 23456
ctxt 78901
`

const statLater = `cpu  120 0 70 1110 22 0 5 0 0 0
cpu0 80 0 40 600 12 0 3 0 0 0
cpu1 40 0 30 510 10 0 2 0 0 0
intr 34567
ctxt 89012
`

func writeStat(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Writing stat file: %v", err)
	}
}

func TestCPUTimeSamplerDelta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	s := &cpuTimeSampler{procStatPath: path, prev: map[int]cpuTicks{}}

	writeStat(t, path, statBefore)
	sample, err := s.Sample(context.Background(), 0)
	if err != nil {
		t.Fatalf("First sample failed: %v", err)
	}
	if sample.CPU != 0 || sample.Busy != 0 || sample.Total != 0 {
		t.Errorf("First sample = %+v, want zero durations for cpu 0", sample)
	}

	// cpu0 gained 20 user and 10 system ticks plus 100 idle and 2 iowait:
	// busy moves by 30 ticks and total by 132.
	writeStat(t, path, statAfter)
	sample, err = s.Sample(context.Background(), 0)
	if err != nil {
		t.Fatalf("Second sample failed: %v", err)
	}
	if want := 300 * time.Millisecond; sample.Busy != want {
		t.Errorf("Busy = %v, want %v", sample.Busy, want)
	}
	if want := 1320 * time.Millisecond; sample.Total != want {
		t.Errorf("Total = %v, want %v", sample.Total, want)
	}
}

func TestCPUTimeSamplerTracksCoresIndependently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	s := &cpuTimeSampler{procStatPath: path, prev: map[int]cpuTicks{}}

	writeStat(t, path, statBefore)
	if _, err := s.Sample(context.Background(), 0); err != nil {
		t.Fatalf("Priming cpu 0 failed: %v", err)
	}

	// cpu1 has not been observed yet, so its first reading is still zero
	// even though cpu0 already has a baseline.
	writeStat(t, path, statAfter)
	sample, err := s.Sample(context.Background(), 1)
	if err != nil {
		t.Fatalf("Sampling cpu 1 failed: %v", err)
	}
	if sample.Busy != 0 || sample.Total != 0 {
		t.Errorf("First cpu1 sample = %+v, want zero durations", sample)
	}

	// Ten more idle ticks on cpu1: total time advances, busy does not.
	writeStat(t, path, statLater)
	sample, err = s.Sample(context.Background(), 1)
	if err != nil {
		t.Fatalf("Resampling cpu 1 failed: %v", err)
	}
	if sample.Busy != 0 || sample.Total != 100*time.Millisecond {
		t.Errorf("Second cpu1 sample = %+v, want 10 idle ticks of total time", sample)
	}
}

func TestCPUTimeSamplerUnknownCPU(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	writeStat(t, path, statBefore)

	s := &cpuTimeSampler{procStatPath: path, prev: map[int]cpuTicks{}}
	_, err := s.Sample(context.Background(), 7)
	if err == nil {
		t.Fatal("Sampling an absent cpu should fail")
	}
	if !strings.Contains(err.Error(), "no cpu 7") {
		t.Errorf("Error = %q, want mention of the missing cpu", err)
	}
}

func TestCPUTimeSamplerMissingFile(t *testing.T) {
	s := &cpuTimeSampler{
		procStatPath: filepath.Join(t.TempDir(), "does-not-exist"),
		prev:         map[int]cpuTicks{},
	}
	if _, err := s.Sample(context.Background(), 0); err == nil {
		t.Fatal("Sampling without a stat file should fail")
	}
}
