//go:build linux

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/viniciusvgp/cpu-energy-meter/affinity"
)

func runMeter(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	r := &Runner{Stdout: &outBuf, Stderr: &errBuf}
	fullArgs := append([]string{"cpu-energy-meter"}, args...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	err = r.Command().Run(ctx, fullArgs)
	return outBuf.String(), errBuf.String(), err
}

func emptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meter.conf")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("Writing config: %v", err)
	}
	return path
}

func TestMeterHelp(t *testing.T) {
	stdout, stderr, err := runMeter(t, "--help")
	if err != nil {
		t.Fatalf("--help failed: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{"cpu-energy-meter", "--target-user", "--metrics-out", "--sweeps", "--cpus"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Help output missing %q:\n%s", want, stdout)
		}
	}
}

func TestMeterVersion(t *testing.T) {
	stdout, stderr, err := runMeter(t, "--version")
	if err != nil {
		t.Fatalf("--version failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, version) {
		t.Errorf("Version output = %q, want it to mention %q", stdout, version)
	}
}

func TestMeterRun(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("Test requires non-root privileges; a root run refuses the identity change after the capability drop")
	}
	plainColors(t)

	mask, err := affinity.Current()
	if err != nil {
		t.Fatalf("Reading affinity: %v", err)
	}
	cpus := affinity.CPUs(mask)
	if len(cpus) == 0 {
		t.Fatal("No schedulable cpus")
	}

	dir := t.TempDir()
	logPath := filepath.Join(dir, "meter.log")
	confPath := filepath.Join(dir, "meter.conf")
	metricsPath := filepath.Join(dir, "metrics.prom")
	if err := os.WriteFile(confPath, []byte("LOG = "+logPath+"\n"), 0o644); err != nil {
		t.Fatalf("Writing config: %v", err)
	}

	stdout, stderr, err := runMeter(t,
		"--config", confPath,
		"--debug",
		"--sweeps", "2",
		"--interval", "10ms",
		"--cpus", strconv.Itoa(cpus[0]),
		"--metrics-out", metricsPath,
	)
	if err != nil {
		t.Fatalf("Run failed: %v\nstderr: %s", err, stderr)
	}

	for _, want := range []string{"Sweep summary", "Sweeps: 2", "UTIL"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("Output missing %q:\n%s", want, stdout)
		}
	}

	metrics, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("Reading metrics: %v", err)
	}
	for _, want := range []string{"cpu_energy_meter_sweeps_total 2", "process_effective_uid"} {
		if !strings.Contains(string(metrics), want) {
			t.Errorf("Metrics missing %q:\n%s", want, metrics)
		}
	}

	logged, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Reading log: %v", err)
	}
	if !strings.Contains(string(logged), "Sweep") {
		t.Errorf("Log has no sweep records:\n%s", logged)
	}
}

func TestMeterRejectsBadCPUList(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("Test requires non-root privileges; a root run refuses the identity change after the capability drop")
	}

	_, _, err := runMeter(t, "--config", emptyConfig(t), "--sweeps", "1", "--cpus", "bogus")
	if err == nil || !strings.Contains(err.Error(), "invalid cpu") {
		t.Fatalf("Run with a bad cpu list returned %v, want an invalid cpu error", err)
	}
}

func TestMeterRejectsNonPositiveInterval(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("Test requires non-root privileges; a root run refuses the identity change after the capability drop")
	}

	_, _, err := runMeter(t, "--config", emptyConfig(t), "--sweeps", "1", "--interval", "0s")
	if err == nil || !strings.Contains(err.Error(), "interval must be positive") {
		t.Fatalf("Run with a zero interval returned %v, want an interval error", err)
	}
}
