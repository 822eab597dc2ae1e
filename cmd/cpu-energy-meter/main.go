// cpu-energy-meter sweeps the machine's cores and runs a measurement
// slot on each one with the process privileges permanently dropped.
//
// The tool starts with whatever elevation its deployment gives it
// (setuid root or file capabilities), then sheds it before the first
// sweep: capabilities are cleared first, while the capability syscalls
// are still usable, and the identity drop follows. Only after both
// have completed does any measurement work begin.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/viniciusvgp/cpu-energy-meter/affinity"
	"github.com/viniciusvgp/cpu-energy-meter/config"
	"github.com/viniciusvgp/cpu-energy-meter/debug"
	"github.com/viniciusvgp/cpu-energy-meter/droppriv"
	"github.com/viniciusvgp/cpu-energy-meter/logging"
	"github.com/viniciusvgp/cpu-energy-meter/stats"
)

const (
	// toolName prefixes the tool-specific configuration keys
	// (CPU_ENERGY_METER_DEBUG, MAX_CPU_ENERGY_METER_LOG, ...).
	toolName = "CPU_ENERGY_METER"

	version = "0.1.0"
)

func main() {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := &Runner{Stdout: os.Stdout, Stderr: os.Stderr}
	if err := r.Command().Run(ctx, os.Args); err != nil {
		r.Fatal(err)
	}
}

// Runner executes the meter.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer

	log *logging.Logger
}

// Command returns the meter command.
func (r *Runner) Command() *cli.Command {
	return &cli.Command{
		Name:      "cpu-energy-meter",
		Usage:     "Sample per-core CPU activity with dropped privileges",
		Version:   version,
		Writer:    r.Stdout,
		ErrWriter: r.Stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging for every destination",
			},
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Value:   time.Second,
				Usage:   "Delay between sweeps",
			},
			&cli.IntFlag{
				Name:    "sweeps",
				Aliases: []string{"n"},
				Usage:   "Number of sweeps to run (0 = until interrupted)",
			},
			&cli.StringFlag{
				Name:    "cpus",
				Aliases: []string{"c"},
				Usage:   "CPUs to sweep, e.g. \"0,2-4\" (default: all schedulable)",
			},
			&cli.StringFlag{
				Name:    "target-user",
				Aliases: []string{"u"},
				Usage:   "Account to drop privileges to when started with a root identity",
			},
			&cli.StringFlag{
				Name:    "metrics-out",
				Aliases: []string{"m"},
				Usage:   "Write run metrics to this file in Prometheus textfile format",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file (default: search order)",
			},
		},
		Action: r.action,
	}
}

// Fatal is the single place the process exits on an error: the error
// is logged at error level and the exit status is non-zero, with a
// distinct status for unrecoverable privilege failures.
func (r *Runner) Fatal(err error) {
	if r.log != nil {
		r.log.Errorf(logging.DestinationGeneral, "%v", err)
	} else {
		_, _ = fmt.Fprintf(r.Stderr, "cpu-energy-meter: %v\n", err)
	}
	if droppriv.IsFatal(err) {
		os.Exit(3)
	}
	os.Exit(1)
}

// action runs the meter in its startup order: configuration, logging,
// debug flag, capability drop, privilege drop, then the sweep.
func (r *Runner) action(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	debugRequested := cmd.Bool("debug")
	if !debugRequested {
		if enabled, ok := cfg.GetBool("DEBUG"); ok && enabled {
			debugRequested = true
		}
	}
	if debugRequested {
		// An explicit per-destination setting from the file wins.
		if _, ok := cfg.Get(toolName + "_DEBUG"); !ok {
			cfg.Set(toolName+"_DEBUG", "general:debug sampler:debug affinity:debug security:debug metrics:debug")
		}
	}

	log, err := logging.FromConfigWithTool(toolName, cfg)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	r.log = log
	if cfg.Source != "" {
		log.Debugf(logging.DestinationGeneral, "Loaded configuration from %s", cfg.Source)
	}

	if debugRequested {
		debug.Enable()
	}

	dropConf, err := droppriv.FromConfig(cfg)
	if err != nil {
		return err
	}
	dropConf.Logger = log
	dropConf.Debug = debug.Process()
	if user := cmd.String("target-user"); user != "" {
		dropConf.TargetUser = user
		dropConf.TargetIDs = nil
	}
	manager, err := droppriv.NewManager(dropConf)
	if err != nil {
		return err
	}
	if err := manager.DropAll(ctx); err != nil {
		return err
	}

	return r.runSweep(ctx, cmd, cfg, log)
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if path := cmd.String("config"); path != "" {
		return config.NewFromFile(path)
	}
	return config.New()
}

func (r *Runner) runSweep(ctx context.Context, cmd *cli.Command, cfg *config.Config, log *logging.Logger) error {
	interval := cmd.Duration("interval")
	if !cmd.IsSet("interval") {
		if ms, ok := cfg.GetInt("SAMPLE_INTERVAL_MS"); ok && ms > 0 {
			interval = time.Duration(ms) * time.Millisecond
		}
	}
	if interval <= 0 {
		return errors.New("interval must be positive")
	}

	ctrl := affinity.NewController(log)
	cpus, err := planCPUs(ctrl, cmd.String("cpus"))
	if err != nil {
		return err
	}

	registry := stats.NewRegistry()
	registry.SetLogger(log)
	defer registry.Stop()
	counters := stats.NewSweepCollector()
	registry.Register(stats.NewProcessCollector())
	registry.Register(stats.NewCPUTimeCollector())
	registry.Register(counters)

	sweeper := NewSweeper(ctrl, newCPUTimeSampler(), log, counters, interval, cpus)

	log.Infof(logging.DestinationSampler, "Sweeping %d CPUs (interval=%v)", len(cpus), interval)

	start := time.Now()
	err = sweeper.Run(ctx, int(cmd.Int("sweeps")))
	elapsed := time.Since(start)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info(logging.DestinationGeneral, "Interrupted, finishing up")
	}

	r.printSummary(sweeper.Tally(), sweeper.Samples(), elapsed)

	if path := cmd.String("metrics-out"); path != "" {
		exporter := stats.NewPrometheusExporter(registry)
		if err := exporter.WriteFile(context.WithoutCancel(ctx), path); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
		log.Debugf(logging.DestinationMetrics, "Wrote metrics to %s", path)
	}
	return nil
}
