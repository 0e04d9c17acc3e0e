package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/gpustream/internal/benchmark"
	"github.com/fxnlabs/gpustream/internal/config"
	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/fxnlabs/gpustream/internal/metrics"
	"github.com/fxnlabs/gpustream/internal/report"
	"github.com/fxnlabs/gpustream/internal/stream"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func tuneCommand() *cli.Command {
	return &cli.Command{
		Name:  "tune",
		Usage: "Sweep launch configurations and report the bandwidth of each kernel",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "arraysize", Aliases: []string{"s"}, Usage: "Use `SIZE` elements in each array"},
			&cli.IntFlag{Name: "numtimes", Aliases: []string{"n"}, Usage: "Run each kernel `NUM` times per configuration (2 or more)"},
			&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Usage: "Select device at `INDEX`"},
			&cli.StringFlag{Name: "backend", Usage: "Device backend: auto, cpu or cuda"},
			&cli.BoolFlag{Name: "float", Usage: "Use floats (rather than doubles)"},
			&cli.IntSliceFlag{Name: "block-sizes", Usage: "Threads per block to try for the dot kernel"},
			&cli.IntSliceFlag{Name: "dot-blocks", Usage: "Maximum dot kernel block counts to try"},
			&cli.IntSliceFlag{Name: "workers", Usage: "CPU backend worker counts to try"},
			&cli.StringSliceFlag{Name: "kernels", Usage: "Kernels to tune (default all)"},
			&cli.BoolFlag{Name: "csv", Usage: "Output as csv table"},
			&cli.BoolFlag{Name: "json", Usage: "Output as json"},
			&cli.BoolFlag{Name: "mibibytes", Usage: "Use MiB=2^20 for bandwidth calculation (default MB=10^6)"},
			&cli.Int64Flag{Name: "memory-limit", Usage: "Cap CPU backend memory at `BYTES`"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on `ADDRESS` while tuning"},
		},
		Action: func(c *cli.Context) error {
			cfg := c.App.Metadata["config"].(*config.Config)
			log := c.App.Metadata["logger"].(*zap.Logger)

			if err := applyTuneFlags(c, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopMetrics, err := serveMetrics(cfg, log)
			if err != nil {
				return err
			}
			defer stopMetrics()

			if cfg.Benchmark.Precision == "float" {
				return runTune[float32](ctx, c, cfg, log)
			}
			return runTune[float64](ctx, c, cfg, log)
		},
	}
}

// applyTuneFlags overrides the benchmark, device and tune sections with the
// flags given on the command line.
func applyTuneFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("arraysize") {
		cfg.Benchmark.ArraySize = c.Int("arraysize")
	}
	if c.IsSet("numtimes") {
		cfg.Tune.NumTimes = c.Int("numtimes")
	}
	if c.IsSet("device") {
		cfg.Device.Index = c.Int("device")
	}
	if c.IsSet("backend") {
		cfg.Device.Backend = c.String("backend")
	}
	if c.Bool("float") {
		cfg.Benchmark.Precision = "float"
	}
	if c.IsSet("block-sizes") {
		cfg.Tune.BlockSizes = c.IntSlice("block-sizes")
	}
	if c.IsSet("dot-blocks") {
		cfg.Tune.DotBlocks = c.IntSlice("dot-blocks")
	}
	if c.IsSet("workers") {
		cfg.Tune.Workers = c.IntSlice("workers")
	}
	if c.IsSet("kernels") {
		cfg.Tune.Kernels = c.StringSlice("kernels")
	}
	if c.Bool("csv") && c.Bool("json") {
		return fmt.Errorf("--csv and --json are mutually exclusive")
	}
	if c.Bool("csv") {
		cfg.Benchmark.Output = string(report.FormatCSV)
	}
	if c.Bool("json") {
		cfg.Benchmark.Output = string(report.FormatJSON)
	}
	if c.Bool("mibibytes") {
		cfg.Benchmark.MiBytes = true
	}
	if c.IsSet("memory-limit") {
		cfg.Device.MemoryLimit = c.Int64("memory-limit")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.ListenAddress = c.String("metrics-addr")
	}
	return nil
}

func runTune[T gpu.Float](ctx context.Context, c *cli.Context, cfg *config.Config, log *zap.Logger) error {
	// Validate has already accepted these
	kind, _ := gpu.ParseKind(cfg.Device.Backend)
	format, _ := report.ParseFormat(cfg.Benchmark.Output)
	tc, _ := cfg.TuneConfig()
	opts := report.Options{Format: format, MiBytes: cfg.Benchmark.MiBytes}
	w := c.App.Writer

	if format == report.FormatTable {
		fmt.Fprintln(w, figure.NewFigure("GPU Stream", "", true).String())
		fmt.Fprintf(w, "Tuning %d launch configurations\n", len(tc.Grid()))
	}

	open := func(l benchmark.Launch) (stream.Stream[T], error) {
		s, err := stream.New[T](cfg.Benchmark.ArraySize, cfg.Device.Index,
			stream.WithLogger(log),
			stream.WithBackendKind(kind),
			stream.WithBlockSize(l.BlockSize),
			stream.WithDotBlocks(l.DotBlocks),
			stream.WithWorkers(l.Workers),
			stream.WithMemoryLimit(cfg.Device.MemoryLimit),
		)
		if err != nil {
			return nil, err
		}
		metrics.RunsTotal.WithLabelValues(s.DeviceInfo().Backend).Inc()
		return s, nil
	}

	tuning, err := benchmark.Tune[T](ctx, open, tc, log)
	if err != nil {
		return err
	}

	if err := report.Header(w, tuning.Implementation, tuning.Precision,
		tuning.ArraySize, tuning.ElementSize, tuning.NumTimes, opts); err != nil {
		return err
	}
	if err := report.GenerateTuning(w, tuning, opts); err != nil {
		return err
	}

	failed := tuning.Failed()
	for _, r := range failed {
		fmt.Fprintf(c.App.ErrWriter, "Validation failed: %s at %s: %v\n",
			r.Stats.Kernel, r.Launch, r.Verification.Err())
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d launch configurations", benchmark.ErrValidation, len(failed), len(tuning.Results))
	}
	return nil
}
