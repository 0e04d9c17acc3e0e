package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/gpustream/internal/benchmark"
	"github.com/fxnlabs/gpustream/internal/config"
	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/fxnlabs/gpustream/internal/metrics"
	"github.com/fxnlabs/gpustream/internal/report"
	"github.com/fxnlabs/gpustream/internal/stream"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the bandwidth benchmark",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "arraysize", Aliases: []string{"s"}, Usage: "Use `SIZE` elements in each array"},
			&cli.IntFlag{Name: "numtimes", Aliases: []string{"n"}, Usage: "Run the test `NUM` times (2 or more)"},
			&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Usage: "Select device at `INDEX`"},
			&cli.StringFlag{Name: "backend", Usage: "Device backend: auto, cpu or cuda"},
			&cli.BoolFlag{Name: "float", Usage: "Use floats (rather than doubles)"},
			&cli.BoolFlag{Name: "triad-only", Usage: "Only run triad"},
			&cli.BoolFlag{Name: "nstream-only", Usage: "Only run nstream"},
			&cli.BoolFlag{Name: "csv", Usage: "Output as csv table"},
			&cli.BoolFlag{Name: "json", Usage: "Output as json"},
			&cli.BoolFlag{Name: "mibibytes", Usage: "Use MiB=2^20 for bandwidth calculation (default MB=10^6)"},
			&cli.IntFlag{Name: "block-size", Usage: "Threads per block of the dot kernel"},
			&cli.IntFlag{Name: "dot-blocks", Usage: "Maximum number of dot kernel blocks"},
			&cli.Int64Flag{Name: "memory-limit", Usage: "Cap CPU backend memory at `BYTES`"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on `ADDRESS` while running"},
		},
		Action: func(c *cli.Context) error {
			cfg := c.App.Metadata["config"].(*config.Config)
			log := c.App.Metadata["logger"].(*zap.Logger)

			if err := applyFlags(c, cfg); err != nil {
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
				return runBenchmark[float32](ctx, c, cfg, log)
			}
			return runBenchmark[float64](ctx, c, cfg, log)
		},
	}
}

// serveMetrics starts the metrics server when a listen address is
// configured. The returned func shuts it down.
func serveMetrics(cfg *config.Config, log *zap.Logger) (func(), error) {
	addr := cfg.Metrics.ListenAddress
	if addr == "" {
		return func() {}, nil
	}
	srv, err := metrics.Start(addr, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to stop metrics server", zap.Error(err))
		}
	}, nil
}

// applyFlags overrides configuration values with the flags given on the
// command line.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("arraysize") {
		cfg.Benchmark.ArraySize = c.Int("arraysize")
	}
	if c.IsSet("numtimes") {
		cfg.Benchmark.NumTimes = c.Int("numtimes")
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
	if c.Bool("triad-only") && c.Bool("nstream-only") {
		return fmt.Errorf("--triad-only and --nstream-only are mutually exclusive")
	}
	if c.Bool("triad-only") {
		cfg.Benchmark.Mode = string(benchmark.ModeTriad)
	}
	if c.Bool("nstream-only") {
		cfg.Benchmark.Mode = string(benchmark.ModeNstream)
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
	if c.IsSet("block-size") {
		cfg.Device.BlockSize = c.Int("block-size")
	}
	if c.IsSet("dot-blocks") {
		cfg.Device.DotBlocks = c.Int("dot-blocks")
	}
	if c.IsSet("memory-limit") {
		cfg.Device.MemoryLimit = c.Int64("memory-limit")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.ListenAddress = c.String("metrics-addr")
	}
	return nil
}

func runBenchmark[T gpu.Float](ctx context.Context, c *cli.Context, cfg *config.Config, log *zap.Logger) (err error) {
	// Validate has already accepted these
	kind, _ := gpu.ParseKind(cfg.Device.Backend)
	mode, _ := benchmark.ParseMode(cfg.Benchmark.Mode)
	format, _ := report.ParseFormat(cfg.Benchmark.Output)
	opts := report.Options{Format: format, MiBytes: cfg.Benchmark.MiBytes}
	w := c.App.Writer

	if format == report.FormatTable {
		fmt.Fprintln(w, figure.NewFigure("GPU Stream", "", true).String())
	}

	s, err := stream.New[T](cfg.Benchmark.ArraySize, cfg.Device.Index,
		stream.WithLogger(log),
		stream.WithBackendKind(kind),
		stream.WithBlockSize(cfg.Device.BlockSize),
		stream.WithDotBlocks(cfg.Device.DotBlocks),
		stream.WithMemoryLimit(cfg.Device.MemoryLimit),
	)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(s))

	info := s.DeviceInfo()
	metrics.RunsTotal.WithLabelValues(info.Backend).Inc()

	if err := report.Header(w, s.Implementation(), gpu.PrecisionName[T](),
		cfg.Benchmark.ArraySize, gpu.ElementSize[T](), cfg.Benchmark.NumTimes, opts); err != nil {
		return err
	}
	if format == report.FormatTable {
		fmt.Fprintf(w, "Using device %d: %s\n", info.Index, info.Name)
	}

	res, err := benchmark.Run[T](ctx, s, benchmark.Config{NumTimes: cfg.Benchmark.NumTimes, Mode: mode}, log)
	if err != nil {
		return err
	}

	if err := report.Generate(w, res, opts); err != nil {
		return err
	}

	if verr := res.Verification.Err(); verr != nil {
		for _, failure := range res.Verification.Failures {
			fmt.Fprintf(c.App.ErrWriter, "Validation failed: %s\n", failure)
		}
		return verr
	}
	return nil
}
