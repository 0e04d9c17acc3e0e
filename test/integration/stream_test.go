//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/fxnlabs/gpustream/internal/benchmark"
	"github.com/fxnlabs/gpustream/internal/config"
	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/fxnlabs/gpustream/internal/logger"
	"github.com/fxnlabs/gpustream/internal/metrics"
	"github.com/fxnlabs/gpustream/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logger.Verbosity = "debug"
	cfg.Logger.Format = "console"
	cfg.Benchmark.ArraySize = 1 << 20
	cfg.Benchmark.NumTimes = 10
	cfg.Device.Backend = string(gpu.KindAuto)
	cfg.Metrics.ListenAddress = "127.0.0.1:0"
	return cfg
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Logger.Verbosity, cfg.Logger.Format)
}

func newStream(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*stream.DeviceStream[float64], error) {
	kind, err := gpu.ParseKind(cfg.Device.Backend)
	if err != nil {
		return nil, err
	}
	s, err := stream.New[float64](cfg.Benchmark.ArraySize, cfg.Device.Index,
		stream.WithLogger(log),
		stream.WithBackendKind(kind),
		stream.WithBlockSize(cfg.Device.BlockSize),
		stream.WithDotBlocks(cfg.Device.DotBlocks),
	)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return s.Close() },
	})
	return s, nil
}

func newMetricsServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*metrics.Server, error) {
	srv, err := metrics.Start(cfg.Metrics.ListenAddress, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: srv.Shutdown,
	})
	return srv, nil
}

func TestStreamBenchmark(t *testing.T) {
	var (
		cfg *config.Config
		log *zap.Logger
		s   *stream.DeviceStream[float64]
		srv *metrics.Server
	)

	app := fxtest.New(t,
		fx.Provide(
			testConfig,
			newLogger,
			newStream,
			newMetricsServer,
		),
		fx.Populate(&cfg, &log, &s, &srv),
	)

	app.RequireStart()
	defer app.RequireStop()

	for _, mode := range []benchmark.Mode{benchmark.ModeAll, benchmark.ModeTriad, benchmark.ModeNstream} {
		t.Run(string(mode), func(t *testing.T) {
			res, err := benchmark.Run[float64](context.Background(), s,
				benchmark.Config{NumTimes: cfg.Benchmark.NumTimes, Mode: mode}, log)
			require.NoError(t, err)
			require.NoError(t, res.Verification.Err())

			for _, st := range res.Stats() {
				assert.Greater(t, st.Bandwidth, 0.0, "kernel %s", st.Kernel)
				t.Logf("%-8s %10.1f MB/s", st.Kernel, st.Bandwidth*1e-6)
			}
		})
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `stream_kernel_bandwidth_bytes_per_second{kernel="Triad"}`)
	assert.Contains(t, string(body), "stream_array_size 1.048576e+06")
}

func TestStreamBenchmark_Float(t *testing.T) {
	log := zap.NewNop()
	s, err := stream.New[float32](1<<20, 0, stream.WithLogger(log))
	require.NoError(t, err)
	defer func() { assert.NoError(t, s.Close()) }()

	res, err := benchmark.Run[float32](context.Background(), s, benchmark.Config{NumTimes: 5, Mode: benchmark.ModeAll}, log)
	require.NoError(t, err)
	assert.NoError(t, res.Verification.Err())
}
