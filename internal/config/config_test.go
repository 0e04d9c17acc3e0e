package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/gpustream/fixtures"
	"github.com/fxnlabs/gpustream/internal/benchmark"
	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "console", config.Logger.Format)
		assert.Equal(t, 1048576, config.Benchmark.ArraySize)
		assert.Equal(t, 20, config.Benchmark.NumTimes)
		assert.Equal(t, "float", config.Benchmark.Precision)
		assert.Equal(t, "triad", config.Benchmark.Mode)
		assert.Equal(t, "csv", config.Benchmark.Output)
		assert.True(t, config.Benchmark.MiBytes)
		assert.Equal(t, "cpu", config.Device.Backend)
		assert.Equal(t, 256, config.Device.BlockSize)
		assert.Equal(t, int64(1073741824), config.Device.MemoryLimit)
		assert.Equal(t, "127.0.0.1:9100", config.Metrics.ListenAddress)
		assert.Equal(t, 5, config.Tune.NumTimes)
		assert.Equal(t, []string{"triad", "dot"}, config.Tune.Kernels)
		assert.Equal(t, []int{64, 128}, config.Tune.BlockSizes)
		assert.Equal(t, []int{1, 2}, config.Tune.Workers)

		// Keys missing from the file keep their defaults
		assert.Equal(t, 0, config.Device.Index)
		assert.Equal(t, 256, config.Device.DotBlocks)
		assert.Equal(t, []int{256}, config.Tune.DotBlocks)

		assert.NoError(t, config.Validate())
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir, err := os.Getwd()
		require.NoError(t, err)

		configPath := filepath.Join(dir, "..", "..", "fixtures", "tests", "invalid_config", "config.yaml")
		_, err = LoadConfig(configPath)
		assert.Error(t, err)
	})

	t.Run("template matches defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, fixtures.ConfigTemplate, 0o600))

		config, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, Default(), config)
	})
}

func TestDefault(t *testing.T) {
	config := Default()
	assert.Equal(t, 1<<25, config.Benchmark.ArraySize)
	assert.Equal(t, 100, config.Benchmark.NumTimes)
	assert.Equal(t, "double", config.Benchmark.Precision)
	assert.Equal(t, "auto", config.Device.Backend)
	assert.NoError(t, config.Validate())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "array size", mutate: func(c *Config) { c.Benchmark.ArraySize = 0 }, want: "arraySize"},
		{name: "num times", mutate: func(c *Config) { c.Benchmark.NumTimes = 1 }, want: "numTimes"},
		{name: "precision", mutate: func(c *Config) { c.Benchmark.Precision = "half" }, want: "precision"},
		{name: "mode", mutate: func(c *Config) { c.Benchmark.Mode = "scale" }, want: "mode"},
		{name: "output", mutate: func(c *Config) { c.Benchmark.Output = "xml" }, want: "output format"},
		{name: "backend", mutate: func(c *Config) { c.Device.Backend = "opencl" }, want: "backend"},
		{name: "device index", mutate: func(c *Config) { c.Device.Index = -1 }, want: "device.index"},
		{name: "block size", mutate: func(c *Config) { c.Device.BlockSize = 0 }, want: "blockSize"},
		{name: "dot blocks", mutate: func(c *Config) { c.Device.DotBlocks = -1 }, want: "dotBlocks"},
		{name: "memory limit", mutate: func(c *Config) { c.Device.MemoryLimit = -1 }, want: "memoryLimit"},
		{name: "tune num times", mutate: func(c *Config) { c.Tune.NumTimes = 1 }, want: "tune"},
		{name: "tune kernel", mutate: func(c *Config) { c.Tune.Kernels = []string{"scale"} }, want: "tune.kernels"},
		{name: "tune block sizes", mutate: func(c *Config) { c.Tune.BlockSizes = nil }, want: "block size"},
		{name: "tune workers", mutate: func(c *Config) { c.Tune.Workers = []int{0} }, want: "worker count"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := Default()
			tc.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		config := Default()
		config.Benchmark.ArraySize = -1
		config.Benchmark.NumTimes = 0
		config.Device.BlockSize = 0
		assert.Len(t, multierr.Errors(config.Validate()), 3)
	})
}

func TestValidate_CUDABlockSize(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		blockSize int
		wantErr   bool
	}{
		{name: "cuda power of two", backend: "cuda", blockSize: 512},
		{name: "cuda max", backend: "cuda", blockSize: 1024},
		{name: "cuda not power of two", backend: "cuda", blockSize: 1000, wantErr: true},
		{name: "cuda above limit", backend: "cuda", blockSize: 2048, wantErr: true},
		{name: "cpu accepts any width", backend: "cpu", blockSize: 1000},
		{name: "auto accepts any width", backend: "auto", blockSize: 2048},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := Default()
			config.Device.Backend = tc.backend
			config.Device.BlockSize = tc.blockSize
			err := config.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, gpu.ErrInvalidBlockSize)
				assert.Contains(t, err.Error(), "device.blockSize")
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("tune block sizes", func(t *testing.T) {
		config := Default()
		config.Device.Backend = "cuda"
		config.Tune.BlockSizes = []int{256, 384, 4096}
		err := config.Validate()
		assert.ErrorIs(t, err, gpu.ErrInvalidBlockSize)
		assert.Len(t, multierr.Errors(err), 2)

		config.Device.Backend = "cpu"
		assert.NoError(t, config.Validate())
	})
}

func TestTuneConfig(t *testing.T) {
	config := Default()
	config.Tune.Kernels = []string{"Copy", "nstream"}

	tc, err := config.TuneConfig()
	require.NoError(t, err)
	assert.Equal(t, []benchmark.Kernel{benchmark.KernelCopy, benchmark.KernelNstream}, tc.Kernels)
	assert.Equal(t, 10, tc.NumTimes)
	assert.Equal(t, []int{128, 256, 512, 1024}, tc.BlockSizes)
	assert.Len(t, tc.Grid(), 4)
}
