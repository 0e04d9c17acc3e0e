package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxnlabs/gpustream/internal/benchmark"
	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/fxnlabs/gpustream/internal/report"
	"github.com/fxnlabs/gpustream/internal/stream"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Format    string `yaml:"format"`
	} `yaml:"logger"`
	Benchmark struct {
		ArraySize int    `yaml:"arraySize"`
		NumTimes  int    `yaml:"numTimes"`
		Precision string `yaml:"precision"`
		Mode      string `yaml:"mode"`
		Output    string `yaml:"output"`
		MiBytes   bool   `yaml:"mibibytes"`
	} `yaml:"benchmark"`
	Device struct {
		Backend     string `yaml:"backend"`
		Index       int    `yaml:"index"`
		BlockSize   int    `yaml:"blockSize"`
		DotBlocks   int    `yaml:"dotBlocks"`
		MemoryLimit int64  `yaml:"memoryLimit"`
	} `yaml:"device"`
	Tune struct {
		NumTimes   int      `yaml:"numTimes"`
		Kernels    []string `yaml:"kernels"`
		BlockSizes []int    `yaml:"blockSizes"`
		DotBlocks  []int    `yaml:"dotBlocks"`
		Workers    []int    `yaml:"workers"`
	} `yaml:"tune"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.Logger.Verbosity = "info"
	c.Logger.Format = "json"
	c.Benchmark.ArraySize = stream.DefaultArraySize
	c.Benchmark.NumTimes = 100
	c.Benchmark.Precision = "double"
	c.Benchmark.Mode = string(benchmark.ModeAll)
	c.Benchmark.Output = string(report.FormatTable)
	c.Device.Backend = string(gpu.KindAuto)
	c.Device.BlockSize = stream.DefaultBlockSize
	c.Device.DotBlocks = stream.DefaultDotBlocks
	c.Tune.NumTimes = 10
	c.Tune.Kernels = []string{}
	c.Tune.BlockSizes = []int{128, 256, 512, 1024}
	c.Tune.DotBlocks = []int{stream.DefaultDotBlocks}
	c.Tune.Workers = []int{}
	return &c
}

// LoadConfig reads a yaml file over the defaults. Keys missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs error
	if c.Benchmark.ArraySize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("benchmark.arraySize must be positive, got %d", c.Benchmark.ArraySize))
	}
	if c.Benchmark.NumTimes < 2 {
		errs = multierr.Append(errs, fmt.Errorf("benchmark.numTimes must be 2 or more, got %d", c.Benchmark.NumTimes))
	}
	if c.Benchmark.Precision != "float" && c.Benchmark.Precision != "double" {
		errs = multierr.Append(errs, fmt.Errorf("benchmark.precision must be float or double, got %q", c.Benchmark.Precision))
	}
	if _, err := benchmark.ParseMode(c.Benchmark.Mode); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := report.ParseFormat(c.Benchmark.Output); err != nil {
		errs = multierr.Append(errs, err)
	}
	kind, err := gpu.ParseKind(c.Device.Backend)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Device.Index < 0 {
		errs = multierr.Append(errs, fmt.Errorf("device.index must not be negative, got %d", c.Device.Index))
	}
	if c.Device.BlockSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("device.blockSize must be positive, got %d", c.Device.BlockSize))
	} else if kind == gpu.KindCUDA {
		if err := gpu.CheckBlockSize(c.Device.BlockSize); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("device.blockSize: %w", err))
		}
	}
	if c.Device.DotBlocks <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("device.dotBlocks must be positive, got %d", c.Device.DotBlocks))
	}
	if c.Device.MemoryLimit < 0 {
		errs = multierr.Append(errs, errors.New("device.memoryLimit must not be negative"))
	}
	errs = multierr.Append(errs, c.validateTune(kind))
	return errs
}

// TuneConfig converts the tune section into a sweep description.
func (c *Config) TuneConfig() (benchmark.TuneConfig, error) {
	tc := benchmark.TuneConfig{
		NumTimes:   c.Tune.NumTimes,
		BlockSizes: c.Tune.BlockSizes,
		DotBlocks:  c.Tune.DotBlocks,
		Workers:    c.Tune.Workers,
	}
	for _, name := range c.Tune.Kernels {
		k, err := benchmark.ParseKernel(name)
		if err != nil {
			return tc, fmt.Errorf("tune.kernels: %w", err)
		}
		tc.Kernels = append(tc.Kernels, k)
	}
	return tc, nil
}

func (c *Config) validateTune(kind gpu.Kind) error {
	tc, err := c.TuneConfig()
	if err != nil {
		return err
	}
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("tune: %w", err)
	}
	if kind != gpu.KindCUDA {
		return nil
	}
	var errs error
	for _, n := range c.Tune.BlockSizes {
		if err := gpu.CheckBlockSize(n); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("tune.blockSizes: %w", err))
		}
	}
	return errs
}
