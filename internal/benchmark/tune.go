package benchmark

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/fxnlabs/gpustream/internal/metrics"
	"github.com/fxnlabs/gpustream/internal/stream"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AllKernels lists every kernel in the order tuning visits them.
var AllKernels = []Kernel{KernelCopy, KernelMul, KernelAdd, KernelTriad, KernelNstream, KernelDot}

// ParseKernel converts a kernel name, in any case, into a Kernel.
func ParseKernel(s string) (Kernel, error) {
	for _, k := range AllKernels {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown kernel %q", s)
}

// Launch is one point of the tuning grid. Workers is zero when the backend
// default is used.
type Launch struct {
	BlockSize int `json:"block_size"`
	DotBlocks int `json:"dot_blocks"`
	Workers   int `json:"workers"`
}

func (l Launch) String() string {
	workers := "default"
	if l.Workers > 0 {
		workers = strconv.Itoa(l.Workers)
	}
	return fmt.Sprintf("block=%d dot_blocks=%d workers=%s", l.BlockSize, l.DotBlocks, workers)
}

// TuneConfig describes a launch-configuration sweep.
type TuneConfig struct {
	NumTimes int

	// Kernels to tune; empty means AllKernels.
	Kernels []Kernel

	BlockSizes []int
	DotBlocks  []int

	// Workers to try on the CPU backend; empty keeps the backend default.
	Workers []int
}

// Validate rejects sweeps that cannot produce verified statistics.
func (c TuneConfig) Validate() error {
	var errs error
	if c.NumTimes < 2 {
		errs = multierr.Append(errs, fmt.Errorf("number of times must be 2 or more, got %d", c.NumTimes))
	}
	if len(c.BlockSizes) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("at least one block size is required"))
	}
	if len(c.DotBlocks) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("at least one dot block count is required"))
	}
	for _, n := range c.BlockSizes {
		if n <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("block size must be positive, got %d", n))
		}
	}
	for _, n := range c.DotBlocks {
		if n <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("dot block count must be positive, got %d", n))
		}
	}
	for _, n := range c.Workers {
		if n <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("worker count must be positive, got %d", n))
		}
	}
	return errs
}

func (c TuneConfig) kernels() []Kernel {
	if len(c.Kernels) == 0 {
		return AllKernels
	}
	return c.Kernels
}

// Grid returns every launch in the sweep, block size varying slowest.
func (c TuneConfig) Grid() []Launch {
	workers := c.Workers
	if len(workers) == 0 {
		workers = []int{0}
	}
	grid := make([]Launch, 0, len(c.BlockSizes)*len(c.DotBlocks)*len(workers))
	for _, bs := range c.BlockSizes {
		for _, db := range c.DotBlocks {
			for _, w := range workers {
				grid = append(grid, Launch{BlockSize: bs, DotBlocks: db, Workers: w})
			}
		}
	}
	return grid
}

// TuneResult is the outcome of one kernel at one launch.
type TuneResult struct {
	Launch       Launch
	Stats        Stats
	Verification Verification
}

// Tuning collects the results of a sweep.
type Tuning struct {
	Implementation string
	Precision      string
	ArraySize      int
	ElementSize    int
	NumTimes       int
	Results        []TuneResult
}

// Best returns the fastest verified launch for k.
func (t *Tuning) Best(k Kernel) (TuneResult, bool) {
	var best TuneResult
	found := false
	for _, r := range t.Results {
		if r.Stats.Kernel != k || !r.Verification.OK() {
			continue
		}
		if !found || r.Stats.Bandwidth > best.Stats.Bandwidth {
			best, found = r, true
		}
	}
	return best, found
}

// Failed returns the results that did not verify.
func (t *Tuning) Failed() []TuneResult {
	var failed []TuneResult
	for _, r := range t.Results {
		if !r.Verification.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}

// Opener creates a stream configured for one launch. Tune closes it.
type Opener[T gpu.Float] func(Launch) (stream.Stream[T], error)

// Tune runs every kernel cfg.NumTimes times at every launch in the grid,
// starting each kernel from fresh arrays, and verifies the arrays each
// kernel leaves behind.
func Tune[T gpu.Float](ctx context.Context, open Opener[T], cfg TuneConfig, log *zap.Logger) (*Tuning, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tuning{
		Precision:   gpu.PrecisionName[T](),
		ElementSize: gpu.ElementSize[T](),
		NumTimes:    cfg.NumTimes,
	}

	for _, launch := range cfg.Grid() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("tuning interrupted: %w", err)
		}
		if err := tuneLaunch(ctx, t, open, launch, cfg, log); err != nil {
			return nil, fmt.Errorf("launch %s: %w", launch, err)
		}
	}
	return t, nil
}

func tuneLaunch[T gpu.Float](ctx context.Context, t *Tuning, open Opener[T], launch Launch, cfg TuneConfig, log *zap.Logger) (err error) {
	s, err := open(launch)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(s))

	n := s.ArraySize()
	if t.Implementation == "" {
		t.Implementation = s.Implementation()
		t.ArraySize = n
	}
	metrics.ArraySize.Set(float64(n))
	metrics.DeviceMemoryUsedBytes.Set(float64(deviceBytes(s, t.ElementSize)))

	a, b, c := make([]T, n), make([]T, n), make([]T, n)
	for _, k := range cfg.kernels() {
		if err := s.InitArrays(T(stream.StartA), T(stream.StartB), T(stream.StartC)); err != nil {
			return fmt.Errorf("initialize arrays: %w", err)
		}

		var sum T
		samples := make([]float64, 0, cfg.NumTimes)
		for iter := 0; iter < cfg.NumTimes; iter++ {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("tuning interrupted: %w", err)
			}
			start := time.Now()
			got, err := runKernel(s, k)
			elapsed := time.Since(start).Seconds()
			if err != nil {
				return fmt.Errorf("%s iteration %d: %w", k, iter, err)
			}
			sum = got
			samples = append(samples, elapsed)
		}

		if err := s.ReadArrays(a, b, c); err != nil {
			return fmt.Errorf("read arrays: %w", err)
		}

		r := TuneResult{
			Launch:       launch,
			Stats:        Summarize(k, samples, k.Bytes(n, t.ElementSize)),
			Verification: VerifyKernels(a, b, c, sum, []Kernel{k}, cfg.NumTimes),
		}
		t.Results = append(t.Results, r)

		if verr := r.Verification.Err(); verr != nil {
			metrics.ValidationFailures.Inc()
			log.Warn("launch failed verification",
				zap.String("kernel", string(k)),
				zap.Stringer("launch", launch),
				zap.Error(verr))
			continue
		}
		metrics.TuneBandwidth.WithLabelValues(string(k),
			strconv.Itoa(launch.BlockSize),
			strconv.Itoa(launch.DotBlocks),
			strconv.Itoa(launch.Workers)).Set(r.Stats.Bandwidth)
		log.Debug("launch measured",
			zap.String("kernel", string(k)),
			zap.Stringer("launch", launch),
			zap.Float64("bandwidth_mbps", r.Stats.Bandwidth*1e-6))
	}
	return nil
}
