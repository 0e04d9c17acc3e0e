// Package benchmark drives a stream.Stream through timed kernel iterations
// and checks the arrays it leaves behind.
package benchmark

import (
	"context"
	"fmt"
	"time"

	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/fxnlabs/gpustream/internal/metrics"
	"github.com/fxnlabs/gpustream/internal/stream"
	"go.uber.org/zap"
)

// Mode selects which kernels run each iteration.
type Mode string

const (
	ModeAll     Mode = "all"
	ModeTriad   Mode = "triad"
	ModeNstream Mode = "nstream"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "", ModeAll:
		return ModeAll, nil
	case ModeTriad, ModeNstream:
		return m, nil
	default:
		return "", fmt.Errorf("unknown benchmark mode %q (want all, triad or nstream)", s)
	}
}

// Kernel names one timed operation.
type Kernel string

const (
	KernelCopy    Kernel = "Copy"
	KernelMul     Kernel = "Mul"
	KernelAdd     Kernel = "Add"
	KernelTriad   Kernel = "Triad"
	KernelDot     Kernel = "Dot"
	KernelNstream Kernel = "Nstream"
)

// Kernels returns the kernels a mode runs, in execution order.
func (m Mode) Kernels() []Kernel {
	switch m {
	case ModeTriad:
		return []Kernel{KernelTriad}
	case ModeNstream:
		return []Kernel{KernelNstream}
	default:
		return []Kernel{KernelCopy, KernelMul, KernelAdd, KernelTriad, KernelDot}
	}
}

// arraysTouched is how many arrays a kernel reads or writes per element.
var arraysTouched = map[Kernel]int64{
	KernelCopy:    2,
	KernelMul:     2,
	KernelAdd:     3,
	KernelTriad:   3,
	KernelDot:     2,
	KernelNstream: 4,
}

// Bytes returns the bytes a kernel moves over arrays of n elements of size
// elemSize.
func (k Kernel) Bytes(n, elemSize int) int64 {
	return arraysTouched[k] * int64(n) * int64(elemSize)
}

// Config controls one benchmark run.
type Config struct {
	NumTimes int
	Mode     Mode
}

// Validate rejects configurations that cannot produce statistics.
func (c Config) Validate() error {
	if c.NumTimes < 2 {
		return fmt.Errorf("number of times must be 2 or more, got %d", c.NumTimes)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	return nil
}

// Result is the outcome of Run.
type Result struct {
	Implementation string
	Device         gpu.DeviceInfo
	Precision      string
	ArraySize      int
	ElementSize    int
	NumTimes       int
	Mode           Mode

	// Timings holds per-iteration durations in seconds for every kernel
	// that ran.
	Timings map[Kernel][]float64

	// Sum is the last value returned by Dot (ModeAll only).
	Sum float64

	Verification Verification
}

// Stats summarizes the timings of every kernel that ran, in execution order.
func (r *Result) Stats() []Stats {
	stats := make([]Stats, 0, len(r.Timings))
	for _, k := range r.Mode.Kernels() {
		samples, ok := r.Timings[k]
		if !ok {
			continue
		}
		stats = append(stats, Summarize(k, samples, k.Bytes(r.ArraySize, r.ElementSize)))
	}
	return stats
}

// deviceSizer is implemented by streams that know their full device
// footprint, reduction scratch included.
type deviceSizer interface {
	DeviceBytes() int64
}

// deviceBytes returns the device memory held by s. Streams that cannot
// report it are assumed to hold only the three arrays.
func deviceBytes[T gpu.Float](s stream.Stream[T], elemSize int) int64 {
	if ds, ok := s.(deviceSizer); ok {
		return ds.DeviceBytes()
	}
	return 3 * int64(s.ArraySize()) * int64(elemSize)
}

// runKernel launches one kernel. Only Dot returns a value.
func runKernel[T gpu.Float](s stream.Stream[T], k Kernel) (T, error) {
	switch k {
	case KernelCopy:
		return 0, s.Copy()
	case KernelMul:
		return 0, s.Mul()
	case KernelAdd:
		return 0, s.Add()
	case KernelTriad:
		return 0, s.Triad()
	case KernelNstream:
		return 0, s.Nstream()
	case KernelDot:
		return s.Dot()
	default:
		return 0, fmt.Errorf("unknown kernel %q", k)
	}
}

// Run initializes the arrays, runs cfg.NumTimes iterations of the mode's
// kernels, reads the arrays back and verifies them. A kernel failure aborts
// the run; a verification failure is reported in Result.Verification.
func Run[T gpu.Float](ctx context.Context, s stream.Stream[T], cfg Config, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, _ := ParseMode(string(cfg.Mode))

	n := s.ArraySize()
	res := &Result{
		Implementation: s.Implementation(),
		Device:         s.DeviceInfo(),
		Precision:      gpu.PrecisionName[T](),
		ArraySize:      n,
		ElementSize:    gpu.ElementSize[T](),
		NumTimes:       cfg.NumTimes,
		Mode:           mode,
		Timings:        make(map[Kernel][]float64),
	}
	for _, k := range mode.Kernels() {
		res.Timings[k] = make([]float64, 0, cfg.NumTimes)
	}
	metrics.ArraySize.Set(float64(n))
	metrics.DeviceMemoryUsedBytes.Set(float64(deviceBytes(s, res.ElementSize)))

	if err := s.InitArrays(T(stream.StartA), T(stream.StartB), T(stream.StartC)); err != nil {
		return nil, fmt.Errorf("initialize arrays: %w", err)
	}

	log.Info("running kernels",
		zap.String("mode", string(mode)),
		zap.Int("num_times", cfg.NumTimes),
		zap.Int("array_size", n))

	var sum T
	for iter := 0; iter < cfg.NumTimes; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("benchmark interrupted after %d iterations: %w", iter, err)
		}
		for _, k := range mode.Kernels() {
			start := time.Now()
			got, err := runKernel(s, k)
			elapsed := time.Since(start).Seconds()
			if err != nil {
				return nil, fmt.Errorf("iteration %d: %w", iter, err)
			}
			if k == KernelDot {
				sum = got
			}
			res.Timings[k] = append(res.Timings[k], elapsed)
			metrics.KernelDuration.WithLabelValues(string(k)).Observe(elapsed)
		}
	}
	res.Sum = float64(sum)

	a, b, c := make([]T, n), make([]T, n), make([]T, n)
	if err := s.ReadArrays(a, b, c); err != nil {
		return nil, fmt.Errorf("read arrays: %w", err)
	}

	res.Verification = Verify(a, b, c, sum, mode, cfg.NumTimes)
	if err := res.Verification.Err(); err != nil {
		metrics.ValidationFailures.Inc()
		log.Warn("validation failed", zap.Error(err))
	}

	for _, st := range res.Stats() {
		metrics.KernelBandwidth.WithLabelValues(string(st.Kernel)).Set(st.Bandwidth)
		log.Debug("kernel finished",
			zap.String("kernel", string(st.Kernel)),
			zap.Float64("min_seconds", st.Min),
			zap.Float64("bandwidth_mbps", st.Bandwidth*1e-6))
	}

	return res, nil
}
