package stream

import (
	"fmt"

	"github.com/fxnlabs/gpustream/internal/gpu"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Option configures a DeviceStream.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	kind        gpu.Kind
	backend     any
	blockSize   int
	dotBlocks   int
	memoryLimit int64
	workers     int
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBackendKind selects which device technology New opens. The default is
// gpu.KindAuto.
func WithBackendKind(kind gpu.Kind) Option {
	return func(o *options) {
		o.kind = kind
	}
}

// WithBackend makes the stream use an already initialized backend instead of
// opening one. The stream does not clean up a backend it did not open.
func WithBackend[T gpu.Float](backend gpu.Backend[T]) Option {
	return func(o *options) {
		o.backend = backend
	}
}

// WithBlockSize overrides the reduction block size (DefaultBlockSize).
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithDotBlocks overrides the maximum number of reduction blocks
// (DefaultDotBlocks).
func WithDotBlocks(n int) Option {
	return func(o *options) {
		o.dotBlocks = n
	}
}

// WithMemoryLimit caps device memory for the CPU backend.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithWorkers sets how many goroutines the CPU backend splits kernels across.
// Zero keeps the backend default (GOMAXPROCS).
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// DeviceStream runs the stream kernels on a gpu.Backend. It owns the device
// buffers for A, B, C and the dot-product partial sums from New until Close.
type DeviceStream[T gpu.Float] struct {
	backend     gpu.Backend[T]
	ownsBackend bool
	logger      *zap.Logger

	arraySize    int
	blockSize    int
	dotNumBlocks int

	// Host buffer for the partial sums of the dot kernel
	sums []T

	dA, dB, dC, dSum gpu.Buffer

	closed bool
}

var _ Stream[float64] = (*DeviceStream[float64])(nil)

// New allocates three device arrays of arraySize elements and the reduction
// scratch buffer on the given device. On any failure everything allocated so
// far is released before the error is returned.
func New[T gpu.Float](arraySize, deviceIndex int, opts ...Option) (s *DeviceStream[T], err error) {
	o := options{
		kind:      gpu.KindAuto,
		blockSize: DefaultBlockSize,
		dotBlocks: DefaultDotBlocks,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if arraySize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidArraySize, arraySize)
	}
	if o.blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", o.blockSize)
	}
	if o.dotBlocks <= 0 {
		return nil, fmt.Errorf("dot block count must be positive, got %d", o.dotBlocks)
	}
	if o.workers < 0 {
		return nil, fmt.Errorf("worker count must not be negative, got %d", o.workers)
	}

	s = &DeviceStream[T]{
		logger:       o.logger.Named("stream"),
		arraySize:    arraySize,
		blockSize:    o.blockSize,
		dotNumBlocks: dotNumBlocks(arraySize, o.blockSize, o.dotBlocks),
	}

	if o.backend != nil {
		backend, ok := o.backend.(gpu.Backend[T])
		if !ok {
			return nil, fmt.Errorf("backend %T does not support %s precision", o.backend, gpu.PrecisionName[T]())
		}
		s.backend = backend
	} else {
		cpuOpts := []gpu.CPUOption{gpu.WithMemoryLimit(o.memoryLimit)}
		if o.workers > 0 {
			cpuOpts = append(cpuOpts, gpu.WithWorkers(o.workers))
		}
		backend, err := gpu.NewBackend[T](o.kind, deviceIndex, o.logger, cpuOpts...)
		if err != nil {
			return nil, fmt.Errorf("open device %d: %w", deviceIndex, err)
		}
		s.backend = backend
		s.ownsBackend = true
	}

	defer func() {
		if err != nil {
			if releaseErr := s.release(); releaseErr != nil {
				s.logger.Warn("failed to release after construction error", zap.Error(releaseErr))
			}
			s = nil
		}
	}()

	// Reject launch widths the device cannot run before any kernel is timed
	if v, ok := s.backend.(gpu.BlockSizeValidator); ok {
		if err = v.ValidateBlockSize(s.blockSize); err != nil {
			return s, fmt.Errorf("%s backend: %w", s.backend.Name(), err)
		}
	}

	info := s.backend.GetDeviceInfo()
	s.logger.Info("allocating stream arrays",
		zap.String("implementation", s.backend.Name()),
		zap.String("device", info.Name),
		zap.Int("array_size", arraySize),
		zap.Int("dot_num_blocks", s.dotNumBlocks),
		zap.String("precision", gpu.PrecisionName[T]()))

	if s.dA, err = s.allocate("a", arraySize); err != nil {
		return s, err
	}
	if s.dB, err = s.allocate("b", arraySize); err != nil {
		return s, err
	}
	if s.dC, err = s.allocate("c", arraySize); err != nil {
		return s, err
	}
	if s.dSum, err = s.allocate("sum", s.dotNumBlocks); err != nil {
		return s, err
	}
	s.sums = make([]T, s.dotNumBlocks)

	return s, nil
}

// dotNumBlocks bounds the configured block count by the number of blocks
// needed to cover the array once.
func dotNumBlocks(arraySize, blockSize, maxBlocks int) int {
	n := gpu.NumBlocks(arraySize, blockSize)
	if n > maxBlocks {
		n = maxBlocks
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (s *DeviceStream[T]) allocate(name string, n int) (gpu.Buffer, error) {
	buf, err := s.backend.Allocate(n)
	if err != nil {
		return nil, fmt.Errorf("allocate device array %s (%d elements): %w", name, n, err)
	}
	return buf, nil
}

func (s *DeviceStream[T]) ArraySize() int {
	return s.arraySize
}

// DotNumBlocks returns the number of partial sums the dot kernel produces.
func (s *DeviceStream[T]) DotNumBlocks() int {
	return s.dotNumBlocks
}

// BlockSize returns the thread-block width of the dot kernel.
func (s *DeviceStream[T]) BlockSize() int {
	return s.blockSize
}

// DeviceBytes returns the device memory held by the three arrays and the
// partial-sum buffer.
func (s *DeviceStream[T]) DeviceBytes() int64 {
	return (3*int64(s.arraySize) + int64(s.dotNumBlocks)) * int64(gpu.ElementSize[T]())
}

func (s *DeviceStream[T]) Implementation() string {
	return s.backend.Name()
}

func (s *DeviceStream[T]) DeviceInfo() gpu.DeviceInfo {
	return s.backend.GetDeviceInfo()
}

func (s *DeviceStream[T]) InitArrays(a, b, c T) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.Fill(s.dA, a); err != nil {
		return fmt.Errorf("init array a: %w", err)
	}
	if err := s.backend.Fill(s.dB, b); err != nil {
		return fmt.Errorf("init array b: %w", err)
	}
	if err := s.backend.Fill(s.dC, c); err != nil {
		return fmt.Errorf("init array c: %w", err)
	}
	return nil
}

func (s *DeviceStream[T]) Copy() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.Copy(s.dC, s.dA); err != nil {
		return fmt.Errorf("copy kernel: %w", err)
	}
	return nil
}

func (s *DeviceStream[T]) Mul() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.Scale(s.dB, s.dC, T(Scalar)); err != nil {
		return fmt.Errorf("mul kernel: %w", err)
	}
	return nil
}

func (s *DeviceStream[T]) Add() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.Add(s.dC, s.dA, s.dB); err != nil {
		return fmt.Errorf("add kernel: %w", err)
	}
	return nil
}

func (s *DeviceStream[T]) Triad() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.Triad(s.dA, s.dB, s.dC, T(Scalar)); err != nil {
		return fmt.Errorf("triad kernel: %w", err)
	}
	return nil
}

func (s *DeviceStream[T]) Nstream() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.Nstream(s.dA, s.dB, s.dC, T(Scalar)); err != nil {
		return fmt.Errorf("nstream kernel: %w", err)
	}
	return nil
}

// Dot reduces on the device into dotNumBlocks partial sums and finishes the
// sum on the host.
func (s *DeviceStream[T]) Dot() (T, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.backend.DotPartial(s.dSum, s.dA, s.dB, s.blockSize); err != nil {
		return 0, fmt.Errorf("dot kernel: %w", err)
	}
	if err := s.backend.CopyToHost(s.sums, s.dSum); err != nil {
		return 0, fmt.Errorf("read dot partial sums: %w", err)
	}
	var sum T
	for _, v := range s.sums {
		sum += v
	}
	return sum, nil
}

func (s *DeviceStream[T]) ReadArrays(a, b, c []T) error {
	if s.closed {
		return ErrClosed
	}
	for _, host := range []struct {
		name string
		data []T
	}{{"a", a}, {"b", b}, {"c", c}} {
		if len(host.data) != s.arraySize {
			return fmt.Errorf("%w: %s has %d elements, want %d", ErrSizeMismatch, host.name, len(host.data), s.arraySize)
		}
	}
	if err := s.backend.CopyToHost(a, s.dA); err != nil {
		return fmt.Errorf("read array a: %w", err)
	}
	if err := s.backend.CopyToHost(b, s.dB); err != nil {
		return fmt.Errorf("read array b: %w", err)
	}
	if err := s.backend.CopyToHost(c, s.dC); err != nil {
		return fmt.Errorf("read array c: %w", err)
	}
	return nil
}

// Close frees the device arrays and, when New opened the backend, cleans the
// backend up. Every failure is logged; the combined error is returned.
func (s *DeviceStream[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.release()
}

func (s *DeviceStream[T]) release() error {
	var errs error
	for _, buf := range []struct {
		name string
		ptr  *gpu.Buffer
	}{{"a", &s.dA}, {"b", &s.dB}, {"c", &s.dC}, {"sum", &s.dSum}} {
		if *buf.ptr == nil {
			continue
		}
		if err := s.backend.Free(*buf.ptr); err != nil {
			s.logger.Error("failed to free device array", zap.String("array", buf.name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("free device array %s: %w", buf.name, err))
		}
		*buf.ptr = nil
	}
	s.sums = nil

	if s.ownsBackend {
		if err := s.backend.Cleanup(); err != nil {
			s.logger.Error("failed to clean up backend", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("clean up %s backend: %w", s.backend.Name(), err))
		}
	}
	return errs
}
