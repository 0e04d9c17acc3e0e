package gpu

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/pbnjay/memory"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest slice of work handed to a worker. Smaller kernels
// run on the calling goroutine.
const minChunk = 1 << 14

// CPUOption configures a CPUBackend.
type CPUOption func(*cpuConfig)

type cpuConfig struct {
	memoryLimit int64
	workers     int
}

// WithMemoryLimit caps the bytes the CPU device may allocate. Zero means the
// free system memory at initialization.
func WithMemoryLimit(bytes int64) CPUOption {
	return func(c *cpuConfig) {
		c.memoryLimit = bytes
	}
}

// WithWorkers sets the number of goroutines kernels are split across.
func WithWorkers(n int) CPUOption {
	return func(c *cpuConfig) {
		c.workers = n
	}
}

type cpuBuffer[T Float] struct {
	data []T
}

func (b *cpuBuffer[T]) Len() int {
	return len(b.data)
}

// CPUBackend implements Backend on host memory. It treats a capped arena of
// host memory as device memory and runs kernels across a fixed set of worker
// goroutines.
type CPUBackend[T Float] struct {
	logger      *zap.Logger
	cfg         cpuConfig
	initialized bool

	mu    sync.Mutex
	limit int64
	used  int64
	live  map[*cpuBuffer[T]]struct{}
}

// NewCPUBackend creates a new CPU backend instance
func NewCPUBackend[T Float](logger *zap.Logger, opts ...CPUOption) *CPUBackend[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := cpuConfig{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	return &CPUBackend[T]{
		logger: logger.Named("cpu"),
		cfg:    cfg,
		live:   make(map[*cpuBuffer[T]]struct{}),
	}
}

func (c *CPUBackend[T]) Name() string {
	return "CPU"
}

// Initialize prepares the CPU backend for use
func (c *CPUBackend[T]) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	c.limit = c.cfg.memoryLimit
	if c.limit <= 0 {
		c.limit = int64(memory.FreeMemory())
	}
	if c.limit <= 0 {
		c.limit = int64(memory.TotalMemory())
	}
	c.initialized = true
	c.logger.Info("CPU backend initialized",
		zap.Int("workers", c.cfg.workers),
		zap.Int64("memory_limit_mb", c.limit/(1<<20)))
	return nil
}

// Cleanup releases the arena. Buffers still live at this point are dropped
// and reported as an error.
func (c *CPUBackend[T]) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil
	}
	leaked := len(c.live)
	c.live = make(map[*cpuBuffer[T]]struct{})
	c.used = 0
	c.initialized = false
	if leaked > 0 {
		c.logger.Warn("CPU backend cleaned up with live buffers", zap.Int("buffers", leaked))
		return fmt.Errorf("%d device buffers still allocated at cleanup", leaked)
	}
	return nil
}

// IsAvailable checks if the backend is available (always true for CPU)
func (c *CPUBackend[T]) IsAvailable() bool {
	return true
}

// GetDeviceInfo returns device information for CPU
func (c *CPUBackend[T]) GetDeviceInfo() DeviceInfo {
	c.mu.Lock()
	available := c.limit - c.used
	c.mu.Unlock()
	return DeviceInfo{
		Index:             0,
		Name:              fmt.Sprintf("CPU (%s, %d workers)", runtime.GOARCH, c.cfg.workers),
		Backend:           "cpu",
		TotalMemory:       int64(memory.TotalMemory()),
		AvailableMemory:   available,
		ComputeCapability: "N/A",
		DriverVersion:     runtime.Version(),
	}
}

// Used returns the bytes currently allocated on the device.
func (c *CPUBackend[T]) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *CPUBackend[T]) Allocate(n int) (Buffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: cannot allocate %d elements", ErrInvalidBuffer, n)
	}
	elem := ElementSize[T]()

	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if !fits(n, elem, c.limit-c.used) {
		used, limit := c.used, c.limit
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: requested %d elements of %d bytes, %d of %d bytes in use", ErrOutOfMemory, n, elem, used, limit)
	}
	bytes := int64(n) * int64(elem)
	c.used += bytes
	c.mu.Unlock()

	data, err := makeHost[T](n)
	if err != nil {
		c.mu.Lock()
		c.used -= bytes
		c.mu.Unlock()
		return nil, err
	}
	buf := &cpuBuffer[T]{data: data}

	c.mu.Lock()
	c.live[buf] = struct{}{}
	c.mu.Unlock()

	c.logger.Debug("allocated device buffer", zap.Int("elements", n), zap.Int64("bytes", bytes))
	return buf, nil
}

func (c *CPUBackend[T]) Free(buf Buffer) error {
	b, err := c.buffer(buf)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.live, b)
	c.used -= int64(len(b.data)) * int64(ElementSize[T]())
	c.mu.Unlock()
	b.data = nil
	return nil
}

func (c *CPUBackend[T]) CopyFromHost(dst Buffer, src []T) error {
	d, err := c.buffer(dst)
	if err != nil {
		return err
	}
	if len(src) != len(d.data) {
		return fmt.Errorf("%w: host %d, device %d", ErrLengthMismatch, len(src), len(d.data))
	}
	return c.parallel(len(src), func(lo, hi int) {
		copy(d.data[lo:hi], src[lo:hi])
	})
}

func (c *CPUBackend[T]) CopyToHost(dst []T, src Buffer) error {
	s, err := c.buffer(src)
	if err != nil {
		return err
	}
	if len(dst) != len(s.data) {
		return fmt.Errorf("%w: host %d, device %d", ErrLengthMismatch, len(dst), len(s.data))
	}
	return c.parallel(len(dst), func(lo, hi int) {
		copy(dst[lo:hi], s.data[lo:hi])
	})
}

func (c *CPUBackend[T]) Fill(dst Buffer, v T) error {
	d, err := c.buffer(dst)
	if err != nil {
		return err
	}
	return c.parallel(len(d.data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			d.data[i] = v
		}
	})
}

func (c *CPUBackend[T]) Copy(dst, src Buffer) error {
	bufs, err := c.buffers(dst, src)
	if err != nil {
		return err
	}
	d, s := bufs[0].data, bufs[1].data
	return c.parallel(len(d), func(lo, hi int) {
		copy(d[lo:hi], s[lo:hi])
	})
}

func (c *CPUBackend[T]) Scale(dst, src Buffer, scalar T) error {
	bufs, err := c.buffers(dst, src)
	if err != nil {
		return err
	}
	d, s := bufs[0].data, bufs[1].data
	return c.parallel(len(d), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			d[i] = scalar * s[i]
		}
	})
}

func (c *CPUBackend[T]) Add(dst, a, b Buffer) error {
	bufs, err := c.buffers(dst, a, b)
	if err != nil {
		return err
	}
	d, x, y := bufs[0].data, bufs[1].data, bufs[2].data
	return c.parallel(len(d), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			d[i] = x[i] + y[i]
		}
	})
}

func (c *CPUBackend[T]) Triad(dst, b, cc Buffer, scalar T) error {
	bufs, err := c.buffers(dst, b, cc)
	if err != nil {
		return err
	}
	d, x, y := bufs[0].data, bufs[1].data, bufs[2].data
	return c.parallel(len(d), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			d[i] = x[i] + scalar*y[i]
		}
	})
}

func (c *CPUBackend[T]) Nstream(dst, b, cc Buffer, scalar T) error {
	bufs, err := c.buffers(dst, b, cc)
	if err != nil {
		return err
	}
	d, x, y := bufs[0].data, bufs[1].data, bufs[2].data
	return c.parallel(len(d), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			d[i] += x[i] + scalar*y[i]
		}
	})
}

func (c *CPUBackend[T]) DotPartial(partial, a, b Buffer, blockSize int) error {
	if blockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	p, err := c.buffer(partial)
	if err != nil {
		return err
	}
	bufs, err := c.buffers(a, b)
	if err != nil {
		return err
	}
	x, y := bufs[0].data, bufs[1].data
	sums := p.data
	n := len(x)
	stride := len(sums) * blockSize

	// One work item per block, so spread blocks over workers directly.
	return c.parallelBlocks(len(sums), func(lo, hi int) {
		for blk := lo; blk < hi; blk++ {
			var sum T
			for base := blk * blockSize; base < n; base += stride {
				end := base + blockSize
				if end > n {
					end = n
				}
				for i := base; i < end; i++ {
					sum += x[i] * y[i]
				}
			}
			sums[blk] = sum
		}
	})
}

// buffer resolves a handle to one of this backend's live buffers.
func (c *CPUBackend[T]) buffer(buf Buffer) (*cpuBuffer[T], error) {
	b, ok := buf.(*cpuBuffer[T])
	if !ok || b == nil {
		return nil, fmt.Errorf("%w: %T does not belong to the CPU backend", ErrInvalidBuffer, buf)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	if _, live := c.live[b]; !live {
		return nil, fmt.Errorf("%w: buffer already freed", ErrInvalidBuffer)
	}
	return b, nil
}

func (c *CPUBackend[T]) buffers(bufs ...Buffer) ([]*cpuBuffer[T], error) {
	out := make([]*cpuBuffer[T], len(bufs))
	for i, buf := range bufs {
		b, err := c.buffer(buf)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	if err := checkLengths(bufs...); err != nil {
		return nil, err
	}
	return out, nil
}

// parallel splits [0, n) into contiguous chunks of at least minChunk elements
// and runs fn on each chunk concurrently. It returns once every chunk is done.
func (c *CPUBackend[T]) parallel(n int, fn func(lo, hi int)) error {
	chunks := c.cfg.workers
	if want := (n + minChunk - 1) / minChunk; want < chunks {
		chunks = want
	}
	return c.split(n, chunks, fn)
}

// parallelBlocks splits [0, n) across all workers regardless of size.
func (c *CPUBackend[T]) parallelBlocks(n int, fn func(lo, hi int)) error {
	chunks := c.cfg.workers
	if n < chunks {
		chunks = n
	}
	return c.split(n, chunks, fn)
}

func (c *CPUBackend[T]) split(n, chunks int, fn func(lo, hi int)) error {
	if n == 0 {
		return nil
	}
	if chunks <= 1 {
		fn(0, n)
		return nil
	}
	size := (n + chunks - 1) / chunks
	var g errgroup.Group
	for lo := 0; lo < n; lo += size {
		lo, hi := lo, lo+size
		if hi > n {
			hi = n
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("kernel worker panicked on [%d, %d): %v", lo, hi, r)
				}
			}()
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

// makeHost allocates n elements, turning a runtime refusal (a length beyond
// what the Go heap can address) into ErrOutOfMemory.
func makeHost[T Float](n int) (data []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("%w: cannot allocate %d elements: %v", ErrOutOfMemory, n, r)
		}
	}()
	return make([]T, n), nil
}
