//go:build cuda
// +build cuda

package gpu

/*
#cgo CFLAGS: -I${SRCDIR}/../../cuda
#cgo LDFLAGS: -L${SRCDIR}/../../cuda -lgpustream_cuda -lcudart -lstdc++
#include "stream.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"go.uber.org/zap"
)

// threadsPerBlock is the launch width of the element-wise kernels.
const threadsPerBlock = MaxThreadsPerBlock

type cudaBuffer struct {
	ptr unsafe.Pointer
	n   int
}

func (b *cudaBuffer) Len() int {
	return b.n
}

// CUDABackend implements Backend using NVIDIA CUDA
type CUDABackend[T Float] struct {
	logger      *zap.Logger
	device      int
	single      bool
	initialized bool
	available   bool
	deviceInfo  DeviceInfo

	mu   sync.Mutex
	live map[*cudaBuffer]struct{}
}

// NewCUDABackend creates a new CUDA backend instance bound to one device
func NewCUDABackend[T Float](logger *zap.Logger, device int) *CUDABackend[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := &CUDABackend[T]{
		logger: logger.Named("cuda"),
		device: device,
		single: ElementSize[T]() == 4,
		live:   make(map[*cudaBuffer]struct{}),
	}

	if err := backend.checkDevice(); err != nil {
		backend.logger.Warn("CUDA device not available", zap.Int("device", device), zap.Error(err))
		backend.available = false
	} else {
		backend.available = true
	}

	return backend
}

func (c *CUDABackend[T]) Name() string {
	return "CUDA"
}

// Initialize selects the device and reads its properties
func (c *CUDABackend[T]) Initialize() error {
	if !c.available {
		return fmt.Errorf("%w: CUDA device %d", ErrBackendUnavailable, c.device)
	}
	if c.initialized {
		return nil
	}

	if err := cudaError("select device", C.stream_set_device(C.int(c.device))); err != nil {
		return err
	}
	info, err := cudaDeviceInfo(c.device)
	if err != nil {
		return err
	}
	c.deviceInfo = info
	c.initialized = true

	c.logger.Info("CUDA backend initialized",
		zap.String("device", c.deviceInfo.Name),
		zap.String("compute_capability", c.deviceInfo.ComputeCapability),
		zap.Float64("total_memory_gb", float64(c.deviceInfo.TotalMemory)/(1<<30)))
	return nil
}

// Cleanup frees any buffers still live and resets the device
func (c *CUDABackend[T]) Cleanup() error {
	if !c.initialized {
		return nil
	}
	c.mu.Lock()
	leaked := len(c.live)
	for b := range c.live {
		C.stream_free(b.ptr)
	}
	c.live = make(map[*cudaBuffer]struct{})
	c.mu.Unlock()

	c.initialized = false
	if err := cudaError("reset device", C.stream_device_reset()); err != nil {
		return err
	}
	if leaked > 0 {
		return fmt.Errorf("%d device buffers still allocated at cleanup", leaked)
	}
	return nil
}

// IsAvailable checks if the selected CUDA device exists
func (c *CUDABackend[T]) IsAvailable() bool {
	return c.available
}

// GetDeviceInfo returns information about the CUDA device
func (c *CUDABackend[T]) GetDeviceInfo() DeviceInfo {
	return c.deviceInfo
}

func (c *CUDABackend[T]) Allocate(n int) (Buffer, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: cannot allocate %d elements", ErrInvalidBuffer, n)
	}
	if !fits(n, ElementSize[T](), math.MaxInt64) {
		return nil, fmt.Errorf("%w: %d elements overflow the device address space", ErrOutOfMemory, n)
	}
	if n > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d elements exceed the kernel index range", ErrInvalidBuffer, n)
	}
	var ptr unsafe.Pointer
	bytes := C.size_t(n * ElementSize[T]())
	res := C.stream_malloc(&ptr, bytes)
	if res == C.cudaErrorMemoryAllocation {
		return nil, fmt.Errorf("%w: requested %d bytes on device %d", ErrOutOfMemory, uint64(bytes), c.device)
	}
	if err := cudaError("allocate", res); err != nil {
		return nil, err
	}
	buf := &cudaBuffer{ptr: ptr, n: n}
	c.mu.Lock()
	c.live[buf] = struct{}{}
	c.mu.Unlock()
	return buf, nil
}

func (c *CUDABackend[T]) Free(buf Buffer) error {
	b, err := c.buffer(buf)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.live, b)
	c.mu.Unlock()
	return cudaError("free", C.stream_free(b.ptr))
}

func (c *CUDABackend[T]) CopyFromHost(dst Buffer, src []T) error {
	d, err := c.buffer(dst)
	if err != nil {
		return err
	}
	if len(src) != d.n {
		return fmt.Errorf("%w: host %d, device %d", ErrLengthMismatch, len(src), d.n)
	}
	bytes := C.size_t(d.n * ElementSize[T]())
	return cudaError("copy to device", C.stream_memcpy_htod(d.ptr, unsafe.Pointer(&src[0]), bytes))
}

func (c *CUDABackend[T]) CopyToHost(dst []T, src Buffer) error {
	s, err := c.buffer(src)
	if err != nil {
		return err
	}
	if len(dst) != s.n {
		return fmt.Errorf("%w: host %d, device %d", ErrLengthMismatch, len(dst), s.n)
	}
	bytes := C.size_t(s.n * ElementSize[T]())
	return cudaError("copy to host", C.stream_memcpy_dtoh(unsafe.Pointer(&dst[0]), s.ptr, bytes))
}

func (c *CUDABackend[T]) Fill(dst Buffer, v T) error {
	d, err := c.buffer(dst)
	if err != nil {
		return err
	}
	n, tb := C.int(d.n), C.int(threadsPerBlock)
	if c.single {
		return cudaError("fill", C.stream_fill_f32((*C.float)(d.ptr), C.float(v), n, tb))
	}
	return cudaError("fill", C.stream_fill_f64((*C.double)(d.ptr), C.double(v), n, tb))
}

func (c *CUDABackend[T]) Copy(dst, src Buffer) error {
	bufs, err := c.buffers(dst, src)
	if err != nil {
		return err
	}
	d, s := bufs[0], bufs[1]
	n, tb := C.int(d.n), C.int(threadsPerBlock)
	if c.single {
		return cudaError("copy", C.stream_copy_f32((*C.float)(d.ptr), (*C.float)(s.ptr), n, tb))
	}
	return cudaError("copy", C.stream_copy_f64((*C.double)(d.ptr), (*C.double)(s.ptr), n, tb))
}

func (c *CUDABackend[T]) Scale(dst, src Buffer, scalar T) error {
	bufs, err := c.buffers(dst, src)
	if err != nil {
		return err
	}
	d, s := bufs[0], bufs[1]
	n, tb := C.int(d.n), C.int(threadsPerBlock)
	if c.single {
		return cudaError("mul", C.stream_mul_f32((*C.float)(d.ptr), (*C.float)(s.ptr), C.float(scalar), n, tb))
	}
	return cudaError("mul", C.stream_mul_f64((*C.double)(d.ptr), (*C.double)(s.ptr), C.double(scalar), n, tb))
}

func (c *CUDABackend[T]) Add(dst, a, b Buffer) error {
	bufs, err := c.buffers(dst, a, b)
	if err != nil {
		return err
	}
	d, x, y := bufs[0], bufs[1], bufs[2]
	n, tb := C.int(d.n), C.int(threadsPerBlock)
	if c.single {
		return cudaError("add", C.stream_add_f32((*C.float)(d.ptr), (*C.float)(x.ptr), (*C.float)(y.ptr), n, tb))
	}
	return cudaError("add", C.stream_add_f64((*C.double)(d.ptr), (*C.double)(x.ptr), (*C.double)(y.ptr), n, tb))
}

func (c *CUDABackend[T]) Triad(dst, b, cc Buffer, scalar T) error {
	bufs, err := c.buffers(dst, b, cc)
	if err != nil {
		return err
	}
	d, x, y := bufs[0], bufs[1], bufs[2]
	n, tb := C.int(d.n), C.int(threadsPerBlock)
	if c.single {
		return cudaError("triad", C.stream_triad_f32((*C.float)(d.ptr), (*C.float)(x.ptr), (*C.float)(y.ptr), C.float(scalar), n, tb))
	}
	return cudaError("triad", C.stream_triad_f64((*C.double)(d.ptr), (*C.double)(x.ptr), (*C.double)(y.ptr), C.double(scalar), n, tb))
}

func (c *CUDABackend[T]) Nstream(dst, b, cc Buffer, scalar T) error {
	bufs, err := c.buffers(dst, b, cc)
	if err != nil {
		return err
	}
	d, x, y := bufs[0], bufs[1], bufs[2]
	n, tb := C.int(d.n), C.int(threadsPerBlock)
	if c.single {
		return cudaError("nstream", C.stream_nstream_f32((*C.float)(d.ptr), (*C.float)(x.ptr), (*C.float)(y.ptr), C.float(scalar), n, tb))
	}
	return cudaError("nstream", C.stream_nstream_f64((*C.double)(d.ptr), (*C.double)(x.ptr), (*C.double)(y.ptr), C.double(scalar), n, tb))
}

// ValidateBlockSize checks a reduction block width before any kernel runs.
func (c *CUDABackend[T]) ValidateBlockSize(n int) error {
	return CheckBlockSize(n)
}

func (c *CUDABackend[T]) DotPartial(partial, a, b Buffer, blockSize int) error {
	if err := CheckBlockSize(blockSize); err != nil {
		return err
	}
	p, err := c.buffer(partial)
	if err != nil {
		return err
	}
	bufs, err := c.buffers(a, b)
	if err != nil {
		return err
	}
	x, y := bufs[0], bufs[1]
	n, blocks, tb := C.int(x.n), C.int(p.n), C.int(blockSize)
	if c.single {
		return cudaError("dot", C.stream_dot_f32((*C.float)(p.ptr), (*C.float)(x.ptr), (*C.float)(y.ptr), n, blocks, tb))
	}
	return cudaError("dot", C.stream_dot_f64((*C.double)(p.ptr), (*C.double)(x.ptr), (*C.double)(y.ptr), n, blocks, tb))
}

func (c *CUDABackend[T]) buffer(buf Buffer) (*cudaBuffer, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	b, ok := buf.(*cudaBuffer)
	if !ok || b == nil {
		return nil, fmt.Errorf("%w: %T does not belong to the CUDA backend", ErrInvalidBuffer, buf)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, live := c.live[b]; !live {
		return nil, fmt.Errorf("%w: buffer already freed", ErrInvalidBuffer)
	}
	return b, nil
}

func (c *CUDABackend[T]) buffers(bufs ...Buffer) ([]*cudaBuffer, error) {
	out := make([]*cudaBuffer, len(bufs))
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

// checkDevice verifies the configured device index exists
func (c *CUDABackend[T]) checkDevice() error {
	var count C.int
	if err := cudaError("device count", C.stream_device_count(&count)); err != nil {
		return err
	}
	if c.device < 0 || c.device >= int(count) {
		return fmt.Errorf("invalid device index %d, %d CUDA devices present", c.device, int(count))
	}
	return nil
}

// ListCUDADevices enumerates the CUDA devices visible to the process
func ListCUDADevices(logger *zap.Logger) []DeviceInfo {
	var count C.int
	if err := cudaError("device count", C.stream_device_count(&count)); err != nil {
		logger.Debug("no CUDA devices", zap.Error(err))
		return nil
	}
	devices := make([]DeviceInfo, 0, int(count))
	for i := 0; i < int(count); i++ {
		info, err := cudaDeviceInfo(i)
		if err != nil {
			logger.Warn("failed to query CUDA device", zap.Int("device", i), zap.Error(err))
			continue
		}
		devices = append(devices, info)
	}
	return devices
}

func cudaDeviceInfo(index int) (DeviceInfo, error) {
	var info C.StreamDeviceInfo
	if err := cudaError("device info", C.stream_device_info(C.int(index), &info)); err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		Index:             index,
		Name:              C.GoString(&info.name[0]),
		Backend:           "cuda",
		TotalMemory:       int64(info.total_memory),
		AvailableMemory:   int64(info.free_memory),
		ComputeCapability: fmt.Sprintf("%d.%d", int(info.major), int(info.minor)),
		DriverVersion:     cudaVersionString(int(info.driver_version)),
		CUDAVersion:       cudaVersionString(int(info.runtime_version)),
	}, nil
}

// cudaVersionString formats the 1000*major + 10*minor encoding CUDA uses.
func cudaVersionString(v int) string {
	return fmt.Sprintf("%d.%d", v/1000, (v%1000)/10)
}

// cudaError converts a CUDA status into a Go error
func cudaError(op string, err C.cudaError_t) error {
	if err == C.cudaSuccess {
		return nil
	}
	return fmt.Errorf("CUDA %s failed: %s", op, cudaErrorString(err))
}

// cudaErrorString converts CUDA error code to string
func cudaErrorString(err C.cudaError_t) string {
	switch err {
	case C.cudaErrorInvalidValue:
		return "Invalid value"
	case C.cudaErrorMemoryAllocation:
		return "Memory allocation failed"
	case C.cudaErrorInitializationError:
		return "Initialization error"
	case C.cudaErrorInsufficientDriver:
		return "Insufficient driver"
	case C.cudaErrorNoDevice:
		return "No CUDA device"
	case C.cudaErrorInvalidDevice:
		return "Invalid device"
	case C.cudaErrorLaunchFailure:
		return "Kernel launch failure"
	default:
		return fmt.Sprintf("Unknown error (%d)", int(err))
	}
}
