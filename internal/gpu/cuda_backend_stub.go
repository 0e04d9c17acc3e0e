//go:build !cuda
// +build !cuda

package gpu

import "go.uber.org/zap"

// CUDABackend is a stub type when CUDA is not compiled in
type CUDABackend[T Float] struct {
	logger *zap.Logger
	device int
}

// NewCUDABackend returns a backend that always reports itself unavailable
func NewCUDABackend[T Float](logger *zap.Logger, device int) *CUDABackend[T] {
	return &CUDABackend[T]{logger: logger, device: device}
}

// ListCUDADevices returns no devices without the cuda build tag
func ListCUDADevices(logger *zap.Logger) []DeviceInfo {
	return nil
}

// Stub implementations to satisfy the Backend interface
func (c *CUDABackend[T]) Name() string { return "CUDA" }

func (c *CUDABackend[T]) GetDeviceInfo() DeviceInfo {
	return DeviceInfo{Index: c.device, Name: "CUDA not available", Backend: "cuda"}
}

func (c *CUDABackend[T]) IsAvailable() bool { return false }

func (c *CUDABackend[T]) Initialize() error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) Cleanup() error { return nil }

func (c *CUDABackend[T]) Allocate(n int) (Buffer, error) { return nil, ErrBackendUnavailable }

func (c *CUDABackend[T]) Free(buf Buffer) error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) CopyFromHost(dst Buffer, src []T) error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) CopyToHost(dst []T, src Buffer) error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) Fill(dst Buffer, v T) error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) Copy(dst, src Buffer) error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) Scale(dst, src Buffer, scalar T) error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) Add(dst, a, b Buffer) error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) Triad(dst, b, cc Buffer, scalar T) error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) Nstream(dst, b, cc Buffer, scalar T) error { return ErrBackendUnavailable }

func (c *CUDABackend[T]) ValidateBlockSize(n int) error { return CheckBlockSize(n) }

func (c *CUDABackend[T]) DotPartial(partial, a, b Buffer, blockSize int) error {
	return ErrBackendUnavailable
}
