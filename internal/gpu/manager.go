package gpu

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Kind selects a backend implementation.
type Kind string

const (
	KindAuto Kind = "auto"
	KindCPU  Kind = "cpu"
	KindCUDA Kind = "cuda"
)

// ParseKind converts a configuration string into a Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindAuto:
		return KindAuto, nil
	case KindCPU, KindCUDA:
		return k, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want auto, cpu or cuda)", s)
	}
}

// NewBackend creates and initializes a backend of the requested kind on the
// given device. KindAuto tries CUDA first and falls back to the CPU backend.
// The CPU options are ignored by the CUDA backend.
func NewBackend[T Float](kind Kind, device int, logger *zap.Logger, opts ...CPUOption) (Backend[T], error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch kind {
	case KindCUDA:
		cuda := NewCUDABackend[T](logger, device)
		if !cuda.IsAvailable() {
			return nil, fmt.Errorf("%w: CUDA device %d", ErrBackendUnavailable, device)
		}
		if err := cuda.Initialize(); err != nil {
			_ = cuda.Cleanup()
			return nil, fmt.Errorf("failed to initialize CUDA backend: %w", err)
		}
		return cuda, nil

	case KindAuto, "":
		// Try CUDA first (only usable if the cuda build tag is enabled)
		cuda := NewCUDABackend[T](logger, device)
		if cuda.IsAvailable() {
			err := cuda.Initialize()
			if err == nil {
				logger.Info("Using CUDA GPU backend", zap.Int("device", device))
				return cuda, nil
			}
			// If initialization failed, try cleanup
			logger.Warn("CUDA initialization failed, falling back to CPU", zap.Error(err))
			_ = cuda.Cleanup()
		}
		logger.Info("Using CPU backend (no GPU available)")
		fallthrough

	case KindCPU:
		if device != 0 {
			return nil, fmt.Errorf("invalid device index %d for the CPU backend", device)
		}
		cpu := NewCPUBackend[T](logger, opts...)
		if err := cpu.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to initialize CPU backend: %w", err)
		}
		return cpu, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

// ListDevices returns every device a backend can be opened on: the CUDA
// devices when compiled in, followed by the CPU device.
func ListDevices(logger *zap.Logger) []DeviceInfo {
	if logger == nil {
		logger = zap.NewNop()
	}
	devices := ListCUDADevices(logger)
	cpu := NewCPUBackend[float64](logger)
	if err := cpu.Initialize(); err == nil {
		devices = append(devices, cpu.GetDeviceInfo())
		_ = cpu.Cleanup()
	}
	return devices
}

// BackendType returns a string describing the backend type
func BackendType[T Float](b Backend[T]) string {
	switch b.(type) {
	case nil:
		return "none"
	case *CPUBackend[T]:
		return string(KindCPU)
	case *CUDABackend[T]:
		return string(KindCUDA)
	default:
		return "unknown"
	}
}
