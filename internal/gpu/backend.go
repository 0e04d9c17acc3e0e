package gpu

import (
	"errors"
	"fmt"
)

var (
	ErrBackendUnavailable = errors.New("backend not available")
	ErrNotInitialized     = errors.New("backend not initialized")
	ErrOutOfMemory        = errors.New("out of device memory")
	ErrInvalidBuffer      = errors.New("invalid device buffer")
	ErrLengthMismatch     = errors.New("buffer length mismatch")
	ErrInvalidBlockSize   = errors.New("invalid block size")
)

// Float is the set of element types the stream kernels are compiled for.
type Float interface {
	~float32 | ~float64
}

// DeviceInfo contains information about a compute device
type DeviceInfo struct {
	Index             int    `json:"index"`
	Name              string `json:"name"`
	Backend           string `json:"backend"`
	TotalMemory       int64  `json:"totalMemory"`     // in bytes
	AvailableMemory   int64  `json:"availableMemory"` // in bytes
	ComputeCapability string `json:"computeCapability"`
	DriverVersion     string `json:"driverVersion"`
	CUDAVersion       string `json:"cudaVersion,omitempty"`
}

// Buffer is an opaque handle to device-resident memory. Buffers are only
// meaningful to the backend that allocated them.
type Buffer interface {
	// Len returns the number of elements the buffer holds.
	Len() int
}

// BlockSizeValidator is implemented by backends whose reduction kernel only
// accepts some thread-block widths.
type BlockSizeValidator interface {
	ValidateBlockSize(n int) error
}

// Backend defines the device memory-management and kernel-launch surface
// used by the stream harness. One implementation exists per device technology
// (CPU, CUDA).
//
// Implementation notes:
//   - Every call is synchronous: it returns once the device work is complete.
//   - Backends are not required to be safe for concurrent kernel launches on
//     the same buffers; callers serialize.
//   - Buffers must be released with Free before Cleanup; Cleanup reports any
//     buffers that are still live.
type Backend[T Float] interface {
	// Name returns a short implementation name used in reports ("CPU", "CUDA").
	Name() string

	// GetDeviceInfo returns information about the selected device.
	GetDeviceInfo() DeviceInfo

	// IsAvailable performs a quick check without heavy initialization.
	IsAvailable() bool

	// Initialize selects the device and prepares the backend for use.
	// Calling it more than once is a no-op.
	Initialize() error

	// Cleanup releases the device context.
	Cleanup() error

	// Allocate reserves device memory for n elements. It fails with
	// ErrOutOfMemory when the device cannot hold the allocation.
	Allocate(n int) (Buffer, error)

	// Free releases a buffer returned by Allocate.
	Free(buf Buffer) error

	// CopyFromHost copies src into the device buffer dst.
	CopyFromHost(dst Buffer, src []T) error

	// CopyToHost copies the device buffer src into dst.
	CopyToHost(dst []T, src Buffer) error

	// Fill sets every element of dst to v.
	Fill(dst Buffer, v T) error

	// Copy computes dst[i] = src[i].
	Copy(dst, src Buffer) error

	// Scale computes dst[i] = scalar * src[i].
	Scale(dst, src Buffer, scalar T) error

	// Add computes dst[i] = a[i] + b[i].
	Add(dst, a, b Buffer) error

	// Triad computes dst[i] = b[i] + scalar * c[i].
	Triad(dst, b, c Buffer, scalar T) error

	// Nstream computes dst[i] += b[i] + scalar * c[i].
	Nstream(dst, b, c Buffer, scalar T) error

	// DotPartial writes one partial inner product of a and b per element of
	// partial. Block j covers the tiles starting at j*blockSize, stepping by
	// partial.Len()*blockSize, so the host finishes the reduction by summing
	// partial.
	DotPartial(partial, a, b Buffer, blockSize int) error
}

// checkLengths verifies that all buffers hold the same number of elements.
func checkLengths(bufs ...Buffer) error {
	if len(bufs) == 0 {
		return nil
	}
	n := bufs[0].Len()
	for _, b := range bufs[1:] {
		if b.Len() != n {
			return fmt.Errorf("%w: %d and %d elements", ErrLengthMismatch, n, b.Len())
		}
	}
	return nil
}
