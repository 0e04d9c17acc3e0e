// Package stream implements the STREAM bandwidth kernels over device-resident
// arrays.
package stream

import (
	"errors"

	"github.com/fxnlabs/gpustream/internal/gpu"
)

const (
	// Scalar is the constant used by mul, triad and nstream.
	Scalar = 0.4

	// Initial values written by the benchmark driver.
	StartA = 0.1
	StartB = 0.2
	StartC = 0.0

	// DefaultArraySize is 2^25 elements.
	DefaultArraySize = 1 << 25

	// DefaultBlockSize is the threads-per-block of the reduction kernel.
	DefaultBlockSize = 1024

	// DefaultDotBlocks is the upper bound on partial sums produced by Dot.
	DefaultDotBlocks = 256
)

var (
	ErrInvalidArraySize = errors.New("array size must be positive")
	ErrSizeMismatch     = errors.New("host array size does not match stream array size")
	ErrClosed           = errors.New("stream is closed")
)

// Stream is the fixed set of bandwidth kernels a benchmark driver runs. All
// kernels operate in place on arrays A, B and C owned by the implementation.
//
// Calls must be serialized by the caller; each call returns once the device
// work has completed.
type Stream[T gpu.Float] interface {
	// InitArrays sets every element of A, B and C to a, b and c.
	InitArrays(a, b, c T) error

	// Copy computes C = A.
	Copy() error

	// Mul computes B = Scalar * C.
	Mul() error

	// Add computes C = A + B.
	Add() error

	// Triad computes A = B + Scalar * C.
	Triad() error

	// Nstream computes A = A + B + Scalar * C.
	Nstream() error

	// Dot returns the inner product of A and B without modifying them.
	Dot() (T, error)

	// ReadArrays copies A, B and C into a, b and c, which must each hold
	// exactly ArraySize elements.
	ReadArrays(a, b, c []T) error

	// ArraySize returns the length shared by A, B and C.
	ArraySize() int

	// Implementation names the device technology, e.g. "CPU".
	Implementation() string

	// DeviceInfo describes the device the arrays live on.
	DeviceInfo() gpu.DeviceInfo

	// Close releases the device arrays. It is safe to call more than once.
	Close() error
}
