package gpu

import (
	"fmt"
	"unsafe"
)

// MaxThreadsPerBlock is the widest thread block a CUDA launch accepts.
const MaxThreadsPerBlock = 1024

// ElementSize returns the size of T in bytes.
func ElementSize[T Float]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// PrecisionName returns "float" or "double" depending on the width of T.
func PrecisionName[T Float]() string {
	if ElementSize[T]() == 4 {
		return "float"
	}
	return "double"
}

// ToFloat64 converts a slice of T to float64
func ToFloat64[T Float](input []T) []float64 {
	output := make([]float64, len(input))
	for i, v := range input {
		output[i] = float64(v)
	}
	return output
}

// FromFloat64 converts a slice of float64 to T
func FromFloat64[T Float](input []float64) []T {
	output := make([]T, len(input))
	for i, v := range input {
		output[i] = T(v)
	}
	return output
}

// NumBlocks returns how many blocks of blockSize cover n elements.
func NumBlocks(n, blockSize int) int {
	if blockSize <= 0 {
		return 0
	}
	return (n + blockSize - 1) / blockSize
}

// CheckBlockSize rejects reduction block widths a CUDA device cannot launch:
// the shared-memory tree reduction needs a power of two no larger than
// MaxThreadsPerBlock.
func CheckBlockSize(n int) error {
	if n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("%w: %d is not a positive power of two", ErrInvalidBlockSize, n)
	}
	if n > MaxThreadsPerBlock {
		return fmt.Errorf("%w: %d exceeds %d threads per block", ErrInvalidBlockSize, n, MaxThreadsPerBlock)
	}
	return nil
}

// fits reports whether n elements of elemSize bytes fit in avail bytes. It
// never multiplies, so huge n cannot overflow into a small request.
func fits(n, elemSize int, avail int64) bool {
	if avail <= 0 {
		return false
	}
	return int64(n) <= avail/int64(elemSize)
}
