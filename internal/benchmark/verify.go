package benchmark

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/fxnlabs/gpustream/internal/stream"
	"gonum.org/v1/gonum/floats"
)

// ErrValidation is returned by Verification.Err when device results disagree
// with the gold values.
var ErrValidation = errors.New("validation failed")

// Verification compares the arrays left on the device with the values
// obtained by replaying the kernels on scalars.
type Verification struct {
	GoldA, GoldB, GoldC, GoldSum float64

	// ErrA, ErrB and ErrC are mean absolute errors.
	ErrA, ErrB, ErrC float64

	// ErrSum is the relative error of the dot product. It is only checked
	// when CheckSum is set.
	ErrSum   float64
	CheckSum bool

	// Epsilon is the tolerance applied to ErrA, ErrB and ErrC;
	// SumTolerance to ErrSum.
	Epsilon      float64
	SumTolerance float64

	Failures []string
}

// OK reports whether every check passed.
func (v Verification) OK() bool {
	return len(v.Failures) == 0
}

// Err returns nil when the results verified, or an error wrapping
// ErrValidation that lists each failure.
func (v Verification) Err() error {
	if v.OK() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(v.Failures, "; "))
}

// Verify checks a, b and c, and for ModeAll the dot product sum, against the
// gold values for numTimes iterations of mode starting from the stream start
// values.
func Verify[T gpu.Float](a, b, c []T, sum T, mode Mode, numTimes int) Verification {
	return VerifyKernels(a, b, c, sum, mode.Kernels(), numTimes)
}

// VerifyKernels checks the arrays left by numTimes iterations of kernels, in
// order, starting from the stream start values. The sum is checked only when
// Dot is among the kernels.
func VerifyKernels[T gpu.Float](a, b, c []T, sum T, kernels []Kernel, numTimes int) Verification {
	goldA, goldB, goldC := T(stream.StartA), T(stream.StartB), T(stream.StartC)
	scalar := T(stream.Scalar)
	n := len(a)
	checkSum := slices.Contains(kernels, KernelDot)

	for i := 0; i < numTimes; i++ {
		for _, k := range kernels {
			switch k {
			case KernelCopy:
				goldC = goldA
			case KernelMul:
				goldB = scalar * goldC
			case KernelAdd:
				goldC = goldA + goldB
			case KernelTriad:
				goldA = goldB + scalar*goldC
			case KernelNstream:
				goldA += goldB + scalar*goldC
			}
		}
	}
	goldSum := goldA * goldB * T(n)

	v := Verification{
		GoldA:        float64(goldA),
		GoldB:        float64(goldB),
		GoldC:        float64(goldC),
		GoldSum:      float64(goldSum),
		ErrA:         meanAbsError(a, goldA),
		ErrB:         meanAbsError(b, goldB),
		ErrC:         meanAbsError(c, goldC),
		CheckSum:     checkSum,
		Epsilon:      epsilon[T]() * 100,
		SumTolerance: sumTolerance[T](),
	}

	for _, check := range []struct {
		name string
		err  float64
		gold float64
	}{{"a", v.ErrA, v.GoldA}, {"b", v.ErrB, v.GoldB}, {"c", v.ErrC, v.GoldC}} {
		if check.err > v.Epsilon || math.IsNaN(check.err) {
			v.Failures = append(v.Failures, fmt.Sprintf(
				"average error on array %s: %g (expected %g, tolerance %g)",
				check.name, check.err, check.gold, v.Epsilon))
		}
	}

	if v.CheckSum {
		v.ErrSum = math.Abs(float64(sum) - v.GoldSum)
		if v.GoldSum != 0 {
			v.ErrSum /= math.Abs(v.GoldSum)
		}
		if v.ErrSum > v.SumTolerance || math.IsNaN(v.ErrSum) {
			v.Failures = append(v.Failures, fmt.Sprintf(
				"relative error on sum: %g (got %g, expected %g, tolerance %g)",
				v.ErrSum, float64(sum), v.GoldSum, v.SumTolerance))
		}
	}

	return v
}

// meanAbsError returns the mean of |x - gold| over values.
func meanAbsError[T gpu.Float](values []T, gold T) float64 {
	if len(values) == 0 {
		return 0
	}
	diff := gpu.ToFloat64(values)
	floats.AddConst(-float64(gold), diff)
	return floats.Norm(diff, 1) / float64(len(diff))
}

// epsilon is the machine epsilon of T.
func epsilon[T gpu.Float]() float64 {
	if gpu.ElementSize[T]() == 4 {
		return float64(math.Nextafter32(1, 2) - 1)
	}
	return math.Nextafter(1, 2) - 1
}

// sumTolerance is the largest relative dot product error accepted for T.
func sumTolerance[T gpu.Float]() float64 {
	if gpu.ElementSize[T]() == 4 {
		return 1.0e-3
	}
	return 1.0e-8
}
