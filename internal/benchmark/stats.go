package benchmark

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the timings of one kernel. The first iteration is treated
// as warm-up and left out.
type Stats struct {
	Kernel Kernel
	Bytes  int64

	// Min, Max and Mean are in seconds.
	Min  float64
	Max  float64
	Mean float64

	// Bandwidth is Bytes / Min, in bytes per second.
	Bandwidth float64
}

// Summarize computes Stats from per-iteration timings in seconds.
func Summarize(k Kernel, samples []float64, bytes int64) Stats {
	st := Stats{Kernel: k, Bytes: bytes}
	if len(samples) > 1 {
		samples = samples[1:]
	}
	if len(samples) == 0 {
		return st
	}
	st.Min = floats.Min(samples)
	st.Max = floats.Max(samples)
	st.Mean = stat.Mean(samples, nil)
	if st.Min > 0 {
		st.Bandwidth = float64(bytes) / st.Min
	}
	return st
}
