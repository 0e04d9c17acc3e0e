//go:build cuda
// +build cuda

package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCUDABackend(t *testing.T) *CUDABackend[float64] {
	t.Helper()
	backend := NewCUDABackend[float64](zap.NewNop(), 0)
	if !backend.IsAvailable() {
		t.Skip("CUDA not available on this system")
	}
	require.NoError(t, backend.Initialize())
	t.Cleanup(func() { _ = backend.Cleanup() })
	return backend
}

func TestCUDABackend_Initialize(t *testing.T) {
	backend := newTestCUDABackend(t)
	assert.True(t, backend.initialized)

	info := backend.GetDeviceInfo()
	assert.NotEmpty(t, info.Name)
	assert.Greater(t, info.TotalMemory, int64(0))
	assert.NotEmpty(t, info.ComputeCapability)

	// Test double initialization (should be idempotent)
	assert.NoError(t, backend.Initialize())
}

func TestCUDABackend_Kernels(t *testing.T) {
	backend := newTestCUDABackend(t)
	const n = 5000

	alloc := func(v float64) Buffer {
		buf, err := backend.Allocate(n)
		require.NoError(t, err)
		require.NoError(t, backend.Fill(buf, v))
		return buf
	}
	read := func(buf Buffer) []float64 {
		out := make([]float64, n)
		require.NoError(t, backend.CopyToHost(out, buf))
		return out
	}

	a, b, c := alloc(0.1), alloc(0.2), alloc(0.0)
	defer func() {
		_ = backend.Free(a)
		_ = backend.Free(b)
		_ = backend.Free(c)
	}()

	require.NoError(t, backend.Copy(c, a))
	require.NoError(t, backend.Scale(b, c, 0.4))
	require.NoError(t, backend.Add(c, a, b))
	require.NoError(t, backend.Triad(a, b, c, 0.4))

	gotA, gotB, gotC := read(a), read(b), read(c)
	for i := 0; i < n; i++ {
		assert.InDelta(t, 0.04+0.4*0.14, gotA[i], 1e-12)
		assert.InDelta(t, 0.04, gotB[i], 1e-12)
		assert.InDelta(t, 0.14, gotC[i], 1e-12)
	}

	partial, err := backend.Allocate(4)
	require.NoError(t, err)
	defer backend.Free(partial)
	require.NoError(t, backend.DotPartial(partial, a, b, 256))

	var sum float64
	for _, s := range readPartial(t, backend, partial) {
		sum += s
	}
	assert.InDelta(t, gotA[0]*gotB[0]*n, sum, 1e-9)
}

func TestCUDABackend_OutOfMemory(t *testing.T) {
	backend := newTestCUDABackend(t)
	info := backend.GetDeviceInfo()

	_, err := backend.Allocate(int(info.TotalMemory/8) + 1)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func readPartial(t *testing.T, backend *CUDABackend[float64], buf Buffer) []float64 {
	out := make([]float64, buf.Len())
	require.NoError(t, backend.CopyToHost(out, buf))
	return out
}
