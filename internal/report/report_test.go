package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fxnlabs/gpustream/internal/benchmark"
	"github.com/fxnlabs/gpustream/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *benchmark.Result {
	return &benchmark.Result{
		Implementation: "CPU",
		Device:         gpu.DeviceInfo{Name: "Host CPU", Backend: "cpu"},
		Precision:      "double",
		ArraySize:      1000000,
		ElementSize:    8,
		NumTimes:       3,
		Mode:           benchmark.ModeTriad,
		Timings: map[benchmark.Kernel][]float64{
			// 24 MB moved per triad; 0.012 s is the fastest timed run
			benchmark.KernelTriad: {1.0, 0.012, 0.024},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "table": FormatTable, "CSV": FormatCSV, "json": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestHeader(t *testing.T) {
	t.Run("decimal units", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Header(&buf, "CPU", "double", 1<<25, 8, 100, Options{}))

		output := buf.String()
		assert.Contains(t, output, "Implementation: CPU")
		assert.Contains(t, output, "Running kernels 100 times")
		assert.Contains(t, output, "Precision: double")
		assert.Contains(t, output, "Array size: 268.4 MB (=0.3 GB)")
		assert.Contains(t, output, "Total size: 805.3 MB (=0.8 GB)")
	})

	t.Run("binary units", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Header(&buf, "CPU", "float", 1<<25, 4, 10, Options{MiBytes: true}))

		output := buf.String()
		assert.Contains(t, output, "Array size: 128.0 MiB")
		assert.Contains(t, output, "Total size: 384.0 MiB")
	})

	t.Run("csv has no header", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Header(&buf, "CPU", "double", 10, 8, 10, Options{Format: FormatCSV}))
		assert.Empty(t, buf.String())
	})
}

func TestGenerateTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, sampleResult(), Options{Format: FormatTable}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"Function", "MBytes/sec", "Min", "(sec)", "Max", "Average"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"Triad", "2000.000", "0.01200", "0.02400", "0.01800"}, strings.Fields(lines[1]))

	buf.Reset()
	require.NoError(t, Generate(&buf, sampleResult(), Options{MiBytes: true}))
	assert.Contains(t, buf.String(), "MiBytes/sec")
	assert.Contains(t, buf.String(), "1907.349")
}

func TestGenerateCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, sampleResult(), Options{Format: FormatCSV}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{
		"function", "num_times", "n_elements", "sizeof",
		"max_mbytes_per_sec", "min_runtime", "max_runtime", "avg_runtime",
	}, records[0])
	assert.Equal(t, []string{"Triad", "3", "1000000", "8", "2000.000", "0.01200", "0.02400", "0.01800"}, records[1])

	buf.Reset()
	require.NoError(t, Generate(&buf, sampleResult(), Options{Format: FormatCSV, MiBytes: true}))
	assert.True(t, strings.HasPrefix(buf.String(), "function,num_times,n_elements,sizeof,max_mibytes_per_sec"))
}

func TestGenerateJSON(t *testing.T) {
	res := sampleResult()
	res.Verification.Failures = []string{"average error on array a"}

	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, res, Options{Format: FormatJSON}))

	var decoded jsonReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "CPU", decoded.Implementation)
	assert.Equal(t, "Host CPU", decoded.Device)
	assert.Equal(t, "triad", decoded.Mode)
	assert.Equal(t, "MB/s", decoded.BandwidthUnit)
	assert.False(t, decoded.Verified)
	require.Len(t, decoded.Kernels, 1)
	assert.InDelta(t, 2000.0, decoded.Kernels[0].Bandwidth, 1e-9)
}

func TestGenerateNoResult(t *testing.T) {
	assert.Error(t, Generate(&bytes.Buffer{}, nil, Options{}))
}
