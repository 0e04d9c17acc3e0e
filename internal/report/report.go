// Package report formats benchmark results as a text table, CSV or JSON.
package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fxnlabs/gpustream/internal/benchmark"
)

// Format selects the output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

// ParseFormat converts a configuration string into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, csv or json)", s)
	}
}

// Options controls how results are rendered.
type Options struct {
	Format Format

	// MiBytes reports sizes and bandwidth in powers of two.
	MiBytes bool
}

// units returns the scale factors and labels for the small and large size
// units.
func (o Options) units() (small, large float64, smallName, largeName string) {
	if o.MiBytes {
		return 1.0 / (1 << 20), 1.0 / (1 << 30), "MiB", "GiB"
	}
	return 1e-6, 1e-9, "MB", "GB"
}

// Header writes the run description printed before the kernels start. CSV and
// JSON output have no header.
func Header(w io.Writer, implementation string, precision string, arraySize, elemSize, numTimes int, opts Options) error {
	if opts.Format == FormatCSV || opts.Format == FormatJSON {
		return nil
	}
	small, large, smallName, largeName := opts.units()
	arrayBytes := float64(arraySize) * float64(elemSize)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Implementation: %s\n", implementation)
	fmt.Fprintf(bw, "Running kernels %d times\n", numTimes)
	fmt.Fprintf(bw, "Precision: %s\n", precision)
	fmt.Fprintf(bw, "Array size: %.1f %s (=%.1f %s)\n",
		arrayBytes*small, smallName, arrayBytes*large, largeName)
	fmt.Fprintf(bw, "Total size: %.1f %s (=%.1f %s)\n",
		3*arrayBytes*small, smallName, 3*arrayBytes*large, largeName)
	return bw.Flush()
}

// Generate writes the per-kernel statistics of res in the selected format.
func Generate(w io.Writer, res *benchmark.Result, opts Options) error {
	if res == nil {
		return fmt.Errorf("no result to report")
	}
	switch opts.Format {
	case FormatCSV:
		return generateCSV(w, res, opts)
	case FormatJSON:
		return generateJSON(w, res, opts)
	default:
		return generateTable(w, res, opts)
	}
}

func generateTable(w io.Writer, res *benchmark.Result, opts Options) error {
	small, _, _, _ := opts.units()
	rate := "MBytes/sec"
	if opts.MiBytes {
		rate = "MiBytes/sec"
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%-12s%-12s%-12s%-12s%-12s\n",
		"Function", rate, "Min (sec)", "Max", "Average")
	for _, st := range res.Stats() {
		fmt.Fprintf(bw, "%-12s%-12.3f%-12.5f%-12.5f%-12.5f\n",
			st.Kernel, st.Bandwidth*small, st.Min, st.Max, st.Mean)
	}
	return bw.Flush()
}

func generateCSV(w io.Writer, res *benchmark.Result, opts Options) error {
	small, _, _, _ := opts.units()
	unit := "mbytes"
	if opts.MiBytes {
		unit = "mibytes"
	}

	cw := csv.NewWriter(w)
	header := []string{
		"function", "num_times", "n_elements", "sizeof",
		"max_" + unit + "_per_sec", "min_runtime", "max_runtime", "avg_runtime",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, st := range res.Stats() {
		record := []string{
			string(st.Kernel),
			strconv.Itoa(res.NumTimes),
			strconv.Itoa(res.ArraySize),
			strconv.Itoa(res.ElementSize),
			strconv.FormatFloat(st.Bandwidth*small, 'f', 3, 64),
			strconv.FormatFloat(st.Min, 'f', 5, 64),
			strconv.FormatFloat(st.Max, 'f', 5, 64),
			strconv.FormatFloat(st.Mean, 'f', 5, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonKernel struct {
	Function   string  `json:"function"`
	Bandwidth  float64 `json:"bandwidth"`
	MinRuntime float64 `json:"min_runtime"`
	MaxRuntime float64 `json:"max_runtime"`
	AvgRuntime float64 `json:"avg_runtime"`
}

type jsonReport struct {
	Implementation string       `json:"implementation"`
	Device         string       `json:"device"`
	Precision      string       `json:"precision"`
	ArraySize      int          `json:"n_elements"`
	ElementSize    int          `json:"sizeof"`
	NumTimes       int          `json:"num_times"`
	Mode           string       `json:"mode"`
	BandwidthUnit  string       `json:"bandwidth_unit"`
	Kernels        []jsonKernel `json:"kernels"`
	Verified       bool         `json:"verified"`
	Failures       []string     `json:"failures,omitempty"`
}

func generateJSON(w io.Writer, res *benchmark.Result, opts Options) error {
	small, _, smallName, _ := opts.units()

	out := jsonReport{
		Implementation: res.Implementation,
		Device:         res.Device.Name,
		Precision:      res.Precision,
		ArraySize:      res.ArraySize,
		ElementSize:    res.ElementSize,
		NumTimes:       res.NumTimes,
		Mode:           string(res.Mode),
		BandwidthUnit:  smallName + "/s",
		Verified:       res.Verification.OK(),
		Failures:       res.Verification.Failures,
	}
	for _, st := range res.Stats() {
		out.Kernels = append(out.Kernels, jsonKernel{
			Function:   string(st.Kernel),
			Bandwidth:  st.Bandwidth * small,
			MinRuntime: st.Min,
			MaxRuntime: st.Max,
			AvgRuntime: st.Mean,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
