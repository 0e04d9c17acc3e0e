package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fxnlabs/gpustream/internal/benchmark"
)

// GenerateTuning writes one row per kernel and launch of a tuning sweep. The
// table marks the fastest verified launch of each kernel with '*' and a
// failed verification with '!'.
func GenerateTuning(w io.Writer, t *benchmark.Tuning, opts Options) error {
	if t == nil {
		return fmt.Errorf("no tuning to report")
	}
	switch opts.Format {
	case FormatCSV:
		return tuningCSV(w, t, opts)
	case FormatJSON:
		return tuningJSON(w, t, opts)
	default:
		return tuningTable(w, t, opts)
	}
}

func isBest(t *benchmark.Tuning, r benchmark.TuneResult) bool {
	best, ok := t.Best(r.Stats.Kernel)
	return ok && best.Launch == r.Launch
}

func workersLabel(n int) string {
	if n == 0 {
		return "default"
	}
	return strconv.Itoa(n)
}

func tuningTable(w io.Writer, t *benchmark.Tuning, opts Options) error {
	small, _, _, _ := opts.units()
	rate := "MBytes/sec"
	if opts.MiBytes {
		rate = "MiBytes/sec"
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%-12s%-11s%-11s%-10s%-14s%-12s%-12s%-12s\n",
		"Function", "BlockSize", "DotBlocks", "Workers", rate, "Min (sec)", "Max", "Average")
	for _, r := range t.Results {
		mark := ""
		switch {
		case !r.Verification.OK():
			mark = "!"
		case isBest(t, r):
			mark = "*"
		}
		st := r.Stats
		fmt.Fprintf(bw, "%-12s%-11d%-11d%-10s%-14.3f%-12.5f%-12.5f%-12.5f%s\n",
			st.Kernel, r.Launch.BlockSize, r.Launch.DotBlocks, workersLabel(r.Launch.Workers),
			st.Bandwidth*small, st.Min, st.Max, st.Mean, mark)
	}
	return bw.Flush()
}

func tuningCSV(w io.Writer, t *benchmark.Tuning, opts Options) error {
	small, _, _, _ := opts.units()
	unit := "mbytes"
	if opts.MiBytes {
		unit = "mibytes"
	}

	cw := csv.NewWriter(w)
	header := []string{
		"function", "block_size", "dot_blocks", "workers", "num_times", "n_elements", "sizeof",
		"max_" + unit + "_per_sec", "min_runtime", "max_runtime", "avg_runtime", "verified", "best",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range t.Results {
		st := r.Stats
		record := []string{
			string(st.Kernel),
			strconv.Itoa(r.Launch.BlockSize),
			strconv.Itoa(r.Launch.DotBlocks),
			strconv.Itoa(r.Launch.Workers),
			strconv.Itoa(t.NumTimes),
			strconv.Itoa(t.ArraySize),
			strconv.Itoa(t.ElementSize),
			strconv.FormatFloat(st.Bandwidth*small, 'f', 3, 64),
			strconv.FormatFloat(st.Min, 'f', 5, 64),
			strconv.FormatFloat(st.Max, 'f', 5, 64),
			strconv.FormatFloat(st.Mean, 'f', 5, 64),
			strconv.FormatBool(r.Verification.OK()),
			strconv.FormatBool(isBest(t, r)),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonLaunch struct {
	benchmark.Launch
	jsonKernel
	Verified bool     `json:"verified"`
	Failures []string `json:"failures,omitempty"`
}

type jsonTuning struct {
	Implementation string                `json:"implementation"`
	Precision      string                `json:"precision"`
	ArraySize      int                   `json:"n_elements"`
	ElementSize    int                   `json:"sizeof"`
	NumTimes       int                   `json:"num_times"`
	BandwidthUnit  string                `json:"bandwidth_unit"`
	Results        []jsonLaunch          `json:"results"`
	Best           map[string]jsonLaunch `json:"best"`
}

func tuningJSON(w io.Writer, t *benchmark.Tuning, opts Options) error {
	small, _, smallName, _ := opts.units()

	out := jsonTuning{
		Implementation: t.Implementation,
		Precision:      t.Precision,
		ArraySize:      t.ArraySize,
		ElementSize:    t.ElementSize,
		NumTimes:       t.NumTimes,
		BandwidthUnit:  smallName + "/s",
		Best:           make(map[string]jsonLaunch),
	}
	for _, r := range t.Results {
		st := r.Stats
		l := jsonLaunch{
			Launch: r.Launch,
			jsonKernel: jsonKernel{
				Function:   string(st.Kernel),
				Bandwidth:  st.Bandwidth * small,
				MinRuntime: st.Min,
				MaxRuntime: st.Max,
				AvgRuntime: st.Mean,
			},
			Verified: r.Verification.OK(),
			Failures: r.Verification.Failures,
		}
		out.Results = append(out.Results, l)
		if isBest(t, r) {
			out.Best[string(st.Kernel)] = l
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
