// Package export writes acquired per-channel series to delimited text files.
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrNoData indicates there were no samples to save.
var ErrNoData = errors.New("no data available to save")

// Writer writes channel series as CSV: a metadata header, a column header,
// then one row per sample index with a synthesized time column.
type Writer struct {
	Dir        string  // Output directory
	SampleRate float64 // Per-channel sample rate used for the time column
	Decimate   int     // Keep every Nth row (0 or 1 = keep all)
}

// FileName returns the timestamped default file name for an acquisition
// finishing at t.
func (w Writer) FileName(t time.Time) string {
	return fmt.Sprintf("data_%s.csv", t.Format("2006-01-02_15-04-05"))
}

// Write trims all series to the shortest length, applies decimation, and
// writes them to a timestamped CSV file in the output directory. It returns
// the path of the written file.
func (w Writer) Write(series [][]float64) (string, error) {
	path := filepath.Join(w.Dir, w.FileName(time.Now()))
	return path, w.WriteFile(path, series)
}

// WriteFile writes the series to the given path.
func (w Writer) WriteFile(path string, series [][]float64) error {
	n := shortest(series)
	if n == 0 {
		return ErrNoData
	}

	stride := w.Decimate
	if stride < 1 {
		stride = 1
	}

	// Decimate each channel up front so all columns stay aligned.
	cols := make([][]float64, len(series))
	for c := range series {
		cols[c] = Decimate(nil, series[c][:n], stride)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	fmt.Fprintf(bw, "# sample_rate_hz: %v\n", w.SampleRate)
	fmt.Fprintf(bw, "# channels: %d\n", len(series))
	fmt.Fprintf(bw, "# samples_per_channel: %d\n", len(cols[0]))

	cw := csv.NewWriter(bw)

	header := make([]string, 0, len(series)+1)
	header = append(header, "Time")
	for c := range series {
		header = append(header, fmt.Sprintf("Channel %d", c))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(series)+1)
	for i := range cols[0] {
		t := float64(i*stride) / w.SampleRate
		record[0] = strconv.FormatFloat(t, 'f', -1, 64)
		for c := range cols {
			record[c+1] = strconv.FormatFloat(cols[c][i], 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush records: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}

	return nil
}

// shortest returns the length of the shortest series. Interleaved scans can
// leave the later channels one sample behind, so rows are cut to the
// shortest channel.
func shortest(series [][]float64) int {
	if len(series) == 0 {
		return 0
	}
	n := len(series[0])
	for _, s := range series[1:] {
		if len(s) < n {
			n = len(s)
		}
	}
	return n
}

// Decimate keeps every stride-th sample of src.
// Destination-based: reuses dst if it has sufficient capacity, otherwise
// allocates new. A stride below 2 copies src unchanged.
func Decimate(dst []float64, src []float64, stride int) []float64 {
	if stride < 1 {
		stride = 1
	}

	n := (len(src) + stride - 1) / stride
	if cap(dst) >= n {
		dst = dst[:0]
	} else {
		dst = make([]float64, 0, n)
	}

	for i := 0; i < len(src); i += stride {
		dst = append(dst, src[i])
	}

	return dst
}
