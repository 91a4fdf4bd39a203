package telemetry

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/olekukonko/tablewriter"
)

// ErrSeriesMismatch is returned when a sample does not match the series.
var ErrSeriesMismatch = errors.New("telemetry: sample count does not match series")

// TotalSeries is the name of the frame-time series.
const TotalSeries = "total"

// BenchmarkResult keeps one CircularBuffer per pass plus a frame-time
// series. Every Record appends exactly one sample to every series, so
// indices stay aligned with frame count.
//
// BenchmarkResult is safe for one writer and concurrent readers.
type BenchmarkResult struct {
	mu     sync.RWMutex
	names  []string
	series []*CircularBuffer
	total  *CircularBuffer
	frames uint64
}

// NewBenchmarkResult creates a result with one series per pass name.
func NewBenchmarkResult(history int, passes ...string) *BenchmarkResult {
	r := &BenchmarkResult{
		names:  append([]string(nil), passes...),
		series: make([]*CircularBuffer, len(passes)),
		total:  NewCircularBuffer(history),
	}
	for i := range r.series {
		r.series[i] = NewCircularBuffer(history)
	}
	return r
}

// Record appends one frame: the frame time and one duration per pass, in
// milliseconds.
func (r *BenchmarkResult) Record(frameMs float32, durations []float32) error {
	if len(durations) != len(r.series) {
		return fmt.Errorf("%w: got %d, want %d", ErrSeriesMismatch, len(durations), len(r.series))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range durations {
		r.series[i].Add(d)
	}
	r.total.Add(frameMs)
	r.frames++
	return nil
}

// Names returns the pass names in series order.
func (r *BenchmarkResult) Names() []string {
	return append([]string(nil), r.names...)
}

// Frames returns the number of recorded frames, including evicted ones.
func (r *BenchmarkResult) Frames() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frames
}

// Series returns a snapshot of the named series, oldest first. The name
// TotalSeries selects the frame-time series.
func (r *BenchmarkResult) Series(name string) ([]float32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == TotalSeries {
		return r.total.Snapshot(), true
	}
	for i, n := range r.names {
		if n == name {
			return r.series[i].Snapshot(), true
		}
	}
	return nil, false
}

// PassStat summarizes one series.
type PassStat struct {
	Name    string
	Average float32
	Last    float32
	Samples int
}

// Stats returns per-pass statistics in series order followed by the
// frame-time series.
func (r *BenchmarkResult) Stats() []PassStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PassStat, 0, len(r.series)+1)
	for i, s := range r.series {
		out = append(out, PassStat{Name: r.names[i], Average: s.Average(), Last: s.Last(), Samples: s.Size()})
	}
	return append(out, PassStat{Name: TotalSeries, Average: r.total.Average(), Last: r.total.Last(), Samples: r.total.Size()})
}

// Averages returns the mean of each pass series, in series order.
func (r *BenchmarkResult) Averages() []float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float32, len(r.series))
	for i, s := range r.series {
		out[i] = s.Average()
	}
	return out
}

// WriteReport writes a table of per-pass averages followed by the
// frame-time series.
func (r *BenchmarkResult) WriteReport(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	if err := table.Append([]string{"pass", "avg ms", "last ms", "samples"}); err != nil {
		return fmt.Errorf("telemetry: report header: %w", err)
	}
	for _, s := range r.Stats() {
		row := []string{
			s.Name,
			fmt.Sprintf("%.3f", s.Average),
			fmt.Sprintf("%.3f", s.Last),
			fmt.Sprintf("%d", s.Samples),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("telemetry: report row %s: %w", s.Name, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("telemetry: render report: %w", err)
	}
	return nil
}
