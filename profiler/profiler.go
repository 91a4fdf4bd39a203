// Package profiler measures per-pass GPU execution time with timestamp
// queries.
//
// Each pass p owns the query pair StartQuery(p) and EndQuery(p). Queries
// resolve asynchronously, so results are polled with
// [Profiler.ResultsIfAvailable] and only published once every pass has both
// of its timestamps available.
package profiler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/atmos/gpucore"
)

// Profiler errors.
var (
	// ErrTimestampsUnsupported is returned when the device has no timestamp
	// period.
	ErrTimestampsUnsupported = gpucore.ErrTimestampsUnsupported

	// ErrNoPasses is returned when a profiler is created for zero passes.
	ErrNoPasses = errors.New("profiler: no passes")
)

// Profiler owns a timestamp pool with two queries per pass.
//
// Recording methods may be called from several goroutines as long as each
// recording is used by one goroutine. Polling is safe for concurrent use.
type Profiler struct {
	device gpucore.Device
	pool   gpucore.TimestampPool
	period float32
	passes int

	mu        sync.Mutex
	scratch   []gpucore.Timestamp
	durations []float32
}

// New creates a profiler for passes passes.
func New(device gpucore.Device, passes int) (*Profiler, error) {
	if passes <= 0 {
		return nil, ErrNoPasses
	}
	period := device.TimestampPeriod()
	if period <= 0 {
		return nil, fmt.Errorf("%w on %s", ErrTimestampsUnsupported, device.Name())
	}
	pool, err := device.CreateTimestampPool(uint32(2 * passes))
	if err != nil {
		return nil, fmt.Errorf("profiler: create timestamp pool: %w", err)
	}
	return &Profiler{
		device:    device,
		pool:      pool,
		period:    period,
		passes:    passes,
		scratch:   make([]gpucore.Timestamp, 2*passes),
		durations: make([]float32, passes),
	}, nil
}

// Passes returns the number of profiled passes.
func (p *Profiler) Passes() int { return p.passes }

// StartQuery returns the query index of the start timestamp of pass.
func StartQuery(pass int) uint32 { return uint32(2 * pass) }

// EndQuery returns the query index of the end timestamp of pass.
func EndQuery(pass int) uint32 { return uint32(2*pass + 1) }

// ResetTimestamp records a reset of query into rec. It must precede the
// WriteTimestamp for the same query within a frame.
func (p *Profiler) ResetTimestamp(rec gpucore.Recording, query uint32) {
	rec.ResetTimestamps(p.pool, query, 1)
}

// WriteTimestamp records a timestamp capture of query at stage into rec.
func (p *Profiler) WriteTimestamp(rec gpucore.Recording, query uint32, stage gpucore.PipelineStage) {
	rec.WriteTimestamp(p.pool, query, stage)
}

// ResultsIfAvailable reads back every query without waiting. It reports
// false while any pass is missing its start or end timestamp. On true the
// durations returned by Results are updated. A readback failure is
// returned as an error.
func (p *Profiler) ResultsIfAvailable() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.pool.Results(0, p.scratch); err != nil {
		return false, fmt.Errorf("profiler: read timestamps: %w", err)
	}
	for _, ts := range p.scratch {
		if !ts.Available {
			return false, nil
		}
	}
	for i := range p.durations {
		start, end := p.scratch[2*i].Value, p.scratch[2*i+1].Value
		var ticks uint64
		if end > start {
			ticks = end - start
		}
		p.durations[i] = float32(float64(ticks) * float64(p.period) / 1e6)
	}
	return true, nil
}

// Results returns a copy of the last computed durations in milliseconds,
// indexed by pass.
func (p *Profiler) Results() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float32(nil), p.durations...)
}

// Close destroys the timestamp pool.
func (p *Profiler) Close() {
	if p.pool != nil {
		p.device.DestroyTimestampPool(p.pool)
		p.pool = nil
	}
}
