// Package telemetry retains per-pass GPU timings for reporting.
package telemetry

// DefaultHistory is the default number of samples kept per series.
const DefaultHistory = 1500

// CircularBuffer is a fixed-capacity ring of samples. Once full, Add
// overwrites the oldest sample.
//
// CircularBuffer is not safe for concurrent use.
type CircularBuffer struct {
	data []float32
	head int // index of the next write
	size int
}

// NewCircularBuffer creates a buffer holding up to capacity samples.
// A capacity of 0 or less uses DefaultHistory.
func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &CircularBuffer{data: make([]float32, capacity)}
}

// Add appends v, evicting the oldest sample when full.
func (b *CircularBuffer) Add(v float32) {
	b.data[b.head] = v
	b.head = (b.head + 1) % len(b.data)
	if b.size < len(b.data) {
		b.size++
	}
}

// Snapshot returns the samples from oldest to newest.
func (b *CircularBuffer) Snapshot() []float32 {
	out := make([]float32, 0, b.size)
	start := (b.head - b.size + len(b.data)) % len(b.data)
	if start+b.size <= len(b.data) {
		return append(out, b.data[start:start+b.size]...)
	}
	out = append(out, b.data[start:]...)
	return append(out, b.data[:b.head]...)
}

// Size returns the number of valid samples.
func (b *CircularBuffer) Size() int { return b.size }

// Cap returns the capacity.
func (b *CircularBuffer) Cap() int { return len(b.data) }

// Last returns the newest sample, or 0 when empty.
func (b *CircularBuffer) Last() float32 {
	if b.size == 0 {
		return 0
	}
	return b.data[(b.head-1+len(b.data))%len(b.data)]
}

// Average returns the mean of the valid samples, or 0 when empty.
func (b *CircularBuffer) Average() float32 {
	if b.size == 0 {
		return 0
	}
	var sum float64
	for _, v := range b.Snapshot() {
		sum += float64(v)
	}
	return float32(sum / float64(b.size))
}

// Reset discards all samples.
func (b *CircularBuffer) Reset() {
	b.head = 0
	b.size = 0
}
