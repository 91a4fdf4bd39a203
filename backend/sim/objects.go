package sim

import (
	"sync"

	"github.com/gogpu/atmos/gpucore"
)

type buffer struct {
	dev   *Device
	label string
	mu    sync.Mutex
	data  []byte
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() uint64  { return uint64(len(b.data)) }

// Bytes returns a copy of the buffer contents as last written by the GPU.
func (b *buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

type image struct {
	dev   *Device
	label string
	desc  gpucore.ImageDesc
}

func (i *image) Label() string           { return i.label }
func (i *image) Desc() gpucore.ImageDesc { return i.desc }

type sampler struct {
	label string
}

func (s *sampler) Label() string { return s.label }

// semaphore carries at most one GPU-side signal.
type semaphore struct {
	dev    *Device
	label  string
	signal chan struct{}
}

func (s *semaphore) Label() string { return s.label }

func (s *semaphore) gpuSignal() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

type fence struct {
	dev   *Device
	label string
	mu    sync.Mutex
	done  chan struct{}
	fired bool
}

func newFence(dev *Device, label string, signaled bool) *fence {
	f := &fence{dev: dev, label: label, done: make(chan struct{})}
	if signaled {
		f.fire()
	}
	return f
}

func (f *fence) Label() string { return f.label }

func (f *fence) fire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fired {
		f.fired = true
		close(f.done)
	}
}

func (f *fence) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fired {
		f.fired = false
		f.done = make(chan struct{})
	}
}

func (f *fence) wait() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

type timestampPool struct {
	dev    *Device
	mu     sync.Mutex
	values []gpucore.Timestamp
}

func (p *timestampPool) Count() uint32 { return uint32(len(p.values)) }

func (p *timestampPool) Results(first uint32, dst []gpucore.Timestamp) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := uint64(first) + uint64(len(dst))
	if end > uint64(len(p.values)) {
		return errQueryRange
	}
	copy(dst, p.values[first:end])
	return nil
}

func (p *timestampPool) reset(first, count uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := min(uint64(first)+uint64(count), uint64(len(p.values)))
	for i := uint64(first); i < end; i++ {
		p.values[i] = gpucore.Timestamp{}
	}
}

func (p *timestampPool) write(query uint32, value uint64, available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(query) < len(p.values) {
		p.values[query] = gpucore.Timestamp{Value: value, Available: available}
	}
}
