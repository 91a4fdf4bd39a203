// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"errors"
	"sync"

	"github.com/gogpu/atmos/gpucore"
	"github.com/gogpu/wgpu/hal"
)

var errQueryRange = errors.New("native: timestamp query out of range")

type buffer struct {
	dev   *Device
	label string
	size  uint64
	raw   hal.Buffer
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() uint64  { return b.size }

type image struct {
	dev   *Device
	label string
	desc  gpucore.ImageDesc
	tex   hal.Texture
	view  hal.TextureView
	// owned is false for swapchain images, which the swapchain destroys.
	owned bool
}

func (i *image) Label() string           { return i.label }
func (i *image) Desc() gpucore.ImageDesc { return i.desc }

type sampler struct {
	dev   *Device
	label string
	raw   hal.Sampler
}

func (s *sampler) Label() string { return s.label }

// semaphore is a host-side ordering token. HAL executes submissions in
// order, so a validated wait is already satisfied on the device.
type semaphore struct {
	dev   *Device
	label string
}

func (s *semaphore) Label() string { return s.label }

// fence tracks the device fence value of the last submission that
// signals it.
type fence struct {
	dev   *Device
	label string

	mu       sync.Mutex
	value    uint64
	signaled bool
}

func (f *fence) Label() string { return f.label }

// target returns the value to wait for, or 0 when the fence is already
// signaled.
func (f *fence) target() (value uint64, pending bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return 0, false
	}
	return f.value, true
}

func (f *fence) arm(value uint64) {
	f.mu.Lock()
	f.value = value
	f.signaled = false
	f.mu.Unlock()
}

func (f *fence) reset() {
	f.mu.Lock()
	f.value = 0
	f.signaled = false
	f.mu.Unlock()
}

// pendingWrite is a timestamp waiting for its submission to complete.
type pendingWrite struct {
	query uint32
	value uint64
	after uint64
}

type timestampPool struct {
	dev *Device

	mu      sync.Mutex
	values  []gpucore.Timestamp
	pending []pendingWrite
}

func (p *timestampPool) Count() uint32 { return uint32(len(p.values)) }

func (p *timestampPool) Results(first uint32, dst []gpucore.Timestamp) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := uint64(first) + uint64(len(dst))
	if end > uint64(len(p.values)) {
		return errQueryRange
	}

	kept := p.pending[:0]
	for _, w := range p.pending {
		if p.dev.completed(w.after) {
			p.values[w.query] = gpucore.Timestamp{Value: w.value, Available: true}
			continue
		}
		kept = append(kept, w)
	}
	p.pending = kept

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
	kept := p.pending[:0]
	for _, w := range p.pending {
		if uint64(w.query) < uint64(first) || uint64(w.query) >= end {
			kept = append(kept, w)
		}
	}
	p.pending = kept
}

func (p *timestampPool) write(query uint32, value, after uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(query) < len(p.values) {
		p.values[query] = gpucore.Timestamp{}
		p.pending = append(p.pending, pendingWrite{query: query, value: value, after: after})
	}
}
