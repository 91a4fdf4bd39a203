// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/atmos/backend"
	"github.com/gogpu/atmos/gpucore"
	"github.com/gogpu/atmos/internal/gpusync"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Register the Vulkan HAL backend for Open.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

const (
	// DefaultWaitTimeout bounds fence and idle waits.
	DefaultWaitTimeout = 5 * time.Second

	// pollInterval is the slice a blocking wait sleeps in the HAL before
	// checking its context again.
	pollInterval = 10 * time.Millisecond
)

func init() {
	backend.Register(backend.NameNative, func(ctx context.Context) (gpucore.Device, error) {
		return Open(ctx)
	})
}

// Option configures a native device.
type Option func(*options)

type options struct {
	hal         gputypes.Backend
	waitTimeout time.Duration
	logger      *slog.Logger
	format      gpucore.Format
}

// WithHALBackend selects the HAL backend Open enumerates adapters from.
// The default is Vulkan.
func WithHALBackend(b gputypes.Backend) Option {
	return func(o *options) { o.hal = b }
}

// WithWaitTimeout bounds fence and idle waits.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) { o.waitTimeout = d }
}

// WithLogger sets the device logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{
		hal:         gputypes.BackendVulkan,
		waitTimeout: DefaultWaitTimeout,
		format:      gpucore.FormatBGRA8Unorm,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// inflight holds the command buffers of a submission until its fence
// value completes.
type inflight struct {
	value uint64
	cbs   []hal.CommandBuffer
}

// Device adapts a HAL device and queue to gpucore.Device.
//
// Device is safe for concurrent use. Each recording must be recorded by one
// goroutine at a time.
type Device struct {
	opts     options
	name     string
	raw      hal.Device
	rawQueue hal.Queue

	// instance is set when the device was opened by Open and is destroyed
	// with it.
	instance hal.Instance

	queues [gpucore.NumQueueKinds]*queue
	ledger gpusync.Ledger
	epoch  time.Time

	// submitMu serializes encoding and submission on the HAL queue.
	submitMu  sync.Mutex
	fence     hal.Fence
	submitted uint64
	pending   []inflight

	done atomic.Uint64
	live atomic.Int64
	lost atomic.Bool
}

// Open creates a standalone device on the preferred adapter of the
// configured HAL backend. Discrete GPUs are preferred over integrated
// ones, and those over anything else.
func Open(ctx context.Context, opts ...Option) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	b, ok := hal.GetBackend(o.hal)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrHALUnavailable, o.hal)
	}
	return openBackend(b, o)
}

func openBackend(b hal.Backend, o options) (*Device, error) {
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	selected := selectAdapter(adapters)

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	d, err := newDevice(openDev.Device, openDev.Queue, selected.Info.Name, o)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	o.logger.Info("native: device opened", "adapter", selected.Info.Name, "type", selected.Info.DeviceType)
	return d, nil
}

func selectAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

// NewFromHAL wraps an externally owned HAL device and queue. Destroy does
// not destroy them.
func NewFromHAL(device hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if device == nil || queue == nil {
		return nil, ErrNotHAL
	}
	return newDevice(device, queue, "hal", newOptions(opts))
}

// NewFromProvider wraps the device shared by a host application such as
// gogpu. The provider must also implement HalDevice() any and HalQueue()
// any returning hal.Device and hal.Queue. Swapchains default to the
// provider's surface format.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHAL)
	}

	o := newOptions(opts)
	if f := formatFromHAL(provider.SurfaceFormat()); f != gpucore.FormatUndefined {
		o.format = f
	}
	return newDevice(device, queue, "provider", o)
}

func newDevice(raw hal.Device, rawQueue hal.Queue, name string, o options) (*Device, error) {
	f, err := raw.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("native: create fence: %w", err)
	}
	d := &Device{
		opts:     o,
		name:     name,
		raw:      raw,
		rawQueue: rawQueue,
		epoch:    time.Now(),
		fence:    f,
	}
	for k := range gpucore.NumQueueKinds {
		d.queues[k] = &queue{dev: d, kind: k}
	}
	return d, nil
}

// Name returns the adapter name.
func (d *Device) Name() string { return d.name }

// Queue returns the queue of the given kind.
func (d *Device) Queue(kind gpucore.QueueKind) gpucore.Queue {
	if int(kind) >= len(d.queues) {
		return nil
	}
	return d.queues[kind]
}

// Live returns the number of live objects created through d.
func (d *Device) Live() int { return int(d.live.Load()) }

// === Resources ===

// CreateBuffer creates a GPU buffer.
func (d *Device) CreateBuffer(label string, desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("native: buffer %s has zero size", label)
	}
	raw, err := d.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  desc.Size,
		Usage: convertBufferUsage(desc.Usage, desc.HostVisible),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create buffer %s: %w", label, err)
	}
	d.live.Add(1)
	return &buffer{dev: d, label: label, size: desc.Size, raw: raw}, nil
}

// DestroyBuffer releases a GPU buffer.
func (d *Device) DestroyBuffer(b gpucore.Buffer) {
	if nb, ok := b.(*buffer); ok && nb.dev == d && nb.raw != nil {
		d.raw.DestroyBuffer(nb.raw)
		nb.raw = nil
		d.live.Add(-1)
	}
}

// CreateImage creates a texture and its default view.
func (d *Device) CreateImage(label string, desc gpucore.ImageDesc) (gpucore.Image, error) {
	img, err := d.createImage(label, desc)
	if err != nil {
		return nil, err
	}
	img.owned = true
	d.live.Add(1)
	return img, nil
}

func (d *Device) createImage(label string, desc gpucore.ImageDesc) (*image, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	format := convertFormat(desc.Format)
	if format == gputypes.TextureFormatUndefined {
		return nil, fmt.Errorf("%w: %s for %s", ErrUnsupportedFormat, desc.Format, label)
	}

	dim := gputypes.TextureDimension2D
	layers := uint32(1)
	if desc.Depth > 1 {
		dim = gputypes.TextureDimension3D
		layers = desc.Depth
	}
	tex, err := d.raw.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: layers},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     dim,
		Format:        format,
		Usage:         convertImageUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create image %s: %w", label, err)
	}
	view, err := d.raw.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: label + "_view",
	})
	if err != nil {
		d.raw.DestroyTexture(tex)
		return nil, fmt.Errorf("native: create view %s: %w", label, err)
	}
	return &image{dev: d, label: label, desc: desc, tex: tex, view: view}, nil
}

func (d *Device) destroyImage(img *image) {
	if img.view != nil {
		d.raw.DestroyTextureView(img.view)
		img.view = nil
	}
	if img.tex != nil {
		d.raw.DestroyTexture(img.tex)
		img.tex = nil
	}
}

// DestroyImage releases a texture and its view.
func (d *Device) DestroyImage(img gpucore.Image) {
	if ni, ok := img.(*image); ok && ni.dev == d && ni.owned && ni.tex != nil {
		d.destroyImage(ni)
		d.live.Add(-1)
	}
}

// CreateSampler creates a sampler.
func (d *Device) CreateSampler(label string, desc gpucore.SamplerDesc) (gpucore.Sampler, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	filter, address := convertFilter(desc.Filter), convertAddress(desc.Address)
	raw, err := d.raw.CreateSampler(&hal.SamplerDescriptor{
		Label:        label,
		AddressModeU: address,
		AddressModeV: address,
		AddressModeW: address,
		MagFilter:    filter,
		MinFilter:    filter,
		MipmapFilter: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create sampler %s: %w", label, err)
	}
	d.live.Add(1)
	return &sampler{dev: d, label: label, raw: raw}, nil
}

// DestroySampler releases a sampler.
func (d *Device) DestroySampler(s gpucore.Sampler) {
	if ns, ok := s.(*sampler); ok && ns.dev == d && ns.raw != nil {
		d.raw.DestroySampler(ns.raw)
		ns.raw = nil
		d.live.Add(-1)
	}
}

// === Synchronization ===

// CreateRecording creates an empty recording for a queue kind.
func (d *Device) CreateRecording(kind gpucore.QueueKind, label string) (gpucore.Recording, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	if kind >= gpucore.NumQueueKinds {
		return nil, fmt.Errorf("native: invalid queue kind %d", kind)
	}
	return &recording{dev: d, kind: kind, label: label}, nil
}

// DestroyRecording destroys a recording.
func (d *Device) DestroyRecording(gpucore.Recording) {}

// CreateSemaphore creates a binary semaphore.
func (d *Device) CreateSemaphore(label string) (gpucore.Semaphore, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	d.live.Add(1)
	return &semaphore{dev: d, label: label}, nil
}

// DestroySemaphore destroys a semaphore and forgets any pending signal.
func (d *Device) DestroySemaphore(s gpucore.Semaphore) {
	if ns, ok := s.(*semaphore); ok && ns.dev == d {
		d.ledger.Forget(ns)
		d.live.Add(-1)
	}
}

// CreateFence creates a fence.
func (d *Device) CreateFence(label string, signaled bool) (gpucore.Fence, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	d.live.Add(1)
	return &fence{dev: d, label: label, signaled: signaled}, nil
}

// DestroyFence destroys a fence.
func (d *Device) DestroyFence(f gpucore.Fence) {
	if nf, ok := f.(*fence); ok && nf.dev == d {
		d.live.Add(-1)
	}
}

// WaitFence blocks until the last submission signaling f has completed,
// ctx is done, or the wait timeout elapses. Waiting on a reset fence that
// no submission signals times out.
func (d *Device) WaitFence(ctx context.Context, f gpucore.Fence) error {
	nf, ok := f.(*fence)
	if !ok || nf.dev != d {
		return gpucore.ErrForeignObject
	}
	value, pending := nf.target()
	if !pending {
		return nil
	}
	if value == 0 {
		return d.waitUnsignaled(ctx, "fence "+nf.label)
	}
	return d.waitValue(ctx, value, "fence "+nf.label)
}

// ResetFence returns f to the unsignaled state.
func (d *Device) ResetFence(f gpucore.Fence) error {
	nf, ok := f.(*fence)
	if !ok || nf.dev != d {
		return gpucore.ErrForeignObject
	}
	nf.reset()
	return nil
}

// WaitIdle blocks until every submission has completed.
func (d *Device) WaitIdle(ctx context.Context) error {
	d.submitMu.Lock()
	value := d.submitted
	d.submitMu.Unlock()
	if err := d.waitValue(ctx, value, "idle"); err != nil {
		return err
	}
	d.submitMu.Lock()
	d.retire()
	d.submitMu.Unlock()
	return nil
}

// completed polls whether the device fence has reached value.
func (d *Device) completed(value uint64) bool {
	if value <= d.done.Load() {
		return true
	}
	ok, err := d.raw.Wait(d.fence, value, 0)
	if err != nil || !ok {
		return false
	}
	d.markDone(value)
	return true
}

func (d *Device) markDone(value uint64) {
	for {
		cur := d.done.Load()
		if value <= cur || d.done.CompareAndSwap(cur, value) {
			return
		}
	}
}

// waitUnsignaled waits on a fence no submission will signal.
func (d *Device) waitUnsignaled(ctx context.Context, what string) error {
	timer := time.NewTimer(d.opts.waitTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s after %v", gpucore.ErrTimeout, what, d.opts.waitTimeout)
	}
}

// waitValue waits for the device fence in poll slices so ctx is honored.
func (d *Device) waitValue(ctx context.Context, value uint64, what string) error {
	deadline := time.Now().Add(d.opts.waitTimeout)
	for {
		if value <= d.done.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.lost.Load() {
			return gpucore.ErrDeviceLost
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %s after %v", gpucore.ErrTimeout, what, d.opts.waitTimeout)
		}
		ok, err := d.raw.Wait(d.fence, value, min(remaining, pollInterval))
		if err != nil {
			return fmt.Errorf("%w: wait %s: %v", gpucore.ErrDeviceLost, what, err)
		}
		if ok {
			d.markDone(value)
			return nil
		}
	}
}

// === Timestamps ===

// CreateTimestampPool creates a pool of count host-observed queries.
func (d *Device) CreateTimestampPool(count uint32) (gpucore.TimestampPool, error) {
	if count == 0 {
		return nil, fmt.Errorf("native: empty timestamp pool")
	}
	d.live.Add(1)
	return &timestampPool{dev: d, values: make([]gpucore.Timestamp, count)}, nil
}

// DestroyTimestampPool destroys a timestamp pool.
func (d *Device) DestroyTimestampPool(p gpucore.TimestampPool) {
	if np, ok := p.(*timestampPool); ok && np.dev == d {
		d.live.Add(-1)
	}
}

// TimestampPeriod returns 1: timestamps are host nanoseconds.
func (d *Device) TimestampPeriod() float32 { return 1 }

func (d *Device) now() uint64 { return uint64(time.Since(d.epoch).Nanoseconds()) }

// Destroy waits for outstanding work, frees retained command buffers and
// the device fence, and destroys the HAL device and instance when Open
// created them.
func (d *Device) Destroy() {
	if d.lost.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.waitTimeout)
	if err := d.WaitIdle(ctx); err != nil {
		d.opts.logger.Warn("native: destroy without idle", "error", err)
	}
	cancel()
	if !d.lost.CompareAndSwap(false, true) {
		return
	}

	d.submitMu.Lock()
	for _, p := range d.pending {
		for _, cb := range p.cbs {
			d.raw.FreeCommandBuffer(cb)
		}
	}
	d.pending = nil
	d.submitMu.Unlock()

	d.raw.DestroyFence(d.fence)
	if d.instance != nil {
		d.raw.Destroy()
		d.instance.Destroy()
	}
}
