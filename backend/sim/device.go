package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/atmos/backend"
	"github.com/gogpu/atmos/gpucore"
	"github.com/gogpu/atmos/internal/gpusync"
)

var errQueryRange = errors.New("sim: timestamp query out of range")

// Defaults for simulated devices.
const (
	// DefaultTimestampPeriod is the default nanoseconds per timestamp tick.
	DefaultTimestampPeriod = 1.0

	// DefaultWaitTimeout bounds fence and idle waits.
	DefaultWaitTimeout = 5 * time.Second

	// queueDepth is the executor channel buffer per queue.
	queueDepth = 64
)

func init() {
	backend.Register(backend.NameSim, func(context.Context) (gpucore.Device, error) {
		return New(), nil
	})
}

// Option configures a simulated device.
type Option func(*options)

type options struct {
	name        string
	period      float32
	waitTimeout time.Duration
	logger      *slog.Logger
}

// WithName sets the device name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithTimestampPeriod sets the nanoseconds per timestamp tick. A period of
// 0 makes the device report that timestamps are unsupported.
func WithTimestampPeriod(ns float32) Option {
	return func(o *options) { o.period = ns }
}

// WithWaitTimeout bounds fence and idle waits.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) { o.waitTimeout = d }
}

// WithLogger sets the device logger. Violations are logged at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Device is a simulated two-queue GPU.
//
// Device is safe for concurrent use. Each recording must be recorded by one
// goroutine at a time.
type Device struct {
	opts   options
	queues [gpucore.NumQueueKinds]*queue
	ledger gpusync.Ledger

	mu         sync.Mutex
	seq        int
	log        []Submission
	owners     map[*image]*ownerState
	violations []Violation
	inflight   int
	idle       chan struct{}
	presented  int
	holdTS     bool
	heldWrites []heldWrite
	live       int

	lost atomic.Bool
	done chan struct{}
	wg   sync.WaitGroup
}

type heldWrite struct {
	pool  *timestampPool
	query uint32
	value uint64
}

// New creates a simulated device and starts its queue executors.
func New(opts ...Option) *Device {
	o := options{
		name:        "sim",
		period:      DefaultTimestampPeriod,
		waitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	d := &Device{
		opts:   o,
		owners: make(map[*image]*ownerState),
		idle:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	close(d.idle)

	for k := range gpucore.NumQueueKinds {
		q := &queue{dev: d, kind: k, work: make(chan *submission, queueDepth)}
		d.queues[k] = q
		d.wg.Add(1)
		go q.run()
	}
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return d.opts.name }

// Queue returns the queue of the given kind.
func (d *Device) Queue(kind gpucore.QueueKind) gpucore.Queue {
	if kind >= gpucore.NumQueueKinds {
		return nil
	}
	return d.queues[kind]
}

func (d *Device) track(delta int) {
	d.mu.Lock()
	d.live += delta
	d.mu.Unlock()
}

// CreateBuffer creates a zero-filled buffer.
func (d *Device) CreateBuffer(label string, desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("sim: buffer %s has zero size", label)
	}
	d.track(1)
	return &buffer{dev: d, label: label, data: make([]byte, desc.Size)}, nil
}

// DestroyBuffer destroys a buffer.
func (d *Device) DestroyBuffer(b gpucore.Buffer) {
	if sb, ok := b.(*buffer); ok && sb.dev == d {
		d.track(-1)
	}
}

// CreateImage creates an image owned by desc.Initial.Queue.
func (d *Device) CreateImage(label string, desc gpucore.ImageDesc) (gpucore.Image, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	if desc.Width == 0 || desc.Height == 0 || desc.Format == gpucore.FormatUndefined {
		return nil, fmt.Errorf("sim: invalid image %s %dx%d %s", label, desc.Width, desc.Height, desc.Format)
	}
	if desc.Initial.Queue >= gpucore.NumQueueKinds {
		return nil, fmt.Errorf("sim: image %s has invalid owner %s", label, desc.Initial.Queue)
	}
	img := &image{dev: d, label: label, desc: desc}
	d.mu.Lock()
	d.owners[img] = &ownerState{queue: desc.Initial.Queue, state: desc.Initial}
	d.live++
	d.mu.Unlock()
	return img, nil
}

// DestroyImage destroys an image.
func (d *Device) DestroyImage(img gpucore.Image) {
	si, ok := img.(*image)
	if !ok || si.dev != d {
		return
	}
	d.mu.Lock()
	if _, ok := d.owners[si]; ok {
		delete(d.owners, si)
		d.live--
	}
	d.mu.Unlock()
}

// CreateSampler creates a sampler.
func (d *Device) CreateSampler(label string, _ gpucore.SamplerDesc) (gpucore.Sampler, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	d.track(1)
	return &sampler{label: label}, nil
}

// DestroySampler destroys a sampler.
func (d *Device) DestroySampler(s gpucore.Sampler) {
	if _, ok := s.(*sampler); ok {
		d.track(-1)
	}
}

// CreateRecording creates a recording for the given queue kind.
func (d *Device) CreateRecording(kind gpucore.QueueKind, label string) (gpucore.Recording, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	if kind >= gpucore.NumQueueKinds {
		return nil, fmt.Errorf("sim: invalid queue kind %d", kind)
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
	d.track(1)
	return &semaphore{dev: d, label: label, signal: make(chan struct{}, 1)}, nil
}

// DestroySemaphore destroys a semaphore and forgets any pending signal.
func (d *Device) DestroySemaphore(s gpucore.Semaphore) {
	if ss, ok := s.(*semaphore); ok && ss.dev == d {
		d.ledger.Forget(ss)
		d.track(-1)
	}
}

// CreateFence creates a fence.
func (d *Device) CreateFence(label string, signaled bool) (gpucore.Fence, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	d.track(1)
	return newFence(d, label, signaled), nil
}

// DestroyFence destroys a fence.
func (d *Device) DestroyFence(f gpucore.Fence) {
	if sf, ok := f.(*fence); ok && sf.dev == d {
		d.track(-1)
	}
}

// WaitFence blocks until f is signaled, ctx is done, or the wait timeout
// elapses.
func (d *Device) WaitFence(ctx context.Context, f gpucore.Fence) error {
	sf, ok := f.(*fence)
	if !ok || sf.dev != d {
		return gpucore.ErrForeignObject
	}
	return d.await(ctx, sf.wait(), "fence "+sf.label)
}

// ResetFence returns f to the unsignaled state.
func (d *Device) ResetFence(f gpucore.Fence) error {
	sf, ok := f.(*fence)
	if !ok || sf.dev != d {
		return gpucore.ErrForeignObject
	}
	sf.reset()
	return nil
}

// WaitIdle blocks until every submitted item on every queue has executed.
func (d *Device) WaitIdle(ctx context.Context) error {
	d.mu.Lock()
	ch := d.idle
	d.mu.Unlock()
	return d.await(ctx, ch, "idle")
}

func (d *Device) await(ctx context.Context, ch <-chan struct{}, what string) error {
	timer := time.NewTimer(d.opts.waitTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return gpucore.ErrDeviceLost
	case <-timer.C:
		return fmt.Errorf("%w: %s after %v", gpucore.ErrTimeout, what, d.opts.waitTimeout)
	}
}

// CreateTimestampPool creates a pool of count queries, all unavailable.
func (d *Device) CreateTimestampPool(count uint32) (gpucore.TimestampPool, error) {
	if d.opts.period <= 0 {
		return nil, gpucore.ErrTimestampsUnsupported
	}
	if count == 0 {
		return nil, fmt.Errorf("sim: empty timestamp pool")
	}
	d.track(1)
	return &timestampPool{dev: d, values: make([]gpucore.Timestamp, count)}, nil
}

// DestroyTimestampPool destroys a timestamp pool.
func (d *Device) DestroyTimestampPool(p gpucore.TimestampPool) {
	if sp, ok := p.(*timestampPool); ok && sp.dev == d {
		d.track(-1)
	}
}

// TimestampPeriod returns the nanoseconds per tick.
func (d *Device) TimestampPeriod() float32 { return d.opts.period }

// Destroy stops the queue executors. Queued work is abandoned.
func (d *Device) Destroy() {
	if !d.lost.CompareAndSwap(false, true) {
		return
	}
	close(d.done)
	d.wg.Wait()
}

// HoldTimestamps makes subsequently executed timestamp writes unavailable
// until ResolveTimestamps is called.
func (d *Device) HoldTimestamps() {
	d.mu.Lock()
	d.holdTS = true
	d.mu.Unlock()
}

// ResolveTimestamps makes every held timestamp write available and stops
// holding new ones.
func (d *Device) ResolveTimestamps() {
	d.mu.Lock()
	held := d.heldWrites
	d.heldWrites = nil
	d.holdTS = false
	d.mu.Unlock()
	for _, w := range held {
		w.pool.write(w.query, w.value, true)
	}
}

// Submissions returns the submission log in host order.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.log...)
}

// ResetLog clears the submission log and the recorded violations.
func (d *Device) ResetLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = nil
	d.violations = nil
}

// Violations returns the ownership violations observed during execution.
func (d *Device) Violations() []Violation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Violation(nil), d.violations...)
}

// Presented returns the number of swapchain images presented.
func (d *Device) Presented() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presented
}

// Live returns the number of live buffers, images, samplers, semaphores,
// fences and timestamp pools.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Owner reports the owning queue and access state of img, and whether the
// image is between a release and its acquire.
func (d *Device) Owner(img gpucore.Image) (queue gpucore.QueueKind, state gpucore.AccessState, inTransit bool, ok bool) {
	si, isSim := img.(*image)
	if !isSim {
		return 0, gpucore.AccessState{}, false, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.owners[si]
	if !ok {
		return 0, gpucore.AccessState{}, false, false
	}
	return st.queue, st.state, st.inTransit, true
}

// BufferContents returns a copy of the bytes of a buffer created by d.
func BufferContents(b gpucore.Buffer) []byte {
	if sb, ok := b.(*buffer); ok {
		return sb.Bytes()
	}
	return nil
}
