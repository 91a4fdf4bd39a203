// Package resource owns GPU allocations and hands out opaque handles to them.
package resource

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/atmos/gpucore"
)

// Registry errors.
var (
	// ErrInvalidHandle is returned for unknown or released handles.
	ErrInvalidHandle = errors.New("resource: invalid handle")

	// ErrKindMismatch is returned when a handle's kind does not match the
	// stored resource or the requested type.
	ErrKindMismatch = errors.New("resource: kind mismatch")

	// ErrBudgetExceeded is returned when an allocation would exceed the budget.
	ErrBudgetExceeded = errors.New("resource: memory budget exceeded")

	// ErrRegistryClosed is returned when operating on a closed registry.
	ErrRegistryClosed = errors.New("resource: registry closed")
)

// Kind tags the type of resource a handle refers to.
type Kind uint8

// Resource kinds.
const (
	KindInvalid Kind = iota
	KindBuffer
	KindImage
	KindSampler
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	case KindSampler:
		return "sampler"
	default:
		return "invalid"
	}
}

// Handle is an opaque reference to a registry entry. The zero Handle is
// invalid.
type Handle struct {
	UID  uint64
	Kind Kind
}

// IsValid reports whether h was returned by a registry.
func (h Handle) IsValid() bool { return h.UID != 0 && h.Kind != KindInvalid }

// String formats the handle.
func (h Handle) String() string { return fmt.Sprintf("%s#%d", h.Kind, h.UID) }

// Stats contains registry usage statistics.
type Stats struct {
	Buffers  int
	Images   int
	Samplers int

	// UsedBytes is the memory held by live buffers and images.
	UsedBytes uint64

	// BudgetBytes is the budget, or 0 when unlimited.
	BudgetBytes uint64

	Created  uint64
	Released uint64
}

// String returns a human-readable string of registry stats.
func (s Stats) String() string {
	return fmt.Sprintf("Resources[%d buffers, %d images, %d samplers, %d KB, %d created, %d released]",
		s.Buffers, s.Images, s.Samplers, s.UsedBytes/1024, s.Created, s.Released)
}

type entry struct {
	name  string
	kind  Kind
	bytes uint64
	value any
}

// Option configures a Registry.
type Option func(*Registry)

// WithBudget limits the bytes held by live buffers and images.
func WithBudget(bytes uint64) Option {
	return func(r *Registry) { r.budget = bytes }
}

// Registry owns every buffer, image and sampler it creates. Holders refer to
// them only through handles. Uids are never reused within a registry.
//
// Registry is safe for concurrent use.
type Registry struct {
	device gpucore.Device

	mu       sync.RWMutex
	entries  map[uint64]*entry
	used     uint64
	budget   uint64
	created  uint64
	released uint64
	closed   bool

	// nextID starts at 1 so the zero Handle is never issued.
	nextID atomic.Uint64
}

// NewRegistry creates a registry allocating from device.
func NewRegistry(device gpucore.Device, opts ...Option) *Registry {
	r := &Registry{
		device:  device,
		entries: make(map[uint64]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) reserve(bytes uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if r.budget > 0 && r.used+bytes > r.budget {
		return fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrBudgetExceeded, bytes, r.used, r.budget)
	}
	r.used += bytes
	return nil
}

func (r *Registry) unreserve(bytes uint64) {
	r.mu.Lock()
	r.used -= bytes
	r.mu.Unlock()
}

func (r *Registry) insert(e *entry) Handle {
	h := Handle{UID: r.nextID.Add(1), Kind: e.kind}
	r.mu.Lock()
	r.entries[h.UID] = e
	r.created++
	r.mu.Unlock()
	return h
}

// CreateBuffer allocates a buffer.
func (r *Registry) CreateBuffer(name string, desc gpucore.BufferDesc) (Handle, error) {
	if err := r.reserve(desc.Size); err != nil {
		return Handle{}, err
	}
	b, err := r.device.CreateBuffer(name, desc)
	if err != nil {
		r.unreserve(desc.Size)
		return Handle{}, fmt.Errorf("resource: create buffer %s: %w", name, err)
	}
	return r.insert(&entry{name: name, kind: KindBuffer, bytes: desc.Size, value: b}), nil
}

// CreateImage allocates an image.
func (r *Registry) CreateImage(name string, desc gpucore.ImageDesc) (Handle, error) {
	size := desc.SizeBytes()
	if err := r.reserve(size); err != nil {
		return Handle{}, err
	}
	img, err := r.device.CreateImage(name, desc)
	if err != nil {
		r.unreserve(size)
		return Handle{}, fmt.Errorf("resource: create image %s: %w", name, err)
	}
	return r.insert(&entry{name: name, kind: KindImage, bytes: size, value: img}), nil
}

// CreateSampler allocates a sampler.
func (r *Registry) CreateSampler(name string, desc gpucore.SamplerDesc) (Handle, error) {
	if err := r.reserve(0); err != nil {
		return Handle{}, err
	}
	s, err := r.device.CreateSampler(name, desc)
	if err != nil {
		return Handle{}, fmt.Errorf("resource: create sampler %s: %w", name, err)
	}
	return r.insert(&entry{name: name, kind: KindSampler, value: s}), nil
}

// Descriptor is the set of descriptor types Create accepts.
type Descriptor interface {
	gpucore.BufferDesc | gpucore.ImageDesc | gpucore.SamplerDesc
}

// Create allocates a resource whose kind is selected by the descriptor type.
func Create[D Descriptor](r *Registry, name string, desc D) (Handle, error) {
	switch d := any(desc).(type) {
	case gpucore.BufferDesc:
		return r.CreateBuffer(name, d)
	case gpucore.ImageDesc:
		return r.CreateImage(name, d)
	case gpucore.SamplerDesc:
		return r.CreateSampler(name, d)
	}
	panic("unreachable")
}

// kindOf maps gpucore.Buffer, gpucore.Image and gpucore.Sampler to their
// kinds and every other type to KindInvalid.
func kindOf[T any]() Kind {
	var zero *T
	switch any(zero).(type) {
	case *gpucore.Buffer:
		return KindBuffer
	case *gpucore.Image:
		return KindImage
	case *gpucore.Sampler:
		return KindSampler
	}
	return KindInvalid
}

// Get returns the resource for h. T must be gpucore.Buffer, gpucore.Image
// or gpucore.Sampler. The result stays valid until h is released.
func Get[T any](r *Registry, h Handle) (T, error) {
	var zero T
	if want := kindOf[T](); h.Kind != want {
		return zero, fmt.Errorf("%w: handle %s requested as %s", ErrKindMismatch, h, want)
	}

	r.mu.RLock()
	e, ok := r.entries[h.UID]
	r.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	if e.kind != h.Kind {
		return zero, fmt.Errorf("%w: handle %s refers to %s %q", ErrKindMismatch, h, e.kind, e.name)
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s %q", ErrKindMismatch, h, e.name)
	}
	return v, nil
}

// MustGet is like Get but panics on an invalid or mismatched handle.
func MustGet[T any](r *Registry, h Handle) T {
	v, err := Get[T](r, h)
	if err != nil {
		panic(err)
	}
	return v
}

// Name returns the name the resource was created with.
func (r *Registry) Name(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h.UID]
	if !ok {
		return "", false
	}
	return e.name, true
}

// Release frees the resource immediately. The caller must ensure no
// submitted GPU work still references it; use a DeletionQueue otherwise.
func (r *Registry) Release(uid uint64) error {
	r.mu.Lock()
	e, ok := r.entries[uid]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: uid %d", ErrInvalidHandle, uid)
	}
	delete(r.entries, uid)
	r.used -= e.bytes
	r.released++
	r.mu.Unlock()

	r.destroy(e)
	return nil
}

func (r *Registry) destroy(e *entry) {
	switch e.kind {
	case KindBuffer:
		r.device.DestroyBuffer(e.value.(gpucore.Buffer))
	case KindImage:
		r.device.DestroyImage(e.value.(gpucore.Image))
	case KindSampler:
		r.device.DestroySampler(e.value.(gpucore.Sampler))
	}
}

// Stats returns current usage statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{
		UsedBytes:   r.used,
		BudgetBytes: r.budget,
		Created:     r.created,
		Released:    r.released,
	}
	for _, e := range r.entries {
		switch e.kind {
		case KindBuffer:
			s.Buffers++
		case KindImage:
			s.Images++
		case KindSampler:
			s.Samplers++
		}
	}
	return s
}

// Len returns the number of live resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close releases every live resource. Further creation fails with
// ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[uint64]*entry)
	r.released += uint64(len(entries))
	r.used = 0
	r.mu.Unlock()

	for _, e := range entries {
		r.destroy(e)
	}
}
