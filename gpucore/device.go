// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import "context"

// Buffer is a GPU buffer.
type Buffer interface {
	Label() string
	Size() uint64
}

// Image is a GPU image.
type Image interface {
	Label() string
	Desc() ImageDesc
}

// Sampler is a texture sampler.
type Sampler interface {
	Label() string
}

// Semaphore is a binary GPU-side signal. Each signal must be consumed by
// exactly one wait before the semaphore is signaled again.
type Semaphore interface {
	Label() string
}

// Fence is a GPU-to-host completion signal.
type Fence interface {
	Label() string
}

// TimestampPool is a pool of timestamp queries.
type TimestampPool interface {
	// Count returns the number of queries in the pool.
	Count() uint32

	// Results copies the current value and availability of every query in
	// [first, first+len(dst)) into dst without waiting.
	Results(first uint32, dst []Timestamp) error
}

// Recording is a reusable command list bound to one queue kind.
//
// Recording methods are not safe for concurrent use; distinct recordings may
// be recorded concurrently from different goroutines.
type Recording interface {
	Label() string
	Queue() QueueKind

	// Begin resets the recording and starts recording commands.
	Begin() error

	// End finishes recording. It returns the first error encountered by any
	// command recorded since Begin.
	End() error

	PipelineBarrier(barriers ...ImageBarrier)
	Dispatch(cmd DispatchCmd)
	Draw(cmd DrawCmd)
	UpdateBuffer(dst Buffer, offset uint64, data []byte)
	CopyBuffer(src, dst Buffer, size uint64)
	ResetTimestamps(pool TimestampPool, first, count uint32)
	WriteTimestamp(pool TimestampPool, query uint32, stage PipelineStage)
}

// Queue is an execution queue.
type Queue interface {
	Kind() QueueKind

	// Submit enqueues work. Every semaphore in info.Waits must have been
	// signaled by an earlier submission on any queue.
	Submit(info SubmitInfo) error
}

// Swapchain is a ring of presentable images.
type Swapchain interface {
	Format() Format
	Extent() (width, height uint32)
	Len() int

	// Acquire returns the next image index and signals the semaphore once
	// the image may be written.
	Acquire(ctx context.Context, signal Semaphore) (uint32, error)

	// Image returns the image at index.
	Image(index uint32) Image

	// Present queues the image for display on the graphics queue once wait
	// is signaled.
	Present(index uint32, wait Semaphore) error
}

// Device creates resources and owns the execution queues.
type Device interface {
	// Name identifies the device for logging.
	Name() string

	Queue(kind QueueKind) Queue

	CreateBuffer(label string, desc BufferDesc) (Buffer, error)
	DestroyBuffer(b Buffer)
	CreateImage(label string, desc ImageDesc) (Image, error)
	DestroyImage(img Image)
	CreateSampler(label string, desc SamplerDesc) (Sampler, error)
	DestroySampler(s Sampler)

	CreateRecording(kind QueueKind, label string) (Recording, error)
	DestroyRecording(r Recording)

	CreateSemaphore(label string) (Semaphore, error)
	DestroySemaphore(s Semaphore)

	// CreateFence creates a fence, optionally already signaled.
	CreateFence(label string, signaled bool) (Fence, error)
	DestroyFence(f Fence)
	WaitFence(ctx context.Context, f Fence) error
	ResetFence(f Fence) error

	CreateTimestampPool(count uint32) (TimestampPool, error)
	DestroyTimestampPool(p TimestampPool)

	// TimestampPeriod returns the number of nanoseconds per timestamp tick,
	// or 0 when timestamps are not supported.
	TimestampPeriod() float32

	CreateSwapchain(desc SwapchainDesc) (Swapchain, error)
	DestroySwapchain(s Swapchain)

	// WaitIdle blocks until all submitted work on every queue completes.
	WaitIdle(ctx context.Context) error

	// Destroy releases the device. Queued work is abandoned.
	Destroy()
}
