package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Idler blocks until a device has no outstanding work.
type Idler interface {
	WaitIdle(ctx context.Context) error
}

// DeletionQueue defers releases until the device is known to be idle, so
// transient resources referenced by in-flight work are not freed early.
//
// DeletionQueue is safe for concurrent use.
type DeletionQueue struct {
	registry *Registry

	mu      sync.Mutex
	pending []Handle
}

// NewDeletionQueue creates a deletion queue releasing into registry.
func NewDeletionQueue(registry *Registry) *DeletionQueue {
	return &DeletionQueue{registry: registry}
}

// Queue schedules h for release at the next Flush.
func (q *DeletionQueue) Queue(h Handle) {
	if !h.IsValid() {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, h)
	q.mu.Unlock()
}

// Len returns the number of handles awaiting release.
func (q *DeletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush waits for the device to become idle and then releases every queued
// handle. If the idle wait fails nothing is released and the handles stay
// queued.
func (q *DeletionQueue) Flush(ctx context.Context, idler Idler) error {
	// Only handles queued before the idle wait are covered by it.
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	if err := idler.WaitIdle(ctx); err != nil {
		q.mu.Lock()
		q.pending = append(pending, q.pending...)
		q.mu.Unlock()
		return fmt.Errorf("resource: deletion queue idle wait: %w", err)
	}

	var errs []error
	for _, h := range pending {
		if err := q.registry.Release(h.UID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
