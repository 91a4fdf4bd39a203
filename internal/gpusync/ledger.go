// Package gpusync validates binary semaphore usage for device backends.
package gpusync

import (
	"fmt"
	"sync"

	"github.com/gogpu/atmos/gpucore"
)

// Ledger tracks which binary semaphores have a pending signal, in host
// submission order across all queues.
//
// A wait is valid only if an earlier submission signaled the semaphore and
// no other wait has consumed that signal. Because every wait refers to an
// earlier submission, FIFO queues driven by a valid submission history can
// never deadlock.
//
// Ledger is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex
	// pending maps a semaphore to the label of the submission that
	// signaled it.
	pending map[gpucore.Semaphore]string
}

// Submit validates and commits one submission's waits and signals. Waits
// are consumed before signals are added, so a submission may wait on and
// then re-signal the same semaphore. Nothing is committed on error.
func (l *Ledger) Submit(label string, waits []gpucore.SemaphoreWait, signals []gpucore.Semaphore) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending == nil {
		l.pending = make(map[gpucore.Semaphore]string)
	}

	consumed := make(map[gpucore.Semaphore]bool, len(waits))
	for _, w := range waits {
		if _, ok := l.pending[w.Semaphore]; !ok || consumed[w.Semaphore] {
			return fmt.Errorf("%w: %s waits on %s", gpucore.ErrWaitBeforeSignal, label, w.Semaphore.Label())
		}
		consumed[w.Semaphore] = true
	}

	added := make(map[gpucore.Semaphore]bool, len(signals))
	for _, s := range signals {
		by, ok := l.pending[s]
		if (ok && !consumed[s]) || added[s] {
			if !ok {
				by = label
			}
			return fmt.Errorf("%w: %s signals %s already signaled by %s",
				gpucore.ErrDoubleSignal, label, s.Label(), by)
		}
		added[s] = true
	}

	for s := range consumed {
		delete(l.pending, s)
	}
	for s := range added {
		l.pending[s] = label
	}
	return nil
}

// Pending reports whether s has a signal that no wait has consumed.
func (l *Ledger) Pending(s gpucore.Semaphore) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[s]
	return ok
}

// Forget drops any pending signal for s. Called when s is destroyed.
func (l *Ledger) Forget(s gpucore.Semaphore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, s)
}

// Len returns the number of semaphores with a pending signal.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
