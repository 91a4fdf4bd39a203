package parallel

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrJobFailed wraps the first error or panic reported by a job since the
// last Wait.
var ErrJobFailed = errors.New("parallel: job failed")

// Job is a unit of work executed by the pool.
type Job func() error

// WorkerPool is a fixed-size pool of goroutines pulling jobs from one shared
// FIFO queue.
//
// Wait is a full barrier: it returns once the queue is empty and no job is
// executing. Errors returned by jobs, and panics recovered from them, are
// reported by the next Wait.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	mu sync.Mutex

	// life serializes SetThreadCount and Close, so that no worker
	// generation starts after Close.
	life sync.Mutex

	// work wakes idle workers; idle wakes goroutines blocked in Wait.
	work *sync.Cond
	idle *sync.Cond

	// queue holds submitted jobs in FIFO order.
	queue []Job

	// active is the number of jobs currently executing.
	active int

	// workers is the number of started workers that have not exited.
	workers int

	// stop asks the current generation of workers to exit.
	stop bool

	// firstErr is the first job failure since the last Wait.
	firstErr error

	// wg waits for the current workers to exit.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for work.
func NewWorkerPool(workers int) *WorkerPool {
	p := &WorkerPool{}
	p.work = sync.NewCond(&p.mu)
	p.idle = sync.NewCond(&p.mu)
	p.running.Store(true)
	p.SetThreadCount(workers)
	return p
}

// SetThreadCount stops and joins all existing workers, then starts n new
// ones. Workers finish the job they are running but take no further jobs;
// jobs still queued are picked up by the new workers.
// If n is 0 or negative, GOMAXPROCS is used.
// SetThreadCount must not be called from inside a job.
func (p *WorkerPool) SetThreadCount(n int) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p.life.Lock()
	defer p.life.Unlock()
	if !p.running.Load() {
		return
	}

	p.mu.Lock()
	p.stop = true
	p.work.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()

	p.mu.Lock()
	if !p.running.Load() {
		// Closed while joining.
		p.mu.Unlock()
		return
	}
	p.stop = false
	p.workers = n
	p.wg.Add(n)
	p.mu.Unlock()

	for range n {
		go p.worker()
	}
}

// worker is the main loop for each worker goroutine.
func (p *WorkerPool) worker() {
	defer p.wg.Done()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for len(p.queue) == 0 && !p.stop {
			p.work.Wait()
		}
		if p.stop {
			p.workers--
			return
		}

		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		err := run(job)

		p.mu.Lock()
		p.active--
		if err != nil && p.firstErr == nil {
			p.firstErr = err
		}
		if p.active == 0 && len(p.queue) == 0 {
			p.idle.Broadcast()
		}
	}
}

// run executes job, converting a panic into an error.
func run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v\n%s", ErrJobFailed, r, debug.Stack())
		}
	}()
	if e := job(); e != nil {
		return fmt.Errorf("%w: %w", ErrJobFailed, e)
	}
	return nil
}

// Submit enqueues a job and wakes one idle worker. It never blocks.
// If the pool is closed, this is a no-op.
func (p *WorkerPool) Submit(job Job) {
	if job == nil || !p.running.Load() {
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, job)
	p.mu.Unlock()
	p.work.Signal()
}

// Wait blocks until the queue is empty and no job is executing, then
// returns the first job failure since the previous Wait, if any.
// Wait returns immediately after Close.
func (p *WorkerPool) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for (len(p.queue) > 0 || p.active > 0) && p.running.Load() {
		p.idle.Wait()
	}
	err := p.firstErr
	p.firstErr = nil
	return err
}

// Close stops all workers and discards queued jobs. Jobs already executing
// run to completion before Close returns.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		// Already closed
		return
	}
	p.life.Lock()
	defer p.life.Unlock()

	p.mu.Lock()
	p.stop = true
	p.queue = nil
	p.work.Broadcast()
	p.idle.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

// Workers returns the number of workers started by the last
// SetThreadCount that have not exited yet. Workers are counted from the
// moment SetThreadCount returns, before their goroutines are scheduled.
func (p *WorkerPool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Active returns the number of jobs currently executing.
func (p *WorkerPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// QueuedWork returns the number of jobs waiting for a worker.
func (p *WorkerPool) QueuedWork() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
