package sim

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/atmos/gpucore"
)

// Submission operations recorded in the log.
const (
	OpSubmit  = "submit"
	OpAcquire = "acquire"
	OpPresent = "present"
)

// Submission is one entry of the host-order submission log.
type Submission struct {
	Seq        int
	Op         string
	Queue      gpucore.QueueKind
	Recordings []string
	Waits      []string
	Signals    []string
	Fence      string
}

// String formats the submission for test output.
func (s Submission) String() string {
	return fmt.Sprintf("#%d %s %s rec=[%s] wait=[%s] signal=[%s]", s.Seq, s.Op, s.Queue,
		strings.Join(s.Recordings, ","), strings.Join(s.Waits, ","), strings.Join(s.Signals, ","))
}

// submission is work queued for an executor.
type submission struct {
	seq     int
	recs    []recSnapshot
	waits   []*semaphore
	signals []*semaphore
	fence   *fence
	present *image
}

type recSnapshot struct {
	label string
	cmds  []command
}

type queue struct {
	dev  *Device
	kind gpucore.QueueKind
	work chan *submission

	// submitMu keeps ledger order, log order and executor order identical
	// for submissions to this queue.
	submitMu sync.Mutex

	// clock is only touched by the executor goroutine.
	clock uint64
}

func (q *queue) Kind() gpucore.QueueKind { return q.kind }

// Submit validates info and enqueues it for execution.
func (q *queue) Submit(info gpucore.SubmitInfo) error {
	d := q.dev
	if d.lost.Load() {
		return gpucore.ErrDeviceLost
	}

	sub := &submission{}
	entry := Submission{Op: OpSubmit, Queue: q.kind}
	for _, r := range info.Recordings {
		sr, ok := r.(*recording)
		if !ok || sr.dev != d {
			return fmt.Errorf("%w: recording", gpucore.ErrForeignObject)
		}
		if sr.kind != q.kind {
			return fmt.Errorf("%w: %s (%s) on %s queue", gpucore.ErrWrongQueue, sr.label, sr.kind, q.kind)
		}
		if sr.state != recExecutable {
			return fmt.Errorf("%w: %s not ended", gpucore.ErrNotRecording, sr.label)
		}
		sub.recs = append(sub.recs, recSnapshot{label: sr.label, cmds: append([]command(nil), sr.cmds...)})
		entry.Recordings = append(entry.Recordings, sr.label)
	}
	for _, w := range info.Waits {
		s, err := d.semaphore(w.Semaphore)
		if err != nil {
			return err
		}
		sub.waits = append(sub.waits, s)
		entry.Waits = append(entry.Waits, s.label)
	}
	for _, sig := range info.Signals {
		s, err := d.semaphore(sig)
		if err != nil {
			return err
		}
		sub.signals = append(sub.signals, s)
		entry.Signals = append(entry.Signals, s.label)
	}
	if info.Fence != nil {
		f, ok := info.Fence.(*fence)
		if !ok || f.dev != d {
			return fmt.Errorf("%w: fence", gpucore.ErrForeignObject)
		}
		sub.fence = f
		entry.Fence = f.label
	}

	return q.enqueue(sub, entry, info.Waits, info.Signals)
}

func (q *queue) enqueue(sub *submission, entry Submission, waits []gpucore.SemaphoreWait, signals []gpucore.Semaphore) error {
	d := q.dev
	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	label := entry.Op + ":" + strings.Join(entry.Recordings, ",")
	if err := d.ledger.Submit(label, waits, signals); err != nil {
		return err
	}

	d.mu.Lock()
	d.seq++
	sub.seq = d.seq
	entry.Seq = d.seq
	d.log = append(d.log, entry)
	if d.inflight == 0 {
		d.idle = make(chan struct{})
	}
	d.inflight++
	d.mu.Unlock()

	select {
	case q.work <- sub:
		return nil
	case <-d.done:
		return gpucore.ErrDeviceLost
	}
}

func (d *Device) semaphore(s gpucore.Semaphore) (*semaphore, error) {
	ss, ok := s.(*semaphore)
	if !ok || ss.dev != d {
		return nil, fmt.Errorf("%w: semaphore", gpucore.ErrForeignObject)
	}
	return ss, nil
}

// run is the executor loop.
func (q *queue) run() {
	defer q.dev.wg.Done()
	for {
		select {
		case <-q.dev.done:
			return
		case sub := <-q.work:
			if !q.execute(sub) {
				return
			}
		}
	}
}

// execute runs one submission. It returns false if the device was
// destroyed while waiting.
func (q *queue) execute(sub *submission) bool {
	d := q.dev
	for _, s := range sub.waits {
		select {
		case <-s.signal:
		case <-d.done:
			return false
		}
	}

	for _, rec := range sub.recs {
		ec := execCtx{seq: sub.seq, queue: q.kind, recording: rec.label}
		for i := range rec.cmds {
			q.exec(ec, &rec.cmds[i])
		}
	}

	if sub.present != nil {
		d.mu.Lock()
		ec := execCtx{seq: sub.seq, queue: q.kind, recording: OpPresent}
		d.checkAccess(ec, sub.present)
		if st, ok := d.owners[sub.present]; ok && st.state.Layout != gpucore.LayoutPresent {
			d.violate(ec, sub.present, reasonNotPresentable)
		}
		d.presented++
		d.mu.Unlock()
	}

	for _, s := range sub.signals {
		s.gpuSignal()
	}
	if sub.fence != nil {
		sub.fence.fire()
	}

	d.mu.Lock()
	d.inflight--
	if d.inflight == 0 {
		close(d.idle)
	}
	d.mu.Unlock()
	return true
}

func (q *queue) exec(ec execCtx, c *command) {
	d := q.dev
	switch c.kind {
	case cmdBarrier:
		q.clock++
		d.mu.Lock()
		for _, b := range c.barriers {
			d.applyBarrier(ec, b)
		}
		d.mu.Unlock()

	case cmdDispatch:
		q.clock += uint64(max(c.dispatch.X, 1)) * uint64(max(c.dispatch.Y, 1)) * uint64(max(c.dispatch.Z, 1))
		d.mu.Lock()
		d.checkAccess(ec, c.dispatch.Reads...)
		d.checkAccess(ec, c.dispatch.Writes...)
		d.mu.Unlock()

	case cmdDraw:
		prims := max(c.draw.Indices, c.draw.Vertices) / 3
		q.clock += uint64(max(prims, 1)) * uint64(max(c.draw.Instances, 1))
		d.mu.Lock()
		d.checkAccess(ec, c.draw.Color...)
		d.checkAccess(ec, c.draw.Depth)
		d.checkAccess(ec, c.draw.Reads...)
		d.mu.Unlock()

	case cmdUpdate:
		q.clock++
		c.dst.mu.Lock()
		copy(c.dst.data[c.offset:], c.data)
		c.dst.mu.Unlock()

	case cmdCopy:
		q.clock += c.size/256 + 1
		src := c.src.Bytes()
		c.dst.mu.Lock()
		copy(c.dst.data, src[:c.size])
		c.dst.mu.Unlock()

	case cmdResetTimestamps:
		c.pool.reset(c.first, c.count)

	case cmdWriteTimestamp:
		q.clock++
		d.mu.Lock()
		held := d.holdTS
		if held {
			d.heldWrites = append(d.heldWrites, heldWrite{pool: c.pool, query: c.first, value: q.clock})
		}
		d.mu.Unlock()
		c.pool.write(c.first, q.clock, !held)
	}
}
