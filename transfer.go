package atmos

import (
	"errors"
	"fmt"

	"github.com/gogpu/atmos/gpucore"
)

// Handoff errors.
var (
	// ErrAcquireBeforeRelease is returned by Acquire when the slot's
	// release has not been submitted in the current generation.
	ErrAcquireBeforeRelease = errors.New("atmos: acquire before release")

	// ErrDuplicateTransfer is returned by Release or Acquire when the
	// operation already ran in the current generation.
	ErrDuplicateTransfer = errors.New("atmos: transfer already submitted in this generation")

	// ErrIncompleteTransfer is returned by Begin when the previous
	// generation released its images without acquiring them.
	ErrIncompleteTransfer = errors.New("atmos: previous transfer was released but never acquired")

	// ErrQueueMismatch is returned by NewHandoff when the shared images do
	// not all move between the same two distinct queues.
	ErrQueueMismatch = errors.New("atmos: shared images disagree on transfer queues")
)

// SharedImage is an image handed between queues, with the state its
// producer leaves it in and the state its consumer expects.
type SharedImage struct {
	Image    gpucore.Image
	Producer gpucore.AccessState
	Consumer gpucore.AccessState
}

func (s SharedImage) barrier() gpucore.ImageBarrier {
	return gpucore.ImageBarrier{Image: s.Image, Src: s.Producer, Dst: s.Consumer}
}

// Phase is the progress of one slot's transfer in its current generation.
type Phase uint8

// Transfer phases.
const (
	PhaseIdle Phase = iota
	PhaseReleased
	PhaseAcquired
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReleased:
		return "released"
	case PhaseAcquired:
		return "acquired"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}

// Handoff moves a fixed set of images from one queue to another once per
// frame slot generation. The release recording runs on the producer queue
// and signals a per-slot semaphore that the acquire recording on the
// consumer queue waits for. Both record the same barriers.
//
// A Handoff is used from the frame goroutine only.
type Handoff struct {
	name     string
	dev      gpucore.Device
	from, to gpucore.QueueKind
	images   []SharedImage
	slots    []handoffSlot
}

type handoffSlot struct {
	release gpucore.Recording
	acquire gpucore.Recording
	sync    gpucore.Semaphore
	phase   Phase
}

// NewHandoff creates the recordings and semaphores of a handoff for slots
// frame slots. Every image must be produced on one queue and consumed on
// another, the same pair for all images.
func NewHandoff(dev gpucore.Device, name string, slots int, images []SharedImage) (*Handoff, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: %s has no images", ErrQueueMismatch, name)
	}
	from, to := images[0].Producer.Queue, images[0].Consumer.Queue
	if from == to {
		return nil, fmt.Errorf("%w: %s stays on %s", ErrQueueMismatch, name, from)
	}
	for _, img := range images {
		if img.Image == nil {
			return nil, fmt.Errorf("atmos: %s: nil shared image", name)
		}
		if img.Producer.Queue != from || img.Consumer.Queue != to {
			return nil, fmt.Errorf("%w: %s: %s moves %s->%s, want %s->%s", ErrQueueMismatch,
				name, img.Image.Label(), img.Producer.Queue, img.Consumer.Queue, from, to)
		}
	}

	h := &Handoff{
		name:   name,
		dev:    dev,
		from:   from,
		to:     to,
		images: append([]SharedImage(nil), images...),
		slots:  make([]handoffSlot, slots),
	}
	for i := range h.slots {
		s := &h.slots[i]
		var err error
		if s.release, err = dev.CreateRecording(from, fmt.Sprintf("%s-release-%d", name, i)); err != nil {
			h.Destroy()
			return nil, err
		}
		if s.acquire, err = dev.CreateRecording(to, fmt.Sprintf("%s-acquire-%d", name, i)); err != nil {
			h.Destroy()
			return nil, err
		}
		if s.sync, err = dev.CreateSemaphore(fmt.Sprintf("%s-sync-%d", name, i)); err != nil {
			h.Destroy()
			return nil, err
		}
	}
	return h, nil
}

// Name returns the handoff name.
func (h *Handoff) Name() string { return h.name }

// Queues returns the producer and consumer queues.
func (h *Handoff) Queues() (from, to gpucore.QueueKind) { return h.from, h.to }

// Images returns the shared images.
func (h *Handoff) Images() []SharedImage { return append([]SharedImage(nil), h.images...) }

// Phase returns the phase of slot in its current generation.
func (h *Handoff) Phase(slot int) Phase { return h.slots[slot].phase }

// Begin starts a new generation of slot. It fails if the previous
// generation was released but not acquired, since its images are still in
// transit.
func (h *Handoff) Begin(slot int) error {
	s := &h.slots[slot]
	if s.phase == PhaseReleased {
		return fmt.Errorf("%w: %s slot %d", ErrIncompleteTransfer, h.name, slot)
	}
	s.phase = PhaseIdle
	return nil
}

// Release records the release barriers on the producer queue and submits
// them after waits. The submission signals the slot's handoff semaphore.
func (h *Handoff) Release(slot int, waits []gpucore.SemaphoreWait) error {
	s := &h.slots[slot]
	if s.phase != PhaseIdle {
		return fmt.Errorf("%w: %s release of slot %d (%s)", ErrDuplicateTransfer, h.name, slot, s.phase)
	}
	if err := h.submit(s.release, waits, []gpucore.Semaphore{s.sync}); err != nil {
		return err
	}
	s.phase = PhaseReleased
	return nil
}

// Acquire records the acquire barriers on the consumer queue. The
// submission waits for the slot's release at stage and signals signals.
func (h *Handoff) Acquire(slot int, stage gpucore.PipelineStage, signals []gpucore.Semaphore) error {
	s := &h.slots[slot]
	switch s.phase {
	case PhaseIdle:
		return fmt.Errorf("%w: %s slot %d", ErrAcquireBeforeRelease, h.name, slot)
	case PhaseAcquired:
		return fmt.Errorf("%w: %s acquire of slot %d", ErrDuplicateTransfer, h.name, slot)
	}
	waits := []gpucore.SemaphoreWait{{Semaphore: s.sync, Stage: stage}}
	if err := h.submit(s.acquire, waits, signals); err != nil {
		return err
	}
	s.phase = PhaseAcquired
	return nil
}

func (h *Handoff) submit(rec gpucore.Recording, waits []gpucore.SemaphoreWait, signals []gpucore.Semaphore) error {
	if err := rec.Begin(); err != nil {
		return fmt.Errorf("atmos: %s: %w", rec.Label(), err)
	}
	barriers := make([]gpucore.ImageBarrier, len(h.images))
	for i, img := range h.images {
		barriers[i] = img.barrier()
	}
	rec.PipelineBarrier(barriers...)
	if err := rec.End(); err != nil {
		return fmt.Errorf("atmos: %s: %w", rec.Label(), err)
	}
	err := h.dev.Queue(rec.Queue()).Submit(gpucore.SubmitInfo{
		Recordings: []gpucore.Recording{rec},
		Waits:      waits,
		Signals:    signals,
	})
	if err != nil {
		return fmt.Errorf("atmos: submit %s: %w", rec.Label(), err)
	}
	return nil
}

// Destroy releases the recordings and semaphores. The device must be idle.
func (h *Handoff) Destroy() {
	for i := range h.slots {
		s := &h.slots[i]
		if s.release != nil {
			h.dev.DestroyRecording(s.release)
		}
		if s.acquire != nil {
			h.dev.DestroyRecording(s.acquire)
		}
		if s.sync != nil {
			h.dev.DestroySemaphore(s.sync)
		}
		*s = handoffSlot{}
	}
}
