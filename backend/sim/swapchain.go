package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/atmos/gpucore"
)

// DefaultSwapchainImages is used when SwapchainDesc.Images is 0.
const DefaultSwapchainImages = 3

type swapchain struct {
	dev    *Device
	desc   gpucore.SwapchainDesc
	images []*image

	mu   sync.Mutex
	next uint32
}

// CreateSwapchain creates a swapchain whose images start graphics-owned in
// the undefined layout.
func (d *Device) CreateSwapchain(desc gpucore.SwapchainDesc) (gpucore.Swapchain, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	if desc.Images <= 0 {
		desc.Images = DefaultSwapchainImages
	}
	if desc.Format == gpucore.FormatUndefined {
		desc.Format = gpucore.FormatBGRA8Unorm
	}
	sc := &swapchain{dev: d, desc: desc}
	for i := range desc.Images {
		img, err := d.CreateImage(fmt.Sprintf("swapchain-%d", i), gpucore.ImageDesc{
			Width:   desc.Width,
			Height:  desc.Height,
			Format:  desc.Format,
			Usage:   gpucore.ImageUsageColorAttachment,
			Initial: gpucore.AccessState{Stage: gpucore.StageTopOfPipe, Queue: gpucore.QueueGraphics},
		})
		if err != nil {
			d.DestroySwapchain(sc)
			return nil, err
		}
		sc.images = append(sc.images, img.(*image))
	}
	return sc, nil
}

// DestroySwapchain destroys the swapchain images.
func (d *Device) DestroySwapchain(s gpucore.Swapchain) {
	sc, ok := s.(*swapchain)
	if !ok || sc.dev != d {
		return
	}
	for _, img := range sc.images {
		d.DestroyImage(img)
	}
	sc.images = nil
}

func (s *swapchain) Format() gpucore.Format           { return s.desc.Format }
func (s *swapchain) Extent() (uint32, uint32)         { return s.desc.Width, s.desc.Height }
func (s *swapchain) Len() int                         { return len(s.images) }
func (s *swapchain) Image(index uint32) gpucore.Image { return s.images[index] }

// Acquire hands out images round-robin. The presentation engine signals
// the semaphore immediately.
func (s *swapchain) Acquire(ctx context.Context, signal gpucore.Semaphore) (uint32, error) {
	d := s.dev
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.lost.Load() {
		return 0, gpucore.ErrDeviceLost
	}
	sem, err := d.semaphore(signal)
	if err != nil {
		return 0, err
	}
	if err := d.ledger.Submit(OpAcquire, nil, []gpucore.Semaphore{signal}); err != nil {
		return 0, err
	}

	s.mu.Lock()
	index := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	s.mu.Unlock()

	d.mu.Lock()
	d.seq++
	d.log = append(d.log, Submission{Seq: d.seq, Op: OpAcquire, Queue: gpucore.QueueGraphics, Signals: []string{sem.label}})
	d.mu.Unlock()

	sem.gpuSignal()
	return index, nil
}

// Present queues a present operation on the graphics queue.
func (s *swapchain) Present(index uint32, wait gpucore.Semaphore) error {
	d := s.dev
	if d.lost.Load() {
		return gpucore.ErrDeviceLost
	}
	if int(index) >= len(s.images) {
		return fmt.Errorf("sim: swapchain image %d out of range", index)
	}
	sem, err := d.semaphore(wait)
	if err != nil {
		return err
	}
	q := d.queues[gpucore.QueueGraphics]
	sub := &submission{waits: []*semaphore{sem}, present: s.images[index]}
	entry := Submission{Op: OpPresent, Queue: gpucore.QueueGraphics, Waits: []string{sem.label}}
	waits := []gpucore.SemaphoreWait{{Semaphore: wait, Stage: gpucore.StageBottomOfPipe}}
	return q.enqueue(sub, entry, waits, nil)
}
