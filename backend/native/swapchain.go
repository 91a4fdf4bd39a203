// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/atmos/gpucore"
)

// DefaultSwapchainImages is used when SwapchainDesc.Images is 0.
const DefaultSwapchainImages = 3

// swapchain is an offscreen image ring. Surfaces belong to the windowing
// host; Present only validates ordering and rotates the ring.
type swapchain struct {
	dev    *Device
	desc   gpucore.SwapchainDesc
	images []*image

	mu        sync.Mutex
	next      uint32
	presented int
}

// CreateSwapchain creates the offscreen image ring. An undefined format
// selects the provider's surface format, or BGRA8.
func (d *Device) CreateSwapchain(desc gpucore.SwapchainDesc) (gpucore.Swapchain, error) {
	if d.lost.Load() {
		return nil, gpucore.ErrDeviceLost
	}
	if desc.Images <= 0 {
		desc.Images = DefaultSwapchainImages
	}
	if desc.Format == gpucore.FormatUndefined {
		desc.Format = d.opts.format
	}
	sc := &swapchain{dev: d, desc: desc}
	for i := range desc.Images {
		img, err := d.createImage(fmt.Sprintf("swapchain-%d", i), gpucore.ImageDesc{
			Width:   desc.Width,
			Height:  desc.Height,
			Format:  desc.Format,
			Usage:   gpucore.ImageUsageColorAttachment | gpucore.ImageUsageCopySrc,
			Initial: gpucore.AccessState{Stage: gpucore.StageTopOfPipe, Queue: gpucore.QueueGraphics},
		})
		if err != nil {
			d.DestroySwapchain(sc)
			return nil, err
		}
		sc.images = append(sc.images, img)
	}
	d.live.Add(1)
	return sc, nil
}

// DestroySwapchain destroys the swapchain images.
func (d *Device) DestroySwapchain(s gpucore.Swapchain) {
	sc, ok := s.(*swapchain)
	if !ok || sc.dev != d {
		return
	}
	for _, img := range sc.images {
		d.destroyImage(img)
	}
	if sc.images != nil {
		sc.images = nil
		d.live.Add(-1)
	}
}

func (s *swapchain) Format() gpucore.Format           { return s.desc.Format }
func (s *swapchain) Extent() (uint32, uint32)         { return s.desc.Width, s.desc.Height }
func (s *swapchain) Len() int                         { return len(s.images) }
func (s *swapchain) Image(index uint32) gpucore.Image { return s.images[index] }

// Presented returns the number of presented images.
func (s *swapchain) Presented() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

// Acquire hands out images round-robin and signals signal immediately.
func (s *swapchain) Acquire(ctx context.Context, signal gpucore.Semaphore) (uint32, error) {
	d := s.dev
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if d.lost.Load() {
		return 0, gpucore.ErrDeviceLost
	}
	if err := d.checkSemaphore(signal); err != nil {
		return 0, err
	}
	if err := d.ledger.Submit("acquire", nil, []gpucore.Semaphore{signal}); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return index, nil
}

// Present consumes wait and retires the image.
func (s *swapchain) Present(index uint32, wait gpucore.Semaphore) error {
	d := s.dev
	if d.lost.Load() {
		return gpucore.ErrDeviceLost
	}
	if int(index) >= len(s.images) {
		return fmt.Errorf("native: swapchain image %d out of range", index)
	}
	if err := d.checkSemaphore(wait); err != nil {
		return err
	}
	waits := []gpucore.SemaphoreWait{{Semaphore: wait, Stage: gpucore.StageBottomOfPipe}}
	if err := d.ledger.Submit("present", waits, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.presented++
	s.mu.Unlock()
	return nil
}
