package atmos

import (
	"fmt"

	"github.com/gogpu/atmos/gpucore"
)

// frameSlot is one generation's worth of per-frame objects. The fence is
// signaled by the slot's final submission and waited on before the slot
// is recorded again.
type frameSlot struct {
	fence gpucore.Fence

	depth       gpucore.Recording
	clouds      gpucore.Recording
	atmosphere  gpucore.Recording
	terrain     gpucore.Recording
	composition gpucore.Recording

	imageAvailable  gpucore.Semaphore
	depthReady      gpucore.Semaphore
	g2cClouds       gpucore.Semaphore
	g2cAtmosphere   gpucore.Semaphore
	g2cGeometry     gpucore.Semaphore
	cloudsReady     gpucore.Semaphore
	atmosphereReady gpucore.Semaphore
	terrainReady    gpucore.Semaphore
	c2gTransfer     gpucore.Semaphore
	renderFinished  gpucore.Semaphore
}

func newFrameSlot(dev gpucore.Device, index int) (*frameSlot, error) {
	s := &frameSlot{}
	recordings := []struct {
		dst  *gpucore.Recording
		kind gpucore.QueueKind
		name string
	}{
		{&s.depth, gpucore.QueueGraphics, "depth"},
		{&s.clouds, gpucore.QueueCompute, "clouds"},
		{&s.atmosphere, gpucore.QueueCompute, "atmosphere"},
		{&s.terrain, gpucore.QueueGraphics, "terrain"},
		{&s.composition, gpucore.QueueGraphics, "composition"},
	}
	for _, r := range recordings {
		rec, err := dev.CreateRecording(r.kind, fmt.Sprintf("%s-%d", r.name, index))
		if err != nil {
			s.destroy(dev)
			return nil, fmt.Errorf("atmos: frame slot %d: %w", index, err)
		}
		*r.dst = rec
	}

	semaphores := []struct {
		dst  *gpucore.Semaphore
		name string
	}{
		{&s.imageAvailable, "image-available"},
		{&s.depthReady, "depth-ready"},
		{&s.g2cClouds, "g2c-clouds"},
		{&s.g2cAtmosphere, "g2c-atmosphere"},
		{&s.g2cGeometry, "g2c-geometry"},
		{&s.cloudsReady, "clouds-ready"},
		{&s.atmosphereReady, "atmosphere-ready"},
		{&s.terrainReady, "terrain-ready"},
		{&s.c2gTransfer, "c2g-transfer"},
		{&s.renderFinished, "render-finished"},
	}
	for _, sem := range semaphores {
		v, err := dev.CreateSemaphore(fmt.Sprintf("%s-%d", sem.name, index))
		if err != nil {
			s.destroy(dev)
			return nil, fmt.Errorf("atmos: frame slot %d: %w", index, err)
		}
		*sem.dst = v
	}

	// Signaled so that the first wait returns at once.
	fence, err := dev.CreateFence(fmt.Sprintf("frame-%d", index), true)
	if err != nil {
		s.destroy(dev)
		return nil, fmt.Errorf("atmos: frame slot %d: %w", index, err)
	}
	s.fence = fence
	return s, nil
}

func (s *frameSlot) destroy(dev gpucore.Device) {
	for _, rec := range []gpucore.Recording{s.depth, s.clouds, s.atmosphere, s.terrain, s.composition} {
		if rec != nil {
			dev.DestroyRecording(rec)
		}
	}
	sems := []gpucore.Semaphore{
		s.imageAvailable, s.depthReady, s.g2cClouds, s.g2cAtmosphere, s.g2cGeometry,
		s.cloudsReady, s.atmosphereReady, s.terrainReady, s.c2gTransfer, s.renderFinished,
	}
	for _, sem := range sems {
		if sem != nil {
			dev.DestroySemaphore(sem)
		}
	}
	if s.fence != nil {
		dev.DestroyFence(s.fence)
	}
	*s = frameSlot{}
}
