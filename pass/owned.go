package pass

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/atmos/gpucore"
	"github.com/gogpu/atmos/resource"
)

// owned is the set of registry resources a unit created. Pointers are
// resolved at creation so recording never touches the registry.
type owned struct {
	reg     *resource.Registry
	handles []resource.Handle
}

func (o *owned) image(ctx *Context, name string, desc gpucore.ImageDesc) (gpucore.Image, error) {
	h, err := ctx.Registry.CreateImage(name, desc)
	if err != nil {
		return nil, err
	}
	o.track(ctx, h)
	return resource.Get[gpucore.Image](ctx.Registry, h)
}

func (o *owned) buffer(ctx *Context, name string, desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	h, err := ctx.Registry.CreateBuffer(name, desc)
	if err != nil {
		return nil, err
	}
	o.track(ctx, h)
	return resource.Get[gpucore.Buffer](ctx.Registry, h)
}

func (o *owned) sampler(ctx *Context, name string, desc gpucore.SamplerDesc) (gpucore.Sampler, error) {
	h, err := ctx.Registry.CreateSampler(name, desc)
	if err != nil {
		return nil, err
	}
	o.track(ctx, h)
	return resource.Get[gpucore.Sampler](ctx.Registry, h)
}

func (o *owned) track(ctx *Context, h resource.Handle) {
	o.reg = ctx.Registry
	o.handles = append(o.handles, h)
}

// release frees every owned resource. Errors for handles the registry
// already dropped, for example after Registry.Close, are ignored.
func (o *owned) release() {
	if o.reg == nil {
		return
	}
	for _, h := range o.handles {
		_ = o.reg.Release(h.UID)
	}
	o.handles = nil
}

// uniforms is one host-updated buffer per frame slot. Update packs data on
// the frame goroutine; record writes it into the slot's buffer ahead of the
// commands that read it.
type uniforms struct {
	buffers []gpucore.Buffer
	data    [][]byte
}

func newUniforms(ctx *Context, o *owned, name string, size uint64) (*uniforms, error) {
	u := &uniforms{
		buffers: make([]gpucore.Buffer, ctx.FramesInFlight),
		data:    make([][]byte, ctx.FramesInFlight),
	}
	for i := range u.buffers {
		b, err := o.buffer(ctx, fmt.Sprintf("%s-uniform-%d", name, i), gpucore.BufferDesc{
			Size:        size,
			Usage:       gpucore.BufferUsageUniform,
			HostVisible: true,
		})
		if err != nil {
			return nil, err
		}
		u.buffers[i] = b
		u.data[i] = make([]byte, size)
	}
	return u, nil
}

// slot returns the staging bytes of slot for packing.
func (u *uniforms) slot(slot int) []byte { return u.data[slot] }

func (u *uniforms) buffer(slot int) gpucore.Buffer { return u.buffers[slot] }

func (u *uniforms) record(rec gpucore.Recording, slot int) error {
	if slot < 0 || slot >= len(u.buffers) {
		return fmt.Errorf("pass: frame slot %d out of range [0,%d)", slot, len(u.buffers))
	}
	rec.UpdateBuffer(u.buffers[slot], 0, u.data[slot])
	return nil
}

// submitOnce records a one-off graphics recording, submits it and waits
// for it to complete. Staging buffers it used can be queued for deletion
// afterwards.
func submitOnce(ctx *Context, label string, record func(rec gpucore.Recording) error) (err error) {
	dev := ctx.Device
	rec, err := dev.CreateRecording(gpucore.QueueGraphics, label)
	if err != nil {
		return fmt.Errorf("pass: %s: %w", label, err)
	}
	defer dev.DestroyRecording(rec)

	fence, err := dev.CreateFence(label, false)
	if err != nil {
		return fmt.Errorf("pass: %s: %w", label, err)
	}
	defer dev.DestroyFence(fence)

	if err := rec.Begin(); err != nil {
		return err
	}
	recErr := record(rec)
	if err := errors.Join(recErr, rec.End()); err != nil {
		return fmt.Errorf("pass: %s: %w", label, err)
	}
	info := gpucore.SubmitInfo{Recordings: []gpucore.Recording{rec}, Fence: fence}
	if err := dev.Queue(gpucore.QueueGraphics).Submit(info); err != nil {
		return fmt.Errorf("pass: %s: submit: %w", label, err)
	}
	if err := dev.WaitFence(context.Background(), fence); err != nil {
		return fmt.Errorf("pass: %s: %w", label, err)
	}
	return nil
}

// upload creates a device-local buffer filled from a host-visible staging
// buffer. The staging buffer goes to the deletion queue, or is released at
// once when the context has none.
func upload(ctx *Context, o *owned, name string, usage gpucore.BufferUsage, data []byte) (gpucore.Buffer, error) {
	size := uint64(len(data))
	dst, err := o.buffer(ctx, name, gpucore.BufferDesc{Size: size, Usage: usage | gpucore.BufferUsageCopyDst})
	if err != nil {
		return nil, err
	}
	sh, err := ctx.Registry.CreateBuffer(name+"-staging", gpucore.BufferDesc{
		Size:        size,
		Usage:       gpucore.BufferUsageCopySrc,
		HostVisible: true,
	})
	if err != nil {
		return nil, err
	}
	staging, err := resource.Get[gpucore.Buffer](ctx.Registry, sh)
	if err != nil {
		return nil, err
	}

	err = submitOnce(ctx, name+"-upload", func(rec gpucore.Recording) error {
		rec.UpdateBuffer(staging, 0, data)
		rec.CopyBuffer(staging, dst, size)
		return nil
	})
	if ctx.Deletions != nil {
		ctx.Deletions.Queue(sh)
	} else {
		_ = ctx.Registry.Release(sh.UID)
	}
	if err != nil {
		return nil, err
	}
	return dst, nil
}
