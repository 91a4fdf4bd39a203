// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"strings"

	"github.com/gogpu/atmos/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// queue is a gpucore queue kind routed to the device's HAL queue.
type queue struct {
	dev  *Device
	kind gpucore.QueueKind
}

func (q *queue) Kind() gpucore.QueueKind { return q.kind }

// hostWrite is an UpdateBuffer performed through Queue.WriteBuffer ahead
// of the submission that recorded it.
type hostWrite struct {
	dst    *buffer
	offset uint64
	data   []byte
}

// encoded is the HAL form of one submission. post runs after the HAL
// submit with the fence value assigned to it.
type encoded struct {
	cbs    []hal.CommandBuffer
	writes []hostWrite
	post   []func(value uint64)
}

// Submit validates info, encodes its recordings into HAL command buffers
// and submits them to the HAL queue.
func (q *queue) Submit(info gpucore.SubmitInfo) error {
	d := q.dev
	if d.lost.Load() {
		return gpucore.ErrDeviceLost
	}

	recs := make([]*recording, 0, len(info.Recordings))
	labels := make([]string, 0, len(info.Recordings))
	for _, r := range info.Recordings {
		nr, ok := r.(*recording)
		if !ok || nr.dev != d {
			return fmt.Errorf("%w: recording", gpucore.ErrForeignObject)
		}
		if nr.kind != q.kind {
			return fmt.Errorf("%w: %s (%s) on %s queue", gpucore.ErrWrongQueue, nr.label, nr.kind, q.kind)
		}
		if nr.state != recExecutable {
			return fmt.Errorf("%w: %s not ended", gpucore.ErrNotRecording, nr.label)
		}
		recs = append(recs, nr)
		labels = append(labels, nr.label)
	}
	for _, w := range info.Waits {
		if err := d.checkSemaphore(w.Semaphore); err != nil {
			return err
		}
	}
	for _, s := range info.Signals {
		if err := d.checkSemaphore(s); err != nil {
			return err
		}
	}
	var f *fence
	if info.Fence != nil {
		nf, ok := info.Fence.(*fence)
		if !ok || nf.dev != d {
			return fmt.Errorf("%w: fence", gpucore.ErrForeignObject)
		}
		f = nf
	}
	label := q.kind.String() + ":" + strings.Join(labels, ",")

	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	enc, err := d.encode(recs)
	if err != nil {
		return err
	}
	if err := d.ledger.Submit(label, info.Waits, info.Signals); err != nil {
		d.free(enc.cbs)
		return err
	}

	value := d.submitted + 1
	for _, w := range enc.writes {
		d.rawQueue.WriteBuffer(w.dst.raw, w.offset, w.data)
	}
	if err := d.rawQueue.Submit(enc.cbs, d.fence, value); err != nil {
		d.free(enc.cbs)
		d.lost.Store(true)
		return fmt.Errorf("%w: submit %s: %v", gpucore.ErrDeviceLost, label, err)
	}
	d.submitted = value
	for _, p := range enc.post {
		p(value)
	}
	if f != nil {
		f.arm(value)
	}
	d.pending = append(d.pending, inflight{value: value, cbs: enc.cbs})
	d.retire()

	d.opts.logger.Debug("native: submit", "label", label, "value", value,
		"waits", len(info.Waits), "signals", len(info.Signals))
	return nil
}

func (d *Device) checkSemaphore(s gpucore.Semaphore) error {
	ns, ok := s.(*semaphore)
	if !ok || ns.dev != d {
		return fmt.Errorf("%w: semaphore", gpucore.ErrForeignObject)
	}
	return nil
}

// encode turns recordings into command buffers. d.submitMu must be held.
func (d *Device) encode(recs []*recording) (encoded, error) {
	var enc encoded
	for _, r := range recs {
		cb, err := d.encodeRecording(r, &enc)
		if err != nil {
			d.free(enc.cbs)
			return encoded{}, err
		}
		enc.cbs = append(enc.cbs, cb)
	}
	return enc, nil
}

func (d *Device) encodeRecording(r *recording, enc *encoded) (hal.CommandBuffer, error) {
	encoder, err := d.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: r.label,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder %s: %w", r.label, err)
	}
	if err := encoder.BeginEncoding(r.label); err != nil {
		return nil, fmt.Errorf("native: begin encoding %s: %w", r.label, err)
	}

	for i := range r.cmds {
		c := &r.cmds[i]
		switch c.kind {
		case cmdBarrier:
			if barriers := textureBarriers(r.kind, c.barriers); len(barriers) > 0 {
				encoder.TransitionTextures(barriers)
			}

		case cmdDispatch:
			pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{
				Label: c.dispatch.Label,
			})
			pass.End()

		case cmdDraw:
			pass := encoder.BeginRenderPass(renderPassDescriptor(c.draw))
			pass.End()

		case cmdUpdate:
			enc.writes = append(enc.writes, hostWrite{dst: c.dst, offset: c.offset, data: c.data})

		case cmdCopy:
			encoder.CopyBufferToBuffer(c.src.raw, c.dst.raw, []hal.BufferCopy{{
				SrcOffset: 0,
				DstOffset: 0,
				Size:      c.size,
			}})

		case cmdResetTimestamps:
			pool, first, count := c.pool, c.first, c.count
			enc.post = append(enc.post, func(uint64) { pool.reset(first, count) })

		case cmdWriteTimestamp:
			pool, query, ts := c.pool, c.first, d.now()
			enc.post = append(enc.post, func(value uint64) { pool.write(query, ts, value) })
		}
	}

	cb, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding %s: %w", r.label, err)
	}
	return cb, nil
}

// textureBarriers converts layout changes to HAL usage transitions. Both
// queue kinds share one HAL queue, so an ownership transfer is encoded on
// the releasing side only.
func textureBarriers(kind gpucore.QueueKind, barriers []gpucore.ImageBarrier) []hal.TextureBarrier {
	var out []hal.TextureBarrier
	for _, b := range barriers {
		if b.IsOwnershipTransfer() && kind != b.Src.Queue {
			continue
		}
		oldUsage, newUsage := layoutUsage(b.Src.Layout), layoutUsage(b.Dst.Layout)
		if oldUsage == newUsage {
			continue
		}
		out = append(out, hal.TextureBarrier{
			Texture: b.Image.(*image).tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: oldUsage,
				NewUsage: newUsage,
			},
		})
	}
	return out
}

func renderPassDescriptor(cmd gpucore.DrawCmd) *hal.RenderPassDescriptor {
	load := gputypes.LoadOpLoad
	if cmd.Clear {
		load = gputypes.LoadOpClear
	}

	desc := &hal.RenderPassDescriptor{Label: cmd.Label}
	for _, c := range cmd.Color {
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:       c.(*image).view,
			LoadOp:     load,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 0},
		})
	}
	if cmd.Depth != nil {
		depth := cmd.Depth.(*image)
		ds := &hal.RenderPassDepthStencilAttachment{
			View:            depth.view,
			DepthLoadOp:     load,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: 1.0,
		}
		if depth.desc.Format.HasStencil() {
			ds.StencilLoadOp = load
			ds.StencilStoreOp = gputypes.StoreOpStore
		}
		desc.DepthStencilAttachment = ds
	}
	return desc
}

func (d *Device) free(cbs []hal.CommandBuffer) {
	for _, cb := range cbs {
		d.raw.FreeCommandBuffer(cb)
	}
}

// retire frees command buffers of completed submissions. d.submitMu must
// be held.
func (d *Device) retire() {
	n := 0
	for _, p := range d.pending {
		if !d.completed(p.value) {
			break
		}
		d.free(p.cbs)
		n++
	}
	d.pending = append(d.pending[:0], d.pending[n:]...)
}
