package sim

import (
	"fmt"

	"github.com/gogpu/atmos/gpucore"
)

type cmdKind uint8

const (
	cmdBarrier cmdKind = iota
	cmdDispatch
	cmdDraw
	cmdUpdate
	cmdCopy
	cmdResetTimestamps
	cmdWriteTimestamp
)

// command is one recorded operation. Only the fields for its kind are set.
type command struct {
	kind     cmdKind
	barriers []gpucore.ImageBarrier
	dispatch gpucore.DispatchCmd
	draw     gpucore.DrawCmd
	dst, src *buffer
	offset   uint64
	size     uint64
	data     []byte
	pool     *timestampPool
	first    uint32
	count    uint32
	stage    gpucore.PipelineStage
}

type recState uint8

const (
	recInitial recState = iota
	recRecording
	recExecutable
)

// recording is not safe for concurrent use.
type recording struct {
	dev   *Device
	kind  gpucore.QueueKind
	label string
	state recState
	cmds  []command
	err   error
}

func (r *recording) Label() string            { return r.label }
func (r *recording) Queue() gpucore.QueueKind { return r.kind }

func (r *recording) Begin() error {
	if r.state == recRecording {
		return fmt.Errorf("%w: %s already recording", gpucore.ErrNotRecording, r.label)
	}
	r.cmds = r.cmds[:0]
	r.err = nil
	r.state = recRecording
	return nil
}

func (r *recording) End() error {
	if r.state != recRecording {
		return fmt.Errorf("%w: %s not recording", gpucore.ErrNotRecording, r.label)
	}
	r.state = recExecutable
	return r.err
}

func (r *recording) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *recording) push(c command) {
	if r.state != recRecording {
		r.fail(fmt.Errorf("%w: command outside Begin/End in %s", gpucore.ErrNotRecording, r.label))
		return
	}
	r.cmds = append(r.cmds, c)
}

func (r *recording) images(imgs ...gpucore.Image) bool {
	for _, img := range imgs {
		if img == nil {
			continue
		}
		if si, ok := img.(*image); !ok || si.dev != r.dev {
			r.fail(fmt.Errorf("%w: image %s in %s", gpucore.ErrForeignObject, img.Label(), r.label))
			return false
		}
	}
	return true
}

func (r *recording) buffer(b gpucore.Buffer) *buffer {
	sb, ok := b.(*buffer)
	if !ok || sb.dev != r.dev {
		r.fail(fmt.Errorf("%w: buffer in %s", gpucore.ErrForeignObject, r.label))
		return nil
	}
	return sb
}

func (r *recording) pool(p gpucore.TimestampPool) *timestampPool {
	sp, ok := p.(*timestampPool)
	if !ok || sp.dev != r.dev {
		r.fail(fmt.Errorf("%w: timestamp pool in %s", gpucore.ErrForeignObject, r.label))
		return nil
	}
	return sp
}

func (r *recording) PipelineBarrier(barriers ...gpucore.ImageBarrier) {
	if len(barriers) == 0 {
		return
	}
	for _, b := range barriers {
		if b.Image == nil || !r.images(b.Image) {
			r.fail(fmt.Errorf("sim: nil or foreign barrier image in %s", r.label))
			return
		}
	}
	r.push(command{kind: cmdBarrier, barriers: append([]gpucore.ImageBarrier(nil), barriers...)})
}

func (r *recording) Dispatch(cmd gpucore.DispatchCmd) {
	if !r.images(cmd.Reads...) || !r.images(cmd.Writes...) {
		return
	}
	r.push(command{kind: cmdDispatch, dispatch: cmd})
}

func (r *recording) Draw(cmd gpucore.DrawCmd) {
	if r.kind != gpucore.QueueGraphics {
		r.fail(fmt.Errorf("%w: draw %s on %s queue", gpucore.ErrWrongQueue, cmd.Label, r.kind))
		return
	}
	if !r.images(cmd.Color...) || !r.images(cmd.Depth) || !r.images(cmd.Reads...) {
		return
	}
	r.push(command{kind: cmdDraw, draw: cmd})
}

func (r *recording) UpdateBuffer(dst gpucore.Buffer, offset uint64, data []byte) {
	sb := r.buffer(dst)
	if sb == nil {
		return
	}
	if offset+uint64(len(data)) > sb.Size() {
		r.fail(fmt.Errorf("sim: update of %d bytes at %d overflows %s", len(data), offset, sb.label))
		return
	}
	r.push(command{kind: cmdUpdate, dst: sb, offset: offset, data: append([]byte(nil), data...)})
}

func (r *recording) CopyBuffer(src, dst gpucore.Buffer, size uint64) {
	s, d := r.buffer(src), r.buffer(dst)
	if s == nil || d == nil {
		return
	}
	if size > s.Size() || size > d.Size() {
		r.fail(fmt.Errorf("sim: copy of %d bytes from %s to %s out of range", size, s.label, d.label))
		return
	}
	r.push(command{kind: cmdCopy, src: s, dst: d, size: size})
}

func (r *recording) ResetTimestamps(p gpucore.TimestampPool, first, count uint32) {
	if sp := r.pool(p); sp != nil {
		r.push(command{kind: cmdResetTimestamps, pool: sp, first: first, count: count})
	}
}

func (r *recording) WriteTimestamp(p gpucore.TimestampPool, query uint32, stage gpucore.PipelineStage) {
	if sp := r.pool(p); sp != nil {
		if query >= sp.Count() {
			r.fail(fmt.Errorf("%w: query %d of %d", errQueryRange, query, sp.Count()))
			return
		}
		r.push(command{kind: cmdWriteTimestamp, pool: sp, first: query, stage: stage})
	}
}
