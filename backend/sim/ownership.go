package sim

import (
	"fmt"

	"github.com/gogpu/atmos/gpucore"
)

// Violation is an image ownership error observed while executing work.
type Violation struct {
	Seq       int
	Queue     gpucore.QueueKind
	Recording string
	Image     string
	Reason    string
}

// String formats the violation for test output.
func (v Violation) String() string {
	return fmt.Sprintf("#%d %s/%s: image %s: %s", v.Seq, v.Queue, v.Recording, v.Image, v.Reason)
}

type ownerState struct {
	queue     gpucore.QueueKind
	state     gpucore.AccessState
	inTransit bool
	release   gpucore.ImageBarrier
}

// Violation reasons.
const (
	reasonNotOwner        = "accessed on a queue that does not own it"
	reasonInTransit       = "accessed between release and acquire"
	reasonDoubleRelease   = "released twice without an acquire"
	reasonReleaseNotOwner = "released by a queue that does not own it"
	reasonNoRelease       = "acquired without a matching release"
	reasonMismatch        = "acquire barrier does not match its release"
	reasonUninvolved      = "transfer barrier recorded on an uninvolved queue"
	reasonStateMismatch   = "barrier source state does not match tracked state"
	reasonNotPresentable  = "presented while not in present layout"
	reasonUnknown         = "image is not live"
)

// matchesSrc reports whether src describes the tracked state. An undefined
// source layout discards the contents and matches any state.
func (st *ownerState) matchesSrc(src gpucore.AccessState) bool {
	if src.Layout == gpucore.LayoutUndefined {
		return true
	}
	return src.Layout == st.state.Layout && src.Queue == st.queue
}

// execCtx identifies the work being executed, for violation reports.
type execCtx struct {
	seq       int
	queue     gpucore.QueueKind
	recording string
}

// violate records a violation. d.mu must be held.
func (d *Device) violate(ec execCtx, img *image, reason string) {
	v := Violation{Seq: ec.seq, Queue: ec.queue, Recording: ec.recording, Image: img.label, Reason: reason}
	d.violations = append(d.violations, v)
	d.opts.logger.Warn("sim: ownership violation", "violation", v.String())
}

// applyBarrier updates the tracked state of one image. d.mu must be held.
func (d *Device) applyBarrier(ec execCtx, b gpucore.ImageBarrier) {
	img := b.Image.(*image)
	st, ok := d.owners[img]
	if !ok {
		d.violate(ec, img, reasonUnknown)
		return
	}

	if !b.IsOwnershipTransfer() {
		switch {
		case st.inTransit:
			d.violate(ec, img, reasonInTransit)
		case st.queue != ec.queue:
			d.violate(ec, img, reasonNotOwner)
		case !st.matchesSrc(b.Src):
			d.violate(ec, img, reasonStateMismatch)
		}
		st.state = b.Dst
		return
	}

	switch ec.queue {
	case b.Src.Queue:
		switch {
		case st.inTransit:
			d.violate(ec, img, reasonDoubleRelease)
		case st.queue != ec.queue:
			d.violate(ec, img, reasonReleaseNotOwner)
		case !st.matchesSrc(b.Src):
			d.violate(ec, img, reasonStateMismatch)
		}
		st.inTransit = true
		st.release = b
	case b.Dst.Queue:
		switch {
		case !st.inTransit:
			d.violate(ec, img, reasonNoRelease)
		case st.release.Src != b.Src || st.release.Dst != b.Dst:
			d.violate(ec, img, reasonMismatch)
		}
		st.inTransit = false
		st.queue = ec.queue
		st.state = b.Dst
	default:
		d.violate(ec, img, reasonUninvolved)
	}
}

// checkAccess verifies the executing queue owns every image. d.mu must be
// held.
func (d *Device) checkAccess(ec execCtx, imgs ...gpucore.Image) {
	for _, gi := range imgs {
		if gi == nil {
			continue
		}
		img := gi.(*image)
		st, ok := d.owners[img]
		switch {
		case !ok:
			d.violate(ec, img, reasonUnknown)
		case st.inTransit:
			d.violate(ec, img, reasonInTransit)
		case st.queue != ec.queue:
			d.violate(ec, img, reasonNotOwner)
		}
	}
}
