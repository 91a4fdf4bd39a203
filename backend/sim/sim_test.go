package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/atmos/gpucore"
)

func newDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d := New(opts...)
	t.Cleanup(d.Destroy)
	return d
}

func mustSemaphore(t *testing.T, d *Device, label string) gpucore.Semaphore {
	t.Helper()
	s, err := d.CreateSemaphore(label)
	if err != nil {
		t.Fatalf("CreateSemaphore: %v", err)
	}
	return s
}

func mustImage(t *testing.T, d *Device, label string, owner gpucore.QueueKind) gpucore.Image {
	t.Helper()
	img, err := d.CreateImage(label, gpucore.ImageDesc{
		Width: 8, Height: 8, Format: gpucore.FormatRGBA8Unorm,
		Usage:   gpucore.ImageUsageStorage,
		Initial: gpucore.AccessState{Layout: gpucore.LayoutGeneral, Queue: owner},
	})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	return img
}

// record begins rec, runs fn, and ends rec.
func record(t *testing.T, rec gpucore.Recording, fn func(gpucore.Recording)) {
	t.Helper()
	if err := rec.Begin(); err != nil {
		t.Fatalf("Begin(%s): %v", rec.Label(), err)
	}
	fn(rec)
	if err := rec.End(); err != nil {
		t.Fatalf("End(%s): %v", rec.Label(), err)
	}
}

func mustRecording(t *testing.T, d *Device, kind gpucore.QueueKind, label string) gpucore.Recording {
	t.Helper()
	rec, err := d.CreateRecording(kind, label)
	if err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}
	return rec
}

func waitIdle(t *testing.T, d *Device) {
	t.Helper()
	if err := d.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func transferBarrier(img gpucore.Image, from, to gpucore.QueueKind) gpucore.ImageBarrier {
	return gpucore.ImageBarrier{
		Image: img,
		Src:   gpucore.AccessState{Stage: gpucore.StageFragmentShader, Access: gpucore.AccessShaderRead, Layout: gpucore.LayoutGeneral, Queue: from},
		Dst:   gpucore.AccessState{Stage: gpucore.StageComputeShader, Access: gpucore.AccessShaderWrite, Layout: gpucore.LayoutGeneral, Queue: to},
	}
}

// =============================================================================
// Semaphore ordering
// =============================================================================

func TestSubmitWaitBeforeSignal(t *testing.T) {
	d := newDevice(t)
	s := mustSemaphore(t, d, "handoff")
	rec := mustRecording(t, d, gpucore.QueueCompute, "acquire")
	record(t, rec, func(gpucore.Recording) {})

	err := d.Queue(gpucore.QueueCompute).Submit(gpucore.SubmitInfo{
		Recordings: []gpucore.Recording{rec},
		Waits:      []gpucore.SemaphoreWait{{Semaphore: s, Stage: gpucore.StageComputeShader}},
	})
	if !errors.Is(err, gpucore.ErrWaitBeforeSignal) {
		t.Fatalf("Submit error = %v, want ErrWaitBeforeSignal", err)
	}
	if n := len(d.Submissions()); n != 0 {
		t.Errorf("rejected submission logged: %d entries", n)
	}
}

func TestSubmitCrossQueueOrdering(t *testing.T) {
	d := newDevice(t)
	s := mustSemaphore(t, d, "handoff")
	release := mustRecording(t, d, gpucore.QueueGraphics, "release")
	acquire := mustRecording(t, d, gpucore.QueueCompute, "acquire")
	record(t, release, func(gpucore.Recording) {})
	record(t, acquire, func(gpucore.Recording) {})

	if err := d.Queue(gpucore.QueueGraphics).Submit(gpucore.SubmitInfo{
		Recordings: []gpucore.Recording{release},
		Signals:    []gpucore.Semaphore{s},
	}); err != nil {
		t.Fatalf("release Submit: %v", err)
	}
	if err := d.Queue(gpucore.QueueCompute).Submit(gpucore.SubmitInfo{
		Recordings: []gpucore.Recording{acquire},
		Waits:      []gpucore.SemaphoreWait{{Semaphore: s, Stage: gpucore.StageComputeShader}},
	}); err != nil {
		t.Fatalf("acquire Submit: %v", err)
	}
	waitIdle(t, d)

	log := d.Submissions()
	if len(log) != 2 || log[0].Recordings[0] != "release" || log[1].Recordings[0] != "acquire" {
		t.Errorf("log = %v, want release then acquire", log)
	}
}

func TestSubmitWrongQueue(t *testing.T) {
	d := newDevice(t)
	rec := mustRecording(t, d, gpucore.QueueGraphics, "g")
	record(t, rec, func(gpucore.Recording) {})

	err := d.Queue(gpucore.QueueCompute).Submit(gpucore.SubmitInfo{Recordings: []gpucore.Recording{rec}})
	if !errors.Is(err, gpucore.ErrWrongQueue) {
		t.Errorf("error = %v, want ErrWrongQueue", err)
	}
}

func TestSubmitUnendedRecording(t *testing.T) {
	d := newDevice(t)
	rec := mustRecording(t, d, gpucore.QueueGraphics, "g")
	if err := rec.Begin(); err != nil {
		t.Fatal(err)
	}
	err := d.Queue(gpucore.QueueGraphics).Submit(gpucore.SubmitInfo{Recordings: []gpucore.Recording{rec}})
	if !errors.Is(err, gpucore.ErrNotRecording) {
		t.Errorf("error = %v, want ErrNotRecording", err)
	}
}

func TestDrawOnComputeQueueFails(t *testing.T) {
	d := newDevice(t)
	rec := mustRecording(t, d, gpucore.QueueCompute, "c")
	_ = rec.Begin()
	rec.Draw(gpucore.DrawCmd{Label: "bad", Vertices: 3})
	if err := rec.End(); !errors.Is(err, gpucore.ErrWrongQueue) {
		t.Errorf("End error = %v, want ErrWrongQueue", err)
	}
}

// =============================================================================
// Ownership tracking
// =============================================================================

func TestOwnershipTransfer(t *testing.T) {
	d := newDevice(t)
	img := mustImage(t, d, "clouds", gpucore.QueueGraphics)
	s := mustSemaphore(t, d, "g2c")
	b := transferBarrier(img, gpucore.QueueGraphics, gpucore.QueueCompute)

	release := mustRecording(t, d, gpucore.QueueGraphics, "release")
	record(t, release, func(r gpucore.Recording) { r.PipelineBarrier(b) })
	acquire := mustRecording(t, d, gpucore.QueueCompute, "acquire")
	record(t, acquire, func(r gpucore.Recording) {
		r.PipelineBarrier(b)
		r.Dispatch(gpucore.DispatchCmd{Label: "clouds", X: 1, Y: 1, Z: 1, Writes: []gpucore.Image{img}})
	})

	if err := d.Queue(gpucore.QueueGraphics).Submit(gpucore.SubmitInfo{
		Recordings: []gpucore.Recording{release}, Signals: []gpucore.Semaphore{s},
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.Queue(gpucore.QueueCompute).Submit(gpucore.SubmitInfo{
		Recordings: []gpucore.Recording{acquire},
		Waits:      []gpucore.SemaphoreWait{{Semaphore: s, Stage: gpucore.StageComputeShader}},
	}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	if v := d.Violations(); len(v) != 0 {
		t.Fatalf("violations = %v", v)
	}
	q, state, inTransit, ok := d.Owner(img)
	if !ok || q != gpucore.QueueCompute || inTransit || state != b.Dst {
		t.Errorf("Owner = %v %v transit=%v ok=%v, want compute %v", q, state, inTransit, ok, b.Dst)
	}
}

func TestDiscardingBarrierSkipsSourceCheck(t *testing.T) {
	d := newDevice(t)
	img := mustImage(t, d, "target", gpucore.QueueGraphics)
	rec := mustRecording(t, d, gpucore.QueueGraphics, "rec")
	dst := gpucore.AccessState{Layout: gpucore.LayoutColorAttachment, Queue: gpucore.QueueGraphics}
	record(t, rec, func(r gpucore.Recording) {
		r.PipelineBarrier(gpucore.ImageBarrier{Image: img, Src: gpucore.AccessState{Stage: gpucore.StageTopOfPipe}, Dst: dst})
	})
	if err := d.Queue(gpucore.QueueGraphics).Submit(gpucore.SubmitInfo{Recordings: []gpucore.Recording{rec}}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	if v := d.Violations(); len(v) != 0 {
		t.Errorf("violations = %v", v)
	}
	if _, state, _, _ := d.Owner(img); state != dst {
		t.Errorf("state = %v, want %v", state, dst)
	}
}

func TestOwnershipViolations(t *testing.T) {
	tests := []struct {
		name   string
		queue  gpucore.QueueKind
		fn     func(r gpucore.Recording, img gpucore.Image)
		reason string
	}{
		{
			name:  "acquire without release",
			queue: gpucore.QueueCompute,
			fn: func(r gpucore.Recording, img gpucore.Image) {
				r.PipelineBarrier(transferBarrier(img, gpucore.QueueGraphics, gpucore.QueueCompute))
			},
			reason: reasonNoRelease,
		},
		{
			name:  "dispatch on non-owning queue",
			queue: gpucore.QueueCompute,
			fn: func(r gpucore.Recording, img gpucore.Image) {
				r.Dispatch(gpucore.DispatchCmd{Label: "x", X: 1, Y: 1, Z: 1, Reads: []gpucore.Image{img}})
			},
			reason: reasonNotOwner,
		},
		{
			name:  "double release",
			queue: gpucore.QueueGraphics,
			fn: func(r gpucore.Recording, img gpucore.Image) {
				b := transferBarrier(img, gpucore.QueueGraphics, gpucore.QueueCompute)
				r.PipelineBarrier(b)
				r.PipelineBarrier(b)
			},
			reason: reasonDoubleRelease,
		},
		{
			name:  "draw while in transit",
			queue: gpucore.QueueGraphics,
			fn: func(r gpucore.Recording, img gpucore.Image) {
				r.PipelineBarrier(transferBarrier(img, gpucore.QueueGraphics, gpucore.QueueCompute))
				r.Draw(gpucore.DrawCmd{Label: "x", Vertices: 3, Reads: []gpucore.Image{img}})
			},
			reason: reasonInTransit,
		},
		{
			name:  "release from wrong layout",
			queue: gpucore.QueueGraphics,
			fn: func(r gpucore.Recording, img gpucore.Image) {
				b := transferBarrier(img, gpucore.QueueGraphics, gpucore.QueueCompute)
				b.Src.Layout = gpucore.LayoutDepthAttachment
				r.PipelineBarrier(b)
			},
			reason: reasonStateMismatch,
		},
		{
			name:  "transition from wrong layout",
			queue: gpucore.QueueGraphics,
			fn: func(r gpucore.Recording, img gpucore.Image) {
				src := gpucore.AccessState{Layout: gpucore.LayoutShaderReadOnly, Queue: gpucore.QueueGraphics}
				dst := gpucore.AccessState{Layout: gpucore.LayoutGeneral, Queue: gpucore.QueueGraphics}
				r.PipelineBarrier(gpucore.ImageBarrier{Image: img, Src: src, Dst: dst})
			},
			reason: reasonStateMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDevice(t)
			img := mustImage(t, d, "shared", gpucore.QueueGraphics)
			rec := mustRecording(t, d, tt.queue, "rec")
			record(t, rec, func(r gpucore.Recording) { tt.fn(r, img) })
			if err := d.Queue(tt.queue).Submit(gpucore.SubmitInfo{Recordings: []gpucore.Recording{rec}}); err != nil {
				t.Fatal(err)
			}
			waitIdle(t, d)

			v := d.Violations()
			if len(v) == 0 {
				t.Fatal("expected a violation")
			}
			if v[0].Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", v[0].Reason, tt.reason)
			}
		})
	}
}

// =============================================================================
// Timestamps
// =============================================================================

func TestTimestampsResolveAndHold(t *testing.T) {
	d := newDevice(t, WithTimestampPeriod(2))
	pool, err := d.CreateTimestampPool(2)
	if err != nil {
		t.Fatal(err)
	}
	rec := mustRecording(t, d, gpucore.QueueCompute, "timed")
	record(t, rec, func(r gpucore.Recording) {
		r.ResetTimestamps(pool, 0, 2)
		r.WriteTimestamp(pool, 0, gpucore.StageTopOfPipe)
		r.Dispatch(gpucore.DispatchCmd{Label: "work", X: 4, Y: 2, Z: 1})
		r.WriteTimestamp(pool, 1, gpucore.StageBottomOfPipe)
	})

	d.HoldTimestamps()
	if err := d.Queue(gpucore.QueueCompute).Submit(gpucore.SubmitInfo{Recordings: []gpucore.Recording{rec}}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	got := make([]gpucore.Timestamp, 2)
	if err := pool.Results(0, got); err != nil {
		t.Fatal(err)
	}
	if got[0].Available || got[1].Available {
		t.Fatalf("held timestamps available: %+v", got)
	}

	d.ResolveTimestamps()
	if err := pool.Results(0, got); err != nil {
		t.Fatal(err)
	}
	if !got[0].Available || !got[1].Available {
		t.Fatalf("resolved timestamps unavailable: %+v", got)
	}
	// 8 workgroups plus one tick for the end write.
	if delta := got[1].Value - got[0].Value; delta != 9 {
		t.Errorf("delta = %d ticks, want 9", delta)
	}
	if d.TimestampPeriod() != 2 {
		t.Errorf("TimestampPeriod() = %v, want 2", d.TimestampPeriod())
	}
}

func TestTimestampsUnsupported(t *testing.T) {
	d := newDevice(t, WithTimestampPeriod(0))
	if _, err := d.CreateTimestampPool(4); !errors.Is(err, gpucore.ErrTimestampsUnsupported) {
		t.Errorf("error = %v, want ErrTimestampsUnsupported", err)
	}
}

func TestTimestampResultsOutOfRange(t *testing.T) {
	d := newDevice(t)
	pool, err := d.CreateTimestampPool(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Results(1, make([]gpucore.Timestamp, 2)); err == nil {
		t.Error("expected range error")
	}
}

// =============================================================================
// Fences, idle, swapchain
// =============================================================================

func TestWaitFenceTimeout(t *testing.T) {
	d := newDevice(t, WithWaitTimeout(10*time.Millisecond))
	f, err := d.CreateFence("never", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.WaitFence(context.Background(), f); !errors.Is(err, gpucore.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}

func TestWaitFenceContextCanceled(t *testing.T) {
	d := newDevice(t)
	f, _ := d.CreateFence("never", false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.WaitFence(ctx, f); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestFenceSignalAndReset(t *testing.T) {
	d := newDevice(t)
	f, _ := d.CreateFence("slot", true)
	if err := d.WaitFence(context.Background(), f); err != nil {
		t.Fatalf("pre-signaled fence: %v", err)
	}
	if err := d.ResetFence(f); err != nil {
		t.Fatal(err)
	}

	rec := mustRecording(t, d, gpucore.QueueGraphics, "g")
	record(t, rec, func(gpucore.Recording) {})
	if err := d.Queue(gpucore.QueueGraphics).Submit(gpucore.SubmitInfo{Recordings: []gpucore.Recording{rec}, Fence: f}); err != nil {
		t.Fatal(err)
	}
	if err := d.WaitFence(context.Background(), f); err != nil {
		t.Errorf("WaitFence after submit: %v", err)
	}
}

func TestUpdateAndCopyBuffer(t *testing.T) {
	d := newDevice(t)
	staging, _ := d.CreateBuffer("staging", gpucore.BufferDesc{Size: 4, HostVisible: true})
	dst, _ := d.CreateBuffer("vertices", gpucore.BufferDesc{Size: 4})
	rec := mustRecording(t, d, gpucore.QueueGraphics, "upload")
	record(t, rec, func(r gpucore.Recording) {
		r.UpdateBuffer(staging, 0, []byte{1, 2, 3, 4})
		r.CopyBuffer(staging, dst, 4)
	})
	if err := d.Queue(gpucore.QueueGraphics).Submit(gpucore.SubmitInfo{Recordings: []gpucore.Recording{rec}}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	got := BufferContents(dst)
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Errorf("contents = %v, want [1 2 3 4]", got)
	}
}

func TestSwapchainAcquirePresent(t *testing.T) {
	d := newDevice(t)
	sc, err := d.CreateSwapchain(gpucore.SwapchainDesc{Width: 4, Height: 4, Images: 2})
	if err != nil {
		t.Fatal(err)
	}
	available := mustSemaphore(t, d, "image-available")
	finished := mustSemaphore(t, d, "render-finished")

	idx, err := sc.Acquire(context.Background(), available)
	if err != nil {
		t.Fatal(err)
	}
	img := sc.Image(idx)
	rec := mustRecording(t, d, gpucore.QueueGraphics, "post")
	record(t, rec, func(r gpucore.Recording) {
		color := gpucore.AccessState{Stage: gpucore.StageColorAttachmentOutput, Access: gpucore.AccessColorAttachmentWrite, Layout: gpucore.LayoutColorAttachment}
		r.PipelineBarrier(gpucore.ImageBarrier{
			Image: img,
			Src:   gpucore.AccessState{Stage: gpucore.StageTopOfPipe},
			Dst:   color,
		})
		r.Draw(gpucore.DrawCmd{Label: "post", Vertices: 3, Color: []gpucore.Image{img}})
		r.PipelineBarrier(gpucore.ImageBarrier{
			Image: img,
			Src:   color,
			Dst:   gpucore.AccessState{Stage: gpucore.StageBottomOfPipe, Layout: gpucore.LayoutPresent},
		})
	})
	if err := d.Queue(gpucore.QueueGraphics).Submit(gpucore.SubmitInfo{
		Recordings: []gpucore.Recording{rec},
		Waits:      []gpucore.SemaphoreWait{{Semaphore: available, Stage: gpucore.StageColorAttachmentOutput}},
		Signals:    []gpucore.Semaphore{finished},
	}); err != nil {
		t.Fatal(err)
	}
	if err := sc.Present(idx, finished); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, d)

	if d.Presented() != 1 {
		t.Errorf("Presented() = %d, want 1", d.Presented())
	}
	if v := d.Violations(); len(v) != 0 {
		t.Errorf("violations = %v", v)
	}
	next, _ := sc.Acquire(context.Background(), available)
	if next != (idx+1)%2 {
		t.Errorf("second Acquire = %d, want %d", next, (idx+1)%2)
	}
}

func TestDestroyReleasesLiveObjects(t *testing.T) {
	d := newDevice(t)
	b, _ := d.CreateBuffer("b", gpucore.BufferDesc{Size: 16})
	img := mustImage(t, d, "i", gpucore.QueueGraphics)
	if d.Live() != 2 {
		t.Fatalf("Live() = %d, want 2", d.Live())
	}
	d.DestroyBuffer(b)
	d.DestroyImage(img)
	if d.Live() != 0 {
		t.Errorf("Live() = %d, want 0", d.Live())
	}

	d.Destroy()
	if _, err := d.CreateBuffer("late", gpucore.BufferDesc{Size: 1}); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("error = %v, want ErrDeviceLost", err)
	}
}
