package atmos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gogpu/atmos/backend/sim"
	"github.com/gogpu/atmos/gpucore"
	"github.com/gogpu/atmos/pass"
)

// newTestRenderer creates a small renderer on a fresh simulated device.
// Both are released when the test ends.
func newTestRenderer(t *testing.T, devOpts []sim.Option, opts ...Option) (*Renderer, *sim.Device) {
	t.Helper()
	dev := sim.New(devOpts...)
	t.Cleanup(dev.Destroy)

	base := []Option{WithSize(64, 48), WithTerrainResolution(4), WithHistory(16)}
	r, err := New(dev, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return r, dev
}

func waitIdle(t *testing.T, dev *sim.Device) {
	t.Helper()
	if err := dev.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
}

func assertNoViolations(t *testing.T, dev *sim.Device) {
	t.Helper()
	for _, v := range dev.Violations() {
		t.Errorf("violation: %s", v)
	}
}

// testOverlay draws into the presented image.
type testOverlay struct {
	target   gpucore.Image
	recorded atomic.Int32
	fail     error
}

func (o *testOverlay) Name() string                   { return "test-overlay" }
func (o *testOverlay) Initialize(*pass.Context) error { return nil }
func (o *testOverlay) SetTarget(img gpucore.Image)    { o.target = img }

func (o *testOverlay) RecordCommands(rec gpucore.Recording, _ int) error {
	if o.fail != nil {
		return o.fail
	}
	if o.target == nil {
		return pass.ErrMissingInput
	}
	rec.Draw(gpucore.DrawCmd{
		Label:     "overlay",
		Vertices:  6,
		Instances: 1,
		Color:     []gpucore.Image{o.target},
	})
	o.recorded.Add(1)
	return nil
}

// =============================================================================
// New
// =============================================================================

func TestNewInvalidConfig(t *testing.T) {
	dev := sim.New()
	defer dev.Destroy()

	tests := []struct {
		name string
		dev  gpucore.Device
		opts []Option
	}{
		{"nil device", nil, nil},
		{"zero size", dev, []Option{WithSize(0, 0)}},
		{"no slots", dev, []Option{WithFramesInFlight(0)}},
		{"no threads", dev, []Option{WithThreads(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.dev, tt.opts...)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
			if r != nil {
				t.Error("New() returned a renderer with an error")
			}
		})
	}
	if n := dev.Live(); n != 0 {
		t.Errorf("Live() = %d after rejected configs, want 0", n)
	}
}

func TestNewLogsReady(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	newTestRenderer(t, nil, WithLogger(logger))

	if !strings.Contains(buf.String(), "atmos: renderer ready") {
		t.Errorf("log = %q, want renderer ready line", buf.String())
	}
}

func TestNewStagingReleased(t *testing.T) {
	r, _ := newTestRenderer(t, nil)
	if n := r.deletions.Len(); n != 0 {
		t.Errorf("deletion queue holds %d entries after New, want 0", n)
	}
	if st := r.Stats(); st.Images == 0 || st.Buffers == 0 {
		t.Errorf("Stats() = %s, want images and buffers", st)
	}
}

// =============================================================================
// Frame protocol
// =============================================================================

func TestRunWithoutViolations(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"default", nil},
		{"single slot", []Option{WithFramesInFlight(1)}},
		{"three slots", []Option{WithFramesInFlight(3)}},
		{"single thread", []Option{WithThreads(1)}},
		{"god rays off", []Option{WithGodRays(false)}},
		{"idle stall", []Option{WithDeviceIdleStall(true)}},
		{"mountain nubis", []Option{WithTerrain(pass.TerrainMountain), WithWeather(pass.WeatherNubis)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, dev := newTestRenderer(t, nil, tt.opts...)
			const frames = 6
			if err := r.Run(context.Background(), frames); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			waitIdle(t, dev)

			assertNoViolations(t, dev)
			if got := dev.Presented(); got != frames {
				t.Errorf("Presented() = %d, want %d", got, frames)
			}
			if got := r.Frames(); got != frames {
				t.Errorf("Frames() = %d, want %d", got, frames)
			}
			if got := r.State(); got != BeginFrame {
				t.Errorf("State() = %s, want %s", got, BeginFrame)
			}
		})
	}
}

func submissionKey(s sim.Submission) string {
	if s.Op != sim.OpSubmit || len(s.Recordings) == 0 {
		return s.Op
	}
	return s.Recordings[0]
}

func TestSubmissionOrder(t *testing.T) {
	r, dev := newTestRenderer(t, nil)
	dev.ResetLog()

	if err := r.RenderFrame(context.Background()); err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	waitIdle(t, dev)

	pos := make(map[string]int)
	for i, s := range dev.Submissions() {
		key := submissionKey(s)
		if _, dup := pos[key]; dup {
			t.Errorf("%s submitted twice in one frame", key)
		}
		pos[key] = i
	}

	before := [][2]string{
		{"acquire", "depth-0"},
		{"depth-0", "g2c-release-0"},
		{"g2c-release-0", "g2c-acquire-0"},
		{"g2c-acquire-0", "clouds-0"},
		{"clouds-0", "atmosphere-0"},
		{"g2c-acquire-0", "terrain-0"},
		{"atmosphere-0", "c2g-release-0"},
		{"c2g-release-0", "c2g-acquire-0"},
		{"c2g-acquire-0", "composition-0"},
		{"terrain-0", "composition-0"},
		{"composition-0", "present"},
	}
	for _, pair := range before {
		a, okA := pos[pair[0]]
		b, okB := pos[pair[1]]
		if !okA || !okB {
			t.Errorf("missing submission %v in %v", pair, dev.Submissions())
			continue
		}
		if a >= b {
			t.Errorf("%s (#%d) submitted after %s (#%d)", pair[0], a, pair[1], b)
		}
	}
	if len(pos) != 11 {
		t.Errorf("%d submissions in one frame, want 11: %v", len(pos), dev.Submissions())
	}
}

func TestSubmissionQueues(t *testing.T) {
	r, dev := newTestRenderer(t, nil)
	dev.ResetLog()
	if err := r.RenderFrame(context.Background()); err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	waitIdle(t, dev)

	want := map[string]gpucore.QueueKind{
		"depth-0":       gpucore.QueueGraphics,
		"g2c-release-0": gpucore.QueueGraphics,
		"g2c-acquire-0": gpucore.QueueCompute,
		"clouds-0":      gpucore.QueueCompute,
		"atmosphere-0":  gpucore.QueueCompute,
		"terrain-0":     gpucore.QueueGraphics,
		"c2g-release-0": gpucore.QueueCompute,
		"c2g-acquire-0": gpucore.QueueGraphics,
		"composition-0": gpucore.QueueGraphics,
	}
	for _, s := range dev.Submissions() {
		q, ok := want[submissionKey(s)]
		if ok && s.Queue != q {
			t.Errorf("%s on %s queue, want %s", submissionKey(s), s.Queue, q)
		}
	}
}

func TestCompositionWaits(t *testing.T) {
	r, dev := newTestRenderer(t, nil)
	dev.ResetLog()
	if err := r.RenderFrame(context.Background()); err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	waitIdle(t, dev)

	for _, s := range dev.Submissions() {
		if submissionKey(s) != "composition-0" {
			continue
		}
		waits := strings.Join(s.Waits, ",")
		for _, w := range []string{"c2g-transfer-0", "terrain-ready-0", "image-available-0"} {
			if !strings.Contains(waits, w) {
				t.Errorf("composition waits %v, missing %s", s.Waits, w)
			}
		}
		if len(s.Signals) != 1 || s.Signals[0] != "render-finished-0" {
			t.Errorf("composition signals %v, want [render-finished-0]", s.Signals)
		}
		return
	}
	t.Fatal("composition-0 not submitted")
}

func TestFencePerSlot(t *testing.T) {
	r, dev := newTestRenderer(t, nil, WithFramesInFlight(2))
	dev.ResetLog()
	if err := r.Run(context.Background(), 4); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	waitIdle(t, dev)

	var fenced []string
	for _, s := range dev.Submissions() {
		if s.Fence != "" {
			fenced = append(fenced, submissionKey(s)+"@"+s.Fence)
		}
	}
	want := []string{
		"composition-0@frame-0",
		"composition-1@frame-1",
		"composition-0@frame-0",
		"composition-1@frame-1",
	}
	if strings.Join(fenced, " ") != strings.Join(want, " ") {
		t.Errorf("fenced submissions = %v, want %v", fenced, want)
	}
}

func TestSharedImagesEndOnGraphics(t *testing.T) {
	r, dev := newTestRenderer(t, nil)
	if err := r.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	waitIdle(t, dev)

	for _, img := range r.c2g.Images() {
		queue, _, inTransit, ok := dev.Owner(img.Image)
		if !ok {
			t.Errorf("%s is not tracked", img.Image.Label())
			continue
		}
		if queue != gpucore.QueueGraphics || inTransit {
			t.Errorf("%s owned by %s (in transit %v), want graphics", img.Image.Label(), queue, inTransit)
		}
	}
	if p := r.c2g.Phase(0); p != PhaseAcquired {
		t.Errorf("c2g slot 0 phase = %s, want %s", p, PhaseAcquired)
	}
}

func TestSharedImageSets(t *testing.T) {
	r, _ := newTestRenderer(t, nil)

	from, to := r.g2c.Queues()
	if from != gpucore.QueueGraphics || to != gpucore.QueueCompute {
		t.Errorf("g2c queues = %s->%s", from, to)
	}
	from, to = r.c2g.Queues()
	if from != gpucore.QueueCompute || to != gpucore.QueueGraphics {
		t.Errorf("c2g queues = %s->%s", from, to)
	}
	if len(r.g2c.Images()) != 6 || len(r.c2g.Images()) != 6 {
		t.Errorf("shared images = %d/%d, want 6/6", len(r.g2c.Images()), len(r.c2g.Images()))
	}
	for _, img := range r.g2c.Images() {
		if img.Image == r.atmosphere.MultipleScattering.LUT() {
			t.Error("multiple scattering table must stay on compute")
		}
	}
}

// =============================================================================
// Ordering errors
// =============================================================================

func TestReleaseBeforeParallelRejected(t *testing.T) {
	r, _ := newTestRenderer(t, nil)
	s := r.slots[0]
	if _, err := r.beginFrame(context.Background(), 0, s); err != nil {
		t.Fatalf("beginFrame() error = %v", err)
	}

	// The compute release waits on semaphores no submission has signaled.
	err := r.c2g.Release(0, waitAll(gpucore.StageComputeShader, s.cloudsReady, s.atmosphereReady))
	if !errors.Is(err, gpucore.ErrWaitBeforeSignal) {
		t.Errorf("Release() error = %v, want ErrWaitBeforeSignal", err)
	}
	if err := r.c2g.Acquire(0, gpucore.StageFragmentShader, nil); !errors.Is(err, ErrAcquireBeforeRelease) {
		t.Errorf("Acquire() error = %v, want ErrAcquireBeforeRelease", err)
	}
}

func TestOverlayFailureStopsFrame(t *testing.T) {
	errOverlay := errors.New("overlay failed")
	overlay := &testOverlay{fail: errOverlay}
	r, _ := newTestRenderer(t, nil, WithOverlay(overlay))

	err := r.RenderFrame(context.Background())
	if !errors.Is(err, errOverlay) {
		t.Fatalf("RenderFrame() error = %v, want %v", err, errOverlay)
	}
	if r.State() != RecordComposition {
		t.Errorf("State() = %s, want %s", r.State(), RecordComposition)
	}
	if r.Frames() != 0 {
		t.Errorf("Frames() = %d after a failed frame", r.Frames())
	}
}

// =============================================================================
// Overlay
// =============================================================================

func TestOverlayReceivesTarget(t *testing.T) {
	overlay := &testOverlay{}
	r, dev := newTestRenderer(t, nil, WithOverlay(overlay))

	const frames = 4
	if err := r.Run(context.Background(), frames); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	waitIdle(t, dev)

	if got := overlay.recorded.Load(); got != frames {
		t.Errorf("overlay recorded %d times, want %d", got, frames)
	}
	if overlay.target == nil || !strings.HasPrefix(overlay.target.Label(), "swapchain-") {
		t.Errorf("overlay target = %v, want a swapchain image", overlay.target)
	}
	assertNoViolations(t, dev)
}

// =============================================================================
// Telemetry
// =============================================================================

func renderHeld(t *testing.T, r *Renderer, dev *sim.Device) {
	t.Helper()
	dev.HoldTimestamps()
	if err := r.RenderFrame(context.Background()); err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	waitIdle(t, dev)
	if n := r.bench.Frames(); n != 0 {
		t.Fatalf("benchmark recorded %d frames while timestamps were held", n)
	}
	dev.ResolveTimestamps()
	if err := r.pollTelemetry(16); err != nil {
		t.Fatalf("pollTelemetry() error = %v", err)
	}
	if n := r.bench.Frames(); n != 1 {
		t.Fatalf("benchmark frames = %d, want 1", n)
	}
}

func lastSample(t *testing.T, r *Renderer, id pass.ID) float32 {
	t.Helper()
	series, ok := r.Benchmark().Series(id.String())
	if !ok || len(series) == 0 {
		t.Fatalf("no samples for %s", id)
	}
	return series[len(series)-1]
}

func TestTelemetryRecordsPasses(t *testing.T) {
	r, dev := newTestRenderer(t, nil)
	renderHeld(t, r, dev)

	for id := range pass.ID(pass.NumPasses) {
		if v := lastSample(t, r, id); v <= 0 {
			t.Errorf("%s = %v ms, want > 0", id, v)
		}
	}
}

func TestTelemetryGodRaysDisabled(t *testing.T) {
	r, dev := newTestRenderer(t, nil, WithGodRays(false))
	renderHeld(t, r, dev)

	for _, id := range []pass.ID{pass.GodRaysMask, pass.GodRaysBlur} {
		if v := lastSample(t, r, id); v != 0 {
			t.Errorf("%s = %v ms with god rays off, want 0", id, v)
		}
	}
	if v := lastSample(t, r, pass.Composition); v <= 0 {
		t.Errorf("composition = %v ms, want > 0", v)
	}
}

func TestTelemetryWithoutTimestamps(t *testing.T) {
	r, _ := newTestRenderer(t, []sim.Option{sim.WithTimestampPeriod(0)})
	if r.prof != nil {
		t.Fatal("profiler created on a device without timestamps")
	}
	if err := r.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := r.Benchmark().Frames(); n != 2 {
		t.Errorf("benchmark frames = %d, want 2", n)
	}
	if v := lastSample(t, r, pass.Depth); v != 0 {
		t.Errorf("depth = %v ms without timestamps, want 0", v)
	}
}

// =============================================================================
// Run and Close
// =============================================================================

func TestRunCanceled(t *testing.T) {
	r, dev := newTestRenderer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Run(ctx, 0); err != nil {
		t.Errorf("Run() with canceled context = %v, want nil", err)
	}
	if r.Frames() != 0 {
		t.Errorf("Frames() = %d, want 0", r.Frames())
	}
	if dev.Presented() != 0 {
		t.Errorf("Presented() = %d, want 0", dev.Presented())
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	dev := sim.New()
	defer dev.Destroy()

	r, err := New(dev, WithSize(32, 32), WithTerrainResolution(2))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := dev.Live(); n != 0 {
		t.Errorf("Live() = %d after Close, want 0", n)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := r.RenderFrame(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("RenderFrame() after Close = %v, want ErrClosed", err)
	}
	if err := r.Run(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() after Close = %v, want ErrClosed", err)
	}
}

func BenchmarkRenderFrame(b *testing.B) {
	dev := sim.New()
	defer dev.Destroy()
	r, err := New(dev, WithSize(64, 48), WithTerrainResolution(4))
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()

	ctx := context.Background()
	b.ResetTimer()
	for b.Loop() {
		if err := r.RenderFrame(ctx); err != nil {
			b.Fatal(fmt.Errorf("frame %d: %w", r.Frames(), err))
		}
	}
}
