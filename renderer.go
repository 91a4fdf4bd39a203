package atmos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gogpu/atmos/gpucore"
	"github.com/gogpu/atmos/internal/parallel"
	"github.com/gogpu/atmos/pass"
	"github.com/gogpu/atmos/profiler"
	"github.com/gogpu/atmos/resource"
	"github.com/gogpu/atmos/telemetry"
)

// ErrClosed is returned by RenderFrame and Run after Close.
var ErrClosed = errors.New("atmos: renderer closed")

// Renderer orchestrates the render pass units across the graphics and
// compute queues, one frame slot at a time.
//
// Each frame the depth pre-pass runs on graphics and hands the shared
// images to compute. Clouds and the atmosphere lookup tables are recorded
// on compute while terrain is recorded on graphics, by two concurrent pool
// jobs. The shared images then return to graphics for composition,
// post-processing and presentation.
//
// A Renderer is driven from one goroutine. State and Benchmark may be
// called from any goroutine.
type Renderer struct {
	cfg Config
	log *slog.Logger
	dev gpucore.Device

	reg       *resource.Registry
	deletions *resource.DeletionQueue
	// prof is nil when the device has no timestamp support.
	prof      *profiler.Profiler
	pool      *parallel.WorkerPool
	bench     *telemetry.BenchmarkResult
	swapchain gpucore.Swapchain

	mesh        *pass.MeshBuffers
	depth       *pass.DepthPass
	clouds      *pass.CloudsPass
	atmosphere  *pass.AtmospherePass
	geometry    *pass.GeometryPass
	godRays     *pass.GodRaysPass
	composition *pass.CompositionPass
	post        *pass.PostProcessingPass
	// units lists every initialized unit in initialization order.
	units []pass.Unit

	g2c, c2g *Handoff
	slots    []*frameSlot

	state  atomic.Uint32
	frame  uint64
	last   time.Time
	closed bool
}

// New creates a renderer on dev. The caller keeps ownership of dev and
// must destroy it after Close.
//
// New uploads the terrain, initializes every unit in dependency order and
// creates the per-slot recordings, semaphores and fences. Staging buffers
// are released once the device is idle.
func New(dev gpucore.Device, opts ...Option) (*Renderer, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidConfig)
	}
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}

	r := &Renderer{
		cfg:   cfg,
		log:   log,
		dev:   dev,
		reg:   resource.NewRegistry(dev),
		bench: telemetry.NewBenchmarkResult(cfg.History, pass.Names()...),
		pool:  parallel.NewWorkerPool(cfg.Threads),
	}
	r.deletions = resource.NewDeletionQueue(r.reg)

	prof, err := profiler.New(dev, pass.NumPasses)
	switch {
	case errors.Is(err, profiler.ErrTimestampsUnsupported):
		log.Warn("atmos: pass timings disabled", "device", dev.Name(), "err", err)
	case err != nil:
		_ = r.Close()
		return nil, err
	default:
		r.prof = prof
	}

	if err := r.init(); err != nil {
		_ = r.Close()
		return nil, err
	}
	r.last = time.Now()
	log.Info("atmos: renderer ready",
		"device", dev.Name(),
		"width", cfg.Width,
		"height", cfg.Height,
		"slots", cfg.FramesInFlight,
		"threads", cfg.Threads,
		"weather", cfg.Weather,
		"terrain", cfg.Terrain,
		"godRays", cfg.GodRays,
		"resources", r.reg.Stats())
	return r, nil
}

func (r *Renderer) init() error {
	cfg := r.cfg
	ctx := &pass.Context{
		Device:         r.dev,
		Registry:       r.reg,
		Deletions:      r.deletions,
		Profiler:       r.prof,
		Width:          cfg.Width,
		Height:         cfg.Height,
		FramesInFlight: cfg.FramesInFlight,
		Logger:         r.log,
	}

	var err error
	r.swapchain, err = r.dev.CreateSwapchain(gpucore.SwapchainDesc{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: gpucore.FormatBGRA8Unorm,
		Images: cfg.FramesInFlight + 1,
	})
	if err != nil {
		return fmt.Errorf("atmos: create swapchain: %w", err)
	}

	r.mesh, err = pass.UploadMesh(ctx, "terrain", pass.GenerateTerrain(cfg.Terrain, cfg.TerrainResolution))
	if err != nil {
		return err
	}
	if err := r.deletions.Flush(context.Background(), r.dev); err != nil {
		return err
	}

	r.depth = pass.NewDepthPass()
	r.clouds = pass.NewCloudsPass(cfg.Weather)
	r.atmosphere = pass.NewAtmospherePass()
	r.geometry = pass.NewGeometryPass()
	r.godRays = pass.NewGodRaysPass()
	r.composition = pass.NewCompositionPass()
	r.post = pass.NewPostProcessingPass()

	// Each step wires inputs from units initialized before it.
	steps := []struct {
		unit pass.Unit
		wire func()
	}{
		{r.depth, func() { r.depth.SetMesh(r.mesh) }},
		{r.atmosphere, func() { r.atmosphere.SetShadowMap(r.depth.SunDepth()) }},
		{r.geometry, func() { r.geometry.SetMesh(r.mesh) }},
		{r.clouds, func() { r.clouds.SetCameraDepth(r.depth.CameraDepth()) }},
		{r.godRays, func() {
			r.godRays.SetCloudsColor(r.clouds.Color())
			r.godRays.SetTerrainDepth(r.geometry.Depth())
		}},
		{r.composition, func() {
			c := r.composition
			c.SetCloudsColor(r.clouds.Color())
			c.SetTerrain(r.geometry.Color(), r.geometry.Depth())
			c.SetLUTs(r.atmosphere.Transmittance, r.atmosphere.SkyView, r.atmosphere.AerialPerspective)
			c.SetShadowMap(r.depth.SunDepth())
			c.SetGodRays(r.godRays.Texture())
			c.SetApplyGodRays(cfg.GodRays)
		}},
		{r.post, func() { r.post.SetInput(r.composition.Color()) }},
	}
	if cfg.Overlay != nil {
		steps = append(steps, struct {
			unit pass.Unit
			wire func()
		}{cfg.Overlay, func() {}})
	}
	for _, s := range steps {
		s.wire()
		if err := s.unit.Initialize(ctx); err != nil {
			return fmt.Errorf("atmos: initialize %s: %w", s.unit.Name(), err)
		}
		r.units = append(r.units, s.unit)
	}

	g2c, c2g := r.sharedImages()
	if r.g2c, err = NewHandoff(r.dev, "g2c", cfg.FramesInFlight, g2c); err != nil {
		return err
	}
	if r.c2g, err = NewHandoff(r.dev, "c2g", cfg.FramesInFlight, c2g); err != nil {
		return err
	}
	for i := range cfg.FramesInFlight {
		s, err := newFrameSlot(r.dev, i)
		if err != nil {
			return err
		}
		r.slots = append(r.slots, s)
	}

	// Units may have queued staging buffers of their own.
	return r.deletions.Flush(context.Background(), r.dev)
}

// sharedImages returns the images handed to compute after the depth
// pre-pass and back to graphics before composition. The multiple
// scattering table never leaves compute.
func (r *Renderer) sharedImages() (g2c, c2g []SharedImage) {
	for _, img := range []gpucore.Image{r.depth.CameraDepth(), r.depth.SunDepth()} {
		g2c = append(g2c, SharedImage{Image: img, Producer: pass.DepthTarget, Consumer: pass.ComputeSampled})
		c2g = append(c2g, SharedImage{Image: img, Producer: pass.ComputeSampled, Consumer: pass.GraphicsSampled})
	}
	storage := []gpucore.Image{
		r.clouds.Color(),
		r.atmosphere.Transmittance.LUT(),
		r.atmosphere.SkyView.LUT(),
		r.atmosphere.AerialPerspective.LUT(),
	}
	for _, img := range storage {
		g2c = append(g2c, SharedImage{Image: img, Producer: pass.GraphicsStorage, Consumer: pass.ComputeStorage})
		c2g = append(c2g, SharedImage{Image: img, Producer: pass.ComputeStorage, Consumer: pass.GraphicsStorage})
	}
	return g2c, c2g
}

// Config returns the configuration the renderer was created with.
func (r *Renderer) Config() Config { return r.cfg }

// State returns the frame protocol step being executed, or BeginFrame
// between frames.
func (r *Renderer) State() FrameState { return FrameState(r.state.Load()) }

func (r *Renderer) setState(s FrameState) { r.state.Store(uint32(s)) }

// Frames returns the number of frames submitted.
func (r *Renderer) Frames() uint64 { return r.frame }

// Benchmark returns the per-pass timing history.
func (r *Renderer) Benchmark() *telemetry.BenchmarkResult { return r.bench }

// Stats returns the renderer's resource registry statistics.
func (r *Renderer) Stats() resource.Stats { return r.reg.Stats() }

// RenderFrame records, submits and presents one frame. It blocks while the
// frame slot's previous generation is still executing.
//
// An error leaves submitted work and semaphore signals of the frame
// behind; the renderer must be closed afterwards.
func (r *Renderer) RenderFrame(ctx context.Context) error {
	if r.closed {
		return ErrClosed
	}
	slot := int(r.frame % uint64(len(r.slots))) //nolint:gosec // slot count is small
	s := r.slots[slot]

	r.setState(BeginFrame)
	index, err := r.beginFrame(ctx, slot, s)
	if err != nil {
		return err
	}

	r.setState(RecordGraphicsPrePass)
	err = r.recordSubmit(s.depth, nil, []gpucore.Semaphore{s.depthReady}, nil, record(r.depth, slot))
	if err != nil {
		return err
	}

	r.setState(ReleaseGraphicsOwnership)
	if err := r.g2c.Release(slot, waitAll(gpucore.StageBottomOfPipe, s.depthReady)); err != nil {
		return err
	}

	r.setState(AcquireComputeOwnership)
	err = r.g2c.Acquire(slot, gpucore.StageComputeShader,
		[]gpucore.Semaphore{s.g2cClouds, s.g2cAtmosphere, s.g2cGeometry})
	if err != nil {
		return err
	}
	if r.cfg.DeviceIdleStall {
		if err := r.dev.WaitIdle(ctx); err != nil {
			return fmt.Errorf("atmos: idle stall: %w", err)
		}
	}

	r.setState(RecordParallel)
	if err := r.recordParallel(slot, s); err != nil {
		return err
	}

	r.setState(ReleaseComputeOwnership)
	err = r.c2g.Release(slot, waitAll(gpucore.StageComputeShader, s.cloudsReady, s.atmosphereReady))
	if err != nil {
		return err
	}

	r.setState(AcquireGraphicsOwnership)
	if err := r.c2g.Acquire(slot, gpucore.StageFragmentShader, []gpucore.Semaphore{s.c2gTransfer}); err != nil {
		return err
	}

	r.setState(RecordComposition)
	target := r.swapchain.Image(index)
	if err := recordInto(s.composition, r.compositionSteps(slot, target)...); err != nil {
		return err
	}

	r.setState(SubmitPresent)
	waits := append(
		waitAll(gpucore.StageFragmentShader, s.c2gTransfer, s.terrainReady),
		gpucore.SemaphoreWait{Semaphore: s.imageAvailable, Stage: gpucore.StageColorAttachmentOutput},
	)
	if err := r.submit(s.composition, waits, []gpucore.Semaphore{s.renderFinished}, s.fence); err != nil {
		return err
	}
	if err := r.swapchain.Present(index, s.renderFinished); err != nil {
		return fmt.Errorf("atmos: present image %d: %w", index, err)
	}

	r.setState(PollTelemetry)
	now := time.Now()
	frameMs := float32(now.Sub(r.last).Seconds() * 1e3)
	r.last = now
	if err := r.pollTelemetry(frameMs); err != nil {
		return err
	}

	r.log.Debug("atmos: frame submitted", "frame", r.frame, "slot", slot, "image", index, "ms", frameMs)
	r.frame++
	r.setState(PollTelemetry.Next())
	return nil
}

// beginFrame waits for the slot's previous generation, acquires the next
// swapchain image and updates the slot's uniforms.
func (r *Renderer) beginFrame(ctx context.Context, slot int, s *frameSlot) (uint32, error) {
	if err := r.dev.WaitFence(ctx, s.fence); err != nil {
		return 0, fmt.Errorf("atmos: wait frame slot %d: %w", slot, err)
	}
	if err := r.g2c.Begin(slot); err != nil {
		return 0, err
	}
	if err := r.c2g.Begin(slot); err != nil {
		return 0, err
	}
	index, err := r.swapchain.Acquire(ctx, s.imageAvailable)
	if err != nil {
		return 0, fmt.Errorf("atmos: acquire swapchain image: %w", err)
	}
	if err := r.dev.ResetFence(s.fence); err != nil {
		return 0, fmt.Errorf("atmos: reset frame slot %d: %w", slot, err)
	}

	params := frameParams(r.frame)
	for _, u := range r.units {
		if fu, ok := u.(pass.FrameUpdater); ok {
			fu.Update(slot, params)
		}
	}
	target := r.swapchain.Image(index)
	r.post.SetTarget(target)
	if ts, ok := r.cfg.Overlay.(pass.TargetSetter); ok {
		ts.SetTarget(target)
	}
	return index, nil
}

// recordParallel records and submits the compute job and the terrain job
// on the pool and waits for both.
func (r *Renderer) recordParallel(slot int, s *frameSlot) error {
	r.pool.Submit(func() error {
		err := r.recordSubmit(s.clouds,
			waitAll(gpucore.StageComputeShader, s.g2cClouds),
			[]gpucore.Semaphore{s.cloudsReady}, nil, record(r.clouds, slot))
		if err != nil {
			return err
		}
		return r.recordSubmit(s.atmosphere,
			waitAll(gpucore.StageComputeShader, s.g2cAtmosphere),
			[]gpucore.Semaphore{s.atmosphereReady}, nil, record(r.atmosphere, slot))
	})
	r.pool.Submit(func() error {
		return r.recordSubmit(s.terrain,
			waitAll(gpucore.StageTopOfPipe, s.g2cGeometry),
			[]gpucore.Semaphore{s.terrainReady}, nil, record(r.geometry, slot))
	})
	if err := r.pool.Wait(); err != nil {
		return fmt.Errorf("atmos: parallel recording: %w", err)
	}
	return nil
}

// compositionSteps returns the commands of the final graphics recording.
// The swapchain image is discarded into a color target before
// post-processing and made presentable after the overlay.
func (r *Renderer) compositionSteps(slot int, target gpucore.Image) []func(gpucore.Recording) error {
	steps := []func(gpucore.Recording) error{
		func(rec gpucore.Recording) error {
			if r.composition.ApplyGodRays() {
				return r.godRays.RecordCommands(rec, slot)
			}
			r.godRays.RecordSkipped(rec)
			return nil
		},
		record(r.composition, slot),
		func(rec gpucore.Recording) error {
			rec.PipelineBarrier(gpucore.ImageBarrier{Image: target, Src: pass.Discarded(), Dst: pass.ColorTarget})
			return nil
		},
		record(r.post, slot),
	}
	if r.cfg.Overlay != nil {
		steps = append(steps, record(r.cfg.Overlay, slot))
	}
	return append(steps, func(rec gpucore.Recording) error {
		rec.PipelineBarrier(gpucore.ImageBarrier{Image: target, Src: pass.ColorTarget, Dst: pass.Presentable})
		return nil
	})
}

// pollTelemetry appends the last completed pass timings to the benchmark.
// Nothing is recorded while timestamps are pending. Passes disabled this
// frame are recorded as 0.
func (r *Renderer) pollTelemetry(frameMs float32) error {
	durations := make([]float32, pass.NumPasses)
	if r.prof != nil {
		ok, err := r.prof.ResultsIfAvailable()
		if err != nil {
			return err
		}
		if !ok {
			r.log.Debug("atmos: pass timings pending", "frame", r.frame)
			return nil
		}
		durations = r.prof.Results()
	}
	if !r.composition.ApplyGodRays() {
		durations[pass.GodRaysMask] = 0
		durations[pass.GodRaysBlur] = 0
	}
	return r.bench.Record(frameMs, durations)
}

// Run renders frames until ctx is done or frames frames were rendered.
// With frames 0 it runs until ctx is done. Cancellation is not an error.
func (r *Renderer) Run(ctx context.Context, frames int) error {
	for n := 0; frames <= 0 || n < frames; n++ {
		if ctx.Err() != nil {
			break
		}
		if err := r.RenderFrame(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				break
			}
			return err
		}
	}
	r.log.Info("atmos: run finished", "frames", r.frame)
	return nil
}

// Close waits for the device to go idle and releases every resource the
// renderer created. It is safe to call more than once.
func (r *Renderer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if err := r.dev.WaitIdle(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("atmos: close: %w", err))
	}
	r.pool.Close()

	for i := len(r.units) - 1; i >= 0; i-- {
		if d, ok := r.units[i].(pass.Destroyer); ok {
			d.Destroy()
		}
	}
	r.units = nil
	for _, h := range []*Handoff{r.c2g, r.g2c} {
		if h != nil {
			h.Destroy()
		}
	}
	for _, s := range r.slots {
		s.destroy(r.dev)
	}
	r.slots = nil
	if r.mesh != nil {
		r.mesh.Destroy()
	}
	if r.swapchain != nil {
		r.dev.DestroySwapchain(r.swapchain)
	}
	if err := r.deletions.Flush(context.Background(), r.dev); err != nil {
		errs = append(errs, err)
	}
	if r.prof != nil {
		r.prof.Close()
	}
	if st := r.reg.Stats(); st.Buffers+st.Images+st.Samplers > 0 {
		r.log.Warn("atmos: resources outlived their units", "stats", st)
	}
	r.reg.Close()
	r.log.Info("atmos: renderer closed", "frames", r.frame)
	return errors.Join(errs...)
}

// record adapts a unit to a recording step for slot.
func record(u pass.Unit, slot int) func(gpucore.Recording) error {
	return func(rec gpucore.Recording) error { return u.RecordCommands(rec, slot) }
}

// recordInto re-begins rec and runs steps into it.
func recordInto(rec gpucore.Recording, steps ...func(gpucore.Recording) error) error {
	if err := rec.Begin(); err != nil {
		return fmt.Errorf("atmos: begin %s: %w", rec.Label(), err)
	}
	errs := make([]error, 0, len(steps)+1)
	for _, step := range steps {
		errs = append(errs, step(rec))
	}
	errs = append(errs, rec.End())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("atmos: record %s: %w", rec.Label(), err)
	}
	return nil
}

func (r *Renderer) submit(rec gpucore.Recording, waits []gpucore.SemaphoreWait, signals []gpucore.Semaphore, fence gpucore.Fence) error {
	err := r.dev.Queue(rec.Queue()).Submit(gpucore.SubmitInfo{
		Recordings: []gpucore.Recording{rec},
		Waits:      waits,
		Signals:    signals,
		Fence:      fence,
	})
	if err != nil {
		return fmt.Errorf("atmos: submit %s: %w", rec.Label(), err)
	}
	return nil
}

func (r *Renderer) recordSubmit(rec gpucore.Recording, waits []gpucore.SemaphoreWait, signals []gpucore.Semaphore, fence gpucore.Fence, steps ...func(gpucore.Recording) error) error {
	if err := recordInto(rec, steps...); err != nil {
		return err
	}
	return r.submit(rec, waits, signals, fence)
}

// waitAll waits on every semaphore at stage.
func waitAll(stage gpucore.PipelineStage, sems ...gpucore.Semaphore) []gpucore.SemaphoreWait {
	waits := make([]gpucore.SemaphoreWait, len(sems))
	for i, s := range sems {
		waits[i] = gpucore.SemaphoreWait{Semaphore: s, Stage: stage}
	}
	return waits
}
