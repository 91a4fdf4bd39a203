// Package pass contains the render pass units composed by the frame
// orchestrator.
//
// A unit creates its resources through the registry in [Unit.Initialize]
// and records its GPU work into a recording supplied by the orchestrator in
// [Unit.RecordCommands]. Units never submit frame work themselves; which
// queue a recording runs on, and what it waits for, is decided by the
// orchestrator.
//
// Capabilities beyond the core contract are exposed as traits: [Destroyer],
// [LookUpTable], [FrameUpdater] and [TargetSetter].
package pass

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/atmos/gpucore"
	"github.com/gogpu/atmos/profiler"
	"github.com/gogpu/atmos/resource"
)

// Pass errors.
var (
	// ErrMissingInput is returned by Initialize or RecordCommands when an
	// input image or buffer was not wired with its setter.
	ErrMissingInput = errors.New("pass: input not set")

	// ErrNotInitialized is returned by RecordCommands before Initialize.
	ErrNotInitialized = errors.New("pass: not initialized")
)

// Unit is a render pass unit.
type Unit interface {
	// Name identifies the unit in logs and resource names.
	Name() string

	// Initialize creates the unit's resources.
	Initialize(ctx *Context) error

	// RecordCommands records the unit's work for frame slot into rec.
	// It may be called from a worker goroutine; it must only touch state
	// owned by the unit and resources resolved during Initialize.
	RecordCommands(rec gpucore.Recording, slot int) error
}

// Destroyer is implemented by units that own resources.
type Destroyer interface {
	Destroy()
}

// LookUpTable is implemented by stages that produce a lookup table image.
type LookUpTable interface {
	LUT() gpucore.Image
}

// FrameUpdater is implemented by units with per-slot uniform data. Update
// is called on the frame goroutine before the slot is recorded.
type FrameUpdater interface {
	Update(slot int, params FrameParams)
}

// TargetSetter is implemented by units that render into the presented
// swapchain image, which changes every frame.
type TargetSetter interface {
	SetTarget(img gpucore.Image)
}

// Context carries the collaborators a unit needs during initialization.
type Context struct {
	Device    gpucore.Device
	Registry  *resource.Registry
	Deletions *resource.DeletionQueue
	// Profiler may be nil, in which case no timestamps are recorded.
	Profiler *profiler.Profiler

	Width          uint32
	Height         uint32
	FramesInFlight int

	Logger *slog.Logger
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

func (c *Context) validate() error {
	switch {
	case c == nil || c.Device == nil || c.Registry == nil:
		return fmt.Errorf("%w: context without device or registry", ErrMissingInput)
	case c.Width == 0 || c.Height == 0:
		return fmt.Errorf("pass: invalid resolution %dx%d", c.Width, c.Height)
	case c.FramesInFlight <= 0:
		return fmt.Errorf("pass: invalid frames in flight %d", c.FramesInFlight)
	}
	return nil
}

// FrameParams is the per-frame data units pack into their uniforms.
type FrameParams struct {
	Frame uint64
	// Time is the animation time in seconds.
	Time float32

	CameraPosition [3]float32
	SunDirection   [3]float32
	// SunColor holds RGB and intensity in W.
	SunColor [4]float32
	// SunScreen is the sun position in [0,1] screen space.
	SunScreen [2]float32
	// AmbientColor is the zenith sky color used for ambient light.
	AmbientColor [3]float32
}

// ID identifies a profiled pass. Pass p owns timestamp queries 2p and 2p+1.
type ID int

// Profiled passes. The numbering fixes the timestamp query layout.
const (
	Depth ID = iota
	Clouds
	Transmittance
	MultipleScattering
	SkyView
	AerialPerspective
	GodRaysMask
	GodRaysBlur
	SkyUpsample
	Composition
	PostProcessing
	Terrain

	// NumPasses is the number of profiled passes.
	NumPasses int = iota
)

var idNames = [...]string{
	Depth:              "Depth pre-pass",
	Clouds:             "Cloud compute",
	Transmittance:      "Transmittance LUT compute",
	MultipleScattering: "Multiple scattering LUT compute",
	SkyView:            "Sky view LUT compute",
	AerialPerspective:  "Aerial perspective LUT compute",
	GodRaysMask:        "God rays mask gen",
	GodRaysBlur:        "God rays blur gen",
	SkyUpsample:        "Sky view upsample",
	Composition:        "Composition",
	PostProcessing:     "Post processing",
	Terrain:            "Terrain draw",
}

// String returns the report name of the pass.
func (id ID) String() string {
	if id >= 0 && int(id) < len(idNames) {
		return idNames[id]
	}
	return fmt.Sprintf("ID(%d)", int(id))
}

// Names returns the report names of all passes in ID order.
func Names() []string {
	return append([]string(nil), idNames[:]...)
}

// timeStart resets both queries of id and writes the start timestamp.
func timeStart(p *profiler.Profiler, rec gpucore.Recording, id ID, stage gpucore.PipelineStage) {
	if p == nil {
		return
	}
	p.ResetTimestamp(rec, profiler.StartQuery(int(id)))
	p.ResetTimestamp(rec, profiler.EndQuery(int(id)))
	p.WriteTimestamp(rec, profiler.StartQuery(int(id)), stage)
}

func timeEnd(p *profiler.Profiler, rec gpucore.Recording, id ID, stage gpucore.PipelineStage) {
	if p == nil {
		return
	}
	p.WriteTimestamp(rec, profiler.EndQuery(int(id)), stage)
}

// RecordSkipped records an empty timestamp pair for each id so that the
// profiler still sees every pass when a stage is disabled.
func RecordSkipped(p *profiler.Profiler, rec gpucore.Recording, ids ...ID) {
	for _, id := range ids {
		timeStart(p, rec, id, gpucore.StageTopOfPipe)
		timeEnd(p, rec, id, gpucore.StageTopOfPipe)
	}
}
