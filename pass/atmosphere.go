package pass

import (
	"fmt"
	"math"

	"github.com/gogpu/atmos/gpucore"
)

// Lookup table sizes and compute workgroup sizes.
const (
	TransmittanceWidth  = 256
	TransmittanceHeight = 64

	MultipleScatteringWidth  = 32
	MultipleScatteringHeight = 32

	SkyViewWidth  = 200
	SkyViewHeight = 100

	// AerialPerspectiveSize is the edge of the cubic froxel volume.
	AerialPerspectiveSize = 32

	transmittanceGroup      = 16
	multipleScatteringGroup = 16
	skyViewGroup            = 8
	aerialPerspectiveGroup  = 8

	// Layout: eye position, sun direction (2 × vec4<f32>), shadow
	// view-projection (mat4x4<f32>), frame (u32), padded to 16 bytes.
	atmosphereUniformSize = 2*16 + 64 + 16
)

// LUTStage is one lookup table of the atmosphere model, computed by a
// single dispatch that covers its width and height.
type LUTStage struct {
	id      ID
	name    string
	desc    gpucore.ImageDesc
	group   uint32
	image   gpucore.Image
	inputs  []gpucore.Image
	private bool
}

// ID returns the profiled pass of the stage.
func (s *LUTStage) ID() ID { return s.id }

// Name returns the stage name.
func (s *LUTStage) Name() string { return s.name }

// LUT implements LookUpTable.
func (s *LUTStage) LUT() gpucore.Image { return s.image }

// Private reports whether the table never leaves the compute queue.
func (s *LUTStage) Private() bool { return s.private }

// Groups returns the dispatch size of the stage.
func (s *LUTStage) Groups() (x, y, z uint32) {
	return gpucore.GroupCount(s.desc.Width, s.group), gpucore.GroupCount(s.desc.Height, s.group), 1
}

func (s *LUTStage) record(rec gpucore.Recording, ctx *Context) {
	x, y, z := s.Groups()
	timeStart(ctx.Profiler, rec, s.id, gpucore.StageComputeShader)
	rec.Dispatch(gpucore.DispatchCmd{
		Label:  s.name,
		X:      x,
		Y:      y,
		Z:      z,
		Reads:  s.inputs,
		Writes: []gpucore.Image{s.image},
	})
	timeEnd(ctx.Profiler, rec, s.id, gpucore.StageComputeShader)
}

func newLUTStage(id ID, name string, w, h, d, group uint32, private bool) *LUTStage {
	initial := GraphicsStorage
	if private {
		initial = ComputeStorage
	}
	return &LUTStage{
		id:    id,
		name:  name,
		group: group,
		desc: gpucore.ImageDesc{
			Width:   w,
			Height:  h,
			Depth:   d,
			Format:  gpucore.FormatRGBA16Float,
			Usage:   gpucore.ImageUsageStorage | gpucore.ImageUsageSampled,
			Initial: initial,
		},
		private: private,
	}
}

// AtmospherePass computes the sky model lookup tables on the compute queue,
// in dependency order: transmittance, multiple scattering, sky view and
// aerial perspective.
type AtmospherePass struct {
	ctx *Context
	res owned

	Transmittance      *LUTStage
	MultipleScattering *LUTStage
	SkyView            *LUTStage
	AerialPerspective  *LUTStage

	shadowMap gpucore.Image
	uniforms  *uniforms
}

// NewAtmospherePass returns an uninitialized atmosphere pass.
func NewAtmospherePass() *AtmospherePass {
	return &AtmospherePass{
		Transmittance: newLUTStage(Transmittance, "transmittance-lut",
			TransmittanceWidth, TransmittanceHeight, 1, transmittanceGroup, false),
		MultipleScattering: newLUTStage(MultipleScattering, "multiple-scattering-lut",
			MultipleScatteringWidth, MultipleScatteringHeight, 1, multipleScatteringGroup, true),
		SkyView: newLUTStage(SkyView, "sky-view-lut",
			SkyViewWidth, SkyViewHeight, 1, skyViewGroup, false),
		AerialPerspective: newLUTStage(AerialPerspective, "aerial-perspective-lut",
			AerialPerspectiveSize, AerialPerspectiveSize, AerialPerspectiveSize, aerialPerspectiveGroup, false),
	}
}

// Name implements Unit.
func (p *AtmospherePass) Name() string { return "atmosphere" }

// SetShadowMap sets the sun depth image sampled by the aerial perspective.
func (p *AtmospherePass) SetShadowMap(img gpucore.Image) { p.shadowMap = img }

// Stages returns the lookup table stages in recording order.
func (p *AtmospherePass) Stages() []*LUTStage {
	return []*LUTStage{p.Transmittance, p.MultipleScattering, p.SkyView, p.AerialPerspective}
}

// Initialize implements Unit.
func (p *AtmospherePass) Initialize(ctx *Context) error {
	if err := ctx.validate(); err != nil {
		return err
	}
	if p.shadowMap == nil {
		return fmt.Errorf("%w: atmosphere shadow map", ErrMissingInput)
	}
	p.ctx = ctx
	for _, s := range p.Stages() {
		img, err := p.res.image(ctx, s.name, s.desc)
		if err != nil {
			return err
		}
		s.image = img
	}
	t, ms := p.Transmittance.image, p.MultipleScattering.image
	p.MultipleScattering.inputs = []gpucore.Image{t}
	p.SkyView.inputs = []gpucore.Image{t, ms}
	p.AerialPerspective.inputs = []gpucore.Image{t, ms, p.shadowMap}

	var err error
	if p.uniforms, err = newUniforms(ctx, &p.res, "atmosphere", atmosphereUniformSize); err != nil {
		return err
	}
	return nil
}

// Update implements FrameUpdater.
func (p *AtmospherePass) Update(slot int, params FrameParams) {
	if p.uniforms == nil {
		return
	}
	b := p.uniforms.slot(slot)
	putFloats(b[0:16], params.CameraPosition[0], params.CameraPosition[1], params.CameraPosition[2], 1)
	putFloats(b[16:32], params.SunDirection[0], params.SunDirection[1], params.SunDirection[2], 0)
	shadow := sunViewProjection(params.SunDirection)
	putFloats(b[32:96], shadow[:]...)
	putFloats(b[96:100], params.Time)
}

// RecordCommands implements Unit. Every table is written in ComputeStorage,
// with a barrier after each stage whose table a later stage reads.
func (p *AtmospherePass) RecordCommands(rec gpucore.Recording, slot int) error {
	if p.Transmittance.image == nil {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.Name())
	}
	if err := p.uniforms.record(rec, slot); err != nil {
		return err
	}
	stages := p.Stages()
	for i, s := range stages {
		s.record(rec, p.ctx)
		if i < 2 {
			rec.PipelineBarrier(barrier(s.image, ComputeStorage, ComputeStorage))
		}
	}
	return nil
}

// Destroy implements Destroyer.
func (p *AtmospherePass) Destroy() {
	p.res.release()
	for _, s := range p.Stages() {
		s.image = nil
		s.inputs = nil
	}
}

// sunViewProjection returns a column-major orthographic view-projection
// looking along -dir at the origin, covering the terrain.
func sunViewProjection(dir [3]float32) [16]float32 {
	const extent, near, far = 120.0, 0.1, 400.0
	fx, fy, fz := normalize(-dir[0], -dir[1], -dir[2])
	// Pick an up vector that is not parallel to the view direction.
	ux, uy, uz := float32(0), float32(1), float32(0)
	if fy > 0.99 || fy < -0.99 {
		ux, uy, uz = 0, 0, 1
	}
	sx, sy, sz := normalize(fy*uz-fz*uy, fz*ux-fx*uz, fx*uy-fy*ux)
	vx, vy, vz := sy*fz-sz*fy, sz*fx-sx*fz, sx*fy-sy*fx
	// Eye at 200 units along dir.
	ex, ey, ez := -fx*200, -fy*200, -fz*200
	tx := -(sx*ex + sy*ey + sz*ez)
	ty := -(vx*ex + vy*ey + vz*ez)
	tz := fx*ex + fy*ey + fz*ez

	sxy := float32(1 / extent)
	sdz := float32(1 / (far - near))
	return [16]float32{
		sx * sxy, vx * sxy, fx * sdz, 0,
		sy * sxy, vy * sxy, fy * sdz, 0,
		sz * sxy, vz * sxy, fz * sdz, 0,
		tx * sxy, ty * sxy, (-tz - near) * sdz, 1,
	}
}

func normalize(x, y, z float32) (float32, float32, float32) {
	l := float32(math.Sqrt(float64(x*x + y*y + z*z)))
	if l == 0 {
		return 0, 1, 0
	}
	return x / l, y / l, z / l
}
