package pass

import (
	"fmt"

	"github.com/gogpu/atmos/gpucore"
)

// Layout: sun screen position (vec2<f32>), time (f32), padded to 16 bytes.
const godRaysUniformSize = 16

// GodRaysPass builds a light occlusion mask from the clouds and terrain
// depth and blurs it radially from the sun, at half resolution.
type GodRaysPass struct {
	ctx *Context
	res owned

	cloudsColor  gpucore.Image
	terrainDepth gpucore.Image

	mask     gpucore.Image
	blurred  gpucore.Image
	sampler  gpucore.Sampler
	uniforms *uniforms
}

// NewGodRaysPass returns an uninitialized god rays pass.
func NewGodRaysPass() *GodRaysPass { return &GodRaysPass{} }

// Name implements Unit.
func (p *GodRaysPass) Name() string { return "god-rays" }

// SetCloudsColor sets the cloud color image, whose alpha occludes the sun.
func (p *GodRaysPass) SetCloudsColor(img gpucore.Image) { p.cloudsColor = img }

// SetTerrainDepth sets the terrain depth image.
func (p *GodRaysPass) SetTerrainDepth(img gpucore.Image) { p.terrainDepth = img }

// Texture returns the blurred god rays image.
func (p *GodRaysPass) Texture() gpucore.Image { return p.blurred }

// Resolution returns the size of the god rays targets, or zero before
// Initialize.
func (p *GodRaysPass) Resolution() (w, h uint32) {
	if p.ctx == nil {
		return 0, 0
	}
	return halfRes(p.ctx.Width), halfRes(p.ctx.Height)
}

func halfRes(v uint32) uint32 { return max(v/2, 1) }

// Initialize implements Unit.
func (p *GodRaysPass) Initialize(ctx *Context) error {
	if err := ctx.validate(); err != nil {
		return err
	}
	if p.cloudsColor == nil || p.terrainDepth == nil {
		return fmt.Errorf("%w: god rays clouds color or terrain depth", ErrMissingInput)
	}
	p.ctx = ctx
	w, h := p.Resolution()
	desc := gpucore.ImageDesc{
		Width:   w,
		Height:  h,
		Format:  gpucore.FormatRGBA16Float,
		Usage:   gpucore.ImageUsageSampled | gpucore.ImageUsageColorAttachment,
		Initial: Discarded(),
	}
	var err error
	if p.mask, err = p.res.image(ctx, "god-rays-mask", desc); err != nil {
		return err
	}
	if p.blurred, err = p.res.image(ctx, "god-rays", desc); err != nil {
		return err
	}
	if p.sampler, err = p.res.sampler(ctx, "god-rays-sampler", gpucore.SamplerDesc{}); err != nil {
		return err
	}
	p.uniforms, err = newUniforms(ctx, &p.res, "god-rays", godRaysUniformSize)
	return err
}

// Update implements FrameUpdater.
func (p *GodRaysPass) Update(slot int, params FrameParams) {
	if p.uniforms == nil {
		return
	}
	putFloats(p.uniforms.slot(slot), params.SunScreen[0], params.SunScreen[1], params.Time)
}

// RecordCommands implements Unit. Both targets end in GraphicsSampled.
func (p *GodRaysPass) RecordCommands(rec gpucore.Recording, slot int) error {
	if p.mask == nil {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.Name())
	}
	if err := p.uniforms.record(rec, slot); err != nil {
		return err
	}
	prof := p.ctx.Profiler

	timeStart(prof, rec, GodRaysMask, gpucore.StageTopOfPipe)
	renderTo(rec, "god-rays-mask", p.mask, p.cloudsColor, p.terrainDepth)
	timeEnd(prof, rec, GodRaysMask, gpucore.StageBottomOfPipe)

	timeStart(prof, rec, GodRaysBlur, gpucore.StageTopOfPipe)
	renderTo(rec, "god-rays-blur", p.blurred, p.mask)
	timeEnd(prof, rec, GodRaysBlur, gpucore.StageBottomOfPipe)
	return nil
}

// RecordSkipped records the god rays timestamps without any work, for
// frames with god rays disabled.
func (p *GodRaysPass) RecordSkipped(rec gpucore.Recording) {
	if p.ctx == nil {
		return
	}
	RecordSkipped(p.ctx.Profiler, rec, GodRaysMask, GodRaysBlur)
}

// Destroy implements Destroyer.
func (p *GodRaysPass) Destroy() {
	p.res.release()
	p.mask, p.blurred = nil, nil
}

// fullscreen records a fullscreen triangle into target.
func fullscreen(rec gpucore.Recording, label string, target gpucore.Image, reads ...gpucore.Image) {
	rec.Draw(gpucore.DrawCmd{
		Label:     label,
		Vertices:  3,
		Instances: 1,
		Color:     []gpucore.Image{target},
		Reads:     reads,
		Clear:     true,
	})
}

// renderTo records a fullscreen triangle into an offscreen target and
// leaves the target in GraphicsSampled.
func renderTo(rec gpucore.Recording, label string, target gpucore.Image, reads ...gpucore.Image) {
	rec.PipelineBarrier(barrier(target, Discarded(), ColorTarget))
	fullscreen(rec, label, target, reads...)
	rec.PipelineBarrier(barrier(target, ColorTarget, GraphicsSampled))
}
