package pass

import (
	"fmt"

	"github.com/gogpu/atmos/gpucore"
)

// Layout: time, exposure (f32), padded to 16 bytes.
const postUniformSize = 16

// DefaultExposure is the tone mapping exposure of the post processing pass.
const DefaultExposure = 1.0

// PostProcessingPass tone maps the composed HDR image into the presented
// swapchain image. The orchestrator transitions the target to ColorTarget
// before recording and to Presentable afterwards.
type PostProcessingPass struct {
	ctx *Context
	res owned

	input    gpucore.Image
	target   gpucore.Image
	exposure float32
	uniforms *uniforms
}

// NewPostProcessingPass returns an uninitialized post processing pass.
func NewPostProcessingPass() *PostProcessingPass {
	return &PostProcessingPass{exposure: DefaultExposure}
}

// Name implements Unit.
func (p *PostProcessingPass) Name() string { return "post-processing" }

// SetInput sets the HDR image to tone map.
func (p *PostProcessingPass) SetInput(img gpucore.Image) { p.input = img }

// SetTarget implements TargetSetter.
func (p *PostProcessingPass) SetTarget(img gpucore.Image) { p.target = img }

// SetExposure sets the tone mapping exposure.
func (p *PostProcessingPass) SetExposure(e float32) { p.exposure = e }

// Initialize implements Unit.
func (p *PostProcessingPass) Initialize(ctx *Context) error {
	if err := ctx.validate(); err != nil {
		return err
	}
	if p.input == nil {
		return fmt.Errorf("%w: post processing input", ErrMissingInput)
	}
	p.ctx = ctx
	var err error
	p.uniforms, err = newUniforms(ctx, &p.res, "post-processing", postUniformSize)
	return err
}

// Update implements FrameUpdater.
func (p *PostProcessingPass) Update(slot int, params FrameParams) {
	if p.uniforms == nil {
		return
	}
	putFloats(p.uniforms.slot(slot), params.Time, p.exposure)
}

// RecordCommands implements Unit.
func (p *PostProcessingPass) RecordCommands(rec gpucore.Recording, slot int) error {
	if p.uniforms == nil {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.Name())
	}
	if p.target == nil {
		return fmt.Errorf("%w: post processing target", ErrMissingInput)
	}
	if err := p.uniforms.record(rec, slot); err != nil {
		return err
	}
	prof := p.ctx.Profiler
	timeStart(prof, rec, PostProcessing, gpucore.StageTopOfPipe)
	fullscreen(rec, "post-processing", p.target, p.input)
	timeEnd(prof, rec, PostProcessing, gpucore.StageBottomOfPipe)
	return nil
}

// Destroy implements Destroyer.
func (p *PostProcessingPass) Destroy() {
	p.res.release()
	p.uniforms = nil
}
