package pass

import (
	"fmt"

	"github.com/gogpu/atmos/gpucore"
)

// DepthPass renders the terrain depth from the camera, used to cull cloud
// marching, and from the sun, used as the shadow map of the aerial
// perspective and composition.
type DepthPass struct {
	ctx  *Context
	res  owned
	mesh *MeshBuffers

	cameraDepth gpucore.Image
	sunDepth    gpucore.Image
}

// NewDepthPass returns an uninitialized depth pass.
func NewDepthPass() *DepthPass { return &DepthPass{} }

// Name implements Unit.
func (p *DepthPass) Name() string { return "depth" }

// SetMesh sets the geometry to rasterize.
func (p *DepthPass) SetMesh(m *MeshBuffers) { p.mesh = m }

// CameraDepth returns the camera depth image.
func (p *DepthPass) CameraDepth() gpucore.Image { return p.cameraDepth }

// SunDepth returns the sun depth image.
func (p *DepthPass) SunDepth() gpucore.Image { return p.sunDepth }

// Initialize implements Unit.
func (p *DepthPass) Initialize(ctx *Context) error {
	if err := ctx.validate(); err != nil {
		return err
	}
	if p.mesh == nil {
		return fmt.Errorf("%w: depth mesh", ErrMissingInput)
	}
	p.ctx = ctx
	desc := gpucore.ImageDesc{
		Width:   ctx.Width,
		Height:  ctx.Height,
		Format:  gpucore.FormatDepth32Float,
		Usage:   gpucore.ImageUsageSampled | gpucore.ImageUsageDepthAttachment,
		Initial: Discarded(),
	}
	var err error
	if p.cameraDepth, err = p.res.image(ctx, "camera-depth", desc); err != nil {
		return err
	}
	if p.sunDepth, err = p.res.image(ctx, "sun-depth", desc); err != nil {
		return err
	}
	return nil
}

// RecordCommands implements Unit. Both depth images end in DepthTarget.
func (p *DepthPass) RecordCommands(rec gpucore.Recording, _ int) error {
	if p.cameraDepth == nil {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.Name())
	}
	prof := p.ctx.Profiler
	timeStart(prof, rec, Depth, gpucore.StageTopOfPipe)

	// Both images are cleared, so their previous contents are discarded.
	rec.PipelineBarrier(
		barrier(p.cameraDepth, Discarded(), DepthTarget),
		barrier(p.sunDepth, Discarded(), DepthTarget),
	)
	for _, target := range []gpucore.Image{p.cameraDepth, p.sunDepth} {
		rec.Draw(gpucore.DrawCmd{
			Label:        target.Label(),
			Indices:      p.mesh.IndexCount,
			Instances:    1,
			VertexBuffer: p.mesh.Vertex,
			IndexBuffer:  p.mesh.Index,
			Depth:        target,
			Clear:        true,
		})
	}

	timeEnd(prof, rec, Depth, gpucore.StageBottomOfPipe)
	return nil
}

// Destroy implements Destroyer.
func (p *DepthPass) Destroy() {
	p.res.release()
	p.cameraDepth, p.sunDepth = nil, nil
}
