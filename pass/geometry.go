package pass

import (
	"fmt"

	"github.com/gogpu/atmos/gpucore"
)

// GeometryPass rasterizes the lit terrain into its own color and depth
// targets on the graphics queue. It runs while the compute queue works on
// the clouds and the atmosphere, so it touches no shared image.
type GeometryPass struct {
	ctx  *Context
	res  owned
	mesh *MeshBuffers

	color   gpucore.Image
	depth   gpucore.Image
	sampler gpucore.Sampler
}

// NewGeometryPass returns an uninitialized geometry pass.
func NewGeometryPass() *GeometryPass { return &GeometryPass{} }

// Name implements Unit.
func (p *GeometryPass) Name() string { return "geometry" }

// SetMesh sets the terrain mesh.
func (p *GeometryPass) SetMesh(m *MeshBuffers) { p.mesh = m }

// Color returns the terrain color target.
func (p *GeometryPass) Color() gpucore.Image { return p.color }

// Depth returns the terrain depth target.
func (p *GeometryPass) Depth() gpucore.Image { return p.depth }

// Initialize implements Unit.
func (p *GeometryPass) Initialize(ctx *Context) error {
	if err := ctx.validate(); err != nil {
		return err
	}
	if p.mesh == nil {
		return fmt.Errorf("%w: geometry mesh", ErrMissingInput)
	}
	p.ctx = ctx

	var err error
	p.color, err = p.res.image(ctx, "terrain-color", gpucore.ImageDesc{
		Width:   ctx.Width,
		Height:  ctx.Height,
		Format:  gpucore.FormatRGBA16Float,
		Usage:   gpucore.ImageUsageSampled | gpucore.ImageUsageColorAttachment,
		Initial: Discarded(),
	})
	if err != nil {
		return err
	}
	p.depth, err = p.res.image(ctx, "terrain-depth", gpucore.ImageDesc{
		Width:   ctx.Width,
		Height:  ctx.Height,
		Format:  gpucore.FormatDepth32Float,
		Usage:   gpucore.ImageUsageSampled | gpucore.ImageUsageDepthAttachment,
		Initial: Discarded(),
	})
	if err != nil {
		return err
	}
	p.sampler, err = p.res.sampler(ctx, "geometry-sampler", gpucore.SamplerDesc{})
	return err
}

// RecordCommands implements Unit. Both targets end in GraphicsSampled.
func (p *GeometryPass) RecordCommands(rec gpucore.Recording, _ int) error {
	if p.color == nil {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.Name())
	}
	prof := p.ctx.Profiler
	timeStart(prof, rec, Terrain, gpucore.StageTopOfPipe)
	rec.PipelineBarrier(
		barrier(p.color, Discarded(), ColorTarget),
		barrier(p.depth, Discarded(), DepthTarget),
	)
	rec.Draw(gpucore.DrawCmd{
		Label:        "terrain",
		Indices:      p.mesh.IndexCount,
		Instances:    1,
		VertexBuffer: p.mesh.Vertex,
		IndexBuffer:  p.mesh.Index,
		Color:        []gpucore.Image{p.color},
		Depth:        p.depth,
		Clear:        true,
	})
	rec.PipelineBarrier(
		barrier(p.color, ColorTarget, GraphicsSampled),
		barrier(p.depth, DepthTarget, GraphicsSampled),
	)
	timeEnd(prof, rec, Terrain, gpucore.StageBottomOfPipe)
	return nil
}

// Destroy implements Destroyer.
func (p *GeometryPass) Destroy() {
	p.res.release()
	p.color, p.depth = nil, nil
}
