package pass

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/atmos/gpucore"
)

const (
	// blueNoiseSize is the edge of the blue noise tile used to dither the
	// composition.
	blueNoiseSize = 128

	// Layout: camera position, sun direction, sun color, ambient color
	// (4 × vec4<f32>), shadow view-projection (mat4x4<f32>), apply god rays
	// (u32), padded to 16 bytes.
	compositionUniformSize = 4*16 + 64 + 16
)

// CompositionPass upsamples the sky view and composes sky, terrain, clouds
// and god rays into one HDR image.
type CompositionPass struct {
	ctx *Context
	res owned

	applyGodRays bool

	cloudsColor       gpucore.Image
	terrainColor      gpucore.Image
	terrainDepth      gpucore.Image
	transmittance     gpucore.Image
	skyView           gpucore.Image
	aerialPerspective gpucore.Image
	shadowMap         gpucore.Image
	godRays           gpucore.Image

	sky       gpucore.Image
	color     gpucore.Image
	blueNoise gpucore.Buffer
	sampler   gpucore.Sampler
	uniforms  *uniforms
}

// NewCompositionPass returns an uninitialized composition pass.
func NewCompositionPass() *CompositionPass { return &CompositionPass{} }

// Name implements Unit.
func (p *CompositionPass) Name() string { return "composition" }

// SetCloudsColor sets the cloud color image.
func (p *CompositionPass) SetCloudsColor(img gpucore.Image) { p.cloudsColor = img }

// SetTerrain sets the terrain color and depth images.
func (p *CompositionPass) SetTerrain(color, depth gpucore.Image) {
	p.terrainColor, p.terrainDepth = color, depth
}

// SetLUTs sets the atmosphere lookup tables.
func (p *CompositionPass) SetLUTs(transmittance, skyView, aerialPerspective LookUpTable) {
	p.transmittance = transmittance.LUT()
	p.skyView = skyView.LUT()
	p.aerialPerspective = aerialPerspective.LUT()
}

// SetShadowMap sets the sun depth image.
func (p *CompositionPass) SetShadowMap(img gpucore.Image) { p.shadowMap = img }

// SetGodRays sets the god rays image. It is only sampled while god rays
// are applied.
func (p *CompositionPass) SetGodRays(img gpucore.Image) { p.godRays = img }

// SetApplyGodRays enables or disables god rays.
func (p *CompositionPass) SetApplyGodRays(apply bool) { p.applyGodRays = apply }

// ApplyGodRays reports whether god rays are composed.
func (p *CompositionPass) ApplyGodRays() bool { return p.applyGodRays }

// Color returns the composed HDR image.
func (p *CompositionPass) Color() gpucore.Image { return p.color }

// Sky returns the upsampled sky image.
func (p *CompositionPass) Sky() gpucore.Image { return p.sky }

// Initialize implements Unit. The blue noise tile is uploaded through a
// staging buffer queued on ctx.Deletions.
func (p *CompositionPass) Initialize(ctx *Context) error {
	if err := ctx.validate(); err != nil {
		return err
	}
	inputs := []gpucore.Image{
		p.cloudsColor, p.terrainColor, p.terrainDepth, p.transmittance,
		p.skyView, p.aerialPerspective, p.shadowMap, p.godRays,
	}
	for _, img := range inputs {
		if img == nil {
			return fmt.Errorf("%w: composition inputs", ErrMissingInput)
		}
	}
	p.ctx = ctx

	desc := gpucore.ImageDesc{
		Width:   ctx.Width,
		Height:  ctx.Height,
		Format:  gpucore.FormatRGBA16Float,
		Usage:   gpucore.ImageUsageSampled | gpucore.ImageUsageColorAttachment,
		Initial: Discarded(),
	}
	var err error
	if p.sky, err = p.res.image(ctx, "sky-color", desc); err != nil {
		return err
	}
	if p.color, err = p.res.image(ctx, "composited-image", desc); err != nil {
		return err
	}
	if p.sampler, err = p.res.sampler(ctx, "composition-sampler", gpucore.SamplerDesc{}); err != nil {
		return err
	}
	if p.blueNoise, err = upload(ctx, &p.res, "blue-noise", gpucore.BufferUsageStorage, blueNoise(blueNoiseSize)); err != nil {
		return err
	}
	p.uniforms, err = newUniforms(ctx, &p.res, "composition", compositionUniformSize)
	return err
}

// blueNoise returns an n×n tile of 8-bit dither thresholds built from an
// interleaved gradient, which has blue-noise-like spectral properties.
func blueNoise(n int) []byte {
	buf := make([]byte, n*n)
	for y := range n {
		for x := range n {
			v := 52.9829189 * frac(0.06711056*float64(x)+0.00583715*float64(y))
			buf[y*n+x] = byte(frac(v) * 255)
		}
	}
	return buf
}

func frac(v float64) float64 { return v - float64(int64(v)) }

// Update implements FrameUpdater.
func (p *CompositionPass) Update(slot int, params FrameParams) {
	if p.uniforms == nil {
		return
	}
	b := p.uniforms.slot(slot)
	putFloats(b[0:16], params.CameraPosition[0], params.CameraPosition[1], params.CameraPosition[2], 0)
	putFloats(b[16:32], params.SunDirection[0], params.SunDirection[1], params.SunDirection[2], 0)
	putFloats(b[32:48], params.SunColor[:]...)
	putFloats(b[48:64], params.AmbientColor[0], params.AmbientColor[1], params.AmbientColor[2], 0)
	shadow := sunViewProjection(params.SunDirection)
	putFloats(b[64:128], shadow[:]...)
	var apply uint32
	if p.applyGodRays {
		apply = 1
	}
	binary.LittleEndian.PutUint32(b[128:], apply)
}

// RecordCommands implements Unit. Both targets end in GraphicsSampled.
func (p *CompositionPass) RecordCommands(rec gpucore.Recording, slot int) error {
	if p.color == nil {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.Name())
	}
	if err := p.uniforms.record(rec, slot); err != nil {
		return err
	}
	prof := p.ctx.Profiler

	timeStart(prof, rec, SkyUpsample, gpucore.StageTopOfPipe)
	renderTo(rec, "sky-upsample", p.sky, p.skyView, p.transmittance)
	timeEnd(prof, rec, SkyUpsample, gpucore.StageBottomOfPipe)

	reads := []gpucore.Image{
		p.sky, p.cloudsColor, p.terrainColor, p.terrainDepth,
		p.transmittance, p.aerialPerspective, p.shadowMap,
	}
	if p.applyGodRays {
		reads = append(reads, p.godRays)
	}
	timeStart(prof, rec, Composition, gpucore.StageTopOfPipe)
	renderTo(rec, "composition", p.color, reads...)
	timeEnd(prof, rec, Composition, gpucore.StageBottomOfPipe)
	return nil
}

// Destroy implements Destroyer.
func (p *CompositionPass) Destroy() {
	p.res.release()
	p.sky, p.color, p.blueNoise = nil, nil, nil
}
