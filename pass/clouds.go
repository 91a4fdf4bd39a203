package pass

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gogpu/atmos/gpucore"
)

// Weather selects the cloud weather map.
type Weather uint8

// Weather maps.
const (
	WeatherStratus Weather = iota
	WeatherStratocumulus
	WeatherCumulus
	WeatherNubis
)

var weatherNames = [...]string{"stratus", "stratocumulus", "cumulus", "nubis"}

// String returns the flag name of the weather.
func (w Weather) String() string {
	if int(w) < len(weatherNames) {
		return weatherNames[w]
	}
	return fmt.Sprintf("Weather(%d)", w)
}

// ParseWeather parses a weather name as printed by String.
func ParseWeather(name string) (Weather, error) {
	for i, n := range weatherNames {
		if strings.EqualFold(name, n) {
			return Weather(i), nil
		}
	}
	return 0, fmt.Errorf("pass: unknown weather %q (want %s)", name, strings.Join(weatherNames[:], ", "))
}

// coverage returns the global cloud coverage and cloud type of w.
func (w Weather) coverage() (cover, kind float32) {
	switch w {
	case WeatherStratus:
		return 0.85, 0
	case WeatherCumulus:
		return 0.45, 1
	case WeatherNubis:
		return 0.55, 0.75
	default:
		return 0.6, 0.5
	}
}

// Cloud pass parameters.
const (
	cloudsWorkGroup = 16

	lowFrequencyNoiseSize  = 128
	highFrequencyNoiseSize = 32
	weatherMapSize         = 512
	curlNoiseSize          = 128

	// Layout: camera position, light color, light direction, sky zenith
	// (4 × vec4<f32>), resolution (vec2<f32>), time (f32), frame mod 16
	// (u32), coverage, cloud type (f32), padded to 16 bytes.
	cloudsUniformSize = 96
)

// CloudsPass ray-marches the volumetric cloud layer on the compute queue.
type CloudsPass struct {
	ctx     *Context
	res     owned
	weather Weather

	cameraDepth gpucore.Image

	color      gpucore.Image
	lowFreq    gpucore.Image
	highFreq   gpucore.Image
	weatherMap gpucore.Image
	curlNoise  gpucore.Image
	sampler    gpucore.Sampler
	uniforms   *uniforms
}

// NewCloudsPass returns an uninitialized clouds pass for weather.
func NewCloudsPass(weather Weather) *CloudsPass { return &CloudsPass{weather: weather} }

// Name implements Unit.
func (p *CloudsPass) Name() string { return "clouds" }

// Weather returns the selected weather map.
func (p *CloudsPass) Weather() Weather { return p.weather }

// SetCameraDepth sets the depth image used to stop marching at terrain.
func (p *CloudsPass) SetCameraDepth(img gpucore.Image) { p.cameraDepth = img }

// Color returns the cloud color target. It starts graphics-owned in
// GraphicsStorage.
func (p *CloudsPass) Color() gpucore.Image { return p.color }

// Initialize implements Unit.
func (p *CloudsPass) Initialize(ctx *Context) error {
	if err := ctx.validate(); err != nil {
		return err
	}
	if p.cameraDepth == nil {
		return fmt.Errorf("%w: clouds camera depth", ErrMissingInput)
	}
	p.ctx = ctx

	var err error
	p.color, err = p.res.image(ctx, "clouds-color", gpucore.ImageDesc{
		Width:   ctx.Width,
		Height:  ctx.Height,
		Format:  gpucore.FormatRGBA16Float,
		Usage:   gpucore.ImageUsageStorage | gpucore.ImageUsageSampled,
		Initial: GraphicsStorage,
	})
	if err != nil {
		return err
	}

	volumes := []struct {
		dst  *gpucore.Image
		name string
		desc gpucore.ImageDesc
	}{
		{&p.lowFreq, "clouds-low-frequency-noise", volume(lowFrequencyNoiseSize, lowFrequencyNoiseSize, lowFrequencyNoiseSize)},
		{&p.highFreq, "clouds-high-frequency-noise", volume(highFrequencyNoiseSize, highFrequencyNoiseSize, highFrequencyNoiseSize)},
		{&p.weatherMap, "weather-map-" + p.weather.String(), volume(weatherMapSize, weatherMapSize, 1)},
		{&p.curlNoise, "clouds-curl-noise", volume(curlNoiseSize, curlNoiseSize, 1)},
	}
	for _, v := range volumes {
		if *v.dst, err = p.res.image(ctx, v.name, v.desc); err != nil {
			return err
		}
	}

	if p.sampler, err = p.res.sampler(ctx, "clouds-sampler", gpucore.SamplerDesc{Address: gpucore.AddressRepeat}); err != nil {
		return err
	}
	if p.uniforms, err = newUniforms(ctx, &p.res, "clouds", cloudsUniformSize); err != nil {
		return err
	}
	ctx.logger().Debug("pass: clouds initialized", "weather", p.weather, "width", ctx.Width, "height", ctx.Height)
	return nil
}

// volume describes a compute-private sampled noise texture.
func volume(w, h, d uint32) gpucore.ImageDesc {
	return gpucore.ImageDesc{
		Width:   w,
		Height:  h,
		Depth:   d,
		Format:  gpucore.FormatRGBA8Unorm,
		Usage:   gpucore.ImageUsageSampled | gpucore.ImageUsageCopyDst,
		Initial: ComputeSampled,
	}
}

// Update implements FrameUpdater.
func (p *CloudsPass) Update(slot int, params FrameParams) {
	if p.uniforms == nil {
		return
	}
	b := p.uniforms.slot(slot)
	putFloats(b[0:16], params.CameraPosition[0], params.CameraPosition[1], params.CameraPosition[2], 0)
	putFloats(b[16:32], params.SunColor[:]...)
	putFloats(b[32:48], params.SunDirection[0], params.SunDirection[1], params.SunDirection[2], 0)
	putFloats(b[48:64], params.AmbientColor[0], params.AmbientColor[1], params.AmbientColor[2], 0)
	cover, kind := p.weather.coverage()
	putFloats(b[64:], float32(p.ctx.Width), float32(p.ctx.Height), params.Time)
	binary.LittleEndian.PutUint32(b[76:], uint32(params.Frame%16)) //nolint:gosec // < 16
	putFloats(b[80:], cover, kind)
}

// RecordCommands implements Unit. The color target is written in
// ComputeStorage.
func (p *CloudsPass) RecordCommands(rec gpucore.Recording, slot int) error {
	if p.color == nil {
		return fmt.Errorf("%w: %s", ErrNotInitialized, p.Name())
	}
	if err := p.uniforms.record(rec, slot); err != nil {
		return err
	}
	prof := p.ctx.Profiler
	timeStart(prof, rec, Clouds, gpucore.StageComputeShader)
	rec.Dispatch(gpucore.DispatchCmd{
		Label:  "clouds",
		X:      gpucore.GroupCount(p.ctx.Width, cloudsWorkGroup),
		Y:      gpucore.GroupCount(p.ctx.Height, cloudsWorkGroup),
		Z:      1,
		Reads:  []gpucore.Image{p.cameraDepth, p.lowFreq, p.highFreq, p.weatherMap, p.curlNoise},
		Writes: []gpucore.Image{p.color},
	})
	timeEnd(prof, rec, Clouds, gpucore.StageComputeShader)
	return nil
}

// Destroy implements Destroyer.
func (p *CloudsPass) Destroy() {
	p.res.release()
	p.color = nil
}
