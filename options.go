package atmos

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/atmos/pass"
	"github.com/gogpu/atmos/telemetry"
)

// ErrInvalidConfig is returned by New when an option value is out of range.
var ErrInvalidConfig = errors.New("atmos: invalid config")

// Defaults used by DefaultConfig.
const (
	DefaultWidth          = 1280
	DefaultHeight         = 720
	DefaultFramesInFlight = 2
	// DefaultThreads matches the two recording jobs of the parallel phase.
	DefaultThreads = 2
	// DefaultTerrainResolution is the number of grid cells per terrain edge.
	DefaultTerrainResolution = 256
)

// Option configures a Renderer during creation.
//
// Example:
//
//	r, err := atmos.New(dev,
//	    atmos.WithSize(1920, 1080),
//	    atmos.WithWeather(pass.WeatherCumulus),
//	    atmos.WithGodRays(false),
//	)
type Option func(*Config)

// Config holds the renderer configuration. Use DefaultConfig and options
// rather than filling it directly.
type Config struct {
	Width, Height uint32
	// FramesInFlight is the number of frame slots whose GPU work may be
	// outstanding at once.
	FramesInFlight int
	// Threads is the number of recording workers.
	Threads int

	Weather           pass.Weather
	Terrain           pass.TerrainShape
	TerrainResolution int

	GodRays bool
	// DeviceIdleStall waits for the whole device to go idle between the
	// graphics to compute handoff and parallel recording.
	DeviceIdleStall bool

	// History is the number of frames kept per benchmark series.
	History int

	// Overlay, when set, is recorded last into the presented image.
	Overlay pass.Unit

	Logger *slog.Logger
}

// DefaultConfig returns the default renderer configuration.
func DefaultConfig() Config {
	return Config{
		Width:             DefaultWidth,
		Height:            DefaultHeight,
		FramesInFlight:    DefaultFramesInFlight,
		Threads:           DefaultThreads,
		Weather:           pass.WeatherStratocumulus,
		Terrain:           pass.TerrainDefault,
		TerrainResolution: DefaultTerrainResolution,
		GodRays:           true,
		History:           telemetry.DefaultHistory,
	}
}

// Validate reports the first out-of-range value, wrapped in
// ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.Width == 0 || c.Height == 0:
		return fmt.Errorf("%w: size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	case c.FramesInFlight < 1:
		return fmt.Errorf("%w: %d frames in flight", ErrInvalidConfig, c.FramesInFlight)
	case c.Threads < 1:
		return fmt.Errorf("%w: %d threads", ErrInvalidConfig, c.Threads)
	case c.Weather > pass.WeatherNubis:
		return fmt.Errorf("%w: weather %s", ErrInvalidConfig, c.Weather)
	case c.Terrain > pass.TerrainMountain:
		return fmt.Errorf("%w: terrain %s", ErrInvalidConfig, c.Terrain)
	case c.TerrainResolution < 1:
		return fmt.Errorf("%w: terrain resolution %d", ErrInvalidConfig, c.TerrainResolution)
	case c.History < 1:
		return fmt.Errorf("%w: history %d", ErrInvalidConfig, c.History)
	}
	return nil
}

// WithSize sets the render resolution.
func WithSize(width, height uint32) Option {
	return func(c *Config) {
		c.Width, c.Height = width, height
	}
}

// WithFramesInFlight sets the number of frame slots.
func WithFramesInFlight(n int) Option {
	return func(c *Config) {
		c.FramesInFlight = n
	}
}

// WithThreads sets the number of recording workers. One worker records the
// compute and graphics jobs one after the other.
func WithThreads(n int) Option {
	return func(c *Config) {
		c.Threads = n
	}
}

// WithWeather selects the cloud weather map.
func WithWeather(w pass.Weather) Option {
	return func(c *Config) {
		c.Weather = w
	}
}

// WithTerrain selects the terrain heightfield.
func WithTerrain(shape pass.TerrainShape) Option {
	return func(c *Config) {
		c.Terrain = shape
	}
}

// WithTerrainResolution sets the number of grid cells per terrain edge.
func WithTerrainResolution(cells int) Option {
	return func(c *Config) {
		c.TerrainResolution = cells
	}
}

// WithGodRays enables or disables the god rays stage. While disabled its
// passes are recorded as 0 ms in the benchmark.
func WithGodRays(enabled bool) Option {
	return func(c *Config) {
		c.GodRays = enabled
	}
}

// WithDeviceIdleStall restores the full device idle wait in every frame.
// Frame slot fences and semaphores order the work without it.
func WithDeviceIdleStall(enabled bool) Option {
	return func(c *Config) {
		c.DeviceIdleStall = enabled
	}
}

// WithHistory sets the number of frames kept per benchmark series.
func WithHistory(frames int) Option {
	return func(c *Config) {
		c.History = frames
	}
}

// WithOverlay sets a unit recorded last into the presented image, for
// example a UI layer. If it implements [pass.TargetSetter] it receives the
// swapchain image every frame.
func WithOverlay(u pass.Unit) Option {
	return func(c *Config) {
		c.Overlay = u
	}
}

// WithLogger sets the renderer logger. It defaults to [Logger].
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
