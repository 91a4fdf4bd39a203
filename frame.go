package atmos

import (
	"fmt"
	"math"

	"github.com/gogpu/atmos/pass"
)

// FrameState is the step of the frame protocol the renderer is executing.
// States advance in declaration order and loop back to BeginFrame.
type FrameState uint8

// Frame protocol states.
const (
	// BeginFrame waits for the slot fence and acquires a swapchain image.
	BeginFrame FrameState = iota
	// RecordGraphicsPrePass records and submits the depth pre-pass.
	RecordGraphicsPrePass
	// ReleaseGraphicsOwnership releases the shared images on graphics.
	ReleaseGraphicsOwnership
	// AcquireComputeOwnership acquires the shared images on compute.
	AcquireComputeOwnership
	// RecordParallel records the compute and terrain jobs on the pool.
	RecordParallel
	// ReleaseComputeOwnership releases the shared images on compute.
	ReleaseComputeOwnership
	// AcquireGraphicsOwnership acquires the shared images on graphics.
	AcquireGraphicsOwnership
	// RecordComposition records god rays, composition, post-processing
	// and the overlay.
	RecordComposition
	// SubmitPresent submits the composition and presents the image.
	SubmitPresent
	// PollTelemetry publishes completed timestamp results.
	PollTelemetry

	numFrameStates
)

var frameStateNames = [...]string{
	BeginFrame:               "BeginFrame",
	RecordGraphicsPrePass:    "RecordGraphicsPrePass",
	ReleaseGraphicsOwnership: "ReleaseGraphicsOwnership",
	AcquireComputeOwnership:  "AcquireComputeOwnership",
	RecordParallel:           "RecordParallel",
	ReleaseComputeOwnership:  "ReleaseComputeOwnership",
	AcquireGraphicsOwnership: "AcquireGraphicsOwnership",
	RecordComposition:        "RecordComposition",
	SubmitPresent:            "SubmitPresent",
	PollTelemetry:            "PollTelemetry",
}

// String returns the state name.
func (s FrameState) String() string {
	if s < numFrameStates {
		return frameStateNames[s]
	}
	return fmt.Sprintf("FrameState(%d)", s)
}

// Next returns the state that follows s.
func (s FrameState) Next() FrameState {
	return (s + 1) % numFrameStates
}

// animationRate converts frame numbers to animation seconds, so that a
// frame always renders the same scene regardless of wall time.
const animationRate = 60.0

// frameParams returns the scene parameters of frame: a fixed camera over
// the terrain and a sun circling slowly while rising and setting.
func frameParams(frame uint64) pass.FrameParams {
	t := float64(frame) / animationRate
	azimuth := 0.05 * t
	elevation := 0.35 + 0.25*math.Sin(0.1*t)
	dir := [3]float32{
		float32(math.Cos(elevation) * math.Cos(azimuth)),
		float32(math.Sin(elevation)),
		float32(math.Cos(elevation) * math.Sin(azimuth)),
	}
	sky := float32(math.Sin(elevation))
	return pass.FrameParams{
		Frame:          frame,
		Time:           float32(t),
		CameraPosition: [3]float32{0, 25, -110},
		SunDirection:   dir,
		SunColor:       [4]float32{1, 0.96, 0.9, 20},
		SunScreen:      [2]float32{0.5 + 0.5*dir[0], 0.5 - 0.5*dir[1]},
		AmbientColor:   [3]float32{0.35 * sky, 0.5 * sky, 0.8 * sky},
	}
}
