// Package atmos renders a sky, volumetric clouds and terrain scene across a
// graphics queue and a compute queue.
//
// # Overview
//
// atmos is a frame orchestrator. It owns a set of render pass units, moves
// the images they share between queues, and keeps several frames in flight
// without stalling the device. GPU access goes through the capability
// interfaces in package gpucore, so the same renderer runs on a native
// device or on the headless simulator.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/atmos"
//	    "github.com/gogpu/atmos/backend"
//	    _ "github.com/gogpu/atmos/backend/sim"
//	)
//
//	dev, err := backend.Open(ctx, "")
//	if err != nil {
//	    return err
//	}
//	defer dev.Destroy()
//
//	r, err := atmos.New(dev, atmos.WithSize(1280, 720))
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	err = r.Run(ctx, 600)
//	r.Benchmark().WriteReport(os.Stdout)
//
// # Frame Protocol
//
// Every frame executes the states of [FrameState] in order:
//   - wait for the frame slot's fence and acquire a swapchain image
//   - record the depth pre-pass on graphics
//   - release the shared images on graphics and acquire them on compute
//   - record clouds and the atmosphere lookup tables on compute while
//     terrain is recorded on graphics, on two pool workers
//   - release the shared images on compute and acquire them on graphics
//   - record god rays, composition, post-processing and the overlay
//   - submit and present, then publish completed pass timings
//
// Each ownership transfer is a [Handoff]: a release on the producer queue
// and a matching acquire on the consumer queue, joined by a semaphore.
//
// # Architecture
//
// The module is organized into:
//   - atmos: Renderer, Handoff, frame slots, options
//   - pass: render pass units and their shared access states
//   - gpucore: device, queue, recording and synchronization interfaces
//   - backend: backend registry, sim (headless) and native (wgpu HAL)
//   - profiler, telemetry: timestamp queries and per-pass history
//   - resource: resource registry and deferred deletion
//
// # Logging
//
// The package is silent by default. Install a logger with [SetLogger] or
// per renderer with [WithLogger].
package atmos
