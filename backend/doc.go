// Package backend provides a pluggable device backend registry.
//
// Device implementations register a [Factory] from an init() function and
// are selected at runtime by name:
//
//	import (
//	    _ "github.com/gogpu/atmos/backend/native"
//	    _ "github.com/gogpu/atmos/backend/sim"
//	)
//
//	dev, err := backend.Open(ctx, "sim")
//
// An empty name opens the best available backend. The native wgpu HAL
// adapter is preferred; the simulated device is the headless fallback.
package backend
