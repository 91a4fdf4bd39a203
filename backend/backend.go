package backend

import (
	"context"
	"errors"

	"github.com/gogpu/atmos/gpucore"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or no registered backend could open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNilDevice is returned when a factory reports success without a device.
	ErrNilDevice = errors.New("backend: factory returned nil device")
)

// Registered backend names.
const (
	// NameNative is the wgpu HAL device adapter.
	NameNative = "native"

	// NameSim is the deterministic simulated device.
	NameSim = "sim"
)

// Factory opens a new device.
type Factory func(ctx context.Context) (gpucore.Device, error)
