// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import "errors"

// Package errors for the native backend.
var (
	// ErrHALUnavailable is returned when the requested HAL backend is not
	// compiled in.
	ErrHALUnavailable = errors.New("native: HAL backend not available")

	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrNotHAL is returned when a device provider does not expose HAL
	// device and queue objects.
	ErrNotHAL = errors.New("native: provider does not expose HAL types")

	// ErrUnsupportedFormat is returned for formats HAL cannot represent.
	ErrUnsupportedFormat = errors.New("native: unsupported format")
)
