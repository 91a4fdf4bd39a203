// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native implements gpucore.Device on top of gogpu/wgpu/hal.
//
// HAL exposes a single queue per device, so both gpucore queue kinds
// submit to it and HAL executes their work in submission order. Binary
// semaphores are validated on the host with the same ledger the simulated
// device uses; completion is tracked with one HAL fence whose value
// increases with every submission.
//
// Image barriers become TransitionTextures calls. Dispatches are encoded
// as labeled compute passes and draws as render passes over the declared
// attachments. Ownership transfers are encoded once, on the releasing
// queue.
//
// HAL has no query pools. Timestamps are host clock readings in
// nanoseconds taken while a submission is encoded, and they become
// available once its fence value completes, so TimestampPeriod is 1.
//
// The package registers itself under backend.NameNative:
//
//	import _ "github.com/gogpu/atmos/backend/native"
//
//	dev, err := backend.Open(ctx, backend.NameNative)
package native
