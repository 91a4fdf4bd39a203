// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import "errors"

// Errors shared by device implementations.
var (
	// ErrWaitBeforeSignal is returned when a submission waits on a binary
	// semaphore that no earlier submission signals.
	ErrWaitBeforeSignal = errors.New("gpucore: semaphore waited before it was signaled")

	// ErrDoubleSignal is returned when a submission signals a binary
	// semaphore that already has a pending signal.
	ErrDoubleSignal = errors.New("gpucore: semaphore signaled twice without a wait")

	// ErrNotRecording is returned by End or Submit for a recording that was
	// not begun or not ended.
	ErrNotRecording = errors.New("gpucore: recording is not in the expected state")

	// ErrWrongQueue is returned when a recording is submitted to a queue of
	// a different kind.
	ErrWrongQueue = errors.New("gpucore: recording submitted to wrong queue")

	// ErrForeignObject is returned when an object from another device is used.
	ErrForeignObject = errors.New("gpucore: object belongs to another device")

	// ErrTimeout is returned when a fence wait exceeds the device timeout.
	ErrTimeout = errors.New("gpucore: wait timed out")

	// ErrDeviceLost is returned after the device has been destroyed.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrTimestampsUnsupported is returned when the device cannot time work.
	ErrTimestampsUnsupported = errors.New("gpucore: timestamp queries not supported")
)
