// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucore defines the backend-agnostic multi-queue device contract
// used by the atmos frame orchestrator.
//
// The contract models an explicit GPU API with two independent execution
// queues (graphics and compute), binary semaphores for cross-queue ordering,
// fences for host synchronization, and per-image access states whose owning
// queue changes only through release/acquire barrier pairs.
//
//	           +------------------+
//	           |  atmos.Renderer  |
//	           +---------+--------+
//	                     |
//	            gpucore.Device
//	                     |
//	      +--------------+--------------+
//	      |                             |
//	+-----v-----+                 +-----v------+
//	|   sim     |                 |   native   |
//	| (testing) |                 | (wgpu hal) |
//	+-----------+                 +------------+
//
// # Ownership transfer
//
// An [ImageBarrier] whose Src.Queue differs from Dst.Queue is one half of an
// ownership transfer. The producing queue records the release half, the
// consuming queue records the identical acquire half, and the acquire
// submission must wait on a semaphore signaled by the release submission.
//
// # Recordings
//
// A [Recording] is a reusable command list bound to one queue kind. Commands
// are recorded between Begin and End; recording errors are deferred and
// reported by End.
package gpucore
