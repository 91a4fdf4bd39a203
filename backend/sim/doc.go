// Package sim provides a deterministic simulated [gpucore.Device].
//
// The simulated device runs one executor goroutine per queue. Submissions
// execute in FIFO order per queue; a submission starts only after every
// semaphore it waits on has been signaled by the executor of the signaling
// submission, exactly as a GPU would order them.
//
// Validation happens in two places:
//
//   - At submit time, binary semaphore use is checked in host order.
//     Waiting on a semaphore no earlier submission signals fails with
//     [gpucore.ErrWaitBeforeSignal] instead of hanging the queue.
//   - At execution time, image ownership is tracked per image. Commands that
//     touch an image on a queue that does not own it, and acquire barriers
//     with no matching release, are recorded as [Violation] values.
//
// Timestamps come from a per-queue tick clock advanced by every executed
// command, so durations are reproducible. [Device.HoldTimestamps] withholds
// timestamp availability until [Device.ResolveTimestamps] is called.
package sim
