// Package parallel provides the worker pool used to record command
// recordings for different queues concurrently.
package parallel
