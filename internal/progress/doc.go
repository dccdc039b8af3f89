// Package progress carries batch and item lifecycle events from the scheduler
// to pluggable sinks. The Hub buffers events on a background goroutine, flushes
// them in batches and never blocks the emitter.
package progress
