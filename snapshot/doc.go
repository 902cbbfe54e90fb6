// Package snapshot persists the resting state of every book at a command
// sequence, so a restart replays only the journal written after it.
//
// Capturing is separate from writing: Capture copies the books while the
// engine holds them still, and Writer encodes the copy from any goroutine.
package snapshot
