// Package memory holds the typed object pools used on hot write paths,
// such as the scratch buffers the outbox encodes batches into.
package memory
