package service

import (
	"venue/domain/command"
	"venue/domain/event"
)

// Sink receives one batch per processed command, in command order, on the
// engine's consumer goroutine. Implementations must not retain the batch's
// slices past the call if they mutate them.
type Sink interface {
	Emit(event.Batch)
}

type SinkFunc func(event.Batch)

func (f SinkFunc) Emit(b event.Batch) { f(b) }

// Sinks fans a batch out to every sink in order.
type Sinks []Sink

func (s Sinks) Emit(b event.Batch) {
	for _, sink := range s {
		sink.Emit(b)
	}
}

type discard struct{}

func (discard) Emit(event.Batch) {}

// Journal records a command before it is applied. A failed append rejects
// the command without touching the book.
type Journal interface {
	Append(command.Command) error
}
