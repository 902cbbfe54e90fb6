// Package service runs the matching engine: one consumer goroutine that
// takes commands off a bounded queue, journals them, applies them to the
// book of their symbol and emits one event batch per command.
//
// It is decoupled from transports; gRPC, the websocket feed and the
// broker publisher all sit on either side of Submit and Sink.
package service
