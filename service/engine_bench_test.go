package service

import (
	"context"
	"testing"

	"venue/domain/event"
	"venue/domain/orderbook"
	"venue/infra/wal/entry"
)

func benchEngine(b *testing.B, journal Journal) (*Engine, chan struct{}) {
	done := make(chan struct{}, 1024)
	e := New(Options{QueueSize: 4096}, Deps{
		Journal: journal,
		Sink:    SinkFunc(func(event.Batch) { done <- struct{}{} }),
	})
	if err := e.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(e.Stop)
	return e, done
}

func runBench(b *testing.B, e *Engine, done chan struct{}) {
	go func() {
		for i := 0; i < b.N; i++ {
			side := orderbook.Buy
			if i%2 == 1 {
				side = orderbook.Sell
			}
			_ = e.Submit(context.Background(), limitCmd("ACME", side, int64(100+i%3), 1))
		}
	}()
	for i := 0; i < b.N; i++ {
		<-done
	}
}

func BenchmarkSubmit_Core(b *testing.B) {
	e, done := benchEngine(b, nil)
	b.ResetTimer()
	runBench(b, e, done)
}

func BenchmarkSubmit_Journaled(b *testing.B) {
	w, err := entry.Open(entry.Config{Dir: b.TempDir(), SegmentSize: 64 << 20}, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer w.Close()

	e, done := benchEngine(b, w)
	b.ResetTimer()
	runBench(b, e, done)
}
