package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"venue/domain/command"
	"venue/domain/event"
	"venue/domain/orderbook"
	"venue/domain/registry"
)

type collector struct {
	ch chan event.Batch
}

func newCollector() *collector {
	return &collector{ch: make(chan event.Batch, 1024)}
}

func (c *collector) Emit(b event.Batch) { c.ch <- b }

func (c *collector) take(t *testing.T, n int) []event.Batch {
	t.Helper()
	out := make([]event.Batch, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case b := <-c.ch:
			out = append(out, b)
		case <-timeout:
			t.Fatalf("got %d of %d batches", len(out), n)
		}
	}
	return out
}

func startEngine(t *testing.T, opts Options, deps Deps) (*Engine, *collector) {
	t.Helper()
	c := newCollector()
	if deps.Sink == nil {
		deps.Sink = c
	}
	if deps.Log == nil {
		deps.Log = zaptest.NewLogger(t)
	}
	e := New(opts, deps)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
	return e, c
}

func limitCmd(symbol string, side orderbook.Side, price, qty int64) command.Command {
	return command.New(symbol, time.Now().UnixNano(), command.NewOrder{
		OrderID:  uuid.New(),
		TraderID: uuid.New(),
		Side:     side,
		Type:     orderbook.Limit,
		Price:    price,
		Quantity: qty,
	})
}

func marketCmd(symbol string, side orderbook.Side, qty int64) command.Command {
	return command.New(symbol, time.Now().UnixNano(), command.NewOrder{
		OrderID:  uuid.New(),
		Side:     side,
		Type:     orderbook.Market,
		Quantity: qty,
	})
}

func submitAll(t *testing.T, e *Engine, cmds ...command.Command) {
	t.Helper()
	for _, c := range cmds {
		require.NoError(t, e.Submit(context.Background(), c))
	}
}

func TestEngineMatchesAndAcks(t *testing.T) {
	e, c := startEngine(t, Options{Verify: true}, Deps{})

	sell1 := limitCmd("ACME", orderbook.Sell, 101, 5)
	sell2 := limitCmd("ACME", orderbook.Sell, 102, 5)
	buy := marketCmd("ACME", orderbook.Buy, 7)
	submitAll(t, e, sell1, sell2, buy)

	got := c.take(t, 3)
	for i, b := range got {
		assert.Equal(t, uint64(i+1), b.Seq, "one batch per command in sequence")
		assert.Equal(t, event.Accepted, b.Ack.Outcome)
	}
	assert.Equal(t, orderbook.Rested, got[0].Ack.Disposition)

	trades := got[2].Trades
	require.Len(t, trades, 2)
	assert.Equal(t, int64(101), trades[0].Price)
	assert.Equal(t, int64(5), trades[0].Quantity)
	assert.Equal(t, sell1.OrderID(), trades[0].SellOrderID)
	assert.Equal(t, int64(102), trades[1].Price)
	assert.Equal(t, int64(2), trades[1].Quantity)
	assert.Equal(t, orderbook.Filled, got[2].Ack.Disposition)
	assert.Equal(t, buy.OrderID(), got[2].Ack.OrderID)
}

func TestEngineRejectsButKeepsGoing(t *testing.T) {
	e, c := startEngine(t, Options{}, Deps{})

	submitAll(t, e,
		command.New("ACME", 1, command.Unrecognized{Tag: 42}),
		command.New("ACME", 2, nil),
		command.New("", 3, command.CancelOrder{OrderID: uuid.New()}),
		command.New("ACME", 4, command.UpdateOrder{OrderID: uuid.New()}),
		limitCmd("ACME", orderbook.Buy, 0, 1),
		limitCmd("ACME", orderbook.Buy, 100, 0),
		limitCmd("ACME", orderbook.Buy, 100, 1),
	)

	got := c.take(t, 7)
	want := []event.Reason{
		event.ReasonUnknownCommand,
		event.ReasonUnknownCommand,
		event.ReasonInvalidSymbol,
		event.ReasonMalformed,
		event.ReasonInvalidPrice,
		event.ReasonInvalidQuantity,
	}
	for i, reason := range want {
		assert.Equal(t, event.Rejected, got[i].Ack.Outcome, "command %d", i)
		assert.Equal(t, reason, got[i].Ack.Reason, "command %d", i)
	}
	assert.Equal(t, event.Accepted, got[6].Ack.Outcome)
}

func TestEngineDuplicateOrderRejected(t *testing.T) {
	e, c := startEngine(t, Options{}, Deps{})
	first := limitCmd("ACME", orderbook.Buy, 100, 1)
	submitAll(t, e, first, first)

	got := c.take(t, 2)
	assert.Equal(t, event.Accepted, got[0].Ack.Outcome)
	assert.Equal(t, event.ReasonDuplicateOrder, got[1].Ack.Reason)
}

func TestEngineCancelAndUpdate(t *testing.T) {
	e, c := startEngine(t, Options{Verify: true}, Deps{})

	a := limitCmd("ACME", orderbook.Buy, 100, 10)
	b := limitCmd("ACME", orderbook.Buy, 100, 10)
	submitAll(t, e, a, b,
		command.New("ACME", 10, command.UpdateOrder{OrderID: a.OrderID(), NewQuantity: command.Int64(4)}),
		command.New("ACME", 11, command.CancelOrder{OrderID: b.OrderID()}),
		command.New("ACME", 12, command.CancelOrder{OrderID: b.OrderID()}),
		command.New("NOPE", 13, command.CancelOrder{OrderID: a.OrderID()}),
		command.New("NOPE", 14, command.UpdateOrder{OrderID: a.OrderID(), NewPrice: command.Int64(5)}),
		command.New("ACME", 15, command.UpdateOrder{OrderID: a.OrderID(), NewPrice: command.Int64(99)}),
	)

	got := c.take(t, 8)
	assert.Equal(t, event.Accepted, got[2].Ack.Outcome)
	assert.Equal(t, int64(4), got[2].Ack.Remaining)

	assert.Equal(t, event.Accepted, got[3].Ack.Outcome)
	assert.Equal(t, int64(10), got[3].Ack.Remaining)
	assert.Equal(t, event.NotFound, got[4].Ack.Outcome, "second cancel is a no-op")
	assert.Equal(t, event.NotFound, got[5].Ack.Outcome, "unknown symbol")
	assert.Equal(t, event.NotFound, got[6].Ack.Outcome, "unknown symbol")

	assert.Equal(t, event.Accepted, got[7].Ack.Outcome)
	assert.Equal(t, int64(4), got[7].Ack.Remaining, "price-only update keeps quantity")

	var (
		bid     int64
		symbols int
	)
	require.NoError(t, e.Inspect(context.Background(), func(v View) {
		symbols = v.Books.Len()
		if book, ok := v.Books.Lookup("ACME"); ok {
			bid, _ = book.BestBid()
		}
	}))
	assert.Equal(t, int64(99), bid)
	assert.Equal(t, 1, symbols, "lookups on unknown symbols create no book")
}

func TestEngineUpdateValidatesBeforeLookup(t *testing.T) {
	e, c := startEngine(t, Options{}, Deps{})

	unknown := uuid.New()
	submitAll(t, e,
		command.New("ACME", 1, command.UpdateOrder{OrderID: unknown, NewQuantity: command.Int64(-1)}),
		command.New("ACME", 2, command.UpdateOrder{OrderID: unknown, NewQuantity: command.Int64(0)}),
		command.New("ACME", 3, command.UpdateOrder{OrderID: unknown, NewPrice: command.Int64(-5)}),
		command.New("ACME", 4, command.UpdateOrder{OrderID: unknown, NewQuantity: command.Int64(1)}),
	)

	got := c.take(t, 4)
	assert.Equal(t, event.ReasonInvalidQuantity, got[0].Ack.Reason)
	assert.Equal(t, event.ReasonInvalidQuantity, got[1].Ack.Reason)
	assert.Equal(t, event.ReasonInvalidPrice, got[2].Ack.Reason)
	for _, b := range got[:3] {
		assert.Equal(t, event.Rejected, b.Ack.Outcome)
	}
	assert.Equal(t, event.NotFound, got[3].Ack.Outcome)
}

func TestEngineRejectedFirstOrderCreatesNoBook(t *testing.T) {
	e, c := startEngine(t, Options{}, Deps{})

	submitAll(t, e,
		limitCmd("FRESH", orderbook.Buy, 0, 1),
		limitCmd("FRESH", orderbook.Buy, 100, 0),
		command.New("STOPS", 1, command.NewOrder{
			OrderID: uuid.New(), Side: orderbook.Sell, Type: orderbook.Stop, Price: 10, Quantity: 1,
		}),
	)
	for _, b := range c.take(t, 3) {
		assert.Equal(t, event.Rejected, b.Ack.Outcome)
	}

	var symbols []string
	require.NoError(t, e.Inspect(context.Background(), func(v View) { symbols = v.Books.Symbols() }))
	assert.Empty(t, symbols)

	submitAll(t, e, limitCmd("FRESH", orderbook.Buy, 100, 1))
	c.take(t, 1)
	require.NoError(t, e.Inspect(context.Background(), func(v View) { symbols = v.Books.Symbols() }))
	assert.Equal(t, []string{"FRESH"}, symbols)
}

func TestEngineHaltedBookIsIsolated(t *testing.T) {
	books := registry.New()
	_, err := books.Register("ACME")
	require.NoError(t, err)
	books.Halt("ACME", errors.New("index out of sync"))

	e, c := startEngine(t, Options{}, Deps{Books: books})
	submitAll(t, e,
		limitCmd("ACME", orderbook.Buy, 100, 1),
		limitCmd("GLBX", orderbook.Buy, 100, 1),
	)

	got := c.take(t, 2)
	assert.Equal(t, event.ReasonBookHalted, got[0].Ack.Reason)
	assert.Equal(t, event.Accepted, got[1].Ack.Outcome)
}

type failingJournal struct{ err error }

func (j failingJournal) Append(command.Command) error { return j.err }

func TestEngineJournalFailureLeavesBookUntouched(t *testing.T) {
	e, c := startEngine(t, Options{}, Deps{Journal: failingJournal{err: errors.New("disk full")}})
	submitAll(t, e, limitCmd("ACME", orderbook.Buy, 100, 1))

	got := c.take(t, 1)
	assert.Equal(t, event.ReasonJournalFailed, got[0].Ack.Reason)

	var n int
	require.NoError(t, e.Inspect(context.Background(), func(v View) {
		if book, ok := v.Books.Lookup("ACME"); ok {
			n = book.Len()
		}
	}))
	assert.Zero(t, n)
}

func TestFaultErrorWrapsCorrupt(t *testing.T) {
	assert.ErrorIs(t, faultError("boom"), orderbook.ErrCorrupt)
	assert.ErrorIs(t, faultError(errors.New("nil map")), orderbook.ErrCorrupt)

	inner := errors.New("level total drifted")
	err := faultError(inner)
	assert.ErrorIs(t, err, inner)
}

func TestReasonOf(t *testing.T) {
	cases := map[error]event.Reason{
		orderbook.ErrInvalidQuantity: event.ReasonInvalidQuantity,
		orderbook.ErrInvalidPrice:    event.ReasonInvalidPrice,
		orderbook.ErrInvalidSide:     event.ReasonInvalidSide,
		orderbook.ErrUnsupportedKind: event.ReasonUnsupportedKind,
		orderbook.ErrDuplicateOrder:  event.ReasonDuplicateOrder,
		orderbook.ErrSymbolMismatch:  event.ReasonInvalidSymbol,
		registry.ErrHalted:           event.ReasonBookHalted,
	}
	for err, want := range cases {
		assert.Equal(t, want, ReasonOf(err), err.Error())
	}
	assert.Equal(t, event.ReasonNone, ReasonOf(nil))
}

func TestSubmitRejectPolicy(t *testing.T) {
	e := New(Options{QueueSize: 1, Backpressure: Reject}, Deps{})
	require.NoError(t, e.Submit(context.Background(), limitCmd("ACME", orderbook.Buy, 1, 1)))
	err := e.Submit(context.Background(), limitCmd("ACME", orderbook.Buy, 1, 1))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, e.QueueDepth())
}

func TestSubmitBlockPolicyHonorsContext(t *testing.T) {
	e := New(Options{QueueSize: 1}, Deps{})
	require.NoError(t, e.Submit(context.Background(), limitCmd("ACME", orderbook.Buy, 1, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Submit(ctx, limitCmd("ACME", orderbook.Buy, 1, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueuedBeforeStartRunsAfterStart(t *testing.T) {
	c := newCollector()
	e := New(Options{}, Deps{Sink: c})
	submitAll(t, e, limitCmd("ACME", orderbook.Buy, 100, 1))

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()
	assert.Len(t, c.take(t, 1), 1)
}

func TestLifecycle(t *testing.T) {
	e := New(Options{}, Deps{})
	assert.Equal(t, Stopped, e.State())
	assert.ErrorIs(t, e.Inspect(context.Background(), func(View) {}), ErrNotRunning)

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, Running, e.State())
	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyRunning)

	e.Stop()
	assert.Equal(t, Stopped, e.State())
	e.Stop() // idempotent

	require.NoError(t, e.Start(context.Background()), "engine restarts after stop")
	e.Stop()
}

func TestContextCancelStopsEngine(t *testing.T) {
	e := New(Options{}, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return e.State() == Stopped }, time.Second, time.Millisecond)
	e.Stop()
}

func TestRegisterWhileRunning(t *testing.T) {
	e, _ := startEngine(t, Options{}, Deps{})
	require.NoError(t, e.Register(context.Background(), "ACME"))
	assert.ErrorIs(t, e.Register(context.Background(), "has space"), registry.ErrInvalidSymbol)

	var symbols []string
	require.NoError(t, e.Inspect(context.Background(), func(v View) { symbols = v.Books.Symbols() }))
	assert.Equal(t, []string{"ACME"}, symbols)
}

func TestConcurrentProducersGetOneTotalOrder(t *testing.T) {
	e, c := startEngine(t, Options{QueueSize: 16, Verify: true}, Deps{})

	const producers, each = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			side := orderbook.Buy
			if p%2 == 1 {
				side = orderbook.Sell
			}
			for i := 0; i < each; i++ {
				price := int64(100 + i%5)
				assert.NoError(t, e.Submit(context.Background(), limitCmd("ACME", side, price, 3)))
			}
		}(p)
	}
	wg.Wait()

	got := c.take(t, producers*each)
	var traded int64
	for i, b := range got {
		assert.Equal(t, uint64(i+1), b.Seq)
		assert.Equal(t, event.Accepted, b.Ack.Outcome)
		for _, tr := range b.Trades {
			traded += tr.Quantity
		}
	}

	// Callbacks run on the engine goroutine, so no require inside them.
	var (
		resting int64
		verr    error
	)
	require.NoError(t, e.Inspect(context.Background(), func(v View) {
		book, _ := v.Books.Lookup("ACME")
		verr = book.Verify()
		book.Walk(func(o orderbook.Order) bool {
			resting += o.Remaining
			return true
		})
	}))
	require.NoError(t, verr)
	assert.Equal(t, int64(producers*each*3), resting+2*traded, "every unit either rests or traded once on each side")
}
