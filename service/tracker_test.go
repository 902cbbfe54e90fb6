package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue/domain/command"
	"venue/domain/event"
	"venue/domain/orderbook"
)

type failingSubmitter struct{ err error }

func (f failingSubmitter) Submit(context.Context, command.Command) error { return f.err }

func TestTrackerReturnsOwnBatch(t *testing.T) {
	tracker := NewTracker()
	e, _ := startEngine(t, Options{}, Deps{Sink: tracker})
	ctx := context.Background()

	sell := limitCmd("T", orderbook.Sell, 100, 5)
	b, err := tracker.Do(ctx, e, sell)
	require.NoError(t, err)
	assert.Equal(t, sell.OrderID(), b.Ack.OrderID)
	assert.Equal(t, orderbook.Rested, b.Ack.Disposition)

	buy := limitCmd("T", orderbook.Buy, 100, 2)
	b, err = tracker.Do(ctx, e, buy)
	require.NoError(t, err)
	assert.Equal(t, buy.OrderID(), b.Ack.OrderID)
	require.Len(t, b.Trades, 1)
	assert.Zero(t, tracker.Pending())
}

func TestTrackerDropsWaiterOnSubmitError(t *testing.T) {
	tracker := NewTracker()
	boom := errors.New("boom")

	_, err := tracker.Do(context.Background(), failingSubmitter{boom}, limitCmd("T", orderbook.Buy, 1, 1))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, tracker.Pending())
}

func TestTrackerFIFOForSameKey(t *testing.T) {
	tracker := NewTracker()
	id := uuid.New()
	cmd := command.New("T", 1, command.CancelOrder{OrderID: id})

	// A submitter that accepts without emitting leaves both waiters queued.
	accept := failingSubmitter{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tracker.Do(ctx, accept, cmd)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, tracker.Pending(), "timed-out waiter keeps its slot")

	done := make(chan event.Batch, 1)
	go func() {
		b, _ := tracker.Do(context.Background(), accept, cmd)
		done <- b
	}()
	require.Eventually(t, func() bool { return tracker.Pending() == 2 }, time.Second, time.Millisecond)

	first := event.Batch{Seq: 1, Ack: event.Ack{Kind: command.KindCancelOrder, OrderID: id}}
	second := event.Batch{Seq: 2, Ack: event.Ack{Kind: command.KindCancelOrder, OrderID: id}}
	tracker.Emit(first)
	tracker.Emit(second)

	select {
	case b := <-done:
		assert.EqualValues(t, 2, b.Seq)
	case <-time.After(time.Second):
		t.Fatal("second waiter never woke")
	}
	assert.Zero(t, tracker.Pending())

	// Batches nobody waits for are ignored.
	tracker.Emit(event.Batch{Ack: event.Ack{Kind: command.KindNewOrder, OrderID: uuid.New()}})
}
