package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"venue/domain/command"
	"venue/domain/event"
)

type Submitter interface {
	Submit(context.Context, command.Command) error
}

type trackKey struct {
	kind command.Kind
	id   uuid.UUID
}

/*
Tracker hands each caller the batch its own command produced. It is a
Sink: install it on the engine and submit through Do.

Waiters are matched by command kind and order id in FIFO order. Do holds
submitMu across Submit so registration order is queue order for commands
that share a key. Emit only takes mu, so a producer blocked on a full
queue never stalls the engine.
*/
type Tracker struct {
	submitMu sync.Mutex

	mu      sync.Mutex
	waiting map[trackKey][]chan event.Batch
}

func NewTracker() *Tracker {
	return &Tracker{waiting: make(map[trackKey][]chan event.Batch)}
}

// Do submits cmd through s and waits for its batch. If ctx ends first the
// command may still run; its batch is then dropped.
func (t *Tracker) Do(ctx context.Context, s Submitter, cmd command.Command) (event.Batch, error) {
	k := trackKey{kind: cmd.Kind(), id: cmd.OrderID()}
	ch := make(chan event.Batch, 1)

	t.submitMu.Lock()
	t.mu.Lock()
	t.waiting[k] = append(t.waiting[k], ch)
	t.mu.Unlock()

	if err := s.Submit(ctx, cmd); err != nil {
		t.mu.Lock()
		t.drop(k, ch)
		t.mu.Unlock()
		t.submitMu.Unlock()
		return event.Batch{}, err
	}
	t.submitMu.Unlock()

	select {
	case b := <-ch:
		return b, nil
	case <-ctx.Done():
		return event.Batch{}, ctx.Err()
	}
}

// drop removes a waiter whose command never reached the queue.
func (t *Tracker) drop(k trackKey, ch chan event.Batch) {
	q := t.waiting[k]
	for i := len(q) - 1; i >= 0; i-- {
		if q[i] == ch {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(t.waiting, k)
		return
	}
	t.waiting[k] = q
}

func (t *Tracker) Emit(b event.Batch) {
	k := trackKey{kind: b.Ack.Kind, id: b.Ack.OrderID}

	t.mu.Lock()
	q := t.waiting[k]
	if len(q) == 0 {
		t.mu.Unlock()
		return
	}
	ch := q[0]
	if len(q) == 1 {
		delete(t.waiting, k)
	} else {
		t.waiting[k] = q[1:]
	}
	t.mu.Unlock()

	ch <- b
}

// Pending returns the number of callers still waiting.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, q := range t.waiting {
		n += len(q)
	}
	return n
}
