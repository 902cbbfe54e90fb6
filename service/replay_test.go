package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue/domain/command"
	"venue/domain/event"
	"venue/domain/orderbook"
	"venue/infra/sequence"
	"venue/infra/wal/entry"
	"venue/infra/wal/exit"
	"venue/snapshot"
)

type bookState struct {
	Orders  []orderbook.Order
	Matches uint64
}

func capture(t *testing.T, e *Engine, symbol string) bookState {
	t.Helper()
	var s bookState
	require.NoError(t, e.Inspect(context.Background(), func(v View) {
		book, ok := v.Books.Lookup(symbol)
		if !ok {
			return
		}
		s.Matches = book.Matches()
		book.Walk(func(o orderbook.Order) bool {
			s.Orders = append(s.Orders, o)
			return true
		})
	}))
	return s
}

func workload() []command.Command {
	a := limitCmd("ACME", orderbook.Buy, 100, 10)
	return []command.Command{
		a,
		limitCmd("ACME", orderbook.Buy, 99, 5),
		limitCmd("ACME", orderbook.Sell, 103, 8),
		limitCmd("ACME", orderbook.Sell, 100, 4),
		command.New("ACME", 50, command.UpdateOrder{OrderID: a.OrderID(), NewQuantity: command.Int64(3)}),
		limitCmd("ACME", orderbook.Sell, 101, 2),
		marketCmd("ACME", orderbook.Buy, 1),
	}
}

func openJournal(t *testing.T, dir string) *entry.WAL {
	t.Helper()
	w, err := entry.Open(entry.Config{Dir: dir, SegmentSize: 256}, nil)
	require.NoError(t, err)
	return w
}

func TestRecoverFromJournal(t *testing.T) {
	walDir := t.TempDir()
	journal := openJournal(t, walDir)

	live, c := startEngine(t, Options{}, Deps{Journal: journal})
	cmds := workload()
	submitAll(t, live, cmds...)
	c.take(t, len(cmds))
	want := capture(t, live, "ACME")
	live.Stop()
	require.NoError(t, journal.Close())

	var redelivered []event.Batch
	seq := sequence.New(0)
	restored := New(Options{}, Deps{Seq: seq})
	rec, err := restored.Recover(ReplayOptions{
		WALDir:         walDir,
		Redeliver:      SinkFunc(func(b event.Batch) { redelivered = append(redelivered, b) }),
		RedeliverAfter: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, len(cmds), rec.Replayed)
	assert.Equal(t, uint64(len(cmds)), rec.LastSeq)
	assert.Equal(t, uint64(len(cmds)), seq.Current(), "numbering resumes after the journal")
	require.Len(t, redelivered, 2)
	assert.Equal(t, uint64(6), redelivered[0].Seq)

	require.NoError(t, restored.Start(context.Background()))
	defer restored.Stop()
	assert.Equal(t, want, capture(t, restored, "ACME"))
}

func TestSnapshotThenJournalTail(t *testing.T) {
	walDir := t.TempDir()
	snapDir := filepath.Join(t.TempDir(), "snapshots")
	journal := openJournal(t, walDir)

	live, c := startEngine(t, Options{}, Deps{Journal: journal})
	cmds := workload()
	submitAll(t, live, cmds[:4]...)
	c.take(t, 4)

	job := &SnapshotJob{Engine: live, Writer: &snapshot.Writer{Dir: snapDir}, Journal: journal}
	seq, err := job.TakeOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)

	again, err := job.TakeOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), again, "nothing new, nothing written")

	submitAll(t, live, cmds[4:]...)
	c.take(t, len(cmds)-4)
	want := capture(t, live, "ACME")
	live.Stop()
	require.NoError(t, journal.Close())

	restored := New(Options{}, Deps{})
	rec, err := restored.Recover(ReplayOptions{SnapshotDir: snapDir, WALDir: walDir})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rec.SnapshotSeq)
	assert.Equal(t, len(cmds)-4, rec.Replayed)

	require.NoError(t, restored.Start(context.Background()))
	defer restored.Stop()
	assert.Equal(t, want, capture(t, restored, "ACME"))
}

func TestRecoverRefusesWhileRunning(t *testing.T) {
	e, _ := startEngine(t, Options{}, Deps{})
	_, err := e.Recover(ReplayOptions{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRecoverNumbersAboveRejectedTail(t *testing.T) {
	walDir := t.TempDir()
	outbox, err := exit.Open(t.TempDir(), exit.Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = outbox.Close() })

	journal := openJournal(t, walDir)
	c := newCollector()
	live := New(Options{}, Deps{Sink: Sinks{outbox, c}, Journal: journal})
	require.NoError(t, live.Start(context.Background()))

	// The last command is rejected before the journal, so only the outbox
	// knows seq 2 was used.
	submitAll(t, live,
		limitCmd("ACME", orderbook.Buy, 100, 1),
		command.New("bad symbol", 2, command.CancelOrder{OrderID: uuid.New()}),
	)
	c.take(t, 2)
	live.Stop()
	require.NoError(t, journal.Close())

	published, err := outbox.LastSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(2), published)

	c = newCollector()
	restored := New(Options{}, Deps{Sink: Sinks{outbox, c}})
	rec, err := restored.Recover(ReplayOptions{
		WALDir:         walDir,
		Redeliver:      outbox,
		RedeliverAfter: published,
		SeqFloor:       published,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Replayed)
	assert.Equal(t, uint64(2), rec.LastSeq)

	require.NoError(t, restored.Start(context.Background()))
	defer restored.Stop()
	submitAll(t, restored, limitCmd("ACME", orderbook.Sell, 105, 1))
	got := c.take(t, 1)[0]
	assert.Equal(t, uint64(3), got.Seq)

	kept, err := outbox.Batch(2)
	require.NoError(t, err)
	assert.Equal(t, command.KindCancelOrder, kept.Ack.Kind, "stored batch is not overwritten")
	assert.Equal(t, event.ReasonInvalidSymbol, kept.Ack.Reason)
}
