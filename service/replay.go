package service

import (
	"fmt"

	"go.uber.org/zap"

	"venue/domain/command"
	"venue/infra/wal/entry"
	"venue/snapshot"
)

type ReplayOptions struct {
	SnapshotDir string
	WALDir      string
	// Redeliver, when set, receives the batches of replayed commands with
	// a sequence above RedeliverAfter. Used to refill an outbox that lost
	// its tail in a crash.
	Redeliver      Sink
	RedeliverAfter uint64
	// SeqFloor is the highest sequence already handed out outside the
	// journal, such as the last batch in the outbox. Rejected commands are
	// never journaled, so numbering must resume above both.
	SeqFloor uint64
}

type Recovery struct {
	SnapshotSeq uint64
	Restored    int
	Replayed    int
	LastSeq     uint64
}

/*
Recover rebuilds in-memory state from the newest snapshot and the entry
journal written after it.

IMPORTANT:
- This MUST run before Start
- Replayed commands are not journaled again
- Sequencing resumes after the last journaled command
*/
func (e *Engine) Recover(opts ReplayOptions) (Recovery, error) {
	if e.State() != Stopped {
		return Recovery{}, ErrAlreadyRunning
	}

	var rec Recovery
	if opts.SnapshotDir != "" {
		snap, found, err := snapshot.Latest(opts.SnapshotDir)
		if err != nil {
			return rec, err
		}
		if found {
			if err := snapshot.Apply(snap, e.books); err != nil {
				return rec, err
			}
			rec.SnapshotSeq = snap.Seq
			rec.Restored = snap.Orders()
			e.seq.Observe(snap.Seq)
		}
	}

	if opts.WALDir != "" {
		last, err := entry.ReplayCommands(opts.WALDir, rec.SnapshotSeq, func(c command.Command) error {
			b := e.apply(c, false)
			e.seq.Observe(c.Seq)
			rec.Replayed++
			if opts.Redeliver != nil && c.Seq > opts.RedeliverAfter {
				opts.Redeliver.Emit(b)
			}
			return nil
		})
		if err != nil {
			return rec, fmt.Errorf("replay: %w", err)
		}
		e.seq.Observe(last)
	}
	e.seq.Observe(opts.SeqFloor)
	e.seq.Observe(opts.RedeliverAfter)

	rec.LastSeq = e.seq.Current()
	e.log.Info("recovery completed",
		zap.Uint64("snapshot_seq", rec.SnapshotSeq),
		zap.Int("restored_orders", rec.Restored),
		zap.Int("replayed", rec.Replayed),
		zap.Uint64("last_seq", rec.LastSeq),
	)
	return rec, nil
}
