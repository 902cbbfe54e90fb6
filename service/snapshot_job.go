package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"venue/snapshot"
)

type JournalTruncator interface {
	TruncateBefore(seq uint64) error
}

type OutboxTruncator interface {
	TruncateAckedUpTo(seq uint64) (int, error)
}

// SnapshotJob periodically captures the books and trims the journal and
// outbox behind the snapshot. Either truncator may be nil.
type SnapshotJob struct {
	Engine   *Engine
	Writer   *snapshot.Writer
	Journal  JournalTruncator
	Outbox   OutboxTruncator
	Interval time.Duration
	Log      *zap.Logger

	lastSeq uint64
}

func (j *SnapshotJob) Run(ctx context.Context) {
	log := j.logger()
	t := time.NewTicker(j.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := j.TakeOnce(ctx); err != nil && ctx.Err() == nil {
				log.Warn("snapshot failed", zap.Error(err))
			}
		}
	}
}

// TakeOnce writes a snapshot if anything happened since the last one and
// returns its sequence.
func (j *SnapshotJob) TakeOnce(ctx context.Context) (uint64, error) {
	log := j.logger()

	var snap snapshot.Snapshot
	if err := j.Engine.Inspect(ctx, func(v View) {
		if v.Seq == j.lastSeq {
			snap.Seq = v.Seq
			return
		}
		snap = snapshot.Capture(v.Books, v.Seq)
	}); err != nil {
		return 0, err
	}
	if snap.Seq == j.lastSeq {
		return snap.Seq, nil
	}

	path, err := j.Writer.Write(snap)
	if err != nil {
		return 0, err
	}
	j.lastSeq = snap.Seq

	// Truncate ENTRY WAL after snapshot
	if j.Journal != nil {
		if err := j.Journal.TruncateBefore(snap.Seq); err != nil {
			log.Warn("journal truncate failed", zap.Error(err))
		}
	}

	// GC outbox (acked only)
	if j.Outbox != nil {
		if _, err := j.Outbox.TruncateAckedUpTo(snap.Seq); err != nil {
			log.Warn("outbox truncate failed", zap.Error(err))
		}
	}

	log.Info("snapshot written",
		zap.String("path", path),
		zap.Uint64("seq", snap.Seq),
		zap.Int("orders", snap.Orders()),
	)
	return snap.Seq, nil
}

func (j *SnapshotJob) logger() *zap.Logger {
	if j.Log == nil {
		return zap.NewNop()
	}
	return j.Log.Named("snapshot")
}
