package broadcaster

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"venue/infra/wal/exit"
	"venue/infra/wire"
)

// Publisher delivers one encoded batch to the broker. It must not return
// until the broker has acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

type Config struct {
	Interval time.Duration
	// MaxRetries bounds delivery attempts for one batch. A batch that runs
	// out is left FAILED and skipped.
	MaxRetries uint32
}

type Broadcaster struct {
	outbox *exit.Outbox
	pub    Publisher
	cfg    Config
	log    *zap.Logger
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(outbox *exit.Outbox, pub Publisher, cfg Config, log *zap.Logger) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		outbox: outbox,
		pub:    pub,
		cfg:    cfg,
		log:    log.Named("broadcaster"),
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run drains the outbox every Interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("started", zap.Duration("interval", b.cfg.Interval))

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return

		case <-ticker.C:
			if _, err := b.DrainOnce(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn("drain failed", zap.Error(err))
			}
		}
	}
}

var errDeliveryFailed = errors.New("broadcaster: delivery failed")

// DrainOnce delivers pending batches in sequence order and returns how many
// were acknowledged. Leftover SENT records from a crash are retried first,
// then FAILED ones, then NEW. The pass stops at the first failure so a
// retried batch is never overtaken by a later one.
func (b *Broadcaster) DrainOnce(ctx context.Context) (int, error) {
	var delivered int
	for _, state := range []exit.ExitState{exit.StateSent, exit.StateFailed, exit.StateNew} {
		err := b.outbox.ScanByState(state, func(seq uint64, rec exit.ExitRecord) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if state == exit.StateFailed && rec.Retries >= b.cfg.MaxRetries {
				return nil
			}
			if err := b.deliver(ctx, seq, rec); err != nil {
				return err
			}
			delivered++
			return nil
		})
		if errors.Is(err, errDeliveryFailed) {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}

func (b *Broadcaster) deliver(ctx context.Context, seq uint64, rec exit.ExitRecord) error {
	payload, err := b.outbox.Payload(seq)
	if err != nil {
		return err
	}

	// 1️⃣ Mark SENT
	if err := b.outbox.UpdateState(seq, exit.StateSent, rec.Retries); err != nil {
		return err
	}

	// 2️⃣ Publish
	if err := b.pub.Publish(ctx, keyOf(payload), payload); err != nil {
		retries := rec.Retries + 1
		_ = b.outbox.UpdateState(seq, exit.StateFailed, retries)
		b.log.Warn("publish failed",
			zap.Uint64("seq", seq),
			zap.Uint32("retries", retries),
			zap.Error(err),
		)
		if retries >= b.cfg.MaxRetries {
			b.log.Error("giving up on batch", zap.Uint64("seq", seq))
		}
		return errDeliveryFailed
	}

	// 3️⃣ Mark ACKED
	return b.outbox.UpdateState(seq, exit.StateAcked, rec.Retries)
}

// keyOf returns the batch symbol, used as the partition key.
func keyOf(payload []byte) []byte {
	bt, err := wire.UnmarshalBatch(payload)
	if err != nil {
		return nil
	}
	return []byte(bt.Symbol)
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.pub.Close()
}
