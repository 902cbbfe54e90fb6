package exit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"venue/domain/event"
	"venue/infra/memory"
	"venue/infra/wire"
)

var scratch = memory.NewBufferPool(512, 64<<10)

// -------------------- State --------------------

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// ExitRecord tracks delivery of one batch.
type ExitRecord struct {
	State       ExitState
	Retries     uint32
	LastAttempt int64
}

// binary encoding: [state:1][retries:4][lastAttempt:8]
func encodeRecord(r ExitRecord) []byte {
	buf := make([]byte, 1+4+8)
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	return buf
}

func decodeRecord(b []byte) (ExitRecord, error) {
	if len(b) != 13 {
		return ExitRecord{}, errors.New("invalid exit record length")
	}
	return ExitRecord{
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
	}, nil
}

// -------------------- Outbox --------------------

/*
Outbox is the durable queue between the engine and downstream consumers.
Every emitted batch is stored under its command sequence together with a
delivery record; the broadcaster drains NEW and FAILED batches and moves
them to ACKED once the broker has them.

Keys:
  batch/<seq>  wire-encoded event.Batch
  state/<seq>  ExitRecord
*/
type Outbox struct {
	db   *pebble.DB
	log  *zap.Logger
	sync bool
}

type Options struct {
	// Sync makes every write durable before it returns.
	Sync bool
}

func Open(dir string, opts Options, log *zap.Logger) (*Outbox, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Outbox{db: db, log: log, sync: opts.Sync}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) writeOpts() *pebble.WriteOptions {
	if o.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// -------------------- API --------------------

// Put stores a new batch in state NEW.
func (o *Outbox) Put(b event.Batch) error {
	wb := o.db.NewBatch()
	defer wb.Close()

	buf := scratch.Get()
	defer scratch.Put(buf)
	*buf = wire.AppendBatch(*buf, b)

	// Set copies the value into the batch, so buf can be reused.
	if err := wb.Set(batchKey(b.Seq), *buf, nil); err != nil {
		return err
	}
	if err := wb.Set(stateKey(b.Seq), encodeRecord(ExitRecord{State: StateNew}), nil); err != nil {
		return err
	}
	return wb.Commit(o.writeOpts())
}

// Emit lets the outbox sit directly behind the engine. A failed write is
// logged; the batch is still in the entry journal and is rebuilt on replay.
func (o *Outbox) Emit(b event.Batch) {
	if err := o.Put(b); err != nil {
		o.log.Error("outbox put failed", zap.Uint64("seq", b.Seq), zap.Error(err))
	}
}

// UpdateState records a delivery attempt.
func (o *Outbox) UpdateState(seq uint64, state ExitState, retries uint32) error {
	rec := ExitRecord{
		State:       state,
		Retries:     retries,
		LastAttempt: time.Now().UnixNano(),
	}
	return o.db.Set(stateKey(seq), encodeRecord(rec), o.writeOpts())
}

// Get returns the delivery record for seq.
func (o *Outbox) Get(seq uint64) (ExitRecord, error) {
	val, closer, err := o.db.Get(stateKey(seq))
	if err != nil {
		return ExitRecord{}, err
	}
	defer closer.Close()

	return decodeRecord(val)
}

// Payload returns the encoded batch stored for seq.
func (o *Outbox) Payload(seq uint64) ([]byte, error) {
	val, closer, err := o.db.Get(batchKey(seq))
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return bytes.Clone(val), nil
}

// Batch decodes the batch stored for seq.
func (o *Outbox) Batch(seq uint64) (event.Batch, error) {
	p, err := o.Payload(seq)
	if err != nil {
		return event.Batch{}, err
	}
	return wire.UnmarshalBatch(p)
}

// Delete removes a batch and its record.
func (o *Outbox) Delete(seq uint64) error {
	wb := o.db.NewBatch()
	defer wb.Close()
	if err := wb.Delete(batchKey(seq), nil); err != nil {
		return err
	}
	if err := wb.Delete(stateKey(seq), nil); err != nil {
		return err
	}
	return wb.Commit(o.writeOpts())
}

// -------------------- Scan --------------------

// ScanByState iterates records in the given state in sequence order.
// This is used by the Broadcaster. Returning ErrStop from fn ends the
// scan early without an error.
func (o *Outbox) ScanByState(
	state ExitState,
	fn func(seq uint64, rec ExitRecord) error,
) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(statePrefix),
		UpperBound: []byte(statePrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		if rec.State != state {
			continue
		}

		seq, err := parseKey(iter.Key(), statePrefix)
		if err != nil {
			return err
		}

		if err := fn(seq, rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

var ErrStop = errors.New("exit: stop scan")

// TruncateAckedUpTo deletes ACKED batches with sequence at or below seq.
// Unacknowledged batches are kept whatever their sequence.
func (o *Outbox) TruncateAckedUpTo(seq uint64) (int, error) {
	var acked []uint64
	err := o.ScanByState(StateAcked, func(s uint64, _ ExitRecord) error {
		if s > seq {
			return ErrStop
		}
		acked = append(acked, s)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(acked) == 0 {
		return 0, nil
	}

	wb := o.db.NewBatch()
	defer wb.Close()
	for _, s := range acked {
		if err := wb.Delete(batchKey(s), nil); err != nil {
			return 0, err
		}
		if err := wb.Delete(stateKey(s), nil); err != nil {
			return 0, err
		}
	}
	if err := wb.Commit(o.writeOpts()); err != nil {
		return 0, err
	}
	o.log.Debug("outbox truncated", zap.Uint64("up_to", seq), zap.Int("removed", len(acked)))
	return len(acked), nil
}

// LastSeq returns the highest stored sequence, or 0 when empty.
func (o *Outbox) LastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(statePrefix),
		UpperBound: []byte(statePrefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key(), statePrefix)
}

// -------------------- Helpers --------------------

const (
	batchPrefix = "batch/"
	statePrefix = "state/"
)

func batchKey(seq uint64) []byte {
	return []byte(fmt.Sprintf(batchPrefix+"%020d", seq))
}

func stateKey(seq uint64) []byte {
	return []byte(fmt.Sprintf(statePrefix+"%020d", seq))
}

func parseKey(b []byte, prefix string) (uint64, error) {
	return strconv.ParseUint(string(bytes.TrimPrefix(b, []byte(prefix))), 10, 64)
}
