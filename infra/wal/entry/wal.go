package entry

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"venue/domain/command"
)

var ErrClosed = errors.New("entry wal: closed")

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// Sync fsyncs every append before it returns.
	Sync bool
}

/*
WAL is the command journal. The engine appends each command before it is
applied; Replay feeds the same commands back after a restart.

Appends come from the engine's consumer goroutine. TruncateBefore may run
concurrently from the snapshot job, so both take the lock.
*/
type WAL struct {
	mu         sync.Mutex
	cfg        Config
	log        *zap.Logger
	current    *segment
	lastRotate time.Time
	buf        []byte
}

// Open continues the newest segment in cfg.Dir, creating the directory and
// the first segment when needed.
func Open(cfg Config, log *zap.Logger) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	files, err := segments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	index := 0
	if len(files) > 0 {
		newest := files[len(files)-1]
		if index, err = segmentIndex(newest); err != nil {
			return nil, err
		}
		if err := repairTail(newest, log); err != nil {
			return nil, err
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}
	log.Info("entry wal opened",
		zap.String("dir", cfg.Dir),
		zap.Int("segment", index),
		zap.Int64("offset", seg.offset),
	)

	return &WAL{
		cfg:        cfg,
		log:        log,
		current:    seg,
		lastRotate: time.Now(),
	}, nil
}

// repairTail cuts a torn final record so new appends start on a record
// boundary.
func repairTail(path string, log *zap.Logger) error {
	valid, err := validPrefix(path)
	if err != nil {
		return err
	}
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.Size() == valid {
		return nil
	}
	log.Warn("entry wal torn tail truncated",
		zap.String("path", path),
		zap.Int64("size", st.Size()),
		zap.Int64("valid", valid),
	)
	return os.Truncate(path, valid)
}

// Append journals a command.
func (w *WAL) Append(c command.Command) error {
	return w.AppendRecord(CommandRecord(c))
}

func (w *WAL) AppendRecord(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return ErrClosed
	}

	payloadLen := uint32(len(r.Data))
	size := headerSize + int(payloadLen) + 4
	if cap(w.buf) < size {
		w.buf = make([]byte, size)
	}
	buf := w.buf[:size]

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)

	crc := CRC32(buf[:headerSize+int(payloadLen)])
	binary.BigEndian.PutUint32(buf[headerSize+int(payloadLen):], crc)

	if err := w.current.append(buf); err != nil {
		return err
	}
	if w.cfg.Sync {
		if err := w.current.sync(); err != nil {
			return err
		}
	}

	if w.current.offset >= w.cfg.SegmentSize ||
		(w.cfg.SegmentDuration > 0 && time.Since(w.lastRotate) >= w.cfg.SegmentDuration) {
		return w.rotate()
	}
	return nil
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	_ = w.current.close()

	seg, err := openSegment(w.cfg.Dir, w.current.index+1)
	if err != nil {
		w.current = nil
		return err
	}
	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

// TruncateBefore removes closed segments whose records are all at or below
// seq. The open segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := segments(w.cfg.Dir)
	if err != nil {
		return err
	}

	var errs []error
	for _, path := range files {
		if w.current != nil && path == w.current.path {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				errs = append(errs, err)
				continue
			}
			w.log.Debug("entry wal segment removed", zap.String("path", path), zap.Uint64("max_seq", maxSeq))
		}
	}
	return errors.Join(errs...)
}

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return ErrClosed
	}
	return w.current.sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := errors.Join(w.current.sync(), w.current.close())
	w.current = nil
	return err
}
