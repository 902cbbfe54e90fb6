package entry

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"venue/domain/command"
)

var (
	ErrChecksum   = errors.New("entry wal: checksum mismatch")
	ErrOutOfOrder = errors.New("entry wal: non-monotonic sequence")
	ErrTornRecord = errors.New("entry wal: torn record")
	ErrRecordType = errors.New("entry wal: unknown record type")
)

type ReplayHandler func(*Record) error

// Replay walks every record in dir, oldest segment first, and returns the
// highest sequence seen. A record cut short at the very end of the newest
// segment is what a crash mid-append leaves behind; it is ignored. A short
// record anywhere else is ErrTornRecord.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := segments(dir)
	if err != nil {
		return 0, err
	}

	for i, path := range files {
		tail := i == len(files)-1
		lastSeq, err = replaySegment(path, tail, lastSeq, fn)
		if err != nil {
			return lastSeq, fmt.Errorf("%s: %w", path, err)
		}
	}
	return lastSeq, nil
}

// ReplayCommands decodes every journaled command with a sequence above
// after and hands it to fn in order.
func ReplayCommands(dir string, after uint64, fn func(command.Command) error) (uint64, error) {
	return Replay(dir, func(rec *Record) error {
		if rec.Type != RecordCommand {
			return fmt.Errorf("%w: %d", ErrRecordType, rec.Type)
		}
		if rec.Seq <= after {
			return nil
		}
		c, err := rec.Command()
		if err != nil {
			return fmt.Errorf("seq %d: %w", rec.Seq, err)
		}
		c.Seq = rec.Seq
		return fn(c)
	})
}

func replaySegment(path string, tail bool, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lastSeq, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				if tail {
					return lastSeq, nil
				}
				return lastSeq, ErrTornRecord
			}
			return lastSeq, err
		}

		if rec.Seq <= lastSeq {
			return lastSeq, fmt.Errorf("%w: %d after %d", ErrOutOfOrder, rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq

		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	t := RecordType(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])

	data := make([]byte, headerSize+int(l)+4)
	copy(data, header)
	if _, err := io.ReadFull(r, data[headerSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	body := data[:headerSize+int(l)]
	crc := binary.BigEndian.Uint32(data[headerSize+int(l):])
	if !CRC32Valid(body, crc) {
		return nil, fmt.Errorf("%w at seq %d", ErrChecksum, seq)
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: data[headerSize : headerSize+int(l)],
	}, nil
}
