package entry

import (
	"venue/domain/command"
	"venue/infra/wire"
)

type RecordType uint8

const (
	// RecordCommand carries one wire-encoded command.
	RecordCommand RecordType = iota + 1
)

// Frame: [type:1][seq:8][time:8][len:4][payload][crc:4]
const headerSize = 1 + 8 + 8 + 4

type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func CommandRecord(c command.Command) *Record {
	return &Record{
		Type: RecordCommand,
		Seq:  c.Seq,
		Time: c.Timestamp,
		Data: wire.MarshalCommand(c),
	}
}

// Command decodes the record payload.
func (r *Record) Command() (command.Command, error) {
	return wire.UnmarshalCommand(r.Data)
}
