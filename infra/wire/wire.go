// Package wire encodes commands and event batches in the protobuf binary
// format using protowire directly. The same encoding is used by the entry
// WAL, the exit outbox, Kafka messages and the gRPC codec.
package wire

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("wire: malformed message")

// ---- encoding helpers ----

func AppendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendInt writes a zigzag varint. Zero values are omitted.
func AppendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	return AppendIntAlways(b, num, v)
}

// AppendIntAlways writes v even when it is zero, for optional fields whose
// presence matters.
func AppendIntAlways(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return AppendUint(b, num, 1)
}

func AppendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func AppendUUID(b []byte, num protowire.Number, id uuid.UUID) []byte {
	if id == uuid.Nil {
		return b
	}
	return AppendBytes(b, num, id[:])
}

// ---- decoding ----

// Reader iterates over the fields of one encoded message.
type Reader struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Next advances to the next field. It returns false at the end of the
// message or on the first error.
func (r *Reader) Next() bool {
	if r.err != nil || len(r.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return false
	}
	r.b = r.b[n:]
	r.num, r.typ = num, typ
	return true
}

func (r *Reader) Field() protowire.Number { return r.num }
func (r *Reader) Type() protowire.Type    { return r.typ }
func (r *Reader) Err() error              { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: field %d: %v", ErrMalformed, r.num, err)
	}
	r.b = nil
}

func (r *Reader) expect(typ protowire.Type) bool {
	if r.typ != typ {
		r.fail(fmt.Errorf("wire type %d, want %d", r.typ, typ))
		return false
	}
	return true
}

func (r *Reader) Uint() uint64 {
	if !r.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *Reader) Int() int64 {
	return protowire.DecodeZigZag(r.Uint())
}

func (r *Reader) Bool() bool {
	return r.Uint() != 0
}

func (r *Reader) Bytes() []byte {
	if !r.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *Reader) Text() string {
	return string(r.Bytes())
}

func (r *Reader) UUID() uuid.UUID {
	raw := r.Bytes()
	if r.err != nil {
		return uuid.Nil
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		r.fail(err)
		return uuid.Nil
	}
	return id
}

// Skip discards the current field's value.
func (r *Reader) Skip() {
	n := protowire.ConsumeFieldValue(r.num, r.typ, r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return
	}
	r.b = r.b[n:]
}
