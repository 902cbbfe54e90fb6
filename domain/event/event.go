// Package event defines what the matching engine emits: the trades a
// command produced and exactly one acknowledgement per command.
package event

import (
	"github.com/google/uuid"

	"venue/domain/command"
	"venue/domain/orderbook"
)

type Outcome uint8

const (
	Accepted Outcome = iota + 1
	Rejected
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonInvalidQuantity
	ReasonInvalidPrice
	ReasonInvalidSide
	ReasonUnsupportedKind
	ReasonDuplicateOrder
	ReasonInvalidOrderID
	ReasonInvalidSymbol
	ReasonMalformed
	ReasonUnknownCommand
	ReasonBookHalted
	ReasonJournalFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonInvalidQuantity:
		return "invalid_quantity"
	case ReasonInvalidPrice:
		return "invalid_price"
	case ReasonInvalidSide:
		return "invalid_side"
	case ReasonUnsupportedKind:
		return "unsupported_kind"
	case ReasonDuplicateOrder:
		return "duplicate_order"
	case ReasonInvalidOrderID:
		return "invalid_order_id"
	case ReasonInvalidSymbol:
		return "invalid_symbol"
	case ReasonMalformed:
		return "malformed"
	case ReasonUnknownCommand:
		return "unknown_command"
	case ReasonBookHalted:
		return "book_halted"
	case ReasonJournalFailed:
		return "journal_failed"
	default:
		return "unknown"
	}
}

// Ack acknowledges one command. Disposition and Remaining are set for
// accepted new orders and modifications.
type Ack struct {
	Kind        command.Kind
	OrderID     uuid.UUID
	Outcome     Outcome
	Reason      Reason
	Disposition orderbook.Disposition
	Remaining   int64
}

// Batch is everything one command produced. It is emitted only after the
// command has been applied, so a batch never describes a half-applied book.
type Batch struct {
	Seq       uint64
	Symbol    string
	Timestamp int64
	Trades    []orderbook.Trade
	Ack       Ack
}

func (b Batch) Rejected() bool { return b.Ack.Outcome == Rejected }
