package orderbook

import (
	"fmt"

	"github.com/google/uuid"
)

type Side uint8
type Kind uint8
type Disposition uint8

const (
	Buy Side = iota + 1
	Sell
)

const (
	Market Kind = iota + 1
	Limit
	Stop
	StopLimit
)

const (
	// Filled: the incoming order executed in full.
	Filled Disposition = iota + 1
	// Rested: no execution, the whole order rests.
	Rested
	// PartiallyRested: some execution, the remainder rests.
	PartiallyRested
	// PartiallyFilled: market order that ran out of liquidity; remainder discarded.
	PartiallyFilled
	// Unfilled: market order that found no liquidity at all.
	Unfilled
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

func (k Kind) String() string {
	switch k {
	case Market:
		return "market"
	case Limit:
		return "limit"
	case Stop:
		return "stop"
	case StopLimit:
		return "stop_limit"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (d Disposition) String() string {
	switch d {
	case Filled:
		return "filled"
	case Rested:
		return "rested"
	case PartiallyRested:
		return "partially_rested"
	case PartiallyFilled:
		return "partially_filled"
	case Unfilled:
		return "unfilled"
	default:
		return "unknown"
	}
}

// Order is a standing or incoming order. Prices are integer ticks; a market
// order carries Price 0. Timestamps are the logical timestamps of the
// commands that created or last touched the order.
type Order struct {
	ID        uuid.UUID
	TraderID  uuid.UUID
	Symbol    string
	Side      Side
	Kind      Kind
	Price     int64
	Quantity  int64
	Remaining int64
	CreatedAt int64
	UpdatedAt int64
}

func (o Order) Filled() int64 {
	return o.Quantity - o.Remaining
}

// Trade is an immutable record of one match between a resting order and an
// aggressor. Price is always the resting order's price.
type Trade struct {
	Symbol      string
	Match       uint64
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Price       int64
	Quantity    int64
	Timestamp   int64
}

// Result describes what AddOrder did with an incoming order.
type Result struct {
	Trades      []Trade
	Disposition Disposition
	// Remaining is what is left open on the incoming order after crossing.
	// For a limit order it rests; for a market order it was discarded.
	Remaining int64
}

// Executed returns the total quantity traded by the incoming order.
func (r Result) Executed() int64 {
	var n int64
	for _, t := range r.Trades {
		n += t.Quantity
	}
	return n
}

// Depth is the aggregate standing interest at one price on one side.
type Depth struct {
	Price    int64
	Orders   int
	Quantity int64
}
