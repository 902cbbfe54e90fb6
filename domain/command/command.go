// Package command defines the closed set of inbound intents the matching
// engine accepts.
package command

import (
	"fmt"

	"github.com/google/uuid"

	"venue/domain/orderbook"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindNewOrder
	KindCancelOrder
	KindUpdateOrder
)

func (k Kind) String() string {
	switch k {
	case KindNewOrder:
		return "new_order"
	case KindCancelOrder:
		return "cancel_order"
	case KindUpdateOrder:
		return "update_order"
	default:
		return "unknown"
	}
}

// Command is one inbound intent. Seq is assigned by the engine when the
// command is dequeued; producers leave it zero.
type Command struct {
	Seq       uint64
	Symbol    string
	Timestamp int64
	Payload   Payload
}

// Payload is sealed: only the types in this package implement it.
type Payload interface {
	Kind() Kind
	payload()
}

type NewOrder struct {
	OrderID  uuid.UUID
	TraderID uuid.UUID
	Side     orderbook.Side
	Type     orderbook.Kind
	// Price in ticks; ignored for market orders.
	Price    int64
	Quantity int64
}

type CancelOrder struct {
	OrderID uuid.UUID
}

type UpdateOrder struct {
	OrderID     uuid.UUID
	NewPrice    *int64
	NewQuantity *int64
}

// Unrecognized stands in for a payload whose tag a decoder did not know.
// The engine rejects it as a protocol error.
type Unrecognized struct {
	Tag uint32
}

func (NewOrder) Kind() Kind     { return KindNewOrder }
func (CancelOrder) Kind() Kind  { return KindCancelOrder }
func (UpdateOrder) Kind() Kind  { return KindUpdateOrder }
func (Unrecognized) Kind() Kind { return KindUnknown }

func (NewOrder) payload()     {}
func (CancelOrder) payload()  {}
func (UpdateOrder) payload()  {}
func (Unrecognized) payload() {}

// Kind returns the payload kind, KindUnknown for a missing payload.
func (c Command) Kind() Kind {
	if c.Payload == nil {
		return KindUnknown
	}
	return c.Payload.Kind()
}

// OrderID returns the order the command refers to, if any.
func (c Command) OrderID() uuid.UUID {
	switch p := c.Payload.(type) {
	case NewOrder:
		return p.OrderID
	case CancelOrder:
		return p.OrderID
	case UpdateOrder:
		return p.OrderID
	default:
		return uuid.Nil
	}
}

func (c Command) String() string {
	return fmt.Sprintf("%s{seq=%d symbol=%s ts=%d order=%s}", c.Kind(), c.Seq, c.Symbol, c.Timestamp, c.OrderID())
}

// Order builds the book order for a NewOrder command.
func (p NewOrder) Order(symbol string, ts int64) orderbook.Order {
	return orderbook.Order{
		ID:        p.OrderID,
		TraderID:  p.TraderID,
		Symbol:    symbol,
		Side:      p.Side,
		Kind:      p.Type,
		Price:     p.Price,
		Quantity:  p.Quantity,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func New(symbol string, ts int64, p Payload) Command {
	return Command{Symbol: symbol, Timestamp: ts, Payload: p}
}

func Int64(v int64) *int64 { return &v }
