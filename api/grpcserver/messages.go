package grpcserver

import (
	"google.golang.org/protobuf/encoding/protowire"

	"venue/infra/wire"
)

// Messages of venue.v1.Matching, encoded in the protobuf binary format.
// Order ids are canonical UUID strings and prices are decimal strings so
// that any protobuf client can speak the service from this field layout.

type Side int32

const (
	SideUnspecified Side = iota
	SideBuy
	SideSell
)

type OrderType int32

const (
	TypeUnspecified OrderType = iota
	TypeMarket
	TypeLimit
	TypeStop
	TypeStopLimit
)

type PlaceOrderRequest struct {
	Symbol string
	// OrderID is optional; the server assigns one when empty.
	OrderID  string
	TraderID string
	Side     Side
	Type     OrderType
	Price    string
	Quantity int64
}

func (m *PlaceOrderRequest) MarshalWire() []byte {
	b := wire.AppendString(nil, 1, m.Symbol)
	b = wire.AppendString(b, 2, m.OrderID)
	b = wire.AppendString(b, 3, m.TraderID)
	b = wire.AppendUint(b, 4, uint64(m.Side))
	b = wire.AppendUint(b, 5, uint64(m.Type))
	b = wire.AppendString(b, 6, m.Price)
	return wire.AppendInt(b, 7, m.Quantity)
}

func (m *PlaceOrderRequest) UnmarshalWire(b []byte) error {
	*m = PlaceOrderRequest{}
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Symbol = r.Text()
		case 2:
			m.OrderID = r.Text()
		case 3:
			m.TraderID = r.Text()
		case 4:
			m.Side = Side(r.Uint())
		case 5:
			m.Type = OrderType(r.Uint())
		case 6:
			m.Price = r.Text()
		case 7:
			m.Quantity = r.Int()
		default:
			r.Skip()
		}
	}
	return r.Err()
}

type CancelOrderRequest struct {
	Symbol  string
	OrderID string
}

func (m *CancelOrderRequest) MarshalWire() []byte {
	b := wire.AppendString(nil, 1, m.Symbol)
	return wire.AppendString(b, 2, m.OrderID)
}

func (m *CancelOrderRequest) UnmarshalWire(b []byte) error {
	*m = CancelOrderRequest{}
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Symbol = r.Text()
		case 2:
			m.OrderID = r.Text()
		default:
			r.Skip()
		}
	}
	return r.Err()
}

type ModifyOrderRequest struct {
	Symbol  string
	OrderID string
	// NewPrice is empty to leave the price unchanged.
	NewPrice string
	// NewQuantity is nil to leave the quantity unchanged.
	NewQuantity *int64
}

func (m *ModifyOrderRequest) MarshalWire() []byte {
	b := wire.AppendString(nil, 1, m.Symbol)
	b = wire.AppendString(b, 2, m.OrderID)
	b = wire.AppendString(b, 3, m.NewPrice)
	if m.NewQuantity != nil {
		b = wire.AppendIntAlways(b, 4, *m.NewQuantity)
	}
	return b
}

func (m *ModifyOrderRequest) UnmarshalWire(b []byte) error {
	*m = ModifyOrderRequest{}
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Symbol = r.Text()
		case 2:
			m.OrderID = r.Text()
		case 3:
			m.NewPrice = r.Text()
		case 4:
			v := r.Int()
			m.NewQuantity = &v
		default:
			r.Skip()
		}
	}
	return r.Err()
}

type Trade struct {
	Match       uint64
	BuyOrderID  string
	SellOrderID string
	Price       string
	Quantity    int64
	Timestamp   int64
}

func (m *Trade) appendWire(b []byte) []byte {
	b = wire.AppendUint(b, 1, m.Match)
	b = wire.AppendString(b, 2, m.BuyOrderID)
	b = wire.AppendString(b, 3, m.SellOrderID)
	b = wire.AppendString(b, 4, m.Price)
	b = wire.AppendInt(b, 5, m.Quantity)
	return wire.AppendInt(b, 6, m.Timestamp)
}

func (m *Trade) unmarshalWire(b []byte) error {
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Match = r.Uint()
		case 2:
			m.BuyOrderID = r.Text()
		case 3:
			m.SellOrderID = r.Text()
		case 4:
			m.Price = r.Text()
		case 5:
			m.Quantity = r.Int()
		case 6:
			m.Timestamp = r.Int()
		default:
			r.Skip()
		}
	}
	return r.Err()
}

// OrderReply answers PlaceOrder, CancelOrder and ModifyOrder when the
// command was accepted. Rejections come back as status errors.
type OrderReply struct {
	Seq         uint64
	OrderID     string
	Disposition string
	Remaining   int64
	Trades      []Trade
}

func (m *OrderReply) MarshalWire() []byte {
	b := wire.AppendUint(nil, 1, m.Seq)
	b = wire.AppendString(b, 2, m.OrderID)
	b = wire.AppendString(b, 3, m.Disposition)
	b = wire.AppendInt(b, 4, m.Remaining)
	for i := range m.Trades {
		b = wire.AppendBytes(b, 5, m.Trades[i].appendWire(nil))
	}
	return b
}

func (m *OrderReply) UnmarshalWire(b []byte) error {
	*m = OrderReply{}
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Seq = r.Uint()
		case 2:
			m.OrderID = r.Text()
		case 3:
			m.Disposition = r.Text()
		case 4:
			m.Remaining = r.Int()
		case 5:
			var t Trade
			if err := t.unmarshalWire(r.Bytes()); err != nil {
				return err
			}
			m.Trades = append(m.Trades, t)
		default:
			r.Skip()
		}
	}
	return r.Err()
}

type GetBookRequest struct {
	Symbol string
	// Depth limits levels per side; zero returns every level.
	Depth int64
}

func (m *GetBookRequest) MarshalWire() []byte {
	b := wire.AppendString(nil, 1, m.Symbol)
	return wire.AppendInt(b, 2, m.Depth)
}

func (m *GetBookRequest) UnmarshalWire(b []byte) error {
	*m = GetBookRequest{}
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Symbol = r.Text()
		case 2:
			m.Depth = r.Int()
		default:
			r.Skip()
		}
	}
	return r.Err()
}

type Level struct {
	Price    string
	Quantity int64
	Orders   int64
}

type GetBookResponse struct {
	Symbol string
	Seq    uint64
	Bids   []Level
	Asks   []Level
	Halted bool
}

func appendLevel(b []byte, num protowire.Number, l Level) []byte {
	inner := wire.AppendString(nil, 1, l.Price)
	inner = wire.AppendInt(inner, 2, l.Quantity)
	inner = wire.AppendInt(inner, 3, l.Orders)
	return wire.AppendBytes(b, num, inner)
}

func readLevel(b []byte) (Level, error) {
	var l Level
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			l.Price = r.Text()
		case 2:
			l.Quantity = r.Int()
		case 3:
			l.Orders = r.Int()
		default:
			r.Skip()
		}
	}
	return l, r.Err()
}

func (m *GetBookResponse) MarshalWire() []byte {
	b := wire.AppendString(nil, 1, m.Symbol)
	b = wire.AppendUint(b, 2, m.Seq)
	for _, l := range m.Bids {
		b = appendLevel(b, 3, l)
	}
	for _, l := range m.Asks {
		b = appendLevel(b, 4, l)
	}
	return wire.AppendBool(b, 5, m.Halted)
}

func (m *GetBookResponse) UnmarshalWire(b []byte) error {
	*m = GetBookResponse{}
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Symbol = r.Text()
		case 2:
			m.Seq = r.Uint()
		case 3, 4:
			field := r.Field()
			l, err := readLevel(r.Bytes())
			if err != nil {
				return err
			}
			if field == 3 {
				m.Bids = append(m.Bids, l)
			} else {
				m.Asks = append(m.Asks, l)
			}
		case 5:
			m.Halted = r.Bool()
		default:
			r.Skip()
		}
	}
	return r.Err()
}

type ListSymbolsRequest struct{}

func (m *ListSymbolsRequest) MarshalWire() []byte { return nil }

func (m *ListSymbolsRequest) UnmarshalWire(b []byte) error {
	r := wire.NewReader(b)
	for r.Next() {
		r.Skip()
	}
	return r.Err()
}

type ListSymbolsResponse struct {
	Symbols []string
}

func (m *ListSymbolsResponse) MarshalWire() []byte {
	var b []byte
	for _, s := range m.Symbols {
		b = wire.AppendString(b, 1, s)
	}
	return b
}

func (m *ListSymbolsResponse) UnmarshalWire(b []byte) error {
	*m = ListSymbolsResponse{}
	r := wire.NewReader(b)
	for r.Next() {
		switch r.Field() {
		case 1:
			m.Symbols = append(m.Symbols, r.Text())
		default:
			r.Skip()
		}
	}
	return r.Err()
}
