package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"venue/domain/command"
	"venue/domain/orderbook"
)

// Command fields.
const (
	cmdSeq       protowire.Number = 1
	cmdSymbol    protowire.Number = 2
	cmdTimestamp protowire.Number = 3
	cmdNewOrder  protowire.Number = 4
	cmdCancel    protowire.Number = 5
	cmdUpdate    protowire.Number = 6
)

// Payload message fields.
const (
	fOrderID  protowire.Number = 1
	fTraderID protowire.Number = 2
	fSide     protowire.Number = 3
	fType     protowire.Number = 4
	fPrice    protowire.Number = 5
	fQuantity protowire.Number = 6

	fNewPrice    protowire.Number = 2
	fNewQuantity protowire.Number = 3
)

// firstPayloadField is where payload variants start; any unknown
// length-delimited field at or above it is an unrecognized payload.
const firstPayloadField = cmdNewOrder

func MarshalCommand(c command.Command) []byte {
	return AppendCommand(nil, c)
}

func AppendCommand(b []byte, c command.Command) []byte {
	b = AppendUint(b, cmdSeq, c.Seq)
	b = AppendString(b, cmdSymbol, c.Symbol)
	b = AppendInt(b, cmdTimestamp, c.Timestamp)

	switch p := c.Payload.(type) {
	case command.NewOrder:
		b = AppendBytes(b, cmdNewOrder, appendNewOrder(nil, p))
	case command.CancelOrder:
		b = AppendBytes(b, cmdCancel, AppendUUID(nil, fOrderID, p.OrderID))
	case command.UpdateOrder:
		b = AppendBytes(b, cmdUpdate, appendUpdate(nil, p))
	case command.Unrecognized:
		if p.Tag >= uint32(firstPayloadField) {
			b = AppendBytes(b, protowire.Number(p.Tag), nil)
		}
	}
	return b
}

func appendNewOrder(b []byte, p command.NewOrder) []byte {
	b = AppendUUID(b, fOrderID, p.OrderID)
	b = AppendUUID(b, fTraderID, p.TraderID)
	b = AppendUint(b, fSide, uint64(p.Side))
	b = AppendUint(b, fType, uint64(p.Type))
	b = AppendInt(b, fPrice, p.Price)
	b = AppendInt(b, fQuantity, p.Quantity)
	return b
}

func appendUpdate(b []byte, p command.UpdateOrder) []byte {
	b = AppendUUID(b, fOrderID, p.OrderID)
	if p.NewPrice != nil {
		b = AppendIntAlways(b, fNewPrice, *p.NewPrice)
	}
	if p.NewQuantity != nil {
		b = AppendIntAlways(b, fNewQuantity, *p.NewQuantity)
	}
	return b
}

// UnmarshalCommand decodes a command. An unknown payload variant decodes
// to command.Unrecognized rather than failing, so the engine can reject it
// like any other protocol error.
func UnmarshalCommand(b []byte) (command.Command, error) {
	var c command.Command
	r := NewReader(b)
	for r.Next() {
		switch r.Field() {
		case cmdSeq:
			c.Seq = r.Uint()
		case cmdSymbol:
			c.Symbol = r.Text()
		case cmdTimestamp:
			c.Timestamp = r.Int()
		case cmdNewOrder:
			p, err := unmarshalNewOrder(r.Bytes())
			if err != nil {
				return c, err
			}
			c.Payload = p
		case cmdCancel:
			p, err := unmarshalCancel(r.Bytes())
			if err != nil {
				return c, err
			}
			c.Payload = p
		case cmdUpdate:
			p, err := unmarshalUpdate(r.Bytes())
			if err != nil {
				return c, err
			}
			c.Payload = p
		default:
			if r.Field() >= firstPayloadField && r.Type() == protowire.BytesType {
				c.Payload = command.Unrecognized{Tag: uint32(r.Field())}
			}
			r.Skip()
		}
	}
	return c, r.Err()
}

func unmarshalNewOrder(b []byte) (command.NewOrder, error) {
	var p command.NewOrder
	r := NewReader(b)
	for r.Next() {
		switch r.Field() {
		case fOrderID:
			p.OrderID = r.UUID()
		case fTraderID:
			p.TraderID = r.UUID()
		case fSide:
			p.Side = orderbook.Side(r.Uint())
		case fType:
			p.Type = orderbook.Kind(r.Uint())
		case fPrice:
			p.Price = r.Int()
		case fQuantity:
			p.Quantity = r.Int()
		default:
			r.Skip()
		}
	}
	return p, r.Err()
}

func unmarshalCancel(b []byte) (command.CancelOrder, error) {
	var p command.CancelOrder
	r := NewReader(b)
	for r.Next() {
		if r.Field() == fOrderID {
			p.OrderID = r.UUID()
			continue
		}
		r.Skip()
	}
	return p, r.Err()
}

func unmarshalUpdate(b []byte) (command.UpdateOrder, error) {
	var p command.UpdateOrder
	r := NewReader(b)
	for r.Next() {
		switch r.Field() {
		case fOrderID:
			p.OrderID = r.UUID()
		case fNewPrice:
			p.NewPrice = command.Int64(r.Int())
		case fNewQuantity:
			p.NewQuantity = command.Int64(r.Int())
		default:
			r.Skip()
		}
	}
	return p, r.Err()
}
