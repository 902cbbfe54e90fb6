package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"venue/domain/command"
	"venue/domain/event"
	"venue/domain/orderbook"
)

const (
	batchSeq       protowire.Number = 1
	batchSymbol    protowire.Number = 2
	batchTimestamp protowire.Number = 3
	batchTrade     protowire.Number = 4
	batchAck       protowire.Number = 5
)

const (
	tradeSymbol    protowire.Number = 1
	tradeMatch     protowire.Number = 2
	tradeBuy       protowire.Number = 3
	tradeSell      protowire.Number = 4
	tradePrice     protowire.Number = 5
	tradeQuantity  protowire.Number = 6
	tradeTimestamp protowire.Number = 7
)

const (
	ackKind        protowire.Number = 1
	ackOrderID     protowire.Number = 2
	ackOutcome     protowire.Number = 3
	ackReason      protowire.Number = 4
	ackDisposition protowire.Number = 5
	ackRemaining   protowire.Number = 6
)

func MarshalBatch(bt event.Batch) []byte {
	return AppendBatch(nil, bt)
}

// AppendBatch appends the encoding of bt to b.
func AppendBatch(b []byte, bt event.Batch) []byte {
	b = AppendUint(b, batchSeq, bt.Seq)
	b = AppendString(b, batchSymbol, bt.Symbol)
	b = AppendInt(b, batchTimestamp, bt.Timestamp)
	for _, t := range bt.Trades {
		b = AppendBytes(b, batchTrade, MarshalTrade(t))
	}
	return AppendBytes(b, batchAck, marshalAck(bt.Ack))
}

// MarshalTrade encodes a single trade, the unit published on trade topics.
func MarshalTrade(t orderbook.Trade) []byte {
	b := AppendString(nil, tradeSymbol, t.Symbol)
	b = AppendUint(b, tradeMatch, t.Match)
	b = AppendUUID(b, tradeBuy, t.BuyOrderID)
	b = AppendUUID(b, tradeSell, t.SellOrderID)
	b = AppendInt(b, tradePrice, t.Price)
	b = AppendInt(b, tradeQuantity, t.Quantity)
	return AppendInt(b, tradeTimestamp, t.Timestamp)
}

func marshalAck(a event.Ack) []byte {
	b := AppendUint(nil, ackKind, uint64(a.Kind))
	b = AppendUUID(b, ackOrderID, a.OrderID)
	b = AppendUint(b, ackOutcome, uint64(a.Outcome))
	b = AppendUint(b, ackReason, uint64(a.Reason))
	b = AppendUint(b, ackDisposition, uint64(a.Disposition))
	return AppendInt(b, ackRemaining, a.Remaining)
}

func UnmarshalBatch(b []byte) (event.Batch, error) {
	var bt event.Batch
	r := NewReader(b)
	for r.Next() {
		switch r.Field() {
		case batchSeq:
			bt.Seq = r.Uint()
		case batchSymbol:
			bt.Symbol = r.Text()
		case batchTimestamp:
			bt.Timestamp = r.Int()
		case batchTrade:
			t, err := UnmarshalTrade(r.Bytes())
			if err != nil {
				return bt, err
			}
			bt.Trades = append(bt.Trades, t)
		case batchAck:
			a, err := unmarshalAck(r.Bytes())
			if err != nil {
				return bt, err
			}
			bt.Ack = a
		default:
			r.Skip()
		}
	}
	return bt, r.Err()
}

func UnmarshalTrade(b []byte) (orderbook.Trade, error) {
	var t orderbook.Trade
	r := NewReader(b)
	for r.Next() {
		switch r.Field() {
		case tradeSymbol:
			t.Symbol = r.Text()
		case tradeMatch:
			t.Match = r.Uint()
		case tradeBuy:
			t.BuyOrderID = r.UUID()
		case tradeSell:
			t.SellOrderID = r.UUID()
		case tradePrice:
			t.Price = r.Int()
		case tradeQuantity:
			t.Quantity = r.Int()
		case tradeTimestamp:
			t.Timestamp = r.Int()
		default:
			r.Skip()
		}
	}
	return t, r.Err()
}

func unmarshalAck(b []byte) (event.Ack, error) {
	var a event.Ack
	r := NewReader(b)
	for r.Next() {
		switch r.Field() {
		case ackKind:
			a.Kind = command.Kind(r.Uint())
		case ackOrderID:
			a.OrderID = r.UUID()
		case ackOutcome:
			a.Outcome = event.Outcome(r.Uint())
		case ackReason:
			a.Reason = event.Reason(r.Uint())
		case ackDisposition:
			a.Disposition = orderbook.Disposition(r.Uint())
		case ackRemaining:
			a.Remaining = r.Int()
		default:
			r.Skip()
		}
	}
	return a, r.Err()
}
