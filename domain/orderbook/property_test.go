package orderbook

import (
	"testing"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

type position struct {
	price int64
	pos   int
}

func restingTotal(b *OrderBook) int64 {
	var n int64
	b.Walk(func(o Order) bool {
		n += o.Remaining
		return true
	})
	return n
}

func positions(b *OrderBook) map[uuid.UUID]position {
	out := make(map[uuid.UUID]position, b.Len())
	pos := 0
	last := int64(-1)
	b.Walk(func(o Order) bool {
		if o.Price != last {
			pos, last = 0, o.Price
		}
		out[o.ID] = position{price: o.Price, pos: pos}
		pos++
		return true
	})
	return out
}

// checkTrades verifies the price and time priority of the trades produced
// by one aggressor against the book as it stood before the command.
func checkTrades(t *rapid.T, aggressor Side, before map[uuid.UUID]position, trades []Trade) {
	var lastPrice int64
	lastPos := -1
	for i, tr := range trades {
		restingID := tr.BuyOrderID
		if aggressor == Buy {
			restingID = tr.SellOrderID
		}
		p, ok := before[restingID]
		if !ok {
			t.Fatalf("trade %d against unknown resting order", i)
		}
		if tr.Price != p.price {
			t.Fatalf("trade %d priced %d, resting order priced %d", i, tr.Price, p.price)
		}
		if i > 0 {
			worse := (aggressor == Buy && tr.Price < lastPrice) || (aggressor == Sell && tr.Price > lastPrice)
			if worse {
				t.Fatalf("trade %d at %d matched after worse-priced %d", i, tr.Price, lastPrice)
			}
			if tr.Price == lastPrice && p.pos <= lastPos {
				t.Fatalf("trade %d broke time priority at %d", i, tr.Price)
			}
		}
		lastPrice, lastPos = tr.Price, p.pos
	}
}

func sumTrades(trades []Trade) int64 {
	var n int64
	for _, tr := range trades {
		if tr.Quantity <= 0 {
			panic("non-positive trade")
		}
		n += tr.Quantity
	}
	return n
}

func TestPropertyBookInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewOrderBook(sym)
		var live []uuid.UUID
		ts := int64(0)

		steps := rapid.IntRange(1, 120).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			ts++
			before := positions(b)
			total := restingTotal(b)

			switch op := rapid.IntRange(0, 9).Draw(t, "op"); {
			case op < 6:
				side := Side(rapid.IntRange(1, 2).Draw(t, "side"))
				qty := rapid.Int64Range(1, 20).Draw(t, "qty")
				o := Order{ID: uuid.New(), Symbol: sym, Side: side, Kind: Limit, Quantity: qty, CreatedAt: ts}
				if op == 5 {
					o.Kind = Market
				} else {
					o.Price = rapid.Int64Range(95, 105).Draw(t, "price")
				}
				res, err := b.AddOrder(o)
				if err != nil {
					t.Fatalf("add: %v", err)
				}
				checkTrades(t, side, before, res.Trades)
				exec := sumTrades(res.Trades)
				if exec+res.Remaining != qty {
					t.Fatalf("incoming quantity not conserved: %d + %d != %d", exec, res.Remaining, qty)
				}
				want := total - exec
				if o.Kind == Limit {
					want += res.Remaining
					if res.Remaining > 0 {
						live = append(live, o.ID)
					}
				}
				if got := restingTotal(b); got != want {
					t.Fatalf("resting quantity %d, want %d", got, want)
				}

			case op < 8 && len(live) > 0:
				id := live[rapid.IntRange(0, len(live)-1).Draw(t, "cancel")]
				prev, wasLive := b.Lookup(id)
				got, ok := b.CancelOrder(id)
				if ok != wasLive {
					t.Fatalf("cancel found=%v, lookup found=%v", ok, wasLive)
				}
				if ok && got.Remaining != prev.Remaining {
					t.Fatalf("cancel returned stale order")
				}
				if _, again := b.CancelOrder(id); again {
					t.Fatalf("second cancel found the order")
				}
				if restingTotal(b) != total-prev.Remaining {
					t.Fatalf("cancel did not remove exactly the order quantity")
				}

			case len(live) > 0:
				id := live[rapid.IntRange(0, len(live)-1).Draw(t, "modify")]
				prev, wasLive := b.Lookup(id)
				qty := rapid.Int64Range(1, 20).Draw(t, "newQty")
				var price *int64
				if rapid.Bool().Draw(t, "reprice") {
					p := rapid.Int64Range(95, 105).Draw(t, "newPrice")
					price = &p
				}
				am, err := b.ModifyOrder(id, qty, price, ts)
				if err != nil {
					t.Fatalf("modify: %v", err)
				}
				if am.Found != wasLive {
					t.Fatalf("modify found=%v, lookup found=%v", am.Found, wasLive)
				}
				if !am.Found {
					break
				}
				checkTrades(t, prev.Side, before, am.Trades)
				exec := sumTrades(am.Trades)
				if got, want := restingTotal(b), total-prev.Remaining-exec+(qty-exec); got != want {
					t.Fatalf("modify resting quantity %d, want %d", got, want)
				}
				if am.KeptPriority && positions(b)[id] != before[id] {
					t.Fatalf("decrease moved the order")
				}
				if !am.KeptPriority && am.Disposition != Filled {
					lvl := b.OrdersAt(prev.Side, am.Order.Price)
					if lvl[len(lvl)-1].ID != id {
						t.Fatalf("requeued order not at tail")
					}
				}
			}

			if err := b.Verify(); err != nil {
				t.Fatalf("after step %d: %v", i, err)
			}
		}
	})
}
