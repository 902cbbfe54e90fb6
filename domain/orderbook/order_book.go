package orderbook

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// bookSide is one side of the book: a tree for ordered traversal, a map for
// named-level lookups and a cached best level.
type bookSide struct {
	side   Side
	tree   *RBTree
	levels map[int64]*PriceLevel
	best   *PriceLevel
}

func newBookSide(side Side) *bookSide {
	return &bookSide{
		side:   side,
		tree:   NewRBTree(),
		levels: make(map[int64]*PriceLevel),
	}
}

// better reports whether price a has priority over price b on this side.
func (s *bookSide) better(a, b int64) bool {
	if s.side == Buy {
		return a > b
	}
	return a < b
}

func (s *bookSide) upsert(price int64) *PriceLevel {
	if lvl, ok := s.levels[price]; ok {
		return lvl
	}
	lvl, _ := s.tree.UpsertLevel(price)
	s.levels[price] = lvl
	if s.best == nil || s.better(price, s.best.Price) {
		s.best = lvl
	}
	return lvl
}

func (s *bookSide) removeLevel(lvl *PriceLevel) {
	s.tree.DeleteLevel(lvl.Price)
	delete(s.levels, lvl.Price)
	if s.best != lvl {
		return
	}
	if s.side == Buy {
		s.best = s.tree.Predecessor(lvl.Price)
	} else {
		s.best = s.tree.Successor(lvl.Price)
	}
}

func (s *bookSide) walk(fn func(*PriceLevel) bool) {
	if s.side == Buy {
		s.tree.ForEachDescending(fn)
	} else {
		s.tree.ForEachAscending(fn)
	}
}

// OrderBook is the price-time priority book of one symbol.
// It is single-writer: callers serialize every method.
type OrderBook struct {
	symbol string
	bids   *bookSide
	asks   *bookSide

	arena *arena
	index map[uuid.UUID]int32

	matches uint64
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   newBookSide(Buy),
		asks:   newBookSide(Sell),
		arena:  newArena(1024),
		index:  make(map[uuid.UUID]int32),
	}
}

func (b *OrderBook) Symbol() string { return b.symbol }

func (b *OrderBook) sideOf(s Side) *bookSide {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// ---- commands ----

// AddOrder validates o, crosses it against the opposite side and rests any
// limit remainder. A rejected order leaves the book untouched.
func (b *OrderBook) AddOrder(o Order) (Result, error) {
	if err := b.validate(&o); err != nil {
		return Result{}, err
	}

	o.Remaining = o.Quantity
	if o.UpdatedAt == 0 {
		o.UpdatedAt = o.CreatedAt
	}

	trades := b.cross(&o)
	res := Result{Trades: trades, Remaining: o.Remaining}

	switch {
	case o.Remaining == 0:
		res.Disposition = Filled
	case o.Kind == Market && len(trades) > 0:
		res.Disposition = PartiallyFilled
	case o.Kind == Market:
		res.Disposition = Unfilled
	case len(trades) > 0:
		b.rest(o)
		res.Disposition = PartiallyRested
	default:
		b.rest(o)
		res.Disposition = Rested
	}
	return res, nil
}

func (b *OrderBook) validate(o *Order) error {
	if o.ID == uuid.Nil {
		return ErrInvalidOrderID
	}
	if !o.Side.Valid() {
		return ErrInvalidSide
	}
	switch o.Kind {
	case Market:
		o.Price = 0
	case Limit:
		if o.Price <= 0 {
			return ErrInvalidPrice
		}
	default:
		return ErrUnsupportedKind
	}
	if o.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if o.Symbol == "" {
		o.Symbol = b.symbol
	} else if o.Symbol != b.symbol {
		return ErrSymbolMismatch
	}
	if _, ok := b.index[o.ID]; ok {
		return ErrDuplicateOrder
	}
	if o.Kind == Limit {
		return b.headroom(o.Side, o.Price, o.Quantity, 0)
	}
	return nil
}

// headroom reports whether qty more can rest at price without the level
// total overflowing. held is quantity at that level about to be removed.
// Crossing only shrinks what rests, so checking the full quantity is enough.
func (b *OrderBook) headroom(side Side, price, qty, held int64) error {
	lvl, ok := b.sideOf(side).levels[price]
	if !ok {
		return nil
	}
	if lvl.TotalQty-held > math.MaxInt64-qty {
		return fmt.Errorf("%w: level %d total would overflow", ErrInvalidQuantity, price)
	}
	return nil
}

// CancelOrder removes a resting order. Unknown ids are a no-op.
func (b *OrderBook) CancelOrder(id uuid.UUID) (Order, bool) {
	idx, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	o := b.slot(idx).order
	b.remove(idx)
	return o, true
}

// Amend describes the outcome of ModifyOrder.
type Amend struct {
	Found        bool
	Changed      bool
	KeptPriority bool
	// Order is the order after modification. When the order traded away
	// entirely after a reprice it is no longer resting.
	Order       Order
	Trades      []Trade
	Disposition Disposition
}

// ModifyOrder sets the open quantity of a resting order and optionally its
// price. A quantity decrease at the same price keeps queue position; a
// price change or a quantity increase requeues at the tail with timestamp
// ts. A repriced order that crosses trades before it rests.
func (b *OrderBook) ModifyOrder(id uuid.UUID, qty int64, price *int64, ts int64) (Amend, error) {
	if qty <= 0 {
		return Amend{}, ErrInvalidQuantity
	}
	if price != nil && *price <= 0 {
		return Amend{}, ErrInvalidPrice
	}
	idx, ok := b.index[id]
	if !ok {
		return Amend{}, nil
	}

	s := b.slot(idx)
	cur := s.order
	newPrice := cur.Price
	if price != nil {
		newPrice = *price
	}

	if newPrice == cur.Price && qty == cur.Remaining {
		return Amend{Found: true, KeptPriority: true, Order: cur, Disposition: Rested}, nil
	}
	if filled := cur.Quantity - cur.Remaining; filled > math.MaxInt64-qty {
		return Amend{}, fmt.Errorf("%w: total quantity would overflow", ErrInvalidQuantity)
	}
	if newPrice != cur.Price {
		if err := b.headroom(cur.Side, newPrice, qty, 0); err != nil {
			return Amend{}, err
		}
	} else if qty > cur.Remaining {
		if err := b.headroom(cur.Side, newPrice, qty, cur.Remaining); err != nil {
			return Amend{}, err
		}
	}

	next := cur
	next.Quantity += qty - cur.Remaining
	next.Remaining = qty
	next.UpdatedAt = ts

	if newPrice == cur.Price && qty < cur.Remaining {
		s.level.TotalQty -= cur.Remaining - qty
		s.order = next
		return Amend{Found: true, Changed: true, KeptPriority: true, Order: next, Disposition: Rested}, nil
	}

	b.remove(idx)
	next.Price = newPrice
	trades := b.cross(&next)
	am := Amend{Found: true, Changed: true, Order: next, Trades: trades}
	switch {
	case next.Remaining == 0:
		am.Disposition = Filled
	case len(trades) > 0:
		b.rest(next)
		am.Disposition = PartiallyRested
	default:
		b.rest(next)
		am.Disposition = Rested
	}
	return am, nil
}

// ---- crossing ----

func crosses(o *Order, price int64) bool {
	if o.Kind == Market {
		return true
	}
	if o.Side == Buy {
		return o.Price >= price
	}
	return o.Price <= price
}

// cross matches o against the opposite side best level first, FIFO within a
// level, until o is exhausted or no opposing level is crossable. Every
// trade executes at the resting order's price.
func (b *OrderBook) cross(o *Order) []Trade {
	opp := b.sideOf(o.Side.Opposite())
	var trades []Trade

	for o.Remaining > 0 {
		lvl := opp.best
		if lvl == nil || !crosses(o, lvl.Price) {
			break
		}
		for o.Remaining > 0 && !lvl.Empty() {
			idx := lvl.head
			resting := &b.slot(idx).order

			qty := min(o.Remaining, resting.Remaining)
			o.Remaining -= qty
			resting.Remaining -= qty
			resting.UpdatedAt = o.UpdatedAt
			lvl.TotalQty -= qty

			trades = append(trades, b.trade(o, resting, lvl.Price, qty))

			if resting.Remaining == 0 {
				b.remove(idx)
			}
		}
	}
	return trades
}

func (b *OrderBook) trade(aggressor, resting *Order, price, qty int64) Trade {
	b.matches++
	t := Trade{
		Symbol:    b.symbol,
		Match:     b.matches,
		Price:     price,
		Quantity:  qty,
		Timestamp: aggressor.UpdatedAt,
	}
	if aggressor.Side == Buy {
		t.BuyOrderID, t.SellOrderID = aggressor.ID, resting.ID
	} else {
		t.BuyOrderID, t.SellOrderID = resting.ID, aggressor.ID
	}
	return t
}

// ---- storage ----

func (b *OrderBook) rest(o Order) {
	idx := b.arena.alloc(o)
	b.sideOf(o.Side).upsert(o.Price).enqueue(b.arena, idx)
	b.index[o.ID] = idx
}

// Restore rests o without crossing. It is used to rebuild a book from a
// snapshot, where orders were already uncrossed when captured.
func (b *OrderBook) Restore(o Order) error {
	if o.Kind != Limit {
		return ErrUnsupportedKind
	}
	if o.Remaining <= 0 || o.Remaining > o.Quantity {
		return ErrInvalidQuantity
	}
	if err := b.validate(&o); err != nil {
		return err
	}
	if best := b.sideOf(o.Side.Opposite()).best; best != nil && crosses(&o, best.Price) {
		return fmt.Errorf("%w: restored %s order at %d crosses %d", ErrCorrupt, o.Side, o.Price, best.Price)
	}
	b.rest(o)
	return nil
}

func (b *OrderBook) remove(idx int32) {
	s := b.slot(idx)
	lvl := s.level
	if lvl == nil {
		panic(fmt.Errorf("%w: order %s has no level", ErrCorrupt, s.order.ID))
	}
	side := b.sideOf(s.order.Side)
	delete(b.index, s.order.ID)
	lvl.unlink(b.arena, idx)
	b.arena.release(idx)
	if lvl.Empty() {
		side.removeLevel(lvl)
	}
}

func (b *OrderBook) slot(idx int32) *slot {
	if !b.arena.valid(idx) {
		panic(fmt.Errorf("%w: index references free slot %d", ErrCorrupt, idx))
	}
	return b.arena.at(idx)
}

// ---- queries ----

func (b *OrderBook) BestBid() (int64, bool) {
	if b.bids.best == nil {
		return 0, false
	}
	return b.bids.best.Price, true
}

func (b *OrderBook) BestAsk() (int64, bool) {
	if b.asks.best == nil {
		return 0, false
	}
	return b.asks.best.Price, true
}

// Depth returns the standing interest at price on side.
func (b *OrderBook) Depth(side Side, price int64) Depth {
	lvl, ok := b.sideOf(side).levels[price]
	if !ok {
		return Depth{Price: price}
	}
	return lvl.depth()
}

// Levels returns up to n levels of side, best first. n <= 0 returns all.
func (b *OrderBook) Levels(side Side, n int) []Depth {
	s := b.sideOf(side)
	out := make([]Depth, 0, len(s.levels))
	s.walk(func(lvl *PriceLevel) bool {
		out = append(out, lvl.depth())
		return n <= 0 || len(out) < n
	})
	return out
}

func (b *OrderBook) Lookup(id uuid.UUID) (Order, bool) {
	idx, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	return b.slot(idx).order, true
}

// OrdersAt returns the resting orders at price on side in queue order.
func (b *OrderBook) OrdersAt(side Side, price int64) []Order {
	lvl, ok := b.sideOf(side).levels[price]
	if !ok {
		return nil
	}
	out := make([]Order, 0, lvl.OrderCount)
	for idx := lvl.head; idx != nilSlot; idx = b.slot(idx).next {
		out = append(out, b.slot(idx).order)
	}
	return out
}

// Walk visits every resting order, bids best first then asks best first,
// queue order within a level. Returning false stops the walk.
func (b *OrderBook) Walk(fn func(Order) bool) {
	cont := true
	visit := func(lvl *PriceLevel) bool {
		for idx := lvl.head; idx != nilSlot && cont; idx = b.slot(idx).next {
			cont = fn(b.slot(idx).order)
		}
		return cont
	}
	b.bids.walk(visit)
	if cont {
		b.asks.walk(visit)
	}
}

// Len returns the number of resting orders.
func (b *OrderBook) Len() int { return len(b.index) }

// Matches returns the number of trades this book has produced.
func (b *OrderBook) Matches() uint64 { return b.matches }

// ResumeMatches continues trade numbering after n. Used when a book is
// rebuilt from a snapshot so match ids are not reused.
func (b *OrderBook) ResumeMatches(n uint64) {
	if n > b.matches {
		b.matches = n
	}
}
