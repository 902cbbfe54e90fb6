package orderbook

import "fmt"

// Verify walks the whole book and checks that the index, the levels and the
// trees agree and that the book is not crossed. It is O(n) and meant for
// tests and paranoid deployments.
func (b *OrderBook) Verify() error {
	seen := 0
	for _, s := range []*bookSide{b.bids, b.asks} {
		n, err := b.verifySide(s)
		if err != nil {
			return err
		}
		seen += n
	}
	if seen != len(b.index) {
		return fmt.Errorf("%w: %d orders in levels, %d in index", ErrCorrupt, seen, len(b.index))
	}
	if live := b.arena.live(); live != len(b.index) {
		return fmt.Errorf("%w: %d live slots, %d in index", ErrCorrupt, live, len(b.index))
	}
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid && okAsk && bid >= ask {
		return fmt.Errorf("%w: crossed book bid %d >= ask %d", ErrCorrupt, bid, ask)
	}
	return nil
}

func (b *OrderBook) verifySide(s *bookSide) (int, error) {
	if s.tree.blackHeight() < 0 {
		return 0, fmt.Errorf("%w: %s tree unbalanced", ErrCorrupt, s.side)
	}
	if s.tree.Size() != len(s.levels) {
		return 0, fmt.Errorf("%w: %s tree has %d levels, map %d", ErrCorrupt, s.side, s.tree.Size(), len(s.levels))
	}

	var want *PriceLevel
	if s.side == Buy {
		want = s.tree.MaxLevel()
	} else {
		want = s.tree.MinLevel()
	}
	if want != s.best {
		return 0, fmt.Errorf("%w: %s best level cache is stale", ErrCorrupt, s.side)
	}

	total := 0
	var err error
	s.tree.ForEachAscending(func(lvl *PriceLevel) bool {
		if s.levels[lvl.Price] != lvl {
			err = fmt.Errorf("%w: %s level %d missing from map", ErrCorrupt, s.side, lvl.Price)
			return false
		}
		var n int
		n, err = b.verifyLevel(s.side, lvl)
		total += n
		return err == nil
	})
	return total, err
}

func (b *OrderBook) verifyLevel(side Side, lvl *PriceLevel) (int, error) {
	if lvl.Empty() {
		return 0, fmt.Errorf("%w: empty %s level %d kept", ErrCorrupt, side, lvl.Price)
	}
	count := 0
	var qty int64
	prev := nilSlot
	for idx := lvl.head; idx != nilSlot; {
		if !b.arena.valid(idx) {
			return count, fmt.Errorf("%w: level %d links free slot %d", ErrCorrupt, lvl.Price, idx)
		}
		s := b.arena.at(idx)
		o := s.order
		switch {
		case s.level != lvl, s.prev != prev:
			return count, fmt.Errorf("%w: order %s has broken links", ErrCorrupt, o.ID)
		case o.Side != side, o.Price != lvl.Price:
			return count, fmt.Errorf("%w: order %s filed under wrong level", ErrCorrupt, o.ID)
		case o.Remaining <= 0:
			return count, fmt.Errorf("%w: order %s rests with no quantity", ErrCorrupt, o.ID)
		case b.index[o.ID] != idx:
			return count, fmt.Errorf("%w: order %s index mismatch", ErrCorrupt, o.ID)
		}
		count++
		qty += o.Remaining
		prev = idx
		idx = s.next
	}
	if prev != lvl.tail {
		return count, fmt.Errorf("%w: level %d tail mismatch", ErrCorrupt, lvl.Price)
	}
	if count != lvl.OrderCount || qty != lvl.TotalQty {
		return count, fmt.Errorf("%w: level %d aggregates %d/%d, counted %d/%d",
			ErrCorrupt, lvl.Price, lvl.OrderCount, lvl.TotalQty, count, qty)
	}
	return count, nil
}
