package orderbook

// PriceLevel is a FIFO queue of arena slots at a single price.
type PriceLevel struct {
	Price int64

	head int32
	tail int32

	TotalQty   int64
	OrderCount int
}

func newPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{Price: price, head: nilSlot, tail: nilSlot}
}

func (p *PriceLevel) enqueue(a *arena, idx int32) {
	s := a.at(idx)
	s.level = p
	s.next = nilSlot
	s.prev = p.tail
	if p.tail == nilSlot {
		p.head = idx
	} else {
		a.at(p.tail).next = idx
	}
	p.tail = idx
	p.TotalQty += s.order.Remaining
	p.OrderCount++
}

// unlink removes idx from anywhere in the queue in O(1).
func (p *PriceLevel) unlink(a *arena, idx int32) {
	s := a.at(idx)
	if s.prev == nilSlot {
		p.head = s.next
	} else {
		a.at(s.prev).next = s.next
	}
	if s.next == nilSlot {
		p.tail = s.prev
	} else {
		a.at(s.next).prev = s.prev
	}
	p.TotalQty -= s.order.Remaining
	p.OrderCount--
	s.prev, s.next, s.level = nilSlot, nilSlot, nil
}

func (p *PriceLevel) Empty() bool {
	return p.head == nilSlot
}

func (p *PriceLevel) depth() Depth {
	return Depth{Price: p.Price, Orders: p.OrderCount, Quantity: p.TotalQty}
}
