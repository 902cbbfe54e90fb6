package orderbook

// nilSlot terminates level queues and marks an unlinked slot.
const nilSlot int32 = -1

// slot holds one resting order. Levels link slots by index, never by
// pointer, so a freed slot can be reused without leaving dangling handles.
type slot struct {
	order Order
	level *PriceLevel
	prev  int32
	next  int32
	live  bool
}

// arena is a grow-only slab of slots with a free list.
type arena struct {
	slots []slot
	free  []int32
}

func newArena(capacity int) *arena {
	return &arena{slots: make([]slot, 0, capacity)}
}

func (a *arena) alloc(o Order) int32 {
	var idx int32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = int32(len(a.slots) - 1)
	}
	a.slots[idx] = slot{order: o, prev: nilSlot, next: nilSlot, live: true}
	return idx
}

func (a *arena) release(idx int32) {
	a.slots[idx] = slot{prev: nilSlot, next: nilSlot}
	a.free = append(a.free, idx)
}

func (a *arena) at(idx int32) *slot {
	return &a.slots[idx]
}

func (a *arena) valid(idx int32) bool {
	return idx >= 0 && int(idx) < len(a.slots) && a.slots[idx].live
}

func (a *arena) live() int {
	return len(a.slots) - len(a.free)
}
