package snapshot

import (
	"time"

	"github.com/google/uuid"

	"venue/domain/orderbook"
	"venue/domain/registry"
)

// Snapshot is the resting state of every book after command Seq.
type Snapshot struct {
	Seq     uint64
	Created time.Time
	Books   []BookEntry
}

type BookEntry struct {
	Symbol  string
	Matches uint64
	// Halted carries the halt cause. A halted book is recorded without
	// orders and comes back halted.
	Halted string
	// Orders in Walk order, so restoring them one by one rebuilds every
	// level's queue as it was.
	Orders []OrderEntry
}

type OrderEntry struct {
	ID        uuid.UUID
	TraderID  uuid.UUID
	Side      uint8
	Price     int64
	Quantity  int64
	Remaining int64
	CreatedAt int64
	UpdatedAt int64
}

// Capture copies the books in r. It must run where the books cannot
// change, which for a running engine means inside Engine.Inspect.
func Capture(r *registry.Registry, seq uint64) Snapshot {
	s := Snapshot{
		Seq:     seq,
		Created: time.Now(),
		Books:   make([]BookEntry, 0, r.Len()),
	}
	for _, sym := range r.Symbols() {
		book, _ := r.Lookup(sym)
		if err := r.Halted(sym); err != nil {
			s.Books = append(s.Books, BookEntry{Symbol: sym, Halted: err.Error()})
			continue
		}
		e := BookEntry{
			Symbol:  sym,
			Matches: book.Matches(),
			Orders:  make([]OrderEntry, 0, book.Len()),
		}
		book.Walk(func(o orderbook.Order) bool {
			e.Orders = append(e.Orders, OrderEntry{
				ID:        o.ID,
				TraderID:  o.TraderID,
				Side:      uint8(o.Side),
				Price:     o.Price,
				Quantity:  o.Quantity,
				Remaining: o.Remaining,
				CreatedAt: o.CreatedAt,
				UpdatedAt: o.UpdatedAt,
			})
			return true
		})
		s.Books = append(s.Books, e)
	}
	return s
}

// Orders returns the number of resting orders in s.
func (s Snapshot) Orders() int {
	n := 0
	for _, b := range s.Books {
		n += len(b.Orders)
	}
	return n
}
