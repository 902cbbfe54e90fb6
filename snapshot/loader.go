package snapshot

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"venue/domain/orderbook"
	"venue/domain/registry"
)

// Latest loads the newest snapshot in dir. found is false when there is
// none, which is a normal cold start.
func Latest(dir string) (s Snapshot, found bool, err error) {
	files, err := list(dir)
	if err != nil {
		return Snapshot{}, false, err
	}
	if len(files) == 0 {
		return Snapshot{}, false, nil
	}
	s, err = Read(files[len(files)-1])
	return s, err == nil, err
}

func Read(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return s, nil
}

// Apply rebuilds every book in s into r, replacing books with the same
// symbol. Each rebuilt book is verified before it is installed.
func Apply(s Snapshot, r *registry.Registry) error {
	for _, e := range s.Books {
		if e.Halted != "" {
			r.Halt(e.Symbol, errors.New(e.Halted))
			continue
		}

		book := orderbook.NewOrderBook(e.Symbol)
		for _, oe := range e.Orders {
			o := orderbook.Order{
				ID:        oe.ID,
				TraderID:  oe.TraderID,
				Symbol:    e.Symbol,
				Side:      orderbook.Side(oe.Side),
				Kind:      orderbook.Limit,
				Price:     oe.Price,
				Quantity:  oe.Quantity,
				Remaining: oe.Remaining,
				CreatedAt: oe.CreatedAt,
				UpdatedAt: oe.UpdatedAt,
			}
			if err := book.Restore(o); err != nil {
				return fmt.Errorf("snapshot %d: %s order %s: %w", s.Seq, e.Symbol, oe.ID, err)
			}
		}
		book.ResumeMatches(e.Matches)
		if err := book.Verify(); err != nil {
			return fmt.Errorf("snapshot %d: %s: %w", s.Seq, e.Symbol, err)
		}
		r.Replace(book)
	}
	return nil
}
