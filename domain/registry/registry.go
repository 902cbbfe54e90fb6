// Package registry maps symbols to their order books.
//
// A Registry is owned by one engine and is not synchronized; only the
// engine's consumer goroutine may touch it once the engine is running.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"venue/domain/orderbook"
)

const MaxSymbolLen = 32

var (
	ErrInvalidSymbol = errors.New("registry: invalid symbol")
	ErrHalted        = errors.New("registry: book halted")
)

type entry struct {
	book   *orderbook.OrderBook
	halted error
}

type Registry struct {
	books map[string]*entry
}

func New() *Registry {
	return &Registry{books: make(map[string]*entry)}
}

// ValidSymbol reports whether s can name a book.
func ValidSymbol(s string) error {
	if s == "" || len(s) > MaxSymbolLen {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return nil
}

// Register creates the book for symbol if it does not exist yet and
// returns it.
func (r *Registry) Register(symbol string) (*orderbook.OrderBook, error) {
	if err := ValidSymbol(symbol); err != nil {
		return nil, err
	}
	return r.getOrCreate(symbol), nil
}

// GetOrCreate is Register for callers that already validated symbol.
func (r *Registry) GetOrCreate(symbol string) *orderbook.OrderBook {
	return r.getOrCreate(symbol)
}

func (r *Registry) getOrCreate(symbol string) *orderbook.OrderBook {
	if e, ok := r.books[symbol]; ok {
		return e.book
	}
	b := orderbook.NewOrderBook(symbol)
	r.books[symbol] = &entry{book: b}
	return b
}

func (r *Registry) Lookup(symbol string) (*orderbook.OrderBook, bool) {
	e, ok := r.books[symbol]
	if !ok {
		return nil, false
	}
	return e.book, true
}

// Symbols returns the registered symbols in lexical order.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.books))
	for s := range r.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int { return len(r.books) }

// Halt takes a book out of service after a fault. The book stays
// registered so operators can inspect it.
func (r *Registry) Halt(symbol string, cause error) {
	e, ok := r.books[symbol]
	if !ok {
		e = &entry{book: orderbook.NewOrderBook(symbol)}
		r.books[symbol] = e
	}
	if e.halted == nil {
		e.halted = fmt.Errorf("%w: %s: %w", ErrHalted, symbol, cause)
	}
}

// Halted returns the halt cause for symbol, or nil if it is in service.
func (r *Registry) Halted(symbol string) error {
	if e, ok := r.books[symbol]; ok {
		return e.halted
	}
	return nil
}

// Replace installs b under its symbol, clearing any halt. Used by
// snapshot restore and by the engine once a new book's first order is
// accepted.
func (r *Registry) Replace(b *orderbook.OrderBook) {
	r.books[b.Symbol()] = &entry{book: b}
}
