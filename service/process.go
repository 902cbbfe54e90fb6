package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"venue/domain/command"
	"venue/domain/event"
	"venue/domain/orderbook"
	"venue/domain/registry"
)

//
// ──────────────────────────────────────────────────────────
// Dispatch
// ──────────────────────────────────────────────────────────
//

func (e *Engine) process(cmd command.Command) {
	cmd.Seq = e.seq.Next()
	e.sink.Emit(e.apply(cmd, true))
}

// apply runs one command against its book and returns the batch it
// produced. journal is false during replay.
func (e *Engine) apply(cmd command.Command, journal bool) (batch event.Batch) {
	batch = event.Batch{
		Seq:       cmd.Seq,
		Symbol:    cmd.Symbol,
		Timestamp: cmd.Timestamp,
		Ack:       event.Ack{Kind: cmd.Kind(), OrderID: cmd.OrderID()},
	}

	if reason := screen(cmd); reason != event.ReasonNone {
		if reason == event.ReasonUnknownCommand || reason == event.ReasonMalformed {
			e.log.Warn("protocol error",
				zap.Uint64("seq", cmd.Seq),
				zap.String("symbol", cmd.Symbol),
				zap.Stringer("reason", reason),
				zap.Any("payload", cmd.Payload),
			)
		}
		reject(&batch, reason)
		return batch
	}

	if err := e.books.Halted(cmd.Symbol); err != nil {
		reject(&batch, event.ReasonBookHalted)
		return batch
	}

	if journal && e.journal != nil {
		if err := e.journal.Append(cmd); err != nil {
			e.log.Error("journal append failed", zap.Uint64("seq", cmd.Seq), zap.Error(err))
			reject(&batch, event.ReasonJournalFailed)
			return batch
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err := faultError(r)
			e.books.Halt(cmd.Symbol, err)
			e.log.Error("book halted",
				zap.Uint64("seq", cmd.Seq),
				zap.String("symbol", cmd.Symbol),
				zap.Error(err),
			)
			batch.Trades = nil
			batch.Ack.Disposition = 0
			batch.Ack.Remaining = 0
			reject(&batch, event.ReasonBookHalted)
		}
	}()

	switch p := cmd.Payload.(type) {
	case command.NewOrder:
		e.newOrder(&batch, cmd, p)
	case command.CancelOrder:
		e.cancelOrder(&batch, cmd, p)
	case command.UpdateOrder:
		e.updateOrder(&batch, cmd, p)
	}

	if e.opts.Verify {
		e.verify(cmd)
	}
	return batch
}

// screen catches commands that are malformed regardless of book state.
func screen(cmd command.Command) event.Reason {
	switch p := cmd.Payload.(type) {
	case nil, command.Unrecognized:
		return event.ReasonUnknownCommand
	case command.CancelOrder:
		if p.OrderID == uuid.Nil {
			return event.ReasonInvalidOrderID
		}
	case command.UpdateOrder:
		if p.OrderID == uuid.Nil {
			return event.ReasonInvalidOrderID
		}
		if p.NewPrice == nil && p.NewQuantity == nil {
			return event.ReasonMalformed
		}
		if p.NewQuantity != nil && *p.NewQuantity <= 0 {
			return event.ReasonInvalidQuantity
		}
		if p.NewPrice != nil && *p.NewPrice <= 0 {
			return event.ReasonInvalidPrice
		}
	}
	if registry.ValidSymbol(cmd.Symbol) != nil {
		return event.ReasonInvalidSymbol
	}
	return event.ReasonNone
}

func (e *Engine) newOrder(batch *event.Batch, cmd command.Command, p command.NewOrder) {
	// A first order for a symbol only creates its book once it is accepted.
	book, ok := e.books.Lookup(cmd.Symbol)
	if !ok {
		book = orderbook.NewOrderBook(cmd.Symbol)
	}
	res, err := book.AddOrder(p.Order(cmd.Symbol, cmd.Timestamp))
	if err != nil {
		mustBeValidation(err)
		reject(batch, ReasonOf(err))
		return
	}
	if !ok {
		e.books.Replace(book)
	}
	batch.Trades = res.Trades
	batch.Ack.Outcome = event.Accepted
	batch.Ack.Disposition = res.Disposition
	batch.Ack.Remaining = res.Remaining
}

func (e *Engine) cancelOrder(batch *event.Batch, cmd command.Command, p command.CancelOrder) {
	book, ok := e.books.Lookup(cmd.Symbol)
	if !ok {
		batch.Ack.Outcome = event.NotFound
		return
	}
	o, found := book.CancelOrder(p.OrderID)
	if !found {
		batch.Ack.Outcome = event.NotFound
		return
	}
	batch.Ack.Outcome = event.Accepted
	batch.Ack.Remaining = o.Remaining
}

func (e *Engine) updateOrder(batch *event.Batch, cmd command.Command, p command.UpdateOrder) {
	book, ok := e.books.Lookup(cmd.Symbol)
	if !ok {
		batch.Ack.Outcome = event.NotFound
		return
	}
	cur, found := book.Lookup(p.OrderID)
	if !found {
		batch.Ack.Outcome = event.NotFound
		return
	}
	qty := cur.Remaining
	if p.NewQuantity != nil {
		qty = *p.NewQuantity
	}

	am, err := book.ModifyOrder(p.OrderID, qty, p.NewPrice, cmd.Timestamp)
	if err != nil {
		mustBeValidation(err)
		reject(batch, ReasonOf(err))
		return
	}
	if !am.Found {
		batch.Ack.Outcome = event.NotFound
		return
	}
	batch.Trades = am.Trades
	batch.Ack.Outcome = event.Accepted
	batch.Ack.Disposition = am.Disposition
	batch.Ack.Remaining = am.Order.Remaining
}

func (e *Engine) verify(cmd command.Command) {
	book, ok := e.books.Lookup(cmd.Symbol)
	if !ok {
		return
	}
	if err := book.Verify(); err != nil {
		e.books.Halt(cmd.Symbol, err)
		e.log.Error("book failed verification",
			zap.Uint64("seq", cmd.Seq),
			zap.String("symbol", cmd.Symbol),
			zap.Error(err),
		)
	}
}

func reject(batch *event.Batch, reason event.Reason) {
	batch.Ack.Outcome = event.Rejected
	batch.Ack.Reason = reason
}

// mustBeValidation escalates a corruption error returned by the book into
// the same fault path as a panic.
func mustBeValidation(err error) {
	if errors.Is(err, orderbook.ErrCorrupt) {
		panic(err)
	}
}

func faultError(r any) error {
	if err, ok := r.(error); ok {
		if errors.Is(err, orderbook.ErrCorrupt) {
			return err
		}
		return fmt.Errorf("%w: %w", orderbook.ErrCorrupt, err)
	}
	return fmt.Errorf("%w: %v", orderbook.ErrCorrupt, r)
}

// ReasonOf maps a book or registry error to the reject reason reported to
// clients.
func ReasonOf(err error) event.Reason {
	switch {
	case err == nil:
		return event.ReasonNone
	case errors.Is(err, orderbook.ErrInvalidQuantity):
		return event.ReasonInvalidQuantity
	case errors.Is(err, orderbook.ErrInvalidPrice):
		return event.ReasonInvalidPrice
	case errors.Is(err, orderbook.ErrInvalidSide):
		return event.ReasonInvalidSide
	case errors.Is(err, orderbook.ErrUnsupportedKind):
		return event.ReasonUnsupportedKind
	case errors.Is(err, orderbook.ErrDuplicateOrder):
		return event.ReasonDuplicateOrder
	case errors.Is(err, orderbook.ErrInvalidOrderID):
		return event.ReasonInvalidOrderID
	case errors.Is(err, orderbook.ErrSymbolMismatch), errors.Is(err, registry.ErrInvalidSymbol):
		return event.ReasonInvalidSymbol
	case errors.Is(err, registry.ErrHalted):
		return event.ReasonBookHalted
	default:
		return event.ReasonMalformed
	}
}
