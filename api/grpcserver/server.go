package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"venue/domain/command"
	"venue/domain/event"
	"venue/domain/orderbook"
	"venue/domain/registry"
	"venue/service"
)

// Server adapts the engine to gRPC.
type Server struct {
	engine  *service.Engine
	tracker *service.Tracker
	tick    decimal.Decimal
	log     *zap.Logger
	clock   *clock
}

// NewServer needs the tracker that is installed as one of the engine's
// sinks.
func NewServer(engine *service.Engine, tracker *service.Tracker, tick decimal.Decimal, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		engine:  engine,
		tracker: tracker,
		tick:    tick,
		log:     log.Named("grpc"),
		clock:   &clock{wall: func() int64 { return time.Now().UnixNano() }},
	}
}

// clock stamps commands with wall-clock nanoseconds that never go
// backwards. If the wall clock steps back it returns the last value plus one.
type clock struct {
	last atomic.Int64
	wall func() int64
}

func (c *clock) Now() int64 {
	for {
		prev := c.last.Load()
		next := c.wall()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// -------------------- Commands --------------------

func (s *Server) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderReply, error) {
	id := uuid.New()
	if req.OrderID != "" {
		var err error
		if id, err = parseID(req.OrderID); err != nil {
			return nil, err
		}
	}
	var trader uuid.UUID
	if req.TraderID != "" {
		var err error
		if trader, err = uuid.Parse(req.TraderID); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid trader id: %v", err)
		}
	}

	var price int64
	if req.Type != TypeMarket {
		var err error
		if price, err = s.toTicks(req.Price); err != nil {
			return nil, err
		}
	}

	cmd := command.New(req.Symbol, s.clock.Now(), command.NewOrder{
		OrderID:  id,
		TraderID: trader,
		Side:     toSide(req.Side),
		Type:     toType(req.Type),
		Price:    price,
		Quantity: req.Quantity,
	})
	return s.do(ctx, cmd)
}

func (s *Server) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderReply, error) {
	id, err := parseID(req.OrderID)
	if err != nil {
		return nil, err
	}
	return s.do(ctx, command.New(req.Symbol, s.clock.Now(), command.CancelOrder{OrderID: id}))
}

func (s *Server) ModifyOrder(ctx context.Context, req *ModifyOrderRequest) (*OrderReply, error) {
	id, err := parseID(req.OrderID)
	if err != nil {
		return nil, err
	}
	p := command.UpdateOrder{OrderID: id, NewQuantity: req.NewQuantity}
	if req.NewPrice != "" {
		ticks, err := s.toTicks(req.NewPrice)
		if err != nil {
			return nil, err
		}
		p.NewPrice = &ticks
	}
	return s.do(ctx, command.New(req.Symbol, s.clock.Now(), p))
}

func (s *Server) do(ctx context.Context, cmd command.Command) (*OrderReply, error) {
	b, err := s.tracker.Do(ctx, s.engine, cmd)
	if err != nil {
		return nil, submitError(err)
	}

	s.log.Debug("command done",
		zap.Stringer("kind", cmd.Kind()),
		zap.Uint64("seq", b.Seq),
		zap.Stringer("outcome", b.Ack.Outcome),
		zap.Stringer("reason", b.Ack.Reason),
		zap.Int("trades", len(b.Trades)),
	)

	if err := ackError(b.Ack); err != nil {
		return nil, err
	}
	reply := &OrderReply{
		Seq:       b.Seq,
		OrderID:   b.Ack.OrderID.String(),
		Remaining: b.Ack.Remaining,
		Trades:    make([]Trade, 0, len(b.Trades)),
	}
	if b.Ack.Disposition != 0 {
		reply.Disposition = b.Ack.Disposition.String()
	}
	for _, t := range b.Trades {
		reply.Trades = append(reply.Trades, Trade{
			Match:       t.Match,
			BuyOrderID:  t.BuyOrderID.String(),
			SellOrderID: t.SellOrderID.String(),
			Price:       s.fromTicks(t.Price),
			Quantity:    t.Quantity,
			Timestamp:   t.Timestamp,
		})
	}
	return reply, nil
}

// -------------------- Queries --------------------

func (s *Server) GetBook(ctx context.Context, req *GetBookRequest) (*GetBookResponse, error) {
	if err := registry.ValidSymbol(req.Symbol); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp := &GetBookResponse{Symbol: req.Symbol}
	var found bool
	err := s.engine.Inspect(ctx, func(v service.View) {
		book, ok := v.Books.Lookup(req.Symbol)
		if !ok {
			return
		}
		found = true
		resp.Seq = v.Seq
		resp.Halted = v.Books.Halted(req.Symbol) != nil
		resp.Bids = s.levels(book.Levels(orderbook.Buy, int(req.Depth)))
		resp.Asks = s.levels(book.Levels(orderbook.Sell, int(req.Depth)))
	})
	if err != nil {
		return nil, submitError(err)
	}
	if !found {
		return nil, status.Errorf(codes.NotFound, "no book for %q", req.Symbol)
	}
	return resp, nil
}

func (s *Server) ListSymbols(ctx context.Context, _ *ListSymbolsRequest) (*ListSymbolsResponse, error) {
	resp := &ListSymbolsResponse{}
	if err := s.engine.Inspect(ctx, func(v service.View) {
		resp.Symbols = v.Books.Symbols()
	}); err != nil {
		return nil, submitError(err)
	}
	return resp, nil
}

func (s *Server) levels(in []orderbook.Depth) []Level {
	out := make([]Level, 0, len(in))
	for _, d := range in {
		out = append(out, Level{
			Price:    s.fromTicks(d.Price),
			Quantity: d.Quantity,
			Orders:   int64(d.Orders),
		})
	}
	return out
}

// -------------------- Converters --------------------

// toTicks converts a decimal price to an integer number of ticks. Prices
// off the tick grid are rejected rather than rounded.
func (s *Server) toTicks(price string) (int64, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid price %q", price)
	}
	ticks := d.Div(s.tick)
	if !ticks.IsInteger() {
		return 0, status.Errorf(codes.InvalidArgument, "price %s is not a multiple of tick %s", d, s.tick)
	}
	if !ticks.BigInt().IsInt64() {
		return 0, status.Errorf(codes.InvalidArgument, "price %s out of range", d)
	}
	if !ticks.IsPositive() {
		return 0, status.Errorf(codes.InvalidArgument, "price must be positive")
	}
	return ticks.IntPart(), nil
}

func (s *Server) fromTicks(ticks int64) string {
	return decimal.NewFromInt(ticks).Mul(s.tick).String()
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid order id %q", s)
	}
	return id, nil
}

func toSide(s Side) orderbook.Side {
	switch s {
	case SideBuy:
		return orderbook.Buy
	case SideSell:
		return orderbook.Sell
	default:
		return 0
	}
}

func toType(t OrderType) orderbook.Kind {
	switch t {
	case TypeMarket:
		return orderbook.Market
	case TypeLimit:
		return orderbook.Limit
	case TypeStop:
		return orderbook.Stop
	case TypeStopLimit:
		return orderbook.StopLimit
	default:
		return 0
	}
}

// -------------------- Errors --------------------

func submitError(err error) error {
	switch {
	case errors.Is(err, service.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, service.ErrNotRunning):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func ackError(a event.Ack) error {
	switch a.Outcome {
	case event.Accepted:
		return nil
	case event.NotFound:
		return status.Errorf(codes.NotFound, "order %s not found", a.OrderID)
	}

	msg := fmt.Sprintf("rejected: %s", a.Reason)
	switch a.Reason {
	case event.ReasonDuplicateOrder:
		return status.Error(codes.AlreadyExists, msg)
	case event.ReasonBookHalted:
		return status.Error(codes.FailedPrecondition, msg)
	case event.ReasonUnsupportedKind:
		return status.Error(codes.Unimplemented, msg)
	case event.ReasonJournalFailed:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.InvalidArgument, msg)
	}
}
