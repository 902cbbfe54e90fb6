// Package feed streams trades and acknowledgements to websocket clients.
//
// Feed is an engine sink. Emit runs on the engine goroutine and never
// blocks: a client that cannot keep up misses messages, it never slows
// matching down. Clients may filter by book with ?symbol=.
package feed

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"venue/domain/event"
)

const writeWait = 5 * time.Second

type Message struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Symbol string `json:"symbol"`
	Data   any    `json:"data"`
}

type Trade struct {
	Match       uint64 `json:"match"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	Price       string `json:"price"`
	Quantity    int64  `json:"quantity"`
	Timestamp   int64  `json:"timestamp"`
}

type Ack struct {
	Kind        string `json:"kind"`
	OrderID     string `json:"order_id"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	Remaining   int64  `json:"remaining"`
}

type Feed struct {
	hub      *hub[Message]
	upgrader websocket.Upgrader
	tick     decimal.Decimal
	buffer   int
	missed   atomic.Uint64
	log      *zap.Logger
}

func New(tick decimal.Decimal, buffer int, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Feed{
		hub:      newHub[Message](),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		tick:     tick,
		buffer:   buffer,
		log:      log.Named("feed"),
	}
}

// Emit publishes one message per trade followed by the ack.
func (f *Feed) Emit(b event.Batch) {
	if f.hub.Len() == 0 {
		return
	}
	for _, t := range b.Trades {
		f.publish(Message{Type: "trade", Seq: b.Seq, Symbol: b.Symbol, Data: Trade{
			Match:       t.Match,
			BuyOrderID:  t.BuyOrderID.String(),
			SellOrderID: t.SellOrderID.String(),
			Price:       decimal.NewFromInt(t.Price).Mul(f.tick).String(),
			Quantity:    t.Quantity,
			Timestamp:   t.Timestamp,
		}})
	}

	ack := Ack{
		Kind:      b.Ack.Kind.String(),
		OrderID:   b.Ack.OrderID.String(),
		Outcome:   b.Ack.Outcome.String(),
		Reason:    b.Ack.Reason.String(),
		Remaining: b.Ack.Remaining,
	}
	if b.Ack.Disposition != 0 {
		ack.Disposition = b.Ack.Disposition.String()
	}
	f.publish(Message{Type: "ack", Seq: b.Seq, Symbol: b.Symbol, Data: ack})
}

func (f *Feed) publish(m Message) {
	if n := f.hub.Broadcast(m); n > 0 {
		f.missed.Add(uint64(n))
	}
}

// Missed is the number of messages dropped for slow clients.
func (f *Feed) Missed() uint64 { return f.missed.Load() }

func (f *Feed) Subscribers() int { return f.hub.Len() }

// Close disconnects every client.
func (f *Feed) Close() { f.hub.Close() }

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	symbol := r.URL.Query().Get("symbol")
	sub := f.hub.Subscribe(f.buffer)
	defer f.hub.Unsubscribe(sub)

	f.log.Debug("client connected", zap.String("remote", r.RemoteAddr), zap.String("symbol", symbol))

	// Reads only serve control frames; a read error means the client left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case m, ok := <-sub.ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if symbol != "" && m.Symbol != symbol {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}
