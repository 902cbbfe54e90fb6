package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"venue/domain/command"
	"venue/domain/registry"
	"venue/infra/sequence"
)

var (
	ErrQueueFull      = errors.New("service: command queue full")
	ErrAlreadyRunning = errors.New("service: engine already running")
	ErrNotRunning     = errors.New("service: engine not running")
)

type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Backpressure decides what Submit does when the queue is full.
type Backpressure uint8

const (
	// Block waits for room or for the caller's context.
	Block Backpressure = iota
	// Reject fails fast with ErrQueueFull.
	Reject
)

func ParseBackpressure(s string) (Backpressure, error) {
	switch s {
	case "block", "":
		return Block, nil
	case "reject":
		return Reject, nil
	default:
		return Block, fmt.Errorf("service: unknown backpressure policy %q", s)
	}
}

type Options struct {
	QueueSize    int
	Backpressure Backpressure
	// Verify runs the full book invariant check after every command and
	// halts a book that fails it.
	Verify bool
}

// Deps are the collaborators an Engine is wired with. Nil fields get
// defaults: a fresh registry, a sequencer at zero, a discarding sink, no
// journal and a no-op logger.
type Deps struct {
	Books   *registry.Registry
	Seq     *sequence.Sequencer
	Sink    Sink
	Journal Journal
	Log     *zap.Logger
}

// View is what Inspect hands to its callback.
type View struct {
	Books *registry.Registry
	Seq   uint64
}

type inspectReq struct {
	fn   func(View)
	done chan struct{}
}

/*
Engine is the single consumer of the command queue and the only writer of
the books it owns. Producers call Submit from any goroutine; the queue
serializes them into one global order. Each command runs to completion
before the next is taken, and Stop is only honored between commands.
*/
type Engine struct {
	opts    Options
	log     *zap.Logger
	books   *registry.Registry
	seq     *sequence.Sequencer
	sink    Sink
	journal Journal

	queue   chan command.Command
	inspect chan inspectReq

	mu    sync.Mutex
	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}
}

func New(opts Options, deps Deps) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if deps.Books == nil {
		deps.Books = registry.New()
	}
	if deps.Seq == nil {
		deps.Seq = sequence.New(0)
	}
	if deps.Sink == nil {
		deps.Sink = discard{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Engine{
		opts:    opts,
		log:     deps.Log.Named("engine"),
		books:   deps.Books,
		seq:     deps.Seq,
		sink:    deps.Sink,
		journal: deps.Journal,
		queue:   make(chan command.Command, opts.QueueSize),
		inspect: make(chan inspectReq),
	}
}

func (e *Engine) State() State { return State(e.state.Load()) }

// Start launches the consumer. Cancelling ctx stops it like Stop does.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done != nil {
		select {
		case <-e.done:
		default:
			return ErrAlreadyRunning
		}
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.state.Store(int32(Running))

	go e.run(ctx, e.stop, e.done)
	e.log.Info("started", zap.Int("queue_size", e.opts.QueueSize))
	return nil
}

// Stop asks the consumer to exit after the command in flight and waits
// until it has.
func (e *Engine) Stop() {
	e.mu.Lock()
	done := e.done
	if e.stop != nil {
		e.state.CompareAndSwap(int32(Running), int32(Stopping))
		close(e.stop)
		e.stop = nil
	}
	e.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (e *Engine) run(ctx context.Context, stop, done chan struct{}) {
	defer func() {
		e.state.Store(int32(Stopped))
		close(done)
		e.log.Info("stopped", zap.Uint64("last_seq", e.seq.Current()))
	}()

	for {
		// Cancellation wins over pending work, but only between commands.
		select {
		case <-stop:
			e.state.Store(int32(Stopping))
			return
		case <-ctx.Done():
			e.state.Store(int32(Stopping))
			return
		default:
		}

		select {
		case <-stop:
			e.state.Store(int32(Stopping))
			return
		case <-ctx.Done():
			e.state.Store(int32(Stopping))
			return
		case cmd := <-e.queue:
			e.process(cmd)
		case req := <-e.inspect:
			e.runInspect(req)
		}
	}
}

// Submit enqueues cmd. The queue is bounded; what happens when it is full
// depends on the configured Backpressure. Commands may be queued while the
// engine is stopped and run once it starts.
func (e *Engine) Submit(ctx context.Context, cmd command.Command) error {
	cmd.Seq = 0
	if e.opts.Backpressure == Reject {
		select {
		case e.queue <- cmd:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case e.queue <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of commands waiting.
func (e *Engine) QueueDepth() int { return len(e.queue) }

// Inspect runs fn on the consumer goroutine between two commands, so fn
// sees settled books. fn must not keep references to the books.
func (e *Engine) Inspect(ctx context.Context, fn func(View)) error {
	e.mu.Lock()
	done := e.done
	running := e.State() == Running
	e.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	req := inspectReq{fn: fn, done: make(chan struct{})}
	select {
	case e.inspect <- req:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

func (e *Engine) runInspect(req inspectReq) {
	defer close(req.done)
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("inspect callback panicked", zap.Any("panic", r))
		}
	}()
	req.fn(View{Books: e.books, Seq: e.seq.Current()})
}

// Register pre-creates the book for symbol. While the engine runs the
// registration happens on the consumer goroutine.
func (e *Engine) Register(ctx context.Context, symbol string) error {
	if e.State() != Running {
		_, err := e.books.Register(symbol)
		return err
	}
	var err error
	if ierr := e.Inspect(ctx, func(v View) {
		_, err = v.Books.Register(symbol)
	}); ierr != nil {
		return ierr
	}
	return err
}

// Books returns the registry. Only safe to use while the engine is stopped.
func (e *Engine) Books() *registry.Registry { return e.books }

// Seq returns the last assigned command sequence.
func (e *Engine) Seq() uint64 { return e.seq.Current() }
