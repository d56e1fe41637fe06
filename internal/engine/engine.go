package engine

import (
	"fmt"
	"strconv"

	. "limitbook/internal/common"
	"limitbook/internal/metrics"
	"limitbook/internal/quant"
	"limitbook/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/btree"
)

// Config holds the engine wide settings.
type Config struct {
	// Address is the account users approve as spender. Book vaults are
	// derived from it.
	Address common.Address
	// StepLimit is the default budget of a call. Zero means unbounded.
	StepLimit uint64
}

// CallOpts describes the caller of a single engine call.
type CallOpts struct {
	From common.Address
	// StepLimit overrides Config.StepLimit when non-zero.
	StepLimit uint64
}

// frame is the state of the outermost call in flight. Calls made from
// token hooks while it runs share it.
type frame struct {
	txID   string
	seq    uint64
	meter  meter
	events []Event
}

func (f *frame) emit(ev Event) {
	ev.TxID = f.txID
	ev.Sequence = f.seq
	f.events = append(f.events, ev)
}

// Engine is the order book exchange: a registry of books plus the call
// machinery that makes every operation atomic. Each call either applies
// all of its effects, on the books and on the token state, or none.
//
// Engine is not safe for concurrent use. Calls are expected to be applied
// one at a time, in a single global order, by a sequencer. Calls issued
// from inside token hooks during a call are nested into it.
type Engine struct {
	cfg     Config
	state   token.State
	log     zerolog.Logger
	metrics *metrics.Metrics

	books    *btree.Map[uint64, *OrderBook]
	nextBook uint64
	journal  journal
	feed     event.Feed
	frame    *frame
	sequence uint64
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

func New(cfg Config, state token.State, opts ...Option) *Engine {
	e := &Engine{
		cfg:   cfg,
		state: state,
		log:   zerolog.Nop(),
		books: btree.NewMap[uint64, *OrderBook](0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Address() common.Address { return e.cfg.Address }

// Sequence returns the sequence number of the last outer call.
func (e *Engine) Sequence() uint64 { return e.sequence }

// SubscribeEvents delivers the events of every committed call to ch, in
// order. Delivery blocks the engine until ch accepts, so subscribers must
// keep up or use a buffered channel.
func (e *Engine) SubscribeEvents(ch chan<- Event) event.Subscription {
	return e.feed.Subscribe(ch)
}

// call runs fn as one atomic step. Any error reverts the book journal,
// the token state and the pending events to where they were when the
// call began.
func (e *Engine) call(op string, opts CallOpts, fn func(f *frame) error) error {
	if e.frame != nil {
		return e.nested(e.frame, fn)
	}

	limit := e.stepLimit(opts)
	e.sequence++
	f := &frame{
		txID:  uuid.NewString(),
		seq:   e.sequence,
		meter: meter{limit: limit},
	}
	e.frame = f
	err := f.meter.charge(intrinsicSteps)
	if err == nil {
		err = e.nested(f, fn)
	}
	e.frame = nil
	e.journal.reset()
	e.state.Finalise()

	e.metrics.ObserveCall(op, f.meter.used, err)
	if err != nil {
		e.log.Debug().
			Err(err).
			Str("op", op).
			Str("tx", f.txID).
			Uint64("seq", f.seq).
			Uint64("steps", f.meter.used).
			Msg("call reverted")
		return err
	}
	for _, ev := range f.events {
		e.observe(ev)
		e.feed.Send(ev)
	}
	return nil
}

func (e *Engine) nested(f *frame, fn func(f *frame) error) error {
	jsnap, ssnap, evsnap := e.journal.length(), e.state.Snapshot(), len(f.events)
	if err := fn(f); err != nil {
		e.journal.revert(jsnap)
		e.state.RevertToSnapshot(ssnap)
		f.events = f.events[:evsnap]
		return err
	}
	return nil
}

func (e *Engine) observe(ev Event) {
	book := strconv.FormatUint(ev.BookID, 10)
	switch ev.Kind {
	case OrderBookCreated:
		e.metrics.BookCreated()
	case OrderCreated:
		e.metrics.OrderCreated(book)
	case OrderFilled:
		e.metrics.OrderFilled(book)
	case OrderCanceled:
		e.metrics.OrderCanceled(book)
	}
}

// Simulate runs fn, which is expected to issue engine calls, and then
// rolls everything back. It returns the steps the calls used, which is
// how a caller estimates the StepLimit it needs.
func (e *Engine) Simulate(opts CallOpts, fn func() error) (uint64, error) {
	if e.frame != nil {
		return 0, ErrReentrantCall
	}
	f := &frame{txID: "simulation", meter: meter{limit: e.stepLimit(opts)}}
	e.frame = f
	jsnap, ssnap := e.journal.length(), e.state.Snapshot()

	err := f.meter.charge(intrinsicSteps)
	if err == nil {
		err = fn()
	}

	e.journal.revert(jsnap)
	e.state.RevertToSnapshot(ssnap)
	e.frame = nil
	return f.meter.used, err
}

// stepLimit is the budget of a call: its own limit, else the engine
// default.
func (e *Engine) stepLimit(opts CallOpts) uint64 {
	if opts.StepLimit != 0 {
		return opts.StepLimit
	}
	return e.cfg.StepLimit
}

func (e *Engine) book(id uint64) (*OrderBook, error) {
	book, ok := e.books.Get(id)
	if !ok {
		return nil, fmt.Errorf("book %d: %w", id, ErrUnknownBook)
	}
	return book, nil
}

// enter marks a book as running a mutating call. A token hook that calls
// back into the same book while it is entered is rejected.
func (e *Engine) enter(id uint64) (*OrderBook, func(), error) {
	book, err := e.book(id)
	if err != nil {
		return nil, nil, err
	}
	if book.entered {
		return nil, nil, fmt.Errorf("book %d: %w", id, ErrReentrantCall)
	}
	book.entered = true
	return book, func() { book.entered = false }, nil
}

// CreateOrderBook registers a new token pair. The tick exponents are
// fixed for the life of the book.
func (e *Engine) CreateOrderBook(token0, token1 token.Token, logSizeTick, logPriceTick uint8) (uint64, error) {
	if token0.Address() == token1.Address() {
		return 0, ErrSameToken
	}
	ticks, err := quant.New(logSizeTick, logPriceTick)
	if err != nil {
		return 0, err
	}

	var id uint64
	err = e.call("createOrderBook", CallOpts{}, func(f *frame) error {
		id = e.nextBook
		e.journal.append(func() { e.nextBook = id })
		e.nextBook++

		vault := crypto.CreateAddress(e.cfg.Address, id)
		e.books.Set(id, newOrderBook(id, token0, token1, ticks, vault, e.cfg.Address, &e.journal))
		e.journal.append(func() { e.books.Delete(id) })

		f.emit(Event{
			Kind:         OrderBookCreated,
			BookID:       id,
			Token0:       token0.Address(),
			Token1:       token1.Address(),
			LogSizeTick:  logSizeTick,
			LogPriceTick: logPriceTick,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info().
		Uint64("book", id).
		Str("token0", token0.Symbol()).
		Str("token1", token1.Symbol()).
		Uint8("logSizeTick", logSizeTick).
		Uint8("logPriceTick", logPriceTick).
		Msg("order book created")
	return id, nil
}

// CreateLimitOrder places a limit order of sizeBase size ticks at
// priceBase price ticks. It returns the id of the new order, which is
// allocated even when the order fills completely and never rests.
func (e *Engine) CreateLimitOrder(opts CallOpts, bookID, sizeBase, priceBase uint64, isAsk bool, hint uint64) (uint64, error) {
	var id uint64
	err := e.call("createLimitOrder", opts, func(f *frame) error {
		book, leave, err := e.enter(bookID)
		if err != nil {
			return err
		}
		defer leave()
		id, err = book.create(f, opts.From, sizeBase, priceBase, SideOf(isAsk), hint)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CreateLimitOrderBatch places the first count entries of the arrays, in
// order, each with its own hint. The batch succeeds or fails as a whole.
func (e *Engine) CreateLimitOrderBatch(opts CallOpts, bookID uint64, count int, sizes, prices []uint64, isAsk []bool, hints []uint64) ([]uint64, error) {
	if count < 0 || len(sizes) < count || len(prices) < count || len(isAsk) < count || len(hints) < count {
		return nil, fmt.Errorf("count %d: %w", count, ErrBatchLength)
	}

	ids := make([]uint64, 0, count)
	err := e.call("createLimitOrderBatch", opts, func(f *frame) error {
		book, leave, err := e.enter(bookID)
		if err != nil {
			return err
		}
		defer leave()
		for i := 0; i < count; i++ {
			id, err := book.create(f, opts.From, sizes[i], prices[i], SideOf(isAsk[i]), hints[i])
			if err != nil {
				return fmt.Errorf("batch entry %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateLimitOrder cancels orderID and places a new order on the same side
// with the new size and price, returning the new id. Updating an order
// that is no longer resident does nothing and returns 0.
func (e *Engine) UpdateLimitOrder(opts CallOpts, bookID, orderID, newSizeBase, newPriceBase, hint uint64) (uint64, error) {
	var id uint64
	err := e.call("updateLimitOrder", opts, func(f *frame) error {
		book, leave, err := e.enter(bookID)
		if err != nil {
			return err
		}
		defer leave()
		id, err = book.update(f, opts.From, orderID, newSizeBase, newPriceBase, hint)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CancelLimitOrder removes orderID and refunds its escrow to the owner.
// Canceling an order that is no longer resident does nothing.
func (e *Engine) CancelLimitOrder(opts CallOpts, bookID, orderID uint64) error {
	return e.call("cancelLimitOrder", opts, func(f *frame) error {
		book, leave, err := e.enter(bookID)
		if err != nil {
			return err
		}
		defer leave()
		return book.cancel(f, opts.From, orderID)
	})
}
