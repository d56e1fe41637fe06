package engine

import (
	"fmt"

	. "limitbook/internal/common"
	"limitbook/internal/quant"
	"limitbook/internal/token"

	"github.com/ethereum/go-ethereum/common"
)

// OrderBook is one token pair: asks sell token0 for token1, bids buy
// token0 with token1. Sizes are in size ticks and prices in price ticks
// per size tick.
type OrderBook struct {
	ID     uint64
	Token0 token.Token
	Token1 token.Token
	Ticks  quant.Ticks

	// Vault holds the escrow of every resident order of the book.
	Vault common.Address
	// spender is the account users grant token allowances to.
	spender common.Address

	orders *store
	asks   *list
	bids   *list

	// entered is set while a mutating call runs on the book.
	entered bool
}

func newOrderBook(id uint64, token0, token1 token.Token, ticks quant.Ticks, vault, spender common.Address, j *journal) *OrderBook {
	orders := newStore(j)
	return &OrderBook{
		ID:      id,
		Token0:  token0,
		Token1:  token1,
		Ticks:   ticks,
		Vault:   vault,
		spender: spender,
		orders:  orders,
		asks:    newList(Ask, orders, j),
		bids:    newList(Bid, orders, j),
	}
}

func (b *OrderBook) side(s Side) *list {
	if s == Ask {
		return b.asks
	}
	return b.bids
}

// crosses reports whether a taker of side at price can trade with a
// resting order at makerPrice.
func crosses(side Side, price, makerPrice uint64) bool {
	if side == Ask {
		return makerPrice >= price
	}
	return makerPrice <= price
}

// create places a limit order: it is matched against the opposite side
// first, and whatever is left rests on its own side at the hinted
// position with its escrow pulled from the owner.
func (b *OrderBook) create(f *frame, owner common.Address, sizeBase, priceBase uint64, side Side, hint uint64) (uint64, error) {
	if sizeBase == 0 {
		return 0, ErrZeroSize
	}
	if priceBase == 0 {
		return 0, ErrZeroPrice
	}
	// Quantize up front so an overflow fails before anything moves.
	if _, err := b.Ticks.Amount0(sizeBase); err != nil {
		return 0, err
	}
	if _, err := b.Ticks.Amount1(sizeBase, priceBase); err != nil {
		return 0, err
	}

	id := b.orders.allocate()
	f.emit(Event{
		Kind:    OrderCreated,
		BookID:  b.ID,
		OrderID: id,
		Owner:   owner,
		Side:    side,
		Size:    sizeBase,
		Price:   priceBase,
	})

	remaining, err := b.match(f, id, owner, side, sizeBase, priceBase)
	if err != nil {
		return 0, err
	}
	if remaining == 0 {
		return id, nil
	}

	rec := &record{Order: Order{
		ID:     id,
		BookID: b.ID,
		Owner:  owner,
		Side:   side,
		Size:   remaining,
		Price:  priceBase,
	}}
	b.orders.put(rec)
	if err := b.side(side).insert(rec, hint, &f.meter); err != nil {
		return 0, err
	}
	if err := b.escrow(owner, side, remaining, priceBase); err != nil {
		return 0, err
	}
	return id, nil
}

// match fills the taker against the opposite side, best price first, at
// the maker's price. It returns the unfilled size.
func (b *OrderBook) match(f *frame, takerID uint64, taker common.Address, side Side, size, price uint64) (uint64, error) {
	makers := b.side(side.Opposite())
	for size > 0 {
		makerID := makers.best()
		if makerID == TailID {
			break
		}
		maker := b.orders.mustGet(makerID)
		if !crosses(side, price, maker.Price) {
			break
		}
		if err := f.meter.charge(1); err != nil {
			return 0, err
		}

		fill := min(size, maker.Size)
		size -= fill

		// The maker's record is settled before any tokens move.
		if fill == maker.Size {
			makers.remove(makerID)
			b.orders.del(makerID)
		} else {
			b.orders.setSize(maker, maker.Size-fill)
		}
		f.emit(Event{
			Kind:       OrderFilled,
			BookID:     b.ID,
			OrderID:    makerID,
			Owner:      maker.Owner,
			Side:       maker.Side,
			Size:       fill,
			Price:      maker.Price,
			TakerID:    takerID,
			TakerOwner: taker,
		})

		if err := b.settleFill(taker, maker.Owner, side, fill, maker.Price); err != nil {
			return 0, err
		}
	}
	return size, nil
}

// cancel removes a resident order and refunds its escrow. Orders that are
// no longer resident are ignored.
func (b *OrderBook) cancel(f *frame, caller common.Address, id uint64) error {
	rec, ok := b.orders.get(id)
	if !ok {
		return nil
	}
	if rec.Owner != caller {
		return fmt.Errorf("order %d: %w", id, ErrNotOwner)
	}
	if err := f.meter.charge(1); err != nil {
		return err
	}

	b.side(rec.Side).remove(id)
	b.orders.del(id)
	f.emit(Event{
		Kind:    OrderCanceled,
		BookID:  b.ID,
		OrderID: id,
		Owner:   rec.Owner,
		Side:    rec.Side,
		Size:    rec.Size,
		Price:   rec.Price,
	})
	return b.refund(rec.Owner, rec.Side, rec.Size, rec.Price)
}

// update cancels a resident order and places a new one with the new size
// and price. The new order gets a fresh id and is matched like any other.
// It returns 0 without error when the order is no longer resident.
func (b *OrderBook) update(f *frame, caller common.Address, id, sizeBase, priceBase, hint uint64) (uint64, error) {
	rec, ok := b.orders.get(id)
	if !ok {
		return 0, nil
	}
	if rec.Owner != caller {
		return 0, fmt.Errorf("order %d: %w", id, ErrNotOwner)
	}
	side := rec.Side
	if err := b.cancel(f, caller, id); err != nil {
		return 0, err
	}
	return b.create(f, caller, sizeBase, priceBase, side, hint)
}
