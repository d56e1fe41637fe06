package engine

import (
	. "limitbook/internal/common"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Snapshot lists the resident orders of a book, asks first and then
// bids, each side from its best price. Sizes are token0 amounts and
// prices are in price ticks.
type Snapshot struct {
	IDs    []uint64
	Owners []common.Address
	Sides  []Side
	Sizes  []*uint256.Int
	Prices []uint64
}

func (s Snapshot) Len() int { return len(s.IDs) }

// Order returns row i as an order, with its size in size ticks.
func (s Snapshot) Order(i int, book BookInfo) Order {
	size := new(uint256.Int).Div(s.Sizes[i], book.SizeTick)
	return Order{
		ID:     s.IDs[i],
		BookID: book.ID,
		Owner:  s.Owners[i],
		Side:   s.Sides[i],
		Size:   size.Uint64(),
		Price:  s.Prices[i],
	}
}

// BookInfo describes the immutable parameters of a book.
type BookInfo struct {
	ID           uint64
	Token0       common.Address
	Token1       common.Address
	LogSizeTick  uint8
	LogPriceTick uint8
	SizeTick     *uint256.Int
	PriceTick    *uint256.Int
	Vault        common.Address
}

// Books returns the ids of every registered book in ascending order.
func (e *Engine) Books() []uint64 {
	return e.books.Keys()
}

func (e *Engine) Book(bookID uint64) (BookInfo, error) {
	book, err := e.book(bookID)
	if err != nil {
		return BookInfo{}, err
	}
	return BookInfo{
		ID:           book.ID,
		Token0:       book.Token0.Address(),
		Token1:       book.Token1.Address(),
		LogSizeTick:  book.Ticks.LogSize,
		LogPriceTick: book.Ticks.LogPrice,
		SizeTick:     book.Ticks.SizeTick(),
		PriceTick:    book.Ticks.PriceTick(),
		Vault:        book.Vault,
	}, nil
}

func (e *Engine) GetLimitOrders(bookID uint64) (Snapshot, error) {
	book, err := e.book(bookID)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	var rowErr error
	collect := func(rec *record) bool {
		size, err := book.Ticks.Amount0(rec.Size)
		if err != nil {
			rowErr = err
			return false
		}
		snap.IDs = append(snap.IDs, rec.ID)
		snap.Owners = append(snap.Owners, rec.Owner)
		snap.Sides = append(snap.Sides, rec.Side)
		snap.Sizes = append(snap.Sizes, size)
		snap.Prices = append(snap.Prices, rec.Price)
		return true
	}
	book.asks.iterate(collect)
	if rowErr == nil {
		book.bids.iterate(collect)
	}
	if rowErr != nil {
		return Snapshot{}, rowErr
	}
	return snap, nil
}

// GetOrder returns a resident order.
func (e *Engine) GetOrder(bookID, orderID uint64) (Order, bool, error) {
	book, err := e.book(bookID)
	if err != nil {
		return Order{}, false, err
	}
	rec, ok := book.orders.get(orderID)
	if !ok {
		return Order{}, false, nil
	}
	return rec.Order, true, nil
}

// ComputeInsertionHint returns the predecessor id a new order would be
// linked after if it rested now. Passing it as the hint of the matching
// create makes insertion cost a single step.
func (e *Engine) ComputeInsertionHint(bookID, sizeBase, priceBase uint64, isAsk bool) (uint64, error) {
	book, err := e.book(bookID)
	if err != nil {
		return 0, err
	}
	if sizeBase == 0 {
		return 0, ErrZeroSize
	}
	if priceBase == 0 {
		return 0, ErrZeroPrice
	}
	return book.side(SideOf(isAsk)).hintFor(priceBase), nil
}

// Escrowed sums what the resident orders of a book have committed: token0
// for asks and token1 for bids. The vault must always hold at least this.
func (e *Engine) Escrowed(bookID uint64) (amount0, amount1 *uint256.Int, err error) {
	book, err := e.book(bookID)
	if err != nil {
		return nil, nil, err
	}
	amount0, amount1 = new(uint256.Int), new(uint256.Int)
	sum := func(rec *record) bool {
		_, amount, cerr := book.commitment(rec.Side, rec.Size, rec.Price)
		if cerr != nil {
			err = cerr
			return false
		}
		if rec.Side == Ask {
			amount0.Add(amount0, amount)
		} else {
			amount1.Add(amount1, amount)
		}
		return true
	}
	book.asks.iterate(sum)
	if err == nil {
		book.bids.iterate(sum)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Depth returns the number of resident asks and bids of a book.
func (e *Engine) Depth(bookID uint64) (asks, bids int, err error) {
	book, err := e.book(bookID)
	if err != nil {
		return 0, 0, err
	}
	return book.asks.len(), book.bids.len(), nil
}
