package common

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

type EventKind uint8

const (
	OrderBookCreated EventKind = iota + 1
	OrderCreated
	OrderFilled
	OrderCanceled
)

func (k EventKind) String() string {
	switch k {
	case OrderBookCreated:
		return "OrderBookCreated"
	case OrderCreated:
		return "OrderCreated"
	case OrderFilled:
		return "OrderFilled"
	case OrderCanceled:
		return "OrderCanceled"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is the notification emitted for every externally visible state
// change of a book. Observers can rebuild a book from the event stream:
// OrderCreated carries the full requested size, each OrderFilled
// decrements both the maker (OrderID) and the taker (TakerID), and
// OrderCanceled removes the remainder.
//
// A single flat type is used so the event feed and the outbox encoding
// only ever deal with one shape.
type Event struct {
	Kind     EventKind
	TxID     string // Id of the call that produced the event
	Sequence uint64 // Global sequence number of that call
	BookID   uint64
	OrderID  uint64
	Owner    ethcommon.Address
	Side     Side
	Size     uint64 // Size ticks
	Price    uint64 // Price ticks

	// Only set on OrderFilled.
	TakerID    uint64
	TakerOwner ethcommon.Address

	// Only set on OrderBookCreated.
	Token0       ethcommon.Address
	Token1       ethcommon.Address
	LogSizeTick  uint8
	LogPriceTick uint8
}

func (e Event) String() string {
	switch e.Kind {
	case OrderBookCreated:
		return fmt.Sprintf("%v book=%d token0=%s token1=%s logSizeTick=%d logPriceTick=%d",
			e.Kind, e.BookID, e.Token0.Hex(), e.Token1.Hex(), e.LogSizeTick, e.LogPriceTick)
	case OrderFilled:
		return fmt.Sprintf("%v book=%d maker=%d taker=%d side=%v size=%d price=%d",
			e.Kind, e.BookID, e.OrderID, e.TakerID, e.Side, e.Size, e.Price)
	}
	return fmt.Sprintf("%v book=%d order=%d owner=%s side=%v size=%d price=%d",
		e.Kind, e.BookID, e.OrderID, e.Owner.Hex(), e.Side, e.Size, e.Price)
}
