package common

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

type Side uint8

const (
	Ask Side = iota
	Bid
)

// SideOf maps the isAsk flag used by callers onto a Side.
func SideOf(isAsk bool) Side {
	if isAsk {
		return Ask
	}
	return Bid
}

func (s Side) IsAsk() bool { return s == Ask }

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == Ask {
		return Bid
	}
	return Ask
}

func (s Side) String() string {
	switch s {
	case Ask:
		return "ask"
	case Bid:
		return "bid"
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

// Order is a resting limit order. Size and Price are kept in tick units
// of the owning book; the token amounts they stand for are derived by the
// book's quantization.
type Order struct {
	ID     uint64            // Per-book order id, never reused
	BookID uint64            // Owning book
	Owner  ethcommon.Address // Who owns this order
	Side   Side              // Order side
	Size   uint64            // Remaining size, in size ticks
	Price  uint64            // Limit price, in price ticks
}

func (order Order) String() string {
	return fmt.Sprintf(
		`ID:     %d
BookID: %d
Owner:  %s
Side:   %v
Size:   %d
Price:  %d`,
		order.ID,
		order.BookID,
		order.Owner.Hex(),
		order.Side,
		order.Size,
		order.Price,
	)
}
