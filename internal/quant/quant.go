// Package quant converts the small integers callers submit (base units)
// into raw token amounts using a book's power-of-ten tick multipliers.
package quant

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// MaxLogTick is the largest tick exponent whose multiplier fits in 128 bits.
const MaxLogTick = 38

// maxBits bounds every amount produced here.
const maxBits = 128

var (
	ErrOverflow     = errors.New("amount overflows 128 bits")
	ErrTickTooLarge = errors.New("tick exponent too large")
)

// Ticks holds the size and price multipliers of a book.
type Ticks struct {
	LogSize  uint8
	LogPrice uint8

	sizeTick  *uint256.Int
	priceTick *uint256.Int
}

func New(logSize, logPrice uint8) (Ticks, error) {
	if logSize > MaxLogTick {
		return Ticks{}, fmt.Errorf("size tick 10^%d: %w", logSize, ErrTickTooLarge)
	}
	if logPrice > MaxLogTick {
		return Ticks{}, fmt.Errorf("price tick 10^%d: %w", logPrice, ErrTickTooLarge)
	}
	return Ticks{
		LogSize:   logSize,
		LogPrice:  logPrice,
		sizeTick:  pow10(logSize),
		priceTick: pow10(logPrice),
	}, nil
}

func pow10(exp uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(exp)))
}

// SizeTick returns 10^LogSize.
func (t Ticks) SizeTick() *uint256.Int { return t.sizeTick.Clone() }

// PriceTick returns 10^LogPrice.
func (t Ticks) PriceTick() *uint256.Int { return t.priceTick.Clone() }

// Amount0 is the token0 amount of sizeBase size ticks.
func (t Ticks) Amount0(sizeBase uint64) (*uint256.Int, error) {
	return mul(uint256.NewInt(sizeBase), t.sizeTick)
}

// Price is the raw token1 price of one size tick.
func (t Ticks) Price(priceBase uint64) (*uint256.Int, error) {
	return mul(uint256.NewInt(priceBase), t.priceTick)
}

// Amount1 is the token1 amount paid for sizeBase size ticks at priceBase.
func (t Ticks) Amount1(sizeBase, priceBase uint64) (*uint256.Int, error) {
	price, err := t.Price(priceBase)
	if err != nil {
		return nil, err
	}
	return mul(uint256.NewInt(sizeBase), price)
}

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow || z.BitLen() > maxBits {
		return nil, fmt.Errorf("%s * %s: %w", x.Dec(), y.Dec(), ErrOverflow)
	}
	return z, nil
}
