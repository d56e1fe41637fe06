package engine

import (
	"fmt"

	. "limitbook/internal/common"
	"limitbook/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// commitment is the token and amount a resident order of side keeps in
// escrow: asks lock token0, bids lock token1 at their own price.
func (b *OrderBook) commitment(side Side, size, price uint64) (token.Token, *uint256.Int, error) {
	if side == Ask {
		amount, err := b.Ticks.Amount0(size)
		return b.Token0, amount, err
	}
	amount, err := b.Ticks.Amount1(size, price)
	return b.Token1, amount, err
}

func (b *OrderBook) escrow(owner common.Address, side Side, size, price uint64) error {
	tok, amount, err := b.commitment(side, size, price)
	if err != nil {
		return err
	}
	return b.deposit(tok, owner, amount)
}

func (b *OrderBook) refund(owner common.Address, side Side, size, price uint64) error {
	tok, amount, err := b.commitment(side, size, price)
	if err != nil {
		return err
	}
	return b.withdraw(tok, owner, amount)
}

// settleFill moves the tokens of one fill at the maker's price. The
// taker's payment goes through the vault to the maker, then the maker's
// escrow is released to the taker.
func (b *OrderBook) settleFill(taker, maker common.Address, takerSide Side, fill, price uint64) error {
	amount0, err := b.Ticks.Amount0(fill)
	if err != nil {
		return err
	}
	amount1, err := b.Ticks.Amount1(fill, price)
	if err != nil {
		return err
	}

	pay, payAmount, release, releaseAmount := b.Token1, amount1, b.Token0, amount0
	if takerSide == Ask {
		pay, payAmount, release, releaseAmount = b.Token0, amount0, b.Token1, amount1
	}

	if err := b.deposit(pay, taker, payAmount); err != nil {
		return err
	}
	if err := b.withdraw(pay, maker, payAmount); err != nil {
		return err
	}
	return b.withdraw(release, taker, releaseAmount)
}

// deposit pulls amount of tok from owner into the vault and checks that
// the vault received exactly amount.
func (b *OrderBook) deposit(tok token.Token, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	before := tok.BalanceOf(b.Vault)
	if err := tok.TransferFrom(b.spender, from, b.Vault, amount); err != nil {
		return fmt.Errorf("deposit %s %s from %s: %w", amount.Dec(), tok.Symbol(), from.Hex(), err)
	}
	after := tok.BalanceOf(b.Vault)
	if after.Lt(before) || !new(uint256.Int).Sub(after, before).Eq(amount) {
		return fmt.Errorf("deposit %s %s: vault %s -> %s: %w",
			amount.Dec(), tok.Symbol(), before.Dec(), after.Dec(), ErrBalanceMismatch)
	}
	return nil
}

// withdraw pays amount of tok from the vault to to and checks that the
// vault released exactly amount.
func (b *OrderBook) withdraw(tok token.Token, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	before := tok.BalanceOf(b.Vault)
	if err := tok.Transfer(b.Vault, to, amount); err != nil {
		return fmt.Errorf("withdraw %s %s to %s: %w", amount.Dec(), tok.Symbol(), to.Hex(), err)
	}
	after := tok.BalanceOf(b.Vault)
	if after.Gt(before) || !new(uint256.Int).Sub(before, after).Eq(amount) {
		return fmt.Errorf("withdraw %s %s: vault %s -> %s: %w",
			amount.Dec(), tok.Symbol(), before.Dec(), after.Dec(), ErrBalanceMismatch)
	}
	return nil
}
