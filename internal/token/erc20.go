package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// feeDenominator expresses transfer fees in basis points.
const feeDenominator = 10_000

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// ERC20 is an in-memory token living in a Ledger. Balance and allowance
// changes are journaled on the ledger; administrative switches (fees,
// blacklist, pause, hooks) are not.
type ERC20 struct {
	ledger  *Ledger
	address common.Address
	name    string
	symbol  string
	owner   common.Address

	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[allowanceKey]*uint256.Int

	feeBasisPoints uint64
	maxFee         *uint256.Int
	blacklisted    map[common.Address]bool
	paused         bool
	hooks          map[common.Address]ReceiveHook
}

var _ Token = (*ERC20)(nil)

func (t *ERC20) Address() common.Address { return t.address }
func (t *ERC20) Name() string            { return t.name }
func (t *ERC20) Symbol() string          { return t.symbol }
func (t *ERC20) Owner() common.Address   { return t.owner }

func (t *ERC20) TotalSupply() *uint256.Int {
	if t.totalSupply == nil {
		return new(uint256.Int)
	}
	return t.totalSupply.Clone()
}

func (t *ERC20) BalanceOf(account common.Address) *uint256.Int {
	if bal, ok := t.balances[account]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

func (t *ERC20) Allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Mint credits amount to account. Nothing changes if the total supply
// would overflow.
func (t *ERC20) Mint(to common.Address, amount *uint256.Int) error {
	supply, overflow := new(uint256.Int).AddOverflow(t.TotalSupply(), amount)
	if overflow {
		return fmt.Errorf("%s: mint %s: %w", t.symbol, amount.Dec(), ErrOverflow)
	}
	balance, overflow := new(uint256.Int).AddOverflow(t.BalanceOf(to), amount)
	if overflow {
		return fmt.Errorf("%s: mint %s: %w", t.symbol, amount.Dec(), ErrOverflow)
	}
	t.setBalance(to, balance)
	prev := t.totalSupply
	t.ledger.record(func() { t.totalSupply = prev })
	t.totalSupply = supply
	return nil
}

// Approve sets spender's allowance over owner's balance. An allowance of
// all ones is never decremented.
func (t *ERC20) Approve(owner, spender common.Address, amount *uint256.Int) {
	key := allowanceKey{owner, spender}
	prev, ok := t.allowances[key]
	t.ledger.record(func() {
		if ok {
			t.allowances[key] = prev
		} else {
			delete(t.allowances, key)
		}
	})
	t.allowances[key] = amount.Clone()
}

// SetFee charges basisPoints of every transfer, capped at maxFee, and
// credits it to the token owner. A nil maxFee means uncapped. Fees above
// 100% are clamped.
func (t *ERC20) SetFee(basisPoints uint64, maxFee *uint256.Int) {
	t.feeBasisPoints = min(basisPoints, feeDenominator)
	t.maxFee = maxFee
}

func (t *ERC20) Blacklist(account common.Address)   { t.blacklisted[account] = true }
func (t *ERC20) UnBlacklist(account common.Address) { delete(t.blacklisted, account) }
func (t *ERC20) Pause()                             { t.paused = true }
func (t *ERC20) Unpause()                           { t.paused = false }

// SetReceiveHook registers hook for transfers credited to account. A nil
// hook removes it.
func (t *ERC20) SetReceiveHook(account common.Address, hook ReceiveHook) {
	if hook == nil {
		delete(t.hooks, account)
		return
	}
	t.hooks[account] = hook
}

func (t *ERC20) Transfer(from, to common.Address, amount *uint256.Int) error {
	snap := t.ledger.Snapshot()
	if err := t.transfer(from, to, amount); err != nil {
		t.ledger.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (t *ERC20) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	snap := t.ledger.Snapshot()
	if err := t.spendAllowance(from, spender, amount); err != nil {
		return err
	}
	if err := t.transfer(from, to, amount); err != nil {
		t.ledger.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (t *ERC20) spendAllowance(owner, spender common.Address, amount *uint256.Int) error {
	allowance := t.Allowance(owner, spender)
	if allowance.Eq(new(uint256.Int).SetAllOne()) {
		return nil
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("%s: %s allowance %s < %s: %w",
			t.symbol, spender.Hex(), allowance.Dec(), amount.Dec(), ErrInsufficientAllowance)
	}
	t.Approve(owner, spender, new(uint256.Int).Sub(allowance, amount))
	return nil
}

func (t *ERC20) transfer(from, to common.Address, amount *uint256.Int) error {
	if t.paused {
		return fmt.Errorf("%s: %w", t.symbol, ErrPaused)
	}
	if t.blacklisted[from] || t.blacklisted[to] {
		return fmt.Errorf("%s: %w", t.symbol, ErrBlacklisted)
	}
	balance := t.BalanceOf(from)
	if balance.Lt(amount) {
		return fmt.Errorf("%s: %s balance %s < %s: %w",
			t.symbol, from.Hex(), balance.Dec(), amount.Dec(), ErrInsufficientBalance)
	}

	fee := t.fee(amount)
	received := new(uint256.Int).Sub(amount, fee)

	snap := t.ledger.Snapshot()
	t.setBalance(from, new(uint256.Int).Sub(balance, amount))
	if err := t.credit(to, received); err != nil {
		t.ledger.RevertToSnapshot(snap)
		return err
	}
	if !fee.IsZero() {
		if err := t.credit(t.owner, fee); err != nil {
			t.ledger.RevertToSnapshot(snap)
			return err
		}
	}

	if hook, ok := t.hooks[to]; ok {
		return hook(t, from, to, received)
	}
	return nil
}

func (t *ERC20) credit(account common.Address, amount *uint256.Int) error {
	balance, overflow := new(uint256.Int).AddOverflow(t.BalanceOf(account), amount)
	if overflow {
		return fmt.Errorf("%s: credit %s to %s: %w", t.symbol, amount.Dec(), account.Hex(), ErrOverflow)
	}
	t.setBalance(account, balance)
	return nil
}

// fee is amount*bps/10000 without intermediate overflow.
func (t *ERC20) fee(amount *uint256.Int) *uint256.Int {
	if t.feeBasisPoints == 0 {
		return new(uint256.Int)
	}
	fee, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(t.feeBasisPoints), uint256.NewInt(feeDenominator))
	if t.maxFee != nil && fee.Gt(t.maxFee) {
		fee.Set(t.maxFee)
	}
	return fee
}

func (t *ERC20) setBalance(account common.Address, v *uint256.Int) {
	prev, ok := t.balances[account]
	t.ledger.record(func() {
		if ok {
			t.balances[account] = prev
		} else {
			delete(t.balances, account)
		}
	})
	t.balances[account] = v
}
