// Package token defines the token collaborator the exchange settles
// against, together with an in-memory journaled ledger of ERC-20 style
// tokens that can reproduce the non-standard behaviors seen on mainnet:
// transfer fees, blacklists, pauses and receive hooks.
package token

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrBlacklisted           = errors.New("blacklistable: account is blacklisted")
	ErrPaused                = errors.New("token is paused")
	ErrUnknownToken          = errors.New("unknown token")
	ErrOverflow              = errors.New("amount overflows 256 bits")
)

// Token is the transfer surface the exchange needs from a token contract.
// Transfer moves amount out of from, as if from had called transfer
// itself; TransferFrom spends spender's allowance over from's balance.
// Neither is guaranteed to move exactly amount.
type Token interface {
	Address() common.Address
	Symbol() string
	BalanceOf(account common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
}

// State is the journal shared by all tokens an exchange settles against.
// Changes made after Snapshot can be undone with RevertToSnapshot until
// Finalise is called.
type State interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Finalise()
}

// ReceiveHook is invoked after to has been credited. Returning an error
// reverts the transfer. Hooks run synchronously and may call back into
// whatever triggered the transfer.
type ReceiveHook func(tok *ERC20, from, to common.Address, amount *uint256.Int) error
