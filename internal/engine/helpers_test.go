package engine

import (
	"testing"

	. "limitbook/internal/common"
	"limitbook/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

var (
	deployer = common.HexToAddress("0xd0")
	exchange = common.HexToAddress("0xe0")
	acc1     = common.HexToAddress("0xa1")
	acc2     = common.HexToAddress("0xa2")
	acc3     = common.HexToAddress("0xa3")
)

const (
	funding   = 10_000_000_000_000
	sizeTick  = 100 // logSizeTick = 2
	priceTick = 10  // logPriceTick = 1
)

type fixture struct {
	ledger *token.Ledger
	eng    *Engine
	token0 *token.ERC20
	token1 *token.ERC20
	book   uint64
}

func amount(v uint64) *uint256.Int { return uint256.NewInt(v) }

func from(addr common.Address) CallOpts { return CallOpts{From: addr} }

// setupAndDeposit deploys two tokens, creates book 0 over them with
// ticks 10^2 and 10^1, and funds and approves acc1 and acc2.
func setupAndDeposit(t *testing.T) *fixture {
	t.Helper()
	ledger := token.NewLedger(deployer)
	fx := &fixture{
		ledger: ledger,
		eng:    New(Config{Address: exchange}, ledger),
		token0: ledger.Deploy("Test Token 0", "TEST 0", deployer),
		token1: ledger.Deploy("Test Token 1", "TEST 1", deployer),
	}
	book, err := fx.eng.CreateOrderBook(fx.token0, fx.token1, 2, 1)
	require.NoError(t, err)
	fx.book = book

	fx.fund(t, acc1, fx.token0, fx.token1)
	fx.fund(t, acc2, fx.token0, fx.token1)
	return fx
}

func (fx *fixture) fund(t *testing.T, acc common.Address, tokens ...*token.ERC20) {
	t.Helper()
	for _, tok := range tokens {
		require.NoError(t, tok.Mint(acc, amount(funding)))
		tok.Approve(acc, exchange, amount(funding))
	}
	fx.ledger.Finalise()
}

func (fx *fixture) orders(t *testing.T) Snapshot {
	t.Helper()
	snap, err := fx.eng.GetLimitOrders(fx.book)
	require.NoError(t, err)
	return snap
}

func (fx *fixture) ids(t *testing.T) []uint64 {
	t.Helper()
	ids := fx.orders(t).IDs
	if ids == nil {
		return []uint64{}
	}
	return ids
}

// create places an order with the hint the engine computes for it, the
// way a well behaved client would.
func (fx *fixture) create(t *testing.T, acc common.Address, size, price uint64, isAsk bool) uint64 {
	t.Helper()
	hint, err := fx.eng.ComputeInsertionHint(fx.book, size, price, isAsk)
	require.NoError(t, err)
	id, err := fx.eng.CreateLimitOrder(from(acc), fx.book, size, price, isAsk, hint)
	require.NoError(t, err)
	return id
}

// assertSorted checks the ask side is ascending and the bid side
// descending by price.
func assertSorted(t *testing.T, snap Snapshot) {
	t.Helper()
	for i := 1; i < snap.Len(); i++ {
		if snap.Sides[i] != snap.Sides[i-1] {
			assert.Equal(t, Ask, snap.Sides[i-1], "asks must come before bids")
			continue
		}
		if snap.Sides[i] == Ask {
			assert.LessOrEqual(t, snap.Prices[i-1], snap.Prices[i], "asks should be sorted Low -> High")
		} else {
			assert.GreaterOrEqual(t, snap.Prices[i-1], snap.Prices[i], "bids should be sorted High -> Low")
		}
	}
}

// assertCollateralized checks that the vault holds at least what the
// resident orders have committed.
func assertCollateralized(t *testing.T, fx *fixture) {
	t.Helper()
	info, err := fx.eng.Book(fx.book)
	require.NoError(t, err)
	want0, want1, err := fx.eng.Escrowed(fx.book)
	require.NoError(t, err)
	assert.False(t, fx.token0.BalanceOf(info.Vault).Lt(want0), "token0 escrow under-collateralized")
	assert.False(t, fx.token1.BalanceOf(info.Vault).Lt(want1), "token1 escrow under-collateralized")
}
