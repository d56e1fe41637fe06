package sequencer

import (
	"context"
	"sync"
	"testing"

	"limitbook/internal/engine"
	"limitbook/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	deployer = common.HexToAddress("0xd0")
	exchange = common.HexToAddress("0xe0")
)

func newEngine(t *testing.T, traders ...common.Address) (*engine.Engine, uint64) {
	t.Helper()
	ledger := token.NewLedger(deployer)
	base := ledger.Deploy("Base", "BASE", deployer)
	quote := ledger.Deploy("Quote", "QUOTE", deployer)
	for _, acc := range traders {
		for _, tok := range []*token.ERC20{base, quote} {
			require.NoError(t, tok.Mint(acc, uint256.NewInt(1_000_000_000)))
			tok.Approve(acc, exchange, new(uint256.Int).SetAllOne())
		}
	}
	ledger.Finalise()

	eng := engine.New(engine.Config{Address: exchange}, ledger)
	book, err := eng.CreateOrderBook(base, quote, 0, 0)
	require.NoError(t, err)
	return eng, book
}

func TestSequencer_ConcurrentSubmissions(t *testing.T) {
	traders := []common.Address{
		common.HexToAddress("0xa1"),
		common.HexToAddress("0xa2"),
		common.HexToAddress("0xa3"),
		common.HexToAddress("0xa4"),
	}
	eng, book := newEngine(t, traders...)
	seq := New(eng, 0)
	seq.Start(context.Background())
	defer func() { require.NoError(t, seq.Stop()) }()

	const perTrader = 25
	var (
		mu  sync.Mutex
		ids []uint64
		wg  sync.WaitGroup
	)
	for i, acc := range traders {
		wg.Add(1)
		go func(acc common.Address, isAsk bool) {
			defer wg.Done()
			for n := 0; n < perTrader; n++ {
				// Asks above 50 and bids below it never cross.
				price := uint64(51 + n)
				if !isAsk {
					price = uint64(49 - n%40)
				}
				id, err := Call(context.Background(), seq, func(e *engine.Engine) (uint64, error) {
					return e.CreateLimitOrder(engine.CallOpts{From: acc}, book, 1, price, isAsk, 0)
				})
				assert.NoError(t, err)
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}(acc, i%2 == 0)
	}
	wg.Wait()

	assert.Len(t, ids, len(traders)*perTrader)
	seen := make(map[uint64]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "id %d allocated twice", id)
		seen[id] = true
	}

	// Reads go through the sequencer too.
	snap, err := Call(context.Background(), seq, func(e *engine.Engine) (engine.Snapshot, error) {
		return e.GetLimitOrders(book)
	})
	require.NoError(t, err)
	assert.Equal(t, len(ids), snap.Len())
	assert.Equal(t, uint64(len(ids)+1), seq.Applied())
}

func TestSequencer_ReturnsCallError(t *testing.T) {
	eng, _ := newEngine(t)
	seq := New(eng, 1)
	seq.Start(context.Background())
	defer seq.Stop()

	err := seq.Do(context.Background(), func(e *engine.Engine) error {
		_, err := e.CreateLimitOrder(engine.CallOpts{}, 7, 1, 1, true, 0)
		return err
	})
	assert.ErrorIs(t, err, engine.ErrUnknownBook)
}

func TestSequencer_Stop(t *testing.T) {
	eng, _ := newEngine(t)
	seq := New(eng, 1)
	seq.Start(context.Background())
	require.NoError(t, seq.Stop())

	err := seq.Do(context.Background(), func(*engine.Engine) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSequencer_ContextCanceled(t *testing.T) {
	eng, _ := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	seq := New(eng, 1)
	seq.Start(ctx)

	cancel()
	<-seq.t.Dead()
	err := seq.Do(context.Background(), func(*engine.Engine) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
	assert.NoError(t, seq.Stop())
}

func TestSequencer_SubmitCanceledWhileQueueFull(t *testing.T) {
	eng, _ := newEngine(t)
	seq := New(eng, 1)
	seq.queue <- request{fn: func(*engine.Engine) error { return nil }, done: make(chan error, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := seq.Do(ctx, func(*engine.Engine) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, seq.Applied())
}
