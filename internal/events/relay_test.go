package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "limitbook/internal/common"
	"limitbook/internal/engine"
	"limitbook/internal/token"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

var errUnavailable = errors.New("broker unavailable")

type fakePublisher struct {
	mu       sync.Mutex
	got      []Entry
	failures int
}

func (p *fakePublisher) Publish(_ context.Context, entries []Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errUnavailable
	}
	p.got = append(p.got, entries...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) received() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Entry(nil), p.got...)
}

func TestRelay_Flush(t *testing.T) {
	o := openMem(t, vfs.NewMem())
	defer o.Close()
	pub := &fakePublisher{failures: 1}
	r := NewRelay(o, pub, nil)
	r.BatchSize = 2

	require.NoError(t, o.Append(created(2), created(3), created(4)))

	assert.ErrorIs(t, r.Flush(context.Background()), errUnavailable)
	assert.Equal(t, 3, o.Len())

	require.NoError(t, r.Flush(context.Background()))
	assert.Zero(t, o.Len())
	assert.Equal(t, []uint64{2, 3, 4}, orderIDs(pub.received()))
}

func TestRelay_RunForwardsEngineEvents(t *testing.T) {
	var (
		deployer = common.HexToAddress("0xd0")
		exchange = common.HexToAddress("0xe0")
		trader   = common.HexToAddress("0xa1")
	)
	ledger := token.NewLedger(deployer)
	base := ledger.Deploy("Base", "BASE", deployer)
	quote := ledger.Deploy("Quote", "QUOTE", deployer)
	for _, tok := range []*token.ERC20{base, quote} {
		require.NoError(t, tok.Mint(trader, uint256.NewInt(1000)))
		tok.Approve(trader, exchange, uint256.NewInt(1000))
	}
	ledger.Finalise()
	eng := engine.New(engine.Config{Address: exchange}, ledger)

	o := openMem(t, vfs.NewMem())
	defer o.Close()
	pub := &fakePublisher{failures: 2}
	r := NewRelay(o, pub, nil)
	r.FlushInterval = 5 * time.Millisecond

	var tb tomb.Tomb
	r.Start(&tb, eng)

	book, err := eng.CreateOrderBook(base, quote, 0, 0)
	require.NoError(t, err)
	ask, err := eng.CreateLimitOrder(engine.CallOpts{From: trader}, book, 5, 2, true, 0)
	require.NoError(t, err)
	_, err = eng.CreateLimitOrder(engine.CallOpts{From: trader}, book, 5, 2, false, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.received()) == 4 }, 2*time.Second, 5*time.Millisecond)
	tb.Kill(nil)
	require.NoError(t, tb.Wait())

	got := pub.received()
	kinds := []EventKind{got[0].Event.Kind, got[1].Event.Kind, got[2].Event.Kind, got[3].Event.Kind}
	assert.Equal(t, []EventKind{OrderBookCreated, OrderCreated, OrderCreated, OrderFilled}, kinds)
	assert.Equal(t, ask, got[3].Event.OrderID)
	for i, e := range got {
		assert.Equal(t, uint64(i), e.Position)
	}
	assert.Zero(t, o.Len())
}
