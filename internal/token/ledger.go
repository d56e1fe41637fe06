package token

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/tidwall/btree"
)

// Ledger hosts a set of tokens behind a single undo journal.
type Ledger struct {
	deployer common.Address
	nonce    uint64
	tokens   *btree.BTreeG[*ERC20]
	journal  []func()
}

func NewLedger(deployer common.Address) *Ledger {
	return &Ledger{
		deployer: deployer,
		tokens: btree.NewBTreeG(func(a, b *ERC20) bool {
			return bytes.Compare(a.address[:], b.address[:]) < 0
		}),
	}
}

// Deploy creates a new token whose address is derived from the ledger's
// deployer and nonce, the same way contract addresses are.
func (l *Ledger) Deploy(name, symbol string, owner common.Address) *ERC20 {
	tok := &ERC20{
		ledger:      l,
		address:     crypto.CreateAddress(l.deployer, l.nonce),
		name:        name,
		symbol:      symbol,
		owner:       owner,
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[allowanceKey]*uint256.Int),
		blacklisted: make(map[common.Address]bool),
		hooks:       make(map[common.Address]ReceiveHook),
	}
	l.nonce++
	l.tokens.Set(tok)
	return tok
}

// Token looks a deployed token up by address.
func (l *Ledger) Token(addr common.Address) (*ERC20, bool) {
	return l.tokens.Get(&ERC20{address: addr})
}

// Tokens returns every deployed token ordered by address.
func (l *Ledger) Tokens() []*ERC20 {
	return l.tokens.Items()
}

func (l *Ledger) Snapshot() int {
	return len(l.journal)
}

func (l *Ledger) RevertToSnapshot(id int) {
	for i := len(l.journal) - 1; i >= id; i-- {
		l.journal[i]()
	}
	l.journal = l.journal[:id]
}

func (l *Ledger) Finalise() {
	l.journal = l.journal[:0]
}

func (l *Ledger) record(undo func()) {
	l.journal = append(l.journal, undo)
}
