// batcher.go - Batch aggregation for debt-token swaps.
//
// The Batcher escrows per-depositor debt-token contributions until a fixed
// number of distinct depositors have contributed, then settles the whole
// batch through a single LP swap and forwards each depositor their own
// contribution in the liquidity asset (the swap is uniform 1:1, so no
// proportional division is needed). Settlement happens synchronously inside
// the deposit call that fills the batch.

package batcher

import (
	"errors"
	"sync"

	"confidlend/internal/fhe"
	"confidlend/internal/ledger"
	"confidlend/internal/lp"
	"confidlend/internal/pool"
)

// ErrBatchSize is returned when a Batcher is constructed with a batch size
// below one.
var ErrBatchSize = errors.New("batcher: batch size must be at least 1")

// contribution is one depositor's escrowed amount within the open batch.
// A depositor contributing twice before settlement accumulates into one
// entry and counts once toward the batch size.
type contribution struct {
	depositor ledger.Address
	amount    fhe.Ciphertext
}

// Batcher accumulates debt-token contributions and settles them through one
// LP in a single swap.
type Batcher struct {
	mu sync.Mutex

	eng       *fhe.Engine
	addr      ledger.Address
	batchSize int
	debt      *pool.Pool
	liquidity *ledger.Token
	lp        *lp.LP

	entries []contribution
	index   map[ledger.Address]int
}

// New creates a Batcher settling through the given LP once batchSize
// distinct depositors have contributed.
func New(eng *fhe.Engine, addr ledger.Address, batchSize int, debt *pool.Pool, liquidity *ledger.Token, vault *lp.LP) (*Batcher, error) {
	if batchSize < 1 {
		return nil, ErrBatchSize
	}
	return &Batcher{
		eng:       eng,
		addr:      addr,
		batchSize: batchSize,
		debt:      debt,
		liquidity: liquidity,
		lp:        vault,
		index:     make(map[ledger.Address]int),
	}, nil
}

// Addr returns the Batcher's address (the proof-binding target for
// deposits).
func (b *Batcher) Addr() ledger.Address { return b.addr }

// BatchSize returns the configured settlement threshold.
func (b *Batcher) BatchSize() int { return b.batchSize }

// PendingDepositors returns the number of distinct depositors in the open
// batch.
func (b *Batcher) PendingDepositors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Deposit escrows the caller's debt tokens into the open batch. The caller
// must have approved the Batcher on the debt ledger; an uncovered approval
// escrows zero but still occupies the caller's slot. When the batch reaches
// its size, it settles synchronously before the call returns.
func (b *Batcher) Deposit(caller ledger.Address, in fhe.InputCiphertext, proof fhe.InputProof) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	amount, err := b.eng.VerifyInput(in, proof, string(b.addr), string(caller))
	if err != nil {
		return err
	}

	moved := b.debt.TransferFrom(b.addr, caller, b.addr, amount)

	if i, ok := b.index[caller]; ok {
		b.entries[i].amount = b.eng.Add(b.entries[i].amount, moved)
	} else {
		b.index[caller] = len(b.entries)
		b.entries = append(b.entries, contribution{depositor: caller, amount: moved})
	}

	if len(b.entries) < b.batchSize {
		return nil
	}
	return b.settle()
}

// settle swaps the whole batch through the LP and forwards each depositor
// their contribution in the liquidity asset. Caller holds b.mu. The batch is
// cleared whether or not the swap paid out; escrowed amounts are either
// forwarded or remain custodied by the Batcher, never duplicated.
func (b *Batcher) settle() error {
	total := b.eng.Zero()
	for _, e := range b.entries {
		total = b.eng.Add(total, e.amount)
	}

	b.debt.Approve(b.addr, b.lp.Addr(), total)
	if err := b.lp.Deposit(b.addr, total); err != nil {
		return err
	}

	for _, e := range b.entries {
		b.liquidity.Transfer(b.addr, e.depositor, e.amount)
	}

	b.entries = nil
	b.index = make(map[ledger.Address]int)
	return nil
}
