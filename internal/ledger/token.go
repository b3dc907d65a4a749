// token.go - Confidential token ledger.
//
// A Token keeps encrypted balances and encrypted allowances for one asset.
// Transfers resolve insufficient balance or allowance fail-silently: the
// engine selects between the requested amount and zero without revealing
// which branch was taken, so a failed transfer moves zero value instead of
// aborting. Total supply changes only through mint and burn.
//
// Authorization inside the process boundary is the caller's responsibility:
// entry points take the acting address explicitly, and the surrounding API
// layer is expected to have authenticated it.

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"confidlend/internal/fhe"
)

// ErrUnauthorized is returned when a privileged ledger operation is invoked
// by an address other than the ledger owner.
var ErrUnauthorized = errors.New("ledger: unauthorized")

// Address identifies an account or a protocol component on a ledger.
type Address string

// DeriveAddress produces a stable address from a label. Used by deployments
// and tests to mint component and participant addresses.
func DeriveAddress(label string) Address {
	sum := sha256.Sum256([]byte(label))
	return Address("0x" + hex.EncodeToString(sum[:20]))
}

// Token is a confidential asset ledger: encrypted balances, encrypted
// allowances, and an encrypted total supply.
type Token struct {
	mu sync.Mutex

	eng    *fhe.Engine
	addr   Address
	owner  Address
	name   string
	symbol string

	totalSupply fhe.Ciphertext
	balances    map[Address]fhe.Ciphertext
	allowances  map[Address]map[Address]fhe.Ciphertext
}

// New creates an empty ledger for one asset. The owner is the only address
// allowed to mint; components that issue their own asset pass their own
// address as owner.
func New(eng *fhe.Engine, addr, owner Address, name, symbol string) *Token {
	return &Token{
		eng:         eng,
		addr:        addr,
		owner:       owner,
		name:        name,
		symbol:      symbol,
		totalSupply: eng.Zero(),
		balances:    make(map[Address]fhe.Ciphertext),
		allowances:  make(map[Address]map[Address]fhe.Ciphertext),
	}
}

// Addr returns the ledger's own address (the proof-binding target for
// externally supplied amounts).
func (t *Token) Addr() Address { return t.addr }

// Owner returns the minting authority.
func (t *Token) Owner() Address { return t.owner }

// Name returns the asset name.
func (t *Token) Name() string { return t.name }

// Symbol returns the asset symbol.
func (t *Token) Symbol() string { return t.symbol }

// Engine returns the confidential arithmetic engine backing this ledger.
func (t *Token) Engine() *fhe.Engine { return t.eng }

// balance returns the stored balance handle, materializing an encrypted zero
// for addresses never seen before. Caller holds t.mu.
func (t *Token) balance(addr Address) fhe.Ciphertext {
	b, ok := t.balances[addr]
	if !ok {
		b = t.eng.Zero()
		t.balances[addr] = b
	}
	return b
}

// allowance returns the stored allowance handle, materializing an encrypted
// zero when unset. Caller holds t.mu.
func (t *Token) allowance(owner, spender Address) fhe.Ciphertext {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[Address]fhe.Ciphertext)
		t.allowances[owner] = m
	}
	a, ok := m[spender]
	if !ok {
		a = t.eng.Zero()
		m[spender] = a
	}
	return a
}

// BalanceOf returns the encrypted balance of addr.
func (t *Token) BalanceOf(addr Address) fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance(addr)
}

// Allowance returns the encrypted allowance granted by owner to spender.
func (t *Token) Allowance(owner, spender Address) fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowance(owner, spender)
}

// TotalSupply returns the encrypted total supply.
func (t *Token) TotalSupply() fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSupply
}

// Mint credits a plaintext amount to an account. Owner-only.
func (t *Token) Mint(caller, to Address, amount uint64) error {
	if caller != t.owner {
		return ErrUnauthorized
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	amt := t.eng.Encrypt64(amount)
	t.balances[to] = t.eng.Add(t.balance(to), amt)
	t.totalSupply = t.eng.Add(t.totalSupply, amt)
	return nil
}

// MintEncrypted credits an internally derived encrypted amount to an account.
// Owner-only; used by the Pool and LP for debt and share issuance.
func (t *Token) MintEncrypted(caller, to Address, amount fhe.Ciphertext) error {
	if caller != t.owner {
		return ErrUnauthorized
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = t.eng.Add(t.balance(to), amount)
	t.totalSupply = t.eng.Add(t.totalSupply, amount)
	return nil
}

// Burn destroys up to amount from an account, fail-silently burning zero when
// the balance does not cover it. Permitted to the ledger owner and to any
// account burning its own balance. Returns the encrypted amount actually
// burned.
func (t *Token) Burn(caller, from Address, amount fhe.Ciphertext) (fhe.Ciphertext, error) {
	if caller != t.owner && caller != from {
		return fhe.Ciphertext{}, ErrUnauthorized
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balance(from)
	can := t.eng.Le(amount, bal)
	burned := t.eng.Select(can, amount, t.eng.Zero())
	t.balances[from] = t.eng.Sub(bal, burned)
	t.totalSupply = t.eng.Sub(t.totalSupply, burned)
	return burned, nil
}

// Approve overwrites the allowance granted by owner to spender. The previous
// allowance is discarded, not merged.
func (t *Token) Approve(owner, spender Address, amount fhe.Ciphertext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[Address]fhe.Ciphertext)
		t.allowances[owner] = m
	}
	m[spender] = amount
}

// ApproveInput verifies an externally supplied amount bound to this ledger
// and the acting owner, then overwrites the allowance.
func (t *Token) ApproveInput(owner, spender Address, in fhe.InputCiphertext, proof fhe.InputProof) error {
	amount, err := t.eng.VerifyInput(in, proof, string(t.addr), string(owner))
	if err != nil {
		return err
	}
	t.Approve(owner, spender, amount)
	return nil
}

// Transfer moves up to amount from one account to another, fail-silently
// moving zero when the balance does not cover it. Returns the encrypted
// amount actually moved.
func (t *Token) Transfer(from, to Address, amount fhe.Ciphertext) fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balance(from)
	can := t.eng.Le(amount, bal)
	moved := t.eng.Select(can, amount, t.eng.Zero())
	t.balances[from] = t.eng.Sub(bal, moved)
	t.balances[to] = t.eng.Add(t.balance(to), moved)
	return moved
}

// TransferInput verifies an externally supplied amount bound to this ledger
// and the sender, then performs a Transfer.
func (t *Token) TransferInput(from, to Address, in fhe.InputCiphertext, proof fhe.InputProof) (fhe.Ciphertext, error) {
	amount, err := t.eng.VerifyInput(in, proof, string(t.addr), string(from))
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	return t.Transfer(from, to, amount), nil
}

// TransferFrom moves up to amount from owner to recipient on behalf of
// spender, consuming allowance. Insufficient allowance or balance moves zero
// and consumes zero; neither outcome is distinguishable to an observer.
// Returns the encrypted amount actually moved.
func (t *Token) TransferFrom(spender, owner, to Address, amount fhe.Ciphertext) fhe.Ciphertext {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.eng.Le(amount, t.allowance(owner, spender))
	funded := t.eng.Le(amount, t.balance(owner))
	ok := t.eng.And(allowed, funded)
	moved := t.eng.Select(ok, amount, t.eng.Zero())

	t.allowances[owner][spender] = t.eng.Sub(t.allowance(owner, spender), moved)
	t.balances[owner] = t.eng.Sub(t.balance(owner), moved)
	t.balances[to] = t.eng.Add(t.balance(to), moved)
	return moved
}
