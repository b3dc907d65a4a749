// pool.go - Collateral vault and confidential debt token.
//
// The Pool accepts supported collateral assets, values them against a
// reference asset through price feeds, and issues its own confidential debt
// token for the converted amount. The Pool is itself a confidential token
// ledger (the debt token); deposits mint it, withdrawals burn it and release
// collateral at the inverse price ratio.
//
// Prices with differing decimal exponents are normalized onto a common
// exponent before the ratio is taken, and the division floors. The floor is
// applied once, on the full product, in both conversion directions, so
// truncation dust accrues to the Pool and never to the depositor.

package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"confidlend/internal/fhe"
	"confidlend/internal/ledger"
	"confidlend/internal/oracle"
)

var (
	// ErrUnauthorized is returned when a privileged operation is invoked by a
	// non-owner.
	ErrUnauthorized = errors.New("pool: unauthorized")

	// ErrUnsupportedAsset is returned for operations referencing a collateral
	// asset that was never registered.
	ErrUnsupportedAsset = errors.New("pool: unsupported asset")
)

// SupportedToken is the registration record for one collateral asset: its
// ledger, its price feed, and the sink account that custodies deposited
// collateral.
type SupportedToken struct {
	Token  *ledger.Token
	Oracle oracle.PriceFeed
	Sink   ledger.Address
}

// Pool converts collateral into confidential debt. It embeds its own debt
// token ledger, so balanceOf/allowance/approve/transferFrom on the debt
// asset are served directly by the Pool.
type Pool struct {
	*ledger.Token

	mu        sync.Mutex
	eng       *fhe.Engine
	owner     ledger.Address
	tokenB    ledger.Address
	dataFeedB oracle.PriceFeed
	supported map[ledger.Address]SupportedToken
}

// New creates a Pool owned by owner, valuing debt against the reference
// asset tokenB priced by dataFeedB. The debt token ledger is created with
// the Pool itself as minting authority.
func New(eng *fhe.Engine, addr, owner, tokenB ledger.Address, dataFeedB oracle.PriceFeed, name, symbol string) *Pool {
	return &Pool{
		Token:     ledger.New(eng, addr, addr, name, symbol),
		eng:       eng,
		owner:     owner,
		tokenB:    tokenB,
		dataFeedB: dataFeedB,
		supported: make(map[ledger.Address]SupportedToken),
	}
}

// Owner returns the address allowed to register collateral assets.
func (p *Pool) Owner() ledger.Address { return p.owner }

// TokenB returns the reference asset the debt token is valued in.
func (p *Pool) TokenB() ledger.Address { return p.tokenB }

// DataFeedB returns the reference asset price feed.
func (p *Pool) DataFeedB() oracle.PriceFeed { return p.dataFeedB }

// TokenOracles returns the price feed registered for a collateral asset, or
// nil when the asset is unsupported.
func (p *Pool) TokenOracles(token ledger.Address) oracle.PriceFeed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supported[token].Oracle
}

// TokenPools returns the sink account registered for a collateral asset, or
// the empty address when the asset is unsupported.
func (p *Pool) TokenPools(token ledger.Address) ledger.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.supported[token].Sink
}

// AddSupportedToken registers a collateral asset with its price feed and
// sink account. Owner-only; registering the same asset again overwrites the
// previous record.
func (p *Pool) AddSupportedToken(caller ledger.Address, token *ledger.Token, feed oracle.PriceFeed, sink ledger.Address) error {
	if caller != p.owner {
		return ErrUnauthorized
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supported[token.Addr()] = SupportedToken{Token: token, Oracle: feed, Sink: sink}
	return nil
}

// DepositToken pulls collateral from the caller into the asset's sink and
// mints debt for the oracle-converted value. The caller must have approved
// the Pool on the collateral ledger; an uncovered approval or balance moves
// zero collateral and therefore mints zero debt.
func (p *Pool) DepositToken(caller, token ledger.Address, in fhe.InputCiphertext, proof fhe.InputProof) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.supported[token]
	if !ok {
		return ErrUnsupportedAsset
	}
	amount, err := p.eng.VerifyInput(in, proof, string(p.Addr()), string(caller))
	if err != nil {
		return err
	}

	// Both feeds must answer before any balance moves, so a dead oracle
	// aborts with no collateral pulled.
	num, den, err := p.ratio(entry.Oracle, p.dataFeedB)
	if err != nil {
		return err
	}

	moved := entry.Token.TransferFrom(p.Addr(), caller, entry.Sink, amount)
	debt := p.eng.MulDiv(moved, num, den)
	return p.Token.MintEncrypted(p.Addr(), caller, debt)
}

// WithdrawToken burns debt from the caller and releases the equivalent
// collateral, valued at the inverse price ratio, from the asset's sink. A
// debt balance short of the requested amount burns zero and releases zero.
func (p *Pool) WithdrawToken(caller, token ledger.Address, in fhe.InputCiphertext, proof fhe.InputProof) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.supported[token]
	if !ok {
		return ErrUnsupportedAsset
	}
	amount, err := p.eng.VerifyInput(in, proof, string(p.Addr()), string(caller))
	if err != nil {
		return err
	}

	// Inverse ratio: reference price over collateral price. Queried before
	// the burn, so a dead oracle aborts with the caller's debt intact.
	num, den, err := p.ratio(p.dataFeedB, entry.Oracle)
	if err != nil {
		return err
	}

	burned, err := p.Token.Burn(p.Addr(), caller, amount)
	if err != nil {
		return err
	}
	collateral := p.eng.MulDiv(burned, num, den)
	entry.Token.Transfer(entry.Sink, caller, collateral)
	return nil
}

// ratio queries both feeds and returns the conversion fraction num/den with
// both prices normalized onto a common decimal exponent.
func (p *Pool) ratio(from, to oracle.PriceFeed) (num, den *big.Int, err error) {
	priceFrom, decFrom, err := from.LatestPrice()
	if err != nil {
		return nil, nil, fmt.Errorf("pool: collateral price query failed: %w", err)
	}
	priceTo, decTo, err := to.LatestPrice()
	if err != nil {
		return nil, nil, fmt.Errorf("pool: reference price query failed: %w", err)
	}
	// value ratio = (priceFrom/10^decFrom) / (priceTo/10^decTo)
	num = new(big.Int).Mul(priceFrom, pow10(decTo))
	den = new(big.Int).Mul(priceTo, pow10(decFrom))
	return num, den, nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
