// lp.go - Liquidity vault with confidential shares and 1:1 debt redemption.
//
// The LP holds one liquidity asset and issues its own confidential share
// token against it. Shares are minted proportionally to the vault balance,
// and deposit() redeems debt tokens 1:1 out of the reserve without touching
// share supply. Per-share value tracks the vault's liquidity balance, so it
// rises whenever liquidity enters the vault without new shares being issued.

package lp

import (
	"errors"
	"sync"

	"confidlend/internal/fhe"
	"confidlend/internal/ledger"
	"confidlend/internal/pool"
)

// ErrNoShares is returned when liquidity is withdrawn from a vault with no
// shares outstanding. This is the one precondition surfaced as a hard
// failure rather than a silent zero transfer.
var ErrNoShares = errors.New("lp: no shares outstanding")

// LP is the liquidity vault. It embeds its own share token ledger, so
// balanceOf on LP shares is served directly by the LP.
type LP struct {
	*ledger.Token

	mu        sync.Mutex
	eng       *fhe.Engine
	liquidity *ledger.Token
	debt      *pool.Pool
}

// New creates a vault over the given liquidity asset, redeeming the given
// Pool's debt token. The share ledger is created with the LP itself as
// minting authority.
func New(eng *fhe.Engine, addr ledger.Address, liquidity *ledger.Token, debt *pool.Pool, name, symbol string) *LP {
	return &LP{
		Token:     ledger.New(eng, addr, addr, name, symbol),
		eng:       eng,
		liquidity: liquidity,
		debt:      debt,
	}
}

// LiquidityToken returns the address of the vault's liquidity asset.
func (l *LP) LiquidityToken() ledger.Address { return l.liquidity.Addr() }

// DebtToken returns the address of the debt token this vault redeems.
func (l *LP) DebtToken() ledger.Address { return l.debt.Addr() }

// AddLiquidity pulls amount of the liquidity asset from the caller and mints
// shares. The first provider (or any provider entering an emptied vault)
// receives shares equal to the deposit; later providers receive
// amount * totalShares / vaultBalance, floored. The caller must have
// approved the LP on the liquidity ledger; an uncovered approval moves zero
// and mints zero shares.
func (l *LP) AddLiquidity(caller ledger.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sharesBefore := l.Token.TotalSupply()
	vaultBefore := l.liquidity.BalanceOf(l.Addr())

	amt := l.eng.Encrypt64(amount)
	moved := l.liquidity.TransferFrom(l.Addr(), caller, l.Addr(), amt)

	bootstrap := l.eng.Or(l.eng.IsZero(sharesBefore), l.eng.IsZero(vaultBefore))
	proportional := l.eng.Div(l.eng.Mul(moved, sharesBefore), vaultBefore)
	shares := l.eng.Select(bootstrap, moved, proportional)

	return l.Token.MintEncrypted(l.Addr(), caller, shares)
}

// WithdrawLiquidity burns shares from the caller and pays out the
// proportional slice of the vault's liquidity balance. A share balance short
// of the request burns zero and pays zero. Withdrawing from a vault with no
// shares outstanding is a hard failure.
func (l *LP) WithdrawLiquidity(caller ledger.Address, shares uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	supplyBefore := l.Token.TotalSupply()
	empty, err := l.eng.RevealBool(l.eng.IsZero(supplyBefore))
	if err != nil {
		return err
	}
	if empty {
		return ErrNoShares
	}

	vault := l.liquidity.BalanceOf(l.Addr())
	sh := l.eng.Encrypt64(shares)
	burned, err := l.Token.Burn(l.Addr(), caller, sh)
	if err != nil {
		return err
	}
	payout := l.eng.Div(l.eng.Mul(burned, vault), supplyBefore)
	l.liquidity.Transfer(l.Addr(), caller, payout)
	return nil
}

// Deposit swaps the caller's debt tokens for the vault's liquidity asset at
// 1:1. The debt tokens are pulled via allowance, burned, and the same amount
// of liquidity is released to the caller; share supply is untouched. A swap
// the vault cannot cover, or an uncovered allowance, moves zero both ways.
func (l *LP) Deposit(caller ledger.Address, amount fhe.Ciphertext) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	vault := l.liquidity.BalanceOf(l.Addr())
	covered := l.eng.Le(amount, vault)
	eff := l.eng.Select(covered, amount, l.eng.Zero())

	moved := l.debt.TransferFrom(l.Addr(), caller, l.Addr(), eff)
	if _, err := l.debt.Burn(l.Addr(), l.Addr(), moved); err != nil {
		return err
	}
	l.liquidity.Transfer(l.Addr(), caller, moved)
	return nil
}

// DepositInput verifies an externally supplied swap amount bound to the LP
// and the caller, then performs a Deposit.
func (l *LP) DepositInput(caller ledger.Address, in fhe.InputCiphertext, proof fhe.InputProof) error {
	amount, err := l.eng.VerifyInput(in, proof, string(l.Addr()), string(caller))
	if err != nil {
		return err
	}
	return l.Deposit(caller, amount)
}
