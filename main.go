// main.go - Full lending lifecycle walkthrough.
//
// Runs the whole protocol in-process on one engine:
//   - an operator deploys two token ledgers, the Pool, the LP vault and a
//     Batcher
//   - a liquidity provider seeds the vault
//   - N borrowers deposit collateral at the Pool and receive confidential
//     debt
//   - the borrowers swap part of their debt back through the Batcher, which
//     settles once the batch fills
//   - the provider exits with the vault's remaining liquidity
//
// Balances are decrypted at each phase boundary to show the effect; a real
// deployment would leave the handles opaque.
//
// Usage:
//   go run main.go

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"confidlend/internal/batcher"
	"confidlend/internal/fhe"
	"confidlend/internal/ledger"
	"confidlend/internal/lp"
	"confidlend/internal/oracle"
	"confidlend/internal/pool"
)

const numBorrowers = 4

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	eng := fhe.NewMockEngine()

	// Deployment: operator, ledgers, price feeds.
	operator := ledger.DeriveAddress("operator")
	collateral := ledger.New(eng, ledger.DeriveAddress("ledger/COL"), operator, "Collateral", "COL")
	liquidity := ledger.New(eng, ledger.DeriveAddress("ledger/LIQ"), operator, "Liquidity", "LIQ")

	collateralFeed := oracle.NewStaticFeed(8, 1e8) // $1
	referenceFeed := oracle.NewStaticFeed(8, 2e8)  // $2

	p := pool.New(eng, ledger.DeriveAddress("pool"), operator, ledger.DeriveAddress("ledger/REF"), referenceFeed, "Pool Debt", "pDEBT")
	must(p.AddSupportedToken(operator, collateral, collateralFeed, ledger.DeriveAddress("sink/COL")))

	vault := lp.New(eng, ledger.DeriveAddress("lp"), liquidity, p, "Vault Share", "vSHARE")
	b, err := batcher.New(eng, ledger.DeriveAddress("batcher"), numBorrowers, p, liquidity, vault)
	must(err)

	log.Info().Str("pool", string(p.Addr())).Str("lp", string(vault.Addr())).Str("batcher", string(b.Addr())).Msg("deployment ready")

	// Phase 1: the provider seeds the vault.
	provider := ledger.DeriveAddress("provider")
	must(liquidity.Mint(operator, provider, 1000))
	liquidity.Approve(provider, vault.Addr(), eng.Encrypt64(1000))
	must(vault.AddLiquidity(provider, 1000))
	log.Info().Uint64("shares", decrypt(eng, vault.BalanceOf(provider))).Msg("vault seeded")

	// Phase 2: borrowers deposit collateral and receive debt.
	borrowers := make([]ledger.Address, numBorrowers)
	for i := range borrowers {
		who := ledger.DeriveAddress(fmt.Sprintf("borrower%d", i+1))
		borrowers[i] = who
		amount := uint64(100 + 20*i)

		must(collateral.Mint(operator, who, 1000))
		collateral.Approve(who, p.Addr(), eng.Encrypt64(amount))
		in, proof, err := fhe.NewInput(eng.PublicKey(), string(p.Addr()), string(who)).Add64(amount).Encrypt()
		must(err)
		must(p.DepositToken(who, collateral.Addr(), in, proof))

		log.Info().
			Str("borrower", string(who)).
			Uint64("collateral", amount).
			Uint64("debt", decrypt(eng, p.BalanceOf(who))).
			Msg("collateral deposited")
	}

	// Phase 3: every borrower swaps a quarter of their position through
	// the batcher. The last deposit fills the batch and settles it.
	for i, who := range borrowers {
		swap := uint64(100+20*i) / 4
		p.Approve(who, b.Addr(), eng.Encrypt64(swap))
		in, proof, err := fhe.NewInput(eng.PublicKey(), string(b.Addr()), string(who)).Add64(swap).Encrypt()
		must(err)
		must(b.Deposit(who, in, proof))
		log.Info().Str("borrower", string(who)).Int("pending", b.PendingDepositors()).Msg("batch deposit")
	}
	for _, who := range borrowers {
		log.Info().
			Str("borrower", string(who)).
			Uint64("liquidity", decrypt(eng, liquidity.BalanceOf(who))).
			Uint64("debt", decrypt(eng, p.BalanceOf(who))).
			Msg("batch settled")
	}

	// Phase 4: borrowers redeem their remaining debt for collateral.
	for _, who := range borrowers {
		remaining := decrypt(eng, p.BalanceOf(who))
		in, proof, err := fhe.NewInput(eng.PublicKey(), string(p.Addr()), string(who)).Add64(remaining).Encrypt()
		must(err)
		must(p.WithdrawToken(who, collateral.Addr(), in, proof))
		log.Info().
			Str("borrower", string(who)).
			Uint64("collateral", decrypt(eng, collateral.BalanceOf(who))).
			Msg("debt redeemed")
	}

	// Phase 5: the provider exits with the remaining vault liquidity.
	shares := decrypt(eng, vault.BalanceOf(provider))
	must(vault.WithdrawLiquidity(provider, shares))
	log.Info().
		Uint64("payout", decrypt(eng, liquidity.BalanceOf(provider))).
		Uint64("vault_remainder", decrypt(eng, liquidity.BalanceOf(vault.Addr()))).
		Msg("provider exited")
}

func decrypt(eng *fhe.Engine, h fhe.Ciphertext) uint64 {
	v, err := eng.Decrypt(h)
	must(err)
	return v
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "scenario failed: %v\n", err)
		os.Exit(1)
	}
}
