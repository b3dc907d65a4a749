package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"confidlend/internal/fhe"
	"confidlend/internal/ledger"
	"confidlend/internal/oracle"
)

type fixture struct {
	eng    *fhe.Engine
	owner  ledger.Address
	alice  ledger.Address
	sink   ledger.Address
	tokenA *ledger.Token
	feedA  *oracle.StaticFeed
	feedB  *oracle.StaticFeed
	pool   *Pool
}

// newFixture wires a pool valuing debt in a $2 reference asset, with one
// supported collateral asset priced at $1 and 1000 units minted to alice.
func newFixture(t *testing.T, decA, decB uint8, priceA, priceB int64) *fixture {
	t.Helper()
	eng := fhe.NewMockEngine()
	f := &fixture{
		eng:   eng,
		owner: ledger.DeriveAddress("pool-owner"),
		alice: ledger.DeriveAddress("alice"),
		sink:  ledger.DeriveAddress("sink-tokenA"),
		feedA: oracle.NewStaticFeed(decA, priceA),
		feedB: oracle.NewStaticFeed(decB, priceB),
	}
	ownerA := ledger.DeriveAddress("tokenA-owner")
	f.tokenA = ledger.New(eng, ledger.DeriveAddress("tokenA"), ownerA, "TokenA", "TA")
	require.NoError(t, f.tokenA.Mint(ownerA, f.alice, 1000))

	f.pool = New(eng, ledger.DeriveAddress("pool"), f.owner, ledger.DeriveAddress("tokenB"), f.feedB, "PoolDebt", "pDEBT")
	require.NoError(t, f.pool.AddSupportedToken(f.owner, f.tokenA, f.feedA, f.sink))
	return f
}

func (f *fixture) decrypt(t *testing.T, ct fhe.Ciphertext) uint64 {
	t.Helper()
	v, err := f.eng.Decrypt(ct)
	require.NoError(t, err)
	return v
}

// input builds an encrypted amount bound to the pool for the given caller.
func (f *fixture) input(t *testing.T, caller ledger.Address, v uint64) (fhe.InputCiphertext, fhe.InputProof) {
	t.Helper()
	ct, proof, err := fhe.NewInput(f.eng.PublicKey(), string(f.pool.Addr()), string(caller)).Add64(v).Encrypt()
	require.NoError(t, err)
	return ct, proof
}

func TestAddSupportedTokenOwnerOnly(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8)

	other := ledger.New(f.eng, ledger.DeriveAddress("tokenC"), f.owner, "TokenC", "TC")
	err := f.pool.AddSupportedToken(f.alice, other, f.feedA, f.sink)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Nil(t, f.pool.TokenOracles(other.Addr()))
	require.Equal(t, ledger.Address(""), f.pool.TokenPools(other.Addr()))

	require.NoError(t, f.pool.AddSupportedToken(f.owner, other, f.feedA, f.sink))
	require.Equal(t, f.feedA, f.pool.TokenOracles(other.Addr()))
	require.Equal(t, f.sink, f.pool.TokenPools(other.Addr()))
}

func TestDepositUnsupportedAsset(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8)
	in, proof := f.input(t, f.alice, 100)
	err := f.pool.DepositToken(f.alice, ledger.DeriveAddress("tokenX"), in, proof)
	require.ErrorIs(t, err, ErrUnsupportedAsset)
}

func TestDepositRejectsForeignBinding(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8)
	// Input bound to another contract must not be spendable at the pool.
	ct, proof, err := fhe.NewInput(f.eng.PublicKey(), "0xsomewhere", string(f.alice)).Add64(100).Encrypt()
	require.NoError(t, err)
	err = f.pool.DepositToken(f.alice, f.tokenA.Addr(), ct, proof)
	require.ErrorIs(t, err, fhe.ErrInvalidInput)
}

func TestDepositConvertsThroughOracles(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8) // collateral $1, reference $2

	f.tokenA.Approve(f.alice, f.pool.Addr(), f.eng.Encrypt64(100))
	in, proof := f.input(t, f.alice, 100)
	require.NoError(t, f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof))

	require.Equal(t, uint64(50), f.decrypt(t, f.pool.BalanceOf(f.alice)))
	require.Equal(t, uint64(50), f.decrypt(t, f.pool.TotalSupply()))
	require.Equal(t, uint64(900), f.decrypt(t, f.tokenA.BalanceOf(f.alice)))
	require.Equal(t, uint64(100), f.decrypt(t, f.tokenA.BalanceOf(f.sink)))
}

func TestDepositNormalizesFeedDecimals(t *testing.T) {
	// Same $1 vs $2 prices expressed at different decimal exponents.
	f := newFixture(t, 8, 6, 1e8, 2e6)

	f.tokenA.Approve(f.alice, f.pool.Addr(), f.eng.Encrypt64(100))
	in, proof := f.input(t, f.alice, 100)
	require.NoError(t, f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof))

	require.Equal(t, uint64(50), f.decrypt(t, f.pool.BalanceOf(f.alice)))
}

func TestDepositWithoutApprovalMintsNothing(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8)

	in, proof := f.input(t, f.alice, 100)
	require.NoError(t, f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof))

	require.Equal(t, uint64(0), f.decrypt(t, f.pool.BalanceOf(f.alice)))
	require.Equal(t, uint64(1000), f.decrypt(t, f.tokenA.BalanceOf(f.alice)))
	require.Equal(t, uint64(0), f.decrypt(t, f.tokenA.BalanceOf(f.sink)))
}

func TestWithdrawReleasesCollateralAtInverseRatio(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8)

	f.tokenA.Approve(f.alice, f.pool.Addr(), f.eng.Encrypt64(100))
	in, proof := f.input(t, f.alice, 100)
	require.NoError(t, f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof))

	in, proof = f.input(t, f.alice, 50)
	require.NoError(t, f.pool.WithdrawToken(f.alice, f.tokenA.Addr(), in, proof))

	require.Equal(t, uint64(0), f.decrypt(t, f.pool.BalanceOf(f.alice)))
	require.Equal(t, uint64(0), f.decrypt(t, f.pool.TotalSupply()))
	require.Equal(t, uint64(1000), f.decrypt(t, f.tokenA.BalanceOf(f.alice)))
	require.Equal(t, uint64(0), f.decrypt(t, f.tokenA.BalanceOf(f.sink)))
}

func TestWithdrawOverDebtBalanceReleasesNothing(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8)

	f.tokenA.Approve(f.alice, f.pool.Addr(), f.eng.Encrypt64(100))
	in, proof := f.input(t, f.alice, 100)
	require.NoError(t, f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof))

	// Debt balance is 50; asking for 200 burns zero and releases zero.
	in, proof = f.input(t, f.alice, 200)
	require.NoError(t, f.pool.WithdrawToken(f.alice, f.tokenA.Addr(), in, proof))

	require.Equal(t, uint64(50), f.decrypt(t, f.pool.BalanceOf(f.alice)))
	require.Equal(t, uint64(900), f.decrypt(t, f.tokenA.BalanceOf(f.alice)))
	require.Equal(t, uint64(100), f.decrypt(t, f.tokenA.BalanceOf(f.sink)))
}

func TestPriceMoveChangesConversion(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8)

	f.tokenA.Approve(f.alice, f.pool.Addr(), f.eng.Encrypt64(1000))
	in, proof := f.input(t, f.alice, 100)
	require.NoError(t, f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof))
	require.Equal(t, uint64(50), f.decrypt(t, f.pool.BalanceOf(f.alice)))

	// Collateral price doubles to $2: parity with the reference asset.
	f.feedA.SetAnswer(2e8)
	in, proof = f.input(t, f.alice, 100)
	require.NoError(t, f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof))
	require.Equal(t, uint64(150), f.decrypt(t, f.pool.BalanceOf(f.alice)))
}

func TestDepositDeadFeedLeavesBalancesUntouched(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8)

	f.tokenA.Approve(f.alice, f.pool.Addr(), f.eng.Encrypt64(100))
	f.feedA.SetAnswer(0)

	in, proof := f.input(t, f.alice, 100)
	err := f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof)
	require.ErrorIs(t, err, oracle.ErrNoAnswer)

	// The aborted deposit must not have pulled collateral or minted debt.
	require.Equal(t, uint64(1000), f.decrypt(t, f.tokenA.BalanceOf(f.alice)))
	require.Equal(t, uint64(0), f.decrypt(t, f.tokenA.BalanceOf(f.sink)))
	require.Equal(t, uint64(0), f.decrypt(t, f.pool.BalanceOf(f.alice)))
	require.Equal(t, uint64(0), f.decrypt(t, f.pool.TotalSupply()))
}

func TestWithdrawDeadFeedLeavesDebtIntact(t *testing.T) {
	f := newFixture(t, 8, 8, 1e8, 2e8)

	f.tokenA.Approve(f.alice, f.pool.Addr(), f.eng.Encrypt64(100))
	in, proof := f.input(t, f.alice, 100)
	require.NoError(t, f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof))

	f.feedA.SetAnswer(0)
	in, proof = f.input(t, f.alice, 50)
	err := f.pool.WithdrawToken(f.alice, f.tokenA.Addr(), in, proof)
	require.ErrorIs(t, err, oracle.ErrNoAnswer)

	// The aborted withdraw must not have burned debt or released collateral.
	require.Equal(t, uint64(50), f.decrypt(t, f.pool.BalanceOf(f.alice)))
	require.Equal(t, uint64(50), f.decrypt(t, f.pool.TotalSupply()))
	require.Equal(t, uint64(900), f.decrypt(t, f.tokenA.BalanceOf(f.alice)))
	require.Equal(t, uint64(100), f.decrypt(t, f.tokenA.BalanceOf(f.sink)))

	// Once the feed recovers the same withdrawal succeeds in full.
	f.feedA.SetAnswer(1e8)
	in, proof = f.input(t, f.alice, 50)
	require.NoError(t, f.pool.WithdrawToken(f.alice, f.tokenA.Addr(), in, proof))
	require.Equal(t, uint64(1000), f.decrypt(t, f.tokenA.BalanceOf(f.alice)))
}

func TestConversionFloorsOnce(t *testing.T) {
	// $3 collateral against a $7 reference: 100 * 3 / 7 = 42 floored.
	f := newFixture(t, 8, 8, 3e8, 7e8)

	f.tokenA.Approve(f.alice, f.pool.Addr(), f.eng.Encrypt64(100))
	in, proof := f.input(t, f.alice, 100)
	require.NoError(t, f.pool.DepositToken(f.alice, f.tokenA.Addr(), in, proof))
	require.Equal(t, uint64(42), f.decrypt(t, f.pool.BalanceOf(f.alice)))
}
