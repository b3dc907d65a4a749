package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"confidlend/internal/batcher"
	"confidlend/internal/fhe"
	"confidlend/internal/ledger"
	"confidlend/internal/lp"
	"confidlend/internal/oracle"
	"confidlend/internal/pool"
)

type deployment struct {
	eng     *fhe.Engine
	coll    *ledger.Token
	liq     *ledger.Token
	pool    *pool.Pool
	lp      *lp.LP
	batcher *batcher.Batcher
	server  *httptest.Server
	client  *Client
}

// newDeployment assembles a full deployment behind an httptest server, with
// collateral at parity with the reference asset and debug decryption on.
func newDeployment(t *testing.T) *deployment {
	t.Helper()
	eng := fhe.NewMockEngine()

	collOwner := ledger.DeriveAddress("coll-owner")
	coll := ledger.New(eng, ledger.DeriveAddress("collateral"), collOwner, "Collateral", "COL")
	liqOwner := ledger.DeriveAddress("liq-owner")
	liq := ledger.New(eng, ledger.DeriveAddress("liquidity"), liqOwner, "Liquidity", "LIQ")

	feed := oracle.NewStaticFeed(8, 2e8)
	poolOwner := ledger.DeriveAddress("pool-owner")
	p := pool.New(eng, ledger.DeriveAddress("pool"), poolOwner, ledger.DeriveAddress("tokenB"), feed, "PoolDebt", "pDEBT")
	require.NoError(t, p.AddSupportedToken(poolOwner, coll, feed, ledger.DeriveAddress("sink")))

	vault := lp.New(eng, ledger.DeriveAddress("lp"), liq, p, "VaultShare", "vSHARE")
	b, err := batcher.New(eng, ledger.DeriveAddress("batcher"), 2, p, liq, vault)
	require.NoError(t, err)

	srv := NewServer(ServerConfig{
		Engine:       eng,
		Tokens:       []*ledger.Token{coll, liq},
		Pool:         p,
		LP:           vault,
		Batcher:      b,
		Logger:       zerolog.Nop(),
		Registry:     prometheus.NewRegistry(),
		RateLimiter:  NewAccountRateLimiter(1000, 1000, time.Second),
		Health:       NewHealthChecker("test"),
		DebugDecrypt: true,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	d := &deployment{
		eng: eng, coll: coll, liq: liq, pool: p, lp: vault, batcher: b,
		server: ts, client: NewClient(ts.URL),
	}

	alice := ledger.DeriveAddress("alice")
	require.NoError(t, coll.Mint(collOwner, alice, 10_000))
	require.NoError(t, liq.Mint(liqOwner, alice, 1000))
	return d
}

// decryptBalance fetches and reveals a balance through the API.
func (d *deployment) decryptBalance(t *testing.T, ledgerAddr, account string) uint64 {
	t.Helper()
	h, err := d.client.BalanceHandle(ledgerAddr, account)
	require.NoError(t, err)
	v, err := d.client.DebugDecrypt(h)
	require.NoError(t, err)
	return v
}

func TestInputWireRoundTrip(t *testing.T) {
	eng := fhe.NewMockEngine()
	in, proof, err := fhe.NewInput(eng.PublicKey(), "contract", "submitter").Add64(42).Encrypt()
	require.NoError(t, err)

	decoded, decodedProof, err := DecodeInput(EncodeInput(in, proof))
	require.NoError(t, err)
	require.Equal(t, 0, in.C.Cmp(decoded.C))
	require.Equal(t, 0, in.Tag.Cmp(decoded.Tag))
	require.True(t, in.R.Equal(&decoded.R))
	require.Empty(t, decodedProof)

	ct, err := eng.VerifyInput(decoded, decodedProof, "contract", "submitter")
	require.NoError(t, err)
	v, err := eng.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)
}

func TestDecodeInputRejectsGarbage(t *testing.T) {
	_, _, err := DecodeInput(EncryptedInput{C: "not-a-number", R: "00", Tag: "1"})
	require.Error(t, err)
	_, _, err = DecodeInput(EncryptedInput{C: "1", R: "zz", Tag: "1"})
	require.Error(t, err)
	_, _, err = DecodeInput(EncryptedInput{C: "1", R: "00", Tag: "xyz"})
	require.Error(t, err)
}

func TestLendingFlowOverHTTP(t *testing.T) {
	d := newDeployment(t)
	alice := string(ledger.DeriveAddress("alice"))
	poolAddr := string(d.pool.Addr())
	collAddr := string(d.coll.Addr())
	liqAddr := string(d.liq.Addr())
	lpAddr := string(d.lp.Addr())

	// Collateral in, debt out at the oracle ratio of 1.
	require.NoError(t, d.client.Approve(collAddr, alice, poolAddr, 500))
	require.NoError(t, d.client.PoolDeposit(poolAddr, alice, collAddr, 500))
	require.Equal(t, uint64(500), d.decryptBalance(t, poolAddr, alice))
	require.Equal(t, uint64(9500), d.decryptBalance(t, collAddr, alice))

	// Provide vault liquidity.
	require.NoError(t, d.client.Approve(liqAddr, alice, lpAddr, 1000))
	require.NoError(t, d.client.AddLiquidity(alice, 1000))
	require.Equal(t, uint64(1000), d.decryptBalance(t, lpAddr, alice))

	// Swap part of the debt back into liquidity.
	require.NoError(t, d.client.Approve(poolAddr, alice, lpAddr, 200))
	require.NoError(t, d.client.LPDeposit(lpAddr, alice, 200))
	require.Equal(t, uint64(300), d.decryptBalance(t, poolAddr, alice))
	require.Equal(t, uint64(200), d.decryptBalance(t, liqAddr, alice))

	// Exit the vault and redeem the rest of the debt for collateral.
	require.NoError(t, d.client.WithdrawLiquidity(alice, 1000))
	require.NoError(t, d.client.PoolWithdraw(poolAddr, alice, collAddr, 300))
	require.Equal(t, uint64(0), d.decryptBalance(t, poolAddr, alice))
	require.Equal(t, uint64(9800), d.decryptBalance(t, collAddr, alice))
}

func TestBatcherFlowOverHTTP(t *testing.T) {
	d := newDeployment(t)
	alice := string(ledger.DeriveAddress("alice"))
	bob := string(ledger.DeriveAddress("bob"))
	poolAddr := string(d.pool.Addr())
	collAddr := string(d.coll.Addr())
	liqAddr := string(d.liq.Addr())
	batcherAddr := string(d.batcher.Addr())

	collOwner := ledger.DeriveAddress("coll-owner")
	require.NoError(t, d.coll.Mint(collOwner, ledger.Address(bob), 10_000))

	// Vault liquidity to settle against.
	require.NoError(t, d.client.Approve(liqAddr, alice, string(d.lp.Addr()), 1000))
	require.NoError(t, d.client.AddLiquidity(alice, 1000))

	for _, who := range []string{alice, bob} {
		require.NoError(t, d.client.Approve(collAddr, who, poolAddr, 100))
		require.NoError(t, d.client.PoolDeposit(poolAddr, who, collAddr, 100))
		require.NoError(t, d.client.Approve(poolAddr, who, batcherAddr, 100))
	}

	out, err := d.client.BatcherDeposit(batcherAddr, alice, 100)
	require.NoError(t, err)
	require.False(t, out.Settled)
	require.Equal(t, 1, out.Pending)

	out, err = d.client.BatcherDeposit(batcherAddr, bob, 100)
	require.NoError(t, err)
	require.True(t, out.Settled)
	require.Equal(t, 0, out.Pending)

	require.Equal(t, uint64(100), d.decryptBalance(t, liqAddr, bob))
}

func TestMintOverHTTP(t *testing.T) {
	d := newDeployment(t)
	collOwner := string(ledger.DeriveAddress("coll-owner"))
	carol := string(ledger.DeriveAddress("carol"))
	collAddr := string(d.coll.Addr())

	require.NoError(t, d.client.Mint(collAddr, collOwner, carol, 250))
	require.Equal(t, uint64(250), d.decryptBalance(t, collAddr, carol))

	// Non-owners cannot mint.
	err := d.client.Mint(collAddr, carol, carol, 1)
	require.ErrorContains(t, err, "refused")
}

func TestInputBindingRejectedOverHTTP(t *testing.T) {
	d := newDeployment(t)
	alice := string(ledger.DeriveAddress("alice"))
	collAddr := string(d.coll.Addr())

	// An amount encrypted for the collateral ledger must not be spendable
	// at the pool.
	amount, err := d.client.EncryptFor(collAddr, alice, 100)
	require.NoError(t, err)
	err = d.client.post("/v1/pool/deposit", PoolRequest{Caller: alice, Token: collAddr, Amount: amount}, nil)
	require.ErrorContains(t, err, "refused")
}

func TestUnknownLedgerOverHTTP(t *testing.T) {
	d := newDeployment(t)
	alice := string(ledger.DeriveAddress("alice"))
	err := d.client.Approve("0xdeadbeef", alice, alice, 1)
	require.ErrorContains(t, err, "refused")
}

func TestRateLimitOverHTTP(t *testing.T) {
	eng := fhe.NewMockEngine()
	liqOwner := ledger.DeriveAddress("liq-owner")
	liq := ledger.New(eng, ledger.DeriveAddress("liquidity"), liqOwner, "Liquidity", "LIQ")
	feed := oracle.NewStaticFeed(8, 1e8)
	poolOwner := ledger.DeriveAddress("pool-owner")
	p := pool.New(eng, ledger.DeriveAddress("pool"), poolOwner, ledger.DeriveAddress("tokenB"), feed, "PoolDebt", "pDEBT")
	vault := lp.New(eng, ledger.DeriveAddress("lp"), liq, p, "VaultShare", "vSHARE")

	srv := NewServer(ServerConfig{
		Engine:      eng,
		Tokens:      []*ledger.Token{liq},
		Pool:        p,
		LP:          vault,
		Logger:      zerolog.Nop(),
		RateLimiter: NewAccountRateLimiter(2, 1, time.Hour),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	client := NewClient(ts.URL)

	alice := string(ledger.DeriveAddress("alice"))
	require.NoError(t, client.AddLiquidity(alice, 0))
	require.NoError(t, client.AddLiquidity(alice, 0))
	err := client.AddLiquidity(alice, 0)
	require.ErrorContains(t, err, "rate limit")
}
