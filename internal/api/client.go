// client.go - HTTP client for a lending deployment.
//
// The client fetches the engine public key once, then builds encrypted
// inputs locally and submits them. Amounts never leave the client in
// plaintext except for the LP entry and exit operations, which are public
// by design of the share vault.
package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"

	"confidlend/internal/fhe"
)

// Client talks to one lending deployment.
type Client struct {
	baseURL string
	http    *http.Client
	pk      *bls12377.G1Affine
}

// NewClient creates a client for the deployment at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// EnginePubKey fetches and caches the engine public key.
func (c *Client) EnginePubKey() (*bls12377.G1Affine, error) {
	if c.pk != nil {
		return c.pk, nil
	}
	resp, err := c.http.Get(c.baseURL + "/v1/pubkey")
	if err != nil {
		return nil, fmt.Errorf("pubkey fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pubkey fetch failed: status %d", resp.StatusCode)
	}
	var body PubKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("pubkey decode failed: %w", err)
	}
	raw, err := hex.DecodeString(body.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("pubkey decode failed: %w", err)
	}
	var pk bls12377.G1Affine
	if _, err := pk.SetBytes(raw); err != nil {
		return nil, fmt.Errorf("pubkey unmarshal failed: %w", err)
	}
	c.pk = &pk
	return c.pk, nil
}

// EncryptFor builds an encrypted input of value v bound to the given
// contract for the given submitter.
func (c *Client) EncryptFor(contract, submitter string, v uint64) (EncryptedInput, error) {
	pk, err := c.EnginePubKey()
	if err != nil {
		return EncryptedInput{}, err
	}
	in, proof, err := fhe.NewInput(pk, contract, submitter).Add64(v).Encrypt()
	if err != nil {
		return EncryptedInput{}, err
	}
	return EncodeInput(in, proof), nil
}

// post submits a JSON body and decodes the response into out when non-nil.
func (c *Client) post(path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("request to %s refused: %s", path, apiErr.Error)
		}
		return fmt.Errorf("request to %s refused: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Mint credits a plaintext amount to an account on the given ledger. The
// caller must be the ledger owner.
func (c *Client) Mint(ledgerAddr, caller, to string, v uint64) error {
	return c.post("/v1/token/mint", MintRequest{
		Ledger: ledgerAddr, Caller: caller, To: to, Amount: v,
	}, nil)
}

// Approve grants spender an allowance of v on the given ledger.
func (c *Client) Approve(ledgerAddr, owner, spender string, v uint64) error {
	amount, err := c.EncryptFor(ledgerAddr, owner, v)
	if err != nil {
		return err
	}
	return c.post("/v1/token/approve", ApproveRequest{
		Ledger: ledgerAddr, Owner: owner, Spender: spender, Amount: amount,
	}, nil)
}

// Transfer moves v from the caller to another account on the given ledger.
func (c *Client) Transfer(ledgerAddr, from, to string, v uint64) error {
	amount, err := c.EncryptFor(ledgerAddr, from, v)
	if err != nil {
		return err
	}
	return c.post("/v1/token/transfer", TransferRequest{
		Ledger: ledgerAddr, From: from, To: to, Amount: amount,
	}, nil)
}

// BalanceHandle fetches the opaque balance handle for an account.
func (c *Client) BalanceHandle(ledgerAddr, account string) (fhe.Ciphertext, error) {
	resp, err := c.http.Get(c.baseURL + "/v1/token/balance?ledger=" + ledgerAddr + "&account=" + account)
	if err != nil {
		return fhe.Ciphertext{}, fmt.Errorf("balance fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fhe.Ciphertext{}, fmt.Errorf("balance fetch failed: status %d", resp.StatusCode)
	}
	var body BalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fhe.Ciphertext{}, err
	}
	raw, err := hex.DecodeString(body.Handle)
	if err != nil || len(raw) != len(fhe.Ciphertext{}) {
		return fhe.Ciphertext{}, fmt.Errorf("balance fetch failed: malformed handle")
	}
	var h fhe.Ciphertext
	copy(h[:], raw)
	return h, nil
}

// PoolDeposit deposits v of a collateral token at the Pool. poolAddr is the
// binding target for the encrypted amount.
func (c *Client) PoolDeposit(poolAddr, caller, token string, v uint64) error {
	amount, err := c.EncryptFor(poolAddr, caller, v)
	if err != nil {
		return err
	}
	return c.post("/v1/pool/deposit", PoolRequest{Caller: caller, Token: token, Amount: amount}, nil)
}

// PoolWithdraw burns v debt and withdraws the matching collateral.
func (c *Client) PoolWithdraw(poolAddr, caller, token string, v uint64) error {
	amount, err := c.EncryptFor(poolAddr, caller, v)
	if err != nil {
		return err
	}
	return c.post("/v1/pool/withdraw", PoolRequest{Caller: caller, Token: token, Amount: amount}, nil)
}

// AddLiquidity supplies v liquidity units to the vault.
func (c *Client) AddLiquidity(caller string, v uint64) error {
	return c.post("/v1/lp/add", LiquidityRequest{Caller: caller, Amount: v}, nil)
}

// WithdrawLiquidity burns v shares for the proportional payout.
func (c *Client) WithdrawLiquidity(caller string, v uint64) error {
	return c.post("/v1/lp/withdraw", LiquidityRequest{Caller: caller, Amount: v}, nil)
}

// LPDeposit swaps v debt tokens for liquidity at the vault.
func (c *Client) LPDeposit(lpAddr, caller string, v uint64) error {
	amount, err := c.EncryptFor(lpAddr, caller, v)
	if err != nil {
		return err
	}
	return c.post("/v1/lp/deposit", SwapRequest{Caller: caller, Amount: amount}, nil)
}

// BatcherDeposit escrows v debt tokens into the open batch and reports the
// batch state.
func (c *Client) BatcherDeposit(batcherAddr, caller string, v uint64) (BatchDepositResponse, error) {
	amount, err := c.EncryptFor(batcherAddr, caller, v)
	if err != nil {
		return BatchDepositResponse{}, err
	}
	var out BatchDepositResponse
	err = c.post("/v1/batcher/deposit", BatchDepositRequest{Caller: caller, Amount: amount}, &out)
	return out, err
}

// DebugDecrypt reveals a handle's plaintext on deployments with debug
// decryption enabled.
func (c *Client) DebugDecrypt(h fhe.Ciphertext) (uint64, error) {
	var out DecryptResponse
	if err := c.post("/v1/debug/decrypt", DecryptRequest{Handle: hex.EncodeToString(h[:])}, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}
