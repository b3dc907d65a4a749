// api.go - HTTP surface of one lending deployment.
//
// The server fronts a single engine together with the ledgers, Pool, LP and
// Batcher deployed over it. Confidential amounts cross the wire in two
// forms: externally supplied amounts as encrypted inputs bound to their
// target component, and stored balances as opaque handles. The server never
// decrypts on behalf of callers unless the debug endpoint is enabled.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"confidlend/internal/batcher"
	"confidlend/internal/fhe"
	"confidlend/internal/ledger"
	"confidlend/internal/lp"
	"confidlend/internal/pool"
)

// EncryptedInput is the wire form of an externally supplied amount: the
// masked value and tag as decimal strings, the ephemeral point compressed
// and hex encoded, and an optional hex proof.
type EncryptedInput struct {
	C     string `json:"c"`
	R     string `json:"r"`
	Tag   string `json:"tag"`
	Proof string `json:"proof,omitempty"`
}

// EncodeInput converts an input ciphertext and proof to their wire form.
func EncodeInput(in fhe.InputCiphertext, proof fhe.InputProof) EncryptedInput {
	r := in.R.Bytes()
	return EncryptedInput{
		C:     in.C.String(),
		R:     hex.EncodeToString(r[:]),
		Tag:   in.Tag.String(),
		Proof: hex.EncodeToString(proof),
	}
}

// DecodeInput parses the wire form back into an input ciphertext and proof.
func DecodeInput(w EncryptedInput) (fhe.InputCiphertext, fhe.InputProof, error) {
	c, ok := new(big.Int).SetString(w.C, 10)
	if !ok {
		return fhe.InputCiphertext{}, nil, fmt.Errorf("api: malformed ciphertext value")
	}
	tag, ok := new(big.Int).SetString(w.Tag, 10)
	if !ok {
		return fhe.InputCiphertext{}, nil, fmt.Errorf("api: malformed tag")
	}
	rBytes, err := hex.DecodeString(w.R)
	if err != nil {
		return fhe.InputCiphertext{}, nil, fmt.Errorf("api: malformed ephemeral point: %w", err)
	}
	var r bls12377.G1Affine
	if _, err := r.SetBytes(rBytes); err != nil {
		return fhe.InputCiphertext{}, nil, fmt.Errorf("api: invalid ephemeral point: %w", err)
	}
	var proof fhe.InputProof
	if w.Proof != "" {
		proof, err = hex.DecodeString(w.Proof)
		if err != nil {
			return fhe.InputCiphertext{}, nil, fmt.Errorf("api: malformed proof: %w", err)
		}
	}
	return fhe.InputCiphertext{C: c, R: r, Tag: tag}, proof, nil
}

// ServerConfig wires one deployment into a Server.
type ServerConfig struct {
	Engine  *fhe.Engine
	Tokens  []*ledger.Token
	Pool    *pool.Pool
	LP      *lp.LP
	Batcher *batcher.Batcher

	Logger      zerolog.Logger
	Registry    *prometheus.Registry
	RateLimiter *AccountRateLimiter
	Health      *HealthChecker

	// DebugDecrypt enables the plaintext decryption endpoint. Test and
	// demo deployments only.
	DebugDecrypt bool
}

// Server serves one lending deployment over HTTP.
type Server struct {
	eng     *fhe.Engine
	ledgers map[ledger.Address]*ledger.Token
	pool    *pool.Pool
	lp      *lp.LP
	batcher *batcher.Batcher

	log          zerolog.Logger
	registry     *prometheus.Registry
	metrics      *Metrics
	limits       *AccountRateLimiter
	health       *HealthChecker
	debugDecrypt bool
}

// NewServer assembles the HTTP surface for a deployment. The Pool's debt
// ledger and the LP's share ledger are addressable alongside the plain
// tokens, so approve/transfer/balance work uniformly across all five
// asset ledgers.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		eng:          cfg.Engine,
		ledgers:      make(map[ledger.Address]*ledger.Token),
		pool:         cfg.Pool,
		lp:           cfg.LP,
		batcher:      cfg.Batcher,
		log:          cfg.Logger,
		registry:     cfg.Registry,
		limits:       cfg.RateLimiter,
		health:       cfg.Health,
		debugDecrypt: cfg.DebugDecrypt,
	}
	for _, t := range cfg.Tokens {
		s.ledgers[t.Addr()] = t
	}
	if cfg.Pool != nil {
		s.ledgers[cfg.Pool.Addr()] = cfg.Pool.Token
	}
	if cfg.LP != nil {
		s.ledgers[cfg.LP.Addr()] = cfg.LP.Token
	}
	if cfg.Registry != nil {
		s.metrics = NewMetrics(cfg.Registry)
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/pubkey", s.instrument("pubkey", s.handlePubKey))
	mux.HandleFunc("GET /v1/token/balance", s.instrument("balance", s.handleBalance))
	mux.HandleFunc("POST /v1/token/mint", s.instrument("mint", s.handleMint))
	mux.HandleFunc("POST /v1/token/approve", s.instrument("approve", s.handleApprove))
	mux.HandleFunc("POST /v1/token/transfer", s.instrument("transfer", s.handleTransfer))
	mux.HandleFunc("POST /v1/pool/deposit", s.instrument("pool_deposit", s.handlePoolDeposit))
	mux.HandleFunc("POST /v1/pool/withdraw", s.instrument("pool_withdraw", s.handlePoolWithdraw))
	mux.HandleFunc("POST /v1/lp/add", s.instrument("lp_add", s.handleAddLiquidity))
	mux.HandleFunc("POST /v1/lp/withdraw", s.instrument("lp_withdraw", s.handleWithdrawLiquidity))
	mux.HandleFunc("POST /v1/lp/deposit", s.instrument("lp_deposit", s.handleLPDeposit))
	mux.HandleFunc("POST /v1/batcher/deposit", s.instrument("batcher_deposit", s.handleBatcherDeposit))
	mux.HandleFunc("GET /v1/healthz", s.handleHealth)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	if s.debugDecrypt {
		mux.HandleFunc("POST /v1/debug/decrypt", s.instrument("debug_decrypt", s.handleDebugDecrypt))
	}
	return mux
}

// instrument wraps a handler with latency and outcome collection.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		if s.metrics != nil {
			outcome := "ok"
			if sw.status >= 400 {
				outcome = "error"
			}
			s.metrics.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
			s.metrics.RequestSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps core errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fhe.ErrInvalidInput):
		status = http.StatusBadRequest
		if s.metrics != nil {
			s.metrics.RejectedInputs.Inc()
		}
	case errors.Is(err, ledger.ErrUnauthorized), errors.Is(err, pool.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, pool.ErrUnsupportedAsset), errors.Is(err, fhe.ErrUnknownCiphertext):
		status = http.StatusNotFound
	case errors.Is(err, lp.ErrNoShares):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decode reads a JSON body, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// allow applies the per-account rate limit for a state-changing request.
func (s *Server) allow(w http.ResponseWriter, caller string) bool {
	if s.limits == nil || s.limits.Allow(caller) {
		return true
	}
	if s.metrics != nil {
		s.metrics.RateLimited.Inc()
	}
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
	return false
}

func (s *Server) ledgerByAddr(addr ledger.Address) (*ledger.Token, bool) {
	t, ok := s.ledgers[addr]
	return t, ok
}

// PubKeyResponse carries the engine public key, compressed and hex encoded.
type PubKeyResponse struct {
	PublicKey string `json:"public_key"`
}

func (s *Server) handlePubKey(w http.ResponseWriter, r *http.Request) {
	pk := s.eng.PublicKey().Bytes()
	writeJSON(w, http.StatusOK, PubKeyResponse{PublicKey: hex.EncodeToString(pk[:])})
}

// BalanceResponse carries an opaque balance handle.
type BalanceResponse struct {
	Handle string `json:"handle"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := ledger.Address(r.URL.Query().Get("ledger"))
	account := ledger.Address(r.URL.Query().Get("account"))
	t, ok := s.ledgerByAddr(addr)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown ledger"})
		return
	}
	h := t.BalanceOf(account)
	writeJSON(w, http.StatusOK, BalanceResponse{Handle: hex.EncodeToString(h[:])})
}

// MintRequest credits a plaintext amount on one ledger. Issuance amounts
// are public; only confidential balances and transfers are hidden.
type MintRequest struct {
	Ledger string `json:"ledger"`
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.allow(w, req.Caller) {
		return
	}
	t, ok := s.ledgerByAddr(ledger.Address(req.Ledger))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown ledger"})
		return
	}
	if err := t.Mint(ledger.Address(req.Caller), ledger.Address(req.To), req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("ledger", req.Ledger).Str("to", req.To).Uint64("amount", req.Amount).Msg("minted")
	writeJSON(w, http.StatusOK, struct{}{})
}

// ApproveRequest grants spender an allowance on one ledger. The encrypted
// amount must be bound to that ledger and the owner.
type ApproveRequest struct {
	Ledger  string         `json:"ledger"`
	Owner   string         `json:"owner"`
	Spender string         `json:"spender"`
	Amount  EncryptedInput `json:"amount"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.allow(w, req.Owner) {
		return
	}
	t, ok := s.ledgerByAddr(ledger.Address(req.Ledger))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown ledger"})
		return
	}
	in, proof, err := DecodeInput(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := t.ApproveInput(ledger.Address(req.Owner), ledger.Address(req.Spender), in, proof); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("ledger", req.Ledger).Str("owner", req.Owner).Str("spender", req.Spender).Msg("allowance set")
	writeJSON(w, http.StatusOK, struct{}{})
}

// TransferRequest moves an encrypted amount between accounts on one ledger.
type TransferRequest struct {
	Ledger string         `json:"ledger"`
	From   string         `json:"from"`
	To     string         `json:"to"`
	Amount EncryptedInput `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.allow(w, req.From) {
		return
	}
	t, ok := s.ledgerByAddr(ledger.Address(req.Ledger))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown ledger"})
		return
	}
	in, proof, err := DecodeInput(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if _, err := t.TransferInput(ledger.Address(req.From), ledger.Address(req.To), in, proof); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("ledger", req.Ledger).Str("from", req.From).Str("to", req.To).Msg("transfer applied")
	writeJSON(w, http.StatusOK, struct{}{})
}

// PoolRequest deposits or withdraws collateral at the Pool. The encrypted
// amount must be bound to the Pool and the caller.
type PoolRequest struct {
	Caller string         `json:"caller"`
	Token  string         `json:"token"`
	Amount EncryptedInput `json:"amount"`
}

func (s *Server) handlePoolDeposit(w http.ResponseWriter, r *http.Request) {
	var req PoolRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.allow(w, req.Caller) {
		return
	}
	in, proof, err := DecodeInput(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.pool.DepositToken(ledger.Address(req.Caller), ledger.Address(req.Token), in, proof); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("caller", req.Caller).Str("token", req.Token).Msg("collateral deposited")
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handlePoolWithdraw(w http.ResponseWriter, r *http.Request) {
	var req PoolRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.allow(w, req.Caller) {
		return
	}
	in, proof, err := DecodeInput(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.pool.WithdrawToken(ledger.Address(req.Caller), ledger.Address(req.Token), in, proof); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("caller", req.Caller).Str("token", req.Token).Msg("collateral withdrawn")
	writeJSON(w, http.StatusOK, struct{}{})
}

// LiquidityRequest adds or withdraws vault liquidity with a plaintext
// amount, matching the public nature of LP entry and exit.
type LiquidityRequest struct {
	Caller string `json:"caller"`
	Amount uint64 `json:"amount"`
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req LiquidityRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.allow(w, req.Caller) {
		return
	}
	if err := s.lp.AddLiquidity(ledger.Address(req.Caller), req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("caller", req.Caller).Uint64("amount", req.Amount).Msg("liquidity added")
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleWithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	var req LiquidityRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.allow(w, req.Caller) {
		return
	}
	if err := s.lp.WithdrawLiquidity(ledger.Address(req.Caller), req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("caller", req.Caller).Uint64("shares", req.Amount).Msg("liquidity withdrawn")
	writeJSON(w, http.StatusOK, struct{}{})
}

// SwapRequest swaps debt tokens for the vault's liquidity asset. The
// encrypted amount must be bound to the LP and the caller.
type SwapRequest struct {
	Caller string         `json:"caller"`
	Amount EncryptedInput `json:"amount"`
}

func (s *Server) handleLPDeposit(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.allow(w, req.Caller) {
		return
	}
	in, proof, err := DecodeInput(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.lp.DepositInput(ledger.Address(req.Caller), in, proof); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("caller", req.Caller).Msg("debt swap applied")
	writeJSON(w, http.StatusOK, struct{}{})
}

// BatchDepositRequest escrows debt tokens with the Batcher. The encrypted
// amount must be bound to the Batcher and the caller.
type BatchDepositRequest struct {
	Caller string         `json:"caller"`
	Amount EncryptedInput `json:"amount"`
}

// BatchDepositResponse reports the batch state after the deposit.
type BatchDepositResponse struct {
	Pending int  `json:"pending"`
	Settled bool `json:"settled"`
}

func (s *Server) handleBatcherDeposit(w http.ResponseWriter, r *http.Request) {
	var req BatchDepositRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.allow(w, req.Caller) {
		return
	}
	in, proof, err := DecodeInput(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.batcher.Deposit(ledger.Address(req.Caller), in, proof); err != nil {
		s.writeError(w, err)
		return
	}
	// A successful deposit leaves the batch open unless it triggered
	// settlement, which clears it.
	pending := s.batcher.PendingDepositors()
	settled := pending == 0
	if s.metrics != nil {
		s.metrics.PendingDeposits.Set(float64(pending))
		if settled {
			s.metrics.BatchesSettled.Inc()
		}
	}
	s.log.Info().Str("caller", req.Caller).Int("pending", pending).Bool("settled", settled).Msg("batch deposit")
	writeJSON(w, http.StatusOK, BatchDepositResponse{Pending: pending, Settled: settled})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	health := s.health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// DecryptRequest asks the engine to reveal a handle's plaintext. Only
// served when debug decryption is enabled.
type DecryptRequest struct {
	Handle string `json:"handle"`
}

// DecryptResponse carries the revealed plaintext.
type DecryptResponse struct {
	Value uint64 `json:"value"`
}

func (s *Server) handleDebugDecrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	raw, err := hex.DecodeString(req.Handle)
	if err != nil || len(raw) != len(fhe.Ciphertext{}) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed handle"})
		return
	}
	var h fhe.Ciphertext
	copy(h[:], raw)
	v, err := s.eng.Decrypt(h)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DecryptResponse{Value: v})
}
