// engine.go - The confidential arithmetic engine (coprocessor).
//
// The Engine owns the protocol decryption key. Values behind ciphertext
// handles are stored masked under a per-handle MiMC keystream, unmasked only
// inside engine operations, and re-masked under a fresh handle on every
// result. Comparison results are themselves returned as encrypted 0/1 values
// so callers can realize fail-silent semantics with Select.

package fhe

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fp "github.com/consensys/gnark-crypto/ecc/bls12-377/fp"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
)

// Engine evaluates homomorphic operations over ciphertext handles.
// All methods are safe for concurrent use; each call is a single atomic
// state transition.
type Engine struct {
	mu    sync.Mutex
	sk    *bls12377_fr.Element
	pk    *bls12377.G1Affine
	vk    groth16.VerifyingKey
	store map[Ciphertext]*big.Int
}

// NewEngine creates an engine with a fresh keypair. When vk is non-nil, every
// externally supplied ciphertext must carry a Groth16 validity proof checked
// against it.
func NewEngine(vk groth16.VerifyingKey) (*Engine, error) {
	var sk bls12377_fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, fmt.Errorf("engine keygen failed: %w", err)
	}
	g := generator()
	var pk bls12377.G1Affine
	pk.ScalarMultiplication(&g, sk.BigInt(new(big.Int)))
	return &Engine{
		sk:    &sk,
		pk:    &pk,
		vk:    vk,
		store: make(map[Ciphertext]*big.Int),
	}, nil
}

// NewMockEngine creates an engine that accepts inputs on the binding tag
// alone, without Groth16 proofs. Used in tests and development deployments.
func NewMockEngine() *Engine {
	e, err := NewEngine(nil)
	if err != nil {
		panic(err)
	}
	return e
}

// PublicKey returns the engine public key submitters encrypt against.
func (e *Engine) PublicKey() *bls12377.G1Affine { return e.pk }

// handleMask derives the storage keystream element for a handle.
func (e *Engine) handleMask(h Ciphertext) *big.Int {
	skBytes := e.sk.Bytes()
	return mimcSum(skBytes[:], h[:])
}

// put masks a plaintext value under a fresh handle. Caller holds e.mu.
func (e *Engine) put(v *big.Int) Ciphertext {
	h := newHandle()
	masked := new(big.Int).Add(v, e.handleMask(h))
	masked.Mod(masked, bls12377_fp.Modulus())
	e.store[h] = masked
	return h
}

// get unmasks the value behind a handle. Caller holds e.mu. A handle that was
// not produced by this engine is an invariant violation, not a recoverable
// condition.
func (e *Engine) get(h Ciphertext) *big.Int {
	masked, ok := e.store[h]
	if !ok {
		panic(ErrUnknownCiphertext)
	}
	v := new(big.Int).Sub(masked, e.handleMask(h))
	v.Mod(v, bls12377_fp.Modulus())
	return v
}

// Encrypt64 imports a trusted plaintext amount, producing a fresh handle.
// Used for internally derived values only; external submissions go through
// VerifyInput.
func (e *Engine) Encrypt64(v uint64) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.put(new(big.Int).SetUint64(v))
}

// Zero returns a fresh encryption of zero.
func (e *Engine) Zero() Ciphertext { return e.Encrypt64(0) }

// Add returns a+b mod 2^64.
func (e *Engine) Add(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := new(big.Int).Add(e.get(a), e.get(b))
	return e.put(s.Mod(s, domain))
}

// Sub returns a-b mod 2^64. Callers guard underflow with Le and Select.
func (e *Engine) Sub(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := new(big.Int).Sub(e.get(a), e.get(b))
	return e.put(d.Mod(d, domain))
}

// Mul returns a*b mod 2^64.
func (e *Engine) Mul(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := new(big.Int).Mul(e.get(a), e.get(b))
	return e.put(p.Mod(p, domain))
}

// Div returns floor(a/b), or zero when b is zero.
func (e *Engine) Div(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	bv := e.get(b)
	if bv.Sign() == 0 {
		return e.put(new(big.Int))
	}
	return e.put(new(big.Int).Quo(e.get(a), bv))
}

// MulDiv returns floor(a*num/den) with an unbounded intermediate product, so
// price-ratio conversions carry no systematic truncation bias. A zero
// denominator yields zero.
func (e *Engine) MulDiv(a Ciphertext, num, den *big.Int) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if den == nil || den.Sign() == 0 {
		return e.put(new(big.Int))
	}
	p := new(big.Int).Mul(e.get(a), num)
	p.Quo(p, den)
	return e.put(p.Mod(p, domain))
}

// Le returns an encrypted 1 when a <= b, encrypted 0 otherwise.
func (e *Engine) Le(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.get(a).Cmp(e.get(b)) <= 0 {
		return e.put(big.NewInt(1))
	}
	return e.put(new(big.Int))
}

// IsZero returns an encrypted 1 when a is zero, encrypted 0 otherwise.
func (e *Engine) IsZero(a Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.get(a).Sign() == 0 {
		return e.put(big.NewInt(1))
	}
	return e.put(new(big.Int))
}

// Or returns the encrypted disjunction of two encrypted 0/1 values.
func (e *Engine) Or(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.get(a).Sign() != 0 || e.get(b).Sign() != 0 {
		return e.put(big.NewInt(1))
	}
	return e.put(new(big.Int))
}

// And returns the encrypted conjunction of two encrypted 0/1 values.
func (e *Engine) And(a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.get(a).Sign() != 0 && e.get(b).Sign() != 0 {
		return e.put(big.NewInt(1))
	}
	return e.put(new(big.Int))
}

// Select returns a when cond is non-zero, b otherwise. The selection leaves no
// observable trace of which branch was taken.
func (e *Engine) Select(cond, a, b Ciphertext) Ciphertext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.get(cond).Sign() != 0 {
		return e.put(e.get(a))
	}
	return e.put(e.get(b))
}

// Decrypt reveals the value behind a handle. This is the out-of-band owner
// capability; core protocol logic never calls it.
func (e *Engine) Decrypt(h Ciphertext) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	masked, ok := e.store[h]
	if !ok {
		return 0, ErrUnknownCiphertext
	}
	v := new(big.Int).Sub(masked, e.handleMask(h))
	v.Mod(v, bls12377_fp.Modulus())
	if v.Cmp(domain) >= 0 {
		return 0, fmt.Errorf("fhe: ciphertext out of domain")
	}
	return v.Uint64(), nil
}

// RevealBool decrypts an encrypted 0/1 value. Reserved for the few protocol
// preconditions the design surfaces as hard failures.
func (e *Engine) RevealBool(h Ciphertext) (bool, error) {
	v, err := e.Decrypt(h)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// VerifyInput checks an externally supplied ciphertext against its submission
// context and imports the value under a fresh handle. The binding tag is
// always checked; the Groth16 proof is checked when the engine was
// constructed with a verifying key.
func (e *Engine) VerifyInput(in InputCiphertext, proof InputProof, contract, submitter string) (Ciphertext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if in.C == nil || in.Tag == nil {
		return Ciphertext{}, ErrInvalidInput
	}

	// Recover the shared point from the ephemeral and the engine secret.
	var shared bls12377.G1Affine
	shared.ScalarMultiplication(&in.R, e.sk.BigInt(new(big.Int)))

	binding := bindingTag(contract, submitter)
	cBytes := in.C.Bytes()
	x := shared.X.Bytes()
	y := shared.Y.Bytes()
	expect := mimcSum(x[:], y[:], cBytes, binding.Bytes())
	if expect.Cmp(in.Tag) != 0 {
		return Ciphertext{}, fmt.Errorf("%w: binding tag mismatch", ErrInvalidInput)
	}

	v := new(big.Int).Sub(in.C, maskFor(&shared))
	v.Mod(v, bls12377_fp.Modulus())
	if v.Cmp(domain) >= 0 {
		return Ciphertext{}, fmt.Errorf("%w: value outside 64-bit domain", ErrInvalidInput)
	}

	if e.vk != nil {
		if err := e.verifyProof(in, binding, proof); err != nil {
			return Ciphertext{}, err
		}
	}
	return e.put(v), nil
}

// verifyProof checks the Groth16 validity proof for an input ciphertext.
func (e *Engine) verifyProof(in InputCiphertext, binding *big.Int, proof InputProof) error {
	if len(proof) == 0 {
		return fmt.Errorf("%w: missing validity proof", ErrInvalidInput)
	}
	g := generator()
	public := &InputCircuit{
		C:       in.C.String(),
		Tag:     in.Tag.String(),
		Binding: binding.String(),
		G:       toGnarkPoint(g),
		Pk:      toGnarkPoint(*e.pk),
		R:       toGnarkPoint(in.R),
	}
	w, err := frontend.NewWitness(public, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: cannot build public witness", ErrInvalidInput)
	}
	p := groth16.NewProof(ecc.BW6_761)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return fmt.Errorf("%w: cannot unmarshal proof", ErrInvalidInput)
	}
	if err := groth16.Verify(p, e.vk, w); err != nil {
		return fmt.Errorf("%w: proof verification failed", ErrInvalidInput)
	}
	return nil
}

// toGnarkPoint converts a native BLS12-377 point to gnark witness format.
func toGnarkPoint(p bls12377.G1Affine) sw_bls12377.G1Affine {
	xBytes := p.X.Bytes()
	yBytes := p.Y.Bytes()
	return sw_bls12377.G1Affine{
		X: new(big.Int).SetBytes(xBytes[:]).String(),
		Y: new(big.Int).SetBytes(yBytes[:]).String(),
	}
}
