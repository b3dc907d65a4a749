// fhe.go - Shared primitives for the confidential arithmetic capability.
//
// Defines the opaque ciphertext handle, the error taxonomy, and the MiMC
// helpers used by both the engine and the input builder.

package fhe

import (
	"crypto/rand"
	"errors"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fp "github.com/consensys/gnark-crypto/ecc/bls12-377/fp"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

var (
	// ErrInvalidInput is returned when an externally supplied ciphertext fails
	// tag or proof verification, or encodes a value outside the 64-bit domain.
	ErrInvalidInput = errors.New("fhe: invalid input ciphertext")

	// ErrUnknownCiphertext is returned when a handle does not belong to the
	// engine it was presented to.
	ErrUnknownCiphertext = errors.New("fhe: unknown ciphertext handle")

	// ErrEmptyInput is returned when an input builder is encrypted before a
	// value was added.
	ErrEmptyInput = errors.New("fhe: input has no value")
)

// Ciphertext is an opaque handle to an encrypted 64-bit amount held by an
// Engine. Handles are never equal by construction, even for equal plaintexts;
// equality of the underlying values can only be established through engine
// comparisons.
type Ciphertext [32]byte

// InputProof is a serialized Groth16 proof attached to an externally supplied
// ciphertext. It is empty when the input was built without a prover.
type InputProof []byte

// domain is the exclusive upper bound of the plaintext space.
var domain = new(big.Int).Lsh(big.NewInt(1), 64)

// randomBytes generates n random bytes using crypto/rand.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// newHandle draws a fresh random ciphertext handle.
func newHandle() Ciphertext {
	var h Ciphertext
	copy(h[:], randomBytes(len(h)))
	return h
}

// fieldBytes canonicalizes arbitrary bytes into one field element block so the
// native MiMC and the in-circuit MiMC absorb identical inputs.
func fieldBytes(b []byte) []byte {
	var e bls12377_fp.Element
	e.SetBigInt(new(big.Int).SetBytes(b))
	out := e.Bytes()
	return out[:]
}

// mimcSum hashes the given chunks with MiMC, one field element per chunk.
func mimcSum(chunks ...[]byte) *big.Int {
	h := mimcNative.NewMiMC()
	for _, c := range chunks {
		h.Write(fieldBytes(c))
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// bindingTag derives the field element binding an input ciphertext to its
// submission context.
func bindingTag(contract, submitter string) *big.Int {
	return mimcSum([]byte(contract), []byte(submitter))
}

// maskFor derives the MiMC keystream element for a shared curve point.
func maskFor(shared *bls12377.G1Affine) *big.Int {
	x := shared.X.Bytes()
	y := shared.Y.Bytes()
	return mimcSum(x[:], y[:])
}

// generator returns the BLS12-377 G1 generator in affine form.
func generator() bls12377.G1Affine {
	g1Jac, _, _, _ := bls12377.Generators()
	var g bls12377.G1Affine
	g.FromJacobian(&g1Jac)
	return g
}
