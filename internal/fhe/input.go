// input.go - Client-side construction of externally supplied ciphertexts.
//
// Mirrors the submission flow of the deployed protocol: the submitter targets
// one contract, adds a 64-bit value, and encrypts against the engine public
// key. The resulting ciphertext is only usable by that contract for that
// submitter.

package fhe

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fp "github.com/consensys/gnark-crypto/ecc/bls12-377/fp"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
)

// InputCiphertext is an externally supplied encrypted amount: the masked
// value, the Diffie-Hellman ephemeral, and the tag binding it to its
// submission context.
type InputCiphertext struct {
	C   *big.Int
	R   bls12377.G1Affine
	Tag *big.Int
}

// Input builds an encrypted input bound to a (contract, submitter) pair.
type Input struct {
	enginePk  *bls12377.G1Affine
	contract  string
	submitter string
	value     uint64
	hasValue  bool
}

// NewInput starts an encrypted input targeting the given contract on behalf
// of the given submitter.
func NewInput(enginePk *bls12377.G1Affine, contract, submitter string) *Input {
	return &Input{enginePk: enginePk, contract: contract, submitter: submitter}
}

// Add64 sets the 64-bit value carried by the input.
func (in *Input) Add64(v uint64) *Input {
	in.value = v
	in.hasValue = true
	return in
}

// Encrypt produces the input ciphertext with its binding tag. The returned
// proof is empty; engines constructed with a verifying key reject such
// inputs, engines in mock mode accept them on the tag alone.
func (in *Input) Encrypt() (InputCiphertext, InputProof, error) {
	ct, _, err := in.encrypt()
	return ct, nil, err
}

// EncryptProven produces the input ciphertext together with a Groth16 proof
// of well-formedness over the given compiled circuit and proving key.
func (in *Input) EncryptProven(ccs constraint.ConstraintSystem, pk groth16.ProvingKey) (InputCiphertext, InputProof, error) {
	ct, rho, err := in.encrypt()
	if err != nil {
		return InputCiphertext{}, nil, err
	}

	var shared bls12377.G1Affine
	shared.ScalarMultiplication(in.enginePk, rho)

	g := generator()
	witness := &InputCircuit{
		C:       ct.C.String(),
		Tag:     ct.Tag.String(),
		Binding: bindingTag(in.contract, in.submitter).String(),
		G:       toGnarkPoint(g),
		Pk:      toGnarkPoint(*in.enginePk),
		R:       toGnarkPoint(ct.R),
		Value:   new(big.Int).SetUint64(in.value).String(),
		Rho:     rho.String(),
		EncKey:  toGnarkPoint(shared),
	}
	w, err := frontend.NewWitness(witness, ecc.BW6_761.ScalarField())
	if err != nil {
		return InputCiphertext{}, nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return InputCiphertext{}, nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return InputCiphertext{}, nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return ct, buf.Bytes(), nil
}

// encrypt performs the DH exchange and masking shared by both entry points.
// Returns the scalar so EncryptProven can rebuild the shared point.
func (in *Input) encrypt() (InputCiphertext, *big.Int, error) {
	if !in.hasValue {
		return InputCiphertext{}, nil, ErrEmptyInput
	}
	if in.enginePk == nil {
		return InputCiphertext{}, nil, fmt.Errorf("fhe: input requires an engine public key")
	}

	var r bls12377_fr.Element
	if _, err := r.SetRandom(); err != nil {
		return InputCiphertext{}, nil, fmt.Errorf("input randomness failed: %w", err)
	}
	rho := r.BigInt(new(big.Int))

	g := generator()
	var eph, shared bls12377.G1Affine
	eph.ScalarMultiplication(&g, rho)
	shared.ScalarMultiplication(in.enginePk, rho)

	c := new(big.Int).Add(new(big.Int).SetUint64(in.value), maskFor(&shared))
	c.Mod(c, bls12377_fp.Modulus())

	binding := bindingTag(in.contract, in.submitter)
	x := shared.X.Bytes()
	y := shared.Y.Bytes()
	tag := mimcSum(x[:], y[:], c.Bytes(), binding.Bytes())

	return InputCiphertext{C: c, R: eph, Tag: tag}, rho, nil
}
