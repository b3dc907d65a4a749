package fhe

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/sw_bls12377"
	"github.com/consensys/gnark/std/hash/mimc"
)

// InputCircuit proves that an input ciphertext is well-formed: the masked
// value is a 64-bit integer, the ephemeral matches the claimed scalar, and
// the binding tag commits the ciphertext to its submission context.
type InputCircuit struct {
	// Public inputs
	C       frontend.Variable    `gnark:",public"`
	Tag     frontend.Variable    `gnark:",public"`
	Binding frontend.Variable    `gnark:",public"`
	G       sw_bls12377.G1Affine `gnark:",public"`
	Pk      sw_bls12377.G1Affine `gnark:",public"`
	R       sw_bls12377.G1Affine `gnark:",public"`

	// Private inputs
	Value  frontend.Variable
	Rho    frontend.Variable
	EncKey sw_bls12377.G1Affine
}

func (c *InputCircuit) Define(api frontend.API) error {
	// Ephemeral consistency: R = G^rho
	gr := new(sw_bls12377.G1Affine)
	gr.ScalarMul(api, c.G, c.Rho)
	api.AssertIsEqual(c.R.X, gr.X)
	api.AssertIsEqual(c.R.Y, gr.Y)

	// Shared key: EncKey = Pk^rho
	ek := new(sw_bls12377.G1Affine)
	ek.ScalarMul(api, c.Pk, c.Rho)
	api.AssertIsEqual(c.EncKey.X, ek.X)
	api.AssertIsEqual(c.EncKey.Y, ek.Y)

	// Domain bound: the plaintext fits 64 bits.
	api.ToBinary(c.Value, 64)

	// Masking: C = value + MiMC(EncKey)
	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(c.EncKey.X)
	hasher.Write(c.EncKey.Y)
	mask := hasher.Sum()
	api.AssertIsEqual(c.C, api.Add(c.Value, mask))

	// Binding: Tag = MiMC(EncKey, C, Binding)
	hasher.Reset()
	hasher.Write(c.EncKey.X)
	hasher.Write(c.EncKey.Y)
	hasher.Write(c.C)
	hasher.Write(c.Binding)
	api.AssertIsEqual(c.Tag, hasher.Sum())

	return nil
}
