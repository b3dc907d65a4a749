// keys.go - Groth16 key management for the input validity circuit.

package fhe

import (
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// CompileInputCircuit compiles the input validity circuit over BW6-761.
func CompileInputCircuit() (constraint.ConstraintSystem, error) {
	var circuit InputCircuit
	return frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fhe: create proving key file: %w", err)
	}
	defer f.Close()
	if _, err := pk.WriteTo(f); err != nil {
		return fmt.Errorf("fhe: write proving key: %w", err)
	}
	return nil
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fhe: create verifying key file: %w", err)
	}
	defer f.Close()
	if _, err := vk.WriteTo(f); err != nil {
		return fmt.Errorf("fhe: write verifying key: %w", err)
	}
	return nil
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fhe: open proving key: %w", err)
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BW6_761)
	if _, err := pk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("fhe: read proving key: %w", err)
	}
	return pk, nil
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fhe: open verifying key: %w", err)
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("fhe: read verifying key: %w", err)
	}
	return vk, nil
}

// SetupOrLoadKeys loads the Groth16 key pair for the input circuit from disk,
// or runs a fresh setup and persists it when either key is missing.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("fhe: groth16 setup: %w", err)
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}
