// Package fhe implements the confidential arithmetic capability used by the
// lending protocol.
//
// Overview:
//   - Encrypted amounts are opaque 32-byte handles; the values behind them live
//     inside an Engine and are masked under a MiMC keystream derived from the
//     engine secret. No package outside fhe ever observes a plaintext amount.
//   - All arithmetic (add, sub, mul, div, compare, select) is performed by the
//     Engine on the handles, so insufficient-balance conditions can be resolved
//     without branching on a visible comparison result.
//   - Externally supplied amounts arrive as InputCiphertexts: the submitter
//     performs a Diffie-Hellman exchange against the engine public key on
//     BLS12-377, masks the value with a MiMC keystream of the shared point, and
//     binds the ciphertext to a (contract, submitter) pair with a MiMC tag.
//     Optionally a Groth16 proof (BW6-761) attests that the ciphertext encodes
//     a well-formed 64-bit value consistent with the tag.
//
// Security Model:
//   - MiMC over the BW6-761 scalar field for all masks, tags, and derivations
//   - BLS12-377 Diffie-Hellman for input encryption
//   - Groth16 (gnark) for input validity proofs
//   - All randomness from crypto/rand
//
// An Engine constructed without a verifying key (NewMockEngine) accepts inputs
// on the strength of the binding tag alone. That mode stands in for the proof
// pipeline in tests and development deployments.
package fhe
