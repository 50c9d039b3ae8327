// Package proof provides the default proof-of-computation backend.
//
// Real proof systems (ZK circuits, trusted re-execution) plug in
// behind domain.ProofBackend; this hash backend binds a proof to the
// produced output so a submission claiming an output it never computed
// fails verification. It offers integrity, not zero-knowledge.
package proof

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// HashBackend derives proofs by hashing the produced output.
type HashBackend struct{}

var _ domain.ProofBackend = HashBackend{}

// Prove returns a commitment to the output.
func (HashBackend) Prove(_, output, _ []byte) ([]byte, error) {
	sum := sha256.Sum256(output)
	return sum[:], nil
}

// Verify checks the proof against the claimed output hash carried in
// publicInputs (hex-encoded).
func (HashBackend) Verify(proof []byte, publicInputs []byte) (bool, error) {
	return hex.EncodeToString(proof) == string(publicInputs), nil
}
