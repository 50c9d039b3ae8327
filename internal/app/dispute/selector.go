package dispute

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// HashSelector draws k pool members with a Fisher-Yates shuffle seeded
// from a hash of the provided entropy. Given the same pool and seed it
// always draws the same subset, so selection is verifiable by anyone
// holding the seed — and unpredictable to anyone who does not.
type HashSelector struct{}

var _ domain.VerifierSelector = HashSelector{}

// SelectRandom implements VerifierSelector. Pools smaller than k are
// returned whole.
func (HashSelector) SelectRandom(pool []string, k int, seed []byte) []string {
	if k >= len(pool) {
		out := make([]string, len(pool))
		copy(out, pool)
		return out
	}

	sum := sha256.Sum256(seed)
	rng := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))

	shuffled := make([]string, len(pool))
	copy(shuffled, pool)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:k]
}
