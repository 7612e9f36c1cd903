package pricing

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// SeedSource produces the pseudo-random seed for one trade. The seed must be
// unpredictable to the trader before the trade is submitted, so
// implementations derive it from values only finalized once the trade is
// ordered (the per-question trade sequence) plus a server-held secret.
type SeedSource interface {
	Seed(questionID, seq int64) uint64
}

// KeccakSeed derives seeds as the first 8 bytes of
// Keccak-256(secret || questionID || seq).
type KeccakSeed struct {
	secret []byte
}

// NewKeccakSeed creates a KeccakSeed over the given server secret.
func NewKeccakSeed(secret string) *KeccakSeed {
	return &KeccakSeed{secret: []byte(secret)}
}

// Seed implements SeedSource.
func (k *KeccakSeed) Seed(questionID, seq int64) uint64 {
	h := sha3.NewLegacyKeccak256()
	h.Write(k.secret)

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(questionID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(seq))
	h.Write(buf[:])

	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// Compile-time interface check.
var _ SeedSource = (*KeccakSeed)(nil)
