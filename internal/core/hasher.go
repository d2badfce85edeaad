package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "PerpEngine:genesis:v1"

// StateHasher maintains the state hash chain:
// hash[N] = SHA-256(hash[N-1] || sequence || state_digest).
type StateHasher struct {
	tip [32]byte
}

// NewStateHasher initializes the chain at the genesis hash.
func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &StateHasher{
		tip: genesis,
	}
}

// Advance computes the next hash in the chain and moves the tip.
func (h *StateHasher) Advance(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.tip[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.tip = hash
	return hash
}

// Tip returns the current chain tip.
func (h *StateHasher) Tip() [32]byte {
	return h.tip
}

// SetTip overwrites the chain tip, used during snapshot restore.
func (h *StateHasher) SetTip(tip [32]byte) {
	h.tip = tip
}
