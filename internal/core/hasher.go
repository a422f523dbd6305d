package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "StableCore:genesis:v1"

// StateHasher maintains the hash chain that ties each processed
// operation to the full history before it. Every event's hash covers
// the previous hash, the sequence number, and a digest of the balance
// and trove aggregates the event touched, so two cores that processed
// the same log converge on the same chain tip.
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &StateHasher{
		prevHash: genesis,
	}
}

// ComputeHash extends the chain:
// hash[N] = SHA-256(hash[N-1] || sequence || stateDigest).
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip during snapshot restore.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
