package persistence

import (
	"crypto/sha256"
	"encoding/binary"

	"MarginHealth/internal/state"
)

const stateHashSeed = "MarginHealth:account:v1"

// StateHash fingerprints the account state a report was computed from:
// SHA-256(seed || version || canonical bytes).
func StateHash(account *state.Account) [32]byte {
	h := sha256.New()
	h.Write([]byte(stateHashSeed))

	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], uint64(account.Version))
	h.Write(v[:])

	h.Write(account.CanonicalBytes())

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
