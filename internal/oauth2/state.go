package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const seedSize = 32

func newSeed() ([]byte, error) {
	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to read random seed: %w", err)
	}
	return seed, nil
}

// deriveState hashes the record ID together with its seed. The ID keeps states
// of live records distinct; the seed keeps them unguessable.
func deriveState(id int64, seed []byte) string {
	h := sha256.New()
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], uint64(id))
	h.Write(idBytes[:])
	h.Write(seed)
	return hex.EncodeToString(h.Sum(nil))
}

func statesEqual(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
