package dht

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// NewID derives an id inside a 2^bits world from a name: the top bits of
// the SHAKE-256 digest of the name. bits must be in [1, 64].
func NewID(name string, bits int) uint64 {
	if bits < 1 || bits > 64 {
		violationf("log world size %d outside [1, 64]", bits)
	}
	var sum [8]byte
	sha3.ShakeSum256(sum[:], []byte(name))
	return binary.BigEndian.Uint64(sum[:]) >> (64 - uint(bits))
}
