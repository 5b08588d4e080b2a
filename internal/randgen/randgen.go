// Package randgen is the core's random-bytes and UUID collaborator (§6).
// Every call draws from crypto/rand; unlike the original implementation
// (lib/src/remote/holepunch.c's random_uuidv4), nothing here reseeds a weak
// PRNG from wall-clock time, which is the source of the original's
// rapid-succession collision bug (§9).
package randgen

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/google/uuid"
)

// Bytes returns n cryptographically random bytes.
func Bytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("randgen: crypto/rand unavailable: " + err.Error())
	}
	return b
}

// UUIDv4 returns a fresh RFC 4122 version-4 UUID string, drawing its
// randomness from the process's crypto source each call.
func UUIDv4() string {
	return uuid.New().String()
}

// Uint16 returns a random 16-bit value, used for session ids.
func Uint16() uint16 {
	return binary.BigEndian.Uint16(Bytes(2))
}

// Uint32 returns a random 32-bit value, used for probe request ids.
func Uint32() uint32 {
	return binary.BigEndian.Uint32(Bytes(4))
}
