package wsengine

import (
	"crypto/rand"
	"encoding/binary"
)

// NewMaskKey returns a fresh random masking key.
func NewMaskKey() [4]byte {
	var key [4]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(key[:])
	return key
}

// maskBytes XORs b in place with key, where b starts pos bytes into the
// frame payload, and returns the payload position right after b.
// Masking is an involution: applying it twice with the same key and pos
// restores the input.
func maskBytes(key [4]byte, pos int, b []byte) int {
	end := pos + len(b)

	// rotate the key so that k[0] applies to b[0]
	var k [4]byte
	for i := range k {
		k[i] = key[(pos+i)&3]
	}

	if len(b) >= 8 {
		k32 := binary.BigEndian.Uint32(k[:])
		k64 := uint64(k32)<<32 | uint64(k32)

		for len(b) >= 32 {
			v := binary.BigEndian.Uint64(b)
			binary.BigEndian.PutUint64(b, v^k64)
			v = binary.BigEndian.Uint64(b[8:16])
			binary.BigEndian.PutUint64(b[8:16], v^k64)
			v = binary.BigEndian.Uint64(b[16:24])
			binary.BigEndian.PutUint64(b[16:24], v^k64)
			v = binary.BigEndian.Uint64(b[24:32])
			binary.BigEndian.PutUint64(b[24:32], v^k64)
			b = b[32:]
		}

		for len(b) >= 8 {
			v := binary.BigEndian.Uint64(b)
			binary.BigEndian.PutUint64(b, v^k64)
			b = b[8:]
		}
	}

	for i := range b {
		b[i] ^= k[i&3]
	}

	return end
}
