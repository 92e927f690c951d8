package wsengine

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestMaskBytes(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	b := []byte("hello")

	end := maskBytes(key, 0, b)

	want := []byte{'h' ^ 1, 'e' ^ 2, 'l' ^ 3, 'l' ^ 4, 'o' ^ 1}
	if !bytes.Equal(b, want) {
		t.Errorf("maskBytes() = % x, want % x", b, want)
	}
	if end != 5 {
		t.Errorf("maskBytes() = %d, want 5", end)
	}
}

func TestMaskInvolution(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, size := range []int{0, 1, 3, 7, 8, 31, 32, 33, 100, 1000} {
		for _, pos := range []int{0, 1, 2, 3, 5} {
			orig := make([]byte, size)
			rng.Read(orig)
			key := [4]byte{byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(256))}

			b := bytes.Clone(orig)
			maskBytes(key, pos, b)
			maskBytes(key, pos, b)

			if !bytes.Equal(b, orig) {
				t.Errorf("size %d pos %d: masking twice did not restore the input", size, pos)
			}
		}
	}
}

func TestMaskSplitMatchesWhole(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	orig := make([]byte, 257)
	rng.Read(orig)
	key := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}

	whole := bytes.Clone(orig)
	maskBytes(key, 0, whole)

	for _, chunk := range []int{1, 2, 3, 5, 9, 40, 100} {
		split := bytes.Clone(orig)
		pos := 0
		for off := 0; off < len(split); off += chunk {
			end := min(off+chunk, len(split))
			pos = maskBytes(key, pos, split[off:end])
		}

		if !bytes.Equal(split, whole) {
			t.Errorf("chunk %d: split masking differs from whole masking", chunk)
		}
	}
}

func BenchmarkMaskBytes(b *testing.B) {
	buf := make([]byte, 4096)
	key := NewMaskKey()

	b.SetBytes(int64(len(buf)))
	for i := 0; i < b.N; i++ {
		maskBytes(key, i, buf)
	}
}
