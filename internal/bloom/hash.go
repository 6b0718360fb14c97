// Package bloom implements the FNV-1a double-hash and the bloom filter of
// §4.4, grounded on beenet's content-hashing posture (pkg/content/cid.go)
// but using the hash family §4.4 explicitly mandates (FNV-1a), not BLAKE3.
package bloom

const (
	fnvOffsetBasis32 uint32 = 2166136261
	fnvPrime32       uint32 = 16777619
)

// fnv1a32 computes the 32-bit FNV-1a hash of data.
func fnv1a32(data []byte) uint32 {
	h := fnvOffsetBasis32
	for _, b := range data {
		h ^= uint32(b)
		h *= fnvPrime32
	}
	return h
}

// doubleHash produces two decorrelated 32-bit hashes of id for use in
// Kirsch-Mitzenmacher bloom indexing: h1 is plain FNV-1a; h2 applies an
// extra per-byte right-shift XOR to the accumulator so it doesn't just
// track h1 (§4.4: "applies an extra right-shift XOR on the second
// accumulator per character to decorrelate from the first").
func doubleHash(id []byte) (h1, h2 uint32) {
	h1 = fnvOffsetBasis32
	h2 = fnvOffsetBasis32
	for _, b := range id {
		h1 ^= uint32(b)
		h1 *= fnvPrime32

		h2 ^= uint32(b)
		h2 *= fnvPrime32
		h2 ^= h2 >> 15
	}
	return h1, h2
}
