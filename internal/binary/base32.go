package binary

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// crockfordAlphabet is the Crockford base32 alphabet: digits 0-9 then
// letters excluding I, L, O, U (to avoid visual confusion), used for ULIDs.
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordDecodeTable [256]int8

func init() {
	for i := range crockfordDecodeTable {
		crockfordDecodeTable[i] = -1
	}
	for i, c := range crockfordAlphabet {
		crockfordDecodeTable[c] = int8(i)
	}
	// Accept lowercase input too, mapping onto the same values.
	for i, c := range strings.ToLower(crockfordAlphabet) {
		crockfordDecodeTable[c] = int8(i)
	}
}

// EncodeCrockford encodes data as Crockford base32, 5 bits per output
// character, padding the final group with zero bits (no '=' padding
// character, matching ULID convention).
func EncodeCrockford(data []byte) string {
	var sb strings.Builder
	sb.Grow((len(data)*8 + 4) / 5)

	var buf uint64
	bits := 0
	for _, b := range data {
		buf = (buf << 8) | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			sb.WriteByte(crockfordAlphabet[(buf>>uint(bits))&0x1F])
		}
	}
	if bits > 0 {
		sb.WriteByte(crockfordAlphabet[(buf<<uint(5-bits))&0x1F])
	}
	return sb.String()
}

// DecodeCrockford decodes a Crockford base32 string produced by
// EncodeCrockford. It rejects any byte outside the Crockford alphabet.
func DecodeCrockford(s string) ([]byte, error) {
	var buf uint64
	bits := 0
	out := make([]byte, 0, len(s)*5/8+1)
	for i := 0; i < len(s); i++ {
		v := crockfordDecodeTable[s[i]]
		if v < 0 {
			return nil, fmt.Errorf("binary: invalid crockford base32 character %q at offset %d", s[i], i)
		}
		buf = (buf << 5) | uint64(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buf>>uint(bits)))
		}
	}
	return out, nil
}

// base64Encoding is the standard alphabet with '+','/' and '=' padding, used
// for bloom filter bit arrays in the JSON wire format (§6).
var base64Encoding = base64.StdEncoding

// EncodeBase64 encodes data using the standard base64 alphabet.
func EncodeBase64(data []byte) string {
	return base64Encoding.EncodeToString(data)
}

// DecodeBase64 decodes data encoded with EncodeBase64.
func DecodeBase64(s string) ([]byte, error) {
	return base64Encoding.DecodeString(s)
}
