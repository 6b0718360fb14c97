// Package chunkid computes an auxiliary BLAKE3-256 content hash for a
// finalized GraphCol chunk frame. §3 already frames every chunk with a
// CRC32 trailer for wire-level corruption; this adds a second,
// cryptographic-strength check a manifest can carry alongside a chunk's
// path, so a verifier can catch silent substitution (wrong bytes with a
// coincidentally-valid CRC) as well as outright corruption.
//
// Grounded on beenet's pkg/content CID scheme, trimmed to the one
// operation this package needs: hash bytes, encode them compactly, and
// compare.
package chunkid

import (
	"encoding/base32"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// Prefix tags an encoded content hash as belonging to this scheme, the
// way beenet's CIDPrefix disambiguates its own hash strings.
const Prefix = "gcol"

// Size is the BLAKE3-256 digest length in bytes.
const Size = 32

// Hash computes the content hash of a finalized chunk frame.
func Hash(frame []byte) string {
	digest := blake3.Sum256(frame)
	return encode(digest[:])
}

// Verify reports whether frame's content hash matches want (as produced
// by Hash). A mismatch distinguishes "this chunk was quietly replaced"
// from a CRC failure, which only catches transport corruption.
func Verify(frame []byte, want string) error {
	got := Hash(frame)
	if got != want {
		return fmt.Errorf("chunkid: content hash mismatch: expected %s, got %s", want, got)
	}
	return nil
}

func encode(hash []byte) string {
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(hash)
	return fmt.Sprintf("%s:%s", Prefix, strings.ToLower(encoded))
}
