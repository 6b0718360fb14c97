// Package ulid implements the 26-character Crockford-base32 ULID used for
// Triple.txId, as specified in §3 and §9. The source's module-level mutable
// {lastTime, lastRandom} globals are re-architected here as a Generator
// value constructed once per process and threaded explicitly, per the §9
// "mutable module-level ULID state" design note.
package ulid

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/beenet-labs/graphlake/internal/binary"
)

// Length is the fixed length of an encoded ULID: 10 characters of
// timestamp plus 16 characters of randomness.
const Length = 26

const (
	timeChars   = 10
	randomChars = 16
)

// Generator produces monotonically non-decreasing ULIDs within a single
// process. The zero value is not usable; construct with NewGenerator.
type Generator struct {
	mu         sync.Mutex
	lastTimeMs uint64
	lastRandom [10]byte // 80 bits, matching the canonical ULID random field
}

// NewGenerator constructs a ULID generator. One Generator should be shared
// (or threaded explicitly) across all ULID issuance within a process so the
// monotonicity property in §3 ("ULIDs issued within a single process are
// monotonically non-decreasing") actually holds.
func NewGenerator() *Generator {
	return &Generator{}
}

// New issues a ULID for the given millisecond timestamp. If called again
// with a timestamp equal to the previous call, the random component is
// incremented by one (as an 80-bit big-endian integer) so ordering within
// the same millisecond is still strictly increasing; on overflow of the
// random component within a millisecond (vanishingly unlikely at realistic
// call rates) the timestamp is bumped by one to preserve monotonicity.
func (g *Generator) New(timestampMs uint64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if timestampMs < g.lastTimeMs {
		// Clock went backwards (or a caller passed a stale timestamp);
		// never emit an ID smaller than the last one issued.
		timestampMs = g.lastTimeMs
	}

	if timestampMs == g.lastTimeMs {
		if overflowed := incrementRandom(&g.lastRandom); overflowed {
			timestampMs++
			if _, err := rand.Read(g.lastRandom[:]); err != nil {
				return "", fmt.Errorf("ulid: failed to read random bytes: %w", err)
			}
		}
	} else {
		if _, err := rand.Read(g.lastRandom[:]); err != nil {
			return "", fmt.Errorf("ulid: failed to read random bytes: %w", err)
		}
	}
	g.lastTimeMs = timestampMs

	return encode(timestampMs, g.lastRandom), nil
}

// incrementRandom adds one to an 80-bit big-endian counter in place,
// returning true if it wrapped around to zero.
func incrementRandom(r *[10]byte) bool {
	for i := len(r) - 1; i >= 0; i-- {
		r[i]++
		if r[i] != 0 {
			return false
		}
	}
	return true
}

// encode renders a timestamp and 80-bit random payload as a 26-character
// Crockford base32 ULID: 10 chars of time, 16 chars of randomness.
func encode(timestampMs uint64, random [10]byte) string {
	timeBytes := []byte{
		byte(timestampMs >> 40), byte(timestampMs >> 32),
		byte(timestampMs >> 24), byte(timestampMs >> 16),
		byte(timestampMs >> 8), byte(timestampMs),
	}
	timePart := binary.EncodeCrockford(timeBytes)
	// 6 bytes of timestamp encode to 10 Crockford characters (48 bits / 5
	// bits-per-char, rounded up); trim any excess produced by padding.
	timePart = padOrTrim(timePart, timeChars)

	randomPart := binary.EncodeCrockford(random[:])
	randomPart = padOrTrim(randomPart, randomChars)

	return timePart + randomPart
}

func padOrTrim(s string, n int) string {
	if len(s) == n {
		return s
	}
	if len(s) > n {
		return s[:n]
	}
	out := make([]byte, n)
	copy(out[n-len(s):], s)
	for i := 0; i < n-len(s); i++ {
		out[i] = '0'
	}
	return string(out)
}

// Valid reports whether s is a syntactically valid ULID: exactly Length
// characters, all drawn from the Crockford alphabet (§4.2).
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := binary.DecodeCrockford(s)
	return err == nil
}

// Less reports whether a sorts strictly before b under byte-wise
// comparison of the ULID strings, which is equivalent to chronological
// order for valid ULIDs.
func Less(a, b string) bool {
	return a < b
}

// Parts decodes a valid ULID string into its timestamp (48 bits) and
// random (80 bits, returned as 10 raw bytes) components. Used by the
// GraphCol codec's delta-compressed txId column (§4.3), which exploits the
// fact that every triple in an import job shares one ULID (§4.9 step 2).
func Parts(id string) (timestampMs uint64, random [10]byte, err error) {
	if !Valid(id) {
		return 0, random, fmt.Errorf("ulid: %q is not a valid ULID", id)
	}
	timeBytes, err := binary.DecodeCrockford(id[:timeChars])
	if err != nil {
		return 0, random, fmt.Errorf("ulid: failed to decode time component: %w", err)
	}
	timeBytes = leftPadTo(timeBytes, 6)
	for _, b := range timeBytes {
		timestampMs = (timestampMs << 8) | uint64(b)
	}

	randomBytes, err := binary.DecodeCrockford(id[timeChars:])
	if err != nil {
		return 0, random, fmt.Errorf("ulid: failed to decode random component: %w", err)
	}
	randomBytes = leftPadTo(randomBytes, 10)
	copy(random[:], randomBytes)
	return timestampMs, random, nil
}

// FromParts re-encodes a (timestampMs, random) pair produced by Parts back
// into a ULID string.
func FromParts(timestampMs uint64, random [10]byte) string {
	return encode(timestampMs, random)
}

func leftPadTo(b []byte, n int) []byte {
	if len(b) == n {
		return b
	}
	if len(b) > n {
		return b[len(b)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}
