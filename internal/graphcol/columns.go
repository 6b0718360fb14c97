package graphcol

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/beenet-labs/graphlake/internal/binary"
	"github.com/beenet-labs/graphlake/internal/model"
	"github.com/beenet-labs/graphlake/internal/ulid"
)

// prefixStrip relativizes s against namespace when it is actually a
// prefix, the common case for subjects and refs within one import job's
// namespace (§4.3: "prefix-stripping"). The flag byte on the wire records
// which branch a given value took so decode never has to guess.
const (
	refFlagDict     = 0
	refFlagVerbatim = 1
)

func prefixStrip(namespace, s string) (string, bool) {
	if namespace != "" && strings.HasPrefix(s, namespace) {
		return s[len(namespace):], true
	}
	return s, false
}

// encodeRefLike appends one subject/REF/URL-shaped string: a flag byte
// followed by either a dictionary index (stripped of namespace) or a
// varint-length-prefixed verbatim string.
func encodeRefLike(dst []byte, s, namespace string, dict *dictBuilder) []byte {
	stripped, matched := prefixStrip(namespace, s)
	if matched {
		dst = append(dst, refFlagDict)
		dst = binary.AppendVarint(dst, dict.intern(stripped))
		return dst
	}
	dst = append(dst, refFlagVerbatim)
	dst = binary.AppendVarint(dst, uint64(len(s)))
	dst = append(dst, s...)
	return dst
}

func decodeRefLike(c *cursor, namespace string, dict []string, section string) (string, error) {
	flag, err := c.readByte(section)
	if err != nil {
		return "", err
	}
	switch flag {
	case refFlagDict:
		idx, err := c.readVarint(section)
		if err != nil {
			return "", err
		}
		stripped, err := lookupDict(dict, idx, section)
		if err != nil {
			return "", err
		}
		return namespace + stripped, nil
	case refFlagVerbatim:
		return c.readLenPrefixedString(section)
	default:
		return "", model.ErrDecodeError("%s: unrecognized ref flag byte %d", section, flag)
	}
}

// deltaInt64Column accumulates a running-previous-value delta stream for
// INT32/INT64/DATE columns: each encoded value is ZigZag(current-previous),
// with previous starting at zero (§4.3: "delta+ZigZag+varint for numerics").
type deltaInt64Column struct {
	prev int64
}

func (d *deltaInt64Column) encode(dst []byte, v int64) []byte {
	dst = binary.AppendSignedVarint(dst, v-d.prev)
	d.prev = v
	return dst
}

func (d *deltaInt64Column) decode(c *cursor, section string) (int64, error) {
	delta, err := c.readSignedVarint(section)
	if err != nil {
		return 0, err
	}
	v := d.prev + delta
	d.prev = v
	return v, nil
}

// timestampColumn encodes TIMESTAMP values as a base (the minimum value
// seen, written once) plus a per-value ZigZag-varint delta from that base
// (§4.3).
type timestampColumn struct {
	base    uint64
	baseSet bool
}

func (t *timestampColumn) noteValue(ms uint64) {
	if !t.baseSet || ms < t.base {
		t.base = ms
		t.baseSet = true
	}
}

func (t *timestampColumn) encodeBase(dst []byte) []byte {
	return binary.AppendVarint(dst, t.base)
}

func (t *timestampColumn) encodeValue(dst []byte, ms uint64) []byte {
	return binary.AppendSignedVarint(dst, int64(ms)-int64(t.base))
}

func decodeTimestampBase(c *cursor, section string) (uint64, error) {
	return c.readVarint(section)
}

func decodeTimestampValue(c *cursor, base uint64, section string) (uint64, error) {
	delta, err := c.readSignedVarint(section)
	if err != nil {
		return 0, err
	}
	return uint64(int64(base) + delta), nil
}

// encodeTxIDColumn writes the base-offset ULID plus per-row deltas
// described in §4.3. Every triple produced by one import job shares a
// single txId (§4.9 step 2), so in the overwhelming common case every
// delta is zero; this still round-trips correctly for the general case of
// mixed txIds within one GraphCol frame.
type txIDColumn struct {
	baseTimeMs uint64
	baseRandom [10]byte
	baseSet    bool
}

func (t *txIDColumn) noteBase(id string) error {
	if t.baseSet {
		return nil
	}
	ms, random, err := ulid.Parts(id)
	if err != nil {
		return model.ErrInvariantViolation("graphcol: txId %q failed to decode for column base: %v", id, err)
	}
	t.baseTimeMs, t.baseRandom, t.baseSet = ms, random, true
	return nil
}

func (t *txIDColumn) encodeBase(dst []byte) []byte {
	dst = binary.AppendVarint(dst, t.baseTimeMs)
	dst = append(dst, t.baseRandom[:]...)
	return dst
}

func (t *txIDColumn) encodeValue(dst []byte, id string) ([]byte, error) {
	ms, random, err := ulid.Parts(id)
	if err != nil {
		return nil, model.ErrInvariantViolation("graphcol: txId %q failed to decode: %v", id, err)
	}
	timeDelta := int64(ms) - int64(t.baseTimeMs)
	dst = binary.AppendSignedVarint(dst, timeDelta)

	randomDelta := new(big.Int).Sub(bigFromBytes(random[:]), bigFromBytes(t.baseRandom[:]))
	dst = appendBigDelta(dst, randomDelta)
	return dst, nil
}

func decodeTxIDBase(c *cursor, section string) (uint64, [10]byte, error) {
	var random [10]byte
	ms, err := c.readVarint(section)
	if err != nil {
		return 0, random, err
	}
	b, err := c.readBytes(section, 10)
	if err != nil {
		return 0, random, err
	}
	copy(random[:], b)
	return ms, random, nil
}

func decodeTxIDValue(c *cursor, baseTimeMs uint64, baseRandom [10]byte, section string) (string, error) {
	timeDelta, err := c.readSignedVarint(section)
	if err != nil {
		return "", err
	}
	randomDelta, err := readBigDelta(c, section)
	if err != nil {
		return "", err
	}
	ms := uint64(int64(baseTimeMs) + timeDelta)
	randomBig := new(big.Int).Add(bigFromBytes(baseRandom[:]), randomDelta)
	random := bigToFixedBytes(randomBig, 10)
	var fixed [10]byte
	copy(fixed[:], random)
	return ulid.FromParts(ms, fixed), nil
}

func bigFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// bigToFixedBytes renders v (always non-negative for a valid ULID random
// field) as exactly n big-endian bytes, left-padding with zeros.
func bigToFixedBytes(v *big.Int, n int) []byte {
	raw := v.Bytes()
	if len(raw) >= n {
		return raw[len(raw)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(raw):], raw)
	return out
}

// appendBigDelta writes an arbitrary-precision signed delta as a sign byte
// (0 non-negative, 1 negative), a varint byte-length, and the big-endian
// magnitude bytes.
func appendBigDelta(dst []byte, v *big.Int) []byte {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	mag := new(big.Int).Abs(v).Bytes()
	dst = append(dst, sign)
	dst = binary.AppendVarint(dst, uint64(len(mag)))
	dst = append(dst, mag...)
	return dst
}

func readBigDelta(c *cursor, section string) (*big.Int, error) {
	sign, err := c.readByte(section)
	if err != nil {
		return nil, err
	}
	n, err := c.readVarint(section)
	if err != nil {
		return nil, err
	}
	mag, err := c.readBytes(section, int(n))
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(mag)
	if sign == 1 {
		v.Neg(v)
	}
	return v, nil
}

// canonicalJSON marshals v deterministically; encoding/json already emits
// object keys in sorted order for map[string]interface{}, which is the
// shape NewJSON values take in practice.
func canonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
