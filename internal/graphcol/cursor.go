package graphcol

import (
	"unicode/utf8"

	"github.com/beenet-labs/graphlake/internal/binary"
)

// cursor is a bounds-checked reading position over an in-memory GraphCol
// frame. Every read helper returns a TruncatedSection error (named via the
// section argument) instead of panicking on a short buffer, matching the
// §7 posture that a malformed frame is a DecodeError, never a crash.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *cursor) readByte(section string) (byte, error) {
	if c.remaining() < 1 {
		return 0, errTruncatedSection(section, 1, c.remaining())
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) readBytes(section string, n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, errTruncatedSection(section, n, c.remaining())
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) readVarint(section string) (uint64, error) {
	v, n, err := binary.DecodeVarint(c.buf[c.pos:])
	if err != nil {
		return 0, errTruncatedSection(section, 1, c.remaining())
	}
	c.pos += n
	return v, nil
}

func (c *cursor) readSignedVarint(section string) (int64, error) {
	v, n, err := binary.DecodeSignedVarint(c.buf[c.pos:])
	if err != nil {
		return 0, errTruncatedSection(section, 1, c.remaining())
	}
	c.pos += n
	return v, nil
}

// readLenPrefixedBytes reads a varint length followed by that many raw
// bytes, the shape used throughout GraphCol for dictionary entries,
// verbatim strings, and opaque binary payloads.
func (c *cursor) readLenPrefixedBytes(section string) ([]byte, error) {
	n, err := c.readVarint(section)
	if err != nil {
		return nil, err
	}
	return c.readBytes(section, int(n))
}

// readLenPrefixedString reads a length-prefixed string and rejects
// anything that isn't valid UTF-8 (§4.3: "strings are always treated as
// UTF-8; invalid UTF-8 fails decode"). This is the choke point for every
// length-prefixed string in the format: dictionary entries, the header
// namespace, and verbatim (non-dictionary) ref/URL values.
func (c *cursor) readLenPrefixedString(section string) (string, error) {
	b, err := c.readLenPrefixedBytes(section)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errInvalidUTF8(section)
	}
	return string(b), nil
}

func (c *cursor) readFloat64(section string) (float64, error) {
	b, err := c.readBytes(section, 8)
	if err != nil {
		return 0, err
	}
	return bytesToFloat64(b), nil
}
