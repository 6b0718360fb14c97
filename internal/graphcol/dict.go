package graphcol

import "github.com/beenet-labs/graphlake/internal/binary"

// dictBuilder deduplicates strings into a stable, first-seen-order
// dictionary and hands back a varint index for each distinct value. Used
// for subjects, predicates, generic strings, and entity-URL-like values
// (REF/REF_ARRAY/URL), each of which repeats heavily across a batch of
// triples (§4.3: "a string dictionary dedups repeated values").
type dictBuilder struct {
	index  map[string]uint64
	values []string
}

func newDictBuilder() *dictBuilder {
	return &dictBuilder{index: make(map[string]uint64)}
}

// intern returns the dictionary index for s, assigning a new one on first
// occurrence.
func (d *dictBuilder) intern(s string) uint64 {
	if idx, ok := d.index[s]; ok {
		return idx
	}
	idx := uint64(len(d.values))
	d.index[s] = idx
	d.values = append(d.values, s)
	return idx
}

// encode appends the dictionary section: varint count, then each entry as
// a varint length followed by its UTF-8 bytes.
func (d *dictBuilder) encode(dst []byte) []byte {
	dst = binary.AppendVarint(dst, uint64(len(d.values)))
	for _, s := range d.values {
		dst = binary.AppendVarint(dst, uint64(len(s)))
		dst = append(dst, s...)
	}
	return dst
}

// decodeDict reads a dictionary section written by dictBuilder.encode.
func decodeDict(c *cursor, section string) ([]string, error) {
	count, err := c.readVarint(section)
	if err != nil {
		return nil, err
	}
	values := make([]string, count)
	for i := range values {
		s, err := c.readLenPrefixedString(section)
		if err != nil {
			return nil, err
		}
		values[i] = s
	}
	return values, nil
}

func lookupDict(values []string, idx uint64, section string) (string, error) {
	if idx >= uint64(len(values)) {
		return "", errTruncatedSection(section, int(idx)+1, len(values))
	}
	return values[idx], nil
}
