// Package graphcol implements the GraphCol binary columnar codec of §4.3:
// a CRC-framed, dictionary-compressed encoding for batches of triples.
// Values are stored column-wise (all subjects together, all predicates
// together, one column per value variant) so repeated strings collapse
// into dictionary indices and monotonic numeric fields collapse into
// small deltas, the same trade the teacher's pkg/content package makes for
// chunk manifests, generalized here to the triple model of this spec.
package graphcol

import (
	"github.com/beenet-labs/graphlake/internal/binary"
	"github.com/beenet-labs/graphlake/internal/model"
)

var magic = [4]byte{'G', 'C', 'O', 'L'}

const formatVersion uint16 = 1

const numVariants = int(model.TagVector) + 1

// Encode serializes triples into a single GraphCol frame. namespace is the
// common URL prefix (if any) used to prefix-strip subjects, REFs, and URLs
// before dictionary interning; pass "" to disable stripping.
func Encode(namespace string, triples []model.Triple) ([]byte, error) {
	subjectDict := newDictBuilder()
	predicateDict := newDictBuilder()
	stringDict := newDictBuilder()
	refDict := newDictBuilder()
	tripleTS := &timestampColumn{}
	objTS := &timestampColumn{}
	txc := &txIDColumn{}

	groups := make([][]int, numVariants)

	for i, t := range triples {
		if stripped, matched := prefixStrip(namespace, t.Subject); matched {
			subjectDict.intern(stripped)
		}
		predicateDict.intern(t.Predicate)
		tripleTS.noteValue(t.Timestamp)
		if err := txc.noteBase(t.TxID); err != nil {
			return nil, err
		}

		tag := t.Object.Tag()
		if int(tag) >= numVariants {
			return nil, model.ErrInvariantViolation("graphcol: triple %d has unrecognized object tag %d", i, tag)
		}
		groups[tag] = append(groups[tag], i)

		switch tag {
		case model.TagString, model.TagDuration:
			stringDict.intern(t.Object.Str())
		case model.TagRef, model.TagURL:
			if stripped, matched := prefixStrip(namespace, t.Object.Str()); matched {
				refDict.intern(stripped)
			}
		case model.TagRefArray:
			for _, u := range t.Object.RefArray() {
				if stripped, matched := prefixStrip(namespace, u); matched {
					refDict.intern(stripped)
				}
			}
		case model.TagTimestamp:
			objTS.noteValue(t.Object.TimestampMs())
		}
	}

	var dst []byte
	dst = append(dst, magic[:]...)
	dst = append(dst, byte(formatVersion>>8), byte(formatVersion))
	dst = binary.AppendVarint(dst, uint64(len(triples)))
	dst = binary.AppendVarint(dst, uint64(len(namespace)))
	dst = append(dst, namespace...)

	dst = subjectDict.encode(dst)
	dst = predicateDict.encode(dst)
	dst = stringDict.encode(dst)
	dst = refDict.encode(dst)

	dst = tripleTS.encodeBase(dst)
	dst = txc.encodeBase(dst)

	for _, t := range triples {
		dst = encodeRefLike(dst, t.Subject, namespace, subjectDict)
	}
	for _, t := range triples {
		dst = binary.AppendVarint(dst, predicateDict.intern(t.Predicate))
	}
	for _, t := range triples {
		dst = tripleTS.encodeValue(dst, t.Timestamp)
	}
	for _, t := range triples {
		var err error
		dst, err = txc.encodeValue(dst, t.TxID)
		if err != nil {
			return nil, err
		}
	}
	for _, t := range triples {
		dst = append(dst, byte(t.Object.Tag()))
	}

	var err error
	dst, err = encodeValueColumns(dst, triples, groups, namespace, stringDict, refDict, objTS)
	if err != nil {
		return nil, err
	}

	crc := binary.CRC32(dst)
	dst = append(dst, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	dst = append(dst, magic[:]...)
	return dst, nil
}

// Decode parses a GraphCol frame back into an ordered slice of triples.
func Decode(buf []byte) ([]model.Triple, error) {
	if len(buf) < 8 {
		return nil, errTruncatedSection("trailer", 8, len(buf))
	}
	body := buf[:len(buf)-8]
	trailer := buf[len(buf)-8:]
	if trailer[4] != magic[0] || trailer[5] != magic[1] || trailer[6] != magic[2] || trailer[7] != magic[3] {
		return nil, errBadMagic(trailer[4:8])
	}
	wantCRC := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])
	gotCRC := binary.CRC32(body)
	if wantCRC != gotCRC {
		return nil, errCrcMismatch(wantCRC, gotCRC)
	}

	c := newCursor(body)
	if len(body) < 4 || body[0] != magic[0] || body[1] != magic[1] || body[2] != magic[2] || body[3] != magic[3] {
		got := body
		if len(got) > 4 {
			got = got[:4]
		}
		return nil, errBadMagic(got)
	}
	c.pos = 4

	verBytes, err := c.readBytes("header.version", 2)
	if err != nil {
		return nil, err
	}
	version := uint16(verBytes[0])<<8 | uint16(verBytes[1])
	if version != formatVersion {
		return nil, errUnsupportedVersion(version)
	}

	tripleCount, err := c.readVarint("header.tripleCount")
	if err != nil {
		return nil, err
	}
	namespace, err := c.readLenPrefixedString("header.namespace")
	if err != nil {
		return nil, err
	}

	subjectDict, err := decodeDict(c, "dict.subject")
	if err != nil {
		return nil, err
	}
	predicateDict, err := decodeDict(c, "dict.predicate")
	if err != nil {
		return nil, err
	}
	stringDict, err := decodeDict(c, "dict.string")
	if err != nil {
		return nil, err
	}
	refDict, err := decodeDict(c, "dict.ref")
	if err != nil {
		return nil, err
	}

	tripleTSBase, err := decodeTimestampBase(c, "column.tripleTimestamp.base")
	if err != nil {
		return nil, err
	}
	txBaseTimeMs, txBaseRandom, err := decodeTxIDBase(c, "column.txId.base")
	if err != nil {
		return nil, err
	}

	n := int(tripleCount)
	subjects := make([]string, n)
	for i := 0; i < n; i++ {
		s, err := decodeRefLike(c, namespace, subjectDict, "column.subject")
		if err != nil {
			return nil, err
		}
		subjects[i] = s
	}
	predicates := make([]string, n)
	for i := 0; i < n; i++ {
		idx, err := c.readVarint("column.predicate")
		if err != nil {
			return nil, err
		}
		p, err := lookupDict(predicateDict, idx, "column.predicate")
		if err != nil {
			return nil, err
		}
		predicates[i] = p
	}
	timestamps := make([]uint64, n)
	for i := 0; i < n; i++ {
		ts, err := decodeTimestampValue(c, tripleTSBase, "column.tripleTimestamp")
		if err != nil {
			return nil, err
		}
		timestamps[i] = ts
	}
	txIDs := make([]string, n)
	for i := 0; i < n; i++ {
		id, err := decodeTxIDValue(c, txBaseTimeMs, txBaseRandom, "column.txId")
		if err != nil {
			return nil, err
		}
		txIDs[i] = id
	}
	objectTags := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := c.readByte("column.objectType")
		if err != nil {
			return nil, err
		}
		if int(b) >= numVariants {
			return nil, errUnknownVariant(b)
		}
		objectTags[i] = b
	}

	values, err := decodeValueColumns(c, objectTags, namespace, stringDict, refDict)
	if err != nil {
		return nil, err
	}

	triples := make([]model.Triple, n)
	for i := 0; i < n; i++ {
		triples[i] = model.Triple{
			Subject:   subjects[i],
			Predicate: predicates[i],
			Object:    values[i],
			Timestamp: timestamps[i],
			TxID:      txIDs[i],
		}
	}
	return triples, nil
}
