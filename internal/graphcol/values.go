package graphcol

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/beenet-labs/graphlake/internal/binary"
	"github.com/beenet-labs/graphlake/internal/model"
)

// encodeValueColumns appends the 18 fixed-order per-variant value
// columns. Every tag gets a section even when its occurrence count is
// zero, so decode never has to special-case an absent column.
func encodeValueColumns(
	dst []byte,
	triples []model.Triple,
	groups [][]int,
	namespace string,
	stringDict, refDict *dictBuilder,
	objTS *timestampColumn,
) ([]byte, error) {
	for tag := 0; tag < numVariants; tag++ {
		idxs := groups[tag]
		dst = binary.AppendVarint(dst, uint64(len(idxs)))

		switch model.Tag(tag) {
		case model.TagNull:
			// no payload

		case model.TagBool:
			for _, i := range idxs {
				if triples[i].Object.Bool() {
					dst = append(dst, 1)
				} else {
					dst = append(dst, 0)
				}
			}

		case model.TagInt32:
			col := &deltaInt64Column{}
			for _, i := range idxs {
				dst = col.encode(dst, int64(triples[i].Object.Int32()))
			}

		case model.TagInt64:
			col := &deltaInt64Column{}
			for _, i := range idxs {
				dst = col.encode(dst, triples[i].Object.Int64())
			}

		case model.TagFloat64:
			for _, i := range idxs {
				dst = appendFloat64(dst, triples[i].Object.Float64())
			}

		case model.TagString:
			for _, i := range idxs {
				dst = binary.AppendVarint(dst, stringDict.intern(triples[i].Object.Str()))
			}

		case model.TagBinary:
			for _, i := range idxs {
				b := triples[i].Object.Binary()
				dst = binary.AppendVarint(dst, uint64(len(b)))
				dst = append(dst, b...)
			}

		case model.TagTimestamp:
			dst = objTS.encodeBase(dst)
			for _, i := range idxs {
				dst = objTS.encodeValue(dst, triples[i].Object.TimestampMs())
			}

		case model.TagDate:
			col := &deltaInt64Column{}
			for _, i := range idxs {
				dst = col.encode(dst, triples[i].Object.DateDays())
			}

		case model.TagDuration:
			for _, i := range idxs {
				dst = binary.AppendVarint(dst, stringDict.intern(triples[i].Object.Str()))
			}

		case model.TagRef:
			for _, i := range idxs {
				dst = encodeRefLike(dst, triples[i].Object.Str(), namespace, refDict)
			}

		case model.TagRefArray:
			for _, i := range idxs {
				arr := triples[i].Object.RefArray()
				dst = binary.AppendVarint(dst, uint64(len(arr)))
				for _, u := range arr {
					dst = encodeRefLike(dst, u, namespace, refDict)
				}
			}

		case model.TagJSON:
			for _, i := range idxs {
				blob, err := canonicalJSON(triples[i].Object.JSON())
				if err != nil {
					return nil, model.ErrInvariantViolation("graphcol: JSON value at index %d failed to marshal: %v", i, err)
				}
				dst = binary.AppendVarint(dst, uint64(len(blob)))
				dst = append(dst, blob...)
			}

		case model.TagGeoPoint:
			for _, i := range idxs {
				blob, err := canonicalJSON(geoPointToJSON(triples[i].Object.GeoPoint()))
				if err != nil {
					return nil, model.ErrInvariantViolation("graphcol: GEO_POINT value at index %d failed to marshal: %v", i, err)
				}
				dst = binary.AppendVarint(dst, uint64(len(blob)))
				dst = append(dst, blob...)
			}

		case model.TagGeoPolygon:
			for _, i := range idxs {
				blob, err := canonicalJSON(geoPolygonToJSON(triples[i].Object.GeoPolygon()))
				if err != nil {
					return nil, model.ErrInvariantViolation("graphcol: GEO_POLYGON value at index %d failed to marshal: %v", i, err)
				}
				dst = binary.AppendVarint(dst, uint64(len(blob)))
				dst = append(dst, blob...)
			}

		case model.TagGeoLineString:
			for _, i := range idxs {
				blob, err := canonicalJSON(geoPointsToJSON(triples[i].Object.LineString()))
				if err != nil {
					return nil, model.ErrInvariantViolation("graphcol: GEO_LINESTRING value at index %d failed to marshal: %v", i, err)
				}
				dst = binary.AppendVarint(dst, uint64(len(blob)))
				dst = append(dst, blob...)
			}

		case model.TagURL:
			for _, i := range idxs {
				dst = encodeRefLike(dst, triples[i].Object.Str(), namespace, refDict)
			}

		case model.TagVector:
			for _, i := range idxs {
				vec := triples[i].Object.Vector()
				dst = binary.AppendVarint(dst, uint64(len(vec)))
				for _, f := range vec {
					dst = appendFloat64(dst, f)
				}
			}
		}
	}
	return dst, nil
}

// decodeValueColumns reads the 18 fixed-order value columns and then
// reassembles per-position values by walking objectTags, pulling the next
// unconsumed value from the column matching that position's tag. This is
// the decode side of the "skip list of (index, variant) pairs" in §4.3:
// the object-type column already records, per position, which variant's
// cursor to advance, so no separate index list needs to be stored.
func decodeValueColumns(c *cursor, objectTags []byte, namespace string, stringDict, refDict []string) ([]model.Value, error) {
	perTag := make([][]model.Value, numVariants)

	for tag := 0; tag < numVariants; tag++ {
		count, err := c.readVarint("valueColumn.count")
		if err != nil {
			return nil, err
		}
		n := int(count)
		values := make([]model.Value, 0, n)

		switch model.Tag(tag) {
		case model.TagNull:
			for i := 0; i < n; i++ {
				values = append(values, model.NewNull())
			}

		case model.TagBool:
			for i := 0; i < n; i++ {
				b, err := c.readByte("valueColumn.bool")
				if err != nil {
					return nil, err
				}
				values = append(values, model.NewBool(b != 0))
			}

		case model.TagInt32:
			col := &deltaInt64Column{}
			for i := 0; i < n; i++ {
				v, err := col.decode(c, "valueColumn.int32")
				if err != nil {
					return nil, err
				}
				val, err := model.NewInt32(v)
				if err != nil {
					return nil, model.ErrDecodeError("valueColumn.int32: %v", err)
				}
				values = append(values, val)
			}

		case model.TagInt64:
			col := &deltaInt64Column{}
			for i := 0; i < n; i++ {
				v, err := col.decode(c, "valueColumn.int64")
				if err != nil {
					return nil, err
				}
				values = append(values, model.NewInt64(v))
			}

		case model.TagFloat64:
			for i := 0; i < n; i++ {
				f, err := c.readFloat64("valueColumn.float64")
				if err != nil {
					return nil, err
				}
				val, err := model.NewFloat64(f)
				if err != nil {
					return nil, model.ErrDecodeError("valueColumn.float64: %v", err)
				}
				values = append(values, val)
			}

		case model.TagString:
			for i := 0; i < n; i++ {
				idx, err := c.readVarint("valueColumn.string")
				if err != nil {
					return nil, err
				}
				s, err := lookupDict(stringDict, idx, "valueColumn.string")
				if err != nil {
					return nil, err
				}
				values = append(values, model.NewString(s))
			}

		case model.TagBinary:
			for i := 0; i < n; i++ {
				b, err := c.readLenPrefixedBytes("valueColumn.binary")
				if err != nil {
					return nil, err
				}
				values = append(values, model.NewBinary(b))
			}

		case model.TagTimestamp:
			base, err := decodeTimestampBase(c, "valueColumn.timestamp.base")
			if err != nil {
				return nil, err
			}
			for i := 0; i < n; i++ {
				ms, err := decodeTimestampValue(c, base, "valueColumn.timestamp")
				if err != nil {
					return nil, err
				}
				values = append(values, model.NewTimestamp(ms))
			}

		case model.TagDate:
			col := &deltaInt64Column{}
			for i := 0; i < n; i++ {
				v, err := col.decode(c, "valueColumn.date")
				if err != nil {
					return nil, err
				}
				values = append(values, model.NewDate(v))
			}

		case model.TagDuration:
			for i := 0; i < n; i++ {
				idx, err := c.readVarint("valueColumn.duration")
				if err != nil {
					return nil, err
				}
				s, err := lookupDict(stringDict, idx, "valueColumn.duration")
				if err != nil {
					return nil, err
				}
				val, err := model.NewDuration(s)
				if err != nil {
					return nil, model.ErrDecodeError("valueColumn.duration: %v", err)
				}
				values = append(values, val)
			}

		case model.TagRef:
			for i := 0; i < n; i++ {
				s, err := decodeRefLike(c, namespace, refDict, "valueColumn.ref")
				if err != nil {
					return nil, err
				}
				values = append(values, model.NewRef(s))
			}

		case model.TagRefArray:
			for i := 0; i < n; i++ {
				arrLen, err := c.readVarint("valueColumn.refArray.len")
				if err != nil {
					return nil, err
				}
				arr := make([]string, arrLen)
				for j := range arr {
					s, err := decodeRefLike(c, namespace, refDict, "valueColumn.refArray")
					if err != nil {
						return nil, err
					}
					arr[j] = s
				}
				values = append(values, model.NewRefArray(arr))
			}

		case model.TagJSON:
			for i := 0; i < n; i++ {
				blob, err := c.readLenPrefixedBytes("valueColumn.json")
				if err != nil {
					return nil, err
				}
				if !utf8.Valid(blob) {
					return nil, errInvalidUTF8("valueColumn.json")
				}
				var decoded interface{}
				if err := json.Unmarshal(blob, &decoded); err != nil {
					return nil, model.ErrDecodeError("valueColumn.json: invalid JSON payload: %v", err)
				}
				values = append(values, model.NewJSON(decoded))
			}

		case model.TagGeoPoint:
			for i := 0; i < n; i++ {
				blob, err := c.readLenPrefixedBytes("valueColumn.geoPoint")
				if err != nil {
					return nil, err
				}
				if !utf8.Valid(blob) {
					return nil, errInvalidUTF8("valueColumn.geoPoint")
				}
				var pj geoPointJSON
				if err := json.Unmarshal(blob, &pj); err != nil {
					return nil, model.ErrDecodeError("valueColumn.geoPoint: invalid payload: %v", err)
				}
				values = append(values, model.NewGeoPoint(pj.Lat, pj.Lng))
			}

		case model.TagGeoPolygon:
			for i := 0; i < n; i++ {
				blob, err := c.readLenPrefixedBytes("valueColumn.geoPolygon")
				if err != nil {
					return nil, err
				}
				if !utf8.Valid(blob) {
					return nil, errInvalidUTF8("valueColumn.geoPolygon")
				}
				var pj geoPolygonJSON
				if err := json.Unmarshal(blob, &pj); err != nil {
					return nil, model.ErrDecodeError("valueColumn.geoPolygon: invalid payload: %v", err)
				}
				values = append(values, model.NewGeoPolygon(model.GeoPolygon{
					Exterior: jsonToGeoPoints(pj.Exterior),
					Holes:    jsonToGeoPointsSlice(pj.Holes),
				}))
			}

		case model.TagGeoLineString:
			for i := 0; i < n; i++ {
				blob, err := c.readLenPrefixedBytes("valueColumn.geoLineString")
				if err != nil {
					return nil, err
				}
				if !utf8.Valid(blob) {
					return nil, errInvalidUTF8("valueColumn.geoLineString")
				}
				var pts []geoPointJSON
				if err := json.Unmarshal(blob, &pts); err != nil {
					return nil, model.ErrDecodeError("valueColumn.geoLineString: invalid payload: %v", err)
				}
				values = append(values, model.NewGeoLineString(jsonToGeoPoints(pts)))
			}

		case model.TagURL:
			for i := 0; i < n; i++ {
				s, err := decodeRefLike(c, namespace, refDict, "valueColumn.url")
				if err != nil {
					return nil, err
				}
				values = append(values, model.NewURL(s))
			}

		case model.TagVector:
			for i := 0; i < n; i++ {
				vecLen, err := c.readVarint("valueColumn.vector.len")
				if err != nil {
					return nil, err
				}
				vec := make([]float64, vecLen)
				for j := range vec {
					f, err := c.readFloat64("valueColumn.vector")
					if err != nil {
						return nil, err
					}
					vec[j] = f
				}
				val, err := model.NewVector(vec)
				if err != nil {
					return nil, model.ErrDecodeError("valueColumn.vector: %v", err)
				}
				values = append(values, val)
			}
		}

		perTag[tag] = values
	}

	cursors := make([]int, numVariants)
	result := make([]model.Value, len(objectTags))
	for i, tag := range objectTags {
		if cursors[tag] >= len(perTag[tag]) {
			return nil, model.ErrDecodeError("valueColumn: object type column references more %s values than the column contains", model.Tag(tag))
		}
		result[i] = perTag[tag][cursors[tag]]
		cursors[tag]++
	}
	return result, nil
}

// geoPointJSON/geoPolygonJSON are the §4.3 "canonical text form" for the
// GEO_POINT/GEO_POLYGON/GEO_LINESTRING variants: length-prefixed UTF-8 of a
// deterministic JSON encoding, the same treatment TagJSON gets via
// canonicalJSON, rather than a fixed-width binary float pair.
type geoPointJSON struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type geoPolygonJSON struct {
	Exterior []geoPointJSON   `json:"exterior"`
	Holes    [][]geoPointJSON `json:"holes,omitempty"`
}

func geoPointToJSON(p model.GeoPoint) geoPointJSON {
	return geoPointJSON{Lat: p.Lat, Lng: p.Lng}
}

func geoPointsToJSON(pts []model.GeoPoint) []geoPointJSON {
	out := make([]geoPointJSON, len(pts))
	for i, p := range pts {
		out[i] = geoPointToJSON(p)
	}
	return out
}

func geoPolygonToJSON(p model.GeoPolygon) geoPolygonJSON {
	holes := make([][]geoPointJSON, len(p.Holes))
	for i, hole := range p.Holes {
		holes[i] = geoPointsToJSON(hole)
	}
	return geoPolygonJSON{Exterior: geoPointsToJSON(p.Exterior), Holes: holes}
}

func jsonToGeoPoints(pts []geoPointJSON) []model.GeoPoint {
	out := make([]model.GeoPoint, len(pts))
	for i, p := range pts {
		out[i] = model.GeoPoint{Lat: p.Lat, Lng: p.Lng}
	}
	return out
}

func jsonToGeoPointsSlice(holes [][]geoPointJSON) [][]model.GeoPoint {
	out := make([][]model.GeoPoint, len(holes))
	for i, hole := range holes {
		out[i] = jsonToGeoPoints(hole)
	}
	return out
}
