package model

import (
	"fmt"
	"math"
	"regexp"
)

// Tag identifies which of the 18 value variants a Value holds. Per the §9
// design note ("prohibit default arms"), every switch over Tag in this
// module is expected to be exhaustive; adding a 19th variant should be
// caught by the compiler wherever that discipline is followed with a
// typed visitor instead of a bare switch.
type Tag uint8

const (
	TagNull Tag = iota
	TagBool
	TagInt32
	TagInt64
	TagFloat64
	TagString
	TagBinary
	TagTimestamp
	TagDate
	TagDuration
	TagRef
	TagRefArray
	TagJSON
	TagGeoPoint
	TagGeoPolygon
	TagGeoLineString
	TagURL
	TagVector
)

// tagNames lets error messages and the UnknownVariant decode failure name
// a tag without a giant switch at every call site.
var tagNames = [...]string{
	"NULL", "BOOL", "INT32", "INT64", "FLOAT64", "STRING", "BINARY",
	"TIMESTAMP", "DATE", "DURATION", "REF", "REF_ARRAY", "JSON",
	"GEO_POINT", "GEO_POLYGON", "GEO_LINESTRING", "URL", "VECTOR",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// GeoPoint is {lat, lng} as specified for the GEO_POINT variant.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// GeoPolygon is an exterior ring plus optional interior holes, each a
// closed ring of GeoPoints.
type GeoPolygon struct {
	Exterior []GeoPoint
	Holes    [][]GeoPoint
}

// Value is a tagged union over the 18 variants of §3. Exactly one of the
// payload fields is meaningful for a given Tag; constructors below are the
// supported way to build a Value so callers can't mismatch tag and payload.
type Value struct {
	tag Tag

	boolVal    bool
	int64Val   int64
	float64Val float64
	stringVal  string
	bytesVal   []byte
	refArray   []string
	jsonVal    interface{}
	geoPoint   GeoPoint
	geoPolygon GeoPolygon
	lineString []GeoPoint
	vector     []float64
}

// Tag returns the variant this Value holds.
func (v Value) Tag() Tag { return v.tag }

func NewNull() Value { return Value{tag: TagNull} }

func NewBool(b bool) Value { return Value{tag: TagBool, boolVal: b} }

// NewInt32 bounds-checks v against the signed 32-bit range per §3.
func NewInt32(v int64) (Value, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return Value{}, ErrInputValidation("INT32 value %d out of range [%d, %d]", v, math.MinInt32, math.MaxInt32)
	}
	return Value{tag: TagInt32, int64Val: v}, nil
}

func NewInt64(v int64) Value { return Value{tag: TagInt64, int64Val: v} }

// NewFloat64 rejects non-finite values per §3 ("FLOAT64: IEEE-754 double,
// finite").
func NewFloat64(v float64) (Value, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}, ErrInputValidation("FLOAT64 value must be finite, got %v", v)
	}
	return Value{tag: TagFloat64, float64Val: v}, nil
}

func NewString(s string) Value { return Value{tag: TagString, stringVal: s} }

func NewBinary(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{tag: TagBinary, bytesVal: cp}
}

// NewTimestamp stores unsigned milliseconds since epoch.
func NewTimestamp(ms uint64) Value { return Value{tag: TagTimestamp, int64Val: int64(ms)} }

// NewDate stores signed days since epoch.
func NewDate(days int64) Value { return Value{tag: TagDate, int64Val: days} }

var durationPattern = regexp.MustCompile(
	`^P(\d+Y)?(\d+M)?(\d+W)?(\d+D)?(T(\d+H)?(\d+M)?(\d+(\.\d+)?S)?)?$`)

// NewDuration validates the ISO-8601 duration grammar from §8's boundary
// behaviors: `P(nY)?(nM)?(nW)?(nD)?(T(nH)?(nM)?(n(.n)?S)?)?`.
func NewDuration(iso string) (Value, error) {
	if iso == "" || iso == "P" || !durationPattern.MatchString(iso) {
		return Value{}, ErrInputValidation("invalid ISO-8601 duration %q", iso)
	}
	return Value{tag: TagDuration, stringVal: iso}, nil
}

// NewRef stores a REF value; the caller is responsible for validating the
// entity URL with ValidateEntityURL before construction (§4.2's "consumed
// contract" — the core re-validates at persistence, see graphcol).
func NewRef(entityURL string) Value { return Value{tag: TagRef, stringVal: entityURL} }

func NewRefArray(urls []string) Value {
	cp := make([]string, len(urls))
	copy(cp, urls)
	return Value{tag: TagRefArray, refArray: cp}
}

func NewJSON(v interface{}) Value { return Value{tag: TagJSON, jsonVal: v} }

func NewGeoPoint(lat, lng float64) Value {
	return Value{tag: TagGeoPoint, geoPoint: GeoPoint{Lat: lat, Lng: lng}}
}

func NewGeoPolygon(p GeoPolygon) Value { return Value{tag: TagGeoPolygon, geoPolygon: p} }

func NewGeoLineString(points []GeoPoint) Value {
	cp := make([]GeoPoint, len(points))
	copy(cp, points)
	return Value{tag: TagGeoLineString, lineString: cp}
}

func NewURL(u string) Value { return Value{tag: TagURL, stringVal: u} }

// NewVector rejects non-finite components per its VECTOR semantics
// ("ordered sequence of finite doubles").
func NewVector(vec []float64) (Value, error) {
	for i, f := range vec {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, ErrInputValidation("VECTOR component %d is not finite: %v", i, f)
		}
	}
	cp := make([]float64, len(vec))
	copy(cp, vec)
	return Value{tag: TagVector, vector: cp}, nil
}

// Accessors. Each panics if called against the wrong tag: callers are
// expected to switch on Tag() first, matching the "exhaustive pattern
// match, no default arm" discipline from §9.

func (v Value) Bool() bool           { v.mustBe(TagBool); return v.boolVal }
func (v Value) Int32() int32         { v.mustBe(TagInt32); return int32(v.int64Val) }
func (v Value) Int64() int64         { v.mustBe(TagInt64); return v.int64Val }
func (v Value) Float64() float64     { v.mustBe(TagFloat64); return v.float64Val }
// Str returns the payload for STRING, REF, URL, and DURATION variants. It
// is named Str rather than String to avoid accidentally satisfying
// fmt.Stringer (which would panic on every other variant under %v/%s).
func (v Value) Str() string { v.mustBeOneOf(TagString, TagRef, TagURL, TagDuration); return v.stringVal }
func (v Value) Binary() []byte       { v.mustBe(TagBinary); return v.bytesVal }
func (v Value) TimestampMs() uint64  { v.mustBe(TagTimestamp); return uint64(v.int64Val) }
func (v Value) DateDays() int64      { v.mustBe(TagDate); return v.int64Val }
func (v Value) RefArray() []string   { v.mustBe(TagRefArray); return v.refArray }
func (v Value) JSON() interface{}    { v.mustBe(TagJSON); return v.jsonVal }
func (v Value) GeoPoint() GeoPoint   { v.mustBe(TagGeoPoint); return v.geoPoint }
func (v Value) GeoPolygon() GeoPolygon { v.mustBe(TagGeoPolygon); return v.geoPolygon }
func (v Value) LineString() []GeoPoint { v.mustBe(TagGeoLineString); return v.lineString }
func (v Value) Vector() []float64    { v.mustBe(TagVector); return v.vector }

func (v Value) mustBe(t Tag) {
	if v.tag != t {
		panic(fmt.Sprintf("model: Value accessor for %s called on %s value", t, v.tag))
	}
}

func (v Value) mustBeOneOf(tags ...Tag) {
	for _, t := range tags {
		if v.tag == t {
			return
		}
	}
	panic(fmt.Sprintf("model: Value accessor called on unexpected tag %s", v.tag))
}

// Equal reports deep, field-wise equality between two Values of the same
// tag. Used by round-trip tests (§8 property 3).
func (a Value) Equal(b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagNull:
		return true
	case TagBool:
		return a.boolVal == b.boolVal
	case TagInt32, TagInt64, TagTimestamp, TagDate:
		return a.int64Val == b.int64Val
	case TagFloat64:
		return a.float64Val == b.float64Val
	case TagString, TagRef, TagURL, TagDuration:
		return a.stringVal == b.stringVal
	case TagBinary:
		return bytesEqual(a.bytesVal, b.bytesVal)
	case TagRefArray:
		return stringsEqual(a.refArray, b.refArray)
	case TagJSON:
		return fmt.Sprintf("%v", a.jsonVal) == fmt.Sprintf("%v", b.jsonVal)
	case TagGeoPoint:
		return a.geoPoint == b.geoPoint
	case TagGeoPolygon:
		return geoPolygonEqual(a.geoPolygon, b.geoPolygon)
	case TagGeoLineString:
		return geoPointsEqual(a.lineString, b.lineString)
	case TagVector:
		return float64sEqual(a.vector, b.vector)
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func float64sEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func geoPointsEqual(a, b []GeoPoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func geoPolygonEqual(a, b GeoPolygon) bool {
	if !geoPointsEqual(a.Exterior, b.Exterior) {
		return false
	}
	if len(a.Holes) != len(b.Holes) {
		return false
	}
	for i := range a.Holes {
		if !geoPointsEqual(a.Holes[i], b.Holes[i]) {
			return false
		}
	}
	return true
}
