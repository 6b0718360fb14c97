package bloom

import (
	"math"

	"github.com/beenet-labs/graphlake/internal/binary"
	"github.com/beenet-labs/graphlake/internal/model"
)

// Presence is the result of a membership test: bloom filters never say
// "definitely present", only MaybePresent or Absent (§4.4).
type Presence int

const (
	Absent Presence = iota
	MaybePresent
)

// Filter is a bit-packed bloom filter sized from a target capacity and
// false-positive rate per §3/§4.4.
type Filter struct {
	bits        []byte
	m           uint64 // size in bits
	k           int    // number of hash rounds
	count       uint64 // approximate number of elements added
	capacity    uint64
	targetFPR   float64
}

// Options configures Filter construction.
type Options struct {
	Capacity     uint64
	TargetFPR    float64
	MaxSizeBytes uint64 // 0 means no cap
}

// New sizes a filter from (capacity, targetFPR) per §4.4: m = ceil(-n*ln(p)/ln(2)^2),
// clamped to maxSizeBytes*8 and rounded up to a byte boundary; k =
// round((m/n)*ln(2)), minimum 1.
func New(opts Options) *Filter {
	n := opts.Capacity
	if n == 0 {
		n = 1
	}
	p := opts.TargetFPR
	if p <= 0 || p >= 1 {
		p = 0.01
	}

	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if opts.MaxSizeBytes > 0 {
		maxBits := opts.MaxSizeBytes * 8
		if m > maxBits {
			m = maxBits
		}
	}
	if m == 0 {
		m = 8
	}
	// Round up to a byte boundary.
	m = (m + 7) / 8 * 8

	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}

	return &Filter{
		bits:      make([]byte, m/8),
		m:         m,
		k:         k,
		capacity:  opts.Capacity,
		targetFPR: p,
	}
}

// M returns the filter's size in bits.
func (f *Filter) M() uint64 { return f.m }

// K returns the number of hash rounds per element.
func (f *Filter) K() int { return f.k }

// Count returns the approximate number of elements added.
func (f *Filter) Count() uint64 { return f.count }

// Add inserts id into the filter using k rounds of the double-hashed
// FNV-1a position formula: (h1 + i*h2) mod m, for i in [0, k).
func (f *Filter) Add(id string) {
	h1, h2 := doubleHash([]byte(id))
	for i := 0; i < f.k; i++ {
		pos := (uint64(h1) + uint64(i)*uint64(h2)) % f.m
		f.setBit(pos)
	}
	f.count++
}

// MightContain tests membership: Absent is definitive (id was never
// added); MaybePresent may be a false positive.
func (f *Filter) MightContain(id string) Presence {
	h1, h2 := doubleHash([]byte(id))
	for i := 0; i < f.k; i++ {
		pos := (uint64(h1) + uint64(i)*uint64(h2)) % f.m
		if !f.getBit(pos) {
			return Absent
		}
	}
	return MaybePresent
}

func (f *Filter) setBit(pos uint64) {
	f.bits[pos/8] |= 1 << (pos % 8)
}

func (f *Filter) getBit(pos uint64) bool {
	return f.bits[pos/8]&(1<<(pos%8)) != 0
}

// FillRate returns the fraction of bits set, a diagnostic proxy for
// saturation.
func (f *Filter) FillRate() float64 {
	set := 0
	for _, b := range f.bits {
		for b != 0 {
			set += int(b & 1)
			b >>= 1
		}
	}
	return float64(set) / float64(f.m)
}

// EstimateFPR estimates the false-positive rate given the number of
// elements actually added, using the standard bloom filter approximation
// (1 - e^(-k*n/m))^k, for diagnostics (§4.4).
func (f *Filter) EstimateFPR() float64 {
	if f.count == 0 {
		return 0
	}
	exponent := -float64(f.k) * float64(f.count) / float64(f.m)
	return math.Pow(1-math.Exp(exponent), float64(f.k))
}

// Merge bitwise-ORs the bits of b into a, requiring identical (m, k) per
// §4.4/§9. The approximate count is summed.
func Merge(a, b *Filter) (*Filter, error) {
	if a.m != b.m || a.k != b.k {
		return nil, model.ErrInvariantViolation("bloom: cannot merge filters with differing (m,k): (%d,%d) vs (%d,%d)", a.m, a.k, b.m, b.k)
	}
	merged := &Filter{
		bits:      make([]byte, len(a.bits)),
		m:         a.m,
		k:         a.k,
		count:     a.count + b.count,
		capacity:  a.capacity + b.capacity,
		targetFPR: a.targetFPR,
	}
	for i := range merged.bits {
		merged.bits[i] = a.bits[i] | b.bits[i]
	}
	return merged, nil
}

// jsonFilter is the §6 wire format:
// {filter: base64(bits), k, m, version, meta: {count, capacity, targetFpr, expectedFpr, sizeBytes}}.
type jsonFilter struct {
	Filter  string     `json:"filter"`
	K       int        `json:"k"`
	M       uint64     `json:"m"`
	Version int        `json:"version"`
	Meta    jsonFilterMeta `json:"meta"`
}

type jsonFilterMeta struct {
	Count       uint64  `json:"count"`
	Capacity    uint64  `json:"capacity"`
	TargetFPR   float64 `json:"targetFpr"`
	ExpectedFPR float64 `json:"expectedFpr"`
	SizeBytes   int     `json:"sizeBytes"`
}

const filterFormatVersion = 1

// toJSONFilter builds the serializable representation.
func (f *Filter) toJSONFilter() jsonFilter {
	return jsonFilter{
		Filter:  binary.EncodeBase64(f.bits),
		K:       f.k,
		M:       f.m,
		Version: filterFormatVersion,
		Meta: jsonFilterMeta{
			Count:       f.count,
			Capacity:    f.capacity,
			TargetFPR:   f.targetFPR,
			ExpectedFPR: f.EstimateFPR(),
			SizeBytes:   len(f.bits),
		},
	}
}

// fromJSONFilter reconstructs a Filter, rejecting a declared m that
// doesn't match the decoded bit array length (§9 design note).
func fromJSONFilter(jf jsonFilter) (*Filter, error) {
	bits, err := binary.DecodeBase64(jf.Filter)
	if err != nil {
		return nil, model.ErrDecodeError("bloom: failed to decode base64 bit array: %v", err)
	}
	if jf.M != uint64(len(bits))*8 {
		return nil, model.ErrDecodeError("bloom: declared m=%d does not match bit array length %d*8", jf.M, len(bits))
	}
	return &Filter{
		bits:      bits,
		m:         jf.M,
		k:         jf.K,
		count:     jf.Meta.Count,
		capacity:  jf.Meta.Capacity,
		targetFPR: jf.Meta.TargetFPR,
	}, nil
}
