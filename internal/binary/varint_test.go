package binary

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 1<<53 - 1, 1 << 20}
	for _, v := range values {
		enc := AppendVarint(nil, v)
		if len(enc) != VarintSize(v) {
			t.Errorf("VarintSize(%d) = %d, encoded length was %d", v, VarintSize(v), len(enc))
		}
		got, n, err := DecodeVarint(enc)
		if err != nil {
			t.Fatalf("DecodeVarint(%v) returned error: %v", enc, err)
		}
		if n != len(enc) {
			t.Errorf("DecodeVarint consumed %d bytes, want %d", n, len(enc))
		}
		if got != v {
			t.Errorf("round trip mismatch: got %d, want %d", got, v)
		}
	}
}

func TestVarintBoundaryLengths(t *testing.T) {
	if got := VarintSize(0x7F); got != 1 {
		t.Errorf("VarintSize(0x7F) = %d, want 1", got)
	}
	if got := VarintSize(0x80); got != 2 {
		t.Errorf("VarintSize(0x80) = %d, want 2", got)
	}
}

func TestDecodeVarintTruncated(t *testing.T) {
	_, _, err := DecodeVarint([]byte{0x80, 0x80})
	if err != ErrTruncatedVarint {
		t.Errorf("expected ErrTruncatedVarint, got %v", err)
	}
}

func TestDecodeVarintOverflow(t *testing.T) {
	buf := make([]byte, 9)
	for i := range buf {
		buf[i] = 0x80
	}
	_, _, err := DecodeVarint(buf)
	if err != ErrVarintOverflow {
		t.Errorf("expected ErrVarintOverflow, got %v", err)
	}
}

func TestSignedVarintRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 1 << 40, -(1 << 40), 1<<62 - 1, -(1 << 62)}
	for _, v := range values {
		enc := AppendSignedVarint(nil, v)
		if len(enc) != SignedVarintSize(v) {
			t.Errorf("SignedVarintSize(%d) = %d, encoded length was %d", v, SignedVarintSize(v), len(enc))
		}
		got, n, err := DecodeSignedVarint(enc)
		if err != nil {
			t.Fatalf("DecodeSignedVarint(%v) returned error: %v", enc, err)
		}
		if n != len(enc) {
			t.Errorf("DecodeSignedVarint consumed %d bytes, want %d", n, len(enc))
		}
		if got != v {
			t.Errorf("round trip mismatch: got %d, want %d", got, v)
		}
	}
}
