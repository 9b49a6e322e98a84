package entityid

import (
	"bufio"
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, e Entity) Entity {
	t.Helper()
	buf := Encode(nil, e)
	if len(buf) != EncodedLen(e) {
		t.Fatalf("EncodedLen mismatch: got %d, want %d", EncodedLen(e), len(buf))
	}
	got, err := Decode(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	cases := []Entity{
		{Index: 0, Generation: 0},
		{Index: 1, Generation: 0},
		{Index: 12345, Generation: 0},
		{Index: 1, Generation: 1},
		{Index: 0x7fffffff, Generation: 42},
		{Index: 1 << 20, Generation: 1 << 20},
	}
	for _, e := range cases {
		got := roundTrip(t, e)
		if got != e {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
		}
	}
}

func TestZeroGenerationOmitted(t *testing.T) {
	e := Entity{Index: 7}
	buf := Encode(nil, e)
	// flagged index = 7<<1 = 14, fits in a single varint byte, low bit unset.
	if len(buf) != 1 {
		t.Fatalf("expected 1-byte encoding for zero generation, got %d bytes", len(buf))
	}
	if buf[0]&1 != 0 {
		t.Fatal("generation flag bit should be unset")
	}
}

func TestDecodeTruncated(t *testing.T) {
	e := Entity{Index: 5, Generation: 9}
	buf := Encode(nil, e)
	_, err := Decode(bufio.NewReader(bytes.NewReader(buf[:len(buf)-1])))
	if err != ErrMalformedEntity {
		t.Fatalf("expected ErrMalformedEntity, got %v", err)
	}
}

func TestDecodeOverlongVarint(t *testing.T) {
	// 11 continuation bytes followed by a terminator exceeds the 64-bit varint bound.
	overlong := bytes.Repeat([]byte{0x80}, 11)
	overlong = append(overlong, 0x01)
	_, err := Decode(bufio.NewReader(bytes.NewReader(overlong)))
	if err != ErrMalformedEntity {
		t.Fatalf("expected ErrMalformedEntity, got %v", err)
	}
}

func TestBitsRoundTrip(t *testing.T) {
	e := Entity{Index: 100, Generation: 200}
	if got := FromBits(e.Bits()); got != e {
		t.Fatalf("FromBits(Bits()) = %+v, want %+v", got, e)
	}
}
