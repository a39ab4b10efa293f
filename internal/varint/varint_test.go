package varint

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, maxVarint}
	for _, v := range cases {
		buf := make([]byte, 8)
		n, err := Encode(buf, v)
		if err != nil {
			t.Fatalf("Encode(%d): %v", v, err)
		}
		got, n2, err := Decode(buf[:n])
		if err != nil {
			t.Fatalf("Decode(%d): %v", v, err)
		}
		if n != n2 || got != v {
			t.Fatalf("round trip mismatch: v=%d got=%d n=%d n2=%d", v, got, n, n2)
		}
	}
}

func TestEncodeTooLarge(t *testing.T) {
	buf := make([]byte, 8)
	if _, err := Encode(buf, maxVarint+1); err != ErrValueTooLarge {
		t.Fatalf("expected ErrValueTooLarge, got %v", err)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, _, err := Decode(nil); err != ErrBufferTooShort {
		t.Fatalf("expected ErrBufferTooShort, got %v", err)
	}
	buf := []byte{0xc0, 0x01, 0x02}
	if _, _, err := Decode(buf); err != ErrBufferTooShort {
		t.Fatalf("expected ErrBufferTooShort for truncated 8-byte varint, got %v", err)
	}
}
