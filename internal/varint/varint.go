// Package varint implements the QUIC variable-length integer encoding
// used by every dctransport packet header: the top two bits of the
// first byte select a length of 1, 2, 4, or 8 bytes, encoding values up
// to 2^6-1, 2^14-1, 2^30-1, and 2^62-1 respectively.
package varint

import (
	"encoding/binary"
	"errors"
)

// ErrBufferTooShort is returned when a buffer does not contain enough
// bytes to decode a varint, or too little room to encode one.
var ErrBufferTooShort = errors.New("varint: buffer too short")

// ErrValueTooLarge is returned when a value exceeds 2^62-1, the largest
// value representable by this encoding.
var ErrValueTooLarge = errors.New("varint: value exceeds 62 bits")

const maxVarint = (uint64(1) << 62) - 1

// Len returns the number of bytes Encode will write for v.
func Len(v uint64) int {
	switch {
	case v <= 63:
		return 1
	case v <= 16383:
		return 2
	case v <= 1073741823:
		return 4
	default:
		return 8
	}
}

// Encode writes v to buf using the shortest valid encoding and returns
// the number of bytes written.
func Encode(buf []byte, v uint64) (int, error) {
	if v > maxVarint {
		return 0, ErrValueTooLarge
	}
	n := Len(v)
	if len(buf) < n {
		return 0, ErrBufferTooShort
	}
	switch n {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(v))
		buf[0] |= 0x40
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(v))
		buf[0] |= 0x80
	case 8:
		binary.BigEndian.PutUint64(buf, v)
		buf[0] |= 0xc0
	}
	return n, nil
}

// Decode reads a varint from the front of buf, returning the value, the
// number of bytes consumed, and an error if buf is too short.
func Decode(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, ErrBufferTooShort
	}
	n := 1 << (buf[0] >> 6)
	if len(buf) < n {
		return 0, 0, ErrBufferTooShort
	}
	var v uint64
	switch n {
	case 1:
		v = uint64(buf[0])
	case 2:
		v = uint64(binary.BigEndian.Uint16(buf) & 0x3fff)
	case 4:
		v = uint64(binary.BigEndian.Uint32(buf) & 0x3fffffff)
	case 8:
		v = binary.BigEndian.Uint64(buf) & 0x3fffffffffffffff
	}
	return v, n, nil
}
