// Package wire implements the bit-exact dc packet codec of spec §4.1:
// the four packet kinds, their headers, and nonce construction. It is
// pure and stateless — no package-level mutable state — grounded on the
// hand-rolled cbor framing in stream/stream.go's txFrame/readFrame but
// replacing cbor with the fixed binary layout spec.md mandates for the
// data plane.
package wire

import "errors"

// Kind is the 2-bit packet-kind selector occupying the top bits of the
// first header byte.
type Kind uint8

const (
	KindStream Kind = iota
	KindDatagram
	KindControl
	KindSecretControl
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindDatagram:
		return "datagram"
	case KindControl:
		return "control"
	case KindSecretControl:
		return "secret-control"
	default:
		return "unknown"
	}
}

// ErrUnexpectedKind is returned by a TagValidator that rejects a packet
// of a kind it wasn't expecting on this path (spec §4.1's "tag-validator
// hook"), e.g. the datagram path rejecting a stream-only flag.
var ErrUnexpectedKind = errors.New("wire: unexpected packet kind")

// ErrProtocolViolation marks a decode failure that must be treated as a
// fatal stream/endpoint error rather than a silently dropped packet.
var ErrProtocolViolation = errors.New("wire: protocol violation")

// ErrShortBuffer is returned when a buffer handed to Decode is too
// small to hold a complete header, or one handed to Encode is too
// small to hold the encoded result (spec §4.3.4 PacketBufferTooSmall).
var ErrShortBuffer = errors.New("wire: buffer too small")

// tagByte packs kind (2 bits) and flags (6 bits) into the first header
// byte, per the "remaining 6 bits ... are a tag" rule in spec §4.1.
func tagByte(kind Kind, flags uint8) byte {
	return byte(kind)<<6 | (flags & 0x3f)
}

// splitTag extracts kind and flags from the first header byte.
func splitTag(b byte) (Kind, uint8) {
	return Kind(b >> 6), b & 0x3f
}

// TagValidator inspects a decoded kind+flags pair before the rest of
// the header is parsed, and can reject early (spec §4.1).
type TagValidator func(kind Kind, flags uint8) error
