package wire

import (
	"encoding/binary"

	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/internal/varint"
)

// Stream packet tag flags (spec §4.1). All six bits of the tag byte's
// flag field are used.
const (
	flagHasSourceControlPort uint8 = 1 << iota
	flagHasSourceStreamPort
	flagFin
	flagHasApplicationHeader
	flagIsBidirectional
	flagIsReliable
)

// StreamHeader is the exact-order header of a stream packet (spec
// §4.1): tag byte; credential id; key id; optional source control
// port; optional source stream port; queue id; packet number;
// original-packet-number retransmission tag; next expected control
// packet number; optional final offset; optional application header;
// payload length. The AEAD ciphertext and tag follow and are handled
// separately by Seal / Open so that header bytes can serve as AAD
// without an extra copy.
type StreamHeader struct {
	CredentialID credential.ID
	KeyID        uint64

	HasSourceControlPort bool
	SourceControlPort    uint16
	HasSourceStreamPort  bool
	SourceStreamPort     uint16

	QueueID         uint64
	IsBidirectional bool
	IsReliable      bool

	PacketNumber uint64
	// Offset is the byte offset of Payload within the stream's send
	// sequence. Spec §4.1's header listing has no explicit offset
	// field, but scenario 2 of spec §8 (out-of-order delivery) and the
	// retransmission-tagging note (a retransmission reuses the
	// original payload under a fresh packet number) both require the
	// receiver to recover an offset that does not simply track packet
	// number 1:1 — so it is carried explicitly rather than inferred.
	Offset uint64

	// RetransmissionDelta is the spec §4.1 "retransmission tagging"
	// side channel: 0 for an original send; for a retransmission,
	// PacketNumber-RetransmissionDelta recovers the original packet
	// number the resent payload was first sent under. It is carried as
	// a plain header field rather than a separate crypto primitive
	// because the header is always sealed as AEAD associated data
	// (wire.Seal/wire.Open), so the tag already absorbs it — a peer
	// cannot forge or strip it without invalidating the tag, and can
	// correlate a retransmission back to the original packet number to
	// feed its ACK space correctly.
	RetransmissionDelta uint64

	NextExpectedControlPacketNumber uint64

	// FinalOffset is non-nil iff the FIN flag is set.
	FinalOffset *uint64

	// ApplicationHeader is nil when absent. A present-but-empty
	// application header is a protocol violation (spec §8).
	ApplicationHeader []byte
}

func (h *StreamHeader) flags() uint8 {
	var f uint8
	if h.HasSourceControlPort {
		f |= flagHasSourceControlPort
	}
	if h.HasSourceStreamPort {
		f |= flagHasSourceStreamPort
	}
	if h.FinalOffset != nil {
		f |= flagFin
	}
	if h.ApplicationHeader != nil {
		f |= flagHasApplicationHeader
	}
	if h.IsBidirectional {
		f |= flagIsBidirectional
	}
	if h.IsReliable {
		f |= flagIsReliable
	}
	return f
}

// EncodeStreamHeader appends the header (everything up to and
// including the payload-length varint) to dst and returns the result.
// payloadLen is the plaintext payload length in bytes.
func EncodeStreamHeader(dst []byte, h *StreamHeader, payloadLen int) ([]byte, error) {
	dst = append(dst, tagByte(KindStream, h.flags()))
	dst = append(dst, h.CredentialID[:]...)
	dst = appendVarint(dst, h.KeyID)
	if h.HasSourceControlPort {
		dst = append(dst, byte(h.SourceControlPort>>8), byte(h.SourceControlPort))
	}
	if h.HasSourceStreamPort {
		dst = append(dst, byte(h.SourceStreamPort>>8), byte(h.SourceStreamPort))
	}
	dst = appendVarint(dst, h.QueueID)
	dst = appendVarint(dst, h.PacketNumber)
	dst = appendVarint(dst, h.Offset)
	dst = appendVarint(dst, h.RetransmissionDelta)
	dst = appendVarint(dst, h.NextExpectedControlPacketNumber)
	if h.FinalOffset != nil {
		dst = appendVarint(dst, *h.FinalOffset)
	}
	if h.ApplicationHeader != nil {
		if len(h.ApplicationHeader) == 0 {
			return nil, ErrProtocolViolation
		}
		dst = appendVarint(dst, uint64(len(h.ApplicationHeader)))
		dst = append(dst, h.ApplicationHeader...)
	}
	dst = appendVarint(dst, uint64(payloadLen))
	return dst, nil
}

// DecodeStreamHeader parses a stream header from the front of buf. It
// returns the header, the number of header bytes consumed (the AAD
// length), the plaintext payload length carried in the header, and an
// error. validator, if non-nil, is consulted immediately after the tag
// byte is split, before any further parsing (spec §4.1 tag-validator
// hook).
func DecodeStreamHeader(buf []byte, validator TagValidator) (*StreamHeader, int, int, error) {
	if len(buf) < 1+credential.IDLen {
		return nil, 0, 0, ErrShortBuffer
	}
	kind, flags := splitTag(buf[0])
	if kind != KindStream {
		return nil, 0, 0, ErrUnexpectedKind
	}
	if validator != nil {
		if err := validator(kind, flags); err != nil {
			return nil, 0, 0, err
		}
	}
	h := &StreamHeader{
		HasSourceControlPort: flags&flagHasSourceControlPort != 0,
		HasSourceStreamPort:  flags&flagHasSourceStreamPort != 0,
		IsBidirectional:      flags&flagIsBidirectional != 0,
		IsReliable:           flags&flagIsReliable != 0,
	}
	off := 1
	copy(h.CredentialID[:], buf[off:off+credential.IDLen])
	off += credential.IDLen

	keyID, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	h.KeyID = keyID
	off += n

	if h.HasSourceControlPort {
		if len(buf) < off+2 {
			return nil, 0, 0, ErrShortBuffer
		}
		h.SourceControlPort = binary.BigEndian.Uint16(buf[off:])
		off += 2
	}
	if h.HasSourceStreamPort {
		if len(buf) < off+2 {
			return nil, 0, 0, ErrShortBuffer
		}
		h.SourceStreamPort = binary.BigEndian.Uint16(buf[off:])
		off += 2
	}

	queueID, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	h.QueueID = queueID
	off += n

	pn, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	h.PacketNumber = pn
	off += n

	offset, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	h.Offset = offset
	off += n

	retransDelta, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	h.RetransmissionDelta = retransDelta
	off += n

	nextExpected, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	h.NextExpectedControlPacketNumber = nextExpected
	off += n

	if flags&flagFin != 0 {
		fo, n, err := varint.Decode(buf[off:])
		if err != nil {
			return nil, 0, 0, err
		}
		h.FinalOffset = &fo
		off += n
	}

	if flags&flagHasApplicationHeader != 0 {
		hlen, n, err := varint.Decode(buf[off:])
		if err != nil {
			return nil, 0, 0, err
		}
		off += n
		if hlen == 0 {
			return nil, 0, 0, ErrProtocolViolation
		}
		if uint64(len(buf)-off) < hlen {
			return nil, 0, 0, ErrShortBuffer
		}
		h.ApplicationHeader = append([]byte(nil), buf[off:off+int(hlen)]...)
		off += int(hlen)
	}

	payloadLen, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, 0, err
	}
	off += n

	return h, off, int(payloadLen), nil
}

func appendVarint(dst []byte, v uint64) []byte {
	var tmp [8]byte
	n, err := varint.Encode(tmp[:], v)
	if err != nil {
		// Only possible if v exceeds 2^62-1, which callers must
		// prevent (PacketNumberExhaustion / PayloadTooLarge handling
		// happens before encode is reached).
		panic(err)
	}
	return append(dst, tmp[:n]...)
}
