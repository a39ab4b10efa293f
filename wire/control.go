package wire

import (
	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/internal/varint"
)

// ControlFrameType distinguishes the four stream-level signals carried
// by control packets (spec §4.1 table, §4.3.2 ACK generation, §4.3.4
// error taxonomy StreamReset / StopSending).
type ControlFrameType uint8

const (
	ControlAck ControlFrameType = iota
	ControlReset
	ControlStopSending
	ControlMaxStreamData
)

// the frame-type selector occupies the low 2 bits of the tag flags;
// the remaining 4 bits are currently unused and must be zero on
// encode, ignored (not rejected) on decode for forward compatibility.
const ctrlFrameTypeMask uint8 = 0x03

// AckRange is one contiguous run of received packet numbers, encoded
// QUIC-style as (gap-from-previous-range, length) after the first
// range's absolute largest-acked value (spec §4.3.2).
type AckRange struct {
	Gap    uint64
	Length uint64
}

type ControlHeader struct {
	CredentialID credential.ID
	KeyID        uint64
	QueueID      uint64
	PacketNumber uint64

	Type ControlFrameType

	// ControlAck
	LargestAcked uint64
	AckRanges    []AckRange

	// ControlReset / ControlStopSending
	ErrorCode uint64
	// ControlReset only: the sender's final offset, so the receiver
	// can detect FinalSizeChanged against any FIN it already saw.
	FinalOffset uint64

	// ControlMaxStreamData
	NewLimit uint64
}

// EncodeControlHeader appends the control packet header (tag byte,
// credential id, key id, queue id, packet number) to dst. Control
// packets have no separate encrypted payload distinct from their frame
// body: the returned slice is the AAD later passed to Seal, and callers
// seal the frame body (EncodeControlBody) as plaintext against it.
func EncodeControlHeader(dst []byte, h *ControlHeader) []byte {
	flags := uint8(h.Type) & ctrlFrameTypeMask
	dst = append(dst, tagByte(KindControl, flags))
	dst = append(dst, h.CredentialID[:]...)
	dst = appendVarint(dst, h.KeyID)
	dst = appendVarint(dst, h.QueueID)
	dst = appendVarint(dst, h.PacketNumber)
	return dst
}

// EncodeControlBody serializes the frame-type-specific plaintext body
// that is sealed as the control packet's payload.
func EncodeControlBody(dst []byte, h *ControlHeader) []byte {
	switch h.Type {
	case ControlAck:
		dst = appendVarint(dst, h.LargestAcked)
		dst = appendVarint(dst, uint64(len(h.AckRanges)))
		for _, r := range h.AckRanges {
			dst = appendVarint(dst, r.Gap)
			dst = appendVarint(dst, r.Length)
		}
	case ControlReset:
		dst = appendVarint(dst, h.ErrorCode)
		dst = appendVarint(dst, h.FinalOffset)
	case ControlStopSending:
		dst = appendVarint(dst, h.ErrorCode)
	case ControlMaxStreamData:
		dst = appendVarint(dst, h.NewLimit)
	}
	return dst
}

// DecodeControlHeader parses the fixed header prefix of a control
// packet and returns it alongside the number of bytes consumed.
func DecodeControlHeader(buf []byte, validator TagValidator) (*ControlHeader, int, error) {
	if len(buf) < 1+credential.IDLen {
		return nil, 0, ErrShortBuffer
	}
	kind, flags := splitTag(buf[0])
	if kind != KindControl {
		return nil, 0, ErrUnexpectedKind
	}
	if validator != nil {
		if err := validator(kind, flags); err != nil {
			return nil, 0, err
		}
	}
	h := &ControlHeader{Type: ControlFrameType(flags & ctrlFrameTypeMask)}
	off := 1
	copy(h.CredentialID[:], buf[off:off+credential.IDLen])
	off += credential.IDLen

	keyID, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	h.KeyID = keyID
	off += n

	queueID, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	h.QueueID = queueID
	off += n

	pn, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	h.PacketNumber = pn
	off += n

	return h, off, nil
}

// DecodeControlBody parses the frame-type-specific body into an
// already partially-populated ControlHeader (see DecodeControlHeader).
func DecodeControlBody(buf []byte, h *ControlHeader) error {
	off := 0
	switch h.Type {
	case ControlAck:
		v, n, err := varint.Decode(buf[off:])
		if err != nil {
			return err
		}
		h.LargestAcked = v
		off += n
		count, n, err := varint.Decode(buf[off:])
		if err != nil {
			return err
		}
		off += n
		// Each range costs at least 2 bytes on the wire; reject a count
		// that could not possibly fit in what's left rather than trust
		// an attacker-controlled varint as a slice-capacity hint.
		if count > uint64(len(buf[off:])/2) {
			return ErrProtocolViolation
		}
		h.AckRanges = make([]AckRange, 0, count)
		for i := uint64(0); i < count; i++ {
			gap, n, err := varint.Decode(buf[off:])
			if err != nil {
				return err
			}
			off += n
			length, n, err := varint.Decode(buf[off:])
			if err != nil {
				return err
			}
			off += n
			h.AckRanges = append(h.AckRanges, AckRange{Gap: gap, Length: length})
		}
	case ControlReset:
		v, n, err := varint.Decode(buf[off:])
		if err != nil {
			return err
		}
		h.ErrorCode = v
		off += n
		v, n, err = varint.Decode(buf[off:])
		if err != nil {
			return err
		}
		h.FinalOffset = v
	case ControlStopSending:
		v, _, err := varint.Decode(buf[off:])
		if err != nil {
			return err
		}
		h.ErrorCode = v
	case ControlMaxStreamData:
		v, _, err := varint.Decode(buf[off:])
		if err != nil {
			return err
		}
		h.NewLimit = v
	}
	return nil
}
