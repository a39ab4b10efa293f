// Package secretcontrol implements the six path-secret lifecycle
// messages of spec §4.2: unknown_path_secret, stale_key,
// replay_detected, notify_generation_range, reject_sequence_id, and
// request_additional_sequence. Every message shares the same framing —
// tag byte, credential id, type-specific varints, then an AEAD tag
// computed over the header with an empty payload (spec §4.2) — so
// there is no separate ciphertext section the way stream/datagram
// packets have one.
package secretcontrol

import (
	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/internal/varint"
	"github.com/katzenpost/dctransport/wire"
)

// Subtype identifies which of the six messages a packet carries. It
// occupies the low 6 bits of the tag byte (the kind's top 2 bits are
// always KindSecretControl).
type Subtype uint8

const (
	UnknownPathSecret Subtype = iota
	StaleKey
	ReplayDetected
	NotifyGenerationRange
	RejectSequenceID
	RequestAdditionalSequence
)

func (s Subtype) String() string {
	switch s {
	case UnknownPathSecret:
		return "unknown_path_secret"
	case StaleKey:
		return "stale_key"
	case ReplayDetected:
		return "replay_detected"
	case NotifyGenerationRange:
		return "notify_generation_range"
	case RejectSequenceID:
		return "reject_sequence_id"
	case RequestAdditionalSequence:
		return "request_additional_sequence"
	default:
		return "unknown_subtype"
	}
}

// Message is the decoded form of any of the six secret-control
// packets. Only the fields relevant to Subtype are meaningful; see the
// table in spec §4.2.
type Message struct {
	CredentialID credential.ID
	Subtype      Subtype

	// StaleKey
	MinKeyID uint64

	// ReplayDetected
	RejectedKeyID uint64

	// NotifyGenerationRange
	MinGeneration uint64
	MaxGeneration uint64

	// RejectSequenceID / RequestAdditionalSequence
	Generation       uint64
	Sequence         uint64
	SeqMaxGeneration uint64
}

// content serializes the subtype-specific fields (never the credential
// id, which is already bound via AEAD key selection) for nonce
// derivation and is never transmitted separately — it is recomputed
// identically on decode from the fields already parsed off the wire.
func (m *Message) content() []byte {
	var buf []byte
	switch m.Subtype {
	case UnknownPathSecret:
		// no extra fields
	case StaleKey:
		buf = appendVarint(buf, m.MinKeyID)
	case ReplayDetected:
		buf = appendVarint(buf, m.RejectedKeyID)
	case NotifyGenerationRange:
		buf = appendVarint(buf, m.MinGeneration)
		buf = appendVarint(buf, m.MaxGeneration)
	case RejectSequenceID, RequestAdditionalSequence:
		buf = appendVarint(buf, m.Generation)
		buf = appendVarint(buf, m.Sequence)
		buf = appendVarint(buf, m.SeqMaxGeneration)
	}
	return buf
}

func appendVarint(dst []byte, v uint64) []byte {
	var tmp [8]byte
	n, err := varint.Encode(tmp[:], v)
	if err != nil {
		panic(err)
	}
	return append(dst, tmp[:n]...)
}

// EncodeHeader appends the tag byte, credential id, and type-specific
// varints (everything that is authenticated as AAD) to dst.
func EncodeHeader(dst []byte, m *Message) []byte {
	dst = append(dst, byte(wire.KindSecretControl)<<6|byte(m.Subtype)&0x3f)
	dst = append(dst, m.CredentialID[:]...)
	dst = append(dst, m.content()...)
	return dst
}

// DecodeHeader parses a secret-control header, applying validator (if
// non-nil) immediately after the tag byte is split.
func DecodeHeader(buf []byte, validator wire.TagValidator) (*Message, int, error) {
	if len(buf) < 1+credential.IDLen {
		return nil, 0, wire.ErrShortBuffer
	}
	kind := wire.Kind(buf[0] >> 6)
	subtype := Subtype(buf[0] & 0x3f)
	if kind != wire.KindSecretControl {
		return nil, 0, wire.ErrUnexpectedKind
	}
	if validator != nil {
		if err := validator(kind, buf[0]&0x3f); err != nil {
			return nil, 0, err
		}
	}
	m := &Message{Subtype: subtype}
	off := 1
	copy(m.CredentialID[:], buf[off:off+credential.IDLen])
	off += credential.IDLen

	switch subtype {
	case UnknownPathSecret:
	case StaleKey:
		v, n, err := varint.Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		m.MinKeyID = v
		off += n
	case ReplayDetected:
		v, n, err := varint.Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		m.RejectedKeyID = v
		off += n
	case NotifyGenerationRange:
		v, n, err := varint.Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		m.MinGeneration = v
		off += n
		v, n, err = varint.Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		m.MaxGeneration = v
		off += n
	case RejectSequenceID, RequestAdditionalSequence:
		v, n, err := varint.Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		m.Generation = v
		off += n
		v, n, err = varint.Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		m.Sequence = v
		off += n
		v, n, err = varint.Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		m.SeqMaxGeneration = v
		off += n
	default:
		return nil, 0, wire.ErrProtocolViolation
	}

	return m, off, nil
}
