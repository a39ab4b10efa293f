package wire

import (
	"encoding/binary"

	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/internal/varint"
)

// Datagram packets carry unreliable, bounded-size messages (spec
// §4.1). They share the stream header's port/application-header flags
// but have no retransmission bookkeeping (no FIN, no "next expected
// control packet", no reliability/bidirectional bits): a datagram is
// not part of an ordered byte stream.
const (
	dgFlagHasSourceControlPort uint8 = 1 << iota
	dgFlagHasSourceStreamPort
	dgFlagHasApplicationHeader
)

type DatagramHeader struct {
	CredentialID credential.ID
	KeyID        uint64

	HasSourceControlPort bool
	SourceControlPort    uint16
	HasSourceStreamPort  bool
	SourceStreamPort     uint16

	QueueID      uint64
	PacketNumber uint64

	ApplicationHeader []byte
}

func (h *DatagramHeader) flags() uint8 {
	var f uint8
	if h.HasSourceControlPort {
		f |= dgFlagHasSourceControlPort
	}
	if h.HasSourceStreamPort {
		f |= dgFlagHasSourceStreamPort
	}
	if h.ApplicationHeader != nil {
		f |= dgFlagHasApplicationHeader
	}
	return f
}

// EncodeDatagramHeader appends the header (through the payload-length
// varint) to dst.
func EncodeDatagramHeader(dst []byte, h *DatagramHeader, payloadLen int) ([]byte, error) {
	dst = append(dst, tagByte(KindDatagram, h.flags()))
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

// DecodeDatagramHeader parses a datagram header, applying validator
// (if non-nil) right after the tag byte so the datagram receive path
// can reject application-headers or other flags it doesn't accept
// before spending time on the rest of the parse (spec §4.1).
func DecodeDatagramHeader(buf []byte, validator TagValidator) (*DatagramHeader, int, int, error) {
	if len(buf) < 1+credential.IDLen {
		return nil, 0, 0, ErrShortBuffer
	}
	kind, flags := splitTag(buf[0])
	if kind != KindDatagram {
		return nil, 0, 0, ErrUnexpectedKind
	}
	if validator != nil {
		if err := validator(kind, flags); err != nil {
			return nil, 0, 0, err
		}
	}
	h := &DatagramHeader{
		HasSourceControlPort: flags&dgFlagHasSourceControlPort != 0,
		HasSourceStreamPort:  flags&dgFlagHasSourceStreamPort != 0,
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

	if flags&dgFlagHasApplicationHeader != 0 {
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
