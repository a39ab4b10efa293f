package wire

import (
	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/internal/varint"
)

// PeekedHeader is the handful of fields the dispatcher (spec §4.4)
// needs to route a received packet without paying for a full header
// decode: kind, credential id, and (for stream/control/datagram) queue
// id. secret-control packets carry no queue id.
type PeekedHeader struct {
	Kind         Kind
	CredentialID credential.ID
	QueueID      uint64
	HasQueueID   bool
}

// Peek extracts routing fields from the front of buf. It does not
// authenticate or fully parse the packet; the dispatcher uses it only
// to decide which ring (or which store operation) a packet belongs to,
// before handing the full buffer to that consumer for real decode.
func Peek(buf []byte) (*PeekedHeader, error) {
	if len(buf) < 1+credential.IDLen {
		return nil, ErrShortBuffer
	}
	kind, _ := splitTag(buf[0])
	p := &PeekedHeader{Kind: kind}
	off := 1
	copy(p.CredentialID[:], buf[off:off+credential.IDLen])
	off += credential.IDLen

	if kind == KindSecretControl {
		return p, nil
	}

	// Every other kind's header is: tag, credential id, key id (varint),
	// then (for stream/datagram only) optional port fields before
	// queue id. The dispatcher only needs to skip key id to reach
	// queue id for control packets, and for stream/datagram it must
	// also skip the optional 16-bit port fields gated by the tag's
	// flag bits, which Peek does read since splitTag already split
	// them out above.
	_, n, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, err
	}
	off += n

	if kind == KindStream || kind == KindDatagram {
		_, flags := splitTag(buf[0])
		var hasSourceControlPort, hasSourceStreamPort bool
		if kind == KindStream {
			hasSourceControlPort = flags&flagHasSourceControlPort != 0
			hasSourceStreamPort = flags&flagHasSourceStreamPort != 0
		} else {
			hasSourceControlPort = flags&dgFlagHasSourceControlPort != 0
			hasSourceStreamPort = flags&dgFlagHasSourceStreamPort != 0
		}
		if hasSourceControlPort {
			off += 2
		}
		if hasSourceStreamPort {
			off += 2
		}
	}

	if len(buf) < off {
		return nil, ErrShortBuffer
	}
	queueID, _, err := varint.Decode(buf[off:])
	if err != nil {
		return nil, err
	}
	p.QueueID = queueID
	p.HasQueueID = true
	return p, nil
}
