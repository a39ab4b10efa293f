// Package stream implements the per-stream send-side and receive-side
// state machines of spec §4.3: packet-number allocation, segmentation,
// retransmission bookkeeping, flow control, ACK processing, reassembly,
// and idle-timeout enforcement. Grounded on stream/stream.go's
// reader/writer worker pair (xendarboh-katzenpost), generalized from its
// fixed reliable/scramble modes to the full send/receive split spec §4.3
// describes, and on client2/arq.go's timer-driven retransmission idiom.
package stream

// ID identifies a stream within one endpoint (spec §3): queue_id is
// globally unique per endpoint and is what the dispatcher indexes by.
type ID struct {
	QueueID         uint64
	IsBidirectional bool
	IsReliable      bool
}

// MaxOffset is the largest representable stream offset (62-bit space,
// spec §8 boundary behaviour: stream_offset+len == 2^62 is accepted,
// > 2^62 is PayloadTooLarge).
const MaxOffset = (uint64(1) << 62)

// MaxPacketNumber mirrors credential.MaxKeyID's 62-bit space (spec §3
// "Packet-number space ... a 62-bit counter").
const MaxPacketNumber = (uint64(1) << 62) - 1
