package stream

import (
	"sync"
	"time"

	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/secret"
	"github.com/katzenpost/dctransport/wire"
)

// CongestionController supplies the send-side budget for one clock
// tick, in bytes (spec §1's Non-goal carve-out: "congestion-control
// algorithm design" stays a pluggable collaborator, not a core
// contract). A trivial always-open implementation is provided below
// for substrates/tests that don't need real congestion control.
type CongestionController interface {
	// Budget returns how many bytes may be sent this tick, given the
	// number of bytes currently inflight.
	Budget(inflightBytes int) int
}

// UnboundedCongestionController never throttles; used by the default
// transport wiring and by tests exercising the stream engine in
// isolation from a real CC algorithm.
type UnboundedCongestionController struct{}

func (UnboundedCongestionController) Budget(int) int { return 1 << 30 }

// OutboundPacket is a fully sealed stream packet ready for the socket
// writer.
type OutboundPacket struct {
	PacketNumber uint64
	Offset       uint64
	Fin          bool
	Bytes        []byte
}

// rttStats implements the smoothed-RTT/RTT-variance estimator spec
// §4.3.1 calls for (used both for the loss threshold and for PTO).
type rttStats struct {
	srtt, rttvar time.Duration
	haveSample   bool
}

func (r *rttStats) Sample(rtt time.Duration) {
	if !r.haveSample {
		r.srtt = rtt
		r.rttvar = rtt / 2
		r.haveSample = true
		return
	}
	delta := r.srtt - rtt
	if delta < 0 {
		delta = -delta
	}
	r.rttvar = (3*r.rttvar + delta) / 4
	r.srtt = (7*r.srtt + rtt) / 8
}

// pto is the probe-timeout interval of spec §4.3.1:
// smoothed_rtt + 4*rtt_variance + max_ack_delay.
func (r *rttStats) pto(maxAckDelay time.Duration) time.Duration {
	if !r.haveSample {
		return maxAckDelay + time.Second
	}
	return r.srtt + 4*r.rttvar + maxAckDelay
}

// lossThreshold is the window (in time and in packet-number distance)
// beyond which an unacked packet below the largest acked is declared
// lost: smoothed_rtt*9/8, or >= 3 packets back, whichever triggers
// first (spec §4.3.1).
const lossPacketDistance = 3

func (r *rttStats) lossDuration() time.Duration {
	if !r.haveSample {
		return time.Second
	}
	return r.srtt * 9 / 8
}

// inflightRecord is the "transmission info" of spec §4.3.1: packet
// number, byte range, first-sent time, and whether more application
// data followed it at send time. originalPN is the packet number this
// data was first sealed under; it equals the record's own packet
// number until a retransmission carries the lineage forward (spec
// §4.1 "retransmission tagging").
type inflightRecord struct {
	offset         uint64
	length         int
	fin            bool
	firstSent      time.Time
	hasMoreAppData bool
	originalPN     uint64
}

// Sender is the send-side state machine of spec §4.3.1.
type Sender struct {
	mu sync.Mutex

	id           ID
	credentialID credential.ID

	buf *SendBuffer
	cc  CongestionController

	sealer *secret.Sealer

	mtu            int
	maxAckDelay    time.Duration
	nextPN         uint64
	nextExpectCtrl uint64 // next_expected_control_packet_number to advertise

	inflight map[uint64]*inflightRecord
	lost     []uint64 // packet numbers declared lost, awaiting resend
	retransQ *RetransmitQueue

	rtt        rttStats
	ptoBackoff uint32
	resetCode  *uint64
	finalSent  bool
}

// SenderConfig configures a new Sender.
type SenderConfig struct {
	ID           ID
	CredentialID credential.ID
	Sealer       *secret.Sealer
	MTU          int
	MaxAckDelay  time.Duration
	CC           CongestionController
}

const headerOverheadEstimate = 64 // conservative upper bound on a stream header's encoded size

// NewSender builds a Sender over buf, ready to chunk and seal
// outbound bytes as the clock ticks.
func NewSender(cfg SenderConfig, buf *SendBuffer) *Sender {
	cc := cfg.CC
	if cc == nil {
		cc = UnboundedCongestionController{}
	}
	maxAckDelay := cfg.MaxAckDelay
	if maxAckDelay == 0 {
		maxAckDelay = 25 * time.Millisecond
	}
	return &Sender{
		id:             cfg.ID,
		credentialID:   cfg.CredentialID,
		buf:            buf,
		cc:             cc,
		sealer:         cfg.Sealer,
		mtu:            cfg.MTU,
		maxAckDelay:    maxAckDelay,
		inflight:       make(map[uint64]*inflightRecord),
		retransQ:       NewRetransmitQueue(),
	}
}

// SetNextExpectedControlPacketNumber records the value to advertise in
// the next sealed stream header, pruning the peer's ACK-range state
// without a separate ACK frame in reliable mode (spec §4.1).
func (s *Sender) SetNextExpectedControlPacketNumber(pn uint64) {
	s.mu.Lock()
	s.nextExpectCtrl = pn
	s.mu.Unlock()
}

// Write hands bytes to the committed sequence (spec §4.3.1 write()).
func (s *Sender) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

// Shutdown records the final offset (spec §4.3.1 shutdown()).
func (s *Sender) Shutdown() {
	s.buf.Shutdown()
}

// Reset marks the stream for abortive close; the next Tick emits a
// reset control frame instead of further stream packets (spec §4.3.1
// reset(code)).
func (s *Sender) Reset(code uint64) {
	s.mu.Lock()
	s.resetCode = &code
	s.mu.Unlock()
}

// ResetCode reports whether Reset was called and, if so, the code.
func (s *Sender) ResetCode() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetCode == nil {
		return 0, false
	}
	return *s.resetCode, true
}

// Tick drains the lost queue first, then the committed buffer,
// sealing as many packets as the congestion budget and MTU allow
// (spec §4.3.1 steps 1-4). nowNanos feeds the retransmit queue's PTO
// deadlines.
func (s *Sender) Tick(now time.Time, nowNanos uint64) ([]*OutboundPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealer == nil {
		return nil, secret.ErrRetired
	}

	budget := s.cc.Budget(s.inflightBytesLocked())
	var out []*OutboundPacket

	maxPayload := s.mtu - headerOverheadEstimate - 16 // - AEAD tag
	if maxPayload <= 0 {
		return nil, ErrPacketBufferTooSmall
	}

	// Step 2: drain the lost queue first.
	for len(s.lost) > 0 && budget > 0 {
		pn := s.lost[0]
		rec, ok := s.inflight[pn]
		if !ok {
			s.lost = s.lost[1:]
			continue
		}
		data := s.buf.Retransmit(rec.offset, rec.length)
		if data == nil {
			s.lost = s.lost[1:]
			delete(s.inflight, pn)
			continue
		}
		pkt, err := s.sealPacket(rec.offset, data, rec.fin, now, &rec.originalPN)
		if err != nil {
			return out, err
		}
		out = append(out, pkt)
		budget -= len(pkt.Bytes)
		s.lost = s.lost[1:]
		delete(s.inflight, pn)
	}

	// Step 3/4: fill from the committed queue.
	for budget > 0 {
		chunkLen := maxPayload
		offset, data, fin, ok := s.buf.Seal(chunkLen)
		if !ok {
			break
		}
		pkt, err := s.sealPacket(offset, data, fin, now, nil)
		if err != nil {
			return out, err
		}
		out = append(out, pkt)
		budget -= len(pkt.Bytes)
		if fin {
			s.finalSent = true
			break
		}
	}

	return out, nil
}

func (s *Sender) inflightBytesLocked() int {
	n := 0
	for _, r := range s.inflight {
		n += r.length
	}
	return n
}

// sealPacket seals one packet. originalPN is nil for an original send;
// for a retransmission it names the packet number the same bytes were
// first sealed under, which is recorded in the header's
// RetransmissionDelta field (spec §4.1 retransmission tagging) so the
// AEAD tag absorbs it as associated data and the peer can correlate
// the retransmission back to the original packet number.
func (s *Sender) sealPacket(offset uint64, data []byte, fin bool, now time.Time, originalPN *uint64) (*OutboundPacket, error) {
	if s.nextPN > MaxPacketNumber {
		return nil, ErrPacketNumberExhaustion
	}
	aead, keyID, dir, err := s.sealer.Current()
	if err != nil {
		return nil, err
	}

	pn := s.nextPN
	s.nextPN++

	origPN := pn
	if originalPN != nil {
		origPN = *originalPN
	}

	h := &wire.StreamHeader{
		CredentialID:                    s.credentialID,
		KeyID:                           keyID,
		QueueID:                         s.id.QueueID,
		IsBidirectional:                 s.id.IsBidirectional,
		IsReliable:                      s.id.IsReliable,
		PacketNumber:                    pn,
		Offset:                          offset,
		RetransmissionDelta:             pn - origPN,
		NextExpectedControlPacketNumber: s.nextExpectCtrl,
	}
	if fin {
		off := offset + uint64(len(data))
		h.FinalOffset = &off
	}

	header, err := wire.EncodeStreamHeader(nil, h, len(data))
	if err != nil {
		return nil, err
	}
	nonce := wire.DataNonce(wire.KindStream, dir, keyID, pn)
	sealed := wire.Seal(header, aead, nonce, header, data)
	s.sealer.RecordSealed()

	if s.id.IsReliable {
		s.inflight[pn] = &inflightRecord{offset: offset, length: len(data), fin: fin, firstSent: now, originalPN: origPN}
		deadline := uint64(now.Add(s.rtt.pto(s.maxAckDelay)).UnixNano())
		s.retransQ.Push(deadline, &Event{PacketNumber: pn, Offset: offset, Length: len(data), Fin: fin, FirstSent: now.UnixNano()})
	}

	return &OutboundPacket{PacketNumber: pn, Offset: offset, Fin: fin, Bytes: sealed}, nil
}

// HandleAck processes a received ACK (spec §4.3.1 ACK processing):
// drops inflight records for every acked packet number, updates RTT
// samples, and moves packets older than the loss threshold into the
// lost queue.
func (s *Sender) HandleAck(now time.Time, largestAcked uint64, ranges []wire.AckRange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acked := ackedSet(largestAcked, ranges)
	for pn := range acked {
		rec, ok := s.inflight[pn]
		if !ok {
			continue
		}
		s.rtt.Sample(now.Sub(rec.firstSent))
		s.retransQ.Remove(pn)
		delete(s.inflight, pn)
		s.buf.Ack(rec.offset + uint64(rec.length))
	}

	lossWindow := s.rtt.lossDuration()
	for pn, rec := range s.inflight {
		if acked[pn] {
			continue
		}
		if pn < largestAcked && (pn+lossPacketDistance <= largestAcked || now.Sub(rec.firstSent) > lossWindow) {
			s.lost = append(s.lost, pn)
			// Already scheduled for immediate resend; drop its PTO
			// deadline so it isn't also drained (and double-counted)
			// by a later CheckPTO.
			s.retransQ.Remove(pn)
		}
	}
	s.ptoBackoff = 0
}

// ackedSet expands a largest-acked value plus gap/length ranges into
// the concrete set of acknowledged packet numbers (spec §4.3.2's
// QUIC-style range encoding).
func ackedSet(largestAcked uint64, ranges []wire.AckRange) map[uint64]bool {
	out := make(map[uint64]bool)
	hi := largestAcked
	for i, r := range ranges {
		if i == 0 {
			for pn := hi - r.Length + 1; pn <= hi; pn++ {
				out[pn] = true
			}
			hi -= r.Length
			continue
		}
		hi -= r.Gap
		for pn := hi - r.Length + 1; pn <= hi; pn++ {
			out[pn] = true
		}
		hi -= r.Length
	}
	if len(ranges) == 0 {
		out[largestAcked] = true
	}
	return out
}

// CheckPTO reports whether the probe timeout has actually elapsed
// (spec §4.3.1: "if no ACK arrives within PTO = smoothed_rtt +
// 4*rtt_variance + max_ack_delay"), gated by the RetransmitQueue's
// deadline-ordered heap (spec §4.3.3) rather than an ungated scan of
// inflight packets. nowNanos is compared against the deadline each
// packet was Push()ed with at send time (sealPacket, computed from the
// same rtt.pto formula); a packet only becomes due once that deadline
// has actually passed. Every due event's packet number is moved to the
// lost queue for resending on the next Tick, which re-arms a fresh
// deadline when it reseals. HandleAck resets the backoff to zero on
// every ACK it processes, whether or not the acked packets were sent
// after the PTO fired.
func (s *Sender) CheckPTO(nowNanos uint64) *Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := s.retransQ.DrainDue(nowNanos)
	if len(due) == 0 {
		return nil
	}
	s.ptoBackoff++
	for _, ev := range due {
		if _, ok := s.inflight[ev.PacketNumber]; ok {
			s.lost = append(s.lost, ev.PacketNumber)
		}
	}
	first := due[0]
	s.retransQ.Release(due)
	return first
}

// PTOBackoff reports the current probe backoff exponent, for tests
// checking spec §8's "strictly monotone within a single probe run"
// property.
func (s *Sender) PTOBackoff() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptoBackoff
}

// Finished reports whether the final chunk has been sealed and every
// inflight packet has been acked (reliable streams) — the send-side
// half of spec §3's stream destruction condition.
func (s *Sender) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalSent && len(s.inflight) == 0 && len(s.lost) == 0
}
