package stream

import (
	"sync"
	"time"

	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/internal/slidingwindow"
	"github.com/katzenpost/dctransport/secret"
	"github.com/katzenpost/dctransport/wire"
)

// ackRange mirrors wire.AckRange but keyed by absolute packet numbers,
// used internally to build the compact set of received-range state
// before QUIC-style gap/length encoding at send time (spec §4.3.2 "ACK
// generation: the receiver keeps a compact set of ranges").
type ackRange struct {
	lo, hi uint64 // inclusive
}

// Receiver is the receive-side state machine of spec §4.3.2.
type Receiver struct {
	mu sync.Mutex

	id           ID
	credentialID credential.ID

	opener *secret.Opener
	reasm  *Reassembler

	dedup *slidingwindow.Window // reliable mode: duplicate filter; unreliable: doubles as replay defence

	ranges               []ackRange
	ackElicitingOutstanding int
	oldestUnackedAt      time.Time
	maxAckDelay          time.Duration
	nextExpectedControl  uint64 // pruning floor reported by the peer

	lastActivity time.Time
	idleTimeout  time.Duration

	finalOffset *uint64
	fatalErr    error
}

// ReceiverConfig configures a new Receiver.
type ReceiverConfig struct {
	ID           ID
	CredentialID credential.ID
	Opener       *secret.Opener
	WindowWidth  uint64
	MaxAckDelay  time.Duration
	IdleTimeout  time.Duration
}

// NewReceiver builds a Receiver ready to consume decoded stream
// packets.
func NewReceiver(cfg ReceiverConfig, now time.Time) *Receiver {
	width := cfg.WindowWidth
	if width == 0 {
		width = 128
	}
	maxAckDelay := cfg.MaxAckDelay
	if maxAckDelay == 0 {
		maxAckDelay = 25 * time.Millisecond
	}
	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = 30 * time.Second
	}
	return &Receiver{
		id:           cfg.ID,
		credentialID: cfg.CredentialID,
		opener:       cfg.Opener,
		reasm:        NewReassembler(),
		dedup:        slidingwindow.New(width),
		maxAckDelay:  maxAckDelay,
		idleTimeout:  idle,
		lastActivity: now,
	}
}

// Deliver feeds one decrypted, authenticated stream packet into the
// receiver (spec §4.3.2 steps 2-5; step 1, decryption, happens in the
// caller via the stream's secret.Opener and wire.Open before Deliver is
// called so that AEAD
// failures can be counted without ever touching receiver state).
func (r *Receiver) Deliver(now time.Time, h *wire.StreamHeader, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	isNew, gap := r.dedup.Check(h.PacketNumber)
	r.lastActivity = now
	if !isNew {
		// Duplicate: dropped, but still contributes to ACK state on
		// reliable transports (it must not be re-elicited).
		if r.id.IsReliable {
			r.recordRangeLocked(h.PacketNumber)
		}
		_ = gap
		return nil
	}
	r.dedup.Accept(h.PacketNumber)

	fin := h.FinalOffset != nil
	if err := r.reasm.Insert(h.Offset, payload, fin); err != nil {
		r.fatalErr = err
		return err
	}
	if fin {
		r.finalOffset = h.FinalOffset
	}

	if r.id.IsReliable {
		r.recordRangeLocked(h.PacketNumber)
		if h.RetransmissionDelta != 0 {
			// Spec §4.1 retransmission tagging: this packet carries
			// data first sealed under an earlier packet number. Fold
			// that original packet number into the ACK range too so
			// the sender's ACK space is fed correctly even if its own
			// bookkeeping for the original packet number is still
			// outstanding.
			r.recordRangeLocked(h.PacketNumber - h.RetransmissionDelta)
		}
		r.ackElicitingOutstanding++
		if r.ackElicitingOutstanding == 1 {
			r.oldestUnackedAt = now
		}
	}
	if h.NextExpectedControlPacketNumber > r.nextExpectedControl {
		r.nextExpectedControl = h.NextExpectedControlPacketNumber
		r.pruneRangesLocked()
	}
	return nil
}

// Read drains up to len(p) reassembled bytes (spec §4.3.2 read()).
// io.EOF semantics: callers treat (n>0, eof) as "n bytes then EOF on
// the next call", matching stream/stream.go's Read wrapper idiom.
func (r *Receiver) Read(p []byte) (n int, eof bool, err error) {
	r.mu.Lock()
	fatal := r.fatalErr
	r.mu.Unlock()
	if fatal != nil {
		return 0, false, fatal
	}
	n, eof = r.reasm.Read(p)
	return n, eof, nil
}

// LastActivity reports the wall-clock time of the most recently
// accepted inbound packet, consulted by the endpoint's keep-alive
// timer (spec §4.4.1).
func (r *Receiver) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// CheckIdle reports ErrIdleTimeout if no packet has arrived within the
// configured idle timeout.
func (r *Receiver) CheckIdle(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastActivity) > r.idleTimeout {
		return ErrIdleTimeout
	}
	return nil
}

// recordRangeLocked folds pn into the receiver's compact range set,
// merging with an adjacent range where possible.
func (r *Receiver) recordRangeLocked(pn uint64) {
	for i, rg := range r.ranges {
		if pn >= rg.lo && pn <= rg.hi {
			return // already recorded
		}
		if pn+1 == rg.lo {
			r.ranges[i].lo = pn
			r.mergeAdjacentLocked(i)
			return
		}
		if pn == rg.hi+1 {
			r.ranges[i].hi = pn
			r.mergeAdjacentLocked(i)
			return
		}
	}
	r.ranges = append(r.ranges, ackRange{lo: pn, hi: pn})
	sortRanges(r.ranges)
}

func (r *Receiver) mergeAdjacentLocked(i int) {
	sortRanges(r.ranges)
	out := r.ranges[:0]
	for _, rg := range r.ranges {
		if len(out) > 0 && rg.lo <= out[len(out)-1].hi+1 {
			if rg.hi > out[len(out)-1].hi {
				out[len(out)-1].hi = rg.hi
			}
			continue
		}
		out = append(out, rg)
	}
	r.ranges = out
}

func sortRanges(rs []ackRange) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j-1].lo > rs[j].lo; j-- {
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}

// pruneRangesLocked drops ranges entirely below nextExpectedControl
// (spec §4.3.2 "Ranges below next_expected_control_packet reported by
// the peer are pruned").
func (r *Receiver) pruneRangesLocked() {
	out := r.ranges[:0]
	for _, rg := range r.ranges {
		if rg.hi < r.nextExpectedControl {
			continue
		}
		out = append(out, rg)
	}
	r.ranges = out
}

// ShouldSendAck reports whether an ACK is due now: spec §4.3.2's three
// triggers — 2 ack-eliciting packets outstanding, max_ack_delay
// elapsed since the oldest, or piggyback (left to the caller, which
// calls BuildAck whenever it sends any other control packet).
func (r *Receiver) ShouldSendAck(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ackElicitingOutstanding >= 2 {
		return true
	}
	if r.ackElicitingOutstanding > 0 && now.Sub(r.oldestUnackedAt) >= r.maxAckDelay {
		return true
	}
	return false
}

// BuildAck returns the largest-acked value and QUIC-style gap/length
// ranges for an ACK packet, and resets the ack-eliciting-outstanding
// counter.
func (r *Receiver) BuildAck() (largestAcked uint64, ranges []wire.AckRange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ranges) == 0 {
		return 0, nil
	}
	// Highest range first (largest packet numbers), matching the
	// encoding in wire/control.go.
	sorted := append([]ackRange(nil), r.ranges...)
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	largestAcked = sorted[0].hi
	hi := sorted[0].hi
	for i, rg := range sorted {
		length := rg.hi - rg.lo + 1
		if i == 0 {
			ranges = append(ranges, wire.AckRange{Length: length})
			hi = rg.lo - 1
			continue
		}
		gap := hi - rg.hi
		ranges = append(ranges, wire.AckRange{Gap: gap, Length: length})
		hi = rg.lo - 1
	}
	r.ackElicitingOutstanding = 0
	return largestAcked, ranges
}

// FinalOffset reports the stream's final offset, if a FIN has been
// observed.
func (r *Receiver) FinalOffset() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalOffset == nil {
		return 0, false
	}
	return *r.finalOffset, true
}
