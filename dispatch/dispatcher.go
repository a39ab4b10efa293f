package dispatch

import (
	"net"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/internal/metrics"
	"github.com/katzenpost/dctransport/secret"
	"github.com/katzenpost/dctransport/wire"
	"github.com/katzenpost/dctransport/wire/secretcontrol"
)

// AcceptedStream is handed to the endpoint's accept queue (spec §4.4
// "create receive-side state ... subject to an accept-queue credit")
// when an initial packet for a previously unseen queue id arrives
// under a known credential.
type AcceptedStream struct {
	QueueID      uint64
	CredentialID credential.ID
	Entry        *secret.Entry
	PeerAddr     net.Addr
	First        *Packet
}

// SecretControlHandler is invoked for every decoded secret-control
// packet; the caller (the path-secret store, via secret.Store.Apply)
// is responsible for authenticating it against the entry's keys.
type SecretControlHandler func(entry *secret.Entry, buf []byte, addr net.Addr)

// Config configures a Dispatcher.
type Config struct {
	Store           *secret.Store
	RingCapacity    int
	AcceptQueueSize int
	Metrics         *metrics.Collectors
	Log             *log.Logger

	OnSecretControl SecretControlHandler
}

// Dispatcher is the receive-side routing engine of spec §4.4: it
// classifies each received datagram and either appends it to the
// matching queue-id ring, creates new receive-side stream state
// (subject to accept-queue credit), hands secret-control packets to
// the path-secret store, or drops the packet.
type Dispatcher struct {
	cfg Config
	dir *Directory
	log *log.Logger

	acceptCh  chan *AcceptedStream
	acceptSem chan struct{} // bounds in-flight accept-queue credit
}

// New builds a Dispatcher bound to store.
func New(cfg Config) *Dispatcher {
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = 256
	}
	if cfg.AcceptQueueSize == 0 {
		cfg.AcceptQueueSize = 128
	}
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}
	return &Dispatcher{
		cfg:       cfg,
		dir:       NewDirectory(),
		log:       cfg.Log.WithPrefix("dispatch"),
		acceptCh:  make(chan *AcceptedStream, cfg.AcceptQueueSize),
		acceptSem: make(chan struct{}, cfg.AcceptQueueSize),
	}
}

// Directory exposes the queue-id->ring map for the endpoint's send
// path and for stream lifecycle teardown.
func (d *Dispatcher) Directory() *Directory { return d.dir }

// Accept returns the channel of newly admitted streams. The endpoint's
// Accept() method reads from it.
func (d *Dispatcher) Accept() <-chan *AcceptedStream { return d.acceptCh }

// Release returns one unit of accept-queue credit once a stream
// created via the accept path is fully torn down (so a long-lived busy
// endpoint doesn't permanently exhaust the credit pool on churn).
func (d *Dispatcher) Release() {
	select {
	case <-d.acceptSem:
	default:
	}
}

// OutboundReply is returned by Dispatch when the dispatcher needs the
// caller to send a secret-control packet back to addr. Replies are
// only produced when the dispatcher already holds key material for
// the named credential (see Dispatch's "Unknown" branch doc comment);
// a literally-never-seen credential id produces no reply, since there
// is no key to authenticate one with.
type OutboundReply struct {
	Entry *secret.Entry
	Msg   *secretcontrol.Message
	Addr  net.Addr
}

// Dispatch classifies and routes one received datagram (spec §4.4).
// It returns a non-nil *OutboundReply when the caller should seal and
// send a secret-control packet in response.
func (d *Dispatcher) Dispatch(buf []byte, addr net.Addr) *OutboundReply {
	peeked, err := wire.Peek(buf)
	if err != nil {
		d.bump(metrics.DropMalformed)
		return nil
	}

	entry, known := d.cfg.Store.Lookup(peeked.CredentialID)
	if !known {
		// Spec §4.2's catalogue requires every secret-control message
		// to be AEAD-authenticated under the credential; a credential
		// id we have never installed carries no key material to
		// authenticate a reply with, so we cannot forge an
		// unknown_path_secret notice here without violating that
		// invariant. We drop and count it instead; the RetiredHard
		// branch below is where unknown_path_secret is actually sent,
		// for credentials we once knew and can still authenticate
		// under.
		d.bump(metrics.DropUnknownCredential)
		return nil
	}

	if peeked.Kind == wire.KindSecretControl {
		if d.cfg.OnSecretControl != nil {
			d.cfg.OnSecretControl(entry, buf, addr)
		}
		return nil
	}

	if entry.Status() == secret.StatusRetiredHard {
		return d.replyUnknownPathSecretIfPossible(entry, addr)
	}

	if !peeked.HasQueueID {
		d.bump(metrics.DropMalformed)
		return nil
	}

	if ring := d.dir.Lookup(peeked.QueueID); ring != nil {
		ring.Push(&Packet{Bytes: buf, Addr: addr})
		return nil
	}

	if peeked.Kind != wire.KindStream {
		// Control and datagram packets never create new stream state
		// (spec §4.4): no ring means no such stream exists (yet, or
		// ever), so there is nothing to route to.
		d.bump(metrics.DropMalformed)
		return nil
	}

	return d.admitNewStream(entry, peeked.QueueID, buf, addr)
}

// admitNewStream implements spec §4.4's "stream with unknown queue id
// but known credential id and stream_offset == 0 -> create receive-side
// state (subject to an accept-queue credit); if accept queue is full,
// drop and emit reject_sequence_id."
func (d *Dispatcher) admitNewStream(entry *secret.Entry, queueID uint64, buf []byte, addr net.Addr) *OutboundReply {
	h, _, _, err := wire.DecodeStreamHeader(buf, nil)
	if err != nil {
		d.bump(metrics.DropMalformed)
		return nil
	}
	if h.Offset != 0 {
		// A non-initial packet for a queue id we've never registered
		// (e.g. arrived after the stream's ring was already torn
		// down, or a malicious/confused peer); nothing to reassemble
		// into, so drop rather than admit.
		d.bump(metrics.DropMalformed)
		return nil
	}

	select {
	case d.acceptSem <- struct{}{}:
	default:
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.AcceptQueueDrops.Inc()
		}
		return &OutboundReply{
			Entry: entry,
			Msg:   secretcontrol.NewRejectSequenceID(entry.ID(), 0, queueID, 0),
			Addr:  addr,
		}
	}

	ring := NewReceiveRing(d.cfg.RingCapacity)
	d.dir.Register(queueID, ring)
	ring.Push(&Packet{Bytes: buf, Addr: addr})

	accepted := &AcceptedStream{
		QueueID:      queueID,
		CredentialID: entry.ID(),
		Entry:        entry,
		PeerAddr:     addr,
		First:        &Packet{Bytes: buf, Addr: addr},
	}
	select {
	case d.acceptCh <- accepted:
	default:
		// Accept channel itself is sized to AcceptQueueSize and the
		// semaphore above already bounds concurrent admits, so this
		// should not happen; fail safe by releasing the credit back.
		d.Release()
		d.dir.Unregister(queueID)
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.AcceptQueueDrops.Inc()
		}
		return nil
	}
	return nil
}

// replyUnknownPathSecretIfPossible builds the unknown_path_secret
// reply for a credential the dispatcher still has metadata (and
// therefore key material) for, but which is hard-retired.
func (d *Dispatcher) replyUnknownPathSecretIfPossible(entry *secret.Entry, addr net.Addr) *OutboundReply {
	return &OutboundReply{
		Entry: entry,
		Msg:   secretcontrol.NewUnknownPathSecret(entry.ID()),
		Addr:  addr,
	}
}

func (d *Dispatcher) bump(reason string) {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.PacketsDropped.WithLabelValues(reason).Inc()
	}
}
