// Package endpoint implements the socket-level endpoint of spec §4.4:
// one substrate (UDP/TCP/QUIC) multiplexed across many streams, the
// receive loop that classifies and routes inbound datagrams via
// dispatch.Dispatcher, the shared outbound writer task, the
// accept-queue surfaced as Endpoint.Accept, and the per-stream
// keep-alive timer of spec §4.4.1.
//
// Grounded on client2/connection.go's Client type: one socket, a
// receiver task, a writer task, and a background worker.Worker driving
// all three, generalized from client2's single fixed connection to
// spec §4.4's many-streams-per-socket model.
package endpoint

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/dispatch"
	"github.com/katzenpost/dctransport/internal/metrics"
	"github.com/katzenpost/dctransport/internal/worker"
	"github.com/katzenpost/dctransport/secret"
	"github.com/katzenpost/dctransport/stream"
	"github.com/katzenpost/dctransport/transport"
	"github.com/katzenpost/dctransport/wire/secretcontrol"
)

// ErrClosed is returned by Connect/Accept once the endpoint has been
// closed.
var ErrClosed = errors.New("endpoint: closed")

// Config configures an Endpoint.
type Config struct {
	Socket   transport.Socket
	Clock    transport.Clock
	Executor transport.Executor
	Store    *secret.Store

	MTU               int
	MaxAckDelay       time.Duration
	MaxIdleTimeout    time.Duration
	WindowWidth       uint64
	InitialRecvWindow uint64
	RingCapacity      int
	AcceptQueueSize   int
	OutboundRingSize  int

	CC stream.CongestionController

	Metrics *metrics.Collectors
	Log     *log.Logger
}

// Stats implements SPEC_FULL §9.1's supplemented server-side socket
// statistics (grounded on original_source's stream/server/tokio/stats.rs):
// accepted/active/closed/rejected stream counts for this endpoint.
type Stats struct {
	Accepted int64
	Active   int64
	Closed   int64
	Rejected int64
}

// Endpoint is the collaborator-facing surface of spec §6:
// Endpoint::connect, Endpoint::accept, wired to one Socket and one
// process-wide (or endpoint-scoped, for tests) path-secret Store.
type Endpoint struct {
	worker.Worker

	cfg        Config
	dispatcher *dispatch.Dispatcher
	outbound   *dispatch.Ring

	ctx    context.Context
	cancel context.CancelFunc

	nextQueueID uint64 // atomic

	mu      sync.Mutex
	streams map[uint64]streamHandle

	accepted, active, closed, rejected int64 // atomic via sync/atomic helpers below

	log *log.Logger
}

type streamHandle struct {
	s     *stream.Stream
	entry *secret.Entry
}

// New builds an Endpoint bound to cfg.Socket and starts its receive,
// writer, and keep-alive background tasks (spec §9 "init(config) ->
// Store / teardown(Store) lifecycle", generalized to the endpoint: no
// static singleton, explicit construction and Close).
func New(cfg Config) (*Endpoint, error) {
	if cfg.Socket == nil {
		return nil, errors.New("endpoint: Config.Socket is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("endpoint: Config.Store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = transport.WallClock{}
	}
	if cfg.Executor == nil {
		cfg.Executor = transport.GoExecutor{}
	}
	if cfg.MTU == 0 {
		cfg.MTU = 1350
	}
	if cfg.MaxAckDelay == 0 {
		cfg.MaxAckDelay = 25 * time.Millisecond
	}
	if cfg.MaxIdleTimeout == 0 {
		cfg.MaxIdleTimeout = 30 * time.Second
	}
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = 256
	}
	if cfg.AcceptQueueSize == 0 {
		cfg.AcceptQueueSize = 128
	}
	if cfg.OutboundRingSize == 0 {
		cfg.OutboundRingSize = 256
	}
	if cfg.CC == nil {
		cfg.CC = stream.UnboundedCongestionController{}
	}
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}

	e := &Endpoint{
		cfg:      cfg,
		outbound: dispatch.NewSendRing(cfg.OutboundRingSize),
		streams:  make(map[uint64]streamHandle),
		log:      cfg.Log.WithPrefix("endpoint"),
	}
	e.dispatcher = dispatch.New(dispatch.Config{
		Store:           cfg.Store,
		RingCapacity:    cfg.RingCapacity,
		AcceptQueueSize: cfg.AcceptQueueSize,
		Metrics:         cfg.Metrics,
		Log:             cfg.Log,
		OnSecretControl: e.handleSecretControl,
	})
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.Go(func() {
		<-e.HaltCh()
		e.cancel()
	})
	e.Go(e.recvLoop)
	e.Go(e.writeLoop)
	e.Go(e.keepaliveLoop)
	return e, nil
}

// LocalAddr returns the substrate's bound local address.
func (e *Endpoint) LocalAddr() net.Addr { return e.cfg.Socket.LocalAddr() }

// Stats returns a snapshot of the endpoint's accept/active/close
// counters (SPEC_FULL §9.1).
func (e *Endpoint) Stats() Stats {
	return Stats{
		Accepted: atomic.LoadInt64(&e.accepted),
		Active:   atomic.LoadInt64(&e.active),
		Closed:   atomic.LoadInt64(&e.closed),
		Rejected: atomic.LoadInt64(&e.rejected),
	}
}

// Connect implements Endpoint::connect (spec §6): allocates a fresh
// queue id, derives the stream's send/receive state from the path
// secret already installed for credentialID, and starts the stream's
// background workers.
func (e *Endpoint) Connect(peerAddr net.Addr, credentialID credential.ID) (*stream.Stream, error) {
	entry, ok := e.cfg.Store.Lookup(credentialID)
	if !ok {
		return nil, secret.ErrUnknownID
	}
	queueID := atomic.AddUint64(&e.nextQueueID, 1)
	ring := dispatch.NewReceiveRing(e.cfg.RingCapacity)
	e.dispatcher.Directory().Register(queueID, ring)
	entry.Ref()

	id := stream.ID{
		QueueID:         queueID,
		IsBidirectional: true,
		IsReliable:      e.cfg.Socket.IsReliable(),
	}
	s := e.newStream(id, credentialID, entry, peerAddr, ring)
	e.registerStream(queueID, s, entry)
	atomic.AddInt64(&e.active, 1)
	return s, nil
}

// Accept implements Endpoint::accept (spec §6): blocks until the
// dispatcher admits a stream for a previously unseen queue id under a
// known credential, subject to the accept-queue credit of spec §4.4.
func (e *Endpoint) Accept() (*stream.Stream, net.Addr, error) {
	select {
	case acc, ok := <-e.dispatcher.Accept():
		if !ok {
			return nil, nil, ErrClosed
		}
		ring := e.dispatcher.Directory().Lookup(acc.QueueID)
		acc.Entry.Ref()
		id := stream.ID{
			QueueID:         acc.QueueID,
			IsBidirectional: true,
			IsReliable:      e.cfg.Socket.IsReliable(),
		}
		s := e.newStream(id, acc.CredentialID, acc.Entry, acc.PeerAddr, ring)
		e.registerStream(acc.QueueID, s, acc.Entry)
		atomic.AddInt64(&e.accepted, 1)
		atomic.AddInt64(&e.active, 1)
		return s, acc.PeerAddr, nil
	case <-e.HaltCh():
		return nil, nil, ErrClosed
	}
}

func (e *Endpoint) newStream(id stream.ID, credID credential.ID, entry *secret.Entry, peerAddr net.Addr, ring *dispatch.Ring) *stream.Stream {
	return stream.New(stream.Config{
		ID:                id,
		CredentialID:      credID,
		Entry:             entry,
		PeerAddr:          peerAddr,
		MTU:               e.cfg.MTU,
		MaxAckDelay:       e.cfg.MaxAckDelay,
		IdleTimeout:       e.cfg.MaxIdleTimeout,
		WindowWidth:       e.cfg.WindowWidth,
		InitialRecvWindow: e.cfg.InitialRecvWindow,
		CC:                e.cfg.CC,
		Clock:             e.cfg.Clock,
		Send:              e.sendFunc(peerAddr),
		Inbound:           ring,
		Log:               e.cfg.Log,
	})
}

func (e *Endpoint) registerStream(queueID uint64, s *stream.Stream, entry *secret.Entry) {
	e.mu.Lock()
	e.streams[queueID] = streamHandle{s: s, entry: entry}
	e.mu.Unlock()
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.StreamsOpen.Inc()
	}
}

// Release tears down the bookkeeping for a stream the caller has
// finished with: closes the stream, unregisters its ring, drops the
// path-secret reference, and releases one unit of accept-queue credit
// (spec §5 "Dropping a stream handle ... (c) the path-secret entry
// reference is decremented").
func (e *Endpoint) Release(queueID uint64) {
	e.mu.Lock()
	h, ok := e.streams[queueID]
	delete(e.streams, queueID)
	e.mu.Unlock()
	if !ok {
		return
	}
	h.s.Close()
	h.entry.Unref()
	e.dispatcher.Directory().Unregister(queueID)
	e.dispatcher.Release()
	atomic.AddInt64(&e.active, -1)
	atomic.AddInt64(&e.closed, 1)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.StreamsOpen.Dec()
	}
}

// Close cancels all background tasks, closes every live stream, and
// releases the socket after a bounded drain (spec §5 "Dropping an
// endpoint cancels all streams and, after a bounded drain interval,
// releases the socket").
func (e *Endpoint) Close() error {
	e.Halt()
	e.mu.Lock()
	handles := make([]streamHandle, 0, len(e.streams))
	for _, h := range e.streams {
		handles = append(handles, h)
	}
	e.streams = make(map[uint64]streamHandle)
	e.mu.Unlock()
	for _, h := range handles {
		h.s.Close()
		h.entry.Unref()
	}
	e.Wait()
	return e.cfg.Socket.Close()
}

func (e *Endpoint) sendFunc(peerAddr net.Addr) stream.SendFunc {
	return func(ctx context.Context, b []byte) error {
		cp := append([]byte(nil), b...)
		e.outbound.Push(&dispatch.Packet{Bytes: cp, Addr: peerAddr})
		return nil
	}
}

// recvLoop is the receiver task of spec §4.4: "reads a batch of
// datagrams into pool-allocated buffers and, for each datagram, peeks
// the first bytes to classify kind and extract credential id and queue
// id." A fresh context.WithTimeout is used per poll so the loop
// notices endpoint shutdown even against substrates (udpsubstrate)
// whose PollRecv only honors a context deadline, not bare
// cancellation.
func (e *Endpoint) recvLoop() {
	buf := make([]byte, e.cfg.MTU)
	for {
		select {
		case <-e.HaltCh():
			return
		default:
		}
		ctx, cancel := context.WithTimeout(e.ctx, time.Second)
		n, addr, _, err := e.cfg.Socket.PollRecv(ctx, buf)
		cancel()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-e.HaltCh():
				return
			default:
			}
			e.log.Warnf("endpoint-fatal socket error: %v", err)
			return
		}
		cp := append([]byte(nil), buf[:n]...)
		if reply := e.dispatcher.Dispatch(cp, addr); reply != nil {
			if reply.Msg.Subtype == secretcontrol.RejectSequenceID {
				atomic.AddInt64(&e.rejected, 1)
			}
			e.sendSecretControlReply(reply)
		}
	}
}

// writeLoop is the shared writer task of spec §4.4: "each stream has a
// producer handle; packets are enqueued for the shared writer task
// which batches with GSO when available." GSO batching is a kernel-
// bypass/platform-I/O concern spec.md §1 scopes out of the core; this
// writer sends one packet per PollSend call.
func (e *Endpoint) writeLoop() {
	for {
		select {
		case <-e.HaltCh():
			return
		case v, ok := <-e.outbound.Out():
			if !ok {
				return
			}
			pkt := v.(*dispatch.Packet)
			addr, _ := pkt.Addr.(net.Addr)
			ctx, cancel := context.WithTimeout(e.ctx, time.Second)
			_, err := e.cfg.Socket.PollSend(ctx, addr, transport.EcnNotECT, pkt.Bytes)
			cancel()
			if err != nil {
				e.log.Warnf("write failed: %v", err)
			}
		}
	}
}

// keepaliveLoop drives spec §4.4.1's per-stream keep-alive timer:
// streams that have gone quiet for keepAliveInterval(MaxIdleTimeout)
// get an empty ACK to reset the peer's idle timer.
func (e *Endpoint) keepaliveLoop() {
	interval := keepAliveInterval(e.cfg.MaxIdleTimeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.HaltCh():
			return
		case <-ticker.C:
		}
		now := e.cfg.Clock.Now()
		e.mu.Lock()
		due := make([]*stream.Stream, 0, len(e.streams))
		for _, h := range e.streams {
			if now.Sub(h.s.LastActivity()) >= interval {
				due = append(due, h.s)
			}
		}
		e.mu.Unlock()
		for _, s := range due {
			s.Keepalive(e.ctx)
		}
	}
}

// handleSecretControl authenticates and applies one received
// secret-control packet against entry's control AEAD (spec §4.2, §6's
// "control" HKDF label), folding the result into the path-secret
// store's state.
func (e *Endpoint) handleSecretControl(entry *secret.Entry, buf []byte, addr net.Addr) {
	m, err := secretcontrol.Decode(buf, entry.ControlAead(), nil)
	if err != nil {
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.PacketsDropped.WithLabelValues(metrics.DropAEAD).Inc()
		}
		return
	}
	if err := e.cfg.Store.Apply(m); err != nil {
		e.log.Warnf("secret-control apply failed: %v", err)
	}
}

// sendSecretControlReply seals and enqueues a secret-control message
// the dispatcher asked the endpoint to send back to a peer (spec
// §4.4's unknown_path_secret/reject_sequence_id replies).
func (e *Endpoint) sendSecretControlReply(r *dispatch.OutboundReply) {
	buf := secretcontrol.Encode(r.Msg, r.Entry.ControlAead())
	e.outbound.Push(&dispatch.Packet{Bytes: buf, Addr: r.Addr})
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
