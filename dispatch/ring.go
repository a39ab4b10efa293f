// Package dispatch implements the endpoint's socket-level routing of
// spec §4.4: a lock-free-on-the-fast-path directory of per-queue-id
// rings, and a dispatcher that classifies each received packet and
// either appends it to the right stream's ring, steers it to the
// path-secret store, or rejects it.
//
// Grounded on client2/connection.go's sendCh/fetchCh channel-per-
// concern plumbing, generalized from a handful of fixed channels to a
// directory keyed by queue id, and on gopkg.in/eapache/channels.v1 (a
// direct teacher dependency) for the bounded ring primitive itself.
package dispatch

import (
	"sync"
	"sync/atomic"

	channels "gopkg.in/eapache/channels.v1"
)

// Packet is one received datagram, pool-allocated by the endpoint's
// receive loop and handed down into a ring (spec §4.4 "reads a batch
// of datagrams into pool-allocated buffers").
type Packet struct {
	Bytes []byte
	// Addr is the peer address this packet arrived from, as net.Addr
	// would report it; kept as an interface{} here to avoid importing
	// net into the hot path struct (callers type-assert to net.Addr).
	Addr interface{}
}

// Ring is a bounded, single-producer-hostile... actually
// multi-producer-safe queue of *Packet for one queue id. Receive-side
// rings use channels.v1's RingChannel (drop-oldest-on-overflow,
// non-blocking producer — spec §4.4 "Backpressure: receive rings are
// bounded; overflow sets a has_overflow flag"); send-side rings use a
// NativeChannel instead (blocking producer — spec §4.4 "Send rings
// block the producer on acquire").
type Ring struct {
	ch       channels.Channel
	overflow int32 // atomic bool: set once the ring has dropped a packet
}

// NewReceiveRing builds a bounded ring that drops the oldest queued
// packet (and raises HasOverflow) rather than blocking the receiver
// task when full.
func NewReceiveRing(capacity int) *Ring {
	r := &Ring{ch: channels.NewRingChannel(channels.BufferCap(capacity))}
	return r
}

// NewSendRing builds a bounded ring whose producer blocks on Push when
// full (spec §4.4 send-path backpressure).
func NewSendRing(capacity int) *Ring {
	return &Ring{ch: channels.NewNativeChannel(channels.BufferCap(capacity))}
}

// Push enqueues p. On a receive ring this never blocks (RingChannel
// drops the oldest entry instead); on a send ring it blocks until
// capacity is available.
func (r *Ring) Push(p *Packet) {
	before := r.ch.Len()
	r.ch.In() <- p
	if before >= int(capOf(r.ch)) {
		atomic.StoreInt32(&r.overflow, 1)
	}
}

// capOf returns a channel's configured capacity, or a large sentinel
// for unbounded channel kinds (not used by this package, but keeps
// the helper total).
func capOf(ch channels.Channel) int {
	c := ch.Cap()
	if c < 0 {
		return int(^uint(0) >> 1)
	}
	return int(c)
}

// Pop blocks until a packet is available or the ring is closed, in
// which case ok is false.
func (r *Ring) Pop() (*Packet, bool) {
	v, ok := <-r.ch.Out()
	if !ok {
		return nil, false
	}
	return v.(*Packet), true
}

// Out exposes the underlying receive channel for callers that want to
// select across multiple rings or a halt channel (e.g. the
// per-stream receiver task in endpoint/endpoint.go).
func (r *Ring) Out() <-chan interface{} { return r.ch.Out() }

// HasOverflow reports whether this ring has ever dropped a packet due
// to being full, per spec §4.4's backpressure signal. It is sticky:
// callers clear it explicitly via ClearOverflow once they've reacted
// (e.g. emitted a reject_sequence_id hint).
func (r *Ring) HasOverflow() bool { return atomic.LoadInt32(&r.overflow) != 0 }

// ClearOverflow resets the sticky overflow flag.
func (r *Ring) ClearOverflow() { atomic.StoreInt32(&r.overflow, 0) }

// Close releases the ring's underlying channel.
func (r *Ring) Close() { r.ch.Close() }

// pageSize is the page width of the queue-id directory (spec §4.4:
// "indexed via a per-page directory (pages of 1024 senders) so that
// growing the directory does not invalidate existing producers").
const pageSize = 1024

type page struct {
	slots [pageSize]atomic.Pointer[Ring]
}

// Directory maps queue id -> *Ring via a growable slice of fixed-size
// pages. A lookup takes the directory mutex to find the page by a
// shifted index, then atomically loads the ring pointer from the page's
// slot; it is not lock-free. An existing producer holding a *page
// reference is never invalidated by the directory growing to
// accommodate a higher queue id: grow only appends new *page entries,
// it never reallocates existing ones.
type Directory struct {
	mu    sync.Mutex // held by pageFor on every lookup and growth
	pages []*page
}

// NewDirectory returns an empty queue-id directory.
func NewDirectory() *Directory {
	return &Directory{}
}

func (d *Directory) pageFor(queueID uint64, grow bool) *page {
	idx := int(queueID / pageSize)
	d.mu.Lock()
	for idx >= len(d.pages) {
		if !grow {
			d.mu.Unlock()
			return nil
		}
		d.pages = append(d.pages, &page{})
	}
	pg := d.pages[idx]
	d.mu.Unlock()
	return pg
}

// Lookup returns the ring registered for queueID, or nil if none.
// It takes d.mu (via pageFor) to find the page, then reads the slot
// with a single atomic load.
func (d *Directory) Lookup(queueID uint64) *Ring {
	pg := d.pageFor(queueID, false)
	if pg == nil {
		return nil
	}
	return pg.slots[queueID%pageSize].Load()
}

// Register installs ring for queueID, growing the directory if
// necessary. It is an error (silently overwriting) to Register twice
// for the same queueID without an intervening Unregister; callers
// (endpoint/endpoint.go) only ever allocate fresh queue ids.
func (d *Directory) Register(queueID uint64, ring *Ring) {
	pg := d.pageFor(queueID, true)
	pg.slots[queueID%pageSize].Store(ring)
}

// Unregister removes queueID's ring, closing it first.
func (d *Directory) Unregister(queueID uint64) {
	pg := d.pageFor(queueID, false)
	if pg == nil {
		return
	}
	slot := &pg.slots[queueID%pageSize]
	if r := slot.Swap(nil); r != nil {
		r.Close()
	}
}
