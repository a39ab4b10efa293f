// Package transport defines the Socket/Clock/Executor collaborator
// interfaces the core consumes (spec §6) and the capability-set model
// of spec §9 ("Dynamic dispatch over substrates"): UDP, TCP, and QUIC
// all implement the same Socket capability, and the stream engine
// branches on IsReliable() at construction time rather than on the
// concrete substrate type.
package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrFrameTooLarge is returned by a length-prefixed Socket
// implementation (tcpsubstrate) when a peer-declared frame length
// exceeds the substrate's sanity bound or the caller's buffer.
var ErrFrameTooLarge = errors.New("transport: frame too large")

// Ecn carries the minimal explicit-congestion-notification marking
// spec.md §9.1 (Supplement, "Socket stats on the client side (cmsg)")
// asks for end to end, even though ECN *policy* stays a pluggable
// congestion-control collaborator (spec §1 Non-goal).
type Ecn uint8

const (
	EcnNotECT Ecn = iota
	EcnECT1
	EcnECT0
	EcnCE
)

// Socket is the capability set spec §6 requires of the substrate the
// core runs over, plus the `is_reliable` flag spec §9 calls for so the
// stream engine can pick its receive path at construction time. It has
// no features() bitmap; IsReliable is its only capability flag.
type Socket interface {
	// PollRecv reads one datagram into buf, returning the number of
	// bytes read, the peer address, and the ECN marking observed on
	// it (best-effort; EcnNotECT if the substrate can't report one).
	PollRecv(ctx context.Context, buf []byte) (n int, addr net.Addr, ecn Ecn, err error)
	// PollSend writes buf to addr with the given ECN marking (ignored
	// by substrates, like TCP, that carry no per-packet ECN field).
	PollSend(ctx context.Context, addr net.Addr, ecn Ecn, buf []byte) (n int, err error)
	LocalAddr() net.Addr
	// IsReliable reports whether the substrate itself guarantees
	// in-order, lossless delivery (TCP) or not (UDP, the QUIC
	// unreliable-datagram path) — spec §3's StreamID.IsReliable is
	// negotiated implicitly by which of these an endpoint is built on.
	IsReliable() bool
	Close() error
}

// SendOnlySocket is the degenerate capability set of spec.md §9.1
// ("Send-only sockets"): a write-only collaborator, e.g. a
// fire-and-forget telemetry exporter reusing the dc wire format, that
// never needs to implement PollRecv. Every Socket also satisfies it.
type SendOnlySocket interface {
	PollSend(ctx context.Context, addr net.Addr, ecn Ecn, buf []byte) (n int, err error)
	LocalAddr() net.Addr
	Close() error
}

// Clock is the time-source collaborator of spec §6/§4.4.1: now() and
// sleep(duration). Sleep is cancelled through its ctx and returns the
// timestamp at which it actually fired (so callers can distinguish an
// early wake from cancellation).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) (fired time.Time, err error)
}

// Executor is the task-spawning collaborator of spec §6: components
// hand it a function to run as a background task rather than calling
// `go` directly, so a systems-language port (or a test harness) can
// substitute a different scheduler.
type Executor interface {
	Spawn(fn func())
}

// GoExecutor is the trivial Executor backed by the Go runtime's own
// scheduler — the default wiring for every substrate in this package.
type GoExecutor struct{}

func (GoExecutor) Spawn(fn func()) { go fn() }
