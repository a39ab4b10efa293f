// Package quicsubstrate wraps a quic-go connection's unreliable
// datagram path as the "unreliable substrate" Socket capability of
// spec §4.4/§6 (SPEC_FULL §1 DOMAIN STACK), mirroring
// sockatz/common/conn.go's QUICProxyConn (a katzenpost transport that
// runs its own protocol framing over a QUIC datagram channel) but
// exposing the dc Socket interface instead of net.PacketConn.
package quicsubstrate

import (
	"context"
	"crypto/tls"
	"net"

	quic "github.com/quic-go/quic-go"

	"github.com/katzenpost/dctransport/transport"
)

// Socket wraps one quic.Connection, using SendDatagram/ReceiveDatagram
// (QUIC's unreliable, bounded-size datagram extension) as the carrier
// for dc packets — the data-plane packet format of spec §4.1 is
// unrelated to the QUIC protocol itself; this substrate only borrows
// QUIC's already-encrypted, NAT-traversing datagram channel as a
// transport, exactly as sockatz/common/conn.go borrows a QUIC stream
// for its own independent wire protocol.
type Socket struct {
	conn quic.Connection
}

// New wraps an established quic.Connection.
func New(conn quic.Connection) *Socket {
	return &Socket{conn: conn}
}

// Dial establishes a client-side QUIC connection to addr and wraps it.
// tlsConf is the caller's TLS configuration for the outer QUIC
// handshake — unrelated to the dc transport's own pre-shared-secret
// control plane (spec §1 Non-goal: "TLS handshake negotiation" refers
// to the dc layer, not to this carrier's own session setup).
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, qcfg *quic.Config) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, udpAddr.String(), tlsConf, qcfg)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Accept wraps one connection off a quic.Listener; callers run their
// own Accept loop and wrap each resulting quic.Connection.
func Accept(ctx context.Context, l *quic.Listener) (*Socket, error) {
	conn, err := l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

func (s *Socket) PollRecv(ctx context.Context, buf []byte) (int, net.Addr, transport.Ecn, error) {
	msg, err := s.conn.ReceiveDatagram(ctx)
	if err != nil {
		return 0, nil, transport.EcnNotECT, err
	}
	if len(msg) > len(buf) {
		return 0, nil, transport.EcnNotECT, transport.ErrFrameTooLarge
	}
	n := copy(buf, msg)
	// quic-go's datagram API has no per-message ECN accessor exposed
	// at this layer; ECN here tracks the transport's own congestion
	// response, not a value this substrate can surface per spec.md
	// §9.1's cmsg supplement.
	return n, s.conn.RemoteAddr(), transport.EcnNotECT, nil
}

func (s *Socket) PollSend(ctx context.Context, _ net.Addr, _ transport.Ecn, buf []byte) (int, error) {
	if err := s.conn.SendDatagram(buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *Socket) IsReliable() bool    { return false }
func (s *Socket) Close() error        { return s.conn.CloseWithError(0, "") }
