// Package udpsubstrate wraps a plain net.PacketConn as the unreliable
// UDP Socket capability of spec §4.4/§6/§9, the default substrate for
// stream.ID.IsReliable == false streams and for datagram packets.
package udpsubstrate

import (
	"context"
	"net"
	"time"

	"github.com/katzenpost/dctransport/transport"
)

// Socket wraps a net.PacketConn. Go's net.PacketConn has no per-packet
// ECN accessor without platform-specific cmsg plumbing (the xdp/raw-
// socket backends spec §1 explicitly excludes), so PollRecv always
// reports transport.EcnNotECT here. quicsubstrate reports EcnNotECT
// as well, so no substrate in this repository surfaces a real marking.
type Socket struct {
	conn net.PacketConn
}

// New wraps an already-bound net.PacketConn.
func New(conn net.PacketConn) *Socket {
	return &Socket{conn: conn}
}

// Listen opens a new UDP socket bound to addr (host:port), mirroring
// how client2/connection.go dials rather than listens, but reused here
// for the server-accept side of spec §4.4.
func Listen(addr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

func (s *Socket) PollRecv(ctx context.Context, buf []byte) (int, net.Addr, transport.Ecn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}
	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		return 0, nil, transport.EcnNotECT, err
	}
	return n, addr, transport.EcnNotECT, nil
}

func (s *Socket) PollSend(ctx context.Context, addr net.Addr, _ transport.Ecn, buf []byte) (int, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	} else {
		s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteTo(buf, addr)
}

func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *Socket) IsReliable() bool    { return false }
func (s *Socket) Close() error        { return s.conn.Close() }
