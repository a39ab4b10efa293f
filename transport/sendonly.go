package transport

import (
	"context"
	"net"
)

// SendOnlyUDP is the degenerate Socket of SPEC_FULL §9.1 ("Send-only
// sockets", grounded on original_source's socket/send_only.rs): a
// write-only collaborator, for callers that only ever emit dc-framed
// datagrams (e.g. a fire-and-forget telemetry exporter) and never need
// PollRecv. It satisfies SendOnlySocket, not the full Socket
// interface, so callers that try to use it as a receive-capable
// collaborator get a compile-time error rather than a silent runtime
// no-op.
type SendOnlyUDP struct {
	conn net.PacketConn
}

// NewSendOnlyUDP wraps conn (typically from net.DialUDP, already
// implicitly bound to one peer) as a send-only socket.
func NewSendOnlyUDP(conn net.PacketConn) *SendOnlyUDP {
	return &SendOnlyUDP{conn: conn}
}

func (s *SendOnlyUDP) PollSend(ctx context.Context, addr net.Addr, _ Ecn, buf []byte) (int, error) {
	return s.conn.WriteTo(buf, addr)
}

func (s *SendOnlyUDP) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *SendOnlyUDP) Close() error        { return s.conn.Close() }
