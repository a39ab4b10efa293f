// Package tcpsubstrate wraps an accepted or dialed net.Conn as the
// reliable Socket capability of spec §4.4/§6/§9: one accepted TCP
// connection per endpoint, length-prefixed so the byte stream can be
// split back into the discrete dc packets the Socket interface
// exposes (TCP itself has no datagram boundaries).
package tcpsubstrate

import (
	"bufio"
	"context"
	"encoding/binary"
	"net"

	"github.com/katzenpost/dctransport/transport"
)

// maxFrameLen bounds a single length-prefixed frame, generously above
// any realistic MTU-bounded dc packet, as a sanity check against a
// corrupted or adversarial length prefix.
const maxFrameLen = 1 << 20

// Socket wraps one TCP connection. PollRecv/PollSend frame each dc
// packet with a leading varint length, mirroring the length-prefixed
// framing client2/arq.go's underlying transport relies on for its own
// reliable byte stream.
type Socket struct {
	conn   net.Conn
	reader *bufio.Reader
}

// New wraps an already-connected net.Conn (from net.Dial or
// net.Listener.Accept).
func New(conn net.Conn) *Socket {
	return &Socket{conn: conn, reader: bufio.NewReader(conn)}
}

// Dial connects to addr and wraps the resulting connection.
func Dial(ctx context.Context, addr string) (*Socket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

func (s *Socket) PollRecv(ctx context.Context, buf []byte) (int, net.Addr, transport.Ecn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
	}
	length, err := binary.ReadUvarint(s.reader)
	if err != nil {
		return 0, nil, transport.EcnNotECT, err
	}
	if length > maxFrameLen || int(length) > len(buf) {
		return 0, nil, transport.EcnNotECT, transport.ErrFrameTooLarge
	}
	if _, err := readFull(s.reader, buf[:length]); err != nil {
		return 0, nil, transport.EcnNotECT, err
	}
	return int(length), s.conn.RemoteAddr(), transport.EcnNotECT, nil
}

func (s *Socket) PollSend(ctx context.Context, _ net.Addr, _ transport.Ecn, buf []byte) (int, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(buf)))
	if _, err := s.conn.Write(lenBuf[:n]); err != nil {
		return 0, err
	}
	if _, err := s.conn.Write(buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *Socket) IsReliable() bool    { return true }
func (s *Socket) Close() error        { return s.conn.Close() }

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
