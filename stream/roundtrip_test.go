package stream

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/dctransport/secret"
	"github.com/katzenpost/dctransport/wire"
)

// setupSenderReceiver installs the same raw path secret into two
// independent stores under complementary roles and wires a Sender
// (initiator side) against a Receiver (responder side), mirroring how
// two real peers end up with matching sealer/opener chains after an
// out-of-band handshake (spec §8's round-trip law).
func setupSenderReceiver(t *testing.T) (*Sender, *Receiver, func()) {
	t.Helper()

	var id [16]byte
	id[0] = 0x42
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4242}

	clientStore, err := secret.Init(secret.Config{ReplayWindowWidth: 128, GraceEpochs: 1})
	require.NoError(t, err)
	clientEntry, err := clientStore.Install(id, append([]byte(nil), raw...), addr, secret.RoleInitiator)
	require.NoError(t, err)
	sealer, err := clientEntry.Sealer()
	require.NoError(t, err)

	serverStore, err := secret.Init(secret.Config{ReplayWindowWidth: 128, GraceEpochs: 1})
	require.NoError(t, err)
	serverEntry, err := serverStore.Install(id, append([]byte(nil), raw...), addr, secret.RoleResponder)
	require.NoError(t, err)
	opener, err := serverEntry.Opener()
	require.NoError(t, err)

	streamID := ID{QueueID: 7, IsBidirectional: true, IsReliable: true}
	sender := NewSender(SenderConfig{
		ID: streamID, CredentialID: id, Sealer: sealer, MTU: 1500,
	}, NewSendBuffer())
	receiver := NewReceiver(ReceiverConfig{
		ID: streamID, CredentialID: id, Opener: opener, WindowWidth: 128,
	}, time.Now())

	cleanup := func() {
		clientStore.Teardown()
		serverStore.Teardown()
	}
	return sender, receiver, cleanup
}

// openAndDeliver decrypts a sealed outbound packet against receiver's
// opener and feeds the plaintext to receiver.Deliver, the steps a real
// socket reader performs between wire decode and stream dispatch.
func openAndDeliver(t *testing.T, receiver *Receiver, pkt *OutboundPacket, now time.Time) {
	t.Helper()
	h, consumed, payloadLen, err := wire.DecodeStreamHeader(pkt.Bytes, nil)
	require.NoError(t, err)
	ciphertext := pkt.Bytes[consumed : consumed+payloadLen+16]

	aead, err := receiver.opener.Open(h.KeyID)
	require.NoError(t, err)
	nonce := wire.DataNonce(wire.KindStream, wire.DirectionInitiatorToResponder, h.KeyID, h.PacketNumber)
	plaintext, err := wire.Open(nil, aead, nonce, pkt.Bytes[:consumed], ciphertext)
	require.NoError(t, err)
	require.NoError(t, receiver.opener.CheckAndAccept(h.KeyID, h.PacketNumber))
	require.NoError(t, receiver.Deliver(now, h, plaintext))
}

// TestSingleChunkRoundTrip mirrors spec §8 scenario 1: one small
// message, sealed, decrypted, and reassembled end to end.
func TestSingleChunkRoundTrip(t *testing.T) {
	sender, receiver, cleanup := setupSenderReceiver(t)
	defer cleanup()

	_, err := sender.Write([]byte("hello dc!"))
	require.NoError(t, err)
	sender.Shutdown()

	now := time.Now()
	packets, err := sender.Tick(now, uint64(now.UnixNano()))
	require.NoError(t, err)
	require.NotEmpty(t, packets)

	for _, pkt := range packets {
		openAndDeliver(t, receiver, pkt, now)
	}

	buf := make([]byte, 64)
	n, eof, err := receiver.Read(buf)
	require.NoError(t, err)
	require.True(t, eof)
	require.Equal(t, "hello dc!", string(buf[:n]))

	largest, ranges := receiver.BuildAck()
	require.Equal(t, packets[len(packets)-1].PacketNumber, largest)
	require.NotNil(t, ranges)
}

// TestOutOfOrderDeliveryReassembles mirrors spec §8 scenario 2: several
// packets sealed under ascending offsets reassemble correctly even
// when delivered out of order.
func TestOutOfOrderDeliveryReassembles(t *testing.T) {
	sender, receiver, cleanup := setupSenderReceiver(t)
	defer cleanup()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := sender.Write(payload)
	require.NoError(t, err)
	sender.Shutdown()

	now := time.Now()
	sender.mtu = 1024 + headerOverheadEstimate + 16
	packets, err := sender.Tick(now, uint64(now.UnixNano()))
	require.NoError(t, err)
	require.Greater(t, len(packets), 1)

	order := []int{2, 0, 3, 1}
	if len(packets) < 4 {
		order = []int{len(packets) - 1, 0}
	}
	for _, idx := range order {
		if idx >= len(packets) {
			continue
		}
		openAndDeliver(t, receiver, packets[idx], now)
	}

	buf := make([]byte, 8192)
	n, eof, err := receiver.Read(buf)
	require.NoError(t, err)
	require.True(t, eof)
	require.Equal(t, payload, buf[:n])
}

// TestAckProcessingRetiresInflightAndAdvancesSendBuffer mirrors spec
// §4.3.1's ACK-processing contract: once every sealed packet is acked,
// the sender reports Finished and the underlying send buffer has
// trimmed its acked prefix.
func TestAckProcessingRetiresInflightAndAdvancesSendBuffer(t *testing.T) {
	sender, receiver, cleanup := setupSenderReceiver(t)
	defer cleanup()

	_, err := sender.Write([]byte("ack me please"))
	require.NoError(t, err)
	sender.Shutdown()

	now := time.Now()
	packets, err := sender.Tick(now, uint64(now.UnixNano()))
	require.NoError(t, err)
	require.NotEmpty(t, packets)

	for _, pkt := range packets {
		openAndDeliver(t, receiver, pkt, now)
	}

	largest, ranges := receiver.BuildAck()
	sender.HandleAck(now.Add(10*time.Millisecond), largest, ranges)

	require.True(t, sender.Finished())
	acked, _, committed := sender.buf.Offsets()
	require.Equal(t, committed, acked)
}

// TestPTOBackoffMonotoneWithinProbeRun mirrors spec §8's PTO property:
// repeated PTO firings without an intervening ACK strictly increase the
// backoff counter, and HandleAck resets it. It also checks that
// CheckPTO is gated by the actual deadline (spec §4.3.1): it must not
// fire before smoothed_rtt+4*rtt_variance+max_ack_delay has elapsed
// since the packet was sent.
func TestPTOBackoffMonotoneWithinProbeRun(t *testing.T) {
	sender, receiver, cleanup := setupSenderReceiver(t)
	defer cleanup()

	_, err := sender.Write([]byte("partitioned"))
	require.NoError(t, err)
	sender.Shutdown()

	now := time.Now()
	packets, err := sender.Tick(now, uint64(now.UnixNano()))
	require.NoError(t, err)
	require.NotEmpty(t, packets)

	require.Equal(t, uint32(0), sender.PTOBackoff())

	// No RTT sample yet, so the PTO deadline is maxAckDelay (25ms
	// default) + 1s from firstSent; well before that, nothing is due.
	require.Nil(t, sender.CheckPTO(uint64(now.Add(500*time.Millisecond).UnixNano())))
	require.Equal(t, uint32(0), sender.PTOBackoff())

	t1 := now.Add(1100 * time.Millisecond)
	ev1 := sender.CheckPTO(uint64(t1.UnixNano()))
	require.NotNil(t, ev1)
	require.Equal(t, uint32(1), sender.PTOBackoff())

	resent1, err := sender.Tick(t1, uint64(t1.UnixNano()))
	require.NoError(t, err)
	require.NotEmpty(t, resent1)

	t2 := t1.Add(1100 * time.Millisecond)
	ev2 := sender.CheckPTO(uint64(t2.UnixNano()))
	require.NotNil(t, ev2)
	require.Equal(t, uint32(2), sender.PTOBackoff())

	resent2, err := sender.Tick(t2, uint64(t2.UnixNano()))
	require.NoError(t, err)
	require.NotEmpty(t, resent2)
	for _, pkt := range resent2 {
		openAndDeliver(t, receiver, pkt, t2)
	}

	largest, ranges := receiver.BuildAck()
	sender.HandleAck(t2.Add(10*time.Millisecond), largest, ranges)
	require.Equal(t, uint32(0), sender.PTOBackoff())
}

// TestIdleTimeoutDetected mirrors spec §8 scenario 5.
func TestIdleTimeoutDetected(t *testing.T) {
	_, receiver, cleanup := setupSenderReceiver(t)
	defer cleanup()

	base := time.Now()
	receiver.idleTimeout = 50 * time.Millisecond
	require.NoError(t, receiver.CheckIdle(base))
	require.ErrorIs(t, receiver.CheckIdle(base.Add(100*time.Millisecond)), ErrIdleTimeout)
}
