package dispatch

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/secret"
	"github.com/katzenpost/dctransport/wire"
)

func newTestStore(t *testing.T) *secret.Store {
	t.Helper()
	s, err := secret.Init(secret.Config{ReplayWindowWidth: 128, GraceEpochs: 1})
	require.NoError(t, err)
	t.Cleanup(s.Teardown)
	return s
}

func installTestCredential(t *testing.T, s *secret.Store, b byte) credential.ID {
	t.Helper()
	var id credential.ID
	id[0] = b
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	_, err := s.Install(id, raw, addr, secret.RoleInitiator)
	require.NoError(t, err)
	return id
}

func encodeInitialStreamPacket(t *testing.T, id credential.ID, queueID uint64) []byte {
	t.Helper()
	h := &wire.StreamHeader{
		CredentialID: id,
		QueueID:      queueID,
		PacketNumber: 0,
		Offset:       0,
	}
	header, err := wire.EncodeStreamHeader(nil, h, 5)
	require.NoError(t, err)
	return append(header, []byte("hello")...)
}

func TestDispatchUnknownCredentialDrops(t *testing.T) {
	store := newTestStore(t)
	d := New(Config{Store: store})

	var id credential.ID
	id[0] = 0xff
	buf := encodeInitialStreamPacket(t, id, 1)
	reply := d.Dispatch(buf, &net.UDPAddr{})
	require.Nil(t, reply)
}

func TestDispatchAdmitsNewStream(t *testing.T) {
	store := newTestStore(t)
	id := installTestCredential(t, store, 1)
	d := New(Config{Store: store, RingCapacity: 4, AcceptQueueSize: 4})

	buf := encodeInitialStreamPacket(t, id, 7)
	reply := d.Dispatch(buf, &net.UDPAddr{})
	require.Nil(t, reply)

	select {
	case accepted := <-d.Accept():
		require.Equal(t, uint64(7), accepted.QueueID)
		require.Equal(t, id, accepted.CredentialID)
	default:
		t.Fatal("expected an accepted stream")
	}

	require.NotNil(t, d.Directory().Lookup(7))
}

func TestDispatchRoutesToExistingRing(t *testing.T) {
	store := newTestStore(t)
	id := installTestCredential(t, store, 2)
	d := New(Config{Store: store, RingCapacity: 4, AcceptQueueSize: 4})

	first := encodeInitialStreamPacket(t, id, 3)
	d.Dispatch(first, &net.UDPAddr{})
	<-d.Accept()

	h := &wire.StreamHeader{CredentialID: id, QueueID: 3, PacketNumber: 1, Offset: 5}
	header, err := wire.EncodeStreamHeader(nil, h, 2)
	require.NoError(t, err)
	second := append(header, []byte("!!")...)

	reply := d.Dispatch(second, &net.UDPAddr{})
	require.Nil(t, reply)

	ring := d.Directory().Lookup(3)
	require.NotNil(t, ring)
	// Drain the initial packet, then the second one should be next.
	pkt, ok := ring.Pop()
	require.True(t, ok)
	require.Equal(t, first, pkt.Bytes)
	pkt, ok = ring.Pop()
	require.True(t, ok)
	require.Equal(t, second, pkt.Bytes)
}

func TestDispatchAcceptQueueFullEmitsRejectSequenceID(t *testing.T) {
	store := newTestStore(t)
	id := installTestCredential(t, store, 3)
	d := New(Config{Store: store, RingCapacity: 4, AcceptQueueSize: 1})

	d.Dispatch(encodeInitialStreamPacket(t, id, 1), &net.UDPAddr{})
	<-d.Accept()
	// Accept-queue credit is only released explicitly; a second
	// initial packet before Release() must be rejected.
	reply := d.Dispatch(encodeInitialStreamPacket(t, id, 2), &net.UDPAddr{})
	require.NotNil(t, reply)
	require.Equal(t, id, reply.Msg.CredentialID)
}

func TestDispatchRetiredHardRepliesUnknownPathSecret(t *testing.T) {
	store := newTestStore(t)
	id := installTestCredential(t, store, 4)
	require.NoError(t, store.Retire(id, true))
	d := New(Config{Store: store})

	reply := d.Dispatch(encodeInitialStreamPacket(t, id, 9), &net.UDPAddr{})
	require.NotNil(t, reply)
	require.Equal(t, id, reply.Entry.ID())
}
