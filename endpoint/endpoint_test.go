package endpoint

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/dctransport/secret"
	"github.com/katzenpost/dctransport/transport/udpsubstrate"
)

// setupPeers installs the same raw path secret into two independent
// stores under complementary roles and binds a real loopback UDP
// socket to each, mirroring two real peers that already completed an
// out-of-band handshake (spec §8's round-trip law).
func setupPeers(t *testing.T) (client, server *Endpoint, cleanup func()) {
	t.Helper()

	var id [16]byte
	id[0] = 0x99
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	serverStore, err := secret.Init(secret.Config{})
	require.NoError(t, err)
	serverSock, err := udpsubstrate.Listen("127.0.0.1:0")
	require.NoError(t, err)
	_, err = serverStore.Install(id, append([]byte(nil), raw...), nil, secret.RoleResponder)
	require.NoError(t, err)
	server, err = New(Config{Socket: serverSock, Store: serverStore})
	require.NoError(t, err)

	clientStore, err := secret.Init(secret.Config{})
	require.NoError(t, err)
	clientSock, err := udpsubstrate.Listen("127.0.0.1:0")
	require.NoError(t, err)
	_, err = clientStore.Install(id, append([]byte(nil), raw...), server.LocalAddr(), secret.RoleInitiator)
	require.NoError(t, err)
	client, err = New(Config{Socket: clientSock, Store: clientStore})
	require.NoError(t, err)

	cleanup = func() {
		client.Close()
		server.Close()
		clientStore.Teardown()
		serverStore.Teardown()
	}
	return client, server, cleanup
}

// TestConnectAcceptRoundTrip mirrors spec §8 scenario 1 at the
// endpoint layer: Connect on one side, Accept on the other, one
// message written and read back.
func TestConnectAcceptRoundTrip(t *testing.T) {
	client, server, cleanup := setupPeers(t)
	defer cleanup()

	var id [16]byte
	id[0] = 0x99

	cs, err := client.Connect(server.LocalAddr(), id)
	require.NoError(t, err)

	_, err = cs.Write([]byte("hello dc!"))
	require.NoError(t, err)
	cs.Shutdown()

	ss, _, err := server.Accept()
	require.NoError(t, err)

	buf := make([]byte, 64)
	ss.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := ss.Read(buf)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	require.Equal(t, "hello dc!", string(buf[:n]))

	stats := server.Stats()
	require.Equal(t, int64(1), stats.Accepted)
	require.Equal(t, int64(1), stats.Active)
}

// TestAcceptUnblocksOnClose ensures a pending Accept returns promptly
// once the endpoint is closed, rather than hanging forever (spec §5
// "Dropping an endpoint cancels all streams").
func TestAcceptUnblocksOnClose(t *testing.T) {
	_, server, cleanup := setupPeers(t)
	defer cleanup()

	done := make(chan error, 1)
	go func() {
		_, _, err := server.Accept()
		done <- err
	}()

	server.Close()

	select {
	case err := <-done:
		require.Equal(t, ErrClosed, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not unblock after Close")
	}
}
