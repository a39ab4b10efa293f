package admin

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/secret"
)

func testStore(t *testing.T) *secret.Store {
	t.Helper()
	st, err := secret.Init(secret.Config{ReplayWindowWidth: 128, GraceEpochs: 1})
	require.NoError(t, err)
	t.Cleanup(st.Teardown)
	return st
}

func TestClientInstallThenRetire(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	store := testStore(t)
	srv := NewServer(ln, store, nil)
	srv.Start()
	defer srv.Close()

	cli, err := Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer cli.Close()

	var id credential.ID
	id[0] = 42
	secretBytes := make([]byte, 32)
	for i := range secretBytes {
		secretBytes[i] = byte(i)
	}

	require.NoError(t, cli.Install(id, secretBytes, "127.0.0.1:4242", 0))

	e, ok := store.Lookup(id)
	require.True(t, ok)
	require.Equal(t, secret.StatusLive, e.Status())

	require.NoError(t, cli.Retire(id, false))
	require.Equal(t, secret.StatusRetiredGraceful, e.Status())
}

func TestClientRetireUnknownCredentialReturnsNack(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(ln, testStore(t), nil)
	srv.Start()
	defer srv.Close()

	cli, err := Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer cli.Close()

	var id credential.ID
	id[0] = 99
	err = cli.Retire(id, false)
	require.Error(t, err)
}
