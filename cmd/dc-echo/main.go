// dc-echo is a minimal client/server exercising the full dc-transport
// stack end to end: path-secret install, endpoint connect/accept, and
// a byte stream carrying one request and its echoed reply. It mirrors
// the shape of spec §8 scenario 1 (single-chunk exchange) as a runnable
// program rather than a test.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/dctransport/admin"
	"github.com/katzenpost/dctransport/credential"
	"github.com/katzenpost/dctransport/endpoint"
	"github.com/katzenpost/dctransport/internal/xlog"
	"github.com/katzenpost/dctransport/secret"
	"github.com/katzenpost/dctransport/stream"
	"github.com/katzenpost/dctransport/transport/udpsubstrate"
)

// demoCredential returns a fixed id/secret pair. A real deployment
// installs these out of band (an administrative RPC, or the output of
// a prior handshake the collaborator layer ran); dc-echo hardcodes it
// purely so the client and server processes agree without a side
// channel of their own.
func demoCredential() (credential.ID, []byte) {
	var id credential.ID
	copy(id[:], []byte("dc-echo-demo-cred"))
	secretBytes := make([]byte, 32)
	copy(secretBytes, []byte("dc-echo-demo-path-secret-000000"))
	return id, secretBytes
}

func main() {
	mode := flag.String("mode", "server", "server or client")
	addr := flag.String("addr", "127.0.0.1:7890", "local address to bind (server) or connect to (client)")
	message := flag.String("message", "hello dc!", "client: message to send")
	adminAddr := flag.String("admin", "", "server: also serve administrative install/retire RPCs (wire/admin) on this TCP address")
	flag.Parse()

	l := xlog.New(os.Stderr, "info")
	credID, secretBytes := demoCredential()

	switch *mode {
	case "server":
		must(runServer(*addr, *adminAddr, credID, secretBytes, l))
	case "client":
		must(runClient(*addr, *message, credID, secretBytes, l))
	default:
		fmt.Fprintln(os.Stderr, "-mode must be server or client")
		os.Exit(1)
	}
}

func runServer(addr, adminAddr string, credID credential.ID, secretBytes []byte, l *log.Logger) error {
	store, err := secret.Init(secret.Config{Log: l})
	if err != nil {
		return err
	}
	defer store.Teardown()

	sock, err := udpsubstrate.Listen(addr)
	if err != nil {
		return err
	}

	if _, err := store.Install(credID, secretBytes, nil, secret.RoleResponder); err != nil {
		return err
	}

	if adminAddr != "" {
		ln, err := net.Listen("tcp", adminAddr)
		if err != nil {
			return err
		}
		adminSrv := admin.NewServer(ln, store, l)
		adminSrv.Start()
		defer adminSrv.Close()
		l.Infof("admin RPC listening on %s", ln.Addr())
	}

	ep, err := endpoint.New(endpoint.Config{Socket: sock, Store: store, Log: l})
	if err != nil {
		return err
	}
	defer ep.Close()

	l.Infof("dc-echo server listening on %s", sock.LocalAddr())
	for {
		st, peer, err := ep.Accept()
		if err != nil {
			return nil
		}
		l.Infof("accepted stream from %s", peer)
		go echoStream(st, l)
	}
}

func echoStream(st *stream.Stream, l *log.Logger) {
	defer st.Close()
	buf := make([]byte, 4096)
	for {
		n, err := st.Read(buf)
		if n > 0 {
			if _, werr := st.Write(buf[:n]); werr != nil {
				l.Warnf("echo write failed: %v", werr)
				return
			}
		}
		if err == io.EOF {
			st.Shutdown()
			return
		}
		if err != nil {
			return
		}
	}
}

func runClient(addr, message string, credID credential.ID, secretBytes []byte, l *log.Logger) error {
	store, err := secret.Init(secret.Config{Log: l})
	if err != nil {
		return err
	}
	defer store.Teardown()

	sock, err := udpsubstrate.Listen("127.0.0.1:0")
	if err != nil {
		return err
	}

	peerAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}

	if _, err := store.Install(credID, secretBytes, peerAddr, secret.RoleInitiator); err != nil {
		return err
	}

	ep, err := endpoint.New(endpoint.Config{Socket: sock, Store: store, Log: l})
	if err != nil {
		return err
	}
	defer ep.Close()

	st, err := ep.Connect(peerAddr, credID)
	if err != nil {
		return err
	}

	if _, err := st.Write([]byte(message)); err != nil {
		return err
	}
	st.Shutdown()

	buf := make([]byte, 4096)
	st.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := st.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	l.Infof("echoed: %q", string(buf[:n]))
	return nil
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
