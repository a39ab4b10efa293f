// Package admin implements the administrative control-plane server and
// client that install and retire path secrets on a running endpoint
// out of band (SPEC_FULL §1's "wire/admin" domain-stack entry,
// supplementing spec §6's PathSecretStore::install/retire, which spec.md
// only specifies as a local collaborator-facing call). A provisioning
// service dials Server's listener, sends one wire/admin.Envelope per
// request, and gets an Ack or Nack back.
//
// Grounded on server/cborplugin's Client/Server split (a worker.Worker
// driving an accept loop, one goroutine per connection) and
// talek/frontend/main.go's request/response-over-a-connection shape,
// adapted from talek's fixed Read/Write RPC pair to the admin plane's
// two request kinds.
package admin

import (
	"errors"
	"net"

	"github.com/charmbracelet/log"

	"github.com/katzenpost/dctransport/internal/worker"
	"github.com/katzenpost/dctransport/secret"
	wireadmin "github.com/katzenpost/dctransport/wire/admin"
)

// Server accepts admin connections on a net.Listener (typically a unix
// domain socket restricted to the local trust boundary, or a loopback
// TCP listener) and applies Install/Retire requests to Store.
type Server struct {
	worker.Worker

	ln    net.Listener
	store *secret.Store
	log   *log.Logger
}

// NewServer builds a Server. Call Start to begin accepting connections.
func NewServer(ln net.Listener, store *secret.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{ln: ln, store: store, log: logger.WithPrefix("admin-server")}
}

// Start launches the accept loop as a tracked background goroutine.
func (s *Server) Start() {
	s.Go(s.acceptLoop)
}

// Close stops accepting new connections and waits for in-flight
// handlers to notice the halt and return.
func (s *Server) Close() error {
	s.Halt()
	err := s.ln.Close()
	s.Wait()
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.HaltCh():
				return
			default:
			}
			s.log.Warnf("accept failed: %v", err)
			return
		}
		s.Go(func() { s.handleConn(conn) })
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		select {
		case <-s.HaltCh():
			return
		default:
		}
		req, err := wireadmin.ReadFrame(conn)
		if err != nil {
			return
		}
		resp := s.handle(req)
		if err := wireadmin.WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) handle(req *wireadmin.Envelope) *wireadmin.Envelope {
	switch req.Type {
	case wireadmin.TypeInstallRequest:
		return s.handleInstall(req.Install)
	case wireadmin.TypeRetireRequest:
		return s.handleRetire(req.Retire)
	default:
		return nack("admin: unknown request type")
	}
}

func (s *Server) handleInstall(r *wireadmin.InstallRequest) *wireadmin.Envelope {
	if r == nil {
		return nack("admin: missing install payload")
	}
	role := secret.RoleInitiator
	if r.Role != 0 {
		role = secret.RoleResponder
	}
	var peerAddr net.Addr
	if r.PeerAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", r.PeerAddr)
		if err != nil {
			return nack("admin: bad peer address: " + err.Error())
		}
		peerAddr = addr
	}
	if _, err := s.store.Install(r.CredentialID, r.Secret, peerAddr, role); err != nil {
		return nack(err.Error())
	}
	return ack()
}

func (s *Server) handleRetire(r *wireadmin.RetireRequest) *wireadmin.Envelope {
	if r == nil {
		return nack("admin: missing retire payload")
	}
	if err := s.store.Retire(r.CredentialID, r.Hard); err != nil {
		return nack(err.Error())
	}
	return ack()
}

func ack() *wireadmin.Envelope { return &wireadmin.Envelope{Type: wireadmin.TypeAck} }
func nack(msg string) *wireadmin.Envelope {
	return &wireadmin.Envelope{Type: wireadmin.TypeNack, Error: msg}
}

// ErrNack is returned by Client calls when the server replies with a
// Nack; its message carries the server's Error string.
var ErrNack = errors.New("admin: request refused")
