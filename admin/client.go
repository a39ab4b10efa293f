package admin

import (
	"fmt"
	"net"
	"sync"

	"github.com/katzenpost/dctransport/credential"
	wireadmin "github.com/katzenpost/dctransport/wire/admin"
)

// Client is a single connection to an admin Server. It is safe for
// concurrent use; requests are serialized over the underlying conn the
// way talek/frontend/main.go's Read/Write helpers serialize RPCs over
// one connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to an admin Server listening at addr over network
// (e.g. "unix", "tcp").
func Dial(network, addr string) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Install installs (or replaces) the path secret for id on the remote
// endpoint's Store (spec §6 PathSecretStore::install). role selects
// secret.RoleInitiator (0) or secret.RoleResponder (non-zero) without
// this package importing secret directly.
func (c *Client) Install(id credential.ID, rawSecret []byte, peerAddr string, role uint8) error {
	req := &wireadmin.Envelope{
		Type: wireadmin.TypeInstallRequest,
		Install: &wireadmin.InstallRequest{
			CredentialID: id,
			Secret:       rawSecret,
			PeerAddr:     peerAddr,
			Role:         role,
		},
	}
	return c.roundTrip(req)
}

// Retire retires the path secret for id on the remote endpoint's Store
// (spec §6 PathSecretStore::retire).
func (c *Client) Retire(id credential.ID, hard bool) error {
	req := &wireadmin.Envelope{
		Type:   wireadmin.TypeRetireRequest,
		Retire: &wireadmin.RetireRequest{CredentialID: id, Hard: hard},
	}
	return c.roundTrip(req)
}

func (c *Client) roundTrip(req *wireadmin.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wireadmin.WriteFrame(c.conn, req); err != nil {
		return err
	}
	resp, err := wireadmin.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	if resp.Type == wireadmin.TypeNack {
		return fmt.Errorf("%w: %s", ErrNack, resp.Error)
	}
	return nil
}
