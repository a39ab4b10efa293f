// Package admin implements the wire format of the out-of-band
// administrative control plane: the RPC payloads an operator or
// provisioning service uses to install or retire a path secret on a
// running Endpoint (SPEC_FULL §1's "wire/admin"). Unlike the data-plane
// packet codec in wire/, which is a bit-exact format with no room for
// evolution, the admin plane is CBOR (github.com/fxamacker/cbor/v2),
// mirroring stream/stream.go's cbor.Marshal(Frame{}) and
// server/cborplugin's Request/Response Marshal/Unmarshal pair — the
// teacher's convention for "structured record the wire format doesn't
// need to be hand-audited bit by bit."
package admin

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/dctransport/credential"
)

// MaxFrameLen bounds a single admin frame, guarding readers against a
// corrupt or hostile length prefix.
const MaxFrameLen = 1 << 20

// MessageType selects which payload an Envelope carries.
type MessageType uint8

const (
	TypeInstallRequest MessageType = iota
	TypeRetireRequest
	TypeAck
	TypeNack
)

// InstallRequest asks the server to install (or replace) a path secret
// for CredentialID (spec §6 PathSecretStore::install).
type InstallRequest struct {
	CredentialID credential.ID
	Secret       []byte
	PeerAddr     string
	// Role is secret.RoleInitiator or secret.RoleResponder; admin
	// doesn't import secret (it would create an import cycle with
	// admin/server.go, which imports both), so the numeric convention
	// is documented here and translated by the server.
	Role uint8
}

// RetireRequest asks the server to retire a path secret (spec §6
// PathSecretStore::retire).
type RetireRequest struct {
	CredentialID credential.ID
	Hard         bool
}

// Envelope is the single framed unit exchanged over an admin
// connection. Exactly one of Install/Retire is populated, selected by
// Type; Error carries the reason for a Nack.
type Envelope struct {
	Type    MessageType
	Install *InstallRequest `cbor:",omitempty"`
	Retire  *RetireRequest  `cbor:",omitempty"`
	Error   string          `cbor:",omitempty"`
}

// Marshal serializes e as CBOR, matching server/cborplugin's
// Request.Marshal/Response.Marshal convention.
func (e *Envelope) Marshal() ([]byte, error) {
	return cbor.Marshal(e)
}

// Unmarshal deserializes e from CBOR.
func (e *Envelope) Unmarshal(b []byte) error {
	return cbor.Unmarshal(b, e)
}

var ErrFrameTooLarge = errors.New("admin: frame exceeds MaxFrameLen")

// WriteFrame writes e to w as a 4-byte big-endian length prefix
// followed by its CBOR encoding, the same length-prefixed-record shape
// every substrate in this repository uses for a variable-length
// payload (see wire.EncodeStreamHeader's own length-prefixed payload
// field).
func WriteFrame(w io.Writer, e *Envelope) error {
	body, err := e.Marshal()
	if err != nil {
		return err
	}
	if len(body) > MaxFrameLen {
		return ErrFrameTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed Envelope from r.
func ReadFrame(r io.Reader) (*Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	e := new(Envelope)
	if err := e.Unmarshal(body); err != nil {
		return nil, err
	}
	return e, nil
}
