// Package crypto defines the AEAD and HKDF collaborator interfaces the
// dc transport core consumes (spec §6) plus the two concrete
// implementations wired into this repository: AES-128-GCM (the default)
// and a chacha20poly1305-backed alternate (aead_chacha.go), grounded on
// the teacher's github.com/katzenpost/chacha20poly1305 dependency.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// NonceSize and TagSize are fixed by spec §4.1/§6: a 96-bit nonce and a
// 128-bit tag, for both supported AEAD families.
const (
	NonceSize = 12
	TagSize   = 16
)

// ErrAuthenticationFailed is returned by Open when the tag does not
// verify. Callers must treat this as a packet-local, recoverable error
// (spec §7 tier 1): drop the packet, bump a counter, continue.
var ErrAuthenticationFailed = errors.New("crypto: aead authentication failed")

// Aead is the sealer/opener primitive the stream and secret-control
// layers build on. Implementations must be safe for concurrent use by
// distinct (nonce) callers but need not serialize internally; callers
// never reuse a nonce under the same key.
type Aead interface {
	// Seal encrypts and authenticates in place, appending the result
	// (ciphertext || tag) to dst.
	Seal(dst, nonce, plaintext, aad []byte) []byte
	// Open authenticates and decrypts, appending the plaintext to dst.
	Open(dst, nonce, ciphertext, aad []byte) ([]byte, error)
	// Overhead returns the number of bytes Seal adds beyond the
	// plaintext length (the tag length).
	Overhead() int
}

// NewAES128GCM builds the default Aead from a 16-byte AES-128 key.
func NewAES128GCM(key []byte) (Aead, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, err
	}
	return &stdAead{aead: aead}, nil
}

type stdAead struct {
	aead cipher.AEAD
}

func (s *stdAead) Seal(dst, nonce, plaintext, aad []byte) []byte {
	return s.aead.Seal(dst, nonce, plaintext, aad)
}

func (s *stdAead) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	out, err := s.aead.Open(dst, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return out, nil
}

func (s *stdAead) Overhead() int {
	return s.aead.Overhead()
}
