package secretcontrol

import (
	"github.com/katzenpost/dctransport/crypto"
	"github.com/katzenpost/dctransport/wire"
)

// Encode produces the full wire bytes of m: header || AEAD tag over an
// empty payload, per spec §4.2.
func Encode(m *Message, aead crypto.Aead) []byte {
	header := EncodeHeader(nil, m)
	nonce := Nonce(m)
	return wire.Seal(header, aead, nonce, header, nil)
}

// Decode parses and authenticates a secret-control packet. It returns
// ErrAuthenticationFailed (wrapped by crypto) if the tag does not
// verify, which callers must treat as a packet-local, recoverable
// error per spec §7.
func Decode(buf []byte, aead crypto.Aead, validator wire.TagValidator) (*Message, error) {
	m, hlen, err := DecodeHeader(buf, validator)
	if err != nil {
		return nil, err
	}
	if len(buf) < hlen+crypto.TagSize {
		return nil, wire.ErrShortBuffer
	}
	nonce := Nonce(m)
	header := buf[:hlen]
	tag := buf[hlen : hlen+crypto.TagSize]
	if _, err := wire.Open(nil, aead, nonce, header, tag); err != nil {
		return nil, err
	}
	return m, nil
}
