package secretcontrol

import (
	"crypto/sha256"

	"github.com/katzenpost/dctransport/wire"
)

// Nonce derives the AEAD nonce for m. Byte 0 encodes kind (always
// KindSecretControl) and subtype in its low 6 bits, so a secret-control
// packet can never be replayed as any other kind and the six subtypes
// never share a nonce region. The remaining 11 bytes are a SHA-256
// digest of the subtype-specific content fields, so that any two
// messages differing in content (e.g. two stale_key notices with
// different min_key_id) get distinct nonces — the invariant spec §8
// requires: m1 != m2 implies nonce(m1) != nonce(m2).
func Nonce(m *Message) [wire.NonceLen]byte {
	var n [wire.NonceLen]byte
	n[0] = byte(wire.KindSecretControl)<<6 | byte(m.Subtype)&0x3f
	digest := sha256.Sum256(m.content())
	copy(n[1:], digest[:wire.NonceLen-1])
	return n
}
