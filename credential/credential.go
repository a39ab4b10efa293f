// Package credential defines the Credential identifying a path secret
// installed on both peers, per spec §3.
package credential

import "encoding/binary"

// IDLen is the fixed byte length of a credential id.
const IDLen = 16

// ID is a 128-bit opaque credential identifier. Equality is a
// fixed-size byte compare.
type ID [IDLen]byte

// Hash returns a map-friendly key derived from the first 8 bytes of the
// id. Per spec §3 the id is itself high-quality entropy (derived from a
// handshake or installed out of band), so no further mixing is applied.
func (id ID) Hash() uint64 {
	return binary.BigEndian.Uint64(id[:8])
}

// Credential pairs a path-secret id with the per-direction key id
// naming a derived AEAD key under it.
type Credential struct {
	ID    ID
	KeyID uint64
}

// MaxKeyID is the largest representable key id (62-bit varint space,
// spec §3/§8): sealing at this value must fail with CryptoRetired
// rather than wrap.
const MaxKeyID = (uint64(1) << 62) - 1
