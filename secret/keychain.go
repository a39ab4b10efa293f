package secret

import (
	"github.com/katzenpost/dctransport/credential"
	dccrypto "github.com/katzenpost/dctransport/crypto"
)

// keyLen is the AES-128-GCM key size. Every key this package derives
// is keyLen bytes; it is a constant, not configurable, so an Aead that
// needs a 32-byte key (chacha20poly1305) fails on every derived key.
const keyLen = 16

// keychain is a one-directional HKDF key ratchet rooted at a path
// secret. Advancing it derives key_id+1 from key_id by re-expanding
// under the same label, per spec §4.2 ("atomically derives the next
// key ... expand-label over the raw secret with a label that includes
// the next key id"): we thread the key id into the ratchet by always
// advancing one step at a time rather than jumping, which keeps the
// derivation a pure function of (initial secret, label, steps).
type keychain struct {
	hkdf  dccrypto.Hkdf
	label string

	currentKeyID  uint64
	currentKeyRaw []byte
}

func newKeychain(hkdf dccrypto.Hkdf, rawSecret []byte, label string) (*keychain, error) {
	prk := hkdf.Extract(nil, rawSecret)
	k0, err := hkdf.ExpandLabel(prk, label, keyLen)
	if err != nil {
		return nil, err
	}
	return &keychain{hkdf: hkdf, label: label, currentKeyID: 0, currentKeyRaw: k0}, nil
}

// keyAt returns the raw key bytes for keyID, ratcheting forward as
// many steps as needed. keyID must be >= the chain's current key id;
// callers (the sealer) never need to go backwards.
func (k *keychain) keyAt(keyID uint64) ([]byte, error) {
	if keyID < k.currentKeyID {
		return nil, ErrStaleKey
	}
	for k.currentKeyID < keyID {
		if k.currentKeyID == credential.MaxKeyID {
			return nil, ErrCryptoRetired
		}
		next, err := k.hkdf.ExpandLabel(k.currentKeyRaw, k.label, keyLen)
		if err != nil {
			return nil, err
		}
		k.currentKeyRaw = next
		k.currentKeyID++
	}
	return k.currentKeyRaw, nil
}
