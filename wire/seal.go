package wire

import "github.com/katzenpost/dctransport/crypto"

// Seal appends the AEAD-sealed plaintext (ciphertext || tag) to dst,
// using headerAAD (the already-encoded header bytes) as associated
// data. This is shared by every packet kind: the header, in its exact
// wire order, is always the AAD.
func Seal(dst []byte, aead crypto.Aead, nonce [NonceLen]byte, headerAAD, plaintext []byte) []byte {
	return aead.Seal(dst, nonce[:], plaintext, headerAAD)
}

// Open authenticates and decrypts ciphertext (which includes the
// trailing tag) using headerAAD as associated data, appending the
// plaintext to dst.
func Open(dst []byte, aead crypto.Aead, nonce [NonceLen]byte, headerAAD, ciphertext []byte) ([]byte, error) {
	return aead.Open(dst, nonce[:], ciphertext, headerAAD)
}
