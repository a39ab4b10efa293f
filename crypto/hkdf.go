package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Hkdf is the key-schedule collaborator interface from spec §6.
type Hkdf interface {
	// Extract derives a pseudorandom key from salt and secret.
	Extract(salt, secret []byte) []byte
	// ExpandLabel derives outLen bytes for the given label, per the
	// "dc key " label format in spec §6:
	//   "dc key " || u16 be length || ASCII label || u8(0)
	ExpandLabel(prk []byte, label string, outLen int) ([]byte, error)
}

type sha256Hkdf struct{}

// NewHkdfSHA256 returns the HKDF-SHA256 implementation required by
// spec §6, grounded on stream/stream.go's golang.org/x/crypto/hkdf use.
func NewHkdfSHA256() Hkdf {
	return sha256Hkdf{}
}

func (sha256Hkdf) Extract(salt, secret []byte) []byte {
	return hkdf.Extract(sha256.New, secret, salt)
}

func (sha256Hkdf) ExpandLabel(prk []byte, label string, outLen int) ([]byte, error) {
	info := expandLabelInfo(label)
	r := hkdf.Expand(sha256.New, prk, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// expandLabelInfo builds the "dc key " || u16-be length || label || 0x00
// info string specified in spec §6. label must be "sealer", "opener",
// or "control".
func expandLabelInfo(label string) []byte {
	const prefix = "dc key "
	info := make([]byte, 0, len(prefix)+2+len(label)+1)
	info = append(info, prefix...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(label)))
	info = append(info, lenBuf[:]...)
	info = append(info, label...)
	info = append(info, 0)
	return info
}
