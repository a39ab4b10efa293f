package secret

import (
	"crypto/rand"
	"fmt"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/katzenpost/dctransport/credential"
)

// DiskStore is an optional, persistent backing store for installed
// path secrets, so a restarted process doesn't need every credential
// re-handshaked (spec §4.2 "administrative install"; the dc transport
// core itself has no on-disk state requirement, but this is a natural
// collaborator built the way disk.go persists Client state: an
// encrypted blob, here one per credential id in a bbolt bucket rather
// than one statefile for the whole client).
type DiskStore struct {
	db  *bbolt.DB
	key [32]byte
}

var secretsBucket = []byte("path-secrets")

const diskNonceSize = 24

// OpenDiskStore opens (creating if necessary) a bbolt-backed disk
// store at path, deriving its encryption key from passphrase with
// argon2id, exactly as disk.go's GetStateFromFile does for the
// client's encrypted statefile.
func OpenDiskStore(path string, passphrase []byte) (*DiskStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(secretsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	ds := &DiskStore{db: db}
	copy(ds.key[:], argon2.IDKey(passphrase, []byte("dctransport-diskstore"), 1, 64*1024, 4, 32))
	return ds, nil
}

func (d *DiskStore) Close() error {
	return d.db.Close()
}

// Save persists id's raw secret, role, and peer address under its
// credential id, encrypted with secretbox under the store's derived
// key.
func (d *DiskStore) Save(id credential.ID, rawSecret []byte, role Role, peerAddr string) error {
	plaintext := make([]byte, 0, 1+len(peerAddr)+1+len(rawSecret))
	plaintext = append(plaintext, byte(role))
	plaintext = append(plaintext, byte(len(peerAddr)))
	plaintext = append(plaintext, peerAddr...)
	plaintext = append(plaintext, rawSecret...)

	var nonce [diskNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	ciphertext := secretbox.Seal(nonce[:], plaintext, &nonce, &d.key)

	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(secretsBucket)
		return b.Put(id[:], ciphertext)
	})
}

// Delete removes id's persisted entry.
func (d *DiskStore) Delete(id credential.ID) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(secretsBucket)
		return b.Delete(id[:])
	})
}

// LoadAll decrypts and returns every persisted credential, for
// reinstalling into a fresh Store at startup.
func (d *DiskStore) LoadAll() (map[credential.ID]PersistedEntry, error) {
	out := make(map[credential.ID]PersistedEntry)
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(secretsBucket)
		return b.ForEach(func(k, v []byte) error {
			if len(k) != credential.IDLen || len(v) < diskNonceSize {
				return fmt.Errorf("secret: corrupt diskstore entry for %x", k)
			}
			var nonce [diskNonceSize]byte
			copy(nonce[:], v[:diskNonceSize])
			plaintext, ok := secretbox.Open(nil, v[diskNonceSize:], &nonce, &d.key)
			if !ok {
				return fmt.Errorf("secret: failed to decrypt diskstore entry for %x", k)
			}
			if len(plaintext) < 2 {
				return fmt.Errorf("secret: truncated diskstore entry for %x", k)
			}
			role := Role(plaintext[0])
			peerLen := int(plaintext[1])
			if len(plaintext) < 2+peerLen {
				return fmt.Errorf("secret: truncated diskstore peer addr for %x", k)
			}
			peerAddr := string(plaintext[2 : 2+peerLen])
			rawSecret := append([]byte(nil), plaintext[2+peerLen:]...)

			var id credential.ID
			copy(id[:], k)
			out[id] = PersistedEntry{RawSecret: rawSecret, Role: role, PeerAddr: peerAddr}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PersistedEntry is one credential as loaded from a DiskStore.
type PersistedEntry struct {
	RawSecret []byte
	Role      Role
	PeerAddr  string
}
