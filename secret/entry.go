package secret

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/awnumar/memguard"

	"github.com/katzenpost/dctransport/credential"
	dccrypto "github.com/katzenpost/dctransport/crypto"
	"github.com/katzenpost/dctransport/internal/slidingwindow"
	"github.com/katzenpost/dctransport/wire"
)

// defaultMaxRecordsPerKey bounds how many records a sealer will encrypt
// under one key_id before auto-advancing (spec §4.2 "sealer ... remembers
// how many records have been sealed under the current key"). Tests
// that want to exercise rotation quickly override this via
// Sealer.SetMaxRecordsPerKey (the TEST_MAX_RECORDS hook of spec §8
// scenario 4).
const defaultMaxRecordsPerKey = 1 << 20

// Role records which side of the credential's original handshake (or
// administrative install) this endpoint played, per spec §3's
// "handshake-kind metadata". It disambiguates which of the two HKDF
// label chains ("sealer", "opener") carries this endpoint's outbound
// traffic: by convention the "sealer" chain always carries
// Initiator->Responder traffic and the "opener" chain always carries
// Responder->Initiator traffic, named from the initiator's point of
// view.
type Role uint8

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Sealer derives keys for outbound packets under one credential and
// direction, advancing the key_id forward as records are sealed.
type Sealer struct {
	mu            sync.Mutex
	chain         *keychain
	recordsUnderCurrentKey uint64
	maxRecords    uint64
	aeadFactory   func([]byte) (dccrypto.Aead, error)
	dir           wire.Direction
}

// NeedsUpdate reports whether the next Seal call should first advance
// to a new key_id.
func (s *Sealer) NeedsUpdate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsUnderCurrentKey >= s.maxRecords
}

// Current returns the AEAD, key id, and direction to use for the next
// outbound packet, advancing the key chain first if the current key
// has sealed its quota of records (spec §4.2 open_sealer).
func (s *Sealer) Current() (aead dccrypto.Aead, keyID uint64, dir wire.Direction, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordsUnderCurrentKey >= s.maxRecords {
		if s.chain.currentKeyID == credential.MaxKeyID {
			return nil, 0, 0, ErrCryptoRetired
		}
		if _, err := s.chain.keyAt(s.chain.currentKeyID + 1); err != nil {
			return nil, 0, 0, err
		}
		s.recordsUnderCurrentKey = 0
	}
	raw, err := s.chain.keyAt(s.chain.currentKeyID)
	if err != nil {
		return nil, 0, 0, err
	}
	aead, err = s.aeadFactory(raw)
	if err != nil {
		return nil, 0, 0, err
	}
	return aead, s.chain.currentKeyID, s.dir, nil
}

// RecordSealed must be called after successfully sealing a packet
// under the key id returned by Current.
func (s *Sealer) RecordSealed() {
	s.mu.Lock()
	s.recordsUnderCurrentKey++
	s.mu.Unlock()
}

// SetMaxRecordsPerKey overrides the rotation threshold; exported for
// tests exercising spec §8 scenario 4 (key rotation mid-stream).
func (s *Sealer) SetMaxRecordsPerKey(n uint64) {
	s.mu.Lock()
	s.maxRecords = n
	s.mu.Unlock()
}

// Opener accepts inbound packets, maintaining a per-key_id replay
// window and an accepted key_id range.
type Opener struct {
	mu          sync.Mutex
	chain       *keychain
	minKeyID    uint64
	windows     map[uint64]*slidingwindow.Window
	windowWidth uint64
	aeadFactory func([]byte) (dccrypto.Aead, error)
	dir         wire.Direction
}

// Direction reports which physical direction this opener decrypts
// (the peer's outbound direction), for nonce reconstruction on
// decrypt (spec §4.1).
func (o *Opener) Direction() wire.Direction {
	return o.dir
}

// Open returns the AEAD to use for decrypting a packet under keyID, or
// an error if keyID is unknown/stale. It does not itself check replay;
// callers run the returned aead against the packet and only then call
// CheckAndAccept with the decrypted packet number.
func (o *Opener) Open(keyID uint64) (dccrypto.Aead, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if keyID < o.minKeyID {
		return nil, ErrStaleKey
	}
	raw, err := o.chain.keyAt(keyID)
	if err != nil {
		return nil, err
	}
	return o.aeadFactory(raw)
}

// CheckAndAccept runs the replay window for keyID against pn. On
// success the packet number is recorded as seen.
func (o *Opener) CheckAndAccept(keyID, pn uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.windows[keyID]
	if !ok {
		w = slidingwindow.New(o.windowWidth)
		o.windows[keyID] = w
	}
	isNew, gap := w.Check(pn)
	if !isNew {
		if gap > 0 {
			return &ReplayPotentiallyDetectedError{Gap: gap}
		}
		return ErrReplayDefinitelyDetected
	}
	w.Accept(pn)
	return nil
}

// AdvanceMinKeyID raises the lowest key_id this opener will accept
// (driven by a received stale_key secret-control message, spec §4.2).
func (o *Opener) AdvanceMinKeyID(minKeyID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if minKeyID > o.minKeyID {
		o.minKeyID = minKeyID
		for k := range o.windows {
			if k < minKeyID {
				delete(o.windows, k)
			}
		}
	}
}

// Status is the path-secret lifecycle state machine of spec §4.2.
type Status uint8

const (
	StatusLive Status = iota
	StatusRetiredGraceful
	StatusRetiredHard
)

// Entry is a known path secret shared with a peer (spec §3). Streams
// hold a reference-counted handle to an Entry; Entry never references
// streams back (spec §9 "Cyclic references").
type Entry struct {
	id     credential.ID
	secret *memguard.LockedBuffer

	sealer *Sealer
	opener *Opener

	// controlAead authenticates secret-control packets (spec §6's
	// third HKDF label, "control"): unlike the sealer/opener chains it
	// is not direction-specific and never ratchets, since both peers
	// must derive it identically to authenticate the handful of
	// out-of-band lifecycle messages of spec §4.2 regardless of which
	// side is currently live, retired, or mid-rotation.
	controlAead dccrypto.Aead

	mu             sync.RWMutex
	peerAddr       net.Addr
	retiredAtEpoch uint64 // 0 = live
	status         Status
	role           Role

	// minGeneration/maxGeneration track the last notify_generation_range
	// advertised to us for this credential (spec §4.2); hasGenerationRange
	// is false until the first notification arrives.
	minGeneration    uint64
	maxGeneration    uint64
	hasGenerationRange bool

	refCount int32 // atomic
}

// ID returns the entry's credential id.
func (e *Entry) ID() credential.ID { return e.id }

// PeerAddr returns the peer socket address associated with this
// credential at install/handshake time.
func (e *Entry) PeerAddr() net.Addr {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.peerAddr
}

// Status returns the entry's current lifecycle state.
func (e *Entry) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Ref increments the stream reference count; Unref decrements it. The
// cleaner (cleaner.go) only reaps entries with both RetiredAtEpoch set
// and a zero ref count, past the grace period.
func (e *Entry) Ref()   { atomic.AddInt32(&e.refCount, 1) }
func (e *Entry) Unref() { atomic.AddInt32(&e.refCount, -1) }
func (e *Entry) refs() int32 { return atomic.LoadInt32(&e.refCount) }

// Sealer returns the entry's sealer if the entry is live; RetiredGraceful
// and RetiredHard entries refuse new seals (spec §4.2 state machine).
func (e *Entry) Sealer() (*Sealer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.status != StatusLive {
		return nil, ErrRetired
	}
	return e.sealer, nil
}

// ControlAead returns the entry's secret-control AEAD (spec §6's
// "control" HKDF label). It is available regardless of Status: a
// RetiredHard entry still needs to authenticate the unknown_path_secret
// notice the peer sends it (spec §4.2 state machine).
func (e *Entry) ControlAead() dccrypto.Aead {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.controlAead
}

// Opener returns the entry's opener. RetiredGraceful entries still
// accept inbound packets (possibly emitting stale_key); RetiredHard
// entries refuse everything.
func (e *Entry) Opener() (*Opener, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.status == StatusRetiredHard {
		return nil, ErrRetired
	}
	return e.opener, nil
}

// retire transitions the entry out of Live. graceful retirement keeps
// the opener usable; hard retirement (reached after the grace period,
// or requested directly) disables both halves.
func (e *Entry) retire(atEpoch uint64, hard bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retiredAtEpoch == 0 {
		e.retiredAtEpoch = atEpoch
	}
	if hard {
		e.status = StatusRetiredHard
	} else if e.status == StatusLive {
		e.status = StatusRetiredGraceful
	}
}

// eligibleForReap reports whether the cleaner may delete this entry:
// retired, past grace, and unreferenced by any stream.
func (e *Entry) eligibleForReap(nowEpoch, grace uint64) bool {
	e.mu.RLock()
	retiredAt := e.retiredAtEpoch
	e.mu.RUnlock()
	if retiredAt == 0 {
		return false
	}
	if nowEpoch < retiredAt+grace {
		return false
	}
	return e.refs() == 0
}

// wipe releases the locked secret buffer; called only once the entry
// is being deleted.
func (e *Entry) wipe() {
	if e.secret != nil {
		e.secret.Destroy()
	}
}
