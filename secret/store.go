// Package secret implements the process-wide path-secret store of spec
// §4.2: the id->entry map, sealer/opener derivation, replay defence,
// and the secret-control sub-protocol's effect on entry lifecycle.
//
// Grounded on disk.go's StateWriter (encrypted-at-rest secret
// material, a single owning goroutine) and stream/stream.go's
// HKDF-derived per-direction keys, generalized from one fixed pair of
// keys to the sealer/opener key-rotation chain spec §4.2 requires.
package secret

import (
	"errors"
	"net"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/charmbracelet/log"

	"github.com/katzenpost/dctransport/credential"
	dccrypto "github.com/katzenpost/dctransport/crypto"
	"github.com/katzenpost/dctransport/internal/slidingwindow"
	"github.com/katzenpost/dctransport/wire"
)

// AeadFactory builds an Aead from raw key bytes; the store is
// parameterised by this (spec §6) and defaults to AES-128-GCM. The keys
// it is handed are always 16 bytes (keyLen), so a factory that needs a
// 32-byte key, such as the chacha20poly1305 alternate, fails on them.
type AeadFactory func([]byte) (dccrypto.Aead, error)

// Config configures a Store.
type Config struct {
	Hkdf        dccrypto.Hkdf
	AeadFactory AeadFactory
	// ReplayWindowWidth is the replay window width per key_id; spec §3
	// requires at least slidingwindow.MinWidth.
	ReplayWindowWidth uint64
	// GraceEpochs is how many cleaner epochs a retired entry survives
	// before being reaped, once unreferenced (spec §3/§9).
	GraceEpochs uint64
	// DisableDedup must only be set under a build tagged
	// dctransport_test; see spec §9 Open Questions. Production stores
	// must leave this false.
	DisableDedup bool

	Log *log.Logger
}

// page is one shard of the store's id->entry map. Partitioning by
// credential id hash lets concurrent installs/lookups on unrelated
// credentials avoid contending on one lock (spec §5 "a reader-writer
// guard on the path-secret store's page directory").
const pageCount = 64

type page struct {
	mu      sync.RWMutex
	entries map[credential.ID]*Entry
}

// Store is the process-wide path-secret store (spec §4.2, §9 "the
// path-secret store is process-wide by design"). Build one with
// Init and tear it down with Teardown; there is no static singleton.
type Store struct {
	cfg   Config
	pages [pageCount]*page
	log   *log.Logger

	epoch   *cleanerEpoch
	cleaner *cleaner
}

var ErrDedupDisableNotAllowed = errors.New("secret: DisableDedup requires the dctransport_test build")

// Init builds a Store and starts its background cleaner (spec §9
// "Implementations must provide an init(config) -> Store / teardown(Store)
// lifecycle").
func Init(cfg Config) (*Store, error) {
	if cfg.ReplayWindowWidth == 0 {
		cfg.ReplayWindowWidth = 128
	}
	if cfg.GraceEpochs == 0 {
		cfg.GraceEpochs = 1
	}
	if cfg.Hkdf == nil {
		cfg.Hkdf = dccrypto.NewHkdfSHA256()
	}
	if cfg.AeadFactory == nil {
		cfg.AeadFactory = dccrypto.NewAES128GCM
	}
	if cfg.Log == nil {
		cfg.Log = log.Default()
	}
	if cfg.DisableDedup && !dedupDisableAllowed {
		return nil, ErrDedupDisableNotAllowed
	}
	s := &Store{cfg: cfg, log: cfg.Log.WithPrefix("secret-store")}
	for i := range s.pages {
		s.pages[i] = &page{entries: make(map[credential.ID]*Entry)}
	}
	s.epoch = newCleanerEpoch()
	s.cleaner = newCleaner(s, s.epoch)
	s.cleaner.Start()
	return s, nil
}

// Teardown halts the background cleaner and wipes every entry's secret
// material.
func (s *Store) Teardown() {
	s.cleaner.Stop()
	for _, p := range s.pages {
		p.mu.Lock()
		for _, e := range p.entries {
			e.wipe()
		}
		p.entries = nil
		p.mu.Unlock()
	}
}

func (s *Store) pageFor(id credential.ID) *page {
	return s.pages[id.Hash()%pageCount]
}

// Install installs (or replaces) the path secret for id, deriving
// fresh sealer/opener chains. Installing over an existing id discards
// the old entry's key material immediately (spec §8 round-trip law:
// "install(id, s); retire(id); install(id, s') yields an entry whose
// opener accepts only s'" — a direct Install without an intervening
// retire has the same effect).
func (s *Store) Install(id credential.ID, rawSecret []byte, peerAddr net.Addr, role Role) (*Entry, error) {
	sealChain, openChain, err := buildChains(s.cfg.Hkdf, rawSecret, role)
	if err != nil {
		return nil, err
	}
	controlAead, err := buildControlAead(s.cfg.Hkdf, s.cfg.AeadFactory, rawSecret)
	if err != nil {
		return nil, err
	}
	locked := memguard.NewBufferFromBytes(rawSecret)

	e := &Entry{
		id:     id,
		secret: locked,
		role:   role,
		status: StatusLive,
		sealer: &Sealer{
			chain:       sealChain,
			maxRecords:  defaultMaxRecordsPerKey,
			aeadFactory: s.cfg.AeadFactory,
			dir:         sealDirection(role),
		},
		opener: &Opener{
			chain:       openChain,
			windows:     make(map[uint64]*slidingwindow.Window),
			windowWidth: s.cfg.ReplayWindowWidth,
			aeadFactory: s.cfg.AeadFactory,
			dir:         openDirection(role),
		},
		peerAddr:    peerAddr,
		controlAead: controlAead,
	}

	pg := s.pageFor(id)
	pg.mu.Lock()
	if old, ok := pg.entries[id]; ok {
		old.wipe()
	}
	pg.entries[id] = e
	pg.mu.Unlock()
	return e, nil
}

// lookup returns the entry for id, or nil.
func (s *Store) lookup(id credential.ID) *Entry {
	pg := s.pageFor(id)
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	return pg.entries[id]
}

// OpenSealer implements spec §4.2 open_sealer.
func (s *Store) OpenSealer(id credential.ID) (*Sealer, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, ErrUnknownID
	}
	return e.Sealer()
}

// OpenOpener implements spec §4.2 open_opener: returns the opener plus
// an error classifying why a packet under (id, keyID) cannot be
// accepted.
func (s *Store) OpenOpener(id credential.ID, keyID uint64) (*Opener, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, ErrUnknownID
	}
	opener, err := e.Opener()
	if err != nil {
		return nil, err
	}
	if _, err := opener.Open(keyID); err != nil {
		return nil, err
	}
	return opener, nil
}

// CheckDedup implements spec §4.2 check_dedup: called at most once per
// accepted initial packet for a freshly minted receive-side state, to
// make sure a racing duplicate initial didn't slip in.
func (s *Store) CheckDedup(e *Entry, keyID, pn uint64) error {
	if s.cfg.DisableDedup {
		return nil
	}
	opener, err := e.Opener()
	if err != nil {
		return err
	}
	return opener.CheckAndAccept(keyID, pn)
}

// Lookup returns the entry for id without classifying errors, for
// callers (the dispatcher) that need the Entry itself, e.g. to attach
// a stream reference.
func (s *Store) Lookup(id credential.ID) (*Entry, bool) {
	e := s.lookup(id)
	return e, e != nil
}

// Retire marks id's entry retired as of the current epoch. A
// subsequent OpenSealer fails immediately; the opener remains usable
// until the grace period elapses (graceful retirement), unless hard is
// true, in which case both halves are disabled immediately (spec
// §4.2's RetiredHard, reached administratively or once the cleaner has
// reaped the grace period).
func (s *Store) Retire(id credential.ID, hard bool) error {
	e := s.lookup(id)
	if e == nil {
		return ErrUnknownID
	}
	e.retire(s.epoch.now(), hard)
	return nil
}

// Epoch returns the store's current cleaner epoch, incremented roughly
// once a minute (spec GLOSSARY).
func (s *Store) Epoch() uint64 {
	return s.epoch.now()
}

func (s *Store) reapOnce() {
	now := s.epoch.now()
	for _, pg := range s.pages {
		pg.mu.Lock()
		for id, e := range pg.entries {
			if e.eligibleForReap(now, s.cfg.GraceEpochs) {
				e.wipe()
				delete(pg.entries, id)
			} else if e.Status() == StatusRetiredGraceful {
				// Hard-retire once past grace even if still
				// referenced, so inbound packets start getting
				// unknown_path_secret instead of silently accepted
				// forever (spec §4.2 state machine).
				e.mu.RLock()
				retiredAt := e.retiredAtEpoch
				e.mu.RUnlock()
				if retiredAt != 0 && now >= retiredAt+s.cfg.GraceEpochs {
					e.retire(retiredAt, true)
				}
			}
		}
		pg.mu.Unlock()
	}
}

// buildChains derives the two HKDF label chains ("sealer" carries
// Initiator->Responder traffic, "opener" carries Responder->Initiator
// traffic, see Role's doc comment) and returns (my send chain, my
// receive chain) for the given role.
func buildChains(hkdf dccrypto.Hkdf, rawSecret []byte, role Role) (send, recv *keychain, err error) {
	itr, err := newKeychain(hkdf, rawSecret, "sealer")
	if err != nil {
		return nil, nil, err
	}
	rti, err := newKeychain(hkdf, rawSecret, "opener")
	if err != nil {
		return nil, nil, err
	}
	if role == RoleInitiator {
		return itr, rti, nil
	}
	return rti, itr, nil
}

// buildControlAead derives the static, non-ratcheting "control" key
// (spec §6) used to authenticate secret-control packets. Both peers
// derive it identically regardless of Role, since secret-control
// messages are not associated with a send/receive direction the way
// stream/datagram/control-frame traffic is.
func buildControlAead(hkdf dccrypto.Hkdf, aeadFactory AeadFactory, rawSecret []byte) (dccrypto.Aead, error) {
	prk := hkdf.Extract(nil, rawSecret)
	key, err := hkdf.ExpandLabel(prk, "control", keyLen)
	if err != nil {
		return nil, err
	}
	return aeadFactory(key)
}

func sealDirection(role Role) wire.Direction {
	if role == RoleInitiator {
		return wire.DirectionInitiatorToResponder
	}
	return wire.DirectionResponderToInitiator
}

func openDirection(role Role) wire.Direction {
	if role == RoleInitiator {
		return wire.DirectionResponderToInitiator
	}
	return wire.DirectionInitiatorToResponder
}

// dedupDisableAllowed is flipped to true only by the
// dctransport_test-tagged build (see dedup_test_allowed.go / spec §9
// Open Question #1).
var dedupDisableAllowed = false
