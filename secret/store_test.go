package secret

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/dctransport/credential"
)

func testConfig() Config {
	return Config{ReplayWindowWidth: 128, GraceEpochs: 1}
}

func randID(t *testing.T, b byte) credential.ID {
	t.Helper()
	var id credential.ID
	id[0] = b
	return id
}

func randSecret() []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = byte(i + 1)
	}
	return s
}

// TestInstallThenSealOpenRoundTrip exercises the round-trip law of
// spec §8: a packet sealed by one peer's sealer opens cleanly under
// the other peer's matching opener.
func TestInstallThenSealOpenRoundTrip(t *testing.T) {
	cfg := testConfig()
	store, err := Init(cfg)
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 1)
	secret := randSecret()
	peerAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}

	// Install wipes the slice it is given, so the responder's copy of
	// the shared secret is taken first.
	responderSecret := append([]byte(nil), secret...)
	initiator, err := store.Install(id, secret, peerAddr, RoleInitiator)
	require.NoError(t, err)

	responder, err := store.Install(id, responderSecret, peerAddr, RoleResponder)
	require.NoError(t, err)
	// Re-install under the same id simulates a distinct process holding
	// the other half of the same shared secret; only one Store is used
	// here for convenience, so both entries are used directly rather
	// than through the (now overwritten) store id slot.

	sealer, err := initiator.Sealer()
	require.NoError(t, err)
	aead, keyID, _, err := sealer.Current()
	require.NoError(t, err)
	require.Equal(t, uint64(0), keyID)
	nonce := make([]byte, 12)
	plaintext := []byte("round trip")
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	sealer.RecordSealed()

	opener, err := responder.Opener()
	require.NoError(t, err)
	openAead, err := opener.Open(keyID)
	require.NoError(t, err)
	got, err := openAead.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

// TestRetireThenReinstallAcceptsOnlyNewSecret covers spec §8's
// "install(id, s); retire(id); install(id, s')" law: after
// re-installing under a fresh secret, the opener only accepts keys
// derived from s', not s.
func TestRetireThenReinstallAcceptsOnlyNewSecret(t *testing.T) {
	store, err := Init(testConfig())
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 2)
	peerAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}

	first, err := store.Install(id, randSecret(), peerAddr, RoleResponder)
	require.NoError(t, err)
	firstOpener, err := first.Opener()
	require.NoError(t, err)
	firstAead, err := firstOpener.Open(0)
	require.NoError(t, err)

	require.NoError(t, store.Retire(id, false))

	secondSecret := randSecret()
	secondSecret[0] ^= 0xFF
	second, err := store.Install(id, secondSecret, peerAddr, RoleResponder)
	require.NoError(t, err)
	secondOpener, err := second.Opener()
	require.NoError(t, err)
	secondAead, err := secondOpener.Open(0)
	require.NoError(t, err)

	// The two openers must derive different keys from different
	// secrets; sealing a fixed plaintext under each must not agree.
	nonce := [12]byte{}
	ctFirst := firstAead.Seal(nil, nonce[:], []byte("hello"), nil)
	ctSecond := secondAead.Seal(nil, nonce[:], []byte("hello"), nil)
	require.NotEqual(t, ctFirst, ctSecond)

	// And the old entry (retired, not the live one under id now) no
	// longer lives in the store's lookup path.
	live, ok := store.Lookup(id)
	require.True(t, ok)
	require.Equal(t, second, live)
}

// TestSealerRotatesAfterMaxRecords covers spec §8 scenario 4: once the
// configured record quota is reached, the next Current() call
// advances to a new key id.
func TestSealerRotatesAfterMaxRecords(t *testing.T) {
	store, err := Init(testConfig())
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 3)
	e, err := store.Install(id, randSecret(), &net.UDPAddr{}, RoleInitiator)
	require.NoError(t, err)
	sealer, err := e.Sealer()
	require.NoError(t, err)
	sealer.SetMaxRecordsPerKey(2)

	_, keyID0, _, err := sealer.Current()
	require.NoError(t, err)
	require.Equal(t, uint64(0), keyID0)
	sealer.RecordSealed()

	_, keyID1, _, err := sealer.Current()
	require.NoError(t, err)
	require.Equal(t, uint64(0), keyID1)
	sealer.RecordSealed()

	_, keyID2, _, err := sealer.Current()
	require.NoError(t, err)
	require.Equal(t, uint64(1), keyID2)
}

// TestOpenerRejectsReplay exercises the dedup/replay taxonomy of
// spec §4.2/§8: repeating a packet number already accepted must fail,
// and distinct packet numbers must succeed.
func TestOpenerRejectsReplay(t *testing.T) {
	store, err := Init(testConfig())
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 4)
	e, err := store.Install(id, randSecret(), &net.UDPAddr{}, RoleResponder)
	require.NoError(t, err)
	opener, err := e.Opener()
	require.NoError(t, err)

	require.NoError(t, opener.CheckAndAccept(0, 10))
	require.NoError(t, opener.CheckAndAccept(0, 11))
	err = opener.CheckAndAccept(0, 10)
	require.Error(t, err)
}

// TestDisableDedupRequiresTestBuild covers spec §9 Open Question 1:
// outside the dctransport_test build tag, DisableDedup must be
// rejected at Init time.
func TestDisableDedupRequiresTestBuild(t *testing.T) {
	cfg := testConfig()
	cfg.DisableDedup = true
	_, err := Init(cfg)
	if dedupDisableAllowed {
		require.NoError(t, err)
	} else {
		require.ErrorIs(t, err, ErrDedupDisableNotAllowed)
	}
}

// TestRetireMarksSealerUnusableButOpenerLive covers the graceful
// retirement half of the state machine: sends stop, receives continue
// until the grace period elapses.
func TestRetireMarksSealerUnusableButOpenerLive(t *testing.T) {
	store, err := Init(testConfig())
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 5)
	e, err := store.Install(id, randSecret(), &net.UDPAddr{}, RoleInitiator)
	require.NoError(t, err)
	require.NoError(t, store.Retire(id, false))

	_, err = e.Sealer()
	require.ErrorIs(t, err, ErrRetired)

	_, err = e.Opener()
	require.NoError(t, err)
	require.Equal(t, StatusRetiredGraceful, e.Status())
}

// TestCleanerReapsPastGraceUnreferencedEntry drives the epoch cleaner
// synchronously (via Tick) to confirm a retired, unreferenced entry is
// removed once the grace period elapses, and an id->entry lookup then
// reports unknown.
func TestCleanerReapsPastGraceUnreferencedEntry(t *testing.T) {
	cfg := testConfig()
	cfg.GraceEpochs = 1
	store, err := Init(cfg)
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 6)
	_, err = store.Install(id, randSecret(), &net.UDPAddr{}, RoleInitiator)
	require.NoError(t, err)
	require.NoError(t, store.Retire(id, false))

	store.Tick() // epoch 2: retiredAt=1, 2 >= 1+1, unreferenced -> reaped
	store.Tick() // epoch 3: already gone

	_, ok := store.Lookup(id)
	require.False(t, ok)
}

// TestReferencedRetiredEntrySurvivesReap confirms a stream holding a
// Ref on a retired entry blocks reaping even past grace, per spec §9
// "streams own references into path-secret entries".
func TestReferencedRetiredEntrySurvivesReap(t *testing.T) {
	cfg := testConfig()
	cfg.GraceEpochs = 1
	store, err := Init(cfg)
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 7)
	e, err := store.Install(id, randSecret(), &net.UDPAddr{}, RoleInitiator)
	require.NoError(t, err)
	e.Ref()
	require.NoError(t, store.Retire(id, false))

	store.Tick()
	store.Tick()
	store.Tick()

	_, ok := store.Lookup(id)
	require.True(t, ok)

	e.Unref()
}
