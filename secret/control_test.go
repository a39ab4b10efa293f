package secret

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/dctransport/wire/secretcontrol"
)

func TestApplyUnknownPathSecretHardRetires(t *testing.T) {
	store, err := Init(testConfig())
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 20)
	e, err := store.Install(id, randSecret(), &net.UDPAddr{}, RoleInitiator)
	require.NoError(t, err)

	require.NoError(t, store.Apply(secretcontrol.NewUnknownPathSecret(id)))
	require.Equal(t, StatusRetiredHard, e.Status())

	_, err = e.Opener()
	require.ErrorIs(t, err, ErrRetired)
}

func TestApplyStaleKeyAdvancesSealerFloor(t *testing.T) {
	store, err := Init(testConfig())
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 21)
	e, err := store.Install(id, randSecret(), &net.UDPAddr{}, RoleInitiator)
	require.NoError(t, err)

	require.NoError(t, store.Apply(secretcontrol.NewStaleKey(id, 3)))

	sealer, err := e.Sealer()
	require.NoError(t, err)
	_, keyID, _, err := sealer.Current()
	require.NoError(t, err)
	require.Equal(t, uint64(3), keyID)
}

func TestApplyOnUnknownIDReturnsErrUnknownID(t *testing.T) {
	store, err := Init(testConfig())
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 22)
	err = store.Apply(secretcontrol.NewStaleKey(id, 1))
	require.ErrorIs(t, err, ErrUnknownID)
}

func TestApplyNotifyGenerationRangeRejectsRegression(t *testing.T) {
	store, err := Init(testConfig())
	require.NoError(t, err)
	defer store.Teardown()

	id := randID(t, 23)
	_, err = store.Install(id, randSecret(), &net.UDPAddr{}, RoleInitiator)
	require.NoError(t, err)

	require.NoError(t, store.Apply(secretcontrol.NewNotifyGenerationRange(id, 10, 20)))
	err = store.Apply(secretcontrol.NewNotifyGenerationRange(id, 25, 9))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestApplyUnknownSubtypeRejected(t *testing.T) {
	store, err := Init(testConfig())
	require.NoError(t, err)
	defer store.Teardown()

	err = store.Apply(&secretcontrol.Message{Subtype: secretcontrol.Subtype(99)})
	require.ErrorIs(t, err, ErrUnknownSubtype)
}
