package admin

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/dctransport/credential"
)

func TestEnvelopeFrameRoundTrip(t *testing.T) {
	var id credential.ID
	id[0] = 7
	e := &Envelope{
		Type: TypeInstallRequest,
		Install: &InstallRequest{
			CredentialID: id,
			Secret:       []byte("0123456789abcdef0123456789abcdef"),
			PeerAddr:     "127.0.0.1:9000",
			Role:         1,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, e))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, e.Type, got.Type)
	require.Equal(t, e.Install.CredentialID, got.Install.CredentialID)
	require.Equal(t, e.Install.Secret, got.Install.Secret)
	require.Equal(t, e.Install.PeerAddr, got.Install.PeerAddr)
	require.Equal(t, e.Install.Role, got.Install.Role)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestRetireEnvelopeRoundTrip(t *testing.T) {
	var id credential.ID
	id[0] = 9
	e := &Envelope{
		Type:   TypeRetireRequest,
		Retire: &RetireRequest{CredentialID: id, Hard: true},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, e))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeRetireRequest, got.Type)
	require.True(t, got.Retire.Hard)
	require.Equal(t, id, got.Retire.CredentialID)
}
