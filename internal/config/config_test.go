package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse(`
[Endpoint]
Address = "127.0.0.1:4433"
`)
	require.NoError(t, err)
	require.Equal(t, "udp", c.Endpoint.Substrate)
	require.Equal(t, 1350, c.Endpoint.MTU)
	require.Equal(t, uint64(128), c.PathSecretStore.ReplayWindowWidth)
	require.Equal(t, "dctransport", c.Metrics.Namespace)
}

func TestParseOverrides(t *testing.T) {
	c, err := Parse(`
[Endpoint]
Substrate = "quic"
Address = "127.0.0.1:4433"
MTU = 1200
MaxIdleTimeout = "45s"

[PathSecretStore]
ReplayWindowWidth = 256
GraceEpochs = 3
`)
	require.NoError(t, err)
	require.Equal(t, "quic", c.Endpoint.Substrate)
	require.Equal(t, 1200, c.Endpoint.MTU)
	require.Equal(t, uint64(256), c.PathSecretStore.ReplayWindowWidth)
}

func TestValidateRejectsBadSubstrate(t *testing.T) {
	_, err := Parse(`
[Endpoint]
Substrate = "carrier-pigeon"
Address = "127.0.0.1:4433"
`)
	require.Error(t, err)
}

func TestValidateRequiresAddress(t *testing.T) {
	_, err := Parse(`
[Endpoint]
Substrate = "udp"
`)
	require.Error(t, err)
}
