// Package config decodes a dctransport TOML configuration document,
// mirroring mailproxy/mailproxy.go's section-per-struct TOML layout
// (Proxy/Logging/NonvotingAuthority there; Endpoint/PathSecretStore/
// substrate knobs here) but reading a user-supplied file with
// github.com/BurntSushi/toml rather than generating one from a
// template.
package config

import (
	"errors"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level decoded document.
type Config struct {
	Logging         LoggingConfig
	Endpoint        EndpointConfig
	PathSecretStore PathSecretStoreConfig
	Metrics         MetricsConfig
}

// LoggingConfig mirrors the teacher's [Logging] section
// (mailproxy/mailproxy.go's makeConfig template), adapted to the
// charmbracelet/log levels this repo standardizes on (SPEC_FULL §0).
type LoggingConfig struct {
	Disable bool
	Level   string // "debug", "info", "warn", "error"
}

// EndpointConfig configures one Endpoint (spec §4.4): which substrate
// to bind, MTU, and the timers of §4.4.1.
type EndpointConfig struct {
	// Substrate selects the transport capability: "udp", "tcp", or
	// "quic" (SPEC_FULL §1 DOMAIN STACK quicsubstrate).
	Substrate string
	Address   string

	MTU             int
	MaxIdleTimeout  Duration
	MaxAckDelay     Duration
	AcceptQueueSize int
	RingSize        int
}

// PathSecretStoreConfig configures the store (spec §4.2/§9).
type PathSecretStoreConfig struct {
	ReplayWindowWidth uint64
	GraceEpochs       uint64
	DisableDedup      bool

	// DiskStorePath, if set, persists installed credentials across
	// restarts (secret/diskstore.go); empty means in-memory only.
	DiskStorePath       string
	DiskStorePassphrase string
}

// MetricsConfig configures the prometheus exporter (SPEC_FULL §1
// internal/metrics).
type MetricsConfig struct {
	Disable   bool
	Namespace string
	Address   string
}

// Duration is a time.Duration that decodes from TOML as a Go duration
// string ("30s", "5m"), since encoding/toml has no native duration
// type.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// defaults mirrors the zero-value fallbacks applied throughout
// secret.Config/stream.SenderConfig/ReceiverConfig, so a minimal TOML
// document (just Endpoint.Address) still produces a usable Config.
func (c *Config) applyDefaults() {
	if c.Endpoint.Substrate == "" {
		c.Endpoint.Substrate = "udp"
	}
	if c.Endpoint.MTU == 0 {
		c.Endpoint.MTU = 1350
	}
	if c.Endpoint.MaxIdleTimeout.Duration == 0 {
		c.Endpoint.MaxIdleTimeout.Duration = 30 * time.Second
	}
	if c.Endpoint.MaxAckDelay.Duration == 0 {
		c.Endpoint.MaxAckDelay.Duration = 25 * time.Millisecond
	}
	if c.Endpoint.AcceptQueueSize == 0 {
		c.Endpoint.AcceptQueueSize = 128
	}
	if c.Endpoint.RingSize == 0 {
		c.Endpoint.RingSize = 256
	}
	if c.PathSecretStore.ReplayWindowWidth == 0 {
		c.PathSecretStore.ReplayWindowWidth = 128
	}
	if c.PathSecretStore.GraceEpochs == 0 {
		c.PathSecretStore.GraceEpochs = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "dctransport"
	}
}

// Validate rejects configurations that would fail to build a working
// endpoint, matching the teacher's convention of a Validate() method
// called right after decode rather than deferring failures to runtime.
func (c *Config) Validate() error {
	switch c.Endpoint.Substrate {
	case "udp", "tcp", "quic":
	default:
		return errors.New("config: Endpoint.Substrate must be one of udp, tcp, quic")
	}
	if c.Endpoint.Address == "" {
		return errors.New("config: Endpoint.Address is required")
	}
	if c.Endpoint.MTU < 256 {
		return errors.New("config: Endpoint.MTU must be at least 256")
	}
	return nil
}

// Load decodes and validates a Config from the TOML document at path.
func Load(path string) (*Config, error) {
	c := new(Config)
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes and validates a Config from an in-memory TOML
// document, used by tests that don't want to touch the filesystem.
func Parse(doc string) (*Config, error) {
	c := new(Config)
	if _, err := toml.Decode(doc, c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
