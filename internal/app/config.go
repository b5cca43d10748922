package app

import (
	"fmt"
	"time"

	"github.com/bft-labs/opstream/internal/catchup"
	"github.com/bft-labs/opstream/internal/connection"
	"github.com/bft-labs/opstream/internal/domain"
)

// Default delta manager timings.
const (
	DefaultNoOpDelay            = 2 * time.Second
	DefaultSlowConnectThreshold = 15 * time.Second
	DefaultClientType           = "unknown"
)

// Config contains configuration for a delta manager.
type Config struct {
	// Client is the identity presented to the service. Client.Mode is the
	// mode used when reconnecting after a disconnect or transport error.
	Client domain.Client

	// Reconnect allows reconnecting after a connection is lost. When false
	// the manager closes instead.
	Reconnect bool

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration

	// ReconnectJitter spreads each reconnect delay by up to that fraction
	// of its value. Zero disables it.
	ReconnectJitter float64

	Fetch catchup.Config

	// NoOpDelay is how long after processing an op the acknowledgment
	// no-op is sent.
	NoOpDelay time.Duration

	// SlowConnectThreshold is the connect duration after which a read-only
	// connection without a backlog checks storage for missed ops.
	SlowConnectThreshold time.Duration
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	return Config{
		Client:                domain.Client{Mode: domain.ModeWrite, Details: domain.ClientDetails{Type: DefaultClientType}},
		Reconnect:             true,
		InitialReconnectDelay: connection.DefaultInitialDelay,
		MaxReconnectDelay:     connection.DefaultMaxDelay,
		Fetch:                 catchup.DefaultConfig(),
		NoOpDelay:             DefaultNoOpDelay,
		SlowConnectThreshold:  DefaultSlowConnectThreshold,
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.Client.Mode == "" {
		c.Client.Mode = d.Client.Mode
	}
	if c.Client.Details.Type == "" {
		c.Client.Details.Type = d.Client.Details.Type
	}
	if c.InitialReconnectDelay <= 0 {
		c.InitialReconnectDelay = d.InitialReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if c.Fetch.BatchSize <= 0 {
		c.Fetch.BatchSize = d.Fetch.BatchSize
	}
	if c.Fetch.MissingFetchDelay <= 0 {
		c.Fetch.MissingFetchDelay = d.Fetch.MissingFetchDelay
	}
	if c.Fetch.MaxFetchDelay <= 0 {
		c.Fetch.MaxFetchDelay = d.Fetch.MaxFetchDelay
	}
	if c.Fetch.MaxRetries <= 0 {
		c.Fetch.MaxRetries = d.Fetch.MaxRetries
	}
	if c.NoOpDelay <= 0 {
		c.NoOpDelay = d.NoOpDelay
	}
	if c.SlowConnectThreshold <= 0 {
		c.SlowConnectThreshold = d.SlowConnectThreshold
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Client.Mode.Valid() {
		return fmt.Errorf("%w: client mode %q", domain.ErrInvalidConfig, c.Client.Mode)
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter >= 1 {
		return fmt.Errorf("%w: reconnect jitter %v outside [0, 1)", domain.ErrInvalidConfig, c.ReconnectJitter)
	}
	if c.MaxReconnectDelay < c.InitialReconnectDelay {
		return fmt.Errorf("%w: max reconnect delay %s below initial %s", domain.ErrInvalidConfig, c.MaxReconnectDelay, c.InitialReconnectDelay)
	}
	if c.Fetch.MaxFetchDelay < c.Fetch.MissingFetchDelay {
		return fmt.Errorf("%w: max fetch delay %s below missing fetch delay %s", domain.ErrInvalidConfig, c.Fetch.MaxFetchDelay, c.Fetch.MissingFetchDelay)
	}
	return nil
}
