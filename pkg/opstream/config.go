package opstream

import (
	"fmt"
	"time"

	"github.com/bft-labs/opstream/internal/app"
	"github.com/bft-labs/opstream/internal/catchup"
	"github.com/bft-labs/opstream/internal/connection"
	"github.com/bft-labs/opstream/internal/domain"
)

// DefaultHTTPTimeout bounds delta storage requests.
const DefaultHTTPTimeout = 30 * time.Second

// Config contains all configuration for a Stream.
type Config struct {
	// ServiceURL is the websocket endpoint of the ordering service.
	// Required unless a connection provider is injected.
	ServiceURL string

	// StorageURL is the base URL of delta storage.
	// Required unless a storage provider or an archive is configured.
	StorageURL string

	// TenantID and DocumentID identify the document. Required.
	TenantID   string
	DocumentID string

	// TenantKey signs locally minted access tokens when no token provider
	// is injected.
	TenantKey string

	// UserID is the user tokens are minted for. Random when empty.
	UserID string

	// Mode is the connection mode used when (re)connecting.
	// Default: write.
	Mode ConnectionMode

	// ClientType names the client in traces. Default: "unknown".
	ClientType string

	// DisableReconnect closes the stream when the connection is lost
	// instead of reconnecting.
	DisableReconnect bool

	// InitialReconnectDelay and MaxReconnectDelay bound the connect backoff.
	// Defaults: 1s and 8s.
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration

	// ReconnectJitter spreads each reconnect delay by up to that fraction
	// of its value, in [0, 1). Default: 0.
	ReconnectJitter float64

	// FetchBatchSize is the number of ops asked from storage per request.
	// Default: 2000.
	FetchBatchSize int

	// MaxFetchRetries is the number of consecutive empty storage reads
	// tolerated while catching up. Default: 100.
	MaxFetchRetries int

	// NoOpDelay is how long after processing an op the acknowledgment is
	// sent. Default: 2s.
	NoOpDelay time.Duration

	// HTTPTimeout bounds each delta storage request. Default: 30s.
	HTTPTimeout time.Duration

	// ArchivePath, when set, archives processed ops in a SQLite database
	// and serves catch-up reads from it.
	ArchivePath string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeWrite,
		ClientType:            app.DefaultClientType,
		InitialReconnectDelay: connection.DefaultInitialDelay,
		MaxReconnectDelay:     connection.DefaultMaxDelay,
		FetchBatchSize:        catchup.DefaultBatchSize,
		MaxFetchRetries:       catchup.DefaultMaxRetries,
		NoOpDelay:             app.DefaultNoOpDelay,
		HTTPTimeout:           DefaultHTTPTimeout,
	}
}

// SetDefaults applies default values to zero-value fields.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.ClientType == "" {
		c.ClientType = d.ClientType
	}
	if c.InitialReconnectDelay == 0 {
		c.InitialReconnectDelay = d.InitialReconnectDelay
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if c.FetchBatchSize == 0 {
		c.FetchBatchSize = d.FetchBatchSize
	}
	if c.MaxFetchRetries == 0 {
		c.MaxFetchRetries = d.MaxFetchRetries
	}
	if c.NoOpDelay == 0 {
		c.NoOpDelay = d.NoOpDelay
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidConfig)
	}
	if c.DocumentID == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidConfig)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: mode must be read or write, got %q", ErrInvalidConfig, c.Mode)
	}
	if c.InitialReconnectDelay < 0 || c.MaxReconnectDelay < c.InitialReconnectDelay {
		return fmt.Errorf("%w: reconnect delays must satisfy 0 <= initial <= max", ErrInvalidConfig)
	}
	if c.FetchBatchSize < 0 || c.MaxFetchRetries < 0 {
		return fmt.Errorf("%w: fetch batch size and retries must not be negative", ErrInvalidConfig)
	}
	return nil
}

// validateWiring checks that every collaborator can be built.
func (c *Config) validateWiring(o *options) error {
	if o.connections == nil && c.ServiceURL == "" {
		return fmt.Errorf("%w: service url is required", ErrInvalidConfig)
	}
	if o.storage == nil && c.StorageURL == "" && c.ArchivePath == "" && o.archive == nil {
		return fmt.Errorf("%w: storage url or archive is required", ErrInvalidConfig)
	}
	if o.tokens == nil && o.connections == nil && c.TenantKey == "" {
		return fmt.Errorf("%w: tenant key or token provider is required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) appConfig() app.Config {
	cfg := app.DefaultConfig()
	cfg.Client = domain.Client{
		Mode:    c.Mode,
		Details: domain.ClientDetails{Type: c.ClientType, Capabilities: domain.Capabilities{Interactive: false}},
		User:    domain.User{ID: c.UserID},
	}
	cfg.Reconnect = !c.DisableReconnect
	cfg.InitialReconnectDelay = c.InitialReconnectDelay
	cfg.MaxReconnectDelay = c.MaxReconnectDelay
	cfg.ReconnectJitter = c.ReconnectJitter
	cfg.Fetch.BatchSize = int64(c.FetchBatchSize)
	cfg.Fetch.MaxRetries = c.MaxFetchRetries
	cfg.NoOpDelay = c.NoOpDelay
	return cfg
}
