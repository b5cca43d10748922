package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/opstream/internal/domain"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad mode", mutate: func(c *Config) { c.Client.Mode = "admin" }, wantErr: true},
		{name: "inverted reconnect delays", mutate: func(c *Config) {
			c.InitialReconnectDelay = 4 * time.Second
			c.MaxReconnectDelay = time.Second
		}, wantErr: true},
		{name: "inverted fetch delays", mutate: func(c *Config) {
			c.Fetch.MissingFetchDelay = time.Second
			c.Fetch.MaxFetchDelay = time.Millisecond
		}, wantErr: true},
		{name: "jitter", mutate: func(c *Config) { c.ReconnectJitter = 0.2 }},
		{name: "negative jitter", mutate: func(c *Config) { c.ReconnectJitter = -0.1 }, wantErr: true},
		{name: "jitter of one", mutate: func(c *Config) { c.ReconnectJitter = 1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	d := DefaultConfig()
	assert.Equal(t, d.Client.Mode, cfg.Client.Mode)
	assert.Equal(t, d.InitialReconnectDelay, cfg.InitialReconnectDelay)
	assert.Equal(t, d.MaxReconnectDelay, cfg.MaxReconnectDelay)
	assert.Equal(t, d.Fetch.BatchSize, cfg.Fetch.BatchSize)
	assert.Equal(t, d.NoOpDelay, cfg.NoOpDelay)
	assert.Zero(t, cfg.ReconnectJitter)
	assert.NoError(t, cfg.Validate())
}
