package cliconfig

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServiceURL != DefaultServiceURL {
		t.Errorf("ServiceURL = %v, want %v", cfg.ServiceURL, DefaultServiceURL)
	}
	if cfg.Mode != "read" {
		t.Errorf("Mode = %v, want read", cfg.Mode)
	}
	if cfg.InitialReconnectDelay != time.Second || cfg.MaxReconnectDelay != 8*time.Second {
		t.Errorf("reconnect delays = %v/%v, want 1s/8s", cfg.InitialReconnectDelay, cfg.MaxReconnectDelay)
	}
	if cfg.FetchBatchSize != 2000 {
		t.Errorf("FetchBatchSize = %v, want 2000", cfg.FetchBatchSize)
	}
	if cfg.Output != OutputText {
		t.Errorf("Output = %v, want %v", cfg.Output, OutputText)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		c := DefaultConfig()
		c.TenantID = "fluid"
		c.DocumentID = "doc"
		c.StorageURL = "http://localhost:7071"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid minimal config", mutate: func(*Config) {}},
		{name: "missing tenant", mutate: func(c *Config) { c.TenantID = "" }, wantErr: true},
		{name: "missing document", mutate: func(c *Config) { c.DocumentID = "" }, wantErr: true},
		{name: "archive replaces storage url", mutate: func(c *Config) {
			c.StorageURL = ""
			c.ArchivePath = "/tmp/a.db"
		}},
		{name: "no storage at all", mutate: func(c *Config) { c.StorageURL = "" }, wantErr: true},
		{name: "invalid mode", mutate: func(c *Config) { c.Mode = "admin" }, wantErr: true},
		{name: "invalid output", mutate: func(c *Config) { c.Output = "xml" }, wantErr: true},
		{name: "max delay below initial", mutate: func(c *Config) { c.MaxReconnectDelay = time.Millisecond }, wantErr: true},
		{name: "non-positive timeout", mutate: func(c *Config) { c.HTTPTimeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Normalizes(t *testing.T) {
	c := DefaultConfig()
	c.TenantID = "fluid"
	c.DocumentID = "doc"
	c.ServiceURL = ""
	c.StorageURL = "http://localhost:7071/"

	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.ServiceURL != DefaultServiceURL {
		t.Errorf("ServiceURL = %v, want %v", c.ServiceURL, DefaultServiceURL)
	}
	if c.StorageURL != "http://localhost:7071" {
		t.Errorf("StorageURL = %v, want trailing slash trimmed", c.StorageURL)
	}
}

func TestConfig_Masked(t *testing.T) {
	c := Config{TenantKey: "secret"}
	if got := c.Masked().TenantKey; got != "*****" {
		t.Errorf("Masked().TenantKey = %v, want *****", got)
	}
	if c.TenantKey != "secret" {
		t.Error("Masked() modified the receiver")
	}
	if got := (Config{}).Masked().TenantKey; got != "" {
		t.Errorf("Masked() of empty key = %q, want empty", got)
	}
}
