package cliconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultServiceURL is the default ordering service endpoint.
const DefaultServiceURL = "ws://localhost:7070/socket"

// Output formats understood by the follow and replay commands.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds CLI configuration for opstream.
type Config struct {
	ServiceURL string
	StorageURL string

	TenantID   string
	DocumentID string
	TenantKey  string
	UserID     string

	Mode       string
	ClientType string

	DisableReconnect      bool
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	NoOpDelay             time.Duration
	HTTPTimeout           time.Duration
	FetchBatchSize        int

	ArchivePath    string
	CheckpointPath string
	MetricsAddr    string

	LogLevel string
	Output   string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ServiceURL:            DefaultServiceURL,
		Mode:                  "read",
		ClientType:            "opstream-cli",
		InitialReconnectDelay: time.Second,
		MaxReconnectDelay:     8 * time.Second,
		NoOpDelay:             2 * time.Second,
		HTTPTimeout:           30 * time.Second,
		FetchBatchSize:        2000,
		LogLevel:              "info",
		Output:                OutputText,
		TenantKey:             os.Getenv("OPSTREAM_TENANT_KEY"),
	}
}

// Validate checks the configuration for errors and normalizes URLs.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant is required")
	}
	if c.DocumentID == "" {
		return fmt.Errorf("document is required")
	}

	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")
	c.StorageURL = strings.TrimRight(c.StorageURL, "/")
	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	if c.StorageURL == "" && c.ArchivePath == "" {
		return fmt.Errorf("storage-url or archive is required")
	}

	if c.Mode != "read" && c.Mode != "write" {
		return fmt.Errorf("mode must be read or write, got %q", c.Mode)
	}
	if c.Output != OutputText && c.Output != OutputJSON {
		return fmt.Errorf("output must be %s or %s, got %q", OutputText, OutputJSON, c.Output)
	}
	if c.InitialReconnectDelay <= 0 || c.MaxReconnectDelay < c.InitialReconnectDelay {
		return fmt.Errorf("reconnect delays must satisfy 0 < initial <= max")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}

	return nil
}

// Masked returns a copy safe to log.
func (c Config) Masked() Config {
	if c.TenantKey != "" {
		c.TenantKey = "*****"
	}
	return c
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
