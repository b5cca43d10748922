package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config but uses strings for durations to keep files friendly.
type FileConfig struct {
	ServiceURL            string `toml:"service_url" yaml:"service_url"`
	StorageURL            string `toml:"storage_url" yaml:"storage_url"`
	TenantID              string `toml:"tenant" yaml:"tenant"`
	DocumentID            string `toml:"document" yaml:"document"`
	TenantKey             string `toml:"tenant_key" yaml:"tenant_key"`
	UserID                string `toml:"user" yaml:"user"`
	Mode                  string `toml:"mode" yaml:"mode"`
	ClientType            string `toml:"client_type" yaml:"client_type"`
	DisableReconnect      *bool  `toml:"disable_reconnect" yaml:"disable_reconnect"`
	InitialReconnectDelay string `toml:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectDelay     string `toml:"max_reconnect_delay" yaml:"max_reconnect_delay"`
	NoOpDelay             string `toml:"noop_delay" yaml:"noop_delay"`
	HTTPTimeout           string `toml:"http_timeout" yaml:"http_timeout"`
	FetchBatchSize        int    `toml:"fetch_batch_size" yaml:"fetch_batch_size"`
	ArchivePath           string `toml:"archive" yaml:"archive"`
	CheckpointPath        string `toml:"checkpoint" yaml:"checkpoint"`
	MetricsAddr           string `toml:"metrics_addr" yaml:"metrics_addr"`
	LogLevel              string `toml:"log_level" yaml:"log_level"`
	Output                string `toml:"output" yaml:"output"`
}

// LoadFileConfig reads and parses a config file. Files ending in .yaml or
// .yml are parsed as YAML, anything else as TOML.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = toml.Unmarshal(b, &fc)
	}
	if err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.opstream/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".opstream", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("storage-url", fc.StorageURL, &cfg.StorageURL)
	s.setString("tenant", fc.TenantID, &cfg.TenantID)
	s.setString("document", fc.DocumentID, &cfg.DocumentID)
	s.setString("tenant-key", fc.TenantKey, &cfg.TenantKey)
	s.setString("user", fc.UserID, &cfg.UserID)
	s.setString("mode", fc.Mode, &cfg.Mode)
	s.setString("client-type", fc.ClientType, &cfg.ClientType)
	s.setString("archive", fc.ArchivePath, &cfg.ArchivePath)
	s.setString("checkpoint", fc.CheckpointPath, &cfg.CheckpointPath)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("output", fc.Output, &cfg.Output)

	if err := s.setDuration("reconnect-delay", fc.InitialReconnectDelay, &cfg.InitialReconnectDelay); err != nil {
		return err
	}
	if err := s.setDuration("max-reconnect-delay", fc.MaxReconnectDelay, &cfg.MaxReconnectDelay); err != nil {
		return err
	}
	if err := s.setDuration("noop-delay", fc.NoOpDelay, &cfg.NoOpDelay); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setInt("batch-size", fc.FetchBatchSize, &cfg.FetchBatchSize)
	s.setBool("no-reconnect", fc.DisableReconnect, &cfg.DisableReconnect)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
