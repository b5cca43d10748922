package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (OPSTREAM_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("service-url", os.Getenv("OPSTREAM_SERVICE_URL"), &cfg.ServiceURL)
	s.setString("storage-url", os.Getenv("OPSTREAM_STORAGE_URL"), &cfg.StorageURL)
	s.setString("tenant", os.Getenv("OPSTREAM_TENANT"), &cfg.TenantID)
	s.setString("document", os.Getenv("OPSTREAM_DOCUMENT"), &cfg.DocumentID)
	s.setString("tenant-key", os.Getenv("OPSTREAM_TENANT_KEY"), &cfg.TenantKey)
	s.setString("user", os.Getenv("OPSTREAM_USER"), &cfg.UserID)
	s.setString("mode", os.Getenv("OPSTREAM_MODE"), &cfg.Mode)
	s.setString("client-type", os.Getenv("OPSTREAM_CLIENT_TYPE"), &cfg.ClientType)
	s.setString("archive", os.Getenv("OPSTREAM_ARCHIVE"), &cfg.ArchivePath)
	s.setString("checkpoint", os.Getenv("OPSTREAM_CHECKPOINT"), &cfg.CheckpointPath)
	s.setString("metrics-addr", os.Getenv("OPSTREAM_METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("log-level", os.Getenv("OPSTREAM_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("output", os.Getenv("OPSTREAM_OUTPUT"), &cfg.Output)

	if err := s.setDuration("reconnect-delay", os.Getenv("OPSTREAM_RECONNECT_DELAY"), &cfg.InitialReconnectDelay); err != nil {
		return err
	}
	if err := s.setDuration("max-reconnect-delay", os.Getenv("OPSTREAM_MAX_RECONNECT_DELAY"), &cfg.MaxReconnectDelay); err != nil {
		return err
	}
	if err := s.setDuration("noop-delay", os.Getenv("OPSTREAM_NOOP_DELAY"), &cfg.NoOpDelay); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("OPSTREAM_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString("batch-size", os.Getenv("OPSTREAM_FETCH_BATCH_SIZE"), &cfg.FetchBatchSize); err != nil {
		return err
	}
	s.setBoolFromString("no-reconnect", os.Getenv("OPSTREAM_DISABLE_RECONNECT"), &cfg.DisableReconnect)

	return nil
}
