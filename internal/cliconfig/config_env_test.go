package cliconfig

import (
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"OPSTREAM_SERVICE_URL":       "ws://env/socket",
				"OPSTREAM_STORAGE_URL":       "http://env",
				"OPSTREAM_TENANT":            "env-tenant",
				"OPSTREAM_DOCUMENT":          "env-doc",
				"OPSTREAM_TENANT_KEY":        "secret",
				"OPSTREAM_USER":              "alice",
				"OPSTREAM_MODE":              "write",
				"OPSTREAM_RECONNECT_DELAY":   "2s",
				"OPSTREAM_NOOP_DELAY":        "500ms",
				"OPSTREAM_FETCH_BATCH_SIZE":  "100",
				"OPSTREAM_DISABLE_RECONNECT": "1",
				"OPSTREAM_LOG_LEVEL":         "debug",
				"OPSTREAM_OUTPUT":            "json",
			},
			changed: map[string]bool{},
			expected: Config{
				ServiceURL:            "ws://env/socket",
				StorageURL:            "http://env",
				TenantID:              "env-tenant",
				DocumentID:            "env-doc",
				TenantKey:             "secret",
				UserID:                "alice",
				Mode:                  "write",
				InitialReconnectDelay: 2 * time.Second,
				NoOpDelay:             500 * time.Millisecond,
				FetchBatchSize:        100,
				DisableReconnect:      true,
				LogLevel:              "debug",
				Output:                "json",
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"OPSTREAM_TENANT":   "env-tenant",
				"OPSTREAM_DOCUMENT": "env-doc",
			},
			changed:  map[string]bool{"tenant": true},
			initial:  Config{TenantID: "flag-tenant"},
			expected: Config{TenantID: "flag-tenant", DocumentID: "env-doc"},
		},
		{
			name:    "returns error for invalid duration",
			envVars: map[string]string{"OPSTREAM_NOOP_DELAY": "not-a-duration"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid int",
			envVars: map[string]string{"OPSTREAM_FETCH_BATCH_SIZE": "not-a-number"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:     "handles bool 'false' as false",
			envVars:  map[string]string{"OPSTREAM_DISABLE_RECONNECT": "false"},
			changed:  map[string]bool{},
			initial:  Config{DisableReconnect: true},
			expected: Config{DisableReconnect: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyEnvConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnvConfig() unexpected error: %v", err)
			}
			if cfg != tt.expected {
				t.Errorf("ApplyEnvConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}
