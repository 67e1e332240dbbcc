package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-resilienced
network:
  probe_url: https://probe.example.com/204
  reassess_interval: 10s
lifecycle:
  suspend_after: 45s
storage:
  path: /tmp/test-kv.db
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-resilienced" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-resilienced")
	}
	if cfg.Network.ProbeURL != "https://probe.example.com/204" {
		t.Errorf("Network.ProbeURL = %q, want %q", cfg.Network.ProbeURL, "https://probe.example.com/204")
	}
	if cfg.Network.ReassessInterval != 10*time.Second {
		t.Errorf("Network.ReassessInterval = %v, want 10s", cfg.Network.ReassessInterval)
	}
	if cfg.Lifecycle.SuspendAfter != 45*time.Second {
		t.Errorf("Lifecycle.SuspendAfter = %v, want 45s", cfg.Lifecycle.SuspendAfter)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_PROBE_URL", "https://sub.example.com/gen204")

	yaml := `
instance:
  id: test-resilienced
network:
  probe_url: ${TEST_PROBE_URL}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Network.ProbeURL != "https://sub.example.com/gen204" {
		t.Errorf("Network.ProbeURL = %q, want substituted value", cfg.Network.ProbeURL)
	}
}

func TestLoadWithEnvOverlay(t *testing.T) {
	t.Setenv("RESILIENCE_STORAGE_PATH", "/var/lib/resilience/kv.db")
	t.Setenv("RESILIENCE_HEALTH_PORT", "9191")

	yaml := `
instance:
  id: test-resilienced
storage:
  path: /tmp/from-file.db
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Storage.Path != "/var/lib/resilience/kv.db" {
		t.Errorf("Storage.Path = %q, want env override", cfg.Storage.Path)
	}
	if cfg.Health.Port != 9191 {
		t.Errorf("Health.Port = %d, want 9191", cfg.Health.Port)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-resilienced
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Network.ProbeURL != DefaultProbeURL {
		t.Errorf("Network.ProbeURL = %q, want default %q", cfg.Network.ProbeURL, DefaultProbeURL)
	}
	if cfg.Network.ReassessInterval != DefaultReassessInterval {
		t.Errorf("Network.ReassessInterval = %v, want default %v", cfg.Network.ReassessInterval, DefaultReassessInterval)
	}
	if cfg.Network.LatencyWeight != DefaultLatencyWeight {
		t.Errorf("Network.LatencyWeight = %v, want default %v", cfg.Network.LatencyWeight, DefaultLatencyWeight)
	}
	if cfg.Breaker.BaseFailureThreshold != DefaultFailureThreshold {
		t.Errorf("Breaker.BaseFailureThreshold = %d, want default %d", cfg.Breaker.BaseFailureThreshold, DefaultFailureThreshold)
	}
	if cfg.Lifecycle.SuspendAfter != DefaultSuspendAfter {
		t.Errorf("Lifecycle.SuspendAfter = %v, want default %v", cfg.Lifecycle.SuspendAfter, DefaultSuspendAfter)
	}
	if cfg.Resource.LowBatteryThreshold != DefaultLowBatteryThreshold {
		t.Errorf("Resource.LowBatteryThreshold = %d, want default %d", cfg.Resource.LowBatteryThreshold, DefaultLowBatteryThreshold)
	}
	if cfg.Health.Port != DefaultHealthPort {
		t.Errorf("Health.Port = %d, want default %d", cfg.Health.Port, DefaultHealthPort)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{}
		cfg.Instance.ID = "test"
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name: "weights do not sum to one",
			mutate: func(c *Config) {
				c.Network.LatencyWeight = 0.5
				c.Network.StabilityWeight = 0.5
				c.Network.ThroughputWeight = 0.5
			},
			wantErr: "network score weights must sum to 1.0, got 1.500",
		},
		{
			name:    "history too small",
			mutate:  func(c *Config) { c.Network.HistorySize = 1 },
			wantErr: "network.history_size must be >= 2",
		},
		{
			name: "stop threshold below backoff threshold",
			mutate: func(c *Config) {
				c.Fallback.BackoffAfterFailures = 5
				c.Fallback.StopAfterFailures = 3
			},
			wantErr: "fallback.stop_after_failures (3) must exceed backoff_after_failures (5)",
		},
		{
			name:    "cleanup before suspend",
			mutate:  func(c *Config) { c.Lifecycle.CleanupAfter = 10 * time.Second },
			wantErr: "lifecycle.cleanup_after must exceed suspend_after",
		},
		{
			name:    "battery threshold out of range",
			mutate:  func(c *Config) { c.Resource.LowBatteryThreshold = 150 },
			wantErr: "resource.low_battery_threshold must be between 1 and 100, got 150",
		},
		{
			name:    "invalid health port",
			mutate:  func(c *Config) { c.Health.Port = 70000 },
			wantErr: "health.port must be between 1 and 65535, got 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
