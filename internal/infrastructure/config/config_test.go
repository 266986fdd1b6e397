package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validDevice returns a device section that passes validation.
func validDevice() DeviceConfig {
	return DeviceConfig{
		Realm:             "test",
		DeviceID:          "2TBn-jNESuuHamE2Zo1anA",
		CredentialsSecret: "c2VjcmV0",
		PairingURL:        "https://api.example.com/pairing",
		Interfaces: []InterfaceConfig{
			{Name: "org.example.Settings", Major: 1, Minor: 0, Ownership: OwnershipServer},
		},
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
device:
  realm: "test"
  device_id: "2TBn-jNESuuHamE2Zo1anA"
  credentials_secret: "c2VjcmV0"
  pairing_url: "https://api.example.com/pairing/"
  interfaces:
    - name: "org.example.Settings"
      major: 1
      minor: 2
      ownership: "server"
    - name: "org.example.Status"
      major: 0
      minor: 1
      ownership: "device"
database:
  driver: "sqlite"
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  qos: 1
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Realm != "test" {
		t.Errorf("Device.Realm = %q, want %q", cfg.Device.Realm, "test")
	}
	if len(cfg.Device.Interfaces) != 2 {
		t.Fatalf("len(Device.Interfaces) = %d, want 2", len(cfg.Device.Interfaces))
	}
	if cfg.Device.Interfaces[0].Minor != 2 {
		t.Errorf("Interfaces[0].Minor = %d, want 2", cfg.Device.Interfaces[0].Minor)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverSQLite)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	// Untouched sections keep their defaults
	if cfg.Database.DecodeCacheSize != 256 {
		t.Errorf("Database.DecodeCacheSize = %d, want default 256", cfg.Database.DecodeCacheSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_SecretFromEnvironment(t *testing.T) {
	content := `
device:
  realm: "test"
  device_id: "2TBn-jNESuuHamE2Zo1anA"
  pairing_url: "https://api.example.com/pairing"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected validation error without a secret")
	}

	t.Setenv("ASTARTE_CREDENTIALS_SECRET", "from-env")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.CredentialsSecret != "from-env" {
		t.Errorf("CredentialsSecret = %q, want %q", cfg.Device.CredentialsSecret, "from-env")
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Device = validDevice()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing realm",
			mutate:  func(c *Config) { c.Device.Realm = "" },
			wantErr: "device.realm",
		},
		{
			name:    "missing device id",
			mutate:  func(c *Config) { c.Device.DeviceID = "" },
			wantErr: "device.device_id",
		},
		{
			name:    "missing secret",
			mutate:  func(c *Config) { c.Device.CredentialsSecret = "" },
			wantErr: "credentials_secret",
		},
		{
			name:    "missing pairing url",
			mutate:  func(c *Config) { c.Device.PairingURL = "" },
			wantErr: "pairing_url",
		},
		{
			name: "duplicate interface",
			mutate: func(c *Config) {
				c.Device.Interfaces = append(c.Device.Interfaces, c.Device.Interfaces[0])
			},
			wantErr: "duplicate interface",
		},
		{
			name:    "bad ownership",
			mutate:  func(c *Config) { c.Device.Interfaces[0].Ownership = "both" },
			wantErr: "ownership",
		},
		{
			name:    "zero version",
			mutate:  func(c *Config) { c.Device.Interfaces[0].Major = 0 },
			wantErr: "version 0.0",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "database.driver",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "tracing without endpoint",
			mutate:  func(c *Config) { c.Tracing.Enabled = true },
			wantErr: "tracing.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("ASTARTE_REALM", "env-realm")
	t.Setenv("ASTARTE_DEVICE_ID", "env-device")
	t.Setenv("ASTARTE_CREDENTIALS_SECRET", "env-secret")
	t.Setenv("ASTARTE_PAIRING_URL", "http://localhost:4003")
	t.Setenv("ASTARTE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("ASTARTE_OTLP_ENDPOINT", "localhost:4317")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Device.Realm", cfg.Device.Realm, "env-realm"},
		{"Device.DeviceID", cfg.Device.DeviceID, "env-device"},
		{"Device.CredentialsSecret", cfg.Device.CredentialsSecret, "env-secret"},
		{"Device.PairingURL", cfg.Device.PairingURL, "http://localhost:4003"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"Tracing.Endpoint", cfg.Tracing.Endpoint, "localhost:4317"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetKeepAlive().Seconds(); got != 30 {
		t.Errorf("GetKeepAlive() = %v, want 30s", got)
	}

	initial, maxDelay := cfg.GetReconnectDelays()
	if initial.Seconds() != 1 || maxDelay.Seconds() != 60 {
		t.Errorf("GetReconnectDelays() = %v, %v, want 1s, 60s", initial, maxDelay)
	}
}
