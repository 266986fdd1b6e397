package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Astarte device client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// DeviceConfig identifies the device towards the Astarte pairing service.
type DeviceConfig struct {
	Realm    string `yaml:"realm"`
	DeviceID string `yaml:"device_id"`

	// CredentialsSecret is the bearer secret obtained at registration time.
	// Prefer ASTARTE_CREDENTIALS_SECRET over storing it in the file.
	CredentialsSecret string `yaml:"credentials_secret"`

	// PairingURL is the base URL of the pairing API, with or without a
	// trailing slash (e.g. "https://api.astarte.example.com/pairing").
	PairingURL string `yaml:"pairing_url"`

	// Interfaces is the device introspection.
	Interfaces []InterfaceConfig `yaml:"interfaces"`
}

// InterfaceConfig declares one interface of the device introspection.
type InterfaceConfig struct {
	Name  string `yaml:"name"`
	Major int32  `yaml:"major"`
	Minor int32  `yaml:"minor"`
	// Ownership is "device" or "server".
	Ownership string `yaml:"ownership"`
}

// DatabaseConfig contains property cache storage settings.
type DatabaseConfig struct {
	// Driver selects the SQLite driver: "sqlite3" (cgo) or "sqlite" (pure Go).
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// DecodeCacheSize bounds the LRU of decoded property values. Rows are
	// always read from the database. Zero disables it.
	DecodeCacheSize int `yaml:"decode_cache_size"`
}

// MQTTConfig contains broker session settings. The broker address itself
// is discovered through the pairing API.
type MQTTConfig struct {
	QoS             int                 `yaml:"qos"`
	KeepAlive       int                 `yaml:"keepalive"`
	Reconnect       MQTTReconnectConfig `yaml:"reconnect"`
	IgnoreSSLErrors bool                `yaml:"ignore_ssl_errors"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig contains OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Protocol    string `yaml:"protocol"` // "grpc" or "http"
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Supported database drivers.
const (
	DriverSQLite3 = "sqlite3"
	DriverSQLite  = "sqlite"
)

// Interface ownership values.
const (
	OwnershipDevice = "device"
	OwnershipServer = "server"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ASTARTE_KEY
// For example: ASTARTE_REALM, ASTARTE_DATABASE_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverSQLite3,
			Path:            "./data/astarte.db",
			WALMode:         true,
			BusyTimeout:     5,
			DecodeCacheSize: 256,
		},
		MQTT: MQTTConfig{
			QoS:       2,
			KeepAlive: 30,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			Protocol:    "grpc",
			ServiceName: "astarte-device",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASTARTE_REALM"); v != "" {
		cfg.Device.Realm = v
	}
	if v := os.Getenv("ASTARTE_DEVICE_ID"); v != "" {
		cfg.Device.DeviceID = v
	}
	// Secret - prefer the environment so it stays out of config files
	if v := os.Getenv("ASTARTE_CREDENTIALS_SECRET"); v != "" {
		cfg.Device.CredentialsSecret = v
	}
	if v := os.Getenv("ASTARTE_PAIRING_URL"); v != "" {
		cfg.Device.PairingURL = v
	}

	if v := os.Getenv("ASTARTE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("ASTARTE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

// Validate checks the configuration for errors.
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	// Device identity
	if c.Device.Realm == "" {
		errs = append(errs, "device.realm is required")
	}
	if c.Device.DeviceID == "" {
		errs = append(errs, "device.device_id is required")
	}
	if c.Device.CredentialsSecret == "" {
		errs = append(errs, "device.credentials_secret is required (set ASTARTE_CREDENTIALS_SECRET environment variable)")
	}
	if c.Device.PairingURL == "" {
		errs = append(errs, "device.pairing_url is required")
	}

	seen := make(map[string]bool, len(c.Device.Interfaces))
	for i, iface := range c.Device.Interfaces {
		switch {
		case iface.Name == "":
			errs = append(errs, fmt.Sprintf("device.interfaces[%d].name is required", i))
		case seen[iface.Name]:
			errs = append(errs, fmt.Sprintf("device.interfaces[%d]: duplicate interface %q", i, iface.Name))
		}
		seen[iface.Name] = true

		if iface.Major < 0 || iface.Minor < 0 {
			errs = append(errs, fmt.Sprintf("device.interfaces[%d]: version must not be negative", i))
		}
		if iface.Major == 0 && iface.Minor == 0 {
			errs = append(errs, fmt.Sprintf("device.interfaces[%d]: version 0.0 is not valid", i))
		}
		if iface.Ownership != OwnershipDevice && iface.Ownership != OwnershipServer {
			errs = append(errs, fmt.Sprintf("device.interfaces[%d].ownership must be %q or %q", i, OwnershipDevice, OwnershipServer))
		}
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.Driver != DriverSQLite3 && c.Database.Driver != DriverSQLite {
		errs = append(errs, fmt.Sprintf("database.driver must be %q or %q", DriverSQLite3, DriverSQLite))
	}
	if c.Database.DecodeCacheSize < 0 {
		errs = append(errs, "database.decode_cache_size must not be negative")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, "tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.Protocol != "" && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		errs = append(errs, "tracing.protocol must be grpc or http")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetKeepAlive returns the MQTT keepalive interval as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.MQTT.KeepAlive) * time.Second
}

// GetReconnectDelays returns the initial and maximum MQTT reconnect delays.
func (c *Config) GetReconnectDelays() (initial, maxDelay time.Duration) {
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Second,
		time.Duration(c.MQTT.Reconnect.MaxDelay) * time.Second
}
