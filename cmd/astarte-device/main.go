// Astarte Device - property-synchronising device client for Astarte.
//
// This is the main entry point for the device client. It:
//   - Pairs with the Astarte pairing API (CSR -> client certificate)
//   - Discovers and connects to the MQTT broker with mutual TLS
//   - Keeps device and server properties in a local SQLite cache
//   - Resends cached state whenever the broker session is lost
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/astarte-device-core/migrations"

	"github.com/nerrad567/astarte-device-core/internal/codec"
	"github.com/nerrad567/astarte-device-core/internal/infrastructure/config"
	"github.com/nerrad567/astarte-device-core/internal/infrastructure/database"
	"github.com/nerrad567/astarte-device-core/internal/infrastructure/logging"
	"github.com/nerrad567/astarte-device-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/astarte-device-core/internal/infrastructure/tracing"
	"github.com/nerrad567/astarte-device-core/internal/pairing"
	"github.com/nerrad567/astarte-device-core/internal/propcache"
	"github.com/nerrad567/astarte-device-core/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds flushing of traces on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1) //nolint:gocritic // cancel only releases the signal handler
	}
}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
}

// newRootCommand creates the root command. Without a subcommand it runs
// the device.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "astarte-device",
		Short:         "Astarte device client",
		Long:          "Pairs with Astarte, connects to its broker and keeps device properties in sync.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", getConfigPath(),
		"path to config file (env ASTARTE_CONFIG)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newPairCommand(opts))
	cmd.AddCommand(newPropertiesCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newDeviceIDCommand())

	return cmd
}

// run is the device application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log.Info("starting Astarte device",
		"commit", commit,
		"build_date", date,
		"realm", cfg.Device.Realm,
		"device_id", cfg.Device.DeviceID,
	)

	shutdownTracing, err := startTracing(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	db, store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	creds, err := pairDevice(ctx, cfg, log)
	if err != nil {
		return err
	}
	log.Info("device paired", "broker", creds.BrokerURL)

	initial, maxDelay := cfg.GetReconnectDelays()
	tlsConfig := creds.TLSConfig()
	tlsConfig.InsecureSkipVerify = cfg.MQTT.IgnoreSSLErrors //nolint:gosec // explicit opt-in for test brokers

	client := mqtt.New(mqtt.Options{
		BrokerURL:             creds.BrokerURL,
		ClientID:              cfg.Device.Realm + "/" + cfg.Device.DeviceID,
		TLSConfig:             tlsConfig,
		KeepAlive:             cfg.GetKeepAlive(),
		ReconnectInitialDelay: initial,
		ReconnectMaxDelay:     maxDelay,
	})
	client.SetLogger(log.Component("mqtt"))

	sess, err := session.New(client, store, codec.NewCBOR(), sessionOptions(cfg, log))
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0-2
	client.SetOnConnect(func() {
		if syncErr := synchronise(ctx, client, sess, qos); syncErr != nil {
			log.Error("property synchronisation failed", "error", syncErr)
		}
	})
	client.SetOnDisconnect(func(lostErr error) {
		log.Warn("MQTT connection lost", "error", lostErr)
	})

	if err := client.Start(); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected", "introspection", sess.Introspection())

	if err := healthCheck(ctx, db, client); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("Astarte device started successfully")

	<-ctx.Done()
	log.Info("shutdown signal received, stopping...")

	return nil
}

// healthCheck verifies the database and broker connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - client: MQTT client to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, client *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}

// synchronise subscribes to the session topics not yet tracked and
// announces the device. Sessions are always clean, so every connection is a
// full resync.
func synchronise(ctx context.Context, client *mqtt.Client, sess *session.Session, qos byte) error {
	for _, topic := range sess.SubscriptionTopics() {
		if client.HasSubscription(topic) {
			continue
		}
		if err := client.Subscribe(topic, qos, sess.MessageHandler(ctx)); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	return sess.OnConnect(ctx, false)
}

// loadConfig reads the configuration and builds the configured logger.
func loadConfig(configPath string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Debug("configuration loaded", "path", configPath)
	return cfg, log, nil
}

// startTracing installs the OTLP tracer provider when enabled. The returned
// function flushes and stops it.
func startTracing(ctx context.Context, cfg *config.Config, log *logging.Logger) (func(), error) {
	provider, err := tracing.Setup(ctx, cfg.Tracing, version)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	if provider.Enabled() {
		log.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "protocol", cfg.Tracing.Protocol)
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Error("error shutting down tracing", "error", err)
		}
	}, nil
}

// openDatabase opens the configured database without migrating it.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Driver:      cfg.Database.Driver,
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", db.Path(), "driver", db.Driver())
	return db, nil
}

// openStore opens and migrates the database and builds the property cache.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *propcache.Cache, error) {
	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	repo, err := propcache.NewSQLiteRepository(ctx, db.DB, db.Driver())
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("creating property repository: %w", err)
	}

	store, err := propcache.New(repo, codec.NewCBOR(), propcache.Options{
		DecodeCacheSize: cfg.Database.DecodeCacheSize,
		Logger:          log.Component("propcache"),
	})
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("creating property cache: %w", err)
	}

	return db, store, nil
}

// pairDevice obtains a client certificate and the broker URL.
func pairDevice(ctx context.Context, cfg *config.Config, log *logging.Logger) (*pairing.Credentials, error) {
	client := pairing.NewClient(pairing.Config{
		Realm:             cfg.Device.Realm,
		DeviceID:          cfg.Device.DeviceID,
		CredentialsSecret: cfg.Device.CredentialsSecret,
		PairingURL:        cfg.Device.PairingURL,
	}, pairing.WithLogger(log.Component("pairing")))

	creds, err := client.Pair(ctx)
	if err != nil {
		return nil, fmt.Errorf("pairing device: %w", err)
	}
	return creds, nil
}

// sessionOptions maps the configured introspection onto session options.
func sessionOptions(cfg *config.Config, log *logging.Logger) session.Options {
	interfaces := make([]session.Interface, 0, len(cfg.Device.Interfaces))
	for _, iface := range cfg.Device.Interfaces {
		interfaces = append(interfaces, session.Interface{
			Name:      iface.Name,
			Major:     iface.Major,
			Minor:     iface.Minor,
			Ownership: session.Ownership(iface.Ownership),
		})
	}

	return session.Options{
		Realm:      cfg.Device.Realm,
		DeviceID:   cfg.Device.DeviceID,
		Interfaces: interfaces,
		QoS:        byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		Logger:     log.Component("session"),
	}
}

// getConfigPath returns the configuration file path.
// Checks ASTARTE_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("ASTARTE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
