package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/astarte-device-core/internal/codec"
	"github.com/nerrad567/astarte-device-core/internal/infrastructure/database"
	"github.com/nerrad567/astarte-device-core/internal/pairing"
	"github.com/nerrad567/astarte-device-core/internal/propcache"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Pair, connect and keep properties in sync until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
}

func newPairCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Request a client certificate and print the broker URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			shutdownTracing, err := startTracing(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer shutdownTracing()

			creds, err := pairDevice(ctx, cfg, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "broker:  %s\n", creds.BrokerURL)
			if leaf := creds.Certificate.Leaf; leaf != nil {
				fmt.Fprintf(out, "subject: %s\n", leaf.Subject.CommonName)
				fmt.Fprintf(out, "expires: %s\n", leaf.NotAfter.UTC().Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
}

func newPropertiesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "properties",
		Short: "Inspect or reset the local property cache",
	}
	cmd.AddCommand(newPropertiesListCommand(opts))
	cmd.AddCommand(newPropertiesClearCommand(opts))
	return cmd
}

// propertyEntry is one row of `properties list`.
type propertyEntry struct {
	Interface string `json:"interface"`
	Path      string `json:"path"`
	Major     int32  `json:"major"`
	Value     string `json:"value"`
}

func newPropertiesListCommand(opts *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached properties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			db, store, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only command

			rows, err := store.ListAllProperties(ctx)
			if err != nil {
				return fmt.Errorf("listing properties: %w", err)
			}

			return printProperties(cmd.OutOrStdout(), propertyEntries(rows, codec.NewCBOR()), jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func newPropertiesClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached property",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			db, store, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // nothing left to flush

			rows, err := store.ListAllProperties(ctx)
			if err != nil {
				return fmt.Errorf("listing properties: %w", err)
			}
			if err := store.Clear(ctx); err != nil {
				return fmt.Errorf("clearing properties: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d properties\n", len(rows))
			return nil
		},
	}
}

// propertyEntries renders stored rows for display. Values that do not
// decode are shown as an error marker rather than failing the listing.
func propertyEntries(rows []propcache.StoredProperty, c codec.Codec) []propertyEntry {
	entries := make([]propertyEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, propertyEntry{
			Interface: row.Interface,
			Path:      row.Path,
			Major:     row.InterfaceMajor,
			Value:     displayValue(row.Value, c),
		})
	}
	return entries
}

func displayValue(raw []byte, c codec.Codec) string {
	decoded, err := c.Decode(raw)
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}

	switch d := decoded.(type) {
	case codec.Individual:
		if d.Value.IsUnset() {
			return "<unset>"
		}
		return d.Value.String()
	case codec.Object:
		return fmt.Sprintf("<object with %d fields>", len(d.Fields))
	default:
		return "<unknown>"
	}
}

func printProperties(w io.Writer, entries []propertyEntry, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "INTERFACE\tPATH\tMAJOR\tVALUE\n")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.Interface, e.Path, e.Major, e.Value)
	}
	return tw.Flush()
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(newMigrateStepCommand(opts, "up", "Apply all pending migrations",
		func(ctx context.Context, db *database.DB) error { return db.Migrate(ctx) }))
	cmd.AddCommand(newMigrateStepCommand(opts, "down", "Roll back the most recent migration",
		func(ctx context.Context, db *database.DB) error { return db.MigrateDown(ctx) }))
	cmd.AddCommand(newMigrateStepCommand(opts, "status", "Show applied and pending migrations", nil))
	return cmd
}

// newMigrateStepCommand runs step against the configured database, then
// prints the resulting migration status. A nil step only prints.
func newMigrateStepCommand(opts *rootOptions, use, short string, step func(context.Context, *database.DB) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			db, err := openDatabase(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // migrations commit per step

			if step != nil {
				if err := step(ctx, db); err != nil {
					return fmt.Errorf("migrate %s: %w", use, err)
				}
			}

			applied, pending, err := db.GetMigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}
			printMigrations(cmd.OutOrStdout(), applied, pending)
			return nil
		},
	}
}

func printMigrations(w io.Writer, applied []database.MigrationRecord, pending []database.Migration) {
	for _, m := range applied {
		fmt.Fprintf(w, "applied  %s  %s\n", m.Version, m.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
	}
}

func newDeviceIDCommand() *cobra.Command {
	var namespace, data string
	cmd := &cobra.Command{
		Use:   "device-id",
		Short: "Print a new device ID",
		Long: "Prints a random device ID, or a deterministic one derived from " +
			"--namespace and --data when --data is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := deviceID(namespace, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "UUID namespace for a deterministic ID")
	cmd.Flags().StringVar(&data, "data", "", "unique device data, e.g. a MAC address")
	return cmd
}

func deviceID(namespace, data string) (string, error) {
	if data == "" {
		if namespace != "" {
			return "", fmt.Errorf("--namespace requires --data")
		}
		return pairing.RandomDeviceID()
	}

	ns, err := uuid.Parse(namespace)
	if err != nil {
		return "", fmt.Errorf("parsing --namespace: %w", err)
	}
	return pairing.GenerateDeviceID(ns, []byte(data)), nil
}
