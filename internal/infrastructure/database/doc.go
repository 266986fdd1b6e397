// Package database provides SQLite connectivity for the Astarte device client.
//
// This package manages:
//   - Connection setup for either SQLite driver (mattn "sqlite3" or modernc "sqlite")
//   - WAL mode and busy timeout configuration
//   - Embedded schema migrations
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// The pool is limited to one connection. SQLite serialises writers anyway,
// and a single connection keeps a ":memory:" database alive until Close.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Driver:      cfg.Database.Driver,
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are embedded by the top-level migrations package and applied in
// filename order. Each file pair is named YYYYMMDD_HHMMSS_name.up.sql and
// YYYYMMDD_HHMMSS_name.down.sql.
package database
