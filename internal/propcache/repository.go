package propcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository persists raw property rows.
// This abstraction allows for different implementations (SQLite, memory)
// and enables unit testing without database dependencies.
type Repository interface {
	// Get retrieves the row for (iface, path).
	// Returns ErrPropertyNotFound if the row does not exist.
	Get(ctx context.Context, iface, path string) (*StoredProperty, error)

	// Put inserts the row or fully replaces an existing one.
	Put(ctx context.Context, p StoredProperty) error

	// Delete removes the row for (iface, path). Deleting a missing row is not an error.
	Delete(ctx context.Context, iface, path string) error

	// Clear removes every row.
	Clear(ctx context.Context) error

	// List returns every row ordered by interface then path.
	List(ctx context.Context) ([]StoredProperty, error)
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS propcache (
		interface       TEXT    NOT NULL,
		path            TEXT    NOT NULL,
		value           BLOB    NOT NULL,
		interface_major INTEGER NOT NULL,
		PRIMARY KEY (interface, path)
	)`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository creates a SQLite-backed repository and creates the
// propcache table if it does not exist yet.
//
// Parameters:
//   - db: An open connection from either SQLite driver
//   - driverName: The driver the connection was opened with ("sqlite3" or "sqlite")
func NewSQLiteRepository(ctx context.Context, db *sql.DB, driverName string) (*SQLiteRepository, error) {
	xdb := sqlx.NewDb(db, driverName)
	if _, err := xdb.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("creating propcache table: %w", err)
	}
	return &SQLiteRepository{db: xdb}, nil
}

// Get retrieves the row for (iface, path).
func (r *SQLiteRepository) Get(ctx context.Context, iface, path string) (*StoredProperty, error) {
	var p StoredProperty
	err := r.db.GetContext(ctx, &p,
		`SELECT interface, path, value, interface_major FROM propcache WHERE interface = ? AND path = ?`,
		iface, path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPropertyNotFound
		}
		return nil, fmt.Errorf("querying property: %w", err)
	}
	return &p, nil
}

// Put inserts or replaces the row for (p.Interface, p.Path).
func (r *SQLiteRepository) Put(ctx context.Context, p StoredProperty) error {
	// A nil slice binds as NULL and would violate NOT NULL; the unset
	// marker is a zero-length blob.
	if p.Value == nil {
		p.Value = []byte{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO propcache (interface, path, value, interface_major)
		VALUES (:interface, :path, :value, :interface_major)`, p)
	if err != nil {
		return fmt.Errorf("storing property: %w", err)
	}
	return nil
}

// Delete removes the row for (iface, path) if present.
func (r *SQLiteRepository) Delete(ctx context.Context, iface, path string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM propcache WHERE interface = ? AND path = ?`, iface, path)
	if err != nil {
		return fmt.Errorf("deleting property: %w", err)
	}
	return nil
}

// Clear removes every row.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM propcache`); err != nil {
		return fmt.Errorf("clearing properties: %w", err)
	}
	return nil
}

// List returns every row ordered by interface then path.
func (r *SQLiteRepository) List(ctx context.Context) ([]StoredProperty, error) {
	props := []StoredProperty{}
	err := r.db.SelectContext(ctx, &props,
		`SELECT interface, path, value, interface_major FROM propcache ORDER BY interface, path`)
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}
	return props, nil
}
