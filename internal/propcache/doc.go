// Package propcache persists the last known value of every device property.
//
// Rows are keyed by (interface, path) and record the interface major version
// in force when the value was written. Reading with a different major
// version deletes the row and reports it as absent, so a value is never
// returned under a schema it was not written for.
//
// An empty value is the explicit unset marker. It is stored as a row and
// loads as codec.Unset(), distinct from a property that was never stored.
//
// Layers:
//   - Repository: raw row storage (SQLiteRepository, MemoryRepository)
//   - Cache: the Store implementation, decoding values through a codec.Codec.
//     Every load reads the repository, so processes sharing one database
//     file see each other's writes. An optional LRU memoises decoded
//     values by their encoded bytes.
//
// Usage:
//
//	repo, err := propcache.NewSQLiteRepository(ctx, db.DB, db.Driver())
//	if err != nil {
//	    return err
//	}
//	store, err := propcache.New(repo, codec.NewCBOR(), propcache.Options{
//	    DecodeCacheSize: cfg.Database.DecodeCacheSize,
//	    Logger:          log.Component("propcache"),
//	})
//
// No operation retries. Resilience belongs to the caller.
package propcache
