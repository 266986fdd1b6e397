package propcache

import "errors"

// Domain-specific errors for the property cache.
var (
	// ErrPropertyNotFound is returned by a Repository when no row exists
	// for an (interface, path) key. Store.LoadProperty reports absence with
	// its bool result instead.
	ErrPropertyNotFound = errors.New("propcache: property not found")

	// ErrAggregateProperty is returned when a stored value decodes to an
	// object. Properties only ever hold individual values, so this means
	// whoever wrote the row is broken.
	ErrAggregateProperty = errors.New("propcache: stored property holds an object value")
)
