package propcache

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nerrad567/astarte-device-core/internal/codec"
)

// Store is the property cache used by the rest of the device client.
//
// All operations are single shots with no internal retry. Storage errors
// are returned wrapped, so errors.Is and errors.As still see the engine error.
type Store interface {
	// StoreProperty inserts or fully replaces the value and major version of
	// (iface, path). An empty value records an explicit unset.
	StoreProperty(ctx context.Context, iface, path string, value []byte, major int32) error

	// LoadProperty returns the decoded value of (iface, path).
	//
	// ok is false when no row exists, or when the row was written under a
	// different major version; in the latter case the row is deleted. An
	// empty stored value loads as codec.Unset() with ok true.
	// Returns ErrAggregateProperty if the value decodes to an object.
	LoadProperty(ctx context.Context, iface, path string, major int32) (v codec.Scalar, ok bool, err error)

	// DeleteProperty removes (iface, path). Deleting a missing property succeeds.
	DeleteProperty(ctx context.Context, iface, path string) error

	// Clear removes every stored property.
	Clear(ctx context.Context) error

	// ListAllProperties returns every stored row ordered by interface then path.
	ListAllProperties(ctx context.Context) ([]StoredProperty, error)
}

// Logger is the subset of logging the cache needs.
type Logger interface {
	Debug(msg string, args ...any)
}

// Options configures a Cache.
type Options struct {
	// DecodeCacheSize bounds the LRU of decoded values, keyed by their
	// encoded bytes. Rows are always read from the repository. Zero
	// disables it.
	DecodeCacheSize int

	// Logger receives debug entries for unset values and stale evictions.
	// May be nil.
	Logger Logger
}

// Cache implements Store on top of a Repository and a Codec.
//
// Thread Safety:
//   - Safe for concurrent use when the Repository is.
//   - LoadProperty's read and stale-row delete are separate statements. A
//     StoreProperty racing with that delete follows last-writer-wins.
type Cache struct {
	repo   Repository
	codec  codec.Codec
	logger Logger

	// decoded maps encoded bytes to their immutable scalar. It is keyed by
	// content, never by (iface, path), so it cannot go stale.
	decoded *lru.Cache[string, codec.Scalar]
}

// New creates a Cache.
func New(repo Repository, c codec.Codec, opts Options) (*Cache, error) {
	cache := &Cache{
		repo:   repo,
		codec:  c,
		logger: opts.Logger,
	}

	if opts.DecodeCacheSize > 0 {
		decoded, err := lru.New[string, codec.Scalar](opts.DecodeCacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating decode cache: %w", err)
		}
		cache.decoded = decoded
	}

	return cache, nil
}

// StoreProperty inserts or fully replaces the row for (iface, path).
func (c *Cache) StoreProperty(ctx context.Context, iface, path string, value []byte, major int32) error {
	return c.repo.Put(ctx, StoredProperty{
		Interface:      iface,
		Path:           path,
		Value:          value,
		InterfaceMajor: major,
	})
}

// LoadProperty returns the value for (iface, path) if it was stored under major.
func (c *Cache) LoadProperty(ctx context.Context, iface, path string, major int32) (codec.Scalar, bool, error) {
	p, err := c.repo.Get(ctx, iface, path)
	if err != nil {
		if errors.Is(err, ErrPropertyNotFound) {
			return codec.Scalar{}, false, nil
		}
		return codec.Scalar{}, false, err
	}

	if p.InterfaceMajor != major {
		c.debug("evicting property stored under another major version",
			"interface", iface, "path", path,
			"stored_major", p.InterfaceMajor, "requested_major", major)
		if err := c.DeleteProperty(ctx, iface, path); err != nil {
			return codec.Scalar{}, false, err
		}
		return codec.Scalar{}, false, nil
	}

	if len(p.Value) == 0 {
		c.debug("property is unset", "interface", iface, "path", path)
		return codec.Unset(), true, nil
	}

	if c.decoded != nil {
		if v, hit := c.decoded.Get(string(p.Value)); hit {
			return v, true, nil
		}
	}

	decoded, err := c.codec.Decode(p.Value)
	if err != nil {
		return codec.Scalar{}, false, fmt.Errorf("decoding property %s%s: %w", iface, path, err)
	}

	d, isIndividual := decoded.(codec.Individual)
	if !isIndividual {
		return codec.Scalar{}, false, fmt.Errorf("%w: %s%s", ErrAggregateProperty, iface, path)
	}

	if c.decoded != nil && immutable(d.Value.Kind()) {
		c.decoded.Add(string(p.Value), d.Value)
	}
	return d.Value, true, nil
}

// DeleteProperty removes the row for (iface, path) if present.
func (c *Cache) DeleteProperty(ctx context.Context, iface, path string) error {
	return c.repo.Delete(ctx, iface, path)
}

// Clear removes every stored property.
func (c *Cache) Clear(ctx context.Context) error {
	return c.repo.Clear(ctx)
}

// ListAllProperties returns every stored row ordered by interface then path.
func (c *Cache) ListAllProperties(ctx context.Context) ([]StoredProperty, error) {
	return c.repo.List(ctx)
}

// immutable reports whether scalars of kind k hold no slice a caller could
// mutate, so one decoded value can be handed out many times.
func immutable(k codec.Kind) bool {
	switch k {
	case codec.KindDouble, codec.KindInteger, codec.KindBoolean,
		codec.KindLongInteger, codec.KindString, codec.KindDateTime:
		return true
	default:
		return false
	}
}

func (c *Cache) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
