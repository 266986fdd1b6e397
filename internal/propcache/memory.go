package propcache

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryRepository is an in-process Repository. Contents are lost when the
// process exits.
type MemoryRepository struct {
	mu    sync.RWMutex
	props map[key]StoredProperty
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		props: make(map[key]StoredProperty),
	}
}

// Get retrieves the row for (iface, path).
func (r *MemoryRepository) Get(_ context.Context, iface, path string) (*StoredProperty, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.props[key{iface: iface, path: path}]
	if !ok {
		return nil, ErrPropertyNotFound
	}
	p.Value = slices.Clone(p.Value)
	return &p, nil
}

// Put inserts or replaces the row for (p.Interface, p.Path).
func (r *MemoryRepository) Put(_ context.Context, p StoredProperty) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.Value = slices.Clone(p.Value)
	r.props[p.key()] = p
	return nil
}

// Delete removes the row for (iface, path) if present.
func (r *MemoryRepository) Delete(_ context.Context, iface, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.props, key{iface: iface, path: path})
	return nil
}

// Clear removes every row.
func (r *MemoryRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.props)
	return nil
}

// List returns every row ordered by interface then path.
func (r *MemoryRepository) List(_ context.Context) ([]StoredProperty, error) {
	r.mu.RLock()
	props := make([]StoredProperty, 0, len(r.props))
	for _, p := range r.props {
		p.Value = slices.Clone(p.Value)
		props = append(props, p)
	}
	r.mu.RUnlock()

	slices.SortFunc(props, func(a, b StoredProperty) int {
		if c := strings.Compare(a.Interface, b.Interface); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return props, nil
}
