// Package objstore provides the object-storage backends that hold lakehouse
// data files. Every Store is rooted at a store descriptor's base URI and is
// addressed with slash-separated keys relative to that root.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/txn2/mcp-lakejobs/pkg/store"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrUnreachable is returned when the backend cannot be contacted or
	// rejects the configured credentials.
	ErrUnreachable = errors.New("store unreachable")

	// ErrUnsupportedScheme is returned when no backend handles a store path.
	ErrUnsupportedScheme = errors.New("unsupported store scheme")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store is an object store rooted at a base URI.
type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the object at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Close releases resources.
	Close() error
}

// Factory opens a Store for a descriptor.
type Factory func(d store.Descriptor) (Store, error)

// Registry opens stores by URI scheme.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterFactory registers a factory for a scheme.
func (r *Registry) RegisterFactory(scheme string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(scheme)] = f
}

// Open opens a store for d using the factory registered for its scheme.
func (r *Registry) Open(d store.Descriptor) (Store, error) {
	scheme := d.Scheme()
	r.mu.RLock()
	f, ok := r.factories[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (store %q)", ErrUnsupportedScheme, scheme, d.Name)
	}
	s, err := f(d)
	if err != nil {
		return nil, fmt.Errorf("opening store %q: %w", d.Name, err)
	}
	return s, nil
}

// cleanKey strips leading slashes so keys are always root-relative.
func cleanKey(key string) string {
	return strings.TrimLeft(key, "/")
}
