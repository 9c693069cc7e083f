// Package store resolves logical store names to physical storage locations.
package store

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// ErrUnknownStore is returned when a store name is not configured.
var ErrUnknownStore = errors.New("unknown store")

// Supported location schemes.
const (
	SchemeFile   = "file"
	SchemeS3     = "s3"
	SchemeMemory = "memory"
)

// Descriptor is the physical location of a store: a base URI plus optional
// backend options (credentials, endpoint, region).
type Descriptor struct {
	Name           string            `json:"name" yaml:"-"`
	Path           string            `json:"path" yaml:"path"`
	StorageOptions map[string]string `json:"-" yaml:"storage_options"`
}

// URL parses the descriptor path.
func (d Descriptor) URL() (*url.URL, error) {
	u, err := url.Parse(d.Path)
	if err != nil {
		return nil, fmt.Errorf("parsing store path %q: %w", d.Path, err)
	}
	if u.Scheme == "" {
		// Bare absolute paths are local directories.
		if strings.HasPrefix(d.Path, "/") {
			return &url.URL{Scheme: SchemeFile, Path: d.Path}, nil
		}
		return nil, fmt.Errorf("store path %q has no scheme", d.Path)
	}
	return u, nil
}

// Scheme returns the lower-cased URI scheme of the store path.
func (d Descriptor) Scheme() string {
	u, err := d.URL()
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Join appends slash-separated elements to the store base URI.
func (d Descriptor) Join(elem ...string) string {
	base := strings.TrimRight(d.Path, "/")
	rest := path.Join(elem...)
	rest = strings.TrimLeft(rest, "/")
	if rest == "" || rest == "." {
		return base
	}
	return base + "/" + rest
}

// Option returns a storage option by key, matching case-insensitively.
func (d Descriptor) Option(key string) (string, bool) {
	if v, ok := d.StorageOptions[key]; ok {
		return v, true
	}
	for k, v := range d.StorageOptions {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Resolver maps store names to descriptors.
type Resolver interface {
	// Resolve returns the descriptor for name or ErrUnknownStore.
	Resolve(name string) (Descriptor, error)

	// Names lists configured store names in sorted order.
	Names() []string
}

// StaticResolver resolves against a fixed map, typically loaded from config.
type StaticResolver struct {
	stores map[string]Descriptor
}

// NewStaticResolver copies stores into a new resolver.
func NewStaticResolver(stores map[string]Descriptor) *StaticResolver {
	m := make(map[string]Descriptor, len(stores))
	for name, d := range stores {
		d.Name = name
		if d.StorageOptions != nil {
			opts := make(map[string]string, len(d.StorageOptions))
			for k, v := range d.StorageOptions {
				opts[k] = v
			}
			d.StorageOptions = opts
		}
		m[name] = d
	}
	return &StaticResolver{stores: m}
}

// Resolve returns the descriptor for name.
func (r *StaticResolver) Resolve(name string) (Descriptor, error) {
	d, ok := r.stores[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
	return d, nil
}

// Names lists configured store names.
func (r *StaticResolver) Names() []string {
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verify interface compliance.
var _ Resolver = (*StaticResolver)(nil)
