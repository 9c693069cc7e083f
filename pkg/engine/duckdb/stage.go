package duckdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/txn2/mcp-lakejobs/pkg/objstore"
	"github.com/txn2/mcp-lakejobs/pkg/store"
)

// globMeta are the characters DuckDB's file readers expand as globs.
const globMeta = "*?["

// stager copies objects from stores DuckDB cannot read natively (memory://)
// into a directory private to one session.
type stager struct {
	stores   *objstore.Registry
	bindings []store.Descriptor
	dir      string
	opened   map[string]objstore.Store
}

func newStager(stores *objstore.Registry, bindings []store.Descriptor) *stager {
	return &stager{stores: stores, bindings: bindings, opened: make(map[string]objstore.Store)}
}

// readsNatively reports whether DuckDB reads scheme without staging.
func readsNatively(scheme string) bool {
	switch scheme {
	case store.SchemeFile, store.SchemeS3, "http", "https":
		return true
	}
	return false
}

// match finds the store owning uri. owner, when set, is tried before the
// session bindings.
func (st *stager) match(uri string, owner *store.Descriptor) (store.Descriptor, string, bool) {
	candidates := st.bindings
	if owner != nil {
		candidates = append([]store.Descriptor{*owner}, st.bindings...)
	}
	for _, d := range candidates {
		if d.Path == "" || readsNatively(d.Scheme()) {
			continue
		}
		base := strings.TrimRight(d.Path, "/") + "/"
		if strings.HasPrefix(uri, base) {
			return d, strings.TrimPrefix(uri, base), true
		}
	}
	return store.Descriptor{}, "", false
}

// fetch copies key, or every object matching key when it is a glob, and
// returns the local path to hand to DuckDB.
func (st *stager) fetch(ctx context.Context, d store.Descriptor, key string) (string, error) {
	s, err := st.open(d)
	if err != nil {
		return "", err
	}
	local, err := st.localPath(d.Name, key)
	if err != nil {
		return "", err
	}

	if !strings.ContainsAny(key, globMeta) {
		if err := st.copy(ctx, s, d.Name, key); err != nil {
			return "", err
		}
		return local, nil
	}

	prefix := key[:strings.IndexAny(key, globMeta)]
	objs, err := s.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("staging %s from store %q: %w", key, d.Name, err)
	}
	for _, obj := range objs {
		ok, err := path.Match(key, obj.Key)
		if err != nil {
			return "", fmt.Errorf("staging %s from store %q: %w", key, d.Name, err)
		}
		if !ok {
			continue
		}
		if err := st.copy(ctx, s, d.Name, obj.Key); err != nil {
			return "", err
		}
	}
	// No match leaves the glob unresolved; DuckDB reports the missing files.
	return local, nil
}

func (st *stager) open(d store.Descriptor) (objstore.Store, error) {
	if s, ok := st.opened[d.Name]; ok {
		return s, nil
	}
	s, err := st.stores.Open(d)
	if err != nil {
		return nil, err
	}
	st.opened[d.Name] = s
	return s, nil
}

func (st *stager) copy(ctx context.Context, s objstore.Store, storeName, key string) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("staging %s from store %q: %w", key, storeName, err)
	}
	local, err := st.localPath(storeName, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o700); err != nil {
		return fmt.Errorf("staging %s: %w", key, err)
	}
	if err := os.WriteFile(local, data, 0o600); err != nil {
		return fmt.Errorf("staging %s: %w", key, err)
	}
	return nil
}

// localPath maps a store key into the staging directory, creating the
// directory on first use. Keys may not climb out of their store directory.
func (st *stager) localPath(storeName, key string) (string, error) {
	if st.dir == "" {
		dir, err := os.MkdirTemp("", "lakejobs-stage-*")
		if err != nil {
			return "", fmt.Errorf("creating staging directory: %w", err)
		}
		st.dir = dir
	}
	root := filepath.Join(st.dir, storeDir(storeName))
	p := filepath.Join(root, filepath.FromSlash(strings.TrimLeft(key, "/")))
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes store %q", key, storeName)
	}
	return p, nil
}

// storeDir turns a store name into a single directory element.
func storeDir(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
	if name == "" {
		return "_"
	}
	return name
}

// cleanup closes opened stores and removes staged files.
func (st *stager) cleanup() error {
	var errs []error
	for name, s := range st.opened {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store %q: %w", name, err))
		}
	}
	if st.dir != "" {
		if err := os.RemoveAll(st.dir); err != nil {
			errs = append(errs, fmt.Errorf("removing staging directory: %w", err))
		}
	}
	return errors.Join(errs...)
}
