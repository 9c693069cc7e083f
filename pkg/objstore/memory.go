package objstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/txn2/mcp-lakejobs/pkg/store"
)

// MemoryStore is an in-memory object store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data    []byte
	modTime time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put stores a copy of data.
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[cleanKey(key)] = memoryObject{data: buf, modTime: time.Now().UTC()}
	return nil
}

// Get returns a copy of the stored object.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[cleanKey(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, cleanKey(key))
	return nil
}

// List returns objects under prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	prefix = cleanKey(prefix)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ObjectInfo, 0)
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(obj.data)), LastModified: obj.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close does nothing.
func (*MemoryStore) Close() error {
	return nil
}

// MemoryFactory hands out one MemoryStore per store path so that data written
// through one Open is visible to later ones.
type MemoryFactory struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryFactory creates a factory for memory:// stores.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{stores: make(map[string]*MemoryStore)}
}

// Open returns the store for d's path, creating it on first use.
func (f *MemoryFactory) Open(d store.Descriptor) (Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimRight(d.Path, "/")
	s, ok := f.stores[key]
	if !ok {
		s = NewMemoryStore()
		f.stores[key] = s
	}
	return s, nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
