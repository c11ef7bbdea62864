package metadata

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Bucket is a registry entry. Names are unique for the lifetime of the registry.
type Bucket struct {
	Name      string
	CreatedAt time.Time
}

// Registry tracks bucket names and creation times. It is the single source of
// truth for bucket existence; it never touches object data, so deleting a
// bucket here does not cascade to its objects.
type Registry interface {
	Create(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Bucket, error)
}

// Errors
var (
	ErrBucketExists   = errors.New("bucket already exists")
	ErrBucketNotFound = errors.New("bucket not found")
)

// MemoryRegistry is a simple in-memory implementation suitable for development
// and unit tests. It is NOT durable across restarts.
type MemoryRegistry struct {
	mu      sync.RWMutex
	buckets map[string]Bucket
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{buckets: make(map[string]Bucket)}
}

// Create registers a new bucket if the name is free.
func (m *MemoryRegistry) Create(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; ok {
		return ErrBucketExists
	}
	m.buckets[name] = Bucket{Name: name, CreatedAt: time.Now().UTC()}
	return nil
}

// Exists returns true if the bucket is registered.
func (m *MemoryRegistry) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[name]
	return ok, nil
}

// Delete removes a bucket entry.
func (m *MemoryRegistry) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; !ok {
		return ErrBucketNotFound
	}
	delete(m.buckets, name)
	return nil
}

// List returns all buckets sorted by name for stable output.
func (m *MemoryRegistry) List(ctx context.Context) ([]Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Bucket, 0, len(m.buckets))
	for _, b := range m.buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
