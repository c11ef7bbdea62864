// Package index provides the per-bucket mapping from object key to the
// current version's metadata and blob reference.
package index

import (
	"sort"
	"sync"
	"time"

	"bucketd/pkg/storage"
)

// Entry is the current version of one object key.
type Entry struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	Ref          storage.BlobRef
}

// Index maps object keys to entries for a single bucket. Writes to the same
// key must be serialized by the caller via LockKey; the internal mutex only
// protects map structure, so listings never observe a torn entry.
type Index struct {
	mu      sync.RWMutex
	entries map[string]Entry

	keyLocks sync.Map // key -> *sync.Mutex
}

// New creates an empty index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// LockKey acquires the per-key write lock and returns its unlock func.
// Put/delete on the same key are serialized; different keys proceed
// concurrently.
func (ix *Index) LockKey(key string) func() {
	v, _ := ix.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Put inserts or replaces the entry for e.Key. It returns the previous blob
// reference, if any, so the caller can release it and avoid leaking storage
// on overwrite.
func (ix *Index) Put(e Entry) (prev storage.BlobRef, replaced bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if old, ok := ix.entries[e.Key]; ok {
		prev, replaced = old.Ref, true
	}
	ix.entries[e.Key] = e
	return prev, replaced
}

// Get returns the entry for key.
func (ix *Index) Get(key string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[key]
	return e, ok
}

// Delete removes the entry for key and returns its blob reference. An absent
// key is reported via existed=false so callers can log the no-op while still
// treating the delete as a success.
func (ix *Index) Delete(key string) (ref storage.BlobRef, existed bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[key]
	if !ok {
		return "", false
	}
	delete(ix.entries, key)
	return e.Ref, true
}

// List returns a point-in-time snapshot of all entries in ascending key
// order. The snapshot is recomputed per call and safe to iterate while
// writers proceed.
func (ix *Index) List() []Entry {
	ix.mu.RLock()
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	ix.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len reports the number of keys currently present.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// IsEmpty reports whether the index holds no keys.
func (ix *Index) IsEmpty() bool { return ix.Len() == 0 }
