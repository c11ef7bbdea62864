package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBlobStore keeps payloads in process memory. Suitable for development
// and unit tests; contents are lost on restart.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[BlobRef][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[BlobRef][]byte)}
}

func (m *MemoryBlobStore) Store(ctx context.Context, data []byte) (BlobRef, BlobInfo, error) {
	// Copy so callers can reuse their buffer after Store returns.
	cp := make([]byte, len(data))
	copy(cp, data)
	sum := md5.Sum(cp)
	ref := BlobRef(uuid.NewString())
	info := BlobInfo{
		Size:     int64(len(cp)),
		ETag:     hex.EncodeToString(sum[:]),
		StoredAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.blobs[ref] = cp
	m.mu.Unlock()
	return ref, info, nil
}

func (m *MemoryBlobStore) Fetch(ctx context.Context, ref BlobRef) ([]byte, error) {
	m.mu.RLock()
	b, ok := m.blobs[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (m *MemoryBlobStore) Release(ctx context.Context, ref BlobRef) error {
	m.mu.Lock()
	delete(m.blobs, ref)
	m.mu.Unlock()
	return nil
}

// Len reports the number of live blobs, for leak checks in tests.
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
