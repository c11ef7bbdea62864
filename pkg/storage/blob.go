package storage

import (
	"context"
	"errors"
	"time"
)

// BlobRef is an opaque handle to stored bytes. Exactly one index entry owns a
// given ref at a time; releasing a ref invalidates it.
type BlobRef string

// BlobInfo holds metadata computed when a payload is stored.
type BlobInfo struct {
	Size     int64
	ETag     string // md5 hex of the payload
	StoredAt time.Time
}

// BlobStore persists raw object payloads keyed by BlobRef. It knows nothing
// about buckets or object keys.
//
// All implementations must be safe for concurrent use by multiple goroutines.
// Release is safe to call at most once per ref; the engine guarantees single
// ownership, so a double release indicates a bug in the caller rather than a
// user-visible fault.
type BlobStore interface {
	Store(ctx context.Context, data []byte) (BlobRef, BlobInfo, error)
	Fetch(ctx context.Context, ref BlobRef) ([]byte, error)
	Release(ctx context.Context, ref BlobRef) error
}

// ErrBlobNotFound is returned by Fetch when a ref does not resolve.
var ErrBlobNotFound = errors.New("blob not found")
