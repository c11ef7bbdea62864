// Package engine composes the bucket registry, per-bucket object indexes and
// the blob store into the object storage operations the S3 layer exposes. It
// owns the concurrency and consistency contract: each operation is the atomic
// unit, there are no cross-operation transactions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bucketd/pkg/index"
	"bucketd/pkg/metadata"
	"bucketd/pkg/storage"
)

// ObjectInfo describes the current version of an object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Stats summarizes engine state for the admin API.
type Stats struct {
	Buckets int   `json:"buckets"`
	Objects int   `json:"objects"`
	Bytes   int64 `json:"bytes"`
}

// Observer receives a record per engine operation, for metrics wiring without
// an import cycle.
type Observer interface {
	Observe(op string, bytes int64, err error, dur time.Duration)
}

// Engine is the process-wide storage engine. Callers obtain a handle from New
// rather than relying on ambient globals; it is safe for concurrent use.
//
// Locking: the engine mutex guards the bucket -> index map and is held shared
// for the full duration of object operations, so CreateBucket/DeleteBucket
// (which take it exclusively) never race an in-flight put against the
// emptiness check. Same-key put/delete are serialized by per-key locks inside
// each index.
type Engine struct {
	registry metadata.Registry
	blobs    storage.BlobStore

	mu      sync.RWMutex
	indexes map[string]*index.Index

	obs Observer
}

// New builds an engine over the given registry and blob store. Buckets
// already present in a persistent registry are adopted with empty indexes.
func New(ctx context.Context, reg metadata.Registry, blobs storage.BlobStore) (*Engine, error) {
	e := &Engine{
		registry: reg,
		blobs:    blobs,
		indexes:  make(map[string]*index.Index),
	}
	existing, err := reg.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("adopt registry buckets: %w", err)
	}
	for _, b := range existing {
		e.indexes[b.Name] = index.New()
	}
	return e, nil
}

// SetObserver wires an operation observer (e.g. Prometheus collectors).
// Must be called before the engine is shared between goroutines.
func (e *Engine) SetObserver(obs Observer) { e.obs = obs }

func (e *Engine) observe(op string, bytes int64, err error, start time.Time) {
	if e.obs != nil {
		e.obs.Observe(op, bytes, err, time.Since(start))
	}
}

// CreateBucket registers a new bucket. A duplicate name fails with
// KindBucketAlreadyExists, which callers may treat as non-fatal.
func (e *Engine) CreateBucket(ctx context.Context, bucket string) (err error) {
	const op = "CreateBucket"
	defer func(start time.Time) { e.observe(op, 0, err, start) }(time.Now())

	if !validBucketName(bucket) {
		return opErr(KindInvalidArgument, op, bucket, "", fmt.Errorf("invalid bucket name %q", bucket))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cerr := e.registry.Create(ctx, bucket); cerr != nil {
		if errors.Is(cerr, metadata.ErrBucketExists) {
			err = opErr(KindBucketAlreadyExists, op, bucket, "", nil)
			return err
		}
		err = opErr(KindInternal, op, bucket, "", cerr)
		return err
	}
	e.indexes[bucket] = index.New()
	return nil
}

// DeleteBucket removes an empty bucket. It never deletes objects implicitly;
// callers must empty the bucket first.
func (e *Engine) DeleteBucket(ctx context.Context, bucket string) (err error) {
	const op = "DeleteBucket"
	defer func(start time.Time) { e.observe(op, 0, err, start) }(time.Now())

	e.mu.Lock()
	defer e.mu.Unlock()
	ix, ok := e.indexes[bucket]
	if !ok {
		err = opErr(KindNoSuchBucket, op, bucket, "", nil)
		return err
	}
	if !ix.IsEmpty() {
		err = opErr(KindBucketNotEmpty, op, bucket, "", nil)
		return err
	}
	if derr := e.registry.Delete(ctx, bucket); derr != nil && !errors.Is(derr, metadata.ErrBucketNotFound) {
		err = opErr(KindInternal, op, bucket, "", derr)
		return err
	}
	delete(e.indexes, bucket)
	return nil
}

// ListBuckets returns all buckets sorted by name.
func (e *Engine) ListBuckets(ctx context.Context) (bs []metadata.Bucket, err error) {
	const op = "ListBuckets"
	defer func(start time.Time) { e.observe(op, 0, err, start) }(time.Now())

	bs, lerr := e.registry.List(ctx)
	if lerr != nil {
		err = opErr(KindInternal, op, "", "", lerr)
		return nil, err
	}
	return bs, nil
}

// PutObject stores data under (bucket, key), atomically replacing any prior
// version. declaredLen < 0 skips the length check. The new payload is stored
// before the old reference is released, so a concurrent reader never observes
// a dangling reference.
func (e *Engine) PutObject(ctx context.Context, bucket, key string, data []byte, declaredLen int64) (info ObjectInfo, err error) {
	const op = "PutObject"
	defer func(start time.Time) { e.observe(op, int64(len(data)), err, start) }(time.Now())

	if key == "" {
		err = opErr(KindInvalidArgument, op, bucket, key, fmt.Errorf("empty object key"))
		return ObjectInfo{}, err
	}
	if declaredLen >= 0 && declaredLen != int64(len(data)) {
		err = opErr(KindInvalidArgument, op, bucket, key,
			fmt.Errorf("declared length %d does not match payload length %d", declaredLen, len(data)))
		return ObjectInfo{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	ix, ok := e.indexes[bucket]
	if !ok {
		err = opErr(KindNoSuchBucket, op, bucket, key, nil)
		return ObjectInfo{}, err
	}

	unlock := ix.LockKey(key)
	defer unlock()

	ref, binfo, serr := e.blobs.Store(ctx, data)
	if serr != nil {
		err = opErr(KindInternal, op, bucket, key, serr)
		return ObjectInfo{}, err
	}
	// An abort between blob store and index update must not leak the blob and
	// must not have mutated the index.
	if cerr := ctx.Err(); cerr != nil {
		e.release(ctx, ref, bucket, key)
		err = opErr(KindInternal, op, bucket, key, cerr)
		return ObjectInfo{}, err
	}

	entry := index.Entry{
		Key:          key,
		Size:         binfo.Size,
		ETag:         binfo.ETag,
		LastModified: binfo.StoredAt,
		Ref:          ref,
	}
	if prev, replaced := ix.Put(entry); replaced {
		e.release(ctx, prev, bucket, key)
	}
	return ObjectInfo{Key: key, Size: binfo.Size, ETag: binfo.ETag, LastModified: binfo.StoredAt}, nil
}

// GetObject returns the payload and metadata for (bucket, key). A read racing
// a delete of the same key reports KindNoSuchKey, never an internal error.
func (e *Engine) GetObject(ctx context.Context, bucket, key string) (data []byte, info ObjectInfo, err error) {
	const op = "GetObject"
	defer func(start time.Time) { e.observe(op, int64(len(data)), err, start) }(time.Now())

	e.mu.RLock()
	defer e.mu.RUnlock()
	ix, ok := e.indexes[bucket]
	if !ok {
		err = opErr(KindNoSuchBucket, op, bucket, key, nil)
		return nil, ObjectInfo{}, err
	}
	entry, ok := ix.Get(key)
	if !ok {
		err = opErr(KindNoSuchKey, op, bucket, key, nil)
		return nil, ObjectInfo{}, err
	}
	data, ferr := e.blobs.Fetch(ctx, entry.Ref)
	if errors.Is(ferr, storage.ErrBlobNotFound) {
		// A concurrent delete or overwrite released the blob between the index
		// lookup and the fetch. Re-resolve under the key lock, where no writer
		// can release the current blob mid-read.
		unlock := ix.LockKey(key)
		entry, ok = ix.Get(key)
		if !ok {
			unlock()
			err = opErr(KindNoSuchKey, op, bucket, key, nil)
			return nil, ObjectInfo{}, err
		}
		data, ferr = e.blobs.Fetch(ctx, entry.Ref)
		unlock()
	}
	if ferr != nil {
		// The index referenced a blob that is gone: an engine invariant broke.
		err = opErr(KindInternal, op, bucket, key, ferr)
		return nil, ObjectInfo{}, err
	}
	info = ObjectInfo{Key: entry.Key, Size: entry.Size, ETag: entry.ETag, LastModified: entry.LastModified}
	return data, info, nil
}

// HeadObject returns metadata without fetching the payload.
func (e *Engine) HeadObject(ctx context.Context, bucket, key string) (info ObjectInfo, err error) {
	const op = "HeadObject"
	defer func(start time.Time) { e.observe(op, 0, err, start) }(time.Now())

	e.mu.RLock()
	defer e.mu.RUnlock()
	ix, ok := e.indexes[bucket]
	if !ok {
		err = opErr(KindNoSuchBucket, op, bucket, key, nil)
		return ObjectInfo{}, err
	}
	entry, ok := ix.Get(key)
	if !ok {
		err = opErr(KindNoSuchKey, op, bucket, key, nil)
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: entry.Key, Size: entry.Size, ETag: entry.ETag, LastModified: entry.LastModified}, nil
}

// ListObjects returns a consistent snapshot of the bucket's keys in ascending
// order. An empty bucket yields an empty list, not an error.
func (e *Engine) ListObjects(ctx context.Context, bucket string) (infos []ObjectInfo, err error) {
	const op = "ListObjects"
	defer func(start time.Time) { e.observe(op, 0, err, start) }(time.Now())

	e.mu.RLock()
	defer e.mu.RUnlock()
	ix, ok := e.indexes[bucket]
	if !ok {
		err = opErr(KindNoSuchBucket, op, bucket, "", nil)
		return nil, err
	}
	entries := ix.List()
	infos = make([]ObjectInfo, 0, len(entries))
	for _, en := range entries {
		infos = append(infos, ObjectInfo{Key: en.Key, Size: en.Size, ETag: en.ETag, LastModified: en.LastModified})
	}
	return infos, nil
}

// DeleteObject removes (bucket, key) and releases its blob. Deleting an
// absent key succeeds silently.
func (e *Engine) DeleteObject(ctx context.Context, bucket, key string) (err error) {
	const op = "DeleteObject"
	defer func(start time.Time) { e.observe(op, 0, err, start) }(time.Now())

	e.mu.RLock()
	defer e.mu.RUnlock()
	ix, ok := e.indexes[bucket]
	if !ok {
		err = opErr(KindNoSuchBucket, op, bucket, key, nil)
		return err
	}
	unlock := ix.LockKey(key)
	defer unlock()
	ref, existed := ix.Delete(key)
	if !existed {
		slog.Debug("delete of absent key", slog.String("bucket", bucket), slog.String("key", key))
		return nil
	}
	e.release(ctx, ref, bucket, key)
	return nil
}

// Stats reports bucket/object/byte totals.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var st Stats
	st.Buckets = len(e.indexes)
	for _, ix := range e.indexes {
		for _, en := range ix.List() {
			st.Objects++
			st.Bytes += en.Size
		}
	}
	return st, nil
}

// release reclaims a blob that no index entry references anymore. It must run
// even when the request context is already cancelled.
func (e *Engine) release(ctx context.Context, ref storage.BlobRef, bucket, key string) {
	if rerr := e.blobs.Release(context.WithoutCancel(ctx), ref); rerr != nil {
		slog.Error("release blob",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.String("error", rerr.Error()),
		)
	}
}

// validBucketName applies simplified S3 naming rules:
// 3 to 63 characters, lowercase letters, digits, dots and hyphens,
// starting and ending with a letter or digit.
func validBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '.' {
			continue
		}
		return false
	}
	alnum := func(c byte) bool {
		return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
	}
	return alnum(name[0]) && alnum(name[len(name)-1])
}
