package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalFS implements BlobStore on a single local directory. Each blob lives in
// a two-character fanout subdirectory named by its ref, e.g. "ab/ab12...".
// Suitable for dev/MVP.
type LocalFS struct {
	base string // absolute base directory
}

// NewLocalFS creates a LocalFS rooted at dir, creating it if necessary.
func NewLocalFS(dir string) (*LocalFS, error) {
	if dir == "" {
		return nil, fmt.Errorf("no data directory configured")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, err
	}
	return &LocalFS{base: abs}, nil
}

// BaseDir returns the absolute data directory.
func (l *LocalFS) BaseDir() string { return l.base }

func (l *LocalFS) Store(ctx context.Context, data []byte) (BlobRef, BlobInfo, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	ref := BlobRef(id)
	path, err := l.blobPath(ref)
	if err != nil {
		return "", BlobInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", BlobInfo{}, err
	}
	// Write to a temp file in the same directory, then rename. Readers never
	// observe a partially written blob.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", BlobInfo{}, err
	}
	h := md5.New()
	_, werr := tmp.Write(data)
	if werr == nil {
		_, _ = h.Write(data)
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp.Name())
		return "", BlobInfo{}, werr
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", BlobInfo{}, err
	}
	_ = SyncDir(filepath.Dir(path))
	info := BlobInfo{
		Size:     int64(len(data)),
		ETag:     hex.EncodeToString(h.Sum(nil)),
		StoredAt: time.Now().UTC(),
	}
	return ref, info, nil
}

func (l *LocalFS) Fetch(ctx context.Context, ref BlobRef) ([]byte, error) {
	path, err := l.blobPath(ref)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return b, nil
}

func (l *LocalFS) Release(ctx context.Context, ref BlobRef) error {
	path, err := l.blobPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	// best-effort: drop the fanout dir when it empties out
	_ = removeIfEmpty(filepath.Dir(path), l.base)
	return nil
}

func (l *LocalFS) blobPath(ref BlobRef) (string, error) {
	id := string(ref)
	if len(id) < 2 || strings.ContainsAny(id, "/\\.") {
		return "", fmt.Errorf("invalid blob ref %q", id)
	}
	p := filepath.Join(l.base, "blobs", id[:2], id)
	// prevent escape: the joined path must stay under base
	if !strings.HasPrefix(filepath.Clean(p)+string(os.PathSeparator), l.base+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid blob path")
	}
	return p, nil
}

func removeIfEmpty(dir, stop string) error {
	if dir == stop || dir == "/" || dir == "." || dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return nil
	}
	return os.Remove(dir)
}
