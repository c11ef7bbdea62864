package storage

import (
	"errors"
	"os"
	"runtime"
	"syscall"
)

// SyncDir best-effort fsyncs a directory so recently renamed blobs become
// durable. Unsupported platforms and filesystems are tolerated.
func SyncDir(dir string) error {
	if dir == "" {
		return nil
	}
	// Windows does not support directory sync; skip.
	if runtime.GOOS == "windows" {
		return nil
	}
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	if err := df.Sync(); err != nil {
		// tmpfs and friends return EINVAL for directory sync; ignore.
		if errors.Is(err, syscall.EINVAL) {
			return nil
		}
		return err
	}
	return nil
}
