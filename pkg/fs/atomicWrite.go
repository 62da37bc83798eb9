// Package fs provides the atomic-publish primitive shared by the snapshot
// metadata sidecar (internal/snapshot) and the stats snapshot file
// (internal/stats): both are written on a hot path (every dump, every
// stats tick) and both must never be observed half-written by a concurrent
// reader.
package fs

import (
	"os"
	"path"
	"strings"
)

// shmMountPrefix marks paths backed by tmpfs (/dev/shm), where every write
// is already in page cache with nothing to survive a power loss for: the
// stats snapshot and warm-pool ring buffers all live there. Skipping the
// directory fsync on that path avoids paying a syscall every 100ms stats
// tick for a durability guarantee tmpfs can't offer anyway.
const shmMountPrefix = "/dev/shm"

// WriteFileAtomic publishes data to filePath by writing to a sibling temp
// file, fsyncing it, then renaming over the destination. Atomicity is only
// guaranteed within a single filesystem, since rename is not atomic across
// mount points. The destination directory is fsynced too, unless filePath
// is under /dev/shm, where the durability that buys is moot.
func WriteFileAtomic(filePath string, data []byte, perm os.FileMode) error {
	dir := path.Dir(filePath)
	tmp, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filePath); err != nil {
		return err
	}

	if strings.HasPrefix(dir, shmMountPrefix) {
		return nil
	}

	dfd, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer dfd.Close()
	return dfd.Sync()
}
