// Package shm implements a named, kernel-backed, memory-mapped byte region
// with scoped lifetime (spec §4.C). Go's standard library has no shm_open or
// mmap wrapper, so this is built directly on golang.org/x/sys/unix, the way
// the teacher's netlink dependency pulls in unix for raw syscalls.
package shm

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
)

const (
	// MinSize and MaxSize bound a region's length, per spec §4.C. These
	// values are larger than original_source's 4096/1GiB MIN_SIZE because
	// spec.md raises the floor to 64KiB; spec.md is authoritative here.
	MinSize = 65536
	MaxSize = 1024 * 1024 * 1024

	shmDir = "/dev/shm"
)

// Region is a mapped shared-memory byte region. It is mapped on
// construction (Create or Open) and must be released exactly once via
// Close, which unmaps and, for the owning side, unlinks the backing file.
type Region struct {
	name    string
	path    string
	data    []byte
	isOwner bool
}

// Create creates and maps a new region of the given length. Fails with
// aethererr.ErrCreate if the name is empty, the size is out of bounds, or
// the backing file already exists; with aethererr.ErrMap if mmap fails.
func Create(name string, size int) (*Region, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: region name cannot be empty", aethererr.ErrCreate)
	}
	if size < MinSize || size > MaxSize {
		return nil, fmt.Errorf("%w: size %d out of bounds [%d, %d]", aethererr.ErrCreate, size, MinSize, MaxSize)
	}

	path := filepath.Join(shmDir, name)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", aethererr.ErrCreate, path, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Unlink(path)
		return nil, fmt.Errorf("%w: ftruncate %s: %v", aethererr.ErrCreate, path, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Unlink(path)
		return nil, fmt.Errorf("%w: mmap %s: %v", aethererr.ErrMap, path, err)
	}

	for i := range data {
		data[i] = 0
	}

	return &Region{name: name, path: path, data: data, isOwner: true}, nil
}

// Open maps an existing region created elsewhere with the same name. The
// caller supplies the size since there is no reliable portable way to
// recover it from the backing file other than stat, which Open performs
// internally to validate against the requested size.
func Open(name string, size int) (*Region, error) {
	if size < MinSize || size > MaxSize {
		return nil, fmt.Errorf("%w: size %d out of bounds [%d, %d]", aethererr.ErrMap, size, MinSize, MaxSize)
	}

	path := filepath.Join(shmDir, name)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", aethererr.ErrMap, path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", aethererr.ErrMap, path, err)
	}
	if st.Size < int64(size) {
		return nil, fmt.Errorf("%w: %s is %d bytes, smaller than requested %d", aethererr.ErrMap, path, st.Size, size)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %v", aethererr.ErrMap, path, err)
	}

	return &Region{name: name, path: path, data: data, isOwner: false}, nil
}

func (r *Region) Name() string { return r.name }
func (r *Region) Len() int     { return len(r.data) }

// Bytes returns the mapped region. Callers are responsible for their own
// synchronization; Region itself provides no locking (the ring buffer on
// top of it uses only its two atomics, per spec §5).
func (r *Region) Bytes() []byte { return r.data }

// Close unmaps the region and, if this Region created it, unlinks the
// backing file. Safe to call once; a second call is a no-op.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil

	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("%w: munmap %s: %v", aethererr.ErrUnlink, r.path, err)
	}
	if r.isOwner {
		if err := unix.Unlink(r.path); err != nil {
			return fmt.Errorf("%w: unlink %s: %v", aethererr.ErrUnlink, r.path, err)
		}
	}
	return nil
}
