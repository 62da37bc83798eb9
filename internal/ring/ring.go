// Package ring implements the lock-free SPSC shared-memory ring buffer from
// spec §4.D. It wraps an internal/shm.Region: the first 24 bytes are the
// header (head, tail, capacity as atomic u64), the remainder is the data
// area.
//
// This is a deliberate redesign of original_source's ring_buffer.rs: the
// original splits a payload across the end of the data area with two copies.
// Here, any entry that would cross the boundary is preceded by a skip entry
// (a zero-length frame) that consumes the remaining tail-of-ring bytes, so no
// payload is ever written or read as two discontiguous pieces.
package ring

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync/atomic"
	"unsafe"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
	"github.com/ankitkpandey1/aetherless/internal/shm"
)

const (
	HeaderSize      = 24
	entryHeaderSize = 8
	entryAlignment  = 8
)

// Ring is a lock-free SPSC framed message channel over a shared region. The
// producer calls Write, the consumer calls Read; a given instance is safe
// for exactly one of each, concurrently, per spec §5.
type Ring struct {
	region *shm.Region
	head   *uint64
	tail   *uint64
	cap    *uint64
	data   []byte
}

func fieldPtr(data []byte, offset int) *uint64 {
	return (*uint64)(unsafe.Pointer(&data[offset]))
}

func wrap(region *shm.Region) (*Ring, error) {
	buf := region.Bytes()
	if len(buf) < HeaderSize+64 {
		return nil, fmt.Errorf("%w: region too small for a ring buffer: %d bytes", aethererr.ErrCreate, len(buf))
	}
	return &Ring{
		region: region,
		head:   fieldPtr(buf, 0),
		tail:   fieldPtr(buf, 8),
		cap:    fieldPtr(buf, 16),
		data:   buf[HeaderSize:],
	}, nil
}

// New initializes a fresh ring buffer header over region: head and tail are
// zeroed, capacity is set to the data area length. The data area length must
// be a power of two.
func New(region *shm.Region) (*Ring, error) {
	r, err := wrap(region)
	if err != nil {
		return nil, err
	}
	if !isPowerOfTwo(uint64(len(r.data))) {
		return nil, fmt.Errorf("%w: data area length %d is not a power of two", aethererr.ErrCreate, len(r.data))
	}
	atomic.StoreUint64(r.head, 0)
	atomic.StoreUint64(r.tail, 0)
	atomic.StoreUint64(r.cap, uint64(len(r.data)))
	return r, nil
}

// Open attaches to an already-initialized ring buffer header without
// resetting it.
func Open(region *shm.Region) (*Ring, error) {
	return wrap(region)
}

// Reset reinitializes the header in place. Per the design notes, the ring is
// not crash-safe; a restarting pair must explicitly Reset before reuse.
func (r *Ring) Reset() {
	atomic.StoreUint64(r.head, 0)
	atomic.StoreUint64(r.tail, 0)
	atomic.StoreUint64(r.cap, uint64(len(r.data)))
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func (r *Ring) capacity() uint64 {
	return atomic.LoadUint64(r.cap)
}

func (r *Ring) loadHead() uint64 { return atomic.LoadUint64(r.head) }
func (r *Ring) loadTail() uint64 { return atomic.LoadUint64(r.tail) }

func (r *Ring) freeSpace() uint64 {
	return r.capacity() - (r.loadHead() - r.loadTail())
}

func (r *Ring) readableBytes() uint64 {
	return r.loadHead() - r.loadTail()
}

func alignUp(value, alignment uint64) uint64 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// MaxPayload is the largest payload Write will accept: capacity/2. In an
// empty ring, a skip entry plus any payload of up to capacity/2-8 bytes
// always fits; a payload closer to the limit can still fail Full when head
// sits near the middle of the data area.
func (r *Ring) MaxPayload() uint64 {
	return r.capacity() / 2
}

// Write appends a framed payload. Fails aethererr.ErrRingFull if there is
// not enough free space, including room for a skip entry if the entry would
// otherwise cross the end of the data area.
func (r *Ring) Write(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload must be non-empty, a zero-length frame is indistinguishable from a skip entry", aethererr.ErrInvalidPayload)
	}

	capacity := r.capacity()
	if uint64(len(payload)) > capacity/2 {
		return fmt.Errorf("%w: payload %d bytes exceeds max %d", aethererr.ErrRingFull, len(payload), capacity/2)
	}

	entrySize := alignUp(uint64(entryHeaderSize+len(payload)), entryAlignment)
	head := r.loadHead()
	offset := head % capacity
	remaining := capacity - offset

	needsSkip := entrySize > remaining
	var totalNeeded uint64
	if needsSkip {
		totalNeeded = remaining + entrySize
	} else {
		totalNeeded = entrySize
	}

	if totalNeeded > r.freeSpace() {
		return fmt.Errorf("%w: need %d bytes", aethererr.ErrRingFull, totalNeeded)
	}

	if needsSkip {
		binary.LittleEndian.PutUint32(r.data[offset:], 0)
		binary.LittleEndian.PutUint32(r.data[offset+4:], 0)
		head += remaining
		offset = 0
	}

	checksum := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(r.data[offset:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(r.data[offset+4:], checksum)
	copy(r.data[offset+entryHeaderSize:], payload)

	atomic.StoreUint64(r.head, head+entrySize)
	return nil
}

// Read consumes the next frame. Skip entries are transparently consumed and
// do not count as a caller-visible read; the loop advances tail past them
// and continues to the next real entry.
func (r *Ring) Read() ([]byte, error) {
	for {
		if r.readableBytes() < entryHeaderSize {
			return nil, aethererr.ErrRingEmpty
		}

		capacity := r.capacity()
		tail := r.loadTail()
		offset := tail % capacity
		remaining := capacity - offset

		length := binary.LittleEndian.Uint32(r.data[offset:])
		checksum := binary.LittleEndian.Uint32(r.data[offset+4:])

		if length == 0 {
			// Skip entry: advance tail past the remaining tail-of-ring bytes.
			atomic.StoreUint64(r.tail, tail+remaining)
			continue
		}

		entrySize := alignUp(uint64(entryHeaderSize+int(length)), entryAlignment)
		if r.readableBytes() < entrySize {
			return nil, fmt.Errorf("%w: incomplete entry in buffer", aethererr.ErrRingEmpty)
		}

		payload := make([]byte, length)
		copy(payload, r.data[offset+entryHeaderSize:offset+entryHeaderSize+uint64(length)])

		actual := crc32.ChecksumIEEE(payload)
		if actual != checksum {
			return nil, fmt.Errorf("%w: expected %x, got %x", aethererr.ErrChecksumMismatch, checksum, actual)
		}

		atomic.StoreUint64(r.tail, tail+entrySize)
		return payload, nil
	}
}

func (r *Ring) IsEmpty() bool {
	return r.readableBytes() == 0
}

// Stats is a point-in-time occupancy snapshot, published on the stats
// channel per spec §4.J's ring_stats field.
type Stats struct {
	Capacity uint64
	Free     uint64
	Readable uint64
}

func (r *Ring) Stats() Stats {
	return Stats{
		Capacity: r.capacity(),
		Free:     r.freeSpace(),
		Readable: r.readableBytes(),
	}
}
