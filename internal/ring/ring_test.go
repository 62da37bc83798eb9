package ring

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
	"github.com/ankitkpandey1/aetherless/internal/shm"
)

func newTestRing(t *testing.T, dataCapacity int) *Ring {
	t.Helper()
	name := fmt.Sprintf("aetherless-ring-test-%s", t.Name())
	region, err := shm.Create(name, HeaderSize+dataCapacity)
	if err != nil {
		t.Fatalf("unexpected error creating region: %v", err)
	}
	t.Cleanup(func() { region.Close() })

	r, err := New(region)
	if err != nil {
		t.Fatalf("unexpected error creating ring: %v", err)
	}
	return r
}

func TestWriteReadRoundTrip(t *testing.T) {
	r := newTestRing(t, 65536)
	payload := []byte("hello, function")

	if err := r.Write(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestChecksumMismatchDoesNotAdvanceTail(t *testing.T) {
	r := newTestRing(t, 65536)
	payload := []byte("corrupt me")

	if err := r.Write(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Flip a byte in the payload region directly in shared memory.
	r.data[entryHeaderSize] ^= 0xFF

	before := r.loadTail()
	if _, err := r.Read(); err == nil {
		t.Fatalf("expected checksum mismatch error")
	} else if !errors.Is(err, aethererr.ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if r.loadTail() != before {
		t.Fatalf("tail advanced despite checksum mismatch")
	}
}

func TestWriteFullDeterministic(t *testing.T) {
	r := newTestRing(t, 65536)
	big := make([]byte, r.MaxPayload()+1)
	if err := r.Write(big); err == nil {
		t.Fatalf("expected Full error for payload exceeding capacity/2")
	}
}

func TestFullThenReadFreesSpace(t *testing.T) {
	r := newTestRing(t, 65536)

	// first's 32776-byte entry leaves 32760 bytes free, too few for second's
	// 32776-byte entry; once first is read, second fits behind a skip entry.
	first := make([]byte, r.MaxPayload())
	second := bytes.Repeat([]byte{0xAB}, int(r.MaxPayload()))

	if err := r.Write(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Write(second); err == nil {
		t.Fatalf("expected second write to fail Full")
	}

	if _, err := r.Read(); err != nil {
		t.Fatalf("unexpected error reading: %v", err)
	}

	if err := r.Write(second); err != nil {
		t.Fatalf("expected second write to succeed after read: %v", err)
	}
	got, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Fatalf("got %d bytes, want %d", len(got), len(second))
	}
}

func TestSkipEntryOnWraparound(t *testing.T) {
	r := newTestRing(t, 65536)

	// Advance head to 8 bytes short of the end of the data area (entries of
	// 32768 and 32760 bytes), so the next write would cross the boundary and
	// force a skip entry.
	for _, n := range []uint64{r.MaxPayload() - 8, r.MaxPayload() - 16} {
		if err := r.Write(make([]byte, n)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := r.Read(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	headBefore := r.loadHead()
	payload := []byte("wraps around the end")
	if err := r.Write(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.loadHead() <= headBefore {
		t.Fatalf("expected head to advance past the skip entry")
	}

	got, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

