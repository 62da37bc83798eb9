package shm

import (
	"fmt"
	"testing"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("aetherless-test-%s-%d", t.Name(), uint32(len(t.Name())))
}

func TestCreateSizeValidation(t *testing.T) {
	if _, err := Create(uniqueName(t), 100); err == nil {
		t.Fatalf("expected error for size below minimum")
	}
	if _, err := Create(uniqueName(t), MaxSize+1); err == nil {
		t.Fatalf("expected error for size above maximum")
	}
}

func TestCreateEmptyName(t *testing.T) {
	if _, err := Create("", MinSize); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	name := uniqueName(t)
	region, err := Create(name, MinSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer region.Close()

	region.Bytes()[0] = 0xAB

	opened, err := Open(name, MinSize)
	if err != nil {
		t.Fatalf("unexpected error opening existing region: %v", err)
	}
	defer func() {
		if err := opened.Close(); err != nil {
			t.Fatalf("unexpected error closing opened region: %v", err)
		}
	}()

	if opened.Bytes()[0] != 0xAB {
		t.Fatalf("expected to observe byte written by creator")
	}
	if opened.Len() != MinSize {
		t.Fatalf("expected len %d, got %d", MinSize, opened.Len())
	}
}
