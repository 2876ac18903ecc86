package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

func sampleSlots() [NumSlots]dco.Slot {
	var slots [NumSlots]dco.Slot
	for i := range slots {
		slots[i] = dco.SlotFor(dco.Config{RSel: byte(i), Step: byte(i % 8), Mod: byte(2 * i)})
	}
	return slots
}

func TestMemoryEmptyThenCommit(t *testing.T) {
	m := NewMemory()

	empty, err := m.IsEmpty()
	if err != nil || !empty {
		t.Fatalf("fresh store: IsEmpty = %v, %v; want true, nil", empty, err)
	}

	slots := sampleSlots()
	if err := m.Commit(slots); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	empty, err = m.IsEmpty()
	if err != nil || empty {
		t.Fatalf("after commit: IsEmpty = %v, %v; want false, nil", empty, err)
	}

	got, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != slots {
		t.Fatalf("Load = %v, want %v", got, slots)
	}
	if m.Commits != 1 {
		t.Fatalf("Commits = %d, want 1", m.Commits)
	}
}

func TestMemorySingleByteBreaksEmptiness(t *testing.T) {
	m := NewMemory()
	slots, _ := m.Load()
	slots[4][1] = 0x8C
	if err := m.Commit(slots); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	empty, err := m.IsEmpty()
	if err != nil || empty {
		t.Fatalf("one non-sentinel byte: IsEmpty = %v, %v; want false, nil", empty, err)
	}
}

func TestMemoryCommitNeedsFactoryCal(t *testing.T) {
	m := NewMemory()
	m.SetFactoryCal(dco.Slot{dco.EmptyByte, dco.EmptyByte})

	err := m.Commit(sampleSlots())
	if !errors.Is(err, ErrNoFactoryCal) {
		t.Fatalf("err = %v, want ErrNoFactoryCal", err)
	}

	// Half-blank factory cal is just as invalid.
	m.SetFactoryCal(dco.Slot{0x86, dco.EmptyByte})
	if err := m.Commit(sampleSlots()); !errors.Is(err, ErrNoFactoryCal) {
		t.Fatalf("half-blank: err = %v, want ErrNoFactoryCal", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "infob.bin")

	f, err := NewFile(path, dco.Slot{0x86, 0x8D})
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	empty, err := f.IsEmpty()
	if err != nil || !empty {
		t.Fatalf("fresh image: IsEmpty = %v, %v; want true, nil", empty, err)
	}

	slots := sampleSlots()
	if err := f.Commit(slots); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Reopen and read back.
	f2, err := NewFile(path, dco.Slot{0x86, 0x8D})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := f2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != slots {
		t.Fatalf("Load = %v, want %v", got, slots)
	}
}

func TestFileStoreFactoryGate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "infob.bin")
	f, err := NewFile(path, dco.Slot{dco.EmptyByte, dco.EmptyByte})
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := f.Commit(sampleSlots()); !errors.Is(err, ErrNoFactoryCal) {
		t.Fatalf("err = %v, want ErrNoFactoryCal", err)
	}
}
