package loader

import (
	"talus/kernel/mem"
	"testing"
)

func TestLoadIndexBadIndexFails(t *testing.T) {
	old := Directory
	Directory = []Program{{Entry: 0x400000}}
	defer func() { Directory = old }()

	_, err := LoadIndex(nil, nil, 1)
	if err != ErrBadIndex {
		t.Fatalf("expected ErrBadIndex, got %v", err)
	}
}

func TestValidateSegmentRejectsBelowUserStart(t *testing.T) {
	h := ProgramHeader{Vaddr: mem.UserStart - uintptr(mem.PageSize), MemSize: uint32(mem.PageSize)}
	if err := validateSegment(h); err != ErrSegment {
		t.Fatalf("expected ErrSegment for a vaddr below UserStart, got %v", err)
	}
}

func TestValidateSegmentRejectsAtOrAboveKernelStart(t *testing.T) {
	h := ProgramHeader{Vaddr: mem.KernelStart - uintptr(mem.PageSize), MemSize: uint32(2 * mem.PageSize)}
	if err := validateSegment(h); err != ErrSegment {
		t.Fatalf("expected ErrSegment for a range crossing KernelStart, got %v", err)
	}
}

func TestValidateSegmentRejectsOverflow(t *testing.T) {
	h := ProgramHeader{Vaddr: ^uintptr(0) - 10, MemSize: 4096}
	if err := validateSegment(h); err != ErrSegment {
		t.Fatalf("expected ErrSegment for an overflowing range, got %v", err)
	}
}

func TestValidateSegmentAcceptsInBoundsRange(t *testing.T) {
	h := ProgramHeader{Vaddr: mem.UserStart, MemSize: uint32(mem.PageSize)}
	if err := validateSegment(h); err != nil {
		t.Fatalf("expected an in-bounds segment to validate, got %v", err)
	}
}

func TestLoadSegmentBytesCopiesFromDisk(t *testing.T) {
	backing := make([]byte, 64)
	oldWrite, oldRead := writeAtFn, DiskReadFn
	defer func() { writeAtFn, DiskReadFn = oldWrite, oldRead }()

	writeAtFn = func(vaddr uintptr, n int) []byte { return backing[vaddr : vaddr+uintptr(n)] }
	DiskReadFn = func(offset uint32, dst []byte) {
		for i := range dst {
			dst[i] = byte(offset) + byte(i)
		}
	}

	loadSegmentBytes(ProgramHeader{Vaddr: 10, DiskOffset: 5, FileSize: 4})

	want := []byte{5, 6, 7, 8}
	got := backing[10:14]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("loadSegmentBytes mismatch at %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestLoadSegmentBytesSkipsZeroFileSize(t *testing.T) {
	oldRead := DiskReadFn
	defer func() { DiskReadFn = oldRead }()

	called := false
	DiskReadFn = func(uint32, []byte) { called = true }

	loadSegmentBytes(ProgramHeader{Vaddr: 10, FileSize: 0, MemSize: uint32(mem.PageSize)})

	if called {
		t.Error("expected a bss-only segment (FileSize 0) not to touch the disk")
	}
}

func TestEntryFrameRunsInRing3WithInterruptsEnabled(t *testing.T) {
	frame := entryFrame(0x401000)

	if !frame.UserMode() {
		t.Error("expected the initial frame to run at ring 3")
	}
	if frame.EIP != 0x401000 {
		t.Errorf("expected EIP to be the program's entry point, got %#x", frame.EIP)
	}
	if frame.EFlags&userFlags == 0 {
		t.Error("expected interrupts to start enabled")
	}
	if uintptr(frame.UserESP) != stackTop {
		t.Errorf("expected UserESP to start at stackTop, got %#x", frame.UserESP)
	}
}
