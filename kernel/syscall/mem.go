package syscall

import (
	"talus/kernel/mem"
	"talus/kernel/mem/pmm"
	"unsafe"
)

// peekFn dereferences n bytes of memory starting at vaddr in the currently
// active address space. Overridden in tests with a plain byte-slice-backed
// fake so no real virtual addresses need to be dereferenced.
var peekFn = func(vaddr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(vaddr)), n)
}

func readU32(vaddr uintptr) uint32 {
	b := peekFn(vaddr, 4)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func readUserBytes(vaddr uintptr, n int) []byte {
	dst := make([]byte, n)
	copy(dst, peekFn(vaddr, n))
	return dst
}

// resolveCOW resolves a pending copy-on-write fault on the page containing
// vaddr before the kernel writes through it directly. A real CPU write to a
// COW-protected user page would retrigger the page fault handler and reach
// the same CowIfNeeded call (vmm/fault.go); doing it explicitly here avoids
// depending on a nested trap for a write the kernel itself originates.
func resolveCOW(as AddressSpace, alloc *pmm.Allocator, vaddr uintptr, length int) {
	start := mem.PageAlignDown(vaddr)
	end := vaddr + uintptr(length)
	for p := start; p < end; p += uintptr(mem.PageSize) {
		as.CowIfNeeded(p, alloc)
	}
}

// writeUserBytes writes data into the currently active address space at
// vaddr, resolving any copy-on-write page first.
func writeUserBytes(as AddressSpace, alloc *pmm.Allocator, vaddr uintptr, data []byte) {
	if len(data) == 0 {
		return
	}
	resolveCOW(as, alloc, vaddr, len(data))
	copy(peekFn(vaddr, len(data)), data)
}

// writeResultU32 writes a single result word, resolving COW first.
func writeResultU32(as AddressSpace, alloc *pmm.Allocator, vaddr uintptr, v uint32) {
	resolveCOW(as, alloc, vaddr, 4)
	putU32(peekFn(vaddr, 4), v)
}

// writeResultPair writes a two-word result (the pipe/read/write wire shape).
func writeResultPair(as AddressSpace, alloc *pmm.Allocator, vaddr uintptr, a, b uint32) {
	resolveCOW(as, alloc, vaddr, 8)
	buf := peekFn(vaddr, 8)
	putU32(buf[0:4], a)
	putU32(buf[4:8], b)
}
