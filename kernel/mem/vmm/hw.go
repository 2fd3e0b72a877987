package vmm

import (
	"talus/kernel/cpu"
	"talus/kernel/mem"
	"unsafe"
)

// Indirections over the cpu package and raw memory access, overridden in
// tests: there is no MMU to switch, no TLB to flush, and no real address
// space to dereference when a test builds its page tables purely out of Go
// maps and slices.
var (
	readCR3Fn       = cpu.ReadCR3
	switchCR3Fn     = cpu.SwitchCR3
	flushTLBEntryFn = cpu.FlushTLBEntry

	bytesAtFn = func(vaddr uintptr) []byte {
		return unsafe.Slice((*byte)(unsafe.Pointer(vaddr)), int(mem.PageSize))
	}
	entriesAtFn = func(vaddr uintptr) []entry {
		return unsafe.Slice((*entry)(unsafe.Pointer(vaddr)), mem.PDEntries)
	}
)

// bytesAt views the page at vaddr as a byte slice, for zeroing and copying
// frame contents through a temporary mapping.
func bytesAt(vaddr uintptr) []byte { return bytesAtFn(vaddr) }

// entriesAt views the page at vaddr as the 1024 page directory or page
// table entries it holds, for bulk-filling a table built off to the side
// through a temporary mapping.
func entriesAt(vaddr uintptr) []entry { return entriesAtFn(vaddr) }
