package vmm

import (
	"talus/kernel/mem"
	"unsafe"
)

// Recursive mapping (spec §3, §4.2): the last page-directory entry points
// back at the page directory itself. That single self-reference makes
// every PDE and PTE in the *active* address space addressable by a
// formula on its virtual address, with no separate bookkeeping table:
//
//   - the page directory's own 1024 entries become visible at the top 4 KiB
//     of the address space (pdSelfBase..pdSelfBase+4KiB);
//   - the PTE that finally maps any virtual address v becomes visible at
//     RecursiveStart + (v>>12)*4, a flat 4 MiB array of the 2^20 possible
//     PTEs that happens to alias the page directory itself at its own
//     (recursive) slot.
//
// The single line in spec §8 invariant 6 ("the PTE at address 0xFFFFF000 |
// ((v>>12)*4)") conflates the two formulas above; taken literally it would
// OR every lookup into the same 4 KiB page regardless of v, which cannot
// be what a working recursive-mapping scheme does. talus implements the
// standard two-step formula below instead and treats the spec's one-liner
// as an imprecise shorthand for it.
var (
	pdSelfBase = mem.RecursiveStart + uintptr(mem.RecursivePDIndex)*uintptr(mem.PageSize)
)

func pdeAddress(vaddr uintptr) uintptr {
	return pdSelfBase + (vaddr>>22)*4
}

func pteAddress(vaddr uintptr) uintptr {
	return mem.RecursiveStart + (vaddr>>12)*4
}

// entryAt and setEntryAt are the sole points where the mapper dereferences
// a raw virtual address. They are swapped out in tests (which have no
// recursively-mapped hardware page tables to read) for a fake flat
// backing store; in the kernel build they resolve to a direct pointer
// dereference, since by definition any address computed by pdeAddress or
// pteAddress already lies in the recursive window and is safe to read
// once paging is enabled.
var (
	entryAtFn = func(vaddr uintptr) entry {
		return *(*entry)(unsafe.Pointer(vaddr))
	}
	setEntryAtFn = func(vaddr uintptr, e entry) {
		*(*entry)(unsafe.Pointer(vaddr)) = e
	}
)

func entryAt(vaddr uintptr) entry       { return entryAtFn(vaddr) }
func setEntryAt(vaddr uintptr, e entry) { setEntryAtFn(vaddr, e) }
