package mem

// Fixed virtual address-space layout, identical in every process (spec §3).
//
//	0x00000000..0x00400000   NULL region (unmapped, one PDE)
//	0x00400000..0xF0000000   user pages (per-process, COW across fork)
//	0xF0000000..0xFF7FE000   kernel text/data/bss/heap (shared)
//	0xFF7FE000..0xFF800000   two single-page temporary-mapping windows
//	0xFF800000..0xFFC00000   per-frame PageInfo array (backed by zero page, RO, COW)
//	0xFFC00000..0xFFFFFFFF   recursive pagetable window (per-process)
const (
	NullRegionStart = uintptr(0x00000000)
	UserStart       = uintptr(0x00400000)
	KernelStart     = uintptr(0xF0000000)

	// TempMapStart and TempMapStart2 are reserved, single-page windows
	// used to reach an arbitrary physical frame (a not-yet-active page
	// table or page directory, or the other side of a COW copy) that the
	// recursive mapping trick cannot address because it isn't part of
	// the active address space yet. Their page table is installed once
	// at boot and is shared like the rest of the kernel region, so only
	// one CPU may hold either window mapped at a time -- fine under the
	// kernel's non-SMP, single-CPU assumption.
	TempMapStart  = uintptr(0xFF7FE000)
	TempMapStart2 = uintptr(0xFF7FF000)

	PageInfoStart  = uintptr(0xFF800000)
	RecursiveStart = uintptr(0xFFC00000)

	// RecursivePDIndex is the page-directory index of RecursiveStart,
	// i.e. the last entry of every page directory (1024 entries of 4 MiB
	// each cover the full 32-bit space; RecursiveStart's index is 1023).
	RecursivePDIndex = uintptr(RecursiveStart) >> 22

	// PDEntries and PTEntries are the number of entries in a page
	// directory / page table on 32-bit x86 (non-PAE) paging.
	PDEntries = 1024
	PTEntries = 1024

	// PDESize is the span of virtual address space covered by a single
	// page directory entry (one page table's worth of pages).
	PDESize = uintptr(PTEntries) * uintptr(PageSize)
)

// UserAccessible reports whether vaddr falls in the per-process user region
// that userland may map into, as opposed to the NULL region or any
// kernel-reserved region above KernelStart.
func UserAccessible(vaddr uintptr) bool {
	return vaddr >= UserStart && vaddr < KernelStart
}
