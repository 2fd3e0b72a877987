package vmm

import (
	"talus/kernel"
	"talus/kernel/mem"
	"talus/kernel/mem/pmm"
)

// Fork builds a child address space that shares every data page with as,
// demoting each to copy-on-write in both parent and child, per spec §4.1's
// fork semantics. as must be the active address space; the new address
// space is returned inactive. The fork syscall (spec §4.4) assigns this
// new space's cr3 to the parent and loads it, and leaves the child on the
// cr3 that was already active.
//
// The child's page directory is assembled off to the side through the
// temporary mapping window rather than in place, since until the final
// SwitchTo it is not reachable through the recursive mapping trick at all.
func (as *AddressSpace) Fork(alloc *pmm.Allocator) (*AddressSpace, *kernel.Error) {
	if !as.isActive() {
		return nil, errNotActive
	}

	pdFrame, err := alloc.Alloc()
	if err != nil {
		return nil, err
	}

	var entries [mem.PDEntries]entry
	entries[mem.RecursivePDIndex] = makeEntry(pdFrame, FlagPresent|FlagRW)

	for i := uintptr(0); i < mem.PDEntries; i++ {
		if i == mem.RecursivePDIndex {
			continue
		}
		vaddr := i << 22

		parentPDE := entryAt(pdeAddress(vaddr))
		if !parentPDE.hasFlag(FlagPresent) {
			continue
		}

		if vaddr >= mem.KernelStart {
			// Kernel region: every address space shares the same
			// underlying page table frame.
			entries[i] = parentPDE
			continue
		}

		childPT, perr := alloc.Alloc()
		if perr != nil {
			return nil, perr
		}
		if cerr := as.cloneUserPageTable(vaddr, childPT, alloc); cerr != nil {
			return nil, cerr
		}

		flags := entryFlag(uint32(parentPDE) &^ entryAddrMask)
		entries[i] = makeEntry(childPT, flags)
	}

	withTemporaryMapping(pdFrame, func(base uintptr) {
		dst := entriesAt(base)
		for i, e := range entries {
			dst[i] = e
		}
	})

	return &AddressSpace{pdtFrame: pdFrame}, nil
}

// cloneUserPageTable fills childPT with a copy of the page table that maps
// baseVaddr..baseVaddr+PDESize in the active address space, demoting every
// present, non-zero-page entry to COW in both the parent (in place, via
// the allocator) and the child (in the freshly built table).
func (as *AddressSpace) cloneUserPageTable(baseVaddr uintptr, childPT pmm.Frame, alloc *pmm.Allocator) *kernel.Error {
	var ferr *kernel.Error

	withTemporaryMapping(childPT, func(base uintptr) {
		dst := entriesAt(base)
		for j := uintptr(0); j < mem.PTEntries; j++ {
			vaddr := baseVaddr + j*uintptr(mem.PageSize)
			parentPTE := entryAt(pteAddress(vaddr))
			if !parentPTE.hasFlag(FlagPresent) {
				dst[j] = entry(0)
				continue
			}

			f := parentPTE.frame()
			if f == alloc.ZeroPage() {
				// A page still backed by the shared zero page (never
				// written since MapZeroed installed it) needs no COW
				// setup of its own: both parent and child keep reading
				// the same always-present frame until one of them
				// writes, which resolves through CowIfNeeded exactly
				// like any other COW fault.
				dst[j] = parentPTE
				continue
			}

			if err := alloc.ShareVaddrCOW(vaddr, as); err != nil {
				ferr = err
				return
			}

			flags := (entryFlag(uint32(parentPTE)&^entryAddrMask) &^ FlagRW) | FlagCOW
			dst[j] = makeEntry(f, flags)
		}
	})

	return ferr
}
