package vmm

import (
	"talus/kernel"
	"talus/kernel/mem"
	"talus/kernel/mem/pmm"
)

var (
	errNotActive     = &kernel.Error{Module: "vmm", Message: "address space is not the active mapping"}
	errNotMapped     = &kernel.Error{Module: "vmm", Message: "virtual address has no mapping"}
	errAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped"}
	errUnaligned     = &kernel.Error{Module: "vmm", Message: "address is not page-aligned"}
	errBadAccess     = &kernel.Error{Module: "vmm", Message: "access outside a valid user mapping"}
	errOutOfSpace    = &kernel.Error{Module: "vmm", Message: "no unused virtual address range of the requested size"}
	errNotCOWFault   = &kernel.Error{Module: "vmm", Message: "fault address is not backed by a cow mapping"}
)

// AddressSpace is a handle to one process's page directory (spec §4.2).
// Because every lookup goes through the recursive self-mapping in walk.go,
// an AddressSpace can only be read or edited while it is the mapping
// currently loaded into CR3 -- there is no way to address a page table
// belonging to some other, inactive address space except by temporarily
// mapping its backing frame (tempmap.go). Map, Unmap and the fault/COW
// helpers below all check isActive rather than silently touching the
// wrong process's tables.
type AddressSpace struct {
	pdtFrame pmm.Frame
}

// New wraps an already-built page directory frame (typically produced by
// Fork, or by the bootstrap code that sets up the first process).
func New(pdtFrame pmm.Frame) *AddressSpace {
	return &AddressSpace{pdtFrame: pdtFrame}
}

// Active returns the page directory frame currently loaded into CR3.
func Active() pmm.Frame {
	return pmm.Frame(mem.PageAlignDown(readCR3Fn()))
}

// PDTFrame returns the frame backing this address space's page directory.
func (as *AddressSpace) PDTFrame() pmm.Frame { return as.pdtFrame }

func (as *AddressSpace) isActive() bool {
	return as.pdtFrame == Active()
}

// SwitchTo loads as into CR3, making it the active address space.
func (as *AddressSpace) SwitchTo() {
	switchCR3Fn(as.pdtFrame.Address())
}

func (as *AddressSpace) ensurePageTable(vaddr uintptr, alloc *pmm.Allocator) *kernel.Error {
	pde := pdeAddress(vaddr)
	if entryAt(pde).hasFlag(FlagPresent) {
		return nil
	}

	f, err := alloc.Alloc()
	if err != nil {
		return err
	}
	zeroFrame(f)

	flags := FlagPresent | FlagRW
	if mem.UserAccessible(vaddr) {
		flags |= FlagUser
	}
	setEntryAt(pde, makeEntry(f, flags))
	return nil
}

// Map installs a present PTE mapping vaddr to f, allocating a fresh page
// table from alloc if vaddr's 4 MiB region has no page table yet.
func (as *AddressSpace) Map(vaddr uintptr, f pmm.Frame, flags entryFlag, alloc *pmm.Allocator) *kernel.Error {
	if !as.isActive() {
		return errNotActive
	}
	if vaddr&mem.PageMask != 0 {
		return errUnaligned
	}
	if err := as.ensurePageTable(vaddr, alloc); err != nil {
		return err
	}

	pte := pteAddress(vaddr)
	if entryAt(pte).hasFlag(FlagPresent) {
		return errAlreadyMapped
	}

	setEntryAt(pte, makeEntry(f, flags|FlagPresent))
	flushTLBEntryFn(vaddr)
	return nil
}

// MapZeroed maps vaddr to the shared zero page, read-only and marked COW,
// regardless of any writable bit set in flags (spec §4.2's map_zeroed: map
// to the zero page, read-only, "regardless of the writable flag"). A read
// is satisfied directly by the always-present zero page and allocates
// nothing; the first write takes a COW fault that allocates the one real
// frame the mapping actually needs (spec §8.4).
func (as *AddressSpace) MapZeroed(vaddr uintptr, flags entryFlag, alloc *pmm.Allocator) *kernel.Error {
	flags = (flags &^ FlagRW) | FlagCOW
	return as.Map(vaddr, alloc.ZeroPage(), flags, alloc)
}

// MapEagerZeroed allocates a fresh, zeroed frame and maps it at vaddr
// immediately, rather than deferring the allocation to a later COW fault.
// The ELF loader needs this: it fills a segment's pages by writing bytes
// directly into already-mapped memory (loadSegmentBytes), bypassing the
// MMU write path that would otherwise raise the COW fault MapZeroed relies
// on to do its lazy allocation.
func (as *AddressSpace) MapEagerZeroed(vaddr uintptr, flags entryFlag, alloc *pmm.Allocator) *kernel.Error {
	f, err := alloc.Alloc()
	if err != nil {
		return err
	}
	zeroFrame(f)
	if err := as.Map(vaddr, f, flags, alloc); err != nil {
		alloc.Free(f)
		return err
	}
	return nil
}

// Unmap clears the PTE mapping vaddr, without freeing the frame it named;
// callers that own the frame's last reference are responsible for calling
// Allocator.Free themselves.
func (as *AddressSpace) Unmap(vaddr uintptr) *kernel.Error {
	if !as.isActive() {
		return errNotActive
	}
	pte := pteAddress(vaddr)
	if !entryAt(pte).hasFlag(FlagPresent) {
		return errNotMapped
	}
	setEntryAt(pte, entry(0))
	flushTLBEntryFn(vaddr)
	return nil
}

// GetMapping reports the frame and flags a present PTE maps vaddr to.
func (as *AddressSpace) GetMapping(vaddr uintptr) (pmm.Frame, entryFlag, *kernel.Error) {
	if !as.isActive() {
		return pmm.InvalidFrame, 0, errNotActive
	}
	if !entryAt(pdeAddress(vaddr)).hasFlag(FlagPresent) {
		return pmm.InvalidFrame, 0, errNotMapped
	}
	pte := entryAt(pteAddress(vaddr))
	if !pte.hasFlag(FlagPresent) {
		return pmm.InvalidFrame, 0, errNotMapped
	}
	return pte.frame(), entryFlag(uint32(pte) &^ entryAddrMask), nil
}

// TranslateToFrame implements pmm.Mapper.
func (as *AddressSpace) TranslateToFrame(vaddr uintptr) (pmm.Frame, *kernel.Error) {
	f, _, err := as.GetMapping(mem.PageAlignDown(vaddr))
	return f, err
}

// DemoteToCOW implements pmm.Mapper: it rewrites the PTE mapping vaddr to
// be read-only and COW, without changing the frame it points to.
func (as *AddressSpace) DemoteToCOW(vaddr uintptr) *kernel.Error {
	if !as.isActive() {
		return errNotActive
	}
	pte := pteAddress(mem.PageAlignDown(vaddr))
	e := entryAt(pte)
	if !e.hasFlag(FlagPresent) {
		return errNotMapped
	}
	e.clearFlag(FlagRW)
	e.setFlag(FlagCOW)
	setEntryAt(pte, e)
	flushTLBEntryFn(vaddr)
	return nil
}

// DemoteToReadOnly clears the writable flag on the PTE mapping vaddr,
// leaving any COW state untouched. The ELF loader uses this to protect a
// read-only segment once its file-backed bytes have been copied in, since
// MapEagerZeroed installs the segment's pages writable to allow that copy.
func (as *AddressSpace) DemoteToReadOnly(vaddr uintptr) *kernel.Error {
	if !as.isActive() {
		return errNotActive
	}
	pte := pteAddress(mem.PageAlignDown(vaddr))
	e := entryAt(pte)
	if !e.hasFlag(FlagPresent) {
		return errNotMapped
	}
	e.clearFlag(FlagRW)
	setEntryAt(pte, e)
	flushTLBEntryFn(vaddr)
	return nil
}

// ValidateRange checks that every page covering [vaddr, vaddr+length) is
// present, user-accessible, and (if needWrite) either already writable or
// resolvable by a COW fault. It is the primitive the syscall dispatcher
// uses to validate a userspace pointer before the kernel reads or writes
// through it (spec §4.5).
func (as *AddressSpace) ValidateRange(vaddr, length uintptr, needWrite bool) *kernel.Error {
	if length == 0 {
		return nil
	}
	if vaddr+length < vaddr {
		return errBadAccess
	}
	start := mem.PageAlignDown(vaddr)
	end := mem.PageAlignUp(vaddr + length)

	for p := start; p < end; p += uintptr(mem.PageSize) {
		if !mem.UserAccessible(p) {
			return errBadAccess
		}
		_, flags, err := as.GetMapping(p)
		if err != nil {
			return errBadAccess
		}
		if flags&FlagUser == 0 {
			return errBadAccess
		}
		if needWrite && flags&FlagRW == 0 && flags&FlagCOW == 0 {
			return errBadAccess
		}
	}
	return nil
}

// CowIfNeeded resolves a write fault at vaddr against a COW mapping,
// per the allocator's takeover-or-copy state machine (spec §4.1, §4.2).
func (as *AddressSpace) CowIfNeeded(vaddr uintptr, alloc *pmm.Allocator) *kernel.Error {
	if !as.isActive() {
		return errNotActive
	}
	page := mem.PageAlignDown(vaddr)
	pte := pteAddress(page)
	e := entryAt(pte)
	if !e.hasFlag(FlagPresent) || !e.hasFlag(FlagCOW) {
		return errNotCOWFault
	}

	oldFrame := e.frame()
	newFrame, copied, err := alloc.CowTakeoverOrCopy(oldFrame)
	if err != nil {
		return err
	}
	if copied {
		copyFrame(newFrame, oldFrame)
	}

	e.setFrame(newFrame)
	e.setFlag(FlagRW)
	e.clearFlag(FlagCOW)
	setEntryAt(pte, e)
	flushTLBEntryFn(page)
	return nil
}

func (as *AddressSpace) isMapped(vaddr uintptr) bool {
	if !entryAt(pdeAddress(vaddr)).hasFlag(FlagPresent) {
		return false
	}
	return entryAt(pteAddress(vaddr)).hasFlag(FlagPresent)
}

// FindUnusedUserspace scans the user region for the first run of pages
// contiguous unmapped pages, for mmap-style allocation (e.g. growing a
// process's heap or stack).
func (as *AddressSpace) FindUnusedUserspace(pages int) (uintptr, *kernel.Error) {
	return as.findUnused(mem.UserStart, mem.KernelStart, pages)
}

// FindUnusedKernelspace is FindUnusedUserspace's counterpart for the shared
// kernel region below the temporary-mapping windows, used by kernel/heap
// to reserve virtual address ranges above the per-process split.
func (as *AddressSpace) FindUnusedKernelspace(pages int) (uintptr, *kernel.Error) {
	return as.findUnused(mem.KernelStart, mem.TempMapStart, pages)
}

func (as *AddressSpace) findUnused(lo, hi uintptr, pages int) (uintptr, *kernel.Error) {
	if !as.isActive() {
		return 0, errNotActive
	}
	need := uintptr(pages)
	run := uintptr(0)
	start := lo

	for v := lo; v < hi; v += uintptr(mem.PageSize) {
		if as.isMapped(v) {
			run = 0
			start = v + uintptr(mem.PageSize)
			continue
		}
		run++
		if run == need {
			return start, nil
		}
	}
	return 0, errOutOfSpace
}
