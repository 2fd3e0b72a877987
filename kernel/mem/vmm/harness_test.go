package vmm

import (
	"talus/kernel/mem"
	"talus/kernel/mem/pmm"
)

// fakeMMU stands in for the MMU + physical memory in tests: page
// directory and page table frames are [mem.PDEntries]entry arrays, data
// frames are [mem.PageSize]byte arrays, and CR3 is just a Go variable.
// It implements the same address-resolution rules as the real recursive
// mapping (pdeAddress/pteAddress), so the code under test cannot tell the
// difference.
type fakeMMU struct {
	active pmm.Frame
	pt     map[pmm.Frame]*[mem.PDEntries]entry
	data   map[pmm.Frame]*[mem.PageSize]byte
}

func newFakeMMU() *fakeMMU {
	return &fakeMMU{
		pt:   make(map[pmm.Frame]*[mem.PDEntries]entry),
		data: make(map[pmm.Frame]*[mem.PageSize]byte),
	}
}

func (m *fakeMMU) table(f pmm.Frame) *[mem.PDEntries]entry {
	t, ok := m.pt[f]
	if !ok {
		t = &[mem.PDEntries]entry{}
		m.pt[f] = t
	}
	return t
}

func (m *fakeMMU) page(f pmm.Frame) *[mem.PageSize]byte {
	p, ok := m.data[f]
	if !ok {
		p = &[mem.PageSize]byte{}
		m.data[f] = p
	}
	return p
}

// resolve returns the (frame, index) pair that vaddr, interpreted as a PDE
// or PTE slot address, refers to against the active page directory.
func (m *fakeMMU) resolve(vaddr uintptr) (pmm.Frame, int) {
	switch {
	case vaddr >= 0xFFFFF000:
		// PDE address: the top 4 KiB of the recursive window is the
		// active page directory's own entries (the self-map's target).
		slot := (vaddr - 0xFFFFF000) / 4
		return m.active, int(slot)
	default:
		// PTE address: a flat array of (v>>12) slots across all 1024
		// page tables the active PD references. High bits select the
		// page table (by way of its owning PDE), low 10 select the
		// entry within it.
		slot := (vaddr - mem.RecursiveStart) / 4
		pdIndex := slot >> 10
		ptIndex := slot & (mem.PTEntries - 1)
		pd := m.table(m.active)
		ptFrame := pd[pdIndex].frame()
		return ptFrame, int(ptIndex)
	}
}

func (m *fakeMMU) install() (restore func()) {
	origEntryAt, origSetEntryAt := entryAtFn, setEntryAtFn
	origBytesAt, origEntriesAt := bytesAtFn, entriesAtFn
	origReadCR3, origSwitchCR3, origFlush := readCR3Fn, switchCR3Fn, flushTLBEntryFn

	entryAtFn = func(vaddr uintptr) entry {
		f, idx := m.resolve(vaddr)
		return m.table(f)[idx]
	}
	setEntryAtFn = func(vaddr uintptr, e entry) {
		f, idx := m.resolve(vaddr)
		m.table(f)[idx] = e
	}
	entriesAtFn = func(vaddr uintptr) []entry {
		f := m.windowFrame(vaddr)
		return m.table(f)[:]
	}
	bytesAtFn = func(vaddr uintptr) []byte {
		f := m.windowFrame(vaddr)
		return m.page(f)[:]
	}
	readCR3Fn = func() uintptr { return m.active.Address() }
	switchCR3Fn = func(addr uintptr) { m.active = pmm.Frame(mem.PageAlignDown(addr)) }
	flushTLBEntryFn = func(uintptr) {}

	return func() {
		entryAtFn, setEntryAtFn = origEntryAt, origSetEntryAt
		bytesAtFn, entriesAtFn = origBytesAt, origEntriesAt
		readCR3Fn, switchCR3Fn, flushTLBEntryFn = origReadCR3, origSwitchCR3, origFlush
	}
}

// windowFrame reports which physical frame is currently mapped at one of
// the two temporary-mapping windows.
func (m *fakeMMU) windowFrame(window uintptr) pmm.Frame {
	f, idx := m.resolve(pteAddress(window))
	return m.table(f)[idx].frame()
}

// newTestAllocatorVMM builds a pmm.Allocator big enough for these tests,
// distinct from pmm's own package-internal test allocator.
func newTestAllocatorVMM() *pmm.Allocator {
	var a pmm.Allocator
	a.Init([]pmm.Region{
		{Start: 0, End: 0x1000, Type: pmm.RegionReserved},
		{Start: 0x1000, End: 0x100000, Type: pmm.RegionAvailable},
	}, 0x1000, 256)
	return &a
}
