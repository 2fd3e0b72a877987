package vmm

import (
	"talus/kernel/mem"
	"talus/kernel/mem/pmm"
)

// withTemporaryMapping maps f read-write at mem.TempMapStart for the
// duration of fn, then unmaps it. Used to initialize a frame (a fresh page
// table, a fresh page directory, the destination of a COW copy) that isn't
// reachable through the recursive window because it isn't part of the
// active address space's mapping yet.
func withTemporaryMapping(f pmm.Frame, fn func(vaddr uintptr)) {
	withWindow(mem.TempMapStart, f, fn)
}

// withTemporaryMapping2 is the second, independent window, used alongside
// the first when two physical frames must be visible simultaneously (a COW
// copy's source and destination).
func withTemporaryMapping2(f pmm.Frame, fn func(vaddr uintptr)) {
	withWindow(mem.TempMapStart2, f, fn)
}

func withWindow(window uintptr, f pmm.Frame, fn func(vaddr uintptr)) {
	pte := pteAddress(window)
	if entryAt(pte).hasFlag(FlagPresent) {
		panic("vmm: temporary mapping window already in use")
	}

	setEntryAt(pte, makeEntry(f, FlagPresent|FlagRW))
	flushTLBEntryFn(window)

	fn(window)

	setEntryAt(pte, entry(0))
	flushTLBEntryFn(window)
}

// zeroFrame clears a freshly allocated frame through the temporary window,
// the way a new page table or page directory must be before any of its
// entries are trusted.
func zeroFrame(f pmm.Frame) {
	withTemporaryMapping(f, func(vaddr uintptr) {
		p := bytesAt(vaddr)
		for i := range p {
			p[i] = 0
		}
	})
}

// copyFrame copies the full contents of src into dst, used to resolve a COW
// fault that cannot take the frame over in place.
func copyFrame(dst, src pmm.Frame) {
	withTemporaryMapping(dst, func(dstVaddr uintptr) {
		withTemporaryMapping2(src, func(srcVaddr uintptr) {
			copy(bytesAt(dstVaddr), bytesAt(srcVaddr))
		})
	})
}
