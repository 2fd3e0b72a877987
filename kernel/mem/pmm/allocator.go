package pmm

import (
	"talus/kernel"
	"talus/kernel/mem"
	"talus/kernel/sync"
)

var (
	errOutOfMemory = &kernel.Error{Module: "pmm", Message: "no physical memory remains"}
	errBadFree     = &kernel.Error{Module: "pmm", Message: "free of address below PHYSALLOC_START"}
	errBadShare    = &kernel.Error{Module: "pmm", Message: "share of a frame that is not eligible for sharing"}
	errNotCOW      = &kernel.Error{Module: "pmm", Message: "cow_if_needed called on a non-cow frame"}
)

// Mapper is the thin slice of the virtual memory mapper that the physical
// allocator needs in order to implement ShareVaddrCOW: demoting a live PTE
// to read-only crosses from "frame bookkeeping" into "page table editing",
// which is vmm's job. Declaring the interface here (rather than importing
// vmm) keeps the dependency pointed the way the spec's layering implies:
// vmm depends on pmm for frames, not the other way around.
type Mapper interface {
	// TranslateToFrame returns the physical frame currently backing vaddr.
	TranslateToFrame(vaddr uintptr) (Frame, *kernel.Error)
	// DemoteToCOW rewrites the PTE mapping vaddr to be read-only and
	// flushes its TLB entry, without changing which frame it points to.
	DemoteToCOW(vaddr uintptr) *kernel.Error
}

// Allocator is the kernel's single physical page allocator: a LIFO
// freelist backed by a bump cursor over the BIOS memory map, plus the
// PageInfo array that makes refcounting and COW possible.
type Allocator struct {
	guard sync.Resource

	mm *memoryMap

	// firstFrame is the lowest frame number covered by infos; frame
	// numbers below it (the kernel image, BIOS-reserved low memory)
	// carry no PageInfo.
	firstFrame uintptr
	infos      []PageInfo

	bumpCursor uintptr
	freeHead   Frame
	hasFree    bool

	zeroPage Frame
}

// Init sets up the allocator over the given memory map. start is the
// physical address (inclusive) from which PageInfo bookkeeping begins
// (PHYSALLOC_START); frameCount bounds how many frames the PageInfo array
// covers, sized by the caller from the reported memory map.
func (a *Allocator) Init(regions []Region, start uintptr, frameCount int) {
	a.mm = newMemoryMap(regions)
	a.firstFrame = FrameFromAddress(start).Number()
	a.infos = make([]PageInfo, frameCount)
	a.bumpCursor = mem.PageAlignUp(start)
	a.hasFree = false
}

// InitZeroPage reserves and zeroes the global zero page. memset is given
// a virtual address (established by the caller, typically via a temporary
// mapping) through which the fresh frame's contents can be cleared.
func (a *Allocator) InitZeroPage(memset func(frame Frame)) (Frame, *kernel.Error) {
	f, err := a.Alloc()
	if err != nil {
		return InvalidFrame, err
	}
	memset(f)
	a.zeroPage = f
	return f, nil
}

// ZeroPage returns the frame reserved by InitZeroPage.
func (a *Allocator) ZeroPage() Frame { return a.zeroPage }

func (a *Allocator) pageInfo(f Frame) *PageInfo {
	idx := f.Number() - a.firstFrame
	return &a.infos[idx]
}

// GetPageInfo returns a read-only view of the bookkeeping for a frame.
func (a *Allocator) GetPageInfo(f Frame) *PageInfo {
	return a.pageInfo(f)
}

// Alloc reserves one physical frame. The freelist, being LIFO, is tried
// first for cache locality on recently-freed pages; only once it is empty
// does the bump cursor advance over the memory map.
func (a *Allocator) Alloc() (Frame, *kernel.Error) {
	if a.hasFree {
		f := a.freeHead
		pi := a.pageInfo(f)
		a.freeHead = pi.next
		a.hasFree = a.freeHead != InvalidFrame
		*pi = PageInfo{free: false, refcount: 0}
		return f, nil
	}

	addr, ok := a.mm.findNext(a.bumpCursor)
	if !ok {
		return InvalidFrame, errOutOfMemory
	}

	f := Frame(addr)
	a.bumpCursor = addr + uintptr(mem.PageSize)
	a.mm.advance(a.bumpCursor)

	*a.pageInfo(f) = PageInfo{free: false, refcount: 0}
	return f, nil
}

// Free decrements a frame's refcount, pushing it onto the freelist once it
// reaches zero live references (refcount field itself reaching the
// sentinel below zero).
func (a *Allocator) Free(f Frame) *kernel.Error {
	if f.Number() < a.firstFrame {
		panic(errBadFree)
	}
	if f == a.zeroPage {
		// The zero page is always referenced and never freed (spec §4.1).
		return nil
	}

	pi := a.pageInfo(f)
	if pi.free {
		panic(errBadFree)
	}

	if pi.refcount == 0 {
		*pi = PageInfo{free: true, next: a.freeHeadOrInvalid()}
		a.freeHead = f
		a.hasFree = true
		return nil
	}

	pi.refcount--
	return nil
}

func (a *Allocator) freeHeadOrInvalid() Frame {
	if a.hasFree {
		return a.freeHead
	}
	return InvalidFrame
}

// Share increments a frame's refcount. The frame must either not be marked
// COW, or already be COW (shared-cow), matching the precondition in spec
// §4.1.
func (a *Allocator) Share(f Frame) *kernel.Error {
	if f == a.zeroPage {
		return nil
	}
	pi := a.pageInfo(f)
	if pi.free {
		panic(errBadShare)
	}
	pi.refcount++
	return nil
}

// ShareVaddrCOW marks the frame backing vaddr as copy-on-write, bumps its
// refcount, and demotes its PTE to read-only, through m. This is the
// building block fork() uses to make a page shared between parent and
// child (spec §4.1, §4.2).
func (a *Allocator) ShareVaddrCOW(vaddr uintptr, m Mapper) *kernel.Error {
	f, err := m.TranslateToFrame(vaddr)
	if err != nil {
		return err
	}

	if f != a.zeroPage {
		pi := a.pageInfo(f)
		if pi.free {
			panic(errBadShare)
		}
		pi.refcount++
		pi.cow = true
	}

	return m.DemoteToCOW(vaddr)
}

// CowTakeoverOrCopy resolves a COW frame at fault time. If the frame's
// refcount has decayed to zero (this mapping is the sole remaining
// reference) the COW bit is simply cleared and the frame may be remapped
// read-write in place -- no copy needed. Otherwise a fresh frame is
// allocated, the caller copies the contents in, and the old frame's
// refcount is decremented. Returns the frame to remap read-write into
// vaddr's PTE, and whether a fresh copy was made.
func (a *Allocator) CowTakeoverOrCopy(f Frame) (newFrame Frame, copied bool, err *kernel.Error) {
	if f == a.zeroPage {
		// The zero page is shared by every MapZeroed mapping in the
		// system at once and carries no per-mapping refcount of its own
		// (spec §4.1's zero page), so a write fault against it can never
		// take over in place -- it always needs a fresh frame.
		nf, allocErr := a.Alloc()
		if allocErr != nil {
			return InvalidFrame, false, allocErr
		}
		return nf, true, nil
	}

	pi := a.pageInfo(f)
	if !pi.cow {
		return InvalidFrame, false, errNotCOW
	}

	if pi.refcount == 0 {
		pi.cow = false
		return f, false, nil
	}

	nf, allocErr := a.Alloc()
	if allocErr != nil {
		return InvalidFrame, false, allocErr
	}
	pi.refcount--
	return nf, true, nil
}
