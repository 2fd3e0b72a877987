// Package heap implements the kernel's dynamic allocator (spec §7), which
// carves variable-sized blocks out of the shared kernel region, as distinct
// from kernel/mem/pmm's page-granular frame allocator and kernel/mem/vmm's
// page-table editing. No other package in this tree allocates through it:
// PCBs, fd tables and pipe buffers are ordinary Go values.
//
// Grounded in the original implementation's heap.rs: a size-classed
// freelist allocator with a "big" path for allocations wider than half a
// page. That original recursively buddy-splits and bitmap-tracks blocks
// within a page; this version simplifies to one size class per page with a
// flat intra-page freelist, reclaiming the whole page once its last block
// frees. The simplification trades the original's ability to mix size
// classes on one page for a much smaller bookkeeping surface, which this
// kernel's allocation volume doesn't need.
package heap

import (
	"talus/kernel"
	"talus/kernel/mem"
	"talus/kernel/mem/pmm"
	"talus/kernel/mem/vmm"
	"unsafe"
)

const (
	// minAlloc is the smallest block size ever handed out; anything
	// smaller still consumes a full block so the freelist-entry pointer
	// written into a freed block always has room.
	minAlloc = uintptr(16)

	// maxAlloc is the largest request the size-classed path serves.
	// Anything past this maps whole pages directly instead (the "big"
	// path), matching heap.rs's MAX_ALLOC = PAGE_SIZE / 2.
	maxAlloc = uintptr(mem.PageSize) / 2

	// numFreelists is the count of power-of-two size classes between
	// minAlloc and maxAlloc inclusive.
	numFreelists = 8
)

// readWordFn and writeWordFn are the allocator's only points of contact
// with actual memory contents: carving a page's freelist writes the next
// pointer of each free block, and popping/pushing a block reads and
// rewrites the page's header word. Tests substitute map-backed fakes,
// since a freshly carved page's address is only valid inside the real
// kernel's mapped address space, not a hosted test process (same reasoning
// as kernel.readWordFn and kernel/syscall's peekFn).
var (
	readWordFn = func(vaddr uintptr) uint32 {
		return *(*uint32)(unsafe.Pointer(vaddr))
	}
	writeWordFn = func(vaddr uintptr, v uint32) {
		*(*uint32)(unsafe.Pointer(vaddr)) = v
	}
)

// pageSource provisions and reclaims the kernel virtual memory the
// allocator carves blocks from. Factored out of Heap so the size-class and
// freelist bookkeeping below can be tested without a live address space;
// realPageSource is the only production implementation.
type pageSource interface {
	// newPage maps one fresh, zeroed kernel page eagerly (the freelist
	// header and block-chain pointers below are raw writes, not normal
	// stores a COW fault could intercept) and returns its base address.
	newPage() uintptr
	// freePage unmaps vaddr and releases the frame behind it.
	freePage(vaddr uintptr)
	// newBigRegion maps pages contiguous pages lazily against the zero
	// page (spec §4.2's map_zeroed): a big allocation is returned
	// straight to the caller, who takes the first COW fault on whatever
	// page it actually writes, so there's no reason to pay for real
	// frames up front.
	newBigRegion(pages int) uintptr
	freeBigRegion(vaddr uintptr, pages int)
}

type realPageSource struct {
	as    *vmm.AddressSpace
	alloc *pmm.Allocator
}

func (r realPageSource) newPage() uintptr {
	vaddr, err := r.as.FindUnusedKernelspace(1)
	if err != nil {
		kernel.Panic(err)
	}
	if err := r.as.MapEagerZeroed(vaddr, vmm.FlagPresent|vmm.FlagRW, r.alloc); err != nil {
		kernel.Panic(err)
	}
	return vaddr
}

func (r realPageSource) freePage(vaddr uintptr) {
	frame, _, err := r.as.GetMapping(vaddr)
	if err != nil {
		kernel.Panic(err)
	}
	if err := r.as.Unmap(vaddr); err != nil {
		kernel.Panic(err)
	}
	r.alloc.Free(frame)
}

func (r realPageSource) newBigRegion(pages int) uintptr {
	vaddr, err := r.as.FindUnusedKernelspace(pages)
	if err != nil {
		kernel.Panic(err)
	}
	for p := 0; p < pages; p++ {
		page := vaddr + uintptr(p)*uintptr(mem.PageSize)
		if err := r.as.MapZeroed(page, vmm.FlagPresent|vmm.FlagRW, r.alloc); err != nil {
			kernel.Panic(err)
		}
	}
	return vaddr
}

func (r realPageSource) freeBigRegion(vaddr uintptr, pages int) {
	for p := 0; p < pages; p++ {
		page := vaddr + uintptr(p)*uintptr(mem.PageSize)
		frame, _, err := r.as.GetMapping(page)
		if err != nil {
			kernel.Panic(err)
		}
		if err := r.as.Unmap(page); err != nil {
			kernel.Panic(err)
		}
		r.alloc.Free(frame)
	}
}

// Heap is the kernel's dynamic allocator over one address space.
type Heap struct {
	src pageSource

	// partial[i] lists the base addresses of pages that currently hold
	// at least one free block of size class i. A page drops off this
	// list the instant its last free block is handed out, and rejoins
	// when a block on it is freed back.
	partial [numFreelists][]uintptr

	// live counts outstanding (allocated) blocks per small-allocation
	// page; a page is unmapped and its frame released the instant this
	// reaches zero.
	live map[uintptr]uint32
}

// New builds a heap that carves its pages out of as, using alloc for the
// underlying physical frames.
func New(as *vmm.AddressSpace, alloc *pmm.Allocator) *Heap {
	return &Heap{
		src:  realPageSource{as: as, alloc: alloc},
		live: make(map[uintptr]uint32),
	}
}

func nextPow2(n uintptr) uintptr {
	p := uintptr(1)
	for p < n {
		p <<= 1
	}
	return p
}

// sizeClass rounds size up to the smallest serviceable power-of-two block,
// and reports which freelist it belongs to. The caller must first check
// the result against maxAlloc; sizeClass does not itself distinguish the
// big-allocation path.
func sizeClass(size uintptr) (idx int, classSize uintptr) {
	classSize = nextPow2(size)
	if classSize < minAlloc {
		classSize = minAlloc
	}
	for cs := minAlloc; cs < classSize; cs <<= 1 {
		idx++
	}
	return idx, classSize
}

// blocksPerPage is how many classSize blocks fit in one page, with block 0
// reserved as the page's own header (its freelist head word), never
// handed out.
func blocksPerPage(classSize uintptr) uintptr {
	return uintptr(mem.PageSize) / classSize
}

// carvePage lays out a fresh page as a freelist of blocks of classSize,
// linking every block but the reserved header one (offset 0) into the
// chain, and writes the chain head into the header word.
func carvePage(page, classSize uintptr) {
	n := blocksPerPage(classSize)
	var head uint32
	for i := n - 1; i >= 1; i-- {
		off := uint32(i * classSize)
		writeWordFn(page+uintptr(off), head)
		head = off
	}
	writeWordFn(page, head)
}

func removePartial(list []uintptr, page uintptr) []uintptr {
	for i, p := range list {
		if p == page {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// allocSmall services a request within a single size class, provisioning a
// freshly carved page when every existing one is full.
func (h *Heap) allocSmall(idx int, classSize uintptr) uintptr {
	if len(h.partial[idx]) == 0 {
		page := h.src.newPage()
		carvePage(page, classSize)
		h.partial[idx] = append(h.partial[idx], page)
		h.live[page] = 0
	}

	page := h.partial[idx][len(h.partial[idx])-1]
	headOff := readWordFn(page)
	block := page + uintptr(headOff)
	nextOff := readWordFn(block)
	writeWordFn(page, nextOff)
	h.live[page]++

	if nextOff == 0 {
		// That page has no free blocks left until something on it frees.
		h.partial[idx] = removePartial(h.partial[idx], page)
	}
	for off := uintptr(0); off < classSize; off += 4 {
		writeWordFn(block+off, 0)
	}
	return block
}

// freeSmall returns a block to its page's freelist, reclaiming the page
// once nothing on it remains live.
func (h *Heap) freeSmall(idx int, ptr uintptr) {
	page := mem.PageAlignDown(ptr)
	offset := uint32(ptr - page)

	curHead := readWordFn(page)
	writeWordFn(ptr, curHead)
	writeWordFn(page, offset)
	if curHead == 0 {
		// The page was full (no free blocks advertised); it has one now.
		h.partial[idx] = append(h.partial[idx], page)
	}

	h.live[page]--
	if h.live[page] == 0 {
		h.partial[idx] = removePartial(h.partial[idx], page)
		delete(h.live, page)
		h.src.freePage(page)
	}
}

// bigPages reports how many whole pages a big allocation of n bytes needs.
func bigPages(n uintptr) int {
	return int(mem.PageAlignUp(n) / uintptr(mem.PageSize))
}

// Alloc returns the address of a fresh, zeroed block of at least size
// bytes. There is no failure return: spec §7 makes an allocation failure
// in the dynamic heap handler fatal, so Alloc calls kernel.Panic instead
// of returning an error a caller could ignore.
func (h *Heap) Alloc(size uintptr) uintptr {
	if size == 0 {
		size = 1
	}
	if size > maxAlloc {
		return h.src.newBigRegion(bigPages(size))
	}
	idx, classSize := sizeClass(size)
	return h.allocSmall(idx, classSize)
}

// Free releases a block previously returned by Alloc. size must match the
// size originally requested, the same contract heap.rs's deallocate has
// with its Layout argument: nothing about a bare pointer records how large
// its block was.
func (h *Heap) Free(ptr uintptr, size uintptr) {
	if size == 0 {
		size = 1
	}
	if size > maxAlloc {
		h.src.freeBigRegion(ptr, bigPages(size))
		return
	}
	idx, _ := sizeClass(size)
	h.freeSmall(idx, ptr)
}
