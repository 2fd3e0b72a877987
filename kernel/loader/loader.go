package loader

import (
	"talus/kernel"
	"talus/kernel/cpu"
	"talus/kernel/mem"
	"talus/kernel/mem/pmm"
	"talus/kernel/mem/vmm"
	"unsafe"
)

var (
	// ErrBadIndex is returned when index names no image in Directory,
	// the case syscall.ErrBadProcess maps to across the exec boundary.
	ErrBadIndex = &kernel.Error{Module: "loader", Message: "no program at that index"}
	// ErrSegment flags a program header whose virtual range falls
	// outside spec §6's required bounds: vaddr >= mem.UserStart and
	// vaddr+memsize <= mem.KernelStart. cmd/mkdisk is expected to reject
	// these before writing a disk image, so seeing this at load time
	// means the directory was tampered with or built by hand.
	ErrSegment = &kernel.Error{Module: "loader", Message: "segment outside the user region"}
)

// DiskReadFn copies length bytes starting at the given disk byte offset
// into dst. The real implementation is the out-of-scope ATA PIO driver;
// tests install an in-memory fake.
var DiskReadFn = func(offset uint32, dst []byte) {
	panic("loader: no disk reader installed")
}

// writeAtFn exposes n bytes of already-mapped memory at vaddr for the
// loader to fill in. Like kernel/syscall's peekFn, it is a thin unsafe
// wrapper in production and a plain byte slice in tests.
var writeAtFn = func(vaddr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(vaddr)), n)
}

const (
	// stackTop is the fixed top-of-stack virtual address every loaded
	// process starts with: one page below the kernel/user split, growing
	// down. Processes that need more than a page of stack must grow it
	// themselves; this kernel does not implement an automatic stack-growth
	// page fault (spec's Non-goals exclude demand paging generally).
	stackTop  = mem.KernelStart
	stackSize = uintptr(mem.PageSize)

	userCodeSelector = 0x1B // GDT index 3, requested privilege level 3
	userDataSelector = 0x23 // GDT index 4, requested privilege level 3
	userFlags        = 0x200 // IF set, so a loaded process starts interruptible
)

// LoadIndex replaces as's user-space mappings with the program named by
// Directory[index] and returns the trap frame execution should resume at,
// implementing spec §6's exec contract and the initial load at boot. Every
// PT_LOAD segment is mapped eagerly (MapEagerZeroed) rather than through
// the zero page, since the loader fills it by writing file bytes directly
// into mapped memory and needs a real frame in place before it can do
// that; the stack below is mapped lazily, the normal zeroed-region case.
func LoadIndex(as *vmm.AddressSpace, alloc *pmm.Allocator, index uint32) (cpu.TrapFrame, *kernel.Error) {
	if int(index) >= len(Directory) {
		return cpu.TrapFrame{}, ErrBadIndex
	}
	prog := Directory[index]

	for _, h := range prog.Headers {
		if err := mapSegment(as, alloc, h); err != nil {
			return cpu.TrapFrame{}, err
		}
	}
	if err := mapStack(as, alloc); err != nil {
		return cpu.TrapFrame{}, err
	}

	return entryFrame(prog.Entry), nil
}

// segmentEnd and validateSegment are split out of mapSegment so the bounds
// check spec §6 requires (vaddr >= mem.UserStart, end <= mem.KernelStart)
// can be exercised without a live address space.
func segmentEnd(h ProgramHeader) uintptr { return h.Vaddr + uintptr(h.MemSize) }

func validateSegment(h ProgramHeader) *kernel.Error {
	end := segmentEnd(h)
	if h.Vaddr < mem.UserStart || end > mem.KernelStart || end < h.Vaddr {
		return ErrSegment
	}
	return nil
}

// loadSegmentBytes copies a segment's file-backed bytes from disk into
// already-mapped memory at h.Vaddr. Split out of mapSegment so the
// DiskReadFn/writeAtFn wiring can be exercised without a live address
// space. Bytes beyond FileSize up to MemSize are left as the zeroed pages
// MapEagerZeroed already produced, matching a PT_LOAD segment's bss tail.
func loadSegmentBytes(h ProgramHeader) {
	if h.FileSize == 0 {
		return
	}
	buf := writeAtFn(h.Vaddr, int(h.FileSize))
	DiskReadFn(h.DiskOffset, buf)
}

func mapSegment(as *vmm.AddressSpace, alloc *pmm.Allocator, h ProgramHeader) *kernel.Error {
	if err := validateSegment(h); err != nil {
		return err
	}

	start := mem.PageAlignDown(h.Vaddr)
	stop := mem.PageAlignUp(segmentEnd(h))
	for p := start; p < stop; p += uintptr(mem.PageSize) {
		// MapEagerZeroed always installs FlagRW so the loader can copy
		// the segment's file-backed bytes in; read-only segments are
		// demoted once the copy is done.
		if err := as.MapEagerZeroed(p, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUser, alloc); err != nil {
			return err
		}
	}

	loadSegmentBytes(h)

	if !h.Writable {
		for p := start; p < stop; p += uintptr(mem.PageSize) {
			if err := as.DemoteToReadOnly(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func mapStack(as *vmm.AddressSpace, alloc *pmm.Allocator) *kernel.Error {
	base := stackTop - stackSize
	return as.MapZeroed(base, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUser, alloc)
}

func entryFrame(entry uintptr) cpu.TrapFrame {
	return cpu.TrapFrame{
		EIP:     uint32(entry),
		CS:      userCodeSelector,
		EFlags:  userFlags,
		UserESP: uint32(stackTop),
		UserSS:  userDataSelector,
		DS:      userDataSelector,
		ES:      userDataSelector,
		FS:      userDataSelector,
		GS:      userDataSelector,
	}
}
