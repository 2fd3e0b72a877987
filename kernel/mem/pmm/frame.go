// Package pmm implements the physical page allocator: a bump allocator
// backed by the BIOS memory map, handing off to a reference-counted
// freelist once frames start being released, plus the per-frame PageInfo
// bookkeeping that makes copy-on-write possible (spec §4.1).
package pmm

import "talus/kernel/mem"

// Frame identifies a physical page by its page-aligned physical address.
type Frame uintptr

// InvalidFrame is returned by Alloc when no physical memory remains.
const InvalidFrame = Frame(0xFFFFFFFF)

// FrameFromAddress rounds addr down to its containing frame.
func FrameFromAddress(addr uintptr) Frame {
	return Frame(mem.PageAlignDown(addr))
}

// Valid reports whether f is a usable frame, as opposed to InvalidFrame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the frame.
func (f Frame) Address() uintptr {
	return uintptr(f)
}

// Number returns the frame's index relative to address 0, i.e.
// Address() >> PageShift. Used to index PageInfo arrays.
func (f Frame) Number() uintptr {
	return uintptr(f) >> mem.PageShift
}
