// Package cpu declares the architecture-specific primitives the kernel core
// needs but does not implement: they are provided by the assembly
// trampolines that sit outside this specification's scope (boot, kernel
// entry, IRQ stubs and userland iretd). The declarations below have no Go
// body; the corresponding symbols are defined in hand-written 32-bit x86
// assembly linked into the final kernel image.
package cpu

// Halt stops the CPU until the next interrupt. Used as the terminal action
// of kernel.Panic.
func Halt()

// ReadCR2 returns the faulting linear address recorded by the last page
// fault, as required by the page-fault entry point (spec §4.2).
func ReadCR2() uintptr

// ReadCR3 returns the physical address of the currently active page
// directory.
func ReadCR3() uintptr

// ReadEBP returns the caller's current frame-pointer register, the root of
// the chain kernel.Panic walks to print a backtrace.
func ReadEBP() uintptr

// SwitchCR3 loads a new page directory physical address into CR3, making it
// the active address space. Implicitly flushes the entire TLB.
func SwitchCR3(pdtPhysAddr uintptr)

// FlushTLBEntry invalidates the single TLB entry caching the translation of
// the given virtual address, without flushing the rest of the TLB.
func FlushTLBEntry(vaddr uintptr)

// EnableInterrupts sets the CPU interrupt flag (sti).
func EnableInterrupts()

// DisableInterrupts clears the CPU interrupt flag (cli) and returns whether
// interrupts were previously enabled, so callers can restore the prior
// state instead of unconditionally re-enabling interrupts.
func DisableInterrupts() (wasEnabled bool)

// Outb writes a byte to an I/O port.
func Outb(port uint16, value uint8)

// Inb reads a byte from an I/O port.
func Inb(port uint16) uint8
