package cpu

import "talus/kernel/kfmt"

// TrapFrame is the full saved user-mode CPU state the assembly trampoline
// pushes onto the kernel stack before invoking a trap or interrupt handler
// (spec §3's PCB description, §5's interrupt-gate contract). It lives in
// cpu rather than nearer its users (kernel/sched, kernel/irq) because both
// of those packages need the type and neither may import the other.
type TrapFrame struct {
	// General-purpose registers, pushed by the trampoline in reverse
	// declaration order (pusha-style).
	EDI, ESI, EBP, ESPDummy, EBX, EDX, ECX, EAX uint32

	// Segment registers saved across the ring transition.
	GS, FS, ES, DS uint32

	// VectorNum identifies which interrupt/exception fired. ErrorCode is
	// the CPU-pushed error code for exceptions that carry one (page
	// fault, GPF, ...); the stub pushes a zero placeholder for vectors
	// that don't, so this field is always valid.
	VectorNum, ErrorCode uint32

	// Pushed by the CPU itself on every interrupt; UserESP and UserSS are
	// only meaningful (and only pushed) when the interrupted code was
	// running at a lower privilege level than the handler.
	EIP, CS, EFlags, UserESP, UserSS uint32
}

// Print writes a crash-diagnostic dump of the frame, used by kernel.Panic
// when the offending context is available.
func (f *TrapFrame) Print() {
	kfmt.Printf("eip: %x cs: %x eflags: %x\n", f.EIP, f.CS, f.EFlags)
	kfmt.Printf("eax: %x ebx: %x ecx: %x edx: %x\n", f.EAX, f.EBX, f.ECX, f.EDX)
	kfmt.Printf("esi: %x edi: %x ebp: %x\n", f.ESI, f.EDI, f.EBP)
	kfmt.Printf("vector: %x error: %x\n", f.VectorNum, f.ErrorCode)
}

// UserMode reports whether the frame describes a trap taken from ring 3,
// i.e. whether UserESP/UserSS are meaningful and the fault is userland's.
func (f *TrapFrame) UserMode() bool {
	return f.CS&0x3 == 0x3
}
