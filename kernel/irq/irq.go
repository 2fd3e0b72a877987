// Package irq is the trap/IRQ glue named in spec §4.2 and §6: the
// page-fault entry point, the timer entry point, and the syscall trap
// vector. It is the one package allowed to import kernel/sched,
// kernel/syscall, kernel/mem/vmm and kernel/loader together, since binding
// them is exactly its job; none of those packages import it back.
//
// Grounded in gopheros's kernel/irq (ExceptionNum/vector constants,
// handler-registration shape), adapted to a single unified cpu.TrapFrame
// rather than gopheros's split Frame/Regs, since spec §3 describes one
// saved register set per trap, not two.
package irq

import (
	"talus/kernel"
	"talus/kernel/cpu"
	"talus/kernel/kfmt"
	"talus/kernel/loader"
	"talus/kernel/mem/pmm"
	"talus/kernel/mem/vmm"
	"talus/kernel/sched"
	ksync "talus/kernel/sync"
	"talus/kernel/syscall"
)

// Vector numbers the assembly trampoline dispatches on before calling into
// Go. PageFaultVector is the CPU's fixed exception 14; TimerVector is the
// PIT's IRQ0 after the standard remap past the CPU exception range;
// SyscallVector is the fixed, user-callable vector spec §6 assigns the
// syscall gate.
const (
	PageFaultVector = 0x0E
	TimerVector     = 0x20
	SyscallVector   = 0x40
)

var errNotRealAddressSpace = &kernel.Error{Module: "irq", Message: "exec target is not a real address space"}

// Kernel bundles the live, per-boot state every entry point needs: the
// scheduler, the physical allocator, and the syscall dispatcher built on
// top of both. Spec §5 describes the MMU bundle and hardware devices as
// process-wide singletons acquired at the syscall/IRQ boundary and
// released before yielding to the scheduler; Kernel is that singleton for
// the pieces this package glues together.
type Kernel struct {
	Sched *sched.Scheduler
	Alloc *pmm.Allocator
	Disp  *syscall.Dispatcher

	// mmu is the "global resource" guard spec §5 describes: every entry
	// point below acquires it on entry and releases it on return, so a
	// second entry point re-invoked before the first has unwound (the
	// signature of a genuine IRQ-reentrancy bug) panics immediately
	// instead of silently touching kernel state twice.
	mmu ksync.Resource
}

// New builds a Kernel around an already-started scheduler and allocator,
// and wires syscall.ExecLoaderFn to the ELF loader so the exec syscall
// (spec §6) can reach it without kernel/syscall importing kernel/loader
// directly.
func New(s *sched.Scheduler, alloc *pmm.Allocator) *Kernel {
	k := &Kernel{
		Sched: s,
		Alloc: alloc,
		Disp:  &syscall.Dispatcher{Sched: s, Alloc: alloc},
	}
	syscall.ExecLoaderFn = execLoader
	return k
}

func execLoader(as syscall.AddressSpace, alloc *pmm.Allocator, index uint32) (cpu.TrapFrame, *kernel.Error) {
	real, ok := as.(*vmm.AddressSpace)
	if !ok {
		return cpu.TrapFrame{}, errNotRealAddressSpace
	}
	frame, err := loader.LoadIndex(real, alloc, index)
	if err == loader.ErrBadIndex {
		return frame, syscall.ErrBadProcess
	}
	return frame, err
}

// pageFaultKiller adapts a Kernel and the interrupted trap frame to
// vmm.ProcessKiller, which only knows it needs to end the current process
// and does not itself carry a scheduler or trap frame.
type pageFaultKiller struct {
	k     *Kernel
	frame *cpu.TrapFrame
}

func (pk pageFaultKiller) KillCurrent(reason string) {
	kfmt.Printf("irq: page fault kill (pid %d): %s\n", pk.k.Sched.CurrentPid(), reason)
	_, cont := pk.k.Sched.KillCurrent(pk.frame)
	cont(pk.frame)
}

// PageFault is the page-fault entry point (spec §4.2): CR2 names the
// faulting address; the trap frame's CPU-pushed error code carries the
// present and write bits, and the frame's CS carries the privilege level
// the fault occurred at.
func (k *Kernel) PageFault(frame *cpu.TrapFrame) {
	k.mmu.Acquire()
	defer k.mmu.Release()

	as := vmm.New(vmm.Active())
	present := frame.ErrorCode&0x1 != 0
	write := frame.ErrorCode&0x2 != 0

	vmm.HandlePageFault(as, k.Alloc, cpu.ReadCR2(), write, present, frame.UserMode(), pageFaultKiller{k: k, frame: frame})
}

// Timer is the timer IRQ entry point (spec §4.4/§6): a tick that
// interrupted userland reschedules immediately; one that interrupted the
// kernel only records a pending preempt.
func (k *Kernel) Timer(frame *cpu.TrapFrame) {
	k.mmu.Acquire()
	defer k.mmu.Release()

	if cont := k.Sched.HandleTimer(frame); cont != nil {
		cont(frame)
	}
}

// Syscall is the trap-vector-0x40 entry point (spec §4.5/§6): userland's
// al/ebx/ecx convention has already been captured into frame's
// EAX/EBX/ECX by the trampoline before this is called.
func (k *Kernel) Syscall(frame *cpu.TrapFrame) {
	k.mmu.Acquire()
	defer k.mmu.Release()

	k.Disp.Dispatch(frame)
}
