package vmm

import (
	"talus/kernel"
	"talus/kernel/mem/pmm"
)

// ProcessKiller is the thin slice of the scheduler the page-fault entry
// point needs. Declaring it here, rather than importing the scheduler
// package, keeps the dependency pointed the way it already runs: the
// scheduler depends on vmm for address spaces, not the reverse.
type ProcessKiller interface {
	KillCurrent(reason string)
}

// HandlePageFault is the page-fault entry point described in spec §4.2 and
// §6: given the faulting address (CR2) and the error-code bits the CPU
// pushed, it either resolves the fault through CowIfNeeded, kills the
// offending userspace process, or treats the fault as a fatal kernel bug.
//
// A write fault against a present page is first tried as a COW fault. A
// present page is read-only either because it is COW or because the loader
// demoted it with DemoteToReadOnly; if CowIfNeeded rejects it (not actually
// COW), that's grounds to kill a userspace offender or panic, same as any
// other fault.
func HandlePageFault(as *AddressSpace, alloc *pmm.Allocator, faultAddr uintptr, write, present, userMode bool, killer ProcessKiller) {
	if write && present {
		if err := as.CowIfNeeded(faultAddr, alloc); err == nil {
			return
		}
	}

	if userMode {
		killer.KillCurrent("unhandled page fault")
		return
	}

	kernel.Panic(&kernel.Error{Module: "vmm", Message: "page fault in kernel mode"})
}
