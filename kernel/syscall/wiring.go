package syscall

import (
	"talus/kernel"
	"talus/kernel/mem/pmm"
	"talus/kernel/mem/vmm"
)

// defaultAddressSpace wraps the page directory currently loaded into CR3.
// The production default for currentAddressSpaceFn; tests substitute a
// fake that needs no real CR3 or page tables.
func defaultAddressSpace() AddressSpace {
	return vmm.New(vmm.Active())
}

// forkAddressSpaceFn builds the child address space for the fork syscall.
// Isolated behind a function variable, like currentAddressSpaceFn, so unit
// tests can fork without a real MMU.
var forkAddressSpaceFn = func(as AddressSpace, alloc *pmm.Allocator) (AddressSpace, *kernel.Error) {
	real, ok := as.(*vmm.AddressSpace)
	if !ok {
		return nil, &kernel.Error{Module: "syscall", Message: "fork requires a real address space"}
	}
	return real.Fork(alloc)
}
