package kernel

import (
	"talus/kernel/cpu"
	"talus/kernel/kfmt"
	"talus/kernel/mem"
	"unsafe"
)

var (
	// haltFn is swapped out by tests, which obviously cannot halt the CPU.
	haltFn = cpu.Halt

	// readEBPFn is swapped out by tests, which have no real frame-pointer
	// chain to walk.
	readEBPFn = cpu.ReadEBP

	// readWordFn dereferences one 32-bit word of kernel memory. Like
	// kernel/syscall's peekFn, it is a thin unsafe wrapper in production
	// and a plain fake over a Go map in tests, which have no real stack
	// mapped at the addresses a backtrace walks.
	readWordFn = func(vaddr uintptr) uint32 {
		return *(*uint32)(unsafe.Pointer(vaddr))
	}

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// maxBacktraceDepth bounds the walk in case a corrupt chain still happens
// to look valid at every step.
const maxBacktraceDepth = 16

// validFrameAddr reports whether vaddr is plausible as a frame-pointer
// slot: within the shared kernel region every kernel stack lives in, below
// the temporary-mapping windows that are not ordinary stack memory, and
// word-aligned the way a pushed EBP always is.
func validFrameAddr(vaddr uintptr) bool {
	return vaddr >= mem.KernelStart && vaddr < mem.TempMapStart && vaddr%4 == 0
}

// printBacktrace walks the x86 frame-pointer chain starting at ebp,
// printing each return address. It stops the instant a frame pointer
// fails validFrameAddr rather than dereferencing it: a panic that took a
// second page fault while printing its own backtrace would lose the
// diagnostic that mattered in the first place.
func printBacktrace(ebp uintptr) {
	kfmt.Printf("backtrace:\n")
	for depth := 0; depth < maxBacktraceDepth; depth++ {
		if !validFrameAddr(ebp) {
			break
		}
		retAddr := readWordFn(ebp + 4)
		kfmt.Printf("  #%d %x\n", depth, retAddr)

		next := uintptr(readWordFn(ebp))
		if next <= ebp {
			// a saved frame pointer must always sit higher up the stack
			// than the one that pointed to it; anything else means the
			// chain is corrupt or its top has been reached.
			break
		}
		ebp = next
	}
}

// Panic prints the supplied error (if any) and halts the CPU. Panic never
// returns. It is the terminal handler for every kernel-invariant violation:
// a corrupt freelist, a ring that loses a PCB, an allocation failure inside
// the dynamic heap handler, or an unhandled fault in kernel-mode code.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	default:
		err = errRuntimePanic
	}

	kfmt.Printf("\n--------------------------------------------\n")
	kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	printBacktrace(readEBPFn())
	kfmt.Printf("*** kernel panic: system halted ***\n")
	kfmt.Printf("--------------------------------------------\n")

	for {
		haltFn()
	}
}
