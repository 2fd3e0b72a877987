// Package syscall implements the system-call dispatcher described in spec
// §4.5: pointer validation ahead of every handler, the blocking-retry
// continuation protocol, and the eleven handlers named in spec §6.
package syscall

import (
	"talus/kernel"
	"talus/kernel/cpu"
	"talus/kernel/fd"
	"talus/kernel/kfmt"
	"talus/kernel/mem/pmm"
	"talus/kernel/sched"
)

// Syscall ids, per spec §6's wire table.
const (
	IDExit = iota
	IDYield
	IDRead
	IDWrite
	IDClose
	IDPipe
	IDFork
	IDExec
	IDWait
	IDDup2
	IDNullFd
)

// Result status codes for the read/write Result<usize,{BadFd,Unsupported}>
// encoding: word 0 is the status, word 1 is the usize value (0 on error).
const (
	statusOK = iota
	statusBadFd
	statusUnsupported
)

// exec's result encoding: a single status word.
const (
	execOK = iota
	execBadProcess
	execIoError
)

var errNoExecLoader = &kernel.Error{Module: "syscall", Message: "no exec loader installed"}

// wordAlign is the alignment spec §4.5 step 1 requires of the arg and
// result pointers: every argument/result struct the wire table names is
// built entirely of u32-sized fields, so word alignment is alignment "for
// their type" in every case this dispatcher handles.
const wordAlign = 4

func misaligned(vaddr uintptr) bool { return vaddr%wordAlign != 0 }

// ErrBadProcess is the sentinel ExecLoaderFn returns for an out-of-range
// image index, distinguishing it from an I/O failure reading a valid one.
var ErrBadProcess = &kernel.Error{Module: "syscall", Message: "no such program image"}

// ExecLoaderFn loads the image at the given disk index into as and returns
// the trap frame execution should resume at. Left as a function variable
// (rather than an import) so this package does not depend on kernel/loader;
// the kernel's startup code wires it to loader.LoadIndex.
var ExecLoaderFn = func(as AddressSpace, alloc *pmm.Allocator, index uint32) (cpu.TrapFrame, *kernel.Error) {
	return cpu.TrapFrame{}, errNoExecLoader
}

// AddressSpace is the subset of *vmm.AddressSpace the dispatcher needs.
// Declared here, not imported from vmm, purely so tests can substitute a
// address space without constructing real page tables.
type AddressSpace interface {
	ValidateRange(vaddr, length uintptr, needWrite bool) *kernel.Error
	CowIfNeeded(vaddr uintptr, alloc *pmm.Allocator) *kernel.Error
	PDTFrame() pmm.Frame
}

// Dispatcher holds the two pieces of kernel state a syscall may touch: the
// scheduler (current process, fd table, blocking) and the physical
// allocator (COW resolution on result/buffer writes).
type Dispatcher struct {
	Sched *sched.Scheduler
	Alloc *pmm.Allocator
}

// argSpec describes how to validate one syscall's argument and result
// pointers before the handler is allowed to run. A zero size skips
// validation for that pointer entirely (handlers with a unit arg or
// result never dereference it).
type argSpec struct {
	argSize    uintptr
	resultSize uintptr
}

var specs = map[uint32]argSpec{
	IDRead:   {argSize: 12, resultSize: 8},
	IDWrite:  {argSize: 12, resultSize: 8},
	IDClose:  {argSize: 4, resultSize: 0},
	IDPipe:   {argSize: 0, resultSize: 8},
	IDFork:   {argSize: 0, resultSize: 4},
	IDExec:   {argSize: 4, resultSize: 4},
	IDWait:   {argSize: 4, resultSize: 0},
	IDDup2:   {argSize: 8, resultSize: 0},
	IDNullFd: {argSize: 0, resultSize: 4},
}

type handlerFunc func(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (blocked bool, reason sched.BlockReason)

var handlers = map[uint32]handlerFunc{
	IDRead:   handleRead,
	IDWrite:  handleWrite,
	IDClose:  handleClose,
	IDPipe:   handlePipe,
	IDFork:   handleFork,
	IDExec:   handleExec,
	IDWait:   handleWait,
	IDDup2:   handleDup2,
	IDNullFd: handleNullFd,
}

// currentAddressSpaceFn resolves the address space the running process'
// pointers should be validated and read against. Overridden by tests.
var currentAddressSpaceFn = func() AddressSpace { return defaultAddressSpace() }

// Dispatch is the syscall trap entry point and also, bound to a Dispatcher,
// the Continuation a blocked syscall resumes through (spec §4.5): on
// restart it re-validates and re-runs the handler from the top, so a
// handler that blocks must be safe to call again unchanged.
func (d *Dispatcher) Dispatch(frame *cpu.TrapFrame) {
	id := frame.EAX & 0xff
	argPtr := uintptr(frame.EBX)
	resultPtr := uintptr(frame.ECX)

	// exit and yield always reschedule themselves; handled here rather than
	// through the common validate/PreemptIfNeeded path below, since that
	// path would otherwise try to preempt a process that's already gone or
	// already mid-switch.
	switch id {
	case IDExit:
		_, cont := d.Sched.KillCurrent(frame)
		cont(frame)
		return
	case IDYield:
		cont := d.Sched.Schedule(frame)
		cont(frame)
		return
	}

	spec, ok := specs[id]
	if !ok {
		d.killCurrent(frame, "invalid syscall id %d", id)
		return
	}
	handler := handlers[id]

	as := currentAddressSpaceFn()

	if spec.argSize > 0 {
		if misaligned(argPtr) {
			d.killCurrent(frame, "misaligned syscall argument pointer 0x%x", argPtr)
			return
		}
		if err := as.ValidateRange(argPtr, spec.argSize, false); err != nil {
			d.killCurrent(frame, "invalid syscall argument pointer: %s", err.Message)
			return
		}
	}
	if spec.resultSize > 0 {
		if misaligned(resultPtr) {
			d.killCurrent(frame, "misaligned syscall result pointer 0x%x", resultPtr)
			return
		}
		if err := as.ValidateRange(resultPtr, spec.resultSize, true); err != nil {
			d.killCurrent(frame, "invalid syscall result pointer: %s", err.Message)
			return
		}
	}

	blocked, reason := handler(d, as, frame, argPtr, resultPtr)
	if blocked {
		d.Sched.BlockCurrent(reason, d.Dispatch)
		cont := d.Sched.Schedule(frame)
		cont(frame)
		return
	}

	if cont := d.Sched.PreemptIfNeeded(frame); cont != nil {
		cont(frame)
	}
}

// killCurrent implements the talus redesign of spec §7/§9's invalid-id and
// invalid-argument Open Questions: rather than panicking the kernel, the
// offending process is killed like any other user-caused fault.
func (d *Dispatcher) killCurrent(frame *cpu.TrapFrame, format string, args ...interface{}) {
	kfmt.Printf("syscall: killing pid %d: "+format+"\n", append([]interface{}{d.Sched.CurrentPid()}, args...)...)
	_, cont := d.Sched.KillCurrent(frame)
	cont(frame)
}

func handleRead(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (bool, sched.BlockReason) {
	fdNum := readU32(argPtr)
	bufPtr := uintptr(readU32(argPtr + 4))
	bufLen := readU32(argPtr + 8)

	f, ok := d.Sched.GetFd(fdNum)
	if !ok {
		writeResultPair(as, d.Alloc, resultPtr, statusBadFd, 0)
		return false, nil
	}

	if err := as.ValidateRange(bufPtr, uintptr(bufLen), true); err != nil {
		writeResultPair(as, d.Alloc, resultPtr, statusUnsupported, 0)
		return false, nil
	}

	tmp := make([]byte, bufLen)
	n, rerr := f.Read(tmp)
	if rerr == fd.ErrBlocked {
		return true, sched.FileBlock{File: f, Write: false}
	}
	if rerr != nil {
		writeResultPair(as, d.Alloc, resultPtr, statusUnsupported, 0)
		return false, nil
	}

	writeUserBytes(as, d.Alloc, bufPtr, tmp[:n])
	writeResultPair(as, d.Alloc, resultPtr, statusOK, uint32(n))
	return false, nil
}

func handleWrite(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (bool, sched.BlockReason) {
	fdNum := readU32(argPtr)
	bufPtr := uintptr(readU32(argPtr + 4))
	bufLen := readU32(argPtr + 8)

	f, ok := d.Sched.GetFd(fdNum)
	if !ok {
		writeResultPair(as, d.Alloc, resultPtr, statusBadFd, 0)
		return false, nil
	}

	if err := as.ValidateRange(bufPtr, uintptr(bufLen), false); err != nil {
		writeResultPair(as, d.Alloc, resultPtr, statusUnsupported, 0)
		return false, nil
	}

	if !f.CanWrite() {
		return true, sched.FileBlock{File: f, Write: true}
	}

	data := readUserBytes(bufPtr, int(bufLen))
	n, werr := f.Write(data)
	if werr == fd.ErrBlocked {
		return true, sched.FileBlock{File: f, Write: true}
	}
	if werr != nil {
		writeResultPair(as, d.Alloc, resultPtr, statusUnsupported, 0)
		return false, nil
	}

	writeResultPair(as, d.Alloc, resultPtr, statusOK, uint32(n))
	return false, nil
}

func handleClose(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (bool, sched.BlockReason) {
	fdNum := readU32(argPtr)
	d.Sched.SetFd(fdNum, nil)
	return false, nil
}

func handlePipe(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (bool, sched.BlockReason) {
	r, w := fd.NewPipe()
	rfd := d.Sched.NewFd(r)
	wfd := d.Sched.NewFd(w)
	writeResultPair(as, d.Alloc, resultPtr, rfd, wfd)
	return false, nil
}

// invalidPid is returned to the parent when fork's address-space clone
// fails (out of physical memory); there is no userland-visible error
// channel for fork beyond the pid itself, so this sentinel, documented in
// DESIGN.md, signals the failure.
const invalidPid = 0xFFFFFFFF

func handleFork(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (bool, sched.BlockReason) {
	// Write 0 into the result slot before creating the child, while the
	// page is still the single pre-fork mapping, so the child's copy
	// already reads 0 without needing its own post-fork write (spec §4.5).
	writeResultU32(as, d.Alloc, resultPtr, 0)

	child, err := forkAddressSpaceFn(as, d.Alloc)
	if err != nil {
		writeResultU32(as, d.Alloc, resultPtr, invalidPid)
		return false, nil
	}

	// The newly built address space becomes the parent's going forward and
	// is loaded now, so the child pid lands in the parent's copy of the
	// result slot; the child inherits the cr3 that was active before the
	// fork, whose result slot still reads 0.
	childPid := d.Sched.Fork(frame, child.PDTFrame().Address())
	sched.SwitchCR3Fn(child.PDTFrame().Address())
	writeResultU32(child, d.Alloc, resultPtr, childPid)
	return false, nil
}

func handleExec(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (bool, sched.BlockReason) {
	index := readU32(argPtr)

	entryFrame, err := ExecLoaderFn(as, d.Alloc, index)
	if err == ErrBadProcess {
		writeResultU32(as, d.Alloc, resultPtr, execBadProcess)
		return false, nil
	}
	if err != nil {
		writeResultU32(as, d.Alloc, resultPtr, execIoError)
		return false, nil
	}

	*frame = entryFrame
	return false, nil
}

func handleWait(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (bool, sched.BlockReason) {
	pid := readU32(argPtr)
	if !d.Sched.ProcessExists(pid) {
		return false, nil
	}
	return true, sched.ProcessBlock{Pid: pid}
}

func handleDup2(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (bool, sched.BlockReason) {
	src := readU32(argPtr)
	dst := readU32(argPtr + 4)

	f, ok := d.Sched.GetFd(src)
	if !ok {
		return false, nil
	}
	d.Sched.SetFd(dst, f)
	return false, nil
}

func handleNullFd(d *Dispatcher, as AddressSpace, frame *cpu.TrapFrame, argPtr, resultPtr uintptr) (bool, sched.BlockReason) {
	n := d.Sched.NewFd(fd.Null{})
	writeResultU32(as, d.Alloc, resultPtr, n)
	return false, nil
}
