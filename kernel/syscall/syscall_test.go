package syscall

import (
	"talus/kernel"
	"talus/kernel/cpu"
	"talus/kernel/fd"
	"talus/kernel/mem/pmm"
	"talus/kernel/sched"
	"testing"
)

// fakeAddressSpace accepts every range and never needs COW resolution,
// which is enough to exercise dispatch without real page tables.
type fakeAddressSpace struct {
	rejectRange bool
}

func (f *fakeAddressSpace) ValidateRange(vaddr, length uintptr, needWrite bool) *kernel.Error {
	if f.rejectRange {
		return &kernel.Error{Module: "test", Message: "rejected"}
	}
	return nil
}
func (f *fakeAddressSpace) CowIfNeeded(vaddr uintptr, alloc *pmm.Allocator) *kernel.Error { return nil }
func (f *fakeAddressSpace) PDTFrame() pmm.Frame                                          { return pmm.Frame(0) }

// fakeMemory backs peekFn with a plain byte slice indexed directly by the
// "vaddr" values tests choose, standing in for the real address space.
type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size int) *fakeMemory { return &fakeMemory{buf: make([]byte, size)} }

func (m *fakeMemory) install() (restore func()) {
	oldPeek := peekFn
	peekFn = func(vaddr uintptr, n int) []byte { return m.buf[vaddr : vaddr+uintptr(n)] }
	return func() { peekFn = oldPeek }
}

func init() {
	sched.SwitchCR3Fn = func(uintptr) {}
}

func newTestDispatcher() (*Dispatcher, *sched.Scheduler) {
	s := sched.New(cpu.TrapFrame{}, 0x1000)
	return &Dispatcher{Sched: s, Alloc: nil}, s
}

func withFakeAS(t *testing.T, rejectRange bool) *fakeAddressSpace {
	t.Helper()
	as := &fakeAddressSpace{rejectRange: rejectRange}
	old := currentAddressSpaceFn
	currentAddressSpaceFn = func() AddressSpace { return as }
	t.Cleanup(func() { currentAddressSpaceFn = old })
	return as
}

func TestDispatchUnknownIDKillsProcess(t *testing.T) {
	mem := newFakeMemory(256)
	restore := mem.install()
	defer restore()
	withFakeAS(t, false)

	d, s := newTestDispatcher()
	other := s.AddProcess(cpu.TrapFrame{}, 0x2000)

	frame := cpu.TrapFrame{EAX: 99}
	d.Dispatch(&frame)

	if s.ProcessExists(1) {
		t.Error("process issuing an unknown syscall id should be killed")
	}
	if s.CurrentPid() != other {
		t.Errorf("expected the other process to run next, got %d", s.CurrentPid())
	}
}

func TestDispatchBadArgPointerKillsProcess(t *testing.T) {
	mem := newFakeMemory(256)
	restore := mem.install()
	defer restore()
	withFakeAS(t, true)

	d, s := newTestDispatcher()
	s.AddProcess(cpu.TrapFrame{}, 0x2000)

	frame := cpu.TrapFrame{EAX: IDClose, EBX: 8}
	d.Dispatch(&frame)

	if s.ProcessExists(1) {
		t.Error("process passing an unvalidatable argument pointer should be killed")
	}
}

func TestDispatchCloseRemovesFd(t *testing.T) {
	mem := newFakeMemory(256)
	restore := mem.install()
	defer restore()
	withFakeAS(t, false)

	d, s := newTestDispatcher()
	n := s.NewFd(fd.Console{})
	putU32(mem.buf[0:4], n)

	frame := cpu.TrapFrame{EAX: IDClose, EBX: 0}
	d.Dispatch(&frame)

	if _, ok := s.GetFd(n); ok {
		t.Error("expected close to remove the fd")
	}
}

func TestDispatchPipeAllocatesTwoFds(t *testing.T) {
	mem := newFakeMemory(256)
	restore := mem.install()
	defer restore()
	withFakeAS(t, false)

	d, s := newTestDispatcher()

	frame := cpu.TrapFrame{EAX: IDPipe, ECX: 0}
	d.Dispatch(&frame)

	rfd := readU32(0)
	wfd := readU32(4)
	if rfd == wfd {
		t.Fatalf("expected distinct read/write fds, got %d and %d", rfd, wfd)
	}
	if _, ok := s.GetFd(rfd); !ok {
		t.Error("expected the read fd to be installed")
	}
	if _, ok := s.GetFd(wfd); !ok {
		t.Error("expected the write fd to be installed")
	}
}

func TestDispatchWriteRoundTripsThroughPipe(t *testing.T) {
	mem := newFakeMemory(256)
	restore := mem.install()
	defer restore()
	withFakeAS(t, false)

	d, s := newTestDispatcher()
	r, w := fd.NewPipe()
	wfd := s.NewFd(w)

	payload := []byte("hi")
	copy(mem.buf[100:], payload)
	putU32(mem.buf[0:4], wfd)
	putU32(mem.buf[4:8], 100)
	putU32(mem.buf[8:12], uint32(len(payload)))

	frame := cpu.TrapFrame{EAX: IDWrite, EBX: 0, ECX: 200}
	d.Dispatch(&frame)

	status := readU32(200)
	n := readU32(204)
	if status != statusOK || n != uint32(len(payload)) {
		t.Fatalf("expected ok/%d, got status=%d n=%d", len(payload), status, n)
	}

	out := make([]byte, 2)
	got, err := r.Read(out)
	if err != nil || got != 2 || string(out) != "hi" {
		t.Fatalf("pipe did not round-trip: got=%q err=%v n=%d", out, err, got)
	}
}

func TestDispatchReadBlocksOnEmptyPipe(t *testing.T) {
	mem := newFakeMemory(256)
	restore := mem.install()
	defer restore()
	withFakeAS(t, false)

	d, s := newTestDispatcher()
	r, _ := fd.NewPipe()
	rfd := s.NewFd(r)
	other := s.AddProcess(cpu.TrapFrame{}, 0x3000)

	putU32(mem.buf[0:4], rfd)
	putU32(mem.buf[4:8], 100)
	putU32(mem.buf[8:12], 4)

	frame := cpu.TrapFrame{EAX: IDRead, EBX: 0, ECX: 200}
	d.Dispatch(&frame)

	if s.CurrentPid() != other {
		t.Errorf("expected the reading process to block and the other to run; current=%d", s.CurrentPid())
	}
	pcb, _ := s.Lookup(1)
	if pcb.Block == nil {
		t.Error("expected the reading process to carry a Block")
	}
}

func TestDispatchWaitOnNonexistentPidReturnsImmediately(t *testing.T) {
	mem := newFakeMemory(256)
	restore := mem.install()
	defer restore()
	withFakeAS(t, false)

	d, s := newTestDispatcher()
	putU32(mem.buf[0:4], 777)

	frame := cpu.TrapFrame{EAX: IDWait, EBX: 0}
	d.Dispatch(&frame)

	if s.CurrentPid() != 1 {
		t.Error("waiting on a pid that doesn't exist should not block")
	}
}

func TestDispatchDup2CopiesHandle(t *testing.T) {
	mem := newFakeMemory(256)
	restore := mem.install()
	defer restore()
	withFakeAS(t, false)

	d, s := newTestDispatcher()
	src := s.NewFd(fd.Console{})
	putU32(mem.buf[0:4], src)
	putU32(mem.buf[4:8], 50)

	frame := cpu.TrapFrame{EAX: IDDup2, EBX: 0}
	d.Dispatch(&frame)

	if _, ok := s.GetFd(50); !ok {
		t.Error("expected dup2 to install the handle at the destination fd")
	}
}

func TestDispatchNullFdInstallsFile(t *testing.T) {
	mem := newFakeMemory(256)
	restore := mem.install()
	defer restore()
	withFakeAS(t, false)

	d, s := newTestDispatcher()

	frame := cpu.TrapFrame{EAX: IDNullFd, ECX: 0}
	d.Dispatch(&frame)

	n := readU32(0)
	if _, ok := s.GetFd(n); !ok {
		t.Fatal("expected null_fd to install a file")
	}
}
