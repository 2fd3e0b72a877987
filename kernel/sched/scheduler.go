package sched

import (
	"talus/kernel/cpu"
	"talus/kernel/fd"
)

// SwitchCR3Fn loads a process's address space into CR3 on context switch.
// Exported so other packages' tests (kernel/syscall's dispatcher tests, in
// particular, which drive a real Scheduler from outside this package) can
// substitute a no-op in place of the real MMU primitive.
var SwitchCR3Fn = cpu.SwitchCR3

// KernelTasksFn runs background bookkeeping -- in the real kernel, pumping
// the console echo pass -- once per full ring traversal that finds
// nothing runnable, so input isn't starved while every process blocks.
var KernelTasksFn = func() {}

// Scheduler is the single process table and ring described in spec §4.4.
type Scheduler struct {
	processes map[uint32]*PCB
	head      *PCB
	cursor    *PCB

	currentPid uint32
	nextPid    uint32

	// timerFired records a timer IRQ that landed in kernel context; the
	// reschedule it implies is deferred until PreemptIfNeeded is next
	// called (typically at syscall exit), per spec §4.4 and §5.
	timerFired bool
}

// New starts the scheduler with pid 1 running frame under cr3.
func New(frame cpu.TrapFrame, cr3 uintptr) *Scheduler {
	pcb := &PCB{Pid: 1, Frame: frame, CR3: cr3, Fds: make(map[uint32]fd.File)}
	pcb.prev, pcb.next = pcb, pcb

	return &Scheduler{
		processes:  map[uint32]*PCB{1: pcb},
		head:       pcb,
		cursor:     pcb,
		currentPid: 1,
		nextPid:    2,
	}
}

func (s *Scheduler) insertAtHead(pcb *PCB) {
	if s.head == nil {
		pcb.prev, pcb.next = pcb, pcb
		s.head = pcb
		s.cursor = pcb
		return
	}
	tail := s.head.prev
	pcb.next = s.head
	pcb.prev = tail
	tail.next = pcb
	s.head.prev = pcb
	s.head = pcb
}

// AddProcess inserts a new PCB at the ring head and returns its pid.
func (s *Scheduler) AddProcess(frame cpu.TrapFrame, cr3 uintptr) uint32 {
	pid := s.nextPid
	s.nextPid++

	pcb := &PCB{Pid: pid, Frame: frame, CR3: cr3, Fds: make(map[uint32]fd.File)}
	s.processes[pid] = pcb
	s.insertAtHead(pcb)
	return pid
}

// RemoveProcess unlinks pid from the ring, repairing the cursor if it
// pointed at the removed PCB, and returns the removed PCB.
func (s *Scheduler) RemoveProcess(pid uint32) *PCB {
	pcb, ok := s.processes[pid]
	if !ok {
		return nil
	}
	delete(s.processes, pid)

	if pcb.next == pcb {
		s.head, s.cursor = nil, nil
	} else {
		pcb.prev.next = pcb.next
		pcb.next.prev = pcb.prev
		if s.head == pcb {
			s.head = pcb.next
		}
		if s.cursor == pcb {
			s.cursor = pcb.next
		}
	}
	pcb.prev, pcb.next = nil, nil
	return pcb
}

// CurrentPid returns the pid of the running process.
func (s *Scheduler) CurrentPid() uint32 { return s.currentPid }

// ProcessExists reports whether pid is still in the process table.
func (s *Scheduler) ProcessExists(pid uint32) bool {
	_, ok := s.processes[pid]
	return ok
}

// Current returns the running process's PCB.
func (s *Scheduler) Current() *PCB { return s.processes[s.currentPid] }

// Lookup returns the PCB for pid, if it exists.
func (s *Scheduler) Lookup(pid uint32) (*PCB, bool) {
	pcb, ok := s.processes[pid]
	return pcb, ok
}

// GetFd, SetFd and NewFd operate on the current process's fd table.
func (s *Scheduler) GetFd(n uint32) (fd.File, bool) { return s.Current().GetFd(n) }
func (s *Scheduler) SetFd(n uint32, f fd.File)      { s.Current().SetFd(n, f) }
func (s *Scheduler) NewFd(f fd.File) uint32         { return s.Current().NewFd(f) }

// BlockCurrent attaches a Block to the current process.
func (s *Scheduler) BlockCurrent(reason BlockReason, cont Continuation) {
	s.Current().Block = &Block{Reason: reason, Continuation: cont}
}

// Schedule saves frame into the current PCB and loads the next runnable
// process, per spec §4.4. If the cursor still points at the current
// process, the scan starts just past it.
func (s *Scheduler) Schedule(frame *cpu.TrapFrame) Continuation {
	if cur := s.Current(); cur != nil {
		cur.Frame = *frame
		if s.cursor == cur {
			s.cursor = cur.next
		}
	}
	return s.LoadNext(frame)
}

// LoadNext walks the ring from the cursor for a runnable PCB: one with no
// Block, or whose Block's reason has become ready. On finding one it
// switches cr3, installs its saved trap frame into frame, advances the
// cursor past it, and returns its continuation (a no-op for a process that
// wasn't blocked). If a full lap finds nothing runnable, KernelTasksFn
// runs once per lap before the scan continues.
func (s *Scheduler) LoadNext(frame *cpu.TrapFrame) Continuation {
	if s.head == nil {
		panic("scheduler: process ring is empty")
	}

	p := s.cursor
	for {
		if p.Block == nil || p.Block.Reason.Ready(s) {
			cont := Continuation(func(*cpu.TrapFrame) {})
			if p.Block != nil {
				cont = p.Block.Continuation
				p.Block = nil
			}

			s.cursor = p.next
			s.currentPid = p.Pid
			SwitchCR3Fn(p.CR3)
			*frame = p.Frame
			return cont
		}

		p = p.next
		if p == s.cursor {
			KernelTasksFn()
		}
	}
}

// Fork creates a child PCB that shares the parent's pre-fork address space
// under COW. Per spec §4.4, the *new* cr3 (already built by the caller via
// the memory mapper's Fork) is assigned to the parent, and the *old* cr3 to
// the child. Fork does not load either cr3 itself.
func (s *Scheduler) Fork(frame *cpu.TrapFrame, newParentCR3 uintptr) uint32 {
	parent := s.Current()
	if parent.Block != nil {
		panic("scheduler: fork of a blocked process")
	}

	oldCR3 := parent.CR3
	parent.CR3 = newParentCR3
	parent.Frame = *frame

	childFds := make(map[uint32]fd.File, len(parent.Fds))
	for k, v := range parent.Fds {
		childFds[k] = v
	}

	pid := s.nextPid
	s.nextPid++
	child := &PCB{Pid: pid, Frame: *frame, CR3: oldCR3, Fds: childFds, NextFd: parent.NextFd}
	s.processes[pid] = child
	s.insertAtHead(child)
	return pid
}

// KillCurrent removes the running process and loads the next one.
func (s *Scheduler) KillCurrent(frame *cpu.TrapFrame) (*PCB, Continuation) {
	pcb := s.RemoveProcess(s.currentPid)
	return pcb, s.LoadNext(frame)
}

// HandleTimer is the timer IRQ entry point (spec §4.4). A tick that
// interrupted userland reschedules immediately; one that interrupted the
// kernel only records a pending preempt, handled by the next
// PreemptIfNeeded call so a reschedule never lands mid-critical-section.
func (s *Scheduler) HandleTimer(frame *cpu.TrapFrame) Continuation {
	userMode := frame.UserMode()
	if cur := s.Current(); cur != nil {
		cur.Accnt.Tick(userMode)
	}

	if userMode {
		return s.Schedule(frame)
	}
	s.timerFired = true
	return nil
}

// PreemptIfNeeded reschedules if a timer tick was deferred by HandleTimer,
// typically called at syscall exit.
func (s *Scheduler) PreemptIfNeeded(frame *cpu.TrapFrame) Continuation {
	if !s.timerFired {
		return nil
	}
	s.timerFired = false
	return s.Schedule(frame)
}
