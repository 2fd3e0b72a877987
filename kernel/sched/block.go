package sched

import (
	"talus/kernel/cpu"
	"talus/kernel/fd"
)

// Continuation resumes an interrupted syscall once its process is
// rescheduled. Modeled as a plain function pointer rather than a captured
// closure (spec §9): its lifetime straddles an address-space switch, and a
// handler that blocks must be idempotent on restart.
type Continuation func(frame *cpu.TrapFrame)

// BlockReason is the wakeup condition attached to a blocked process.
type BlockReason interface {
	// Ready reports whether the blocked process may now be scheduled.
	Ready(s *Scheduler) bool
}

// Block is the record a blocked PCB carries: why it's waiting, and what to
// run once it wakes (spec §3, §4.5).
type Block struct {
	Reason       BlockReason
	Continuation Continuation
}

// FileBlock is ready once its descriptor reports the readiness the blocked
// operation needs.
type FileBlock struct {
	File  fd.File
	Write bool
}

// Ready implements BlockReason.
func (b FileBlock) Ready(s *Scheduler) bool {
	if b.Write {
		return b.File.CanWrite()
	}
	return b.File.CanRead()
}

// ProcessBlock is ready once the named pid has left the process table,
// i.e. wait()'s target has exited.
type ProcessBlock struct {
	Pid uint32
}

// Ready implements BlockReason. Per spec's open question, only the waiter
// itself is woken when its target exits -- remove_process does not search
// for and wake every other Block{Process(p)} that might exist; each
// blocked waiter is simply re-evaluated (and found ready) the next time
// load_next reaches it.
func (b ProcessBlock) Ready(s *Scheduler) bool {
	return !s.ProcessExists(b.Pid)
}
