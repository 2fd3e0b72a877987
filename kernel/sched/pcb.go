// Package sched implements the round-robin preemptive process scheduler
// described in spec §4.4: a process ring with per-process fd tables,
// blocking on descriptors or other processes, fork/kill, and the
// continuation protocol syscall dispatch restarts interrupted handlers
// through.
package sched

import (
	"talus/kernel/cpu"
	"talus/kernel/fd"
)

// PCB is one process control block (spec §3): its saved trap frame, its
// address space's cr3, its fd table, and its place in the scheduler's ring.
type PCB struct {
	Pid    uint32
	Frame  cpu.TrapFrame
	CR3    uintptr
	Fds    map[uint32]fd.File
	NextFd uint32

	// Accnt tracks ticks spent running this process, split between user
	// and kernel context.
	Accnt Accnt

	// Block is non-nil while the process is waiting on a File or another
	// process to become ready; nil means runnable.
	Block *Block

	prev, next *PCB
}

// GetFd returns the File installed at fd n, if any.
func (p *PCB) GetFd(n uint32) (fd.File, bool) {
	f, ok := p.Fds[n]
	return f, ok
}

// SetFd installs f at fd n, or removes the slot if f is nil (the close
// syscall's behavior). Installing at or past NextFd moves NextFd beyond n.
func (p *PCB) SetFd(n uint32, f fd.File) {
	if f == nil {
		delete(p.Fds, n)
		return
	}
	p.Fds[n] = f
	if n >= p.NextFd {
		p.NextFd = n + 1
	}
}

// NewFd installs f at the next unused fd number and returns it.
func (p *PCB) NewFd(f fd.File) uint32 {
	n := p.NextFd
	p.NextFd++
	p.Fds[n] = f
	return n
}
