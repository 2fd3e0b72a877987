package fd

import "talus/kernel"

// pipeCapacity is the bounded FIFO size fixed by spec §3.
const pipeCapacity = 65536

// pipe is the buffer shared by a PipeRead/PipeWrite pair. The two halves
// hold their own open/closed flag rather than a shared refcount field
// directly, mirroring the spec's strong_count of 2/1/0: once both flags
// are false the pipe is unreachable and Go's ordinary GC reclaims it, with
// no finalizer needed (there is no hardware resource to release).
type pipe struct {
	buf        [pipeCapacity]byte
	head, tail uint32
	count      uint32

	readOpen, writeOpen bool
}

func (p *pipe) full() bool  { return p.count == pipeCapacity }
func (p *pipe) empty() bool { return p.count == 0 }

func (p *pipe) push(b byte) {
	p.buf[p.tail] = b
	p.tail = (p.tail + 1) % pipeCapacity
	p.count++
}

func (p *pipe) pop() byte {
	b := p.buf[p.head]
	p.head = (p.head + 1) % pipeCapacity
	p.count--
	return b
}

func (p *pipe) clear() {
	p.head, p.tail, p.count = 0, 0, 0
}

// PipeRead is the read half of a pipe.
type PipeRead struct{ p *pipe }

// PipeWrite is the write half of a pipe.
type PipeWrite struct{ p *pipe }

// NewPipe creates a pipe and returns its two halves, for the pipe syscall.
func NewPipe() (*PipeRead, *PipeWrite) {
	p := &pipe{readOpen: true, writeOpen: true}
	return &PipeRead{p: p}, &PipeWrite{p: p}
}

// Close marks the read half closed: further writes to the other half are
// discarded rather than blocking, per spec §4.3.
func (r *PipeRead) Close() { r.p.readOpen = false }

// Close marks the write half closed: the read half will report EOF once
// the buffer drains, instead of blocking forever.
func (w *PipeWrite) Close() { w.p.writeOpen = false }

func (r *PipeRead) Read(buf []byte) (int, *kernel.Error) {
	if r.p.empty() {
		if !r.p.writeOpen {
			return 0, nil // EOF: writer gone, nothing left to drain
		}
		return 0, ErrBlocked
	}

	n := 0
	for n < len(buf) && !r.p.empty() {
		buf[n] = r.p.pop()
		n++
	}
	return n, nil
}

func (r *PipeRead) Write(buf []byte) (int, *kernel.Error) { return 0, ErrUnsupported }
func (r *PipeRead) CanRead() bool                          { return !r.p.empty() || !r.p.writeOpen }
func (r *PipeRead) CanWrite() bool                         { return false }

func (w *PipeWrite) Write(buf []byte) (int, *kernel.Error) {
	if !w.p.readOpen {
		// Reader gone: discard silently rather than killing the writer
		// (spec §4.3's SIGPIPE-avoidance policy), clearing whatever was
		// left unread since nothing will ever drain it now.
		w.p.clear()
		return len(buf), nil
	}
	if w.p.full() {
		return 0, ErrBlocked
	}

	n := 0
	for n < len(buf) && !w.p.full() {
		w.p.push(buf[n])
		n++
	}
	return n, nil
}

func (w *PipeWrite) Read(buf []byte) (int, *kernel.Error) { return 0, ErrUnsupported }
func (w *PipeWrite) CanRead() bool                         { return false }
func (w *PipeWrite) CanWrite() bool                        { return !w.p.full() || !w.p.readOpen }

