// Package console implements the interrupt-driven console input ring and
// output fan-out described in spec §3 and §4.3. The actual serial/CGA
// hardware drivers are out of this specification's scope; this package
// only defines the ring buffer and the io.Writer seam they attach to.
package console

// inputRingSize is the ring capacity fixed by spec §3. Must be a power of
// two so index wraparound can use a mask instead of a modulo.
const inputRingSize = 4096

// InputRing is the 4 KiB console input ring: rpos (consumer), epos (echo)
// and wpos (producer) are ever-increasing counters masked down to a slot
// index, so "bytes available" is simply a subtraction with no wraparound
// case to special-case.
//
// readLock and writeLock are not locks -- there is no spinning or
// blocking on them. They are debug assertions that catch the one
// concurrency bug this single-consumer, single-producer ring cannot
// tolerate: a second IRQ re-entering RecvInput, or a second reader
// re-entering Read, while one is already in progress.
type InputRing struct {
	buf  [inputRingSize]byte
	rpos uint32
	epos uint32
	wpos uint32

	readLock, writeLock bool
}

// RecvInput is the producer side, called from keyboard/serial IRQ context.
// Overflow policy is drop-newest: once the ring is full, further bytes are
// discarded until the consumer catches up.
func (r *InputRing) RecvInput(b byte) {
	if r.writeLock {
		panic("console: recv_input re-entered")
	}
	r.writeLock = true

	if r.wpos-r.rpos != inputRingSize {
		r.buf[r.wpos&(inputRingSize-1)] = b
		r.wpos++
	}

	r.writeLock = false
}

// pumpEcho copies bytes the consumer hasn't seen yet but that haven't been
// echoed to the output sinks either, so keystrokes are visible even with
// no reader currently blocked in Read.
func (r *InputRing) pumpEcho() {
	for r.epos != r.wpos {
		writeSinks(r.buf[r.epos&(inputRingSize-1) : r.epos&(inputRingSize-1)+1])
		r.epos++
	}
}

// CanRead reports whether a Read would return data immediately.
func (r *InputRing) CanRead() bool {
	r.pumpEcho()
	return r.rpos != r.wpos
}

// Read copies up to len(buf) bytes into buf, advancing rpos, and returns
// the number actually copied (0 if the ring is empty).
func (r *InputRing) Read(buf []byte) int {
	if r.readLock {
		panic("console: concurrent read")
	}
	r.readLock = true
	defer func() { r.readLock = false }()

	r.pumpEcho()

	avail := r.wpos - r.rpos
	n := uint32(len(buf))
	if n > avail {
		n = avail
	}
	for i := uint32(0); i < n; i++ {
		buf[i] = r.buf[(r.rpos+i)&(inputRingSize-1)]
	}
	r.rpos += n
	return int(n)
}

// Input is the single console input ring shared by every process's
// console fd (spec's fds 0/1/2 all name the same device).
var Input InputRing
