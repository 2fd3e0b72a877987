package kfmt

import "io"

// ringBufferSize is the capacity of the early output ring buffer. Sized to
// hold a full screen's worth of text-mode console output. Must be a power
// of two so index wraparound can use a mask instead of a modulo.
const ringBufferSize = 4096

// ringBuffer buffers Printf output produced before a console sink has been
// attached via SetOutputSink. Once full it overwrites the oldest bytes
// first, since the most recent diagnostic output is the one worth keeping.
type ringBuffer struct {
	buf            [ringBufferSize]byte
	rIndex, wIndex int
}

// Write implements io.Writer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buf[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}
	return len(p), nil
}

// Read implements io.Reader, draining whatever has been buffered so far.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	switch {
	case rb.rIndex < rb.wIndex:
		n := rb.wIndex - rb.rIndex
		if pLen := len(p); pLen < n {
			n = pLen
		}
		copy(p, rb.buf[rb.rIndex:rb.rIndex+n])
		rb.rIndex += n
		return n, nil
	case rb.rIndex > rb.wIndex:
		n := len(rb.buf) - rb.rIndex
		if pLen := len(p); pLen < n {
			n = pLen
		}
		copy(p, rb.buf[rb.rIndex:rb.rIndex+n])
		rb.rIndex += n
		if rb.rIndex == len(rb.buf) {
			rb.rIndex = 0
		}
		return n, nil
	default:
		return 0, io.EOF
	}
}
