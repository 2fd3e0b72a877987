package console

import "io"

// sinks are the output devices console writes and echoed input are copied
// to (serial UART, CGA text mode). Concrete drivers register themselves at
// boot; this package only owns the fan-out.
var sinks []io.Writer

// RegisterSink attaches an output device.
func RegisterSink(w io.Writer) {
	sinks = append(sinks, w)
}

func writeSinks(p []byte) {
	for _, s := range sinks {
		s.Write(p)
	}
}

// Write implements the console file's write half: always succeeds and
// forwards to every registered sink (spec §4.3).
func Write(p []byte) int {
	writeSinks(p)
	return len(p)
}
