// Package kfmt provides a small Printf implementation that does not depend
// on package fmt. It is not allocation-free: the byte slices it hands to the
// output writer are heap-allocated. Output is buffered in a ring buffer
// until a console (or any io.Writer) is attached via SetOutputSink.
package kfmt

import "io"

const numBufSize = 32

var (
	earlyBuf   ringBuffer
	outputSink io.Writer

	missingArg   = []byte("%!(MISSING)")
	wrongVerb    = []byte("%!(NOVERB)")
	extraArgs    = []byte("%!(EXTRA)")
	trueBytes    = []byte("true")
	falseBytes   = []byte("false")
	digitsLower  = []byte("0123456789abcdef")
)

// SetOutputSink redirects future Printf output to w, first flushing
// whatever was buffered in the early ring buffer so no diagnostic output is
// lost once the console comes up.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyBuf)
	}
}

func sink() io.Writer {
	if outputSink != nil {
		return outputSink
	}
	return &earlyBuf
}

func writeStr(w io.Writer, s string) {
	w.Write([]byte(s))
}

func writeBytes(w io.Writer, b []byte) {
	w.Write(b)
}

// Printf supports a small subset of the verbs fmt.Printf supports: %s, %d,
// %x, %o, %t, %c and %%, with no flags or widths. Numeric formatting uses a
// fixed-size buffer, but every piece of output is passed to the writer as a
// byte slice, and those slices (and the number buffer) are heap-allocated.
func Printf(format string, args ...interface{}) {
	w := sink()
	argIndex := 0
	nextArg := func() (interface{}, bool) {
		if argIndex >= len(args) {
			return nil, false
		}
		a := args[argIndex]
		argIndex++
		return a, true
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			w.Write([]byte{c})
			continue
		}

		i++
		if i >= len(format) {
			break
		}

		switch format[i] {
		case '%':
			w.Write([]byte{'%'})
		case 's':
			arg, ok := nextArg()
			if !ok {
				writeBytes(w, missingArg)
				continue
			}
			switch v := arg.(type) {
			case string:
				writeStr(w, v)
			case []byte:
				writeBytes(w, v)
			default:
				writeStr(w, "%!s(unsupported)")
			}
		case 'c':
			arg, ok := nextArg()
			if !ok {
				writeBytes(w, missingArg)
				continue
			}
			if r, ok := arg.(rune); ok {
				w.Write([]byte{byte(r)})
			} else if b, ok := arg.(byte); ok {
				w.Write([]byte{b})
			}
		case 't':
			arg, ok := nextArg()
			if !ok {
				writeBytes(w, missingArg)
				continue
			}
			if b, ok := arg.(bool); ok && b {
				writeBytes(w, trueBytes)
			} else {
				writeBytes(w, falseBytes)
			}
		case 'd':
			arg, ok := nextArg()
			if !ok {
				writeBytes(w, missingArg)
				continue
			}
			writeInt(w, arg, 10)
		case 'x':
			arg, ok := nextArg()
			if !ok {
				writeBytes(w, missingArg)
				continue
			}
			writeInt(w, arg, 16)
		case 'o':
			arg, ok := nextArg()
			if !ok {
				writeBytes(w, missingArg)
				continue
			}
			writeInt(w, arg, 8)
		default:
			writeBytes(w, wrongVerb)
		}
	}

	if argIndex < len(args) {
		writeBytes(w, extraArgs)
	}
}

// toUint64 normalizes any of the integer kinds Printf is called with into a
// uint64 plus a sign flag, without using reflection.
func toUint64(arg interface{}) (value uint64, negative bool, ok bool) {
	switch v := arg.(type) {
	case int:
		return signSplit(int64(v))
	case int8:
		return signSplit(int64(v))
	case int16:
		return signSplit(int64(v))
	case int32:
		return signSplit(int64(v))
	case int64:
		return signSplit(v)
	case uint:
		return uint64(v), false, true
	case uint8:
		return uint64(v), false, true
	case uint16:
		return uint64(v), false, true
	case uint32:
		return uint64(v), false, true
	case uint64:
		return v, false, true
	case uintptr:
		return uint64(v), false, true
	default:
		return 0, false, false
	}
}

func signSplit(v int64) (uint64, bool, bool) {
	if v < 0 {
		return uint64(-v), true, true
	}
	return uint64(v), false, true
}

func writeInt(w io.Writer, arg interface{}, base uint64) {
	value, negative, ok := toUint64(arg)
	if !ok {
		writeStr(w, "%!(BADINT)")
		return
	}

	var buf [numBufSize]byte
	pos := len(buf)
	if value == 0 {
		pos--
		buf[pos] = '0'
	}
	for value > 0 {
		pos--
		buf[pos] = digitsLower[value%base]
		value /= base
	}
	if negative {
		pos--
		buf[pos] = '-'
	}
	w.Write(buf[pos:])
}
