package fd

import "talus/kernel"

// Null is the fd handed out by the null_fd syscall: reads report EOF
// immediately, writes discard silently, and neither ever blocks.
type Null struct{}

func (Null) Read(buf []byte) (int, *kernel.Error)  { return 0, nil }
func (Null) Write(buf []byte) (int, *kernel.Error) { return len(buf), nil }
func (Null) CanRead() bool                         { return true }
func (Null) CanWrite() bool                        { return true }
