package fd

import (
	"talus/kernel"
	"talus/kernel/driver/console"
)

// Console is the fd every process's descriptors 0, 1 and 2 name at first
// startup (spec §6): stdin, stdout and stderr are all the same device.
type Console struct{}

func (Console) Read(buf []byte) (int, *kernel.Error) {
	if !console.Input.CanRead() {
		return 0, ErrBlocked
	}
	return console.Input.Read(buf), nil
}

func (Console) Write(buf []byte) (int, *kernel.Error) { return console.Write(buf), nil }
func (Console) CanRead() bool                         { return console.Input.CanRead() }
func (Console) CanWrite() bool                        { return true }
