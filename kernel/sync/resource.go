// Package sync provides the synchronization primitives used by the kernel
// core. talus runs on a single CPU with interrupts disabled while the
// kernel holds a global resource, so there is no need for the busy-wait
// spinlock a multiprocessor kernel would require; instead, hardware
// singletons and the MMU bundle are protected by Resource, a "taken" flag
// that turns concurrent-access bugs into immediate panics instead of
// silent corruption (spec §5).
package sync

// Resource guards a singleton piece of kernel state (a device, the MMU
// bundle) that must never be accessed reentrantly. Acquire and Release are
// not blocking locks: acquiring an already-taken Resource is a programmer
// error and panics immediately, documenting the single-owner discipline
// rather than queuing the second caller.
type Resource struct {
	taken bool
}

// Acquire marks the resource as taken. Panics if it is already taken.
func (r *Resource) Acquire() {
	if r.taken {
		panic("sync: resource already taken")
	}
	r.taken = true
}

// TryAcquire attempts to take the resource, returning false instead of
// panicking if it is already held.
func (r *Resource) TryAcquire() bool {
	if r.taken {
		return false
	}
	r.taken = true
	return true
}

// Release relinquishes a held resource. Releasing a free resource is a
// no-op, mirroring the teacher's RAII-scoped handles where a guard value
// may be dropped more than once along an error path.
func (r *Resource) Release() {
	r.taken = false
}

// Taken reports whether the resource is currently held.
func (r *Resource) Taken() bool {
	return r.taken
}
