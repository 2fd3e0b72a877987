package pmm

// PageInfo is the per-physical-frame metadata described in spec §3: a
// tagged union between a free-list link and an allocated frame's
// reference count / copy-on-write bit. Every frame outside the kernel
// image and BIOS-reserved regions has exactly one PageInfo, stored in a
// fixed-size array indexed by frame number (see Allocator.infos).
//
// talus keeps the two states as separate fields rather than packing them
// into a single machine word the way the spec's refcount:31/cow:1 layout
// suggests: the bit-packing in the original exists to fit the metadata
// into a single CPU word reachable through the self-hosted, COW-backed
// PageInfo array; talus's array lives in ordinary Go-managed memory, so
// there is nothing to economize on and packing would only obscure the
// invariant.
type PageInfo struct {
	free bool

	// next chains free frames into a LIFO freelist. Meaningful only
	// when free is true.
	next Frame

	// refcount is meaningful only when free is false. A value of N means
	// N+1 live references, matching spec §3's invariant.
	refcount uint32

	// cow is meaningful only when free is false. May be set only when
	// the frame is shared (refcount >= 1) or is the global zero page.
	cow bool
}

// Free reports whether the frame is currently on the freelist.
func (pi *PageInfo) Free() bool { return pi.free }

// Refcount returns the current refcount (meaningful only when allocated).
func (pi *PageInfo) Refcount() uint32 { return pi.refcount }

// COW reports whether the frame is marked copy-on-write.
func (pi *PageInfo) COW() bool { return pi.cow }
