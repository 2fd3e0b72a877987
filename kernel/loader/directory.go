// Package loader turns a parsed ELF program-header view into mapped user
// pages and an initial trap frame, the in-kernel half of spec §6's "ELF
// loader" external collaborator. Walking raw ELF bytes -- endianness,
// magic numbers, section headers -- stays out of ring 0 entirely; that
// work happens once, at image-build time, in cmd/mkdisk, which uses
// debug/elf to reduce each on-disk image to the Program/ProgramHeader
// shape below before it ever reaches the kernel.
package loader

// ProgramHeader is one PT_LOAD segment reduced to what mapping needs.
// FileSize bytes are read from disk starting at DiskOffset; the remainder
// up to MemSize is zero-filled, matching the bss tail of a real PT_LOAD
// entry whose p_memsz exceeds its p_filesz.
type ProgramHeader struct {
	Vaddr      uintptr
	DiskOffset uint32
	FileSize   uint32
	MemSize    uint32
	Writable   bool
}

// Program is one statically linked image: its entry point and the set of
// PT_LOAD segments to map, already validated against spec §6's ELF
// requirements (32-bit, little-endian, version 1, executable, x86) by
// whatever produced the directory.
type Program struct {
	Entry   uintptr
	Headers []ProgramHeader
}

// Directory is the ordered list of images found after the kernel on disk,
// indexed the way exec's index argument names them: Directory[0] is the
// first ELF found past the kernel image, and so on, per the cursor walk
// spec §6 describes (offset = start_offset + max(header_end,
// last_program_end, last_section_end), stopping when the ELF magic is
// absent).
var Directory []Program
