package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"talus/kernel/mem"
)

// buildMinimalELF hand-assembles the smallest 32-bit ELF executable
// debug/elf will parse: one ELF header, one PT_LOAD program header
// immediately after it, and the segment's raw bytes.
func buildMinimalELF(t *testing.T, machine elf.Machine, entry, vaddr uint32, data []byte, writable bool) []byte {
	t.Helper()

	const headerSize = 52
	const phdrSize = 32

	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     headerSize,
		Shoff:     0,
		Ehsize:    headerSize,
		Phentsize: phdrSize,
		Phnum:     1,
	}
	copy(hdr.Ident[:], []byte{0x7f, 'E', 'L', 'F'})
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	flags := uint32(elf.PF_R | elf.PF_X)
	if writable {
		flags |= uint32(elf.PF_W)
	}
	phdr := elf.Prog32{
		Type:   uint32(elf.PT_LOAD),
		Off:    headerSize + phdrSize,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint32(len(data)),
		Memsz:  uint32(len(data)),
		Flags:  flags,
		Align:  0x1000,
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("encoding header: %s", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, &phdr); err != nil {
		t.Fatalf("encoding program header: %s", err)
	}
	buf.Write(data)
	return buf.Bytes()
}

func TestValidateAndDescribeAcceptsAValidImage(t *testing.T) {
	raw := buildMinimalELF(t, elf.EM_386, uint32(mem.UserStart)+0x10, uint32(mem.UserStart), []byte("hello"), false)

	prog, err := validateAndDescribe("test.elf", raw, 1024)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if prog.Entry != mem.UserStart+0x10 {
		t.Errorf("expected entry %#x, got %#x", mem.UserStart+0x10, prog.Entry)
	}
	if len(prog.Headers) != 1 {
		t.Fatalf("expected one PT_LOAD header, got %d", len(prog.Headers))
	}
	h := prog.Headers[0]
	if h.Vaddr != mem.UserStart {
		t.Errorf("expected vaddr %#x, got %#x", mem.UserStart, h.Vaddr)
	}
	if h.DiskOffset != 1024+84 {
		t.Errorf("expected disk offset %d, got %d", 1024+84, h.DiskOffset)
	}
	if h.FileSize != 5 || h.MemSize != 5 {
		t.Errorf("expected file/mem size 5, got %d/%d", h.FileSize, h.MemSize)
	}
	if h.Writable {
		t.Error("expected a read-only segment")
	}
}

func TestValidateAndDescribeRejectsWrongMachine(t *testing.T) {
	raw := buildMinimalELF(t, elf.EM_X86_64, uint32(mem.UserStart), uint32(mem.UserStart), []byte("x"), false)

	if _, err := validateAndDescribe("test.elf", raw, 0); err == nil {
		t.Fatal("expected an EM_X86_64 image to be rejected")
	}
}

func TestValidateAndDescribeRejectsOutOfBoundsSegment(t *testing.T) {
	raw := buildMinimalELF(t, elf.EM_386, 0x1000, 0x1000, []byte("x"), false)

	if _, err := validateAndDescribe("test.elf", raw, 0); err == nil {
		t.Fatal("expected a segment below UserStart to be rejected")
	}
}
