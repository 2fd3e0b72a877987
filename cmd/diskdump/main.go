// Command diskdump inspects a disk image assembled by cmd/mkdisk, printing
// the bootloader/kernel boundary and then walking the concatenated ELF
// images after it exactly the way spec §6 describes the external ELF
// loader doing: read headers at a cursor offset, advance to
// offset + max(header_end, last_program_end, last_section_end), and stop
// once the ELF magic is no longer present. Diagnostic twin of cmd/mkdisk,
// grounded in the same debug/elf boundary gopheros's tools/redirects uses
// for reading ELF section/symbol data from hosted Go code.
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"debug/elf"

	"golang.org/x/arch/x86/x86asm"
)

const sectorSize = 512

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

func main() {
	path := flag.String("disk", "", "path to the disk image")
	flag.Parse()
	if *path == "" {
		log.Fatal("diskdump: -disk is required")
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("diskdump: %s", err)
	}

	fmt.Printf("bootloader: sector 0 (%d bytes)\n", sectorSize)

	cursor := firstELFOffset(raw, sectorSize)
	if cursor < 0 {
		log.Fatal("diskdump: no ELF image found after the kernel")
	}
	fmt.Printf("kernel image: offset %d..%d (%d bytes)\n", sectorSize, cursor, cursor-sectorSize)

	index := 0
	for cursor < len(raw) && bytes.HasPrefix(raw[cursor:], elfMagic) {
		next, summary, err := describeImage(raw, cursor)
		if err != nil {
			log.Fatalf("diskdump: image %d at offset %d: %s", index, cursor, err)
		}
		fmt.Printf("image %d: offset %d %s\n", index, cursor, summary)
		cursor = next
		index++
	}
	fmt.Printf("%d image(s), %d trailing byte(s) after the last ELF\n", index, len(raw)-cursor)
}

func firstELFOffset(raw []byte, from int) int {
	for i := from; i+len(elfMagic) <= len(raw); i++ {
		if bytes.Equal(raw[i:i+len(elfMagic)], elfMagic) {
			return i
		}
	}
	return -1
}

// describeImage parses the ELF starting at raw[start:] and returns the
// offset of the next image, per spec §6's cursor-advance formula.
func describeImage(raw []byte, start int) (next int, summary string, err error) {
	var hdr elf.Header32
	if err := binary.Read(bytes.NewReader(raw[start:]), binary.LittleEndian, &hdr); err != nil {
		return 0, "", err
	}

	ef, err := elf.NewFile(bytes.NewReader(raw[start:]))
	if err != nil {
		return 0, "", err
	}
	defer ef.Close()

	headerEnd := uint32(hdr.Ehsize)
	if phEnd := uint32(hdr.Phoff) + uint32(hdr.Phnum)*uint32(hdr.Phentsize); phEnd > headerEnd {
		headerEnd = phEnd
	}
	if shEnd := uint32(hdr.Shoff) + uint32(hdr.Shnum)*uint32(hdr.Shentsize); shEnd > headerEnd {
		headerEnd = shEnd
	}

	var lastProgEnd, lastSectEnd uint64
	loadCount := 0
	for _, p := range ef.Progs {
		if p.Type == elf.PT_LOAD {
			loadCount++
		}
		if end := p.Off + p.Filesz; end > lastProgEnd {
			lastProgEnd = end
		}
	}
	for _, s := range ef.Sections {
		if end := s.Offset + s.Size; end > lastSectEnd {
			lastSectEnd = end
		}
	}

	span := uint64(headerEnd)
	if lastProgEnd > span {
		span = lastProgEnd
	}
	if lastSectEnd > span {
		span = lastSectEnd
	}

	summary = fmt.Sprintf("machine=%s entry=%#x PT_LOAD=%d size=%d entry_insns=[%s]",
		ef.Machine, ef.Entry, loadCount, span, disassembleEntry(ef, raw[start:]))
	return start + int(span), summary, nil
}

// disassembleEntry decodes a handful of 32-bit instructions at the ELF's
// entry point, for a human skimming a dump to confirm the loader will land
// somewhere sane. It is diagnostic only: the in-kernel loader never
// disassembles anything, it just maps the bytes and jumps.
func disassembleEntry(ef *elf.File, image []byte) string {
	var off uint64
	found := false
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD || ef.Entry < p.Vaddr || ef.Entry >= p.Vaddr+p.Filesz {
			continue
		}
		off = p.Off + (ef.Entry - p.Vaddr)
		found = true
		break
	}
	if !found || off >= uint64(len(image)) {
		return "?"
	}

	var insns []string
	code := image[off:]
	for i := 0; i < 4 && len(code) > 0; i++ {
		inst, err := x86asm.Decode(code, 32)
		if err != nil {
			insns = append(insns, "?")
			break
		}
		insns = append(insns, inst.String())
		code = code[inst.Len:]
	}
	return strings.Join(insns, "; ")
}
