// Command mkdisk assembles a disk image in the layout spec §6 describes: a
// bootloader sector, the kernel image, and a concatenation of statically
// linked userland ELFs. It also emits the pre-parsed program header table
// the in-kernel loader consumes (kernel/loader's Directory), since spec §1
// treats the ELF32 parser itself as an external collaborator whose
// contract is named but never run in ring 0.
//
// Grounded in biscuit's cmd/chentry (debug/elf validation, os/log error
// handling over a command-line ELF tool) and gopheros's tools/redirects
// (assembling a derived table from parsed ELF data and writing it back
// into the kernel tree as generated Go source).
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"debug/elf"

	"talus/kernel/loader"
	"talus/kernel/mem"
)

const sectorSize = 512

func main() {
	out := flag.String("out", "disk.img", "path to write the assembled disk image")
	bootloader := flag.String("bootloader", "", "path to a 512-byte bootloader sector (zero-filled if omitted)")
	kernelImage := flag.String("kernel", "", "path to the kernel image")
	directoryOut := flag.String("directory-out", "kernel/loader/directory_data.go", "path to write the generated program directory")
	flag.Parse()

	if *kernelImage == "" {
		log.Fatal("mkdisk: -kernel is required")
	}
	userELFs := flag.Args()
	if len(userELFs) == 0 {
		log.Fatal("mkdisk: at least one userland ELF path must be given")
	}

	boot, err := readBootloader(*bootloader)
	if err != nil {
		log.Fatalf("mkdisk: %s", err)
	}
	kernelBytes, err := os.ReadFile(*kernelImage)
	if err != nil {
		log.Fatalf("mkdisk: reading kernel image: %s", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("mkdisk: %s", err)
	}
	defer f.Close()

	if _, err := f.Write(boot); err != nil {
		log.Fatalf("mkdisk: %s", err)
	}
	if _, err := f.Write(kernelBytes); err != nil {
		log.Fatalf("mkdisk: %s", err)
	}

	cursor := uint32(sectorSize + len(kernelBytes))
	programs := make([]loader.Program, 0, len(userELFs))
	for _, path := range userELFs {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("mkdisk: reading %s: %s", path, err)
		}

		prog, err := validateAndDescribe(path, raw, cursor)
		if err != nil {
			log.Fatalf("mkdisk: %s", err)
		}
		if _, err := f.Write(raw); err != nil {
			log.Fatalf("mkdisk: %s", err)
		}

		cursor += uint32(len(raw))
		programs = append(programs, prog)
	}

	if err := writeDirectory(*directoryOut, programs); err != nil {
		log.Fatalf("mkdisk: writing directory: %s", err)
	}

	fmt.Printf("mkdisk: wrote %s (%d bytes, %d image(s))\n", *out, cursor, len(programs))
}

func readBootloader(path string) ([]byte, error) {
	buf := make([]byte, sectorSize)
	if path == "" {
		return buf, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) > sectorSize {
		return nil, fmt.Errorf("bootloader %s is larger than one sector (%d bytes)", path, len(raw))
	}
	copy(buf, raw)
	return buf, nil
}

// validateAndDescribe checks raw against spec §6's ELF requirements (32-bit,
// little-endian, version 1, executable, machine x86) and reduces its
// PT_LOAD program headers to the Program/ProgramHeader shape the in-kernel
// loader consumes, recording each segment's absolute disk offset.
func validateAndDescribe(path string, raw []byte, diskOffset uint32) (loader.Program, error) {
	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return loader.Program{}, fmt.Errorf("%s: %w", path, err)
	}
	defer ef.Close()

	switch {
	case ef.Class != elf.ELFCLASS32:
		return loader.Program{}, fmt.Errorf("%s: not a 32-bit ELF", path)
	case ef.Data != elf.ELFDATA2LSB:
		return loader.Program{}, fmt.Errorf("%s: not little-endian", path)
	case ef.Version != elf.EV_CURRENT:
		return loader.Program{}, fmt.Errorf("%s: unsupported ELF version", path)
	case ef.Type != elf.ET_EXEC:
		return loader.Program{}, fmt.Errorf("%s: not an executable ELF", path)
	case ef.Machine != elf.EM_386:
		return loader.Program{}, fmt.Errorf("%s: not a machine=386 ELF", path)
	}

	prog := loader.Program{Entry: uintptr(ef.Entry)}
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		vaddr := uintptr(p.Vaddr)
		end := vaddr + uintptr(p.Memsz)
		if vaddr < mem.UserStart || end > mem.KernelStart || end < vaddr {
			return loader.Program{}, fmt.Errorf("%s: PT_LOAD segment at %#x falls outside the user region", path, vaddr)
		}
		prog.Headers = append(prog.Headers, loader.ProgramHeader{
			Vaddr:      vaddr,
			DiskOffset: diskOffset + uint32(p.Off),
			FileSize:   uint32(p.Filesz),
			MemSize:    uint32(p.Memsz),
			Writable:   p.Flags&elf.PF_W != 0,
		})
	}
	if len(prog.Headers) == 0 {
		return loader.Program{}, fmt.Errorf("%s: no PT_LOAD segments", path)
	}
	return prog, nil
}

func writeDirectory(path string, programs []loader.Program) error {
	var b strings.Builder
	b.WriteString("// Code generated by cmd/mkdisk. DO NOT EDIT.\n\n")
	b.WriteString("package loader\n\n")
	b.WriteString("func init() {\n\tDirectory = []Program{\n")
	for _, p := range programs {
		fmt.Fprintf(&b, "\t\t{Entry: %#x, Headers: []ProgramHeader{\n", p.Entry)
		for _, h := range p.Headers {
			fmt.Fprintf(&b, "\t\t\t{Vaddr: %#x, DiskOffset: %#x, FileSize: %#x, MemSize: %#x, Writable: %t},\n",
				h.Vaddr, h.DiskOffset, h.FileSize, h.MemSize, h.Writable)
		}
		b.WriteString("\t\t}},\n")
	}
	b.WriteString("\t}\n}\n")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
