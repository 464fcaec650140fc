package container

import "encoding/binary"

// elfHeaderSize, elfPhdrSize are the fixed ELF64 header sizes.
const (
	elfHeaderSize = 64
	elfPhdrSize   = 56
	elfShdrSize   = 64
	elfSymSize    = 24
)

const (
	etExec = 2
	etDyn  = 3

	emX8664   = 62
	emAArch64 = 183
)

// BuildELF64 lays out an ELF64 image as: header, one PT_LOAD program
// header, the text section, then the non-loaded .symtab/.strtab/.shstrtab
// and their section header table. This source language has no globals,
// only stack-resident locals, so there is no .rodata/.data concept to
// carry — those two sections are simply omitted rather than emitted empty.
func BuildELF64(img Image, arch Arch, shared bool) ([]byte, error) {
	headerTotal := elfHeaderSize + elfPhdrSize
	textOffset := align(headerTotal, 16)
	textSize := len(img.Text)
	loadedSize := textOffset + textSize

	textVAddr := img.BaseAddr + uint64(textOffset)

	entryOff, _ := symbolOffset(img.Symbols, img.EntrySymbol)
	entryVAddr := textVAddr + uint64(entryOff)

	strtab := []byte{0}
	type symEntry struct {
		nameOff int
		value   uint64
		size    uint64
	}
	var syms []symEntry
	offsets := sortedSymbols(img.Symbols)
	for i, s := range offsets {
		nameOff := len(strtab)
		strtab = append(strtab, []byte(s.Name)...)
		strtab = append(strtab, 0)
		var size uint64
		if i+1 < len(offsets) {
			size = uint64(offsets[i+1].Offset - s.Offset)
		} else {
			size = uint64(textSize - s.Offset)
		}
		syms = append(syms, symEntry{nameOff, textVAddr + uint64(s.Offset), size})
	}

	symtabSize := (1 + len(syms)) * elfSymSize
	symtab := make([]byte, symtabSize)
	for i, sym := range syms {
		off := (i + 1) * elfSymSize
		binary.LittleEndian.PutUint32(symtab[off:], uint32(sym.nameOff))
		symtab[off+4] = 0x12 // STT_FUNC | STB_GLOBAL<<4
		symtab[off+5] = 0
		binary.LittleEndian.PutUint16(symtab[off+6:], 1) // .text section index
		binary.LittleEndian.PutUint64(symtab[off+8:], sym.value)
		binary.LittleEndian.PutUint64(symtab[off+16:], sym.size)
	}

	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")
	shNameText := 1
	shNameSymtab := 7
	shNameStrtab := 15
	shNameShstrtab := 23

	symtabOffset := loadedSize
	strtabOffset := symtabOffset + symtabSize
	shstrtabOffset := strtabOffset + len(strtab)
	shdrOffset := shstrtabOffset + len(shstrtab)

	const shdrCount = 5
	totalSize := shdrOffset + shdrCount*elfShdrSize

	elf := make([]byte, totalSize)
	elf[0], elf[1], elf[2], elf[3] = 0x7f, 'E', 'L', 'F'
	elf[4] = 2 // ELFCLASS64
	elf[5] = 1 // ELFDATA2LSB
	elf[6] = 1 // EV_CURRENT
	elf[7] = 0 // ELFOSABI_NONE

	eType := uint16(etExec)
	if shared {
		eType = etDyn
	}
	binary.LittleEndian.PutUint16(elf[16:], eType)
	eMachine := uint16(emAArch64)
	if arch == X86_64 {
		eMachine = emX8664
	}
	binary.LittleEndian.PutUint16(elf[18:], eMachine)
	binary.LittleEndian.PutUint32(elf[20:], 1)
	binary.LittleEndian.PutUint64(elf[24:], entryVAddr)
	binary.LittleEndian.PutUint64(elf[32:], uint64(elfHeaderSize))
	binary.LittleEndian.PutUint64(elf[40:], uint64(shdrOffset))
	binary.LittleEndian.PutUint32(elf[48:], 0)
	binary.LittleEndian.PutUint16(elf[52:], uint16(elfHeaderSize))
	binary.LittleEndian.PutUint16(elf[54:], uint16(elfPhdrSize))
	binary.LittleEndian.PutUint16(elf[56:], 1)
	binary.LittleEndian.PutUint16(elf[58:], uint16(elfShdrSize))
	binary.LittleEndian.PutUint16(elf[60:], uint16(shdrCount))
	binary.LittleEndian.PutUint16(elf[62:], 4) // e_shstrndx

	phdr := elf[elfHeaderSize:]
	binary.LittleEndian.PutUint32(phdr[0:], 1) // PT_LOAD
	binary.LittleEndian.PutUint32(phdr[4:], 7) // PF_R|PF_W|PF_X
	binary.LittleEndian.PutUint64(phdr[8:], 0)
	binary.LittleEndian.PutUint64(phdr[16:], img.BaseAddr)
	binary.LittleEndian.PutUint64(phdr[24:], img.BaseAddr)
	binary.LittleEndian.PutUint64(phdr[32:], uint64(loadedSize))
	binary.LittleEndian.PutUint64(phdr[40:], uint64(loadedSize))
	binary.LittleEndian.PutUint64(phdr[48:], 0x200000)

	copy(elf[textOffset:], img.Text)
	copy(elf[symtabOffset:], symtab)
	copy(elf[strtabOffset:], strtab)
	copy(elf[shstrtabOffset:], shstrtab)

	shdr := elf[shdrOffset:]
	writeShdr(shdr[1*elfShdrSize:], shNameText, 1, 6, textVAddr, uint64(textOffset), uint64(textSize), 0, 0, 16, 0)
	writeShdr(shdr[2*elfShdrSize:], shNameSymtab, 2, 0, 0, uint64(symtabOffset), uint64(symtabSize), 3, uint32(1), 8, elfSymSize)
	writeShdr(shdr[3*elfShdrSize:], shNameStrtab, 3, 0, 0, uint64(strtabOffset), uint64(len(strtab)), 0, 0, 1, 0)
	writeShdr(shdr[4*elfShdrSize:], shNameShstrtab, 3, 0, 0, uint64(shstrtabOffset), uint64(len(shstrtab)), 0, 0, 1, 0)

	return elf, nil
}

func writeShdr(s []byte, name int, typ uint32, flags uint64, addr, offset, size uint64, link, info uint32, align, entsize uint64) {
	binary.LittleEndian.PutUint32(s[0:], uint32(name))
	binary.LittleEndian.PutUint32(s[4:], typ)
	binary.LittleEndian.PutUint64(s[8:], flags)
	binary.LittleEndian.PutUint64(s[16:], addr)
	binary.LittleEndian.PutUint64(s[24:], offset)
	binary.LittleEndian.PutUint64(s[32:], size)
	binary.LittleEndian.PutUint32(s[40:], link)
	binary.LittleEndian.PutUint32(s[44:], info)
	binary.LittleEndian.PutUint64(s[48:], align)
	binary.LittleEndian.PutUint64(s[56:], entsize)
}

func align(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}
