package container

import "encoding/binary"

// PE32+ layout constants and the DOS stub bytes. A PE image that imports
// kernel32.dll and references string/data constants through PC-relative
// fixups normally needs .rdata/.data/.idata/.reloc/debug sections. This
// source calls no DLL — internal/platform's startup stub issues Windows
// native-API service numbers directly the same way it issues Linux/macOS
// syscalls — and has no globals to relocate, so the image here carries a
// single .text section and nothing else.
const (
	peDOSHeaderSize     = 64
	peDOSStubSize       = 64
	peSignatureSize     = 4
	peCOFFHeaderSize    = 20
	peOptionalHeaderSize = 240
	peFileAlignment     = 0x200
	peSectionAlignment  = 0x1000
	peImageBase         = 0x400000
	peNumSections       = 1
	peSectionTableSize  = peNumSections * 40

	imageFileMachineARM64 = 0xAA64
)

var peDOSStub = []byte{
	0x0e, 0x1f, 0xba, 0x0e, 0x00, 0xb4, 0x09, 0xcd,
	0x21, 0xb8, 0x01, 0x4c, 0xcd, 0x21, 0x54, 0x68,
	0x69, 0x73, 0x20, 0x70, 0x72, 0x6f, 0x67, 0x72,
	0x61, 0x6d, 0x20, 0x63, 0x61, 0x6e, 0x6e, 0x6f,
	0x74, 0x20, 0x62, 0x65, 0x20, 0x72, 0x75, 0x6e,
	0x20, 0x69, 0x6e, 0x20, 0x44, 0x4f, 0x53, 0x20,
	0x6d, 0x6f, 0x64, 0x65, 0x2e, 0x0d, 0x0d, 0x0a,
	0x24, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// BuildPE64 lays out a PE32+ ARM64 executable holding only a .text section
// and a COFF symbol table built from img.Symbols, entry point resolved to
// img.EntrySymbol's offset.
func BuildPE64(img Image) ([]byte, error) {
	headersRaw := peDOSHeaderSize + peDOSStubSize + peSignatureSize + peCOFFHeaderSize + peOptionalHeaderSize + peSectionTableSize
	headersAligned := alignUp(headersRaw, peFileAlignment)

	textRaw := alignUp(len(img.Text), peFileAlignment)
	textRVA := peSectionAlignment
	textFileOff := headersAligned

	coffSyms, strtab, numSyms := buildCOFFSymbols(img.Symbols)
	symtabFileOff := textFileOff + textRaw
	strtabFileOff := symtabFileOff + len(coffSyms)
	totalSize := strtabFileOff + len(strtab)

	imageSize := alignUp(textRVA+len(img.Text), peSectionAlignment)

	entryOff, _ := symbolOffset(img.Symbols, img.EntrySymbol)

	pe := make([]byte, totalSize)

	pe[0] = 'M'
	pe[1] = 'Z'
	putU32(pe[0x3C:], 0x80)
	copy(pe[0x40:], peDOSStub)

	pe[0x80] = 'P'
	pe[0x81] = 'E'

	coff := pe[0x84:]
	putU16(coff[0:], imageFileMachineARM64)
	putU16(coff[2:], uint16(peNumSections))
	putU32(coff[4:], 0)
	putU32(coff[8:], uint32(symtabFileOff))
	putU32(coff[12:], uint32(numSyms))
	putU16(coff[16:], uint16(peOptionalHeaderSize))
	putU16(coff[18:], 0x0022) // EXECUTABLE_IMAGE | LARGE_ADDRESS_AWARE

	opt := pe[0x98:]
	putU16(opt[0:], 0x020B) // PE32+
	opt[2] = 1
	putU32(opt[4:], uint32(len(img.Text))) // SizeOfCode
	putU32(opt[8:], 0)                     // SizeOfInitializedData
	putU32(opt[12:], 0)                    // SizeOfUninitializedData
	putU32(opt[16:], uint32(textRVA+entryOff))
	putU32(opt[20:], uint32(textRVA))
	putU64(opt[24:], uint64(peImageBase))
	putU32(opt[32:], uint32(peSectionAlignment))
	putU32(opt[36:], uint32(peFileAlignment))
	putU16(opt[40:], 6)
	putU16(opt[48:], 6)
	putU32(opt[56:], uint32(imageSize))
	putU32(opt[60:], uint32(headersAligned))
	putU16(opt[68:], 3)      // IMAGE_SUBSYSTEM_WINDOWS_CUI
	putU16(opt[70:], 0x0160) // HIGH_ENTROPY_VA | DYNAMIC_BASE | NX_COMPAT
	putU64(opt[72:], 0x100000)
	putU64(opt[80:], 0x1000)
	putU64(opt[88:], 0x100000)
	putU64(opt[96:], 0x1000)
	putU32(opt[104:], 0)
	putU32(opt[108:], 16)

	sectBase := 0x188
	writeSection(pe[sectBase:], ".text", len(img.Text), textRVA, textRaw, textFileOff, 0x60000020)

	copy(pe[textFileOff:], img.Text)
	copy(pe[symtabFileOff:], coffSyms)
	copy(pe[strtabFileOff:], strtab)

	return pe, nil
}

func writeSection(buf []byte, name string, virtualSize, rva, rawSize, fileOff int, characteristics uint32) {
	i := 0
	for i < len(name) && i < 8 {
		buf[i] = name[i]
		i++
	}
	putU32(buf[8:], uint32(virtualSize))
	putU32(buf[12:], uint32(rva))
	putU32(buf[16:], uint32(rawSize))
	putU32(buf[20:], uint32(fileOff))
	putU32(buf[24:], 0)
	putU32(buf[28:], 0)
	putU16(buf[32:], 0)
	putU16(buf[34:], 0)
	putU32(buf[36:], characteristics)
}

// buildCOFFSymbols builds an 18-byte-per-entry COFF symbol table (short
// names inline, long names referenced into strtab) recording each of
// syms as a section-1 (.text), external, function symbol.
func buildCOFFSymbols(syms []Symbol) (coffSyms, strtab []byte, numSyms int) {
	strtab = make([]byte, 4) // first 4 bytes hold the table's own total size
	ordered := sortedSymbols(syms)
	for _, s := range ordered {
		entry := make([]byte, 18)
		if len(s.Name) <= 8 {
			copy(entry[0:8], s.Name)
		} else {
			binary.LittleEndian.PutUint32(entry[0:4], 0)
			binary.LittleEndian.PutUint32(entry[4:8], uint32(len(strtab)))
			strtab = append(strtab, []byte(s.Name)...)
			strtab = append(strtab, 0)
		}
		binary.LittleEndian.PutUint32(entry[8:12], uint32(s.Offset)) // Value
		binary.LittleEndian.PutUint16(entry[12:14], 1)                // SectionNumber: .text
		binary.LittleEndian.PutUint16(entry[14:16], 0x20)              // Type: function
		entry[16] = 2                                                  // StorageClass: EXTERNAL
		entry[17] = 0                                                  // NumberOfAuxSymbols
		coffSyms = append(coffSyms, entry...)
		numSyms++
	}
	binary.LittleEndian.PutUint32(strtab[0:4], uint32(len(strtab)))
	return coffSyms, strtab, numSyms
}
