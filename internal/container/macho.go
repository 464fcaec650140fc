package container

import "encoding/binary"

// Mach-O64 layout constants: magic, cpu type, page size and the
// load-command/section byte shapes. A dynamically linked, ASLR-relocated,
// ad-hoc-code-signed executable normally needs LC_MAIN, bind opcodes, an
// export trie, and a full code-signature blob because its runtime calls
// into libSystem. This source never calls into libc — internal/platform's
// _start issues raw SVCs directly — so there is nothing to bind and no
// dyld info to build; the segment/load-command skeleton is kept but
// simplified to __PAGEZERO + __TEXT + __LINKEDIT (symtab/strtab only) with
// LC_UNIXTHREAD handing control straight to the entry PC, rather than
// LC_MAIN's dyld-mediated call. Code signing is a loader-enforcement
// concern, not a compiler-output-shape one, and is left out of this writer
// (see DESIGN.md).
const (
	machoMagic64    = 0xFEEDFACF
	machoCPUArm64   = 0x0100000C
	machoCPUSubAll  = 0x00000000
	machoExecutable = 0x02
	machoPageSize   = 0x4000

	lcSegment64   = 0x19
	lcSymtab      = 0x02
	lcUnixThread  = 0x05
	lcSegSize     = 72
	lcSectSize    = 80
	lcSymtabSize  = 24
	lcThreadSize  = 16 + 68*4 // command header + ARM64_THREAD_STATE64 (68 regs)

	nlistSize = 16
)

// BuildMachO64 lays out a minimal static Mach-O64 ARM64 executable: one
// __TEXT segment holding the header and code, one __LINKEDIT segment
// holding the symbol and string tables, and LC_UNIXTHREAD pointing the
// initial PC at img.EntrySymbol's offset.
func BuildMachO64(img Image) ([]byte, error) {
	const ncmds = 5 // __PAGEZERO, __TEXT, __LINKEDIT, LC_SYMTAB, LC_UNIXTHREAD
	lcTotal := lcSegSize /*__PAGEZERO*/ + (lcSegSize + lcSectSize) /*__TEXT*/ + lcSegSize /*__LINKEDIT*/ + lcSymtabSize + lcThreadSize

	headerSize := 32 + lcTotal
	textSectionOff := alignUp(headerSize, 16)
	textSize := len(img.Text)
	textSegEnd := alignUp(textSectionOff+textSize, machoPageSize)

	strtab := []byte{0}
	syms := sortedSymbols(img.Symbols)
	type nlist struct {
		nameOff int
		value   uint64
	}
	var entries []nlist
	for _, s := range syms {
		nameOff := len(strtab)
		strtab = append(strtab, []byte(s.Name)...)
		strtab = append(strtab, 0)
		entries = append(entries, nlist{nameOff, uint64(s.Offset)})
	}
	symtabDataSize := len(entries) * nlistSize

	pagezeroVMSize := uint64(0x100000000)
	textSegVAddr := pagezeroVMSize
	textSectionVAddr := textSegVAddr + uint64(textSectionOff)

	linkeditStart := textSegEnd
	symtabOff := alignUp(linkeditStart, 8)
	strtabOff := symtabOff + symtabDataSize
	linkeditEnd := alignUp(strtabOff+len(strtab), machoPageSize)
	if linkeditEnd == linkeditStart {
		linkeditEnd = linkeditStart + machoPageSize
	}
	linkeditVAddr := textSegVAddr + uint64(linkeditStart)
	linkeditVMSize := uint64(linkeditEnd - linkeditStart)

	entryOff, ok := symbolOffset(img.Symbols, img.EntrySymbol)
	if !ok {
		entryOff = 0
	}
	entryPC := textSectionVAddr + uint64(entryOff)

	bin := make([]byte, linkeditEnd)

	putU32(bin[0:], machoMagic64)
	putU32(bin[4:], machoCPUArm64)
	putU32(bin[8:], machoCPUSubAll)
	putU32(bin[12:], machoExecutable)
	putU32(bin[16:], uint32(ncmds))
	putU32(bin[20:], uint32(lcTotal))
	putU32(bin[24:], 0x00000001) // MH_NOUNDEFS: fully statically resolved
	putU32(bin[28:], 0)

	off := 32

	putU32(bin[off:], lcSegment64)
	putU32(bin[off+4:], lcSegSize)
	copy(bin[off+8:], "__PAGEZERO")
	putU64(bin[off+24:], 0)
	putU64(bin[off+32:], pagezeroVMSize)
	off += lcSegSize

	textCmdSize := lcSegSize + lcSectSize
	putU32(bin[off:], lcSegment64)
	putU32(bin[off+4:], uint32(textCmdSize))
	copy(bin[off+8:], "__TEXT")
	putU64(bin[off+24:], textSegVAddr)
	putU64(bin[off+32:], uint64(textSegEnd))
	putU64(bin[off+40:], 0)
	putU64(bin[off+48:], uint64(textSegEnd))
	putU32(bin[off+56:], 5) // maxprot r-x
	putU32(bin[off+60:], 5) // initprot r-x
	putU32(bin[off+64:], 1) // nsects
	putU32(bin[off+68:], 0)
	off += lcSegSize

	copy(bin[off:], "__text")
	copy(bin[off+16:], "__TEXT")
	putU64(bin[off+32:], textSectionVAddr)
	putU64(bin[off+40:], uint64(textSize))
	putU32(bin[off+48:], uint32(textSectionOff))
	putU32(bin[off+52:], 2) // align 2^2 = 4
	putU32(bin[off+64:], 0x80000400)
	off += lcSectSize

	putU32(bin[off:], lcSegment64)
	putU32(bin[off+4:], lcSegSize)
	copy(bin[off+8:], "__LINKEDIT")
	putU64(bin[off+24:], linkeditVAddr)
	putU64(bin[off+32:], linkeditVMSize)
	putU64(bin[off+40:], uint64(linkeditStart))
	putU64(bin[off+48:], uint64(linkeditEnd-linkeditStart))
	putU32(bin[off+56:], 1)
	putU32(bin[off+60:], 1)
	putU32(bin[off+64:], 0)
	putU32(bin[off+68:], 0)
	off += lcSegSize

	putU32(bin[off:], lcSymtab)
	putU32(bin[off+4:], lcSymtabSize)
	putU32(bin[off+8:], uint32(symtabOff))
	putU32(bin[off+12:], uint32(len(entries)))
	putU32(bin[off+16:], uint32(strtabOff))
	putU32(bin[off+20:], uint32(len(strtab)))
	off += lcSymtabSize

	putU32(bin[off:], lcUnixThread)
	putU32(bin[off+4:], uint32(lcThreadSize))
	putU32(bin[off+8:], 6)  // ARM_THREAD_STATE64
	putU32(bin[off+12:], 68) // state word count
	putU64(bin[off+16+32*8:], entryPC) // pc is register slot 32 in ARM_THREAD_STATE64

	copy(bin[textSectionOff:], img.Text)

	symtab := make([]byte, symtabDataSize)
	for i, e := range entries {
		o := i * nlistSize
		binary.LittleEndian.PutUint32(symtab[o:], uint32(e.nameOff))
		symtab[o+4] = 0x0f // N_SECT | N_EXT
		symtab[o+5] = 1    // section 1 (__text)
		binary.LittleEndian.PutUint16(symtab[o+6:], 0)
		binary.LittleEndian.PutUint64(symtab[o+8:], textSectionVAddr+e.value)
	}
	copy(bin[symtabOff:], symtab)
	copy(bin[strtabOff:], strtab)

	return bin, nil
}

func symbolOffset(syms []Symbol, name string) (int, bool) {
	for _, s := range syms {
		if s.Name == name {
			return s.Offset, true
		}
	}
	return 0, false
}

func putU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putU64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

func alignUp(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}
