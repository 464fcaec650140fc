package container

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() Image {
	return Image{
		Text: []byte{
			0x00, 0x00, 0x80, 0xD2, // mov x0, #0
			0xC0, 0x03, 0x5F, 0xD6, // ret
			0x01, 0x00, 0x80, 0xD2, // mov x1, #0
			0xC0, 0x03, 0x5F, 0xD6, // ret
		},
		Symbols: []Symbol{
			{Name: "main", Offset: 0},
			{Name: "helper", Offset: 8},
		},
		EntrySymbol: "_start",
		BaseAddr:    0x400000,
	}
}

func TestBuildELF64HasValidMagicAndClass(t *testing.T) {
	elf, err := BuildELF64(testImage(), ARM64, false)
	require.NoError(t, err)
	require.True(t, len(elf) > elfHeaderSize)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, elf[0:4])
	assert.Equal(t, byte(2), elf[4]) // ELFCLASS64
	assert.Equal(t, byte(1), elf[5]) // ELFDATA2LSB
}

func TestBuildELF64SetsExecOrDynType(t *testing.T) {
	exec, err := BuildELF64(testImage(), ARM64, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(etExec), binary.LittleEndian.Uint16(exec[16:18]))

	dyn, err := BuildELF64(testImage(), ARM64, true)
	require.NoError(t, err)
	assert.Equal(t, uint16(etDyn), binary.LittleEndian.Uint16(dyn[16:18]))
}

func TestBuildELF64SetsMachineByArch(t *testing.T) {
	arm, err := BuildELF64(testImage(), ARM64, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(emAArch64), binary.LittleEndian.Uint16(arm[18:20]))

	x86, err := BuildELF64(testImage(), X86_64, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(emX8664), binary.LittleEndian.Uint16(x86[18:20]))
}

func TestBuildELF64EmbedsTextVerbatim(t *testing.T) {
	img := testImage()
	elf, err := BuildELF64(img, ARM64, false)
	require.NoError(t, err)

	textOffset := align(elfHeaderSize+elfPhdrSize, 16)
	assert.Equal(t, img.Text, elf[textOffset:textOffset+len(img.Text)])
}

func TestBuildELF64ComputesSymbolSizesFromGapToNextSymbol(t *testing.T) {
	img := testImage()
	elf, err := BuildELF64(img, ARM64, false)
	require.NoError(t, err)

	textOffset := align(elfHeaderSize+elfPhdrSize, 16)
	textSize := len(img.Text)
	symtabOffset := textOffset + textSize

	// First symtab entry is the null entry; "main" (offset 0) comes next
	// since sortedSymbols orders by offset.
	mainEntry := elf[symtabOffset+elfSymSize:]
	mainSize := binary.LittleEndian.Uint64(mainEntry[16:24])
	assert.Equal(t, uint64(8), mainSize, "main's size should be the gap to helper's offset")

	helperEntry := elf[symtabOffset+2*elfSymSize:]
	helperSize := binary.LittleEndian.Uint64(helperEntry[16:24])
	assert.Equal(t, uint64(textSize-8), helperSize, "the last symbol's size should run to the end of .text")
}

func TestAlignRoundsUpToBoundary(t *testing.T) {
	assert.Equal(t, 16, align(1, 16))
	assert.Equal(t, 16, align(16, 16))
	assert.Equal(t, 32, align(17, 16))
	assert.Equal(t, 0, align(0, 16))
}

func TestBuildELF64EntryResolvesToEntrySymbolOffsetNotTextStart(t *testing.T) {
	img := testImage()
	img.Symbols = append(img.Symbols, Symbol{Name: "_start", Offset: 8})
	elf, err := BuildELF64(img, ARM64, false)
	require.NoError(t, err)

	textOffset := align(elfHeaderSize+elfPhdrSize, 16)
	wantEntry := img.BaseAddr + uint64(textOffset) + 8
	gotEntry := binary.LittleEndian.Uint64(elf[24:32])
	assert.Equal(t, wantEntry, gotEntry)
	assert.NotEqual(t, img.BaseAddr+uint64(textOffset), gotEntry, "entry must not default to the start of .text when an entry symbol is present")
}

func TestBuildELF64MissingEntrySymbolDefaultsToTextStart(t *testing.T) {
	img := testImage()
	img.EntrySymbol = "nowhere"
	elf, err := BuildELF64(img, ARM64, false)
	require.NoError(t, err)

	textOffset := align(elfHeaderSize+elfPhdrSize, 16)
	wantEntry := img.BaseAddr + uint64(textOffset)
	gotEntry := binary.LittleEndian.Uint64(elf[24:32])
	assert.Equal(t, wantEntry, gotEntry)
}

func TestBuildELF64NoSymbolsStillProducesValidHeader(t *testing.T) {
	img := testImage()
	img.Symbols = nil
	elf, err := BuildELF64(img, ARM64, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, elf[0:4])
}
