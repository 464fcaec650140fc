package maincmd

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/mna/mainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// elfSymbols decodes a minimal ELF64 symbol table generically, from the
// section header table rather than any offset this package's own
// container writer happens to use, so the test exercises the actual file
// bytes rather than re-deriving the layout it's supposed to be checking.
func elfSymbols(t *testing.T, data []byte) (entry uint64, syms map[string]uint64) {
	t.Helper()
	require.GreaterOrEqual(t, len(data), 64)
	require.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, data[0:4])

	entry = binary.LittleEndian.Uint64(data[24:32])
	shoff := binary.LittleEndian.Uint64(data[40:48])
	shentsize := binary.LittleEndian.Uint16(data[58:60])
	shnum := binary.LittleEndian.Uint16(data[60:62])

	type section struct {
		typ    uint32
		offset uint64
		size   uint64
		link   uint32
	}
	sections := make([]section, shnum)
	for i := range sections {
		s := data[shoff+uint64(i)*uint64(shentsize):]
		sections[i] = section{
			typ:    binary.LittleEndian.Uint32(s[4:8]),
			offset: binary.LittleEndian.Uint64(s[24:32]),
			size:   binary.LittleEndian.Uint64(s[32:40]),
			link:   binary.LittleEndian.Uint32(s[40:44]),
		}
	}

	const shtSymtab = 2
	var symtab section
	found := false
	for _, s := range sections {
		if s.typ == shtSymtab {
			symtab = s
			found = true
			break
		}
	}
	require.True(t, found, "no SHT_SYMTAB section found")
	strtab := sections[symtab.link]

	const symSize = 24
	syms = make(map[string]uint64)
	for off := uint64(0); off+symSize <= symtab.size; off += symSize {
		entryBytes := data[symtab.offset+off:]
		nameOff := binary.LittleEndian.Uint32(entryBytes[0:4])
		if nameOff == 0 {
			continue
		}
		value := binary.LittleEndian.Uint64(entryBytes[8:16])
		nameBytes := data[strtab.offset+uint64(nameOff):]
		end := bytes.IndexByte(nameBytes, 0)
		require.GreaterOrEqual(t, end, 0)
		syms[string(nameBytes[:end])] = value
	}
	return entry, syms
}

func compileSource(t *testing.T, src string, plat string) (outPath string, stderr string) {
	t.Helper()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "prog.p")
	require.NoError(t, os.WriteFile(srcPath, []byte(src), 0o644))

	out := filepath.Join(dir, "a.out")
	c := &Cmd{Output: out, Plat: plat}
	c.SetArgs([]string{srcPath})

	var stdout, errBuf bytes.Buffer
	err := c.compile(context.Background(), mainer.Stdio{Stdout: &stdout, Stderr: &errBuf})
	require.NoError(t, err)
	return out, errBuf.String()
}

const sampleSource = `
i32 add(i32 a, i32 b) {
	return a + b;
}

i32 main() {
	return add(1, 2);
}
`

// TestCompileLinuxEntryPointResolvesToStartSymbol exercises the full
// pipeline end to end and checks the one property a unit test on any
// single stage can't: that the finished ELF's e_entry actually points at
// the platform preamble, not wherever codegen happened to place the first
// user method.
func TestCompileLinuxEntryPointResolvesToStartSymbol(t *testing.T) {
	out, _ := compileSource(t, sampleSource, "linux")
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	entry, syms := elfSymbols(t, data)
	startVal, ok := syms["_start"]
	require.True(t, ok, "_start symbol missing from the produced binary")
	mainVal, ok := syms["main"]
	require.True(t, ok, "main symbol missing from the produced binary")
	addVal, ok := syms["add"]
	require.True(t, ok, "add symbol missing from the produced binary")

	assert.Equal(t, startVal, entry, "e_entry must resolve to _start, not the first user method")
	assert.Less(t, startVal, mainVal, "_start must precede main in the text section")
	assert.NotEqual(t, mainVal, addVal)
}

func TestCompileLinuxSharedProducesETDyn(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "prog.p")
	require.NoError(t, os.WriteFile(srcPath, []byte(sampleSource), 0o644))
	out := filepath.Join(dir, "a.out")

	c := &Cmd{Output: out, Plat: "linux", Shared: true}
	c.SetArgs([]string{srcPath})
	var stdout, errBuf bytes.Buffer
	require.NoError(t, c.compile(context.Background(), mainer.Stdio{Stdout: &stdout, Stderr: &errBuf}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	const etDyn = 3
	assert.Equal(t, uint16(etDyn), binary.LittleEndian.Uint16(data[16:18]))
}

func TestCompileMacOSProducesMachOMagic(t *testing.T) {
	out, _ := compileSource(t, sampleSource, "macos")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	const machoMagic64 = 0xFEEDFACF
	require.GreaterOrEqual(t, len(data), 4)
	assert.Equal(t, uint32(machoMagic64), binary.LittleEndian.Uint32(data[0:4]))
}

func TestCompileWindowsProducesPEHeader(t *testing.T) {
	out, _ := compileSource(t, sampleSource, "windows")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 0x82)
	assert.Equal(t, byte('M'), data[0])
	assert.Equal(t, byte('Z'), data[1])
	assert.Equal(t, byte('P'), data[0x80])
	assert.Equal(t, byte('E'), data[0x81])
}

// TestCompileBareStartsWithPlatformPreamble confirms the preamble lands at
// byte offset 0 even for the container-free "bare" target, where there's
// no symbol table or header to cross-check against: the raw instruction
// stream itself must begin with the zeroed fp/lr sequence EmitStart emits,
// not with whatever the first user method's prologue looks like.
func TestCompileBareStartsWithPlatformPreamble(t *testing.T) {
	out, _ := compileSource(t, sampleSource, "bare")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 4)
	// MOVZ x29, #0 zeroes the frame pointer.
	assert.Equal(t, []byte{0x1D, 0x00, 0x80, 0xD2}, data[0:4])
}
