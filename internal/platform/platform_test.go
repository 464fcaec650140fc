package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park671/pcc-go/internal/encoding/arm64"
)

func movzWord(reg int, imm16 uint16) uint32 {
	a := arm64.New()
	a.MovZ(reg, imm16, 0)
	return a.Words[0]
}

func TestEmitStartLinuxLoadsLinuxExitNumber(t *testing.T) {
	a := arm64.New()
	EmitStart(a, Linux, "_start", "main")
	a.Label("main")
	require.NoError(t, a.Resolve())
	require.Len(t, a.Words, 5)
	assert.Equal(t, movzWord(arm64.X8, 94), a.Words[3])
	assert.Equal(t, uint32(0xD4000001), a.Words[4])
}

func TestEmitStartMacOSLoadsMacOSExitNumber(t *testing.T) {
	a := arm64.New()
	EmitStart(a, MacOS, "_start", "main")
	a.Label("main")
	require.NoError(t, a.Resolve())
	require.Len(t, a.Words, 5)
	assert.Equal(t, movzWord(arm64.X8, 1), a.Words[3])
	assert.Equal(t, uint32(0xD4000001), a.Words[4])
}

func TestEmitStartWindowsLoadsNtTerminateProcessNumber(t *testing.T) {
	a := arm64.New()
	EmitStart(a, Windows, "_start", "main")
	a.Label("main")
	require.NoError(t, a.Resolve())
	require.Len(t, a.Words, 5)
	assert.Equal(t, movzWord(arm64.X8, 44), a.Words[3])
	assert.Equal(t, uint32(0xD4000001), a.Words[4])
}

func TestEmitStartBareEmitsBrkInsteadOfSvc(t *testing.T) {
	a := arm64.New()
	EmitStart(a, Bare, "_start", "main")
	a.Label("main")
	require.NoError(t, a.Resolve())
	require.Len(t, a.Words, 4)
	assert.Equal(t, uint32(0xD4200000), a.Words[3])
}

func TestEmitStartZeroesFrameAndLinkRegistersBeforeCall(t *testing.T) {
	a := arm64.New()
	EmitStart(a, Linux, "_start", "main")
	a.Label("main")
	require.NoError(t, a.Resolve())
	assert.Equal(t, uint32(0xD280001D), a.Words[0])
	assert.Equal(t, uint32(0xD280001E), a.Words[1])
}

func TestEmitLibcWrappersLinuxEmitsThreeLabeledStubs(t *testing.T) {
	a := arm64.New()
	EmitLibcWrappers(a, Linux)
	require.NoError(t, a.Resolve())
	offs := a.Offsets()
	require.Contains(t, offs, "write")
	require.Contains(t, offs, "read")
	require.Contains(t, offs, "fork")
	require.Len(t, a.Words, 9)

	writeIdx := offs["write"] / 4
	assert.Equal(t, movzWord(arm64.X8, 64), a.Words[writeIdx])
	readIdx := offs["read"] / 4
	assert.Equal(t, movzWord(arm64.X8, 63), a.Words[readIdx])
	forkIdx := offs["fork"] / 4
	assert.Equal(t, movzWord(arm64.X8, 220), a.Words[forkIdx])
}

func TestEmitLibcWrappersMacOSUsesMacOSSyscallNumbers(t *testing.T) {
	a := arm64.New()
	EmitLibcWrappers(a, MacOS)
	require.NoError(t, a.Resolve())
	offs := a.Offsets()

	writeIdx := offs["write"] / 4
	assert.Equal(t, movzWord(arm64.X8, 4), a.Words[writeIdx])
	readIdx := offs["read"] / 4
	assert.Equal(t, movzWord(arm64.X8, 3), a.Words[readIdx])
	forkIdx := offs["fork"] / 4
	assert.Equal(t, movzWord(arm64.X8, 2), a.Words[forkIdx])
}

func TestEmitLibcWrappersWindowsEmitsNothing(t *testing.T) {
	a := arm64.New()
	EmitLibcWrappers(a, Windows)
	assert.Empty(t, a.Words)
}

func TestEmitLibcWrappersBareEmitsNothing(t *testing.T) {
	a := arm64.New()
	EmitLibcWrappers(a, Bare)
	assert.Empty(t, a.Words)
}

func TestEntrySymbolIsAlwaysStart(t *testing.T) {
	for _, os := range []OS{Linux, MacOS, Windows, Bare} {
		assert.Equal(t, "_start", EntrySymbol(os))
	}
}
