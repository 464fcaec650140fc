package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedSymbolsOrdersByOffsetWithoutMutatingInput(t *testing.T) {
	in := []Symbol{
		{Name: "c", Offset: 200},
		{Name: "a", Offset: 0},
		{Name: "b", Offset: 100},
	}
	out := sortedSymbols(in)
	assert.Equal(t, []Symbol{
		{Name: "a", Offset: 0},
		{Name: "b", Offset: 100},
		{Name: "c", Offset: 200},
	}, out)
	assert.Equal(t, "c", in[0].Name, "sortedSymbols must not reorder the caller's slice")
}

func TestSortedSymbolsEmptyInput(t *testing.T) {
	assert.Empty(t, sortedSymbols(nil))
}

func TestArchConstants(t *testing.T) {
	assert.Equal(t, Arch(0), ARM64)
	assert.NotEqual(t, ARM64, X86_64)
}
