// Package container writes the finished, relocated text bytes arm64.Assembler
// produces into one of three executable container formats: ELF64 (Linux),
// Mach-O64 (macOS) and PE32+ (Windows). Each writer takes the same Image —
// text bytes, symbol table, entry symbol name — and is otherwise
// independent; the three formats share no common abstraction beyond the
// bytes they're handed.
package container

import "golang.org/x/exp/slices"

// Arch selects the machine-code architecture the image's Text already
// contains. The encoder only ever produces ARM64 today (see
// internal/encoding/arm64); X86_64 exists so the container writers' target
// fields match the `-a {arm64|x86_64}` CLI flag, with codegen for that
// architecture left unimplemented.
type Arch int

const (
	ARM64 Arch = iota
	X86_64
)

// Symbol is one entry point into Text: a method label and the byte offset
// within Text where its code begins.
type Symbol struct {
	Name   string
	Offset int
}

// Image is the input every container writer consumes: finished machine code
// plus enough symbol information to build a symbol table, and the name of
// the symbol the OS loader should jump to first.
type Image struct {
	Text        []byte
	Symbols     []Symbol
	EntrySymbol string
	BaseAddr    uint64
}

// sortedSymbols returns a copy of syms ordered by Offset. Every writer
// emits its symbols in this order; the ELF writer also computes each
// symbol's size as the gap to the next one.
func sortedSymbols(syms []Symbol) []Symbol {
	out := make([]Symbol, len(syms))
	copy(out, syms)
	slices.SortFunc(out, func(a, b Symbol) int { return a.Offset - b.Offset })
	return out
}
