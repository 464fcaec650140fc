package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/park671/pcc-go/internal/arena"
	"github.com/park671/pcc-go/internal/codegen"
	"github.com/park671/pcc-go/internal/compctx"
	"github.com/park671/pcc-go/internal/container"
	"github.com/park671/pcc-go/internal/encoding/arm64"
	"github.com/park671/pcc-go/internal/lexer"
	"github.com/park671/pcc-go/internal/mir"
	"github.com/park671/pcc-go/internal/optimize"
	"github.com/park671/pcc-go/internal/parser"
	"github.com/park671/pcc-go/internal/platform"
	"github.com/park671/pcc-go/internal/preprocess"
)

// compile runs the full pipeline: preprocess, lex, parse, lower to MIR,
// optionally fold, generate target code, prepend the platform startup stub,
// relocate, then write the selected container format (or, with -S, a
// textual listing of the encoded words instead).
func (c *Cmd) compile(ctx context.Context, stdio mainer.Stdio) error {
	srcPath := c.args[0]
	arenas := []*arena.Arena{}
	track := func(tag string, n int) *arena.Arena {
		a := arena.New(tag)
		a.Track(n)
		arenas = append(arenas, a)
		return a
	}

	expanded, err := preprocess.Expand(srcPath)
	if err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	track("preprocess", len(expanded))

	toks, err := lexer.Tokenize(srcPath, []byte(expanded))
	if err != nil {
		return fmt.Errorf("lex: %w", err)
	}
	track("lexer", len(toks)*24)

	prog, err := parser.Parse(toks)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	lexArena := arenas[len(arenas)-1]
	lexArena.Release()
	track("parser", len(prog.Methods)*64)

	cctx := compctx.New()
	gen := mir.NewGenerator(cctx)
	mirProg, err := gen.GenProgram(prog)
	if err != nil {
		return fmt.Errorf("mir: %w", err)
	}
	mirBytes := 0
	for _, m := range mirProg.Methods {
		mirBytes += len(m.Code) * 48
	}
	track("mir", mirBytes)

	if c.OptO > 0 {
		for i, m := range mirProg.Methods {
			if m.Extern {
				continue
			}
			mirProg.Methods[i] = optimize.FoldMir2(m)
		}
		track("optimize", mirBytes)
	}

	arch := c.Arch
	if arch == "" {
		arch = "arm64"
	}
	if arch != "arm64" {
		return fmt.Errorf("x86_64 code generation is not implemented")
	}

	body, err := codegen.Generate(mirProg)
	if err != nil {
		return fmt.Errorf("codegen: %w", err)
	}
	track("codegen", len(body.Words)*4)

	plat := platformFor(c.Plat)
	entry := platform.EntrySymbol(plat)
	pre := arm64.New()
	platform.EmitStart(pre, plat, entry, "main")
	platform.EmitLibcWrappers(pre, plat)

	// pre must land at byte offset 0 of .text: _start is the OS-facing
	// entry point, and Concat is the only way to put it there since
	// neither assembler can be emitted into the middle of the other's
	// word stream.
	asm := arm64.Concat(pre, body)

	if err := asm.Resolve(); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	data := asm.Bytes()
	track("encoding", len(data))

	if c.Debug {
		for _, a := range arenas {
			fmt.Fprintf(stdio.Stderr, "%s: %d bytes, %d allocations\n", a.Tag(), a.Bytes(), a.Allocs())
		}
	}

	out := c.Output
	if out == "" {
		out = "a.out"
	}

	if c.EmitAsm {
		return writeListing(out, asm.Words, asm.Offsets())
	}

	// Only method entry points go into the container's symbol table;
	// compctx.NewLabel's "L<n>" names are internal jump targets within a
	// method body, not separately callable symbols. Names are sorted
	// before iterating so the symbol table's construction order (and thus
	// string-table layout) is deterministic across runs, map iteration
	// order otherwise being unspecified.
	offsets := asm.Offsets()
	names := maps.Keys(offsets)
	slices.Sort(names)
	var syms []container.Symbol
	for _, name := range names {
		if isInternalLabel(name) {
			continue
		}
		syms = append(syms, container.Symbol{Name: name, Offset: offsets[name]})
	}
	img := container.Image{
		Text:        data,
		Symbols:     syms,
		EntrySymbol: entry,
		BaseAddr:    0x400000,
	}

	var outBytes []byte
	switch plat {
	case platform.Linux:
		outBytes, err = container.BuildELF64(img, container.ARM64, c.Shared)
	case platform.MacOS:
		outBytes, err = container.BuildMachO64(img)
	case platform.Windows:
		outBytes, err = container.BuildPE64(img)
	case platform.Bare:
		outBytes = data
	}
	if err != nil {
		return fmt.Errorf("container: %w", err)
	}

	mode := os.FileMode(0o644)
	if plat != platform.Bare {
		mode = 0o755
	}
	if err := os.WriteFile(out, outBytes, mode); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}

// isInternalLabel reports whether name is one of compctx.NewLabel's
// generated "L<n>" jump targets rather than a method entry point.
func isInternalLabel(name string) bool {
	if len(name) < 2 || name[0] != 'L' {
		return false
	}
	for _, r := range name[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func platformFor(p string) platform.OS {
	switch p {
	case "macos":
		return platform.MacOS
	case "windows":
		return platform.Windows
	case "bare":
		return platform.Bare
	default:
		return platform.Linux
	}
}

func writeListing(out string, words []uint32, offsets map[string]int) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	byOffset := make(map[int][]string)
	for name, off := range offsets {
		wordIdx := off / 4
		byOffset[wordIdx] = append(byOffset[wordIdx], name)
	}
	for i, w := range words {
		for _, name := range byOffset[i] {
			fmt.Fprintf(f, "%s:\n", name)
		}
		fmt.Fprintf(f, "    %08x\n", w)
	}
	return nil
}
