// Package platform emits the startup preamble: one `_start` entry point
// per target operating system, plus the small syscall wrappers emitted
// alongside it. The sequence is: zero fp/lr, branch-with-link to main,
// load the syscall number, svc.
package platform

import "github.com/park671/pcc-go/internal/encoding/arm64"

// OS selects the target operating system, which determines the syscall
// numbering the startup stub and its wrappers use.
type OS int

const (
	Linux OS = iota
	MacOS
	Windows
	Bare
)

// Syscall numbers for exit on each target, plus write/read/fork for the
// wrapper stubs emitted alongside _start.
const (
	linuxSysRead  = 63
	linuxSysWrite = 64
	linuxSysFork  = 220
	linuxSysExit  = 94

	macosSysRead  = 3
	macosSysWrite = 4
	macosSysFork  = 2
	macosSysExit  = 1

	// NtTerminateProcess is the closest Windows/ARM64 native-API
	// equivalent for process exit. Windows has no single flat syscall
	// numbering the way Linux/macOS do, so exit indirects through this
	// fixed service number instead.
	windowsSysExit = 44
)

// EmitStart emits the entry-point preamble for os into asm: zero fp/lr,
// BL to the user's main (left as a relocation the caller resolves once
// main's MIR-derived label is emitted), load the platform's exit syscall
// number, and issue the supervisor call. main's return value is left in
// X0 by its own epilogue's Ret lowering, matching the calling convention
// every syscall-numbered exit expects its status code in X0.
func EmitStart(asm *arm64.Assembler, os OS, entryLabel, mainLabel string) {
	asm.Label(entryLabel)
	asm.MovZ(arm64.FP, 0, 0)
	asm.MovZ(arm64.LR, 0, 0)
	asm.BL(mainLabel)

	switch os {
	case Linux:
		asm.MovZ(arm64.X8, linuxSysExit, 0)
	case MacOS:
		asm.MovZ(arm64.X8, macosSysExit, 0)
	case Windows:
		asm.MovZ(arm64.X8, windowsSysExit, 0)
	case Bare:
		asm.Brk()
		return
	}
	asm.Svc(0)
}

// EmitLibcWrappers emits the write/read/fork stubs bundled next to _start
// for Linux and macOS: `mov svcnum; svc 0; ret` each, sharing the same
// instruction buffer and participating in the same relocation pass as
// user code.
func EmitLibcWrappers(asm *arm64.Assembler, os OS) {
	switch os {
	case Linux:
		emitWrapper(asm, "write", linuxSysWrite)
		emitWrapper(asm, "read", linuxSysRead)
		emitWrapper(asm, "fork", linuxSysFork)
	case MacOS:
		emitWrapper(asm, "write", macosSysWrite)
		emitWrapper(asm, "read", macosSysRead)
		emitWrapper(asm, "fork", macosSysFork)
	case Windows, Bare:
		// Windows has no flat syscall table to wrap this way, and a bare
		// target has no kernel to call into.
	}
}

func emitWrapper(asm *arm64.Assembler, label string, svcNum uint16) {
	asm.Label(label)
	asm.MovZ(arm64.X8, svcNum, 0)
	asm.Svc(0)
	asm.Ret()
}

// EntrySymbol returns the label EmitStart gives the OS-facing entry stub:
// always "_start", kept distinct from the user source's own "main" method
// so the two never collide in the assembler's shared label table. macOS's
// "main" convention refers to the C runtime's libSystem-called symbol,
// which this freestanding, no-libc target has no use for.
func EntrySymbol(os OS) string {
	return "_start"
}
