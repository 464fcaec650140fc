// Package arm64 implements a two-pass AArch64 encoder and relocator. Every
// bit-layout formula matches the architecture reference manual's
// instruction encodings. The ±128 MiB / ±1 MiB out-of-range checks on
// branch relocation fail loudly with perr.EncodingRangeError rather than
// silently truncating an offset that no longer fits.
package arm64

import "github.com/park671/pcc-go/internal/perr"

// Register indices. X16 is the scratch register the tiered load/store
// emitters fall back to when an offset doesn't fit a direct field; X17 is
// not used by the encoder itself (code generation uses it as the modulo
// scratch); X28 is left unused by this register-based allocator.
const (
	X0 = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	FP  = 29
	LR  = 30
	SP  = 31
	XZR = 31
)

// Condition codes for B.cond / CSET.
const (
	CondEQ = 0x0
	CondNE = 0x1
	CondCS = 0x2
	CondCC = 0x3
	CondMI = 0x4
	CondPL = 0x5
	CondVS = 0x6
	CondVC = 0x7
	CondHI = 0x8
	CondLS = 0x9
	CondGE = 0xA
	CondLT = 0xB
	CondGT = 0xC
	CondLE = 0xD
)

// relocKind distinguishes the three deferred branch forms pass 1 pushes as
// placeholders.
type relocKind int

const (
	relB relocKind = iota
	relBL
	relBCond
)

type relocation struct {
	word   int
	kind   relocKind
	cond   uint32
	target string
}

// Assembler accumulates 32-bit instruction words for one compilation's
// entire text section: its label table and instruction list are shared
// across every method in the program and finalized only after all methods
// have been lowered.
type Assembler struct {
	Words  []uint32
	relocs []relocation
	labels map[string]int
}

// New creates an empty Assembler.
func New() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// Label records name as resolving to the next word to be emitted.
func (a *Assembler) Label(name string) {
	a.labels[name] = len(a.Words)
}

// Offsets returns the byte offset (from the start of the text section) of
// every label recorded so far, which the container writers need to build a
// symbol table. Internally labels are tracked as word indices, since branch
// relocation deltas are counted in instruction words.
func (a *Assembler) Offsets() map[string]int {
	out := make(map[string]int, len(a.labels))
	for k, v := range a.labels {
		out[k] = v * 4
	}
	return out
}

func (a *Assembler) emit(word uint32) int {
	off := len(a.Words)
	a.Words = append(a.Words, word)
	return off
}

// === Immediate loading ===

func (a *Assembler) MovZ(rd int, imm16 uint16, shift uint) {
	hw := uint32(shift / 16)
	a.emit(0xD2800000 | (hw << 21) | (uint32(imm16) << 5) | uint32(rd&0x1f))
}

func (a *Assembler) MovK(rd int, imm16 uint16, shift uint) {
	hw := uint32(shift / 16)
	a.emit(0xF2800000 | (hw << 21) | (uint32(imm16) << 5) | uint32(rd&0x1f))
}

func (a *Assembler) MovN(rd int, imm16 uint16, shift uint) {
	hw := uint32(shift / 16)
	a.emit(0x92800000 | (hw << 21) | (uint32(imm16) << 5) | uint32(rd&0x1f))
}

// LoadImm64 materializes a 64-bit constant: a single MOVN when the inverted
// value fits 16 bits, otherwise a MOVZ for the low 16-bit chunk plus one
// MOVK per further non-zero chunk (at most four instructions). A multi-movk lowering is chosen over a constant
// pool because every value still fits in at most four fixed 32-bit words
// with no extra section or PC-relative addressing required.
func (a *Assembler) LoadImm64(rd int, val uint64) {
	if val == 0 {
		a.MovZ(rd, 0, 0)
		return
	}
	if inv := ^val; inv&0xFFFF == inv {
		a.MovN(rd, uint16(inv), 0)
		return
	}
	first := true
	for shift := uint(0); shift < 64; shift += 16 {
		chunk := uint16((val >> shift) & 0xFFFF)
		if chunk != 0 || shift == 0 {
			if first {
				a.MovZ(rd, chunk, shift)
				first = false
			} else {
				a.MovK(rd, chunk, shift)
			}
		}
	}
}

// === Arithmetic ===

func (a *Assembler) AddRR(rd, rn, rm int, wide bool) {
	a.emit(sf(wide, 0x0B000000) | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

func (a *Assembler) SubRR(rd, rn, rm int, wide bool) {
	a.emit(sf(wide, 0x4B000000) | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

func (a *Assembler) AddImm(rd, rn int, imm12 uint32, wide bool) {
	a.emit(sf(wide, 0x11000000) | ((imm12 & 0xFFF) << 10) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

func (a *Assembler) SubImm(rd, rn int, imm12 uint32, wide bool) {
	a.emit(sf(wide, 0x51000000) | ((imm12 & 0xFFF) << 10) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

func (a *Assembler) Mul(rd, rn, rm int, wide bool) {
	a.emit(sf(wide, 0x1B007C00) | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

func (a *Assembler) Sdiv(rd, rn, rm int, wide bool) {
	a.emit(sf(wide, 0x1AC00C00) | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

// Msub computes rd = ra - rn*rm. Mod lowers to Sdiv(q, n, d); Mul(t, q, d);
// Sub(rd, n, t) or, equivalently, the fused form here.
func (a *Assembler) Msub(rd, rn, rm, ra int, wide bool) {
	a.emit(sf(wide, 0x1B008000) | (uint32(rm&0x1f) << 16) | (uint32(ra&0x1f) << 10) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

// === Logic ===

func (a *Assembler) OrrRR(rd, rn, rm int, wide bool) {
	a.emit(sf(wide, 0x2A000000) | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(rd&0x1f))
}

// MovRR emits MOV Xd, Xm (ORR-with-zero-register idiom; ADD #0 when SP is
// involved, since SP is not a valid ORR operand).
func (a *Assembler) MovRR(rd, rm int, wide bool) {
	if rd == SP || rm == SP {
		a.AddImm(rd, rm, 0, wide)
		return
	}
	a.OrrRR(rd, XZR, rm, wide)
}

// === Compare ===

func (a *Assembler) CmpRR(rn, rm int, wide bool) {
	a.emit(sf(wide, 0x6B000000) | (uint32(rm&0x1f) << 16) | (uint32(rn&0x1f) << 5) | uint32(XZR&0x1f))
}

func (a *Assembler) CmpImm(rn int, imm12 uint32, wide bool) {
	a.emit(sf(wide, 0x71000000) | ((imm12 & 0xFFF) << 10) | (uint32(rn&0x1f) << 5) | uint32(XZR&0x1f))
}

// Cset emits CSET Xd, cond (alias for CSINC Xd, XZR, XZR, invert(cond)).
func (a *Assembler) Cset(rd, cond int) {
	inv := uint32(cond ^ 1)
	a.emit(0x9A9F07E0 | (inv << 12) | uint32(rd&0x1f))
}

// === Memory ===

// Ldr emits a load of rt from [rn, #offset], picking the narrowest
// encoding that fits: zero-offset form, 12-bit unsigned-scaled form,
// 9-bit signed unscaled (LDUR) form, or — as a last resort — materializing
// the offset into X16 and indexing by register.
func (a *Assembler) Ldr(rt, rn, offset int, wide bool) {
	base := uint32(0xB9400000)
	if wide {
		base = 0xF9400000
	}
	scale := 4
	if wide {
		scale = 8
	}
	switch {
	case offset == 0:
		a.emit(base | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	case offset > 0 && offset%scale == 0 && offset/scale < 4096:
		uimm := uint32(offset / scale)
		a.emit(base | (uimm << 10) | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	case offset >= -256 && offset <= 255:
		simm9 := uint32(offset) & 0x1FF
		a.emit((base - 0x01000000) | (simm9 << 12) | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	default:
		a.LoadImm64(X16, uint64(int64(offset)))
		a.AddRR(X16, rn, X16, true)
		a.emit(base | (uint32(X16&0x1f) << 5) | uint32(rt&0x1f))
	}
}

func (a *Assembler) Str(rt, rn, offset int, wide bool) {
	base := uint32(0xB9000000)
	if wide {
		base = 0xF9000000
	}
	scale := 4
	if wide {
		scale = 8
	}
	switch {
	case offset == 0:
		a.emit(base | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	case offset > 0 && offset%scale == 0 && offset/scale < 4096:
		uimm := uint32(offset / scale)
		a.emit(base | (uimm << 10) | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	case offset >= -256 && offset <= 255:
		simm9 := uint32(offset) & 0x1FF
		a.emit((base - 0x01000000) | (simm9 << 12) | (uint32(rn&0x1f) << 5) | uint32(rt&0x1f))
	default:
		a.LoadImm64(X16, uint64(int64(offset)))
		a.AddRR(X16, rn, X16, true)
		a.emit(base | (uint32(X16&0x1f) << 5) | uint32(rt&0x1f))
	}
}

// StpOffset emits STP Xt1, Xt2, [Xn, #offset] — signed scaled offset, no
// writeback. Used by the method prologue, which moves SP in its own
// explicit SUB first rather than folding the adjustment into the store.
func (a *Assembler) StpOffset(rt1, rt2, rn, offset int) {
	imm7 := uint32(offset/8) & 0x7F
	a.emit(0xA9000000 | (imm7 << 15) | (uint32(rt2&0x1f) << 10) | (uint32(rn&0x1f) << 5) | uint32(rt1&0x1f))
}

// LdpOffset emits LDP Xt1, Xt2, [Xn, #offset] — signed scaled offset, no
// writeback. The epilogue counterpart of StpOffset.
func (a *Assembler) LdpOffset(rt1, rt2, rn, offset int) {
	imm7 := uint32(offset/8) & 0x7F
	a.emit(0xA9400000 | (imm7 << 15) | (uint32(rt2&0x1f) << 10) | (uint32(rn&0x1f) << 5) | uint32(rt1&0x1f))
}

// === Branch ===

// B pushes an unconditional-branch relocation placeholder; its offset is
// filled in when Resolve runs.
func (a *Assembler) B(target string) {
	off := a.emit(0x14000000)
	a.relocs = append(a.relocs, relocation{word: off, kind: relB, target: target})
}

func (a *Assembler) BL(target string) {
	off := a.emit(0x94000000)
	a.relocs = append(a.relocs, relocation{word: off, kind: relBL, target: target})
}

func (a *Assembler) BCond(cond int, target string) {
	off := a.emit(0x54000000 | uint32(cond&0xF))
	a.relocs = append(a.relocs, relocation{word: off, kind: relBCond, cond: uint32(cond & 0xF), target: target})
}

func (a *Assembler) Ret() {
	a.emit(0xD65F03C0)
}

func (a *Assembler) Brk() {
	a.emit(0xD4200000)
}

func (a *Assembler) Nop() {
	a.emit(0xD503201F)
}

// Svc emits SVC #imm16, the supervisor-call gate the platform startup
// stubs use to invoke the kernel.
func (a *Assembler) Svc(imm16 uint16) {
	a.emit(0xD4000001 | (uint32(imm16) << 5))
}

const (
	unconditionalRangeWords = 1 << 25 // ±128 MiB in 4-byte instructions
	conditionalRangeWords   = 1 << 18 // ±1 MiB in 4-byte instructions
)

// Resolve is pass 2: every relocation placeholder is replaced by its final
// encoded offset now that every label's word index is known. Range
// checking here (±128 MiB unconditional, ±1 MiB conditional) treats an
// offset that no longer fits its field as a fatal perr.EncodingRangeError
// rather than silently truncating it.
func (a *Assembler) Resolve() error {
	for _, r := range a.relocs {
		targetWord, ok := a.labels[r.target]
		if !ok {
			perr.ICE("unresolved branch target label %q", r.target)
		}
		delta := targetWord - r.word

		switch r.kind {
		case relB, relBL:
			if delta >= unconditionalRangeWords || delta < -unconditionalRangeWords {
				return &perr.EncodingRangeError{Msg: "branch offset exceeds ±128 MiB to label " + r.target}
			}
			opcode := uint32(0x14000000)
			if r.kind == relBL {
				opcode = 0x94000000
			}
			imm26 := uint32(delta) & 0x03FFFFFF
			a.Words[r.word] = opcode | imm26
		case relBCond:
			if delta >= conditionalRangeWords || delta < -conditionalRangeWords {
				return &perr.EncodingRangeError{Msg: "conditional branch offset exceeds ±1 MiB to label " + r.target}
			}
			imm19 := (uint32(delta) & 0x7FFFF) << 5
			a.Words[r.word] = 0x54000000 | imm19 | r.cond
		}
	}
	return nil
}

// Concat returns a new Assembler holding every part's words back to back in
// order, with each part's labels and pending relocations rebased onto the
// combined word stream. Used to splice the platform startup preamble in
// front of the method bodies codegen produced independently, since neither
// assembler knows the other's contents until both are fully emitted and a
// reloc in one (e.g. the preamble's BL into user code, or user code's BL
// into a libc wrapper the preamble emits) may target a label the other
// part owns.
func Concat(parts ...*Assembler) *Assembler {
	out := &Assembler{labels: make(map[string]int)}
	for _, p := range parts {
		base := len(out.Words)
		out.Words = append(out.Words, p.Words...)
		for name, word := range p.labels {
			out.labels[name] = base + word
		}
		for _, r := range p.relocs {
			out.relocs = append(out.relocs, relocation{word: base + r.word, kind: r.kind, cond: r.cond, target: r.target})
		}
	}
	return out
}

// Bytes returns the little-endian byte encoding of every resolved word.
func (a *Assembler) Bytes() []byte {
	out := make([]byte, 0, len(a.Words)*4)
	for _, w := range a.Words {
		out = append(out, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return out
}

func sf(wide bool, base uint32) uint32 {
	if wide {
		return base | (1 << 31)
	}
	return base
}
