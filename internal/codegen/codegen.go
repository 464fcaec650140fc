package codegen

import (
	"math"

	"github.com/park671/pcc-go/internal/encoding/arm64"
	"github.com/park671/pcc-go/internal/mir"
	"github.com/park671/pcc-go/internal/perr"
	"github.com/park671/pcc-go/internal/types"
)

// Generator lowers one method's MIR list into arm64 machine words, driving
// a shared arm64.Assembler so every method's branches and calls share one
// label namespace.
type Generator struct {
	asm *arm64.Assembler
	res *residency
	fr  *frame
	code []mir.Inst
}

// Generate lowers every non-extern method of prog onto a single shared
// Assembler and returns it ready for arm64.Assembler.Resolve.
func Generate(prog *mir.Program) (*arm64.Assembler, error) {
	asm := arm64.New()
	for _, m := range prog.Methods {
		if m.Extern {
			continue
		}
		g := &Generator{
			asm: asm,
			res: newResidency(),
			fr:  buildFrame(m.Params, m.Code),
			code: m.Code,
		}
		g.genMethod(m)
	}
	return asm, nil
}

func wideOf(t types.Type) bool { return t.Width() > 4 }

func operandType(op mir.Operand) types.Type {
	switch v := op.(type) {
	case mir.Identity:
		return v.Type
	case mir.LastReturn:
		return v.Type
	case mir.Literal:
		return v.Type
	}
	return types.Scalar(types.Void)
}

func (g *Generator) genMethod(m *mir.Method) {
	g.asm.Label(m.Name)
	g.emitPrologue()
	g.spillParams(m.Params)

	for i, inst := range g.code {
		g.res.beginAtomicScope()
		switch v := inst.(type) {
		case *mir.Assign2:
			g.lowerAssign2(i, v)
		case *mir.Assign3:
			g.lowerAssign3(i, v)
		case *mir.Cmp:
			g.lowerCmp(i, v)
		case *mir.Call:
			g.lowerCall(i, v)
		case *mir.Ret:
			g.lowerRet(i, v)
		case *mir.Label:
			g.asm.Label(v.Name)
		case *mir.Jmp:
			g.asm.B(v.Target)
		case *mir.OptFlag:
			if v.Kind == mir.EnterLoop || v.Kind == mir.ExitLoop {
				g.res.reset()
			}
		default:
			perr.ICE("codegen: unhandled mir instruction kind %T", inst)
		}
	}
}

// emitPrologue lays out the frame as: SP -= frame+16; store fp,lr at
// [SP+frame]; fp = SP+frame.
func (g *Generator) emitPrologue() {
	total := g.fr.size + 16
	g.subSP(total)
	g.asm.StpOffset(arm64.FP, arm64.LR, arm64.SP, g.fr.size)
	g.addReg(arm64.FP, arm64.SP, g.fr.size)
}

func (g *Generator) emitEpilogue() {
	g.asm.LdpOffset(arm64.FP, arm64.LR, arm64.SP, g.fr.size)
	g.addSP(g.fr.size + 16)
	g.asm.Ret()
}

func (g *Generator) subSP(amount int) {
	if amount >= 0 && amount < 4096 {
		g.asm.SubImm(arm64.SP, arm64.SP, uint32(amount), true)
		return
	}
	g.asm.LoadImm64(arm64.X16, uint64(amount))
	g.asm.SubRR(arm64.SP, arm64.SP, arm64.X16, true)
}

func (g *Generator) addSP(amount int) {
	if amount >= 0 && amount < 4096 {
		g.asm.AddImm(arm64.SP, arm64.SP, uint32(amount), true)
		return
	}
	g.asm.LoadImm64(arm64.X16, uint64(amount))
	g.asm.AddRR(arm64.SP, arm64.SP, arm64.X16, true)
}

// addReg emits rd = rn + amount for an arbitrary non-negative amount,
// used for FP = SP + frameSize.
func (g *Generator) addReg(rd, rn, amount int) {
	if amount >= 0 && amount < 4096 {
		g.asm.AddImm(rd, rn, uint32(amount), true)
		return
	}
	g.asm.LoadImm64(arm64.X16, uint64(amount))
	g.asm.AddRR(rd, rn, arm64.X16, true)
}

// leaLocal computes rd = FP + offset, where offset is the (possibly
// negative) frame-relative byte offset frame.offset returns.
func (g *Generator) leaLocal(rd, offset int) {
	if offset >= 0 {
		g.addReg(rd, arm64.FP, offset)
		return
	}
	abs := -offset
	if abs < 4096 {
		g.asm.SubImm(rd, arm64.FP, uint32(abs), true)
		return
	}
	g.asm.LoadImm64(arm64.X16, uint64(abs))
	g.asm.SubRR(rd, arm64.FP, arm64.X16, true)
}

// spillParams stores each incoming positional argument register into its
// assigned stack slot at method entry.
func (g *Generator) spillParams(params []mir.Param) {
	for i, p := range params {
		if i > 7 {
			perr.ICE("codegen: more than 8 parameters is unsupported by the AAPCS64 integer argument registers")
		}
		g.asm.Str(i, arm64.FP, g.fr.offset(p.Name), wideOf(p.Type))
	}
}

// allocDestReg allocates or reuses the register that will hold name after
// this instruction, marking it atomic so it survives the rest of the
// instruction's own lowering.
func (g *Generator) allocDestReg(name string, i int) int {
	if slot, ok := g.res.slotOf(name); ok {
		g.res.markAtomic(slot)
		return gprIndex(slot)
	}
	slot := g.res.allocate(g.code, i)
	g.res.markAtomic(slot)
	g.res.bind(slot, name)
	return gprIndex(slot)
}

// ensureInReg materializes op's value into a register, reusing an existing
// residency slot when possible, and marks the result atomic for the
// remainder of the current instruction.
func (g *Generator) ensureInReg(op mir.Operand, i int) int {
	switch v := op.(type) {
	case mir.Identity:
		if slot, ok := g.res.slotOf(v.Name); ok {
			g.res.markAtomic(slot)
			return gprIndex(slot)
		}
		slot := g.res.allocate(g.code, i)
		g.res.markAtomic(slot)
		g.res.bind(slot, v.Name)
		reg := gprIndex(slot)
		g.asm.Ldr(reg, arm64.FP, g.fr.offset(v.Name), wideOf(v.Type))
		return reg
	case mir.Literal:
		slot := g.res.allocate(g.code, i)
		g.res.markAtomic(slot)
		reg := gprIndex(slot)
		g.materializeLiteral(reg, v)
		return reg
	case mir.LastReturn:
		return arm64.X0
	}
	perr.ICE("codegen: unsupported operand kind %T", op)
	return 0
}

func (g *Generator) materializeLiteral(reg int, lit mir.Literal) {
	if lit.Type.Prim.IsFloat() {
		if lit.Type.Prim == types.F32 {
			g.asm.LoadImm64(reg, uint64(math.Float32bits(float32(lit.FloatValue))))
		} else {
			g.asm.LoadImm64(reg, math.Float64bits(lit.FloatValue))
		}
		return
	}
	g.asm.LoadImm64(reg, uint64(lit.IntValue))
}

func fitsImm12(lit mir.Literal) bool {
	return lit.Type.Prim.IsInteger() && lit.IntValue >= 0 && lit.IntValue < 4096
}

func (g *Generator) storeDest(reg int, name string, wide bool) {
	g.asm.Str(reg, arm64.FP, g.fr.offset(name), wide)
}

func (g *Generator) lowerAssign2(i int, a *mir.Assign2) {
	wide := wideOf(a.DestType)
	switch a.Op {
	case mir.AddrOf:
		id, ok := a.FromValue.(mir.Identity)
		if !ok {
			perr.ICE("codegen: AddrOf source is not an identifier")
		}
		rd := g.allocDestReg(a.Dest, i)
		g.leaLocal(rd, g.fr.offset(id.Name))
		g.storeDest(rd, a.Dest, true)
		return
	case mir.Deref:
		id, ok := a.FromValue.(mir.Identity)
		if !ok {
			perr.ICE("codegen: Deref source is not an identifier")
		}
		rp := g.ensureInReg(id, i)
		rd := g.allocDestReg(a.Dest, i)
		g.asm.Ldr(rd, rp, 0, wide)
		g.storeDest(rd, a.Dest, wide)
		return
	}

	switch v := a.FromValue.(type) {
	case mir.Identity:
		rs := g.ensureInReg(v, i)
		rd := g.allocDestReg(a.Dest, i)
		if rs != rd {
			g.asm.MovRR(rd, rs, wide)
		}
		g.storeDest(rd, a.Dest, wide)
	case mir.LastReturn:
		rd := g.allocDestReg(a.Dest, i)
		if rd != arm64.X0 {
			g.asm.MovRR(rd, arm64.X0, wide)
		}
		g.storeDest(rd, a.Dest, wide)
	case mir.Literal:
		rd := g.allocDestReg(a.Dest, i)
		g.materializeLiteral(rd, v)
		g.storeDest(rd, a.Dest, wide)
	case mir.Void:
		rd := g.allocDestReg(a.Dest, i)
		g.asm.MovZ(rd, 0, 0)
		g.storeDest(rd, a.Dest, wide)
	default:
		perr.ICE("codegen: unhandled Assign2 source kind %T", a.FromValue)
	}
}

func (g *Generator) lowerAssign3(i int, a *mir.Assign3) {
	wide := wideOf(a.DestType) || wideOf(operandType(a.Value1)) || wideOf(operandType(a.Value2))
	r1 := g.ensureInReg(a.Value1, i)

	switch a.Op {
	case mir.Add, mir.Sub:
		if lit, ok := a.Value2.(mir.Literal); ok && fitsImm12(lit) {
			rd := g.allocDestReg(a.Dest, i)
			if a.Op == mir.Add {
				g.asm.AddImm(rd, r1, uint32(lit.IntValue), wide)
			} else {
				g.asm.SubImm(rd, r1, uint32(lit.IntValue), wide)
			}
			g.storeDest(rd, a.Dest, wide)
			return
		}
		r2 := g.ensureInReg(a.Value2, i)
		rd := g.allocDestReg(a.Dest, i)
		if a.Op == mir.Add {
			g.asm.AddRR(rd, r1, r2, wide)
		} else {
			g.asm.SubRR(rd, r1, r2, wide)
		}
		g.storeDest(rd, a.Dest, wide)
	case mir.Mul:
		r2 := g.ensureInReg(a.Value2, i)
		rd := g.allocDestReg(a.Dest, i)
		g.asm.Mul(rd, r1, r2, wide)
		g.storeDest(rd, a.Dest, wide)
	case mir.Div:
		r2 := g.ensureInReg(a.Value2, i)
		rd := g.allocDestReg(a.Dest, i)
		g.asm.Sdiv(rd, r1, r2, wide)
		g.storeDest(rd, a.Dest, wide)
	case mir.Mod:
		// Modulo lowers to sdiv+msub using X17 as the scratch quotient
		// register. X17 is IP1, never owned by the allocator (which only
		// ever hands out 0..7/9..15) and never aliases the encoder's own
		// X16 fallback.
		r2 := g.ensureInReg(a.Value2, i)
		rd := g.allocDestReg(a.Dest, i)
		g.asm.Sdiv(arm64.X17, r1, r2, wide)
		g.asm.Msub(rd, arm64.X17, r2, r1, wide)
		g.storeDest(rd, a.Dest, wide)
	default:
		perr.ICE("codegen: unhandled Assign3 operator %v", a.Op)
	}
}

func (g *Generator) lowerCmp(i int, c *mir.Cmp) {
	wide := wideOf(operandType(c.Value1)) || wideOf(operandType(c.Value2))
	r1 := g.ensureInReg(c.Value1, i)
	if lit, ok := c.Value2.(mir.Literal); ok && fitsImm12(lit) {
		g.asm.CmpImm(r1, uint32(lit.IntValue), wide)
	} else {
		r2 := g.ensureInReg(c.Value2, i)
		g.asm.CmpRR(r1, r2, wide)
	}

	cond := condFor(c.Op)
	g.asm.BCond(cond, c.TrueLabel)
	if c.FalseLabel != "" {
		g.asm.B(c.FalseLabel)
	}
}

func condFor(op mir.CmpOp) int {
	switch op {
	case mir.CmpEq:
		return arm64.CondEQ
	case mir.CmpNe:
		return arm64.CondNE
	case mir.CmpLt:
		return arm64.CondLT
	case mir.CmpLe:
		return arm64.CondLE
	case mir.CmpGt:
		return arm64.CondGT
	case mir.CmpGe:
		return arm64.CondGE
	}
	perr.ICE("codegen: unhandled comparison operator %v", op)
	return arm64.CondEQ
}

// lowerCall loads each argument into its AAPCS64 positional register,
// branches with link to the target, and then clears the residency map: the
// callee may trash every allocatable register, which is safe because every
// write-through store already left the authoritative copy of every live
// identifier on the stack.
func (g *Generator) lowerCall(i int, c *mir.Call) {
	if len(c.Args) > 8 {
		perr.ICE("codegen: more than 8 call arguments is unsupported by the AAPCS64 integer argument registers")
	}
	for idx, arg := range c.Args {
		g.loadArgInto(idx, i, arg)
	}
	g.asm.BL(c.Target)
	g.res.reset()
}

func (g *Generator) loadArgInto(physReg, i int, op mir.Operand) {
	if slot, ok := slotForPhysReg(physReg); ok {
		g.res.owner[slot] = ""
	}
	switch v := op.(type) {
	case mir.Identity:
		if slot, ok := g.res.slotOf(v.Name); ok {
			if gprIndex(slot) != physReg {
				g.asm.MovRR(physReg, gprIndex(slot), wideOf(v.Type))
			}
			return
		}
		g.asm.Ldr(physReg, arm64.FP, g.fr.offset(v.Name), wideOf(v.Type))
	case mir.Literal:
		g.materializeLiteral(physReg, v)
	case mir.LastReturn:
		if physReg != arm64.X0 {
			g.asm.MovRR(physReg, arm64.X0, true)
		}
	default:
		perr.ICE("codegen: unhandled call argument operand kind %T", op)
	}
}

func (g *Generator) lowerRet(i int, r *mir.Ret) {
	if r.Value != nil {
		wide := wideOf(operandType(r.Value))
		reg := g.ensureInReg(r.Value, i)
		if reg != arm64.X0 {
			g.asm.MovRR(arm64.X0, reg, wide)
		}
	}
	g.emitEpilogue()
}
