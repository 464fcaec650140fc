// Package mir implements a middle intermediate representation: a per-method
// linear list of three-address instructions carrying a monotonically
// increasing code-line index. The instruction and operand families are
// modeled as closed tagged interfaces — an interface with an unexported
// marker method per concrete variant — chosen over a boxed/arena-indexed
// representation, since Go's garbage collector removes the
// lifetime-management problem a manual allocator would otherwise have.
package mir

import "github.com/park671/pcc-go/internal/types"

// Operand is one of: Identity, LastReturn, Literal, Void.
type Operand interface {
	implOperand()
}

// Identity names a variable or temporary previously written by an Assign
// or declared as a parameter.
type Identity struct {
	Name string
	Type types.Type
}

func (Identity) implOperand() {}

// LastReturn refers to the return value of the most recently emitted
// Call, remembered alongside the callee's return type so a consuming
// Assign2 can resolve its destination type without re-querying the
// method-return table.
type LastReturn struct {
	Type types.Type
}

func (LastReturn) implOperand() {}

// Literal is a typed compile-time constant.
type Literal struct {
	IntValue   int64
	FloatValue float64
	Type       types.Type
}

func (Literal) implOperand() {}

// Void is the operand of a value-less return.
type Void struct{}

func (Void) implOperand() {}

// BinOp is an Assign3 arithmetic operator.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
)

// CmpOp is a Cmp relational operator.
type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// OptFlagKind is a non-encoded scope marker consumed only by the optimizer
// and the register allocator.
type OptFlagKind int

const (
	EnterBlock OptFlagKind = iota
	ExitBlock
	EnterLoop
	ExitLoop
)

// Inst is the closed family of MIR instruction kinds.
type Inst interface {
	Code() int
	SetCode(int)
	implInst()
}

type base struct {
	line int
}

func (b *base) Code() int      { return b.line }
func (b *base) SetCode(n int)  { b.line = n }

// AssignOp discriminates the three forms `d = v` can take. Address-of and
// dereference of a scalar identifier are the only pointer operations this
// language permits, and both still fit the "two-operand, one destination"
// shape of Assign2 — they are modeled as a mode flag on Assign2 rather
// than as new Inst kinds, keeping the Inst family closed.
type AssignOp int

const (
	Copy AssignOp = iota
	AddrOf
	Deref
)

// Assign2 is `d = v`: a plain copy, constant materialization, last-return
// consumption, address-of, or dereference of a scalar identifier.
type Assign2 struct {
	base
	Dest      string
	DestType  types.Type
	Op        AssignOp
	FromValue Operand
}

func (*Assign2) implInst() {}

// Assign3 is `d = v1 ⊙ v2`.
type Assign3 struct {
	base
	Dest     string
	DestType types.Type
	Op       BinOp
	Value1   Operand
	Value2   Operand
}

func (*Assign3) implInst() {}

// Cmp is `v1 ⋈ v2 ? trueLabel : falseLabel`. FalseLabel == "" means
// fall-through.
type Cmp struct {
	base
	Op         CmpOp
	Value1     Operand
	Value2     Operand
	TrueLabel  string
	FalseLabel string
}

func (*Cmp) implInst() {}

// Call is a method invocation. The callee's return type is carried so a
// consuming Assign2(LastReturn) can resolve its destination type, and so
// the code generator knows whether to expect a result in register 0.
type Call struct {
	base
	Target     string
	Args       []Operand
	ReturnType types.Type
}

func (*Call) implInst() {}

// Ret returns from the enclosing method. Value is nil for a void return.
type Ret struct {
	base
	Value Operand
}

func (*Ret) implInst() {}

// Label marks a deferred-address symbolic position.
type Label struct {
	base
	Name string
}

func (*Label) implInst() {}

// Jmp is an unconditional branch to Target.
type Jmp struct {
	base
	Target string
}

func (*Jmp) implInst() {}

// OptFlag is a scope-delimiting marker never encoded into machine code.
type OptFlag struct {
	base
	Kind OptFlagKind
}

func (*OptFlag) implInst() {}

// Method is a single method's lowered MIR: its label, parameters (in
// calling order), and linear instruction list.
type Method struct {
	Name       string
	Params     []Param
	ReturnType types.Type
	Extern     bool
	Code       []Inst
}

// Param is a method parameter as it appears to MIR consumers.
type Param struct {
	Name string
	Type types.Type
}

// Program is every method lowered from one compiled source file.
type Program struct {
	Methods []*Method
}
