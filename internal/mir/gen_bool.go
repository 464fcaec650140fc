package mir

import (
	"github.com/park671/pcc-go/internal/ast"
)

// lowerBool implements short-circuit OR-of-ANDs lowering: every item but
// the last gets its own false label (the fall-through target when that
// disjunct fails), and the final item is lowered straight to the
// caller-supplied falseL.
func (g *Generator) lowerBool(b *ast.Bool, trueL, falseL string) error {
	for i, and := range b.Ands {
		if i == len(b.Ands)-1 {
			return g.lowerBoolAnd(and, trueL, falseL)
		}
		itemFalse := g.ctx.NewLabel()
		if err := g.lowerBoolAnd(and, trueL, itemFalse); err != nil {
			return err
		}
		g.emit(&Label{Name: itemFalse})
	}
	return nil
}

// lowerBoolAnd is the symmetric AND counterpart: every factor but the
// last gets its own true label (the fall-through target when that
// conjunct succeeds), and the final factor lowers straight to trueL.
func (g *Generator) lowerBoolAnd(and *ast.BoolAnd, trueL, falseL string) error {
	for i, f := range and.Factors {
		if i == len(and.Factors)-1 {
			return g.lowerBoolFactor(f, trueL, falseL)
		}
		itemTrue := g.ctx.NewLabel()
		if err := g.lowerBoolFactor(f, itemTrue, falseL); err != nil {
			return err
		}
		g.emit(&Label{Name: itemTrue})
	}
	return nil
}

func (g *Generator) lowerBoolFactor(f ast.BoolFactor, trueL, falseL string) error {
	switch v := f.(type) {
	case *ast.NotFactor:
		return g.lowerBoolFactor(v.Inner, falseL, trueL)
	case *ast.ParenBoolFactor:
		return g.lowerBool(v.Inner, trueL, falseL)
	case *ast.CmpFactor:
		v1, err := g.lowerArith(v.Left)
		if err != nil {
			return err
		}
		v2, err := g.lowerArith(v.Right)
		if err != nil {
			return err
		}
		g.emit(&Cmp{Op: cmpOpOf(v.Op), Value1: v1, Value2: v2, TrueLabel: trueL, FalseLabel: falseL})
		return nil
	}
	panic("ICE: unhandled boolean factor kind")
}

func cmpOpOf(op ast.CmpOp) CmpOp {
	switch op {
	case ast.CmpEq:
		return CmpEq
	case ast.CmpNe:
		return CmpNe
	case ast.CmpLt:
		return CmpLt
	case ast.CmpLe:
		return CmpLe
	case ast.CmpGt:
		return CmpGt
	case ast.CmpGe:
		return CmpGe
	}
	return CmpEq
}
