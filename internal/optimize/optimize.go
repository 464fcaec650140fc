// Package optimize implements a single Mir2-folding pass: a conservative
// copy/constant-propagation and dead-store elimination pass over one
// method's MIR list. The two-scan shape (a loop-region safety scan, then a
// block-scoped forward substitution scan) walks a flat instruction list
// front-to-back tracking reachability rather than building an explicit
// control-flow graph.
package optimize

import "github.com/park671/pcc-go/internal/mir"

// FoldMir2 rewrites method.Code in place, folding every foldable
// Assign2(d, src) into its single future consumer within the same scope
// and removing the now-dead copy. It returns method for chaining.
func FoldMir2(method *mir.Method) *mir.Method {
	code := method.Code
	removed := make([]bool, len(code))

	for i, inst := range code {
		a2, ok := inst.(*mir.Assign2)
		if !ok || a2.Op != mir.Copy || a2.DestType.Pointer {
			continue
		}
		d := a2.Dest
		src := a2.FromValue

		if writtenInsideLoop(code, i+1, d) {
			continue
		}
		if forwardSubstitute(code, i+1, d, src) {
			removed[i] = true
		}
	}

	out := code[:0:0]
	for i, inst := range code {
		if !removed[i] {
			out = append(out, inst)
		}
	}
	renumber(out)
	method.Code = out
	return method
}

// renumber reassigns each instruction's code-line index to its new
// position, keeping the index gapless after instructions are removed.
func renumber(code []mir.Inst) {
	for i, inst := range code {
		inst.SetCode(i)
	}
}

// writtenInsideLoop implements the loop-region safety scan: a copy is not
// foldable if the destination is rewritten anywhere inside a loop region
// between the copy and the end of the method, since substituting it would
// drop an iteration-carried dependency.
func writtenInsideLoop(code []mir.Inst, start int, d string) bool {
	loopDepth := 0
	for j := start; j < len(code); j++ {
		if of, ok := code[j].(*mir.OptFlag); ok {
			switch of.Kind {
			case mir.EnterLoop:
				loopDepth++
			case mir.ExitLoop:
				loopDepth--
			}
			continue
		}
		if loopDepth > 0 && writesVar(code[j], d) {
			return true
		}
	}
	return false
}

// forwardSubstitute walks forward from start, tracking overall block
// level across every enter/exit marker kind, replacing reads of d with
// src until it either exits the enclosing scope (level goes negative) or
// reaches the first instruction that writes d again (inclusive: that
// instruction's own reads are still substituted before scanning stops).
// It reports whether at least one replacement was made.
func forwardSubstitute(code []mir.Inst, start int, d string, src mir.Operand) bool {
	level := 0
	replaced := false
	for j := start; j < len(code); j++ {
		inst := code[j]
		if of, ok := inst.(*mir.OptFlag); ok {
			switch of.Kind {
			case mir.EnterBlock, mir.EnterLoop:
				level++
			case mir.ExitBlock, mir.ExitLoop:
				level--
			}
			if level < 0 {
				break
			}
			continue
		}
		if substituteReads(inst, d, src) {
			replaced = true
		}
		if writesVar(inst, d) {
			break
		}
	}
	return replaced
}

func writesVar(inst mir.Inst, d string) bool {
	switch v := inst.(type) {
	case *mir.Assign2:
		return v.Dest == d
	case *mir.Assign3:
		return v.Dest == d
	}
	return false
}

// substituteReads replaces every read of d in inst's operand positions
// with src, covering every operand-holding field: Assign2.FromValue,
// Assign3.Value1/Value2, Cmp.Value1/Value2, Ret.Value, Call.Args.
func substituteReads(inst mir.Inst, d string, src mir.Operand) bool {
	changed := false
	replace := func(op mir.Operand) (mir.Operand, bool) {
		if id, ok := op.(mir.Identity); ok && id.Name == d {
			return src, true
		}
		return op, false
	}

	switch v := inst.(type) {
	case *mir.Assign2:
		if nv, ok := replace(v.FromValue); ok {
			v.FromValue = nv
			changed = true
		}
	case *mir.Assign3:
		if nv, ok := replace(v.Value1); ok {
			v.Value1 = nv
			changed = true
		}
		if nv, ok := replace(v.Value2); ok {
			v.Value2 = nv
			changed = true
		}
	case *mir.Cmp:
		if nv, ok := replace(v.Value1); ok {
			v.Value1 = nv
			changed = true
		}
		if nv, ok := replace(v.Value2); ok {
			v.Value2 = nv
			changed = true
		}
	case *mir.Ret:
		if v.Value != nil {
			if nv, ok := replace(v.Value); ok {
				v.Value = nv
				changed = true
			}
		}
	case *mir.Call:
		for i, a := range v.Args {
			if nv, ok := replace(a); ok {
				v.Args[i] = nv
				changed = true
			}
		}
	}
	return changed
}
