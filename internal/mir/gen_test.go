package mir

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park671/pcc-go/internal/compctx"
	"github.com/park671/pcc-go/internal/lexer"
	"github.com/park671/pcc-go/internal/parser"
	"github.com/park671/pcc-go/internal/types"
)

func genSrc(t *testing.T, src string) *Program {
	t.Helper()
	toks, err := lexer.Tokenize("t.p", []byte(src))
	require.NoError(t, err)
	prog, err := parser.Parse(toks)
	require.NoError(t, err)
	mirProg, err := NewGenerator(compctx.New()).GenProgram(prog)
	require.NoError(t, err)
	return mirProg
}

func findMethod(prog *Program, name string) *Method {
	for _, m := range prog.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func TestGenProgramLowersReturnArithmetic(t *testing.T) {
	prog := genSrc(t, "i32 add(i32 a, i32 b) { return a + b; }")
	m := findMethod(prog, "add")
	require.NotNil(t, m)

	var ret *Ret
	for _, inst := range m.Code {
		if r, ok := inst.(*Ret); ok {
			ret = r
		}
	}
	require.NotNil(t, ret)
	ident, ok := ret.Value.(Identity)
	require.True(t, ok)
	assert.Equal(t, types.Scalar(types.I32), ident.Type)

	var add3 *Assign3
	for _, inst := range m.Code {
		if a, ok := inst.(*Assign3); ok {
			add3 = a
		}
	}
	require.NotNil(t, add3)
	assert.Equal(t, Add, add3.Op)
}

func TestGenProgramResetsTempCounterPerMethod(t *testing.T) {
	prog := genSrc(t, `
		i32 one() { return 1 + 2; }
		i32 two() { return 3 + 4; }
	`)
	one := findMethod(prog, "one")
	two := findMethod(prog, "two")
	require.NotNil(t, one)
	require.NotNil(t, two)

	firstTemp := func(m *Method) string {
		for _, inst := range m.Code {
			if a, ok := inst.(*Assign2); ok {
				return a.Dest
			}
		}
		return ""
	}
	assert.Equal(t, "t0", firstTemp(one))
	assert.Equal(t, "t0", firstTemp(two))
}

func TestGenProgramForwardCallResolvesReturnType(t *testing.T) {
	prog := genSrc(t, `
		i32 one() { return two(); }
		i32 two() { return 2; }
	`)
	one := findMethod(prog, "one")
	require.NotNil(t, one)

	var call *Call
	for _, inst := range one.Code {
		if c, ok := inst.(*Call); ok {
			call = c
		}
	}
	require.NotNil(t, call)
	assert.Equal(t, "two", call.Target)
	assert.Equal(t, types.Scalar(types.I32), call.ReturnType)
}

func TestGenProgramAddrOfAndDeref(t *testing.T) {
	prog := genSrc(t, `
		i32 main() {
			i32 x = 5;
			i32* p = &x;
			i32 y = *p;
			return y;
		}
	`)
	m := findMethod(prog, "main")
	require.NotNil(t, m)

	var addr, deref *Assign2
	for _, inst := range m.Code {
		if a, ok := inst.(*Assign2); ok {
			switch a.Op {
			case AddrOf:
				addr = a
			case Deref:
				deref = a
			}
		}
	}
	require.NotNil(t, addr)
	require.NotNil(t, deref)
	assert.True(t, addr.DestType.Pointer)
	assert.False(t, deref.DestType.Pointer)
}

func TestGenProgramIfEmitsShortCircuitLabels(t *testing.T) {
	prog := genSrc(t, `
		i32 main() {
			i32 x = 0;
			if (x < 1 && x > 0 - 1) {
				x = 1;
			}
			return x;
		}
	`)
	m := findMethod(prog, "main")
	require.NotNil(t, m)

	var cmps []*Cmp
	var labels []string
	for _, inst := range m.Code {
		if c, ok := inst.(*Cmp); ok {
			cmps = append(cmps, c)
		}
		if l, ok := inst.(*Label); ok {
			labels = append(labels, l.Name)
		}
	}
	// one Cmp per relational factor in the "a && b" clause
	require.Len(t, cmps, 2)
	// the first conjunct's true-label must be a label that actually gets
	// emitted, so the fall-through target exists in the instruction stream.
	assert.Contains(t, labels, cmps[0].TrueLabel)
}

func TestGenProgramWhileLoopsBackToEntry(t *testing.T) {
	prog := genSrc(t, `
		i32 main() {
			i32 i = 0;
			while (i < 3) {
				i = i + 1;
			}
			return i;
		}
	`)
	m := findMethod(prog, "main")
	require.NotNil(t, m)

	var jmp *Jmp
	var labelNames []string
	for _, inst := range m.Code {
		if j, ok := inst.(*Jmp); ok {
			jmp = j
		}
		if l, ok := inst.(*Label); ok {
			labelNames = append(labelNames, l.Name)
		}
	}
	require.NotNil(t, jmp)
	assert.Contains(t, labelNames, jmp.Target)
}

func TestGenProgramParamsPreserveDeclarationOrder(t *testing.T) {
	prog := genSrc(t, "i32 sub(i32 a, i32 b, i32 c) { return a - b - c; }")
	m := findMethod(prog, "sub")
	require.NotNil(t, m)

	want := []Param{
		{Name: "a", Type: types.Scalar(types.I32)},
		{Name: "b", Type: types.Scalar(types.I32)},
		{Name: "c", Type: types.Scalar(types.I32)},
	}
	if diff := pretty.Compare(want, m.Params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestGenProgramExternHasNoCode(t *testing.T) {
	prog := genSrc(t, "extern i32 write(i32 fd, i32 buf, i32 n);")
	m := findMethod(prog, "write")
	require.NotNil(t, m)
	assert.True(t, m.Extern)
	assert.Empty(t, m.Code)
}
