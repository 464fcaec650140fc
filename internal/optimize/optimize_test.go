package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park671/pcc-go/internal/mir"
	"github.com/park671/pcc-go/internal/types"
)

func i32() types.Type { return types.Scalar(types.I32) }

func TestFoldMir2SubstitutesAndRemovesCopy(t *testing.T) {
	method := &mir.Method{
		Name: "f",
		Code: []mir.Inst{
			&mir.Assign2{Dest: "t0", DestType: i32(), Op: mir.Copy, FromValue: mir.Literal{IntValue: 5, Type: i32()}},
			&mir.Assign3{Dest: "t1", DestType: i32(), Op: mir.Add,
				Value1: mir.Identity{Name: "t0", Type: i32()},
				Value2: mir.Literal{IntValue: 1, Type: i32()},
			},
			&mir.Ret{Value: mir.Identity{Name: "t1", Type: i32()}},
		},
	}

	FoldMir2(method)
	require.Len(t, method.Code, 2)

	add, ok := method.Code[0].(*mir.Assign3)
	require.True(t, ok)
	lit, ok := add.Value1.(mir.Literal)
	require.True(t, ok)
	assert.Equal(t, int64(5), lit.IntValue)

	assert.Equal(t, 0, method.Code[0].Code())
	assert.Equal(t, 1, method.Code[1].Code())
}

func TestFoldMir2LeavesUnreadCopyInPlace(t *testing.T) {
	method := &mir.Method{
		Name: "f",
		Code: []mir.Inst{
			&mir.Assign2{Dest: "t0", DestType: i32(), Op: mir.Copy, FromValue: mir.Literal{IntValue: 5, Type: i32()}},
			&mir.Ret{},
		},
	}

	FoldMir2(method)
	// t0 is never read anywhere, so forwardSubstitute never fires and the
	// copy is left in place rather than silently dropped as dead.
	require.Len(t, method.Code, 2)
	_, ok := method.Code[0].(*mir.Assign2)
	assert.True(t, ok)
}

func TestFoldMir2SkipsCopyWrittenInsideLoop(t *testing.T) {
	method := &mir.Method{
		Name: "f",
		Code: []mir.Inst{
			&mir.Assign2{Dest: "x", DestType: i32(), Op: mir.Copy, FromValue: mir.Literal{IntValue: 0, Type: i32()}},
			&mir.OptFlag{Kind: mir.EnterLoop},
			&mir.Assign3{Dest: "x", DestType: i32(), Op: mir.Add,
				Value1: mir.Identity{Name: "x", Type: i32()},
				Value2: mir.Literal{IntValue: 1, Type: i32()},
			},
			&mir.OptFlag{Kind: mir.ExitLoop},
			&mir.Ret{Value: mir.Identity{Name: "x", Type: i32()}},
		},
	}

	FoldMir2(method)
	// x is rewritten on every loop iteration, so substituting its initial
	// value at the use site would drop the iteration-carried dependency.
	require.Len(t, method.Code, 5)
	_, ok := method.Code[0].(*mir.Assign2)
	assert.True(t, ok)
}

func TestFoldMir2SkipsPointerTypedCopy(t *testing.T) {
	method := &mir.Method{
		Name: "f",
		Code: []mir.Inst{
			&mir.Assign2{Dest: "p", DestType: types.Ptr(types.I32), Op: mir.Copy, FromValue: mir.Identity{Name: "q", Type: types.Ptr(types.I32)}},
			&mir.Assign2{Dest: "r", DestType: types.Ptr(types.I32), Op: mir.Copy, FromValue: mir.Identity{Name: "p", Type: types.Ptr(types.I32)}},
		},
	}

	FoldMir2(method)
	require.Len(t, method.Code, 2)
}

func TestFoldMir2StopsSubstitutingAtReassignment(t *testing.T) {
	method := &mir.Method{
		Name: "f",
		Code: []mir.Inst{
			&mir.Assign2{Dest: "t0", DestType: i32(), Op: mir.Copy, FromValue: mir.Literal{IntValue: 1, Type: i32()}},
			&mir.Assign3{Dest: "t0", DestType: i32(), Op: mir.Add,
				Value1: mir.Identity{Name: "t0", Type: i32()},
				Value2: mir.Literal{IntValue: 1, Type: i32()},
			},
			&mir.Ret{Value: mir.Identity{Name: "t0", Type: i32()}},
		},
	}

	FoldMir2(method)
	require.Len(t, method.Code, 2)
	add := method.Code[0].(*mir.Assign3)
	lit, ok := add.Value1.(mir.Literal)
	require.True(t, ok)
	assert.Equal(t, int64(1), lit.IntValue)

	// t0's reassignment is the rewrite instruction itself; the Ret reads
	// the value produced there, not the folded initial literal.
	ret := method.Code[1].(*mir.Ret)
	ident, ok := ret.Value.(mir.Identity)
	require.True(t, ok)
	assert.Equal(t, "t0", ident.Name)
}
