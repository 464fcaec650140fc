// Package compctx centralizes the per-compilation mutable state that would
// otherwise be scattered global bookkeeping (label counter, temp counter,
// method-return table, current-method var table, string interner) into a
// single context object handed to the MIR generator, with temp counters and
// var tables reset explicitly at method boundaries. The instruction list and
// label table live in arm64.Assembler, not here.
package compctx

import (
	"fmt"

	"github.com/dolthub/swiss"

	"github.com/park671/pcc-go/internal/types"
)

// Interner deduplicates the generated temporary and label names (NewTemp,
// NewLabel) for the lifetime of a compilation. Identifier names taken from
// the source are not passed through it.
type Interner struct {
	m map[string]string
}

// NewInterner creates an empty Interner.
func NewInterner() *Interner {
	return &Interner{m: make(map[string]string)}
}

// Intern returns the canonical copy of s.
func (in *Interner) Intern(s string) string {
	if v, ok := in.m[s]; ok {
		return v
	}
	in.m[s] = s
	return s
}

// Context carries the state that must persist across an entire compilation
// (the method-return-type table, the global label counter, the string
// interner) as well as the state that the MIR generator resets at each
// method boundary (the temp counter, the var-type table).
type Context struct {
	Interner *Interner

	// MethodReturns persists across the whole program.
	MethodReturns *swiss.Map[string, types.Type]

	// VarTypes is reset per method.
	VarTypes *swiss.Map[string, types.Type]

	tempCounter  int
	labelCounter int
}

// New creates a fresh per-compilation Context.
func New() *Context {
	return &Context{
		Interner:      NewInterner(),
		MethodReturns: swiss.NewMap[string, types.Type](16),
		VarTypes:      swiss.NewMap[string, types.Type](16),
	}
}

// ResetMethod clears method-scoped state: the temp counter and the
// var-type table. The label counter and method-return table are NOT reset
// here: temporary names reset between methods, but labels are unique
// across the whole program and generated from a global monotonically
// increasing counter.
func (c *Context) ResetMethod() {
	c.tempCounter = 0
	c.VarTypes = swiss.NewMap[string, types.Type](16)
}

// NewTemp allocates the next temporary name for the current method.
func (c *Context) NewTemp() string {
	name := fmt.Sprintf("t%d", c.tempCounter)
	c.tempCounter++
	return c.Interner.Intern(name)
}

// NewLabel allocates the next globally unique label name.
func (c *Context) NewLabel() string {
	name := fmt.Sprintf("L%d", c.labelCounter)
	c.labelCounter++
	return c.Interner.Intern(name)
}
