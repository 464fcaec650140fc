package codegen

import "github.com/park671/pcc-go/internal/mir"

// frame is a method's stack layout: one 8-byte slot per parameter and one
// per distinct destination identifier, a saved-pair header above those,
// and the total rounded to 16 bytes for AAPCS64 stack alignment. A
// destination identifier that is also a parameter shares the
// parameter's slot rather than getting a second one — the two are the same
// storage location being rewritten, and giving it two slots would let a
// stale copy of a reassigned parameter outlive its update.
type frame struct {
	slot      map[string]int // identifier -> byte offset from FP, negative
	size      int            // frame size before the 16-byte header, 16-byte rounded
	nextFree  int            // bytes of 8-byte slots assigned so far; the latest slot is at -nextFree
}

// buildFrame walks every parameter and every Assign2/Assign3 destination
// in declaration order, assigning each a distinct 8-byte slot.
func buildFrame(params []mir.Param, code []mir.Inst) *frame {
	f := &frame{slot: make(map[string]int)}
	for _, p := range params {
		f.declare(p.Name)
	}
	for _, inst := range code {
		switch v := inst.(type) {
		case *mir.Assign2:
			f.declare(v.Dest)
		case *mir.Assign3:
			f.declare(v.Dest)
		}
	}
	f.size = roundUp16(f.nextFree)
	return f
}

func (f *frame) declare(name string) {
	if _, ok := f.slot[name]; ok {
		return
	}
	f.nextFree += 8
	f.slot[name] = -f.nextFree
}

// offset returns the FP-relative byte offset (negative) of name, declaring
// a fresh slot if this identifier was never seen during buildFrame — this
// only happens for compiler-introduced temporaries the optimizer didn't
// fold away, which buildFrame's Assign2/Assign3 walk already covers, so in
// practice this path is unreached; it exists so a missing slot is a
// graceful fallback rather than a silent wraparound.
func (f *frame) offset(name string) int {
	if off, ok := f.slot[name]; ok {
		return off
	}
	f.nextFree += 8
	off := -f.nextFree
	f.slot[name] = off
	f.size = roundUp16(f.nextFree)
	return off
}

func roundUp16(n int) int {
	if n%16 == 0 {
		return n
	}
	return n + (16 - n%16)
}
