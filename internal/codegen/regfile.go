// Package codegen implements a target code generator: a farthest-future-use
// register allocator driving an arm64.Assembler.
package codegen

import "github.com/park671/pcc-go/internal/mir"

// NumGPR is the size of the allocatable register file: indices 0..7 and
// 9..15 (index 8 is reserved for the syscall number register X8).
const NumGPR = 15

// gprIndex maps an allocator slot (0..14) to its physical register index,
// skipping slot 8 which is reserved for the syscall-number register.
func gprIndex(slot int) int {
	if slot >= 8 {
		return slot + 1
	}
	return slot
}

// slotForPhysReg is gprIndex's inverse, used only when the caller must
// address a specific physical register directly (the Call ABI's
// positional argument registers 0..7) rather than asking the allocator
// for whichever register it prefers.
func slotForPhysReg(reg int) (int, bool) {
	switch {
	case reg < 8:
		return reg, true
	case reg == 8:
		return 0, false
	case reg <= 15:
		return reg - 1, true
	default:
		return 0, false
	}
}

// residency is the per-method register file state: an owner-per-slot map
// plus the atomic set that protects registers materialized earlier in the
// current instruction from eviction within that same instruction.
type residency struct {
	owner    [NumGPR]string // "" means free
	used     int            // count of slots ever allocated this method
	atomic   map[int]bool
	lastSlot map[string]int // identifier -> slot it currently occupies
}

func newResidency() *residency {
	return &residency{atomic: make(map[int]bool), lastSlot: make(map[string]int)}
}

// reset clears the residency map. Called after every Call and at every
// OptFlag enter_loop/exit_loop boundary; each method starts from a fresh
// residency built by newResidency.
func (r *residency) reset() {
	for i := range r.owner {
		r.owner[i] = ""
	}
	r.atomic = make(map[int]bool)
	r.lastSlot = make(map[string]int)
}

func (r *residency) beginAtomicScope() {
	r.atomic = make(map[int]bool)
}

func (r *residency) markAtomic(slot int) {
	r.atomic[slot] = true
}

// slotOf reports the slot currently holding name, if any.
func (r *residency) slotOf(name string) (int, bool) {
	s, ok := r.lastSlot[name]
	if ok && r.owner[s] == name {
		return s, true
	}
	return 0, false
}

// bind assigns name to slot, evicting whatever it previously held.
func (r *residency) bind(slot int, name string) {
	if prev, ok := r.lastSlot[name]; ok && r.owner[prev] == name && prev != slot {
		r.owner[prev] = ""
	}
	r.owner[slot] = name
	r.lastSlot[name] = slot
}

// allocate uses the next free slot while the file isn't yet full, otherwise
// evicts the non-atomic owner with the farthest next use.
func (r *residency) allocate(code []mir.Inst, fromLine int) int {
	if r.used < NumGPR && r.owner[r.used] == "" {
		slot := r.used
		r.used++
		return slot
	}
	victim := -1
	farthest := -1
	for slot, name := range r.owner {
		if name == "" {
			return slot
		}
		if r.atomic[slot] {
			continue
		}
		dist := nextUse(code, fromLine, name)
		if dist > farthest {
			farthest = dist
			victim = slot
		}
	}
	if victim == -1 {
		// every owned slot is atomic; the atomic set is meant to cover only
		// the registers the current instruction just materialized, which
		// can never exceed the operand count of a single MIR instruction
		// (at most 3), so this should be unreachable.
		panic("ICE: register allocator found no eligible victim")
	}
	r.owner[victim] = ""
	return victim
}

// nextUse performs a forward scan from the current instruction over the
// remainder of the method looking for any read or write of name in any
// operand position. Absence returns a distance larger than any real index
// so that identifier is evicted first.
func nextUse(code []mir.Inst, fromLine int, name string) int {
	const infinity = 1 << 30
	for i := fromLine; i < len(code); i++ {
		if touches(code[i], name) {
			return i - fromLine
		}
	}
	return infinity
}

func touches(inst mir.Inst, name string) bool {
	isName := func(op mir.Operand) bool {
		id, ok := op.(mir.Identity)
		return ok && id.Name == name
	}
	switch v := inst.(type) {
	case *mir.Assign2:
		return v.Dest == name || isName(v.FromValue)
	case *mir.Assign3:
		return v.Dest == name || isName(v.Value1) || isName(v.Value2)
	case *mir.Cmp:
		return isName(v.Value1) || isName(v.Value2)
	case *mir.Ret:
		return v.Value != nil && isName(v.Value)
	case *mir.Call:
		for _, a := range v.Args {
			if isName(a) {
				return true
			}
		}
	}
	return false
}
