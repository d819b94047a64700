package rewrite

import "github.com/sparcians/stf-tools/pkg/stf/inst"

// Filter is a composable predicate over an assembled instruction, adapted
// from the original's stf_filter.hpp predicate chain: the rewriter facade
// accepts a Filter instead of a single hand-written skip/keep callback, so
// tools compose opcode/address/register/markpoint predicates with
// And/Or/Not rather than writing one bespoke closure per combination.
type Filter func(i *inst.Instruction) bool

// And reports true only when every one of fs reports true. An empty And
// reports true (the identity filter).
func And(fs ...Filter) Filter {
	return func(i *inst.Instruction) bool {
		for _, f := range fs {
			if !f(i) {
				return false
			}
		}
		return true
	}
}

// Or reports true when any of fs reports true. An empty Or reports false.
func Or(fs ...Filter) Filter {
	return func(i *inst.Instruction) bool {
		for _, f := range fs {
			if f(i) {
				return true
			}
		}
		return false
	}
}

// Not negates f.
func Not(f Filter) Filter {
	return func(i *inst.Instruction) bool { return !f(i) }
}

// OpcodeEquals matches an instruction whose raw opcode word is exactly want.
func OpcodeEquals(want uint64) Filter {
	return func(i *inst.Instruction) bool { return i.Opcode() == want }
}

// AddressInRange matches an instruction with at least one memory access
// (read or write) whose virtual address falls in [lo, hi).
func AddressInRange(lo, hi uint64) Filter {
	return func(i *inst.Instruction) bool {
		for _, a := range i.MemAccesses {
			v := a.Access.VAddr
			if v >= lo && v < hi {
				return true
			}
		}
		return false
	}
}

// RegisterTouched matches an instruction that reads or writes reg, either
// as a source or destination operand.
func RegisterTouched(reg uint64) Filter {
	return func(i *inst.Instruction) bool {
		for _, r := range i.SourceRegs() {
			if r == reg {
				return true
			}
		}
		for _, r := range i.DestRegs() {
			if r == reg {
				return true
			}
		}
		return false
	}
}

// MarkpointReached matches an instruction the decoder adapter recognizes as
// a markpoint/tracepoint checkpoint encoding (§4.6).
func MarkpointReached(isMarkpoint func(opcode uint64, size int) bool) Filter {
	return func(i *inst.Instruction) bool {
		return isMarkpoint(i.Opcode(), i.OpcodeSize())
	}
}

// Always is the identity filter: every instruction passes.
func Always(*inst.Instruction) bool { return true }
