// Package shadow implements the running state that tracks a trace as it's
// read: the register shadow, the PTE shadow, the PC tracker, the mode
// tracker, and the generic dependency tracker (§4.7).
package shadow

import "github.com/sparcians/stf-tools/pkg/stf/record"

// RegFile is the register shadow: reg_id -> last-written value(s), updated
// in order by dest-operand and state records. Reset on reader seek.
type RegFile struct {
	regs map[record.RegID][]uint64
}

// NewRegFile returns an empty register shadow.
func NewRegFile() *RegFile {
	return &RegFile{regs: make(map[record.RegID][]uint64)}
}

// Update applies a dest-operand or state INST_REG record. Non-dest,
// non-state records are ignored (callers typically only route those kinds
// here, but Update stays defensive).
func (rf *RegFile) Update(rg record.InstReg) {
	if rg.Type != record.OperandDest && rg.Type != record.OperandState {
		return
	}
	rf.regs[rg.Reg] = append([]uint64(nil), rg.Values...)
}

// Value returns the last-written value(s) for reg, and whether an entry
// exists at all.
func (rf *RegFile) Value(reg record.RegID) ([]uint64, bool) {
	v, ok := rf.regs[reg]
	return v, ok
}

// Reset clears all shadow state, for use on a reader seek.
func (rf *RegFile) Reset() {
	rf.regs = make(map[record.RegID][]uint64)
}

// WriteState emits one INST_REG(STATE) per live entry, in deterministic
// (ascending) register-id order, via emit. Used to materialize the shadow
// into a new trace's header or mid-stream checkpoint.
func (rf *RegFile) WriteState(emit func(record.InstReg) error) error {
	ids := make([]record.RegID, 0, len(rf.regs))
	for id := range rf.regs {
		ids = append(ids, id)
	}
	sortRegIDs(ids)
	for _, id := range ids {
		if err := emit(record.InstReg{Type: record.OperandState, Reg: id, Values: rf.regs[id]}); err != nil {
			return err
		}
	}
	return nil
}

func sortRegIDs(ids []record.RegID) {
	// Small-N insertion sort; register counts per instruction/header are
	// tiny (tens, not thousands), so this avoids pulling in sort for one
	// call site.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
