package shadow

import "fmt"

// PCTracker maintains the running PC as a trace is read: it starts at the
// header's initial PC, advances by the retired instruction's opcode size,
// and is overridden by a taken-branch target, an event target, or a
// FORCE_PC (§4.7). An optional relocation offset may be added on the fly;
// it must be a multiple of 4.
type PCTracker struct {
	pc     uint64
	offset int64
}

// NewPCTracker starts tracking at initialPC.
func NewPCTracker(initialPC uint64) *PCTracker {
	return &PCTracker{pc: initialPC}
}

// PC returns the current (relocated) PC.
func (t *PCTracker) PC() uint64 {
	return uint64(int64(t.pc) + t.offset)
}

// SetOffset sets the relocation offset; it must be a multiple of 4.
func (t *PCTracker) SetOffset(offset int64) error {
	if offset%4 != 0 {
		return fmt.Errorf("shadow: PC relocation offset %d is not a multiple of 4", offset)
	}
	t.offset = offset
	return nil
}

// Advance moves the PC forward by opcodeSize, the normal (non-branch) step.
func (t *PCTracker) Advance(opcodeSize int) {
	t.pc += uint64(opcodeSize)
}

// Override replaces the PC outright: used for a taken-branch target, an
// event target, or a FORCE_PC.
func (t *PCTracker) Override(pc uint64) {
	t.pc = pc
}
