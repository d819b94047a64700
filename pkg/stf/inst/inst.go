// Package inst implements the instruction assembler (§4.5): it turns a
// stream.Reader's flat record sequence into a sequence of immutable
// Instruction units, each one opcode plus the collaborator records that
// describe its operands, memory traffic, and events.
package inst

import "github.com/sparcians/stf-tools/pkg/stf/record"

// MemAccess zips an INST_MEM_ACCESS with its paired INST_MEM_CONTENT, when
// one follows (the data-attribute/value-present feature bits gate whether
// content records appear at all).
type MemAccess struct {
	Access     record.InstMemAccess
	Content    record.InstMemContent
	HasContent bool
}

// BusAccess is the BUS_MASTER_ACCESS/CONTENT analogue of MemAccess.
type BusAccess struct {
	Access     record.BusMasterAccess
	Content    record.BusMasterContent
	HasContent bool
}

// eventTypeInterruptBit is this module's convention for telling an
// asynchronous interrupt apart from a synchronous fault/exception in
// Event.EventType: the high bit set, mirroring the RISC-V privileged
// architecture's mcause MSB convention. Neither spec.md nor the record wire
// format names this bit; it's a reasonable load-bearing default documented
// here rather than left implicit.
const eventTypeInterruptBit uint32 = 0x8000_0000

// Instruction is one assembled instruction unit: an opcode record plus
// every collaborator record the assembler buffered since the previous one
// (§4.5).
type Instruction struct {
	index        uint64
	pc           uint64
	opcode       uint64
	opcodeSize   int
	changeOfFlow bool
	forcedPC     uint64

	changeToUserMode   bool
	changeFromUserMode bool

	SourceOperands []record.InstReg
	DestOperands   []record.InstReg
	RegStates      []record.InstReg
	ReadyRegs      []record.InstReadyReg

	MemAccesses []MemAccess
	BusAccesses []BusAccess

	PCTargets      []record.InstPCTarget
	MicroOps       []record.InstMicroOp
	Events         []record.Event
	EventPCTargets []record.EventPCTarget
	EmbeddedPTEs   []record.PageTableWalk
	Comments       []record.Comment

	HasProcessID bool
	HWTID        uint32
	TGID         uint32
	TID          uint32
	ASID         uint32

	// Orig groups every raw collaborator record (including the opcode
	// record itself) by descriptor, for rewriters that need to replay
	// records they don't otherwise interpret.
	Orig map[record.Descriptor][]record.Record
}

// Index returns the instruction's 1-based position in the trace.
func (i *Instruction) Index() uint64 { return i.index }

// PC returns the instruction's program counter.
func (i *Instruction) PC() uint64 { return i.pc }

// Opcode returns the raw opcode word.
func (i *Instruction) Opcode() uint64 { return i.opcode }

// OpcodeSize returns the opcode width in bytes (2 or 4).
func (i *Instruction) OpcodeSize() int { return i.opcodeSize }

// IsChangeOfFlow reports whether a FORCE_PC record preceded this
// instruction; ForcedPCValue returns the PC it carried.
func (i *Instruction) IsChangeOfFlow() bool { return i.changeOfFlow }

// ForcedPCValue returns the PC a preceding FORCE_PC carried, and whether
// one was present.
func (i *Instruction) ForcedPCValue() (uint64, bool) { return i.forcedPC, i.changeOfFlow }

// IsChangeToUserMode reports whether this instruction is the first to
// execute in user mode after a run of kernel-mode instructions.
func (i *Instruction) IsChangeToUserMode() bool { return i.changeToUserMode }

// IsChangeFromUserMode reports whether this instruction is the first to
// execute in kernel mode after a run of user-mode instructions.
func (i *Instruction) IsChangeFromUserMode() bool { return i.changeFromUserMode }

// MemoryReads returns the subset of MemAccesses that are loads.
func (i *Instruction) MemoryReads() []MemAccess {
	return filterMemAccess(i.MemAccesses, record.MemAccessRead)
}

// MemoryWrites returns the subset of MemAccesses that are stores.
func (i *Instruction) MemoryWrites() []MemAccess {
	return filterMemAccess(i.MemAccesses, record.MemAccessWrite)
}

func filterMemAccess(accesses []MemAccess, typ record.MemAccessType) []MemAccess {
	var out []MemAccess
	for _, m := range accesses {
		if m.Access.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// IsTakenBranch reports whether this instruction is a control-transfer
// instruction that actually redirected control flow: an unconditional
// jump always counts, a conditional branch counts iff a target was
// recorded (§4.5: "from decoder + PC target record if present").
func (i *Instruction) IsTakenBranch(isBranch, isJump bool) bool {
	if isJump {
		return true
	}
	if !isBranch {
		return false
	}
	return len(i.PCTargets) > 0
}

// BranchTarget returns the resolved target PC, if any INST_PC_TARGET was
// recorded for this instruction.
func (i *Instruction) BranchTarget() (uint64, bool) {
	if len(i.PCTargets) == 0 {
		return 0, false
	}
	return i.PCTargets[0].PC, true
}

// IsInterrupt reports whether any recorded event is an asynchronous
// interrupt (eventTypeInterruptBit set).
func (i *Instruction) IsInterrupt() bool {
	for _, e := range i.Events {
		if e.EventType&eventTypeInterruptBit != 0 {
			return true
		}
	}
	return false
}

// IsFault reports whether any recorded event is a synchronous fault or
// exception (every event that isn't classified as an interrupt).
func (i *Instruction) IsFault() bool {
	for _, e := range i.Events {
		if e.EventType&eventTypeInterruptBit == 0 {
			return true
		}
	}
	return false
}

// DestRegs implements shadow.InstructionView: destination register ids,
// x0 included (the dependency tracker's policies drop x0 themselves).
func (i *Instruction) DestRegs() []uint64 {
	return regIDs(i.DestOperands)
}

// SourceRegs implements shadow.InstructionView.
func (i *Instruction) SourceRegs() []uint64 {
	return regIDs(i.SourceOperands)
}

func regIDs(ops []record.InstReg) []uint64 {
	var out []uint64
	for _, op := range ops {
		out = append(out, uint64(op.Reg))
	}
	return out
}

// IsLoad implements shadow.InstructionView.
func (i *Instruction) IsLoad() bool {
	return len(i.MemoryReads()) > 0
}

// IsStore implements shadow.InstructionView.
func (i *Instruction) IsStore() bool {
	return len(i.MemoryWrites()) > 0
}

// MemAddrs implements shadow.InstructionView: every virtual address this
// instruction touched.
func (i *Instruction) MemAddrs() []uint64 {
	var out []uint64
	for _, m := range i.MemAccesses {
		out = append(out, m.Access.VAddr)
	}
	return out
}
