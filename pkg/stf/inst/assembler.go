package inst

import (
	"errors"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/decoder"
	"github.com/sparcians/stf-tools/pkg/stf/record"
	"github.com/sparcians/stf-tools/pkg/stf/shadow"
	"github.com/sparcians/stf-tools/pkg/stf/stream"
)

// Assembler runs the §4.5 state machine over a stream.Reader: it buffers
// collaborator records and drains them into an Instruction each time an
// opcode record closes the buffer.
type Assembler struct {
	r   *stream.Reader
	dec *decoder.Decoder

	mode        *shadow.ModeTracker
	userOnly    bool
	prevWasUser bool

	indexCounter uint64

	buf buffer

	hasForcedPC bool
	forcedPC    uint64

	hasProcID bool
	procID    record.ProcessIDExt
}

type buffer struct {
	source, dest, states []record.InstReg
	ready                []record.InstReadyReg
	mem                  []MemAccess
	bus                  []BusAccess
	pcTargets            []record.InstPCTarget
	microOps             []record.InstMicroOp
	events               []record.Event
	eventPCTargets       []record.EventPCTarget
	ptes                 []record.PageTableWalk
	comments             []record.Comment
	orig                 map[record.Descriptor][]record.Record
}

func (b *buffer) append(rec record.Record) {
	if b.orig == nil {
		b.orig = make(map[record.Descriptor][]record.Record)
	}
	b.orig[rec.Descriptor()] = append(b.orig[rec.Descriptor()], rec)
}

func (b *buffer) reset() {
	*b = buffer{}
}

// NewAssembler returns an Assembler reading instructions from r, using dec
// to classify opcodes for the user-mode filter and branch/event queries.
func NewAssembler(r *stream.Reader, dec *decoder.Decoder) *Assembler {
	return &Assembler{
		r:           r,
		dec:         dec,
		mode:        shadow.NewModeTracker(),
		prevWasUser: true,
	}
}

// SetUserModeOnly enables or disables the user-mode filter (§4.5): when
// enabled, Next silently skips instructions whose mode is not user.
func (a *Assembler) SetUserModeOnly(enabled bool) {
	a.userOnly = enabled
}

// Next returns the next assembled Instruction, or byteio.ErrEOF at clean
// end of stream. A non-empty pending buffer at end of stream is discarded;
// EOF is still reported (§4.5: "discard buffer and report EOF").
func (a *Assembler) Next() (*Instruction, error) {
	for {
		rec, err := a.r.Next()
		if err != nil {
			if errors.Is(err, byteio.ErrEOF) {
				a.buf.reset()
			}
			return nil, err
		}
		a.buf.append(rec)

		switch v := rec.(type) {
		case record.InstReg:
			switch v.Type {
			case record.OperandSource:
				a.buf.source = append(a.buf.source, v)
			case record.OperandDest:
				a.buf.dest = append(a.buf.dest, v)
			case record.OperandState:
				a.buf.states = append(a.buf.states, v)
			}
		case record.InstReadyReg:
			a.buf.ready = append(a.buf.ready, v)
		case record.InstMemAccess:
			a.buf.mem = append(a.buf.mem, MemAccess{Access: v})
		case record.InstMemContent:
			if n := len(a.buf.mem); n > 0 {
				a.buf.mem[n-1].Content = v
				a.buf.mem[n-1].HasContent = true
			}
		case record.BusMasterAccess:
			a.buf.bus = append(a.buf.bus, BusAccess{Access: v})
		case record.BusMasterContent:
			if n := len(a.buf.bus); n > 0 {
				a.buf.bus[n-1].Content = v
				a.buf.bus[n-1].HasContent = true
			}
		case record.InstPCTarget:
			a.buf.pcTargets = append(a.buf.pcTargets, v)
		case record.InstMicroOp:
			a.buf.microOps = append(a.buf.microOps, v)
		case record.Event:
			a.buf.events = append(a.buf.events, v)
		case record.EventPCTarget:
			a.buf.eventPCTargets = append(a.buf.eventPCTargets, v)
		case record.PageTableWalk:
			a.buf.ptes = append(a.buf.ptes, v)
		case record.Comment:
			a.buf.comments = append(a.buf.comments, v)
		case record.ProcessIDExt:
			a.procID = v
			a.hasProcID = true
		case record.ForcePC:
			a.forcedPC = v.PC
			a.hasForcedPC = true
		}

		if !rec.Descriptor().IsOpcode() {
			continue
		}

		instr := a.drain(rec)

		isUser := a.applyMode(instr)
		if a.userOnly && !isUser {
			continue
		}
		// Index assignment happens after the filter so emitted indices stay
		// dense: a suppressed instruction never consumes an index.
		instr.index = a.nextIndex()
		return instr, nil
	}
}

// SeekTo repositions the assembler so that the next call to Next returns the
// instruction at instIndex. Only supported on chunked compressed streams
// (§4.4): the underlying reader seeks to the covering chunk, then whole
// instructions are discarded until instIndex is reached. Pending collaborator
// state and the mode tracker are reset; callers holding separate shadow
// state must reset it themselves (§3.4).
func (a *Assembler) SeekTo(instIndex uint64) error {
	if instIndex < 1 {
		instIndex = 1
	}
	if _, err := a.r.Seek(instIndex); err != nil {
		return err
	}
	a.buf.reset()
	a.hasForcedPC = false
	a.hasProcID = false
	a.mode = shadow.NewModeTracker()
	a.prevWasUser = true
	for a.r.NumInstsRead < instIndex-1 {
		if _, err := a.r.Next(); err != nil {
			return err
		}
	}
	a.indexCounter = instIndex - 1
	return nil
}

func (a *Assembler) drain(opcodeRec record.Record) *Instruction {
	instr := &Instruction{
		SourceOperands: a.buf.source,
		DestOperands:   a.buf.dest,
		RegStates:      a.buf.states,
		ReadyRegs:      a.buf.ready,
		MemAccesses:    a.buf.mem,
		BusAccesses:    a.buf.bus,
		PCTargets:      a.buf.pcTargets,
		MicroOps:       a.buf.microOps,
		Events:         a.buf.events,
		EventPCTargets: a.buf.eventPCTargets,
		EmbeddedPTEs:   a.buf.ptes,
		Comments:       a.buf.comments,
		Orig:           a.buf.orig,
	}

	switch v := opcodeRec.(type) {
	case record.InstOpcode16:
		instr.opcode, instr.opcodeSize, instr.pc = uint64(v.Opcode), 2, v.PC
	case record.InstOpcode32:
		instr.opcode, instr.opcodeSize, instr.pc = uint64(v.Opcode), 4, v.PC
	}

	if a.hasForcedPC {
		instr.changeOfFlow = true
		instr.forcedPC = a.forcedPC
		a.hasForcedPC = false
	}

	if a.hasProcID {
		instr.HasProcessID = true
		instr.HWTID, instr.TGID, instr.TID, instr.ASID = a.procID.HWTID, a.procID.TGID, a.procID.TID, a.procID.ASID
	}

	a.buf.reset()
	return instr
}

func (a *Assembler) nextIndex() uint64 {
	a.indexCounter++
	return a.indexCounter
}

// applyMode classifies this instruction's privilege mode from the decoder
// and event signals observed, stamps the to/from-user transition flags,
// and returns whether it executed in user mode.
func (a *Assembler) applyMode(instr *Instruction) bool {
	isSyscall := a.dec.IsSyscall(instr.opcode, instr.opcodeSize)
	isExceptionReturn := a.dec.IsExceptionReturn(instr.opcode, instr.opcodeSize)
	hasFaultEvent := instr.IsFault() || instr.IsInterrupt()

	region := a.mode.Observe(isSyscall, isExceptionReturn, hasFaultEvent)
	isUser := region == shadow.RegionUser

	instr.changeToUserMode = isUser && !a.prevWasUser
	instr.changeFromUserMode = !isUser && a.prevWasUser
	a.prevWasUser = isUser

	return isUser
}
