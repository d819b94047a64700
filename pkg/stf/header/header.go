// Package header implements the STF header protocol: the fixed sequence of
// header-class records that must open every trace (§6.1), read-side
// assembly into a TraceParameters value, and write-side accumulation with a
// finalizeHeader step that flushes the sequence in canonical order.
package header

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/record"
)

// ErrHeaderError reports a header that doesn't conform to the required
// record sequence: a missing mandatory record, or one out of order.
var ErrHeaderError = errors.New("header: malformed header")

// TraceParameters is everything read-side consumers need once END_HEADER
// has been consumed: format version, machine configuration, the active
// feature bitmap, the initial PC, and whatever optional context or state
// records preceded END_HEADER.
type TraceParameters struct {
	Major, Minor uint16
	ISA          record.ISAKind
	IEM          record.IEM
	Vlen         uint16
	Features     record.Features
	InitialPC    uint64

	HasProcessID bool
	HWTID        uint32
	TGID         uint32
	TID          uint32
	ASID         uint32

	TraceInfos []record.TraceInfo

	// InitialRegs is the optional register-state prefix (INST_REG with
	// Type == OperandState), keyed by register id.
	InitialRegs map[record.RegID]record.InstReg
	// InitialPTEs is the optional initial PTE set.
	InitialPTEs []record.PageTableWalk
}

// ReadHeader consumes records from r until END_HEADER, validating the
// mandatory sequence and populating a TraceParameters. Missing IDENTIFIER or
// VERSION is fatal, per §4.3.
func ReadHeader(r *byteio.Reader) (*TraceParameters, error) {
	tp := &TraceParameters{InitialRegs: make(map[record.RegID]record.InstReg)}

	rec, err := record.Decode(r, record.Hints{})
	if err != nil {
		return nil, err
	}
	if _, ok := rec.(record.Identifier); !ok {
		return nil, fmt.Errorf("%w: expected IDENTIFIER, got %s", ErrHeaderError, rec.Descriptor())
	}

	rec, err = record.Decode(r, record.Hints{})
	if err != nil {
		return nil, err
	}
	ver, ok := rec.(record.Version)
	if !ok {
		return nil, fmt.Errorf("%w: expected VERSION, got %s", ErrHeaderError, rec.Descriptor())
	}
	tp.Major, tp.Minor = ver.Major, ver.Minor

	for {
		rec, err := record.Decode(r, record.Hints{Features: tp.Features})
		if err != nil {
			return nil, err
		}
		switch v := rec.(type) {
		case record.ISA:
			tp.ISA = v.Kind
		case record.InstIEM:
			tp.IEM = v.Mode
		case record.VlenConfig:
			tp.Vlen = v.Vlen
		case record.TraceInfo:
			tp.TraceInfos = append(tp.TraceInfos, v)
		case record.TraceInfoFeature:
			tp.Features = v.Features
		case record.ForcePC:
			tp.InitialPC = v.PC
		case record.ProcessIDExt:
			tp.HasProcessID = true
			tp.HWTID, tp.TGID, tp.TID, tp.ASID = v.HWTID, v.TGID, v.TID, v.ASID
		case record.InstReg:
			if v.Type != record.OperandState {
				return nil, fmt.Errorf("%w: non-state INST_REG in header", ErrHeaderError)
			}
			tp.InitialRegs[v.Reg] = v
		case record.PageTableWalk:
			tp.InitialPTEs = append(tp.InitialPTEs, v)
		case record.EndHeader:
			return tp, nil
		default:
			return nil, fmt.Errorf("%w: unexpected %s before END_HEADER", ErrHeaderError, rec.Descriptor())
		}
	}
}

// Writer accumulates header fields and, on FinalizeHeader, flushes them to
// w in the canonical order from §6.1. A header-class record written after
// finalization is refused with an error by the body writer (enforced one
// layer up, in pkg/stf/stream).
type Writer struct {
	w *byteio.Writer

	major, minor uint16
	isa          record.ISAKind
	iem          record.IEM
	vlen         uint16
	features     record.Features
	initialPC    uint64

	hasProcessID bool
	hwtid, tgid, tid, asid uint32

	traceInfos []record.TraceInfo

	initialRegs []record.InstReg
	initialPTEs []record.PageTableWalk

	finalized bool
}

// NewWriter returns a Writer that will flush onto w.
func NewWriter(w *byteio.Writer) *Writer {
	return &Writer{w: w, isa: record.ISARISCV, major: 4, minor: 2}
}

// SetVersion sets the format version. Optional; defaults to 4.2.
func (hw *Writer) SetVersion(major, minor uint16) { hw.major, hw.minor = major, minor }

// SetIEM sets the instruction encoding mode (RV32 or RV64).
func (hw *Writer) SetIEM(iem record.IEM) { hw.iem = iem }

// SetVlen sets the vector register bit width, or 0 if absent.
func (hw *Writer) SetVlen(vlen uint16) { hw.vlen = vlen }

// SetFeatures sets the feature bitmap.
func (hw *Writer) SetFeatures(f record.Features) { hw.features = f }

// SetInitialPC sets the trace's starting PC.
func (hw *Writer) SetInitialPC(pc uint64) { hw.initialPC = pc }

// SetProcessID attaches an optional PROCESS_ID_EXT to the header.
func (hw *Writer) SetProcessID(hwtid, tgid, tid, asid uint32) {
	hw.hasProcessID = true
	hw.hwtid, hw.tgid, hw.tid, hw.asid = hwtid, tgid, tid, asid
}

// ClearProcessID drops a previously set (or copied) PROCESS_ID_EXT from the
// header, for rewrites that disable the process_id_present feature bit.
func (hw *Writer) ClearProcessID() {
	hw.hasProcessID = false
	hw.hwtid, hw.tgid, hw.tid, hw.asid = 0, 0, 0, 0
}

// AddTraceInfo appends a TRACE_INFO entry. At least one must be added before
// FinalizeHeader.
func (hw *Writer) AddTraceInfo(ti record.TraceInfo) { hw.traceInfos = append(hw.traceInfos, ti) }

// SetInitialRegs sets the optional register-state prefix.
func (hw *Writer) SetInitialRegs(regs []record.InstReg) { hw.initialRegs = regs }

// SetInitialPTEs sets the optional initial PTE set.
func (hw *Writer) SetInitialPTEs(ptes []record.PageTableWalk) { hw.initialPTEs = ptes }

// Finalized reports whether FinalizeHeader has already run.
func (hw *Writer) Finalized() bool { return hw.finalized }

// FinalizeHeader flushes the accumulated header fields to w in canonical
// order and transitions to body mode. It is an error to call it twice, or
// with zero TRACE_INFO entries.
func (hw *Writer) FinalizeHeader() error {
	if hw.finalized {
		return fmt.Errorf("%w: header already finalized", ErrHeaderError)
	}
	if len(hw.traceInfos) == 0 {
		return fmt.Errorf("%w: at least one TRACE_INFO is required", ErrHeaderError)
	}
	recs := []record.Record{
		record.Identifier{},
		record.Version{Major: hw.major, Minor: hw.minor},
		record.ISA{Kind: hw.isa},
		record.InstIEM{Mode: hw.iem},
		record.VlenConfig{Vlen: hw.vlen},
	}
	for _, ti := range hw.traceInfos {
		recs = append(recs, ti)
	}
	recs = append(recs, record.TraceInfoFeature{Features: hw.features})
	recs = append(recs, record.ForcePC{PC: hw.initialPC})
	if hw.hasProcessID {
		recs = append(recs, record.ProcessIDExt{HWTID: hw.hwtid, TGID: hw.tgid, TID: hw.tid, ASID: hw.asid})
	}
	for _, rg := range hw.initialRegs {
		recs = append(recs, rg)
	}
	for _, pte := range hw.initialPTEs {
		recs = append(recs, pte)
	}
	recs = append(recs, record.EndHeader{})

	for _, rec := range recs {
		if err := record.Encode(hw.w, rec); err != nil {
			return err
		}
	}
	hw.finalized = true
	return nil
}

// CopyHeader replays tp into hw, preserving feature bitmap and vlen, ready
// for the caller to append a trace-info entry and toggle feature bits
// before calling FinalizeHeader (§4.3 header copy, §6.2 toggle list).
func CopyHeader(tp *TraceParameters, hw *Writer) {
	hw.SetVersion(tp.Major, tp.Minor)
	hw.isa = tp.ISA
	hw.SetIEM(tp.IEM)
	hw.SetVlen(tp.Vlen)
	hw.SetFeatures(tp.Features)
	hw.SetInitialPC(tp.InitialPC)
	if tp.HasProcessID {
		hw.SetProcessID(tp.HWTID, tp.TGID, tp.TID, tp.ASID)
	}
	hw.traceInfos = append(hw.traceInfos, tp.TraceInfos...)
	// Register-id order, so a copied header's bytes are deterministic.
	ids := make([]record.RegID, 0, len(tp.InitialRegs))
	for id := range tp.InitialRegs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		hw.initialRegs = append(hw.initialRegs, tp.InitialRegs[id])
	}
	hw.initialPTEs = append(hw.initialPTEs, tp.InitialPTEs...)
}

// TogglePolicy validates that every bit in clear is one the §6.2 toggle
// list permits the rewriter to disable, returning an error naming the first
// bit that isn't. It checks toggle-list
// membership only; whether records still to be emitted need a cleared bit
// is not checked here.
func TogglePolicy(clear record.Features) error {
	for bit := record.Features(1); bit != 0 && bit <= clear; bit <<= 1 {
		if clear&bit == 0 {
			continue
		}
		if !record.Toggleable(bit) {
			return fmt.Errorf("%w: feature bit 0x%x is not toggleable", ErrHeaderError, uint64(bit))
		}
	}
	return nil
}
