// Package rewrite implements the trace rewriter facade (§4.8): the
// read-modify-write orchestration every tool that outputs a trace shares
// (dump/morph/merge/diff-with-output), layered on top of stream, header,
// inst, and shadow.
package rewrite

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/decoder"
	"github.com/sparcians/stf-tools/pkg/stf/header"
	"github.com/sparcians/stf-tools/pkg/stf/inst"
	"github.com/sparcians/stf-tools/pkg/stf/record"
	"github.com/sparcians/stf-tools/pkg/stf/shadow"
	"github.com/sparcians/stf-tools/pkg/stf/stream"
)

// PTEMode selects how the rewriter re-establishes page-table state in the
// output trace, per §4.7's two rewriter-facing modes.
type PTEMode int

// The two rewriter PTE modes. Mark-only (§4.7's third mode) is a read-only
// validation query, not a rewrite mode, so it has no value here.
const (
	// PTEDumpAll emits every live shadow PTE into the new header up front.
	PTEDumpAll PTEMode = iota
	// PTEOnDemand clears all used flags at header time and emits a PTE
	// inline, just before the first instruction that touches it.
	PTEOnDemand
)

// Config parameterizes one Rewriter: the generator identity recorded in the
// appended TRACE_INFO, the output chunking/overwrite policy, and the PTE
// re-establishment mode.
type Config struct {
	ChunkSize         uint64
	OverwriteExisting bool
	UserOnly          bool
	PTEMode           PTEMode
	GeneratorID       uint8
	ToolVersion       string
	Comment           string

	// ClearFeatures is a set of feature bits to disable in the output
	// header, validated against header.TogglePolicy before the header is
	// finalized (the stf-disable-feature tool's sole purpose).
	ClearFeatures record.Features
}

// Decision is what a Callback returns for one source instruction.
type Decision struct {
	// Drop removes the instruction from the output entirely.
	Drop bool
	// Replace, if non-nil, is emitted in place of the original instruction.
	Replace *inst.Instruction
}

// Pass is the zero Decision: emit the instruction unchanged.
var Pass = Decision{}

// DropDecision is a Decision that removes the instruction.
var DropDecision = Decision{Drop: true}

// Callback decides, for one instruction of the source trace, whether and
// how it appears in the output (§4.8 step 4: "pass it through, transform
// it, or drop it").
type Callback func(i *inst.Instruction) Decision

// Rewriter holds the shadow state (§4.7) that must stay consistent across
// the read-modify-write loop: register file, PTE table, and PC tracker.
type Rewriter struct {
	cfg Config

	regs *shadow.RegFile
	ptes *shadow.PTETable
	pc   *shadow.PCTracker

	seenPageSizes map[uint32]bool
}

// New returns a Rewriter with empty shadow state, ready for Rewrite or
// Merge.
func New(cfg Config) *Rewriter {
	if cfg.ClearFeatures.Has(record.FeaturePTEEmbedded) {
		// Inline PTE emission would reintroduce the record kind the cleared
		// bit forbids; translations go into the header instead.
		cfg.PTEMode = PTEDumpAll
	}
	return &Rewriter{
		cfg:           cfg,
		regs:          shadow.NewRegFile(),
		ptes:          shadow.NewPTETable(),
		pc:            shadow.NewPCTracker(0),
		seenPageSizes: make(map[uint32]bool),
	}
}

// Rewrite implements the single-input read-modify-write loop of §4.8: open
// inPath, fast-forward shadow state to instruction start without writing,
// open outPath and copy/extend the header, then stream instructions
// [start, end] (end==0 means "through EOF") through cb, maintaining shadow
// state and on-demand PTE closure as it goes.
func (rw *Rewriter) Rewrite(inPath, outPath string, start, end uint64, cb Callback) error {
	r, err := stream.Open(inPath)
	if err != nil {
		return fmt.Errorf("rewrite: open %s: %w", inPath, err)
	}
	defer r.Close()
	rw.seedFromHeader(r.Params)

	dec := decoder.New()
	asm := inst.NewAssembler(r, dec)
	asm.SetUserModeOnly(rw.cfg.UserOnly)

	if start < 1 {
		start = 1
	}
	for idx := uint64(1); idx < start; idx++ {
		instr, err := asm.Next()
		if err != nil {
			if errors.Is(err, byteio.ErrEOF) {
				return fmt.Errorf("rewrite: start index %d past end of trace", start)
			}
			return err
		}
		rw.observe(instr)
	}

	first, err := asm.Next()
	if err != nil {
		if errors.Is(err, byteio.ErrEOF) {
			return fmt.Errorf("rewrite: start index %d past end of trace", start)
		}
		return err
	}

	w, err := stream.Create(outPath, byteio.WriterOptions{
		ChunkSize:         rw.cfg.ChunkSize,
		OverwriteExisting: rw.cfg.OverwriteExisting || inPath == outPath,
	})
	if err != nil {
		return fmt.Errorf("rewrite: create %s: %w", outPath, err)
	}
	committed := false
	defer func() {
		if !committed {
			w.Abort()
		}
	}()

	if err := rw.startOutput(r.Params, w, first.PC()); err != nil {
		return err
	}

	instr := first
	for instr != nil {
		if end != 0 && instr.Index() > end {
			break
		}
		if err := rw.emit(w, instr, cb); err != nil {
			return err
		}
		rw.observe(instr)

		next, err := asm.Next()
		if err != nil {
			if errors.Is(err, byteio.ErrEOF) {
				break
			}
			return err
		}
		instr = next
	}
	if err := w.Close(); err != nil {
		return err
	}
	committed = true
	return nil
}

// seedFromHeader replays the input header's initial register state and PTE
// set into the shadows, so a trace that is already a slice (its state lives
// in the header, not in body records) still yields a self-contained output.
func (rw *Rewriter) seedFromHeader(tp *header.TraceParameters) {
	for _, rg := range tp.InitialRegs {
		rw.regs.Update(rg)
	}
	for _, pte := range tp.InitialPTEs {
		rw.ptes.Update(tp.ASID, pte)
		rw.seenPageSizes[pte.PageSizeLog2] = true
	}
}

// startOutput performs §4.8 step 3: copy the source header, append this
// rewriter's own TRACE_INFO, set the initial PC, flush the register and PTE
// shadows, and finalize.
func (rw *Rewriter) startOutput(src *header.TraceParameters, w *stream.Writer, initialPC uint64) error {
	hw := w.Header()
	header.CopyHeader(src, hw)
	if rw.cfg.ClearFeatures != 0 {
		if err := header.TogglePolicy(rw.cfg.ClearFeatures); err != nil {
			return fmt.Errorf("rewrite: %w", err)
		}
		hw.SetFeatures(src.Features &^ rw.cfg.ClearFeatures)
	}
	hw.AddTraceInfo(record.TraceInfo{
		GeneratorID: rw.cfg.GeneratorID,
		Version:     rw.cfg.ToolVersion,
		Comment:     rw.cfg.Comment,
	})
	hw.SetInitialPC(initialPC)

	if rw.cfg.ClearFeatures.Has(record.FeatureProcessIDPresent) {
		hw.ClearProcessID()
	}

	if rw.cfg.ClearFeatures.Has(record.FeatureRegStatePresent) {
		hw.SetInitialRegs(nil)
	} else {
		var initRegs []record.InstReg
		if err := rw.regs.WriteState(func(rg record.InstReg) error {
			initRegs = append(initRegs, rg)
			return nil
		}); err != nil {
			return err
		}
		hw.SetInitialRegs(initRegs)
	}

	switch rw.cfg.PTEMode {
	case PTEDumpAll:
		walks := make([]record.PageTableWalk, 0)
		for _, e := range rw.ptes.Live() {
			walks = append(walks, e.Walk)
		}
		sort.Slice(walks, func(i, j int) bool { return walks[i].VAddr < walks[j].VAddr })
		hw.SetInitialPTEs(walks)
	case PTEOnDemand:
		// Drop the copied header's PTE set; every live translation is
		// re-emitted inline at first use instead.
		hw.SetInitialPTEs(nil)
		rw.ptes.ClearUsed()
	}

	return w.FinalizeHeader()
}

// emit applies cb to instr and writes the result, including any on-demand
// PTEs the instruction's PC or memory accesses newly require (§4.7 mode 2,
// property 6: "no later than that instruction").
func (rw *Rewriter) emit(w *stream.Writer, instr *inst.Instruction, cb Callback) error {
	decision := Pass
	if cb != nil {
		decision = cb(instr)
	}
	if decision.Drop {
		return nil
	}
	target := instr
	if decision.Replace != nil {
		target = decision.Replace
	}
	target = rw.stripClearedFeatures(target)
	if rw.cfg.PTEMode == PTEOnDemand {
		if err := rw.emitPendingPTEs(w, target); err != nil {
			return err
		}
	}
	return writeInstruction(w, target)
}

// stripClearedFeatures returns instr with every field or collaborator record
// gated by a cleared feature bit removed, honoring §6.2's legality rule: once
// a bit is disabled, no emitted record may still require it. The input
// instruction is left untouched (the shadows keep observing the full source
// state); a copy is made only when something has to change.
func (rw *Rewriter) stripClearedFeatures(instr *inst.Instruction) *inst.Instruction {
	cleared := rw.cfg.ClearFeatures
	if cleared == 0 {
		return instr
	}
	out := *instr

	clearPA := cleared.Has(record.FeaturePhysicalAddressPresent)
	clearAttr := cleared.Has(record.FeatureDataAttributePresent)
	if (clearPA || clearAttr) && len(out.MemAccesses) > 0 {
		mem := make([]inst.MemAccess, len(out.MemAccesses))
		copy(mem, out.MemAccesses)
		for i := range mem {
			if clearPA {
				mem[i].Access.PAddr, mem[i].Access.PAddrValid = 0, false
			}
			if clearAttr {
				mem[i].Access.Attr, mem[i].Access.AttrValid = 0, false
			}
		}
		out.MemAccesses = mem
	}
	if clearPA && len(out.PCTargets) > 0 {
		pcs := make([]record.InstPCTarget, len(out.PCTargets))
		copy(pcs, out.PCTargets)
		for i := range pcs {
			pcs[i].PA, pcs[i].PAValid = 0, false
		}
		out.PCTargets = pcs
	}
	if cleared.Has(record.FeatureOperandValuePresent) {
		out.SourceOperands = stripOperandValues(out.SourceOperands)
		out.DestOperands = stripOperandValues(out.DestOperands)
		out.RegStates = stripOperandValues(out.RegStates)
	}
	if cleared.Has(record.FeatureEventPresent) {
		out.Events, out.EventPCTargets = nil, nil
	}
	if cleared.Has(record.FeatureMicroop) {
		out.MicroOps = nil
	}
	if cleared.Has(record.FeaturePTEEmbedded) {
		out.EmbeddedPTEs = nil
	}
	return &out
}

func stripOperandValues(ops []record.InstReg) []record.InstReg {
	if len(ops) == 0 {
		return ops
	}
	out := make([]record.InstReg, len(ops))
	copy(out, ops)
	for i := range out {
		out[i].Values = nil
	}
	return out
}

// emitPendingPTEs writes a PAGE_TABLE_WALK for every virtual page instr's
// PC or memory accesses touch that the shadow hasn't yet marked used, then
// marks each used. A page-crossing access may emit two.
func (rw *Rewriter) emitPendingPTEs(w *stream.Writer, instr *inst.Instruction) error {
	asid := instr.ASID
	sizes := rw.pageSizes()
	for _, addr := range rw.touchedAddrs(instr) {
		for _, sz := range sizes {
			key := shadow.KeyFor(asid, addr, sz)
			e, ok := rw.ptes.Lookup(asid, addr, []uint32{sz})
			if !ok || e.Used {
				continue
			}
			if err := w.Write(e.Walk); err != nil {
				return err
			}
			rw.ptes.MarkUsed(key)
		}
	}
	return nil
}

// pageSizes returns every page-size granularity seen so far, ascending, so
// on-demand PTE emission order is deterministic.
func (rw *Rewriter) pageSizes() []uint32 {
	sizes := make([]uint32, 0, len(rw.seenPageSizes))
	for sz := range rw.seenPageSizes {
		sizes = append(sizes, sz)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return sizes
}

func (rw *Rewriter) touchedAddrs(instr *inst.Instruction) []uint64 {
	addrs := []uint64{instr.PC()}
	for _, m := range instr.MemAccesses {
		addrs = append(addrs, m.Access.VAddr)
		if m.Access.Size > 0 {
			addrs = append(addrs, m.Access.VAddr+uint64(m.Access.Size)-1)
		}
	}
	return addrs
}

// observe updates the register, PTE, and PC shadows from instr, regardless
// of whether it ended up emitted (the shadow tracks true execution state,
// not the output stream).
func (rw *Rewriter) observe(instr *inst.Instruction) {
	for _, op := range instr.DestOperands {
		rw.regs.Update(op)
	}
	for _, st := range instr.RegStates {
		rw.regs.Update(st)
	}
	for _, pte := range instr.EmbeddedPTEs {
		rw.ptes.Update(instr.ASID, pte)
		rw.seenPageSizes[pte.PageSizeLog2] = true
	}
	rw.pc.Override(instr.PC())
	rw.pc.Advance(instr.OpcodeSize())
}

// writeInstruction writes instr's collaborator records in a canonical
// order (grouped by kind, as inst.Instruction itself groups them, per §4.5
// "orig_records... grouped by descriptor") followed by its terminating
// opcode record. Memory/bus access-content pairs are written adjacently
// since the wire format has no length prefix on *_CONTENT (§6.3) and the
// reader derives it from the immediately preceding *_ACCESS.
func writeInstruction(w *stream.Writer, instr *inst.Instruction) error {
	for _, r := range instr.SourceOperands {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	for _, r := range instr.DestOperands {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	for _, r := range instr.RegStates {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	for _, r := range instr.ReadyRegs {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	for _, m := range instr.MemAccesses {
		if err := w.Write(m.Access); err != nil {
			return err
		}
		if m.HasContent {
			if err := w.Write(m.Content); err != nil {
				return err
			}
		}
	}
	for _, b := range instr.BusAccesses {
		if err := w.Write(b.Access); err != nil {
			return err
		}
		if b.HasContent {
			if err := w.Write(b.Content); err != nil {
				return err
			}
		}
	}
	for _, p := range instr.PCTargets {
		if err := w.Write(p); err != nil {
			return err
		}
	}
	for _, u := range instr.MicroOps {
		if err := w.Write(u); err != nil {
			return err
		}
	}
	for _, e := range instr.Events {
		if err := w.Write(e); err != nil {
			return err
		}
	}
	for _, e := range instr.EventPCTargets {
		if err := w.Write(e); err != nil {
			return err
		}
	}
	for _, p := range instr.EmbeddedPTEs {
		if err := w.Write(p); err != nil {
			return err
		}
	}
	for _, c := range instr.Comments {
		if err := w.Write(c); err != nil {
			return err
		}
	}
	if pc, ok := instr.ForcedPCValue(); ok {
		if err := w.Write(record.ForcePC{PC: pc}); err != nil {
			return err
		}
	}
	switch instr.OpcodeSize() {
	case 2:
		return w.Write(record.InstOpcode16{Opcode: uint16(instr.Opcode()), PC: instr.PC()})
	default:
		return w.Write(record.InstOpcode32{Opcode: uint32(instr.Opcode()), PC: instr.PC()})
	}
}
