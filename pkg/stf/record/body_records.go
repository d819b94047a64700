package record

import "github.com/sparcians/stf-tools/pkg/stf/byteio"

// OperandType distinguishes the three roles an INST_REG record can describe.
type OperandType uint8

// The three recognized operand roles.
const (
	OperandSource OperandType = iota
	OperandDest
	OperandState
)

// RegID packs register class and number the way the wire format does: the
// low byte is the architectural number, the high byte the class (GPR, FPR,
// vector, CSR). Kept opaque here; pkg/stf/inst interprets it.
type RegID uint16

// InstReg is the INST_REG record: one source, dest, or state register
// reference, with its value(s) if operand_value_present is set. Vector
// registers carry more than one u64 value; scalar registers carry exactly
// one, or zero if the feature bit is clear.
type InstReg struct {
	Type   OperandType
	Reg    RegID
	Values []uint64
}

func (InstReg) Descriptor() Descriptor { return DescInstReg }

func (rg InstReg) encodeBody(w *byteio.Writer) error {
	if err := w.WriteByte(byte(rg.Type)); err != nil {
		return err
	}
	if err := w.WriteU16(uint16(rg.Reg)); err != nil {
		return err
	}
	if err := w.WriteU16(uint16(len(rg.Values))); err != nil {
		return err
	}
	for _, v := range rg.Values {
		if err := w.WriteU64(v); err != nil {
			return err
		}
	}
	return nil
}

func decodeInstReg(r *byteio.Reader, _ Hints) (Record, error) {
	t, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	reg, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	n, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	var values []uint64
	if n > 0 {
		values = make([]uint64, n)
	}
	for i := range values {
		v, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return InstReg{Type: OperandType(t), Reg: RegID(reg), Values: values}, nil
}

func init() { registerDecoder(DescInstReg, decodeInstReg) }

// InstReadyReg marks a destination register as ready (its producing
// instruction has retired), for dependency tracking. Unlike InstReg its
// payload is just the register id; readiness carries no value of its own.
type InstReadyReg struct {
	Reg RegID
}

func (InstReadyReg) Descriptor() Descriptor { return DescInstReadyReg }

func (rg InstReadyReg) encodeBody(w *byteio.Writer) error {
	return w.WriteU16(uint16(rg.Reg))
}

func decodeInstReadyReg(r *byteio.Reader, _ Hints) (Record, error) {
	reg, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	return InstReadyReg{Reg: RegID(reg)}, nil
}

func init() { registerDecoder(DescInstReadyReg, decodeInstReadyReg) }

// MemAccessType distinguishes a load from a store.
type MemAccessType uint8

// The two recognized memory access directions.
const (
	MemAccessRead MemAccessType = iota
	MemAccessWrite
)

// InstMemAccess is the INST_MEM_ACCESS record: the virtual address and size
// of a memory operand, plus optional physical address and data attribute
// fields gated by the trace's feature bitmap (§6.2, §6.3). A paired
// INST_MEM_CONTENT record, when present, carries the data itself; decoding
// it requires the size recorded here, threaded through via Hints by the
// stream layer rather than re-encoded on the content record.
type InstMemAccess struct {
	VAddr       uint64
	PAddr       uint64
	PAddrValid  bool
	Size        uint16
	Attr        uint8
	AttrValid   bool
	Type        MemAccessType
}

func (InstMemAccess) Descriptor() Descriptor { return DescInstMemAccess }

func (m InstMemAccess) encodeBody(w *byteio.Writer) error {
	if err := w.WriteU64(m.VAddr); err != nil {
		return err
	}
	if m.PAddrValid {
		if err := w.WriteU64(m.PAddr); err != nil {
			return err
		}
	}
	if err := w.WriteU16(m.Size); err != nil {
		return err
	}
	if m.AttrValid {
		if err := w.WriteByte(m.Attr); err != nil {
			return err
		}
	}
	return w.WriteByte(byte(m.Type))
}

func decodeInstMemAccess(r *byteio.Reader, hints Hints) (Record, error) {
	vaddr, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	m := InstMemAccess{VAddr: vaddr}
	if hints.Features.Has(FeaturePhysicalAddressPresent) {
		paddr, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		m.PAddr = paddr
		m.PAddrValid = true
	}
	size, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	m.Size = size
	if hints.Features.Has(FeatureDataAttributePresent) {
		attr, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		m.Attr = attr
		m.AttrValid = true
	}
	typ, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	m.Type = MemAccessType(typ)
	return m, nil
}

func init() { registerDecoder(DescInstMemAccess, decodeInstMemAccess) }

// ContentWords returns the number of u64 words an INST_MEM_CONTENT paired
// with this access carries: ceil(size/8).
func (m InstMemAccess) ContentWords() uint16 {
	return uint16((m.Size + 7) / 8)
}

// InstMemContent is the INST_MEM_CONTENT record: the raw data word(s) for
// the immediately preceding INST_MEM_ACCESS. Its length isn't self-describing
// on the wire (§6.3); the reader must supply it via Hints.MemContentWords,
// computed from that access's size.
type InstMemContent struct {
	Values []uint64
}

func (InstMemContent) Descriptor() Descriptor { return DescInstMemContent }

func (c InstMemContent) encodeBody(w *byteio.Writer) error {
	for _, v := range c.Values {
		if err := w.WriteU64(v); err != nil {
			return err
		}
	}
	return nil
}

func decodeInstMemContent(r *byteio.Reader, hints Hints) (Record, error) {
	values := make([]uint64, hints.MemContentWords)
	for i := range values {
		v, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return InstMemContent{Values: values}, nil
}

func init() { registerDecoder(DescInstMemContent, decodeInstMemContent) }

// InstPCTarget is the INST_PC_TARGET record: the resolved target PC of a
// change-of-flow instruction, plus an optional target physical address.
type InstPCTarget struct {
	PC         uint64
	PA         uint64
	PAValid    bool
}

func (InstPCTarget) Descriptor() Descriptor { return DescInstPCTarget }

func (t InstPCTarget) encodeBody(w *byteio.Writer) error {
	if err := w.WriteU64(t.PC); err != nil {
		return err
	}
	if t.PAValid {
		return w.WriteU64(t.PA)
	}
	return nil
}

func decodeInstPCTarget(r *byteio.Reader, hints Hints) (Record, error) {
	pc, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	t := InstPCTarget{PC: pc}
	if hints.Features.Has(FeaturePhysicalAddressPresent) {
		pa, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		t.PA = pa
		t.PAValid = true
	}
	return t, nil
}

func init() { registerDecoder(DescInstPCTarget, decodeInstPCTarget) }

// InstMicroOp is the microop encoding carried by INST_MICROOP, present only
// when the microop feature bit is set (§6.2).
type InstMicroOp struct {
	Size uint8
	Data []byte
}

func (InstMicroOp) Descriptor() Descriptor { return DescInstMicroOp }

func (m InstMicroOp) encodeBody(w *byteio.Writer) error {
	if err := w.WriteByte(m.Size); err != nil {
		return err
	}
	return w.WriteBytes(m.Data)
}

func decodeInstMicroOp(r *byteio.Reader, _ Hints) (Record, error) {
	size, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	data := make([]byte, size)
	if err := r.ReadFull(data); err != nil {
		return nil, err
	}
	return InstMicroOp{Size: size, Data: data}, nil
}

func init() { registerDecoder(DescInstMicroOp, decodeInstMicroOp) }

// Event is the EVENT record: an exception, interrupt, or syscall marker with
// a variable-length data payload (e.g. cause and value for an exception,
// syscall number and arguments for a syscall).
type Event struct {
	EventType uint32
	Data      []uint64
}

func (Event) Descriptor() Descriptor { return DescEvent }

func (e Event) encodeBody(w *byteio.Writer) error {
	if err := w.WriteU32(e.EventType); err != nil {
		return err
	}
	if err := w.WriteU16(uint16(len(e.Data))); err != nil {
		return err
	}
	for _, v := range e.Data {
		if err := w.WriteU64(v); err != nil {
			return err
		}
	}
	return nil
}

func decodeEvent(r *byteio.Reader, _ Hints) (Record, error) {
	typ, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	n, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	var data []uint64
	if n > 0 {
		data = make([]uint64, n)
	}
	for i := range data {
		v, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		data[i] = v
	}
	return Event{EventType: typ, Data: data}, nil
}

func init() { registerDecoder(DescEvent, decodeEvent) }

// EventPCTarget is the EVENT_PC_TARGET record: the PC an EVENT transfers
// control to (e.g. a trap handler entry point).
type EventPCTarget struct {
	PC uint64
}

func (EventPCTarget) Descriptor() Descriptor { return DescEventPCTarget }

func (t EventPCTarget) encodeBody(w *byteio.Writer) error {
	return w.WriteU64(t.PC)
}

func decodeEventPCTarget(r *byteio.Reader, _ Hints) (Record, error) {
	pc, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	return EventPCTarget{PC: pc}, nil
}

func init() { registerDecoder(DescEventPCTarget, decodeEventPCTarget) }

// PageTableWalk is the PAGE_TABLE_WALK record: the full walk that resolved
// va to pa, embedded in the trace when pte_embedded is set so a reader can
// reconstruct translations without a separate memory image (§6.2,
// SUPPLEMENTED FEATURES: page table shadow). Entries run root-to-leaf, one
// raw PTE value per level actually walked.
type PageTableWalk struct {
	VAddr         uint64
	PAddr         uint64
	PageSizeLog2  uint32
	FirstUseIndex uint64
	Entries       []uint64
}

func (PageTableWalk) Descriptor() Descriptor { return DescPageTableWalk }

func (p PageTableWalk) encodeBody(w *byteio.Writer) error {
	if err := w.WriteU64(p.VAddr); err != nil {
		return err
	}
	if err := w.WriteU64(p.PAddr); err != nil {
		return err
	}
	if err := w.WriteU32(p.PageSizeLog2); err != nil {
		return err
	}
	if err := w.WriteU64(p.FirstUseIndex); err != nil {
		return err
	}
	if err := w.WriteU16(uint16(len(p.Entries))); err != nil {
		return err
	}
	for _, e := range p.Entries {
		if err := w.WriteU64(e); err != nil {
			return err
		}
	}
	return nil
}

func decodePageTableWalk(r *byteio.Reader, _ Hints) (Record, error) {
	vaddr, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	paddr, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	pageSizeLog2, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	firstUse, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	n, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	entries := make([]uint64, n)
	for i := range entries {
		v, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		entries[i] = v
	}
	return PageTableWalk{
		VAddr: vaddr, PAddr: paddr, PageSizeLog2: pageSizeLog2,
		FirstUseIndex: firstUse, Entries: entries,
	}, nil
}

func init() { registerDecoder(DescPageTableWalk, decodePageTableWalk) }

// BusMasterAccess is the BUS_MASTER_ACCESS record: a DMA-style access issued
// by a bus master other than the traced core, present only on traces that
// model coherent device traffic.
type BusMasterAccess struct {
	Addr uint64
	Size uint16
	Type MemAccessType
}

func (BusMasterAccess) Descriptor() Descriptor { return DescBusMasterAccess }

func (b BusMasterAccess) encodeBody(w *byteio.Writer) error {
	if err := w.WriteU64(b.Addr); err != nil {
		return err
	}
	if err := w.WriteU16(b.Size); err != nil {
		return err
	}
	return w.WriteByte(byte(b.Type))
}

func decodeBusMasterAccess(r *byteio.Reader, _ Hints) (Record, error) {
	addr, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	size, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	typ, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	return BusMasterAccess{Addr: addr, Size: size, Type: MemAccessType(typ)}, nil
}

func init() { registerDecoder(DescBusMasterAccess, decodeBusMasterAccess) }

// ContentWords returns the number of u64 words a paired BUS_MASTER_CONTENT
// carries: ceil(size/8).
func (b BusMasterAccess) ContentWords() uint16 {
	return uint16((b.Size + 7) / 8)
}

// BusMasterContent is the BUS_MASTER_CONTENT record, paired with the
// preceding BUS_MASTER_ACCESS the same way INST_MEM_CONTENT pairs with
// INST_MEM_ACCESS; its word count is likewise supplied via Hints.
type BusMasterContent struct {
	Values []uint64
}

func (BusMasterContent) Descriptor() Descriptor { return DescBusMasterContent }

func (c BusMasterContent) encodeBody(w *byteio.Writer) error {
	for _, v := range c.Values {
		if err := w.WriteU64(v); err != nil {
			return err
		}
	}
	return nil
}

func decodeBusMasterContent(r *byteio.Reader, hints Hints) (Record, error) {
	values := make([]uint64, hints.BusMasterContentWords)
	for i := range values {
		v, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return BusMasterContent{Values: values}, nil
}

func init() { registerDecoder(DescBusMasterContent, decodeBusMasterContent) }
