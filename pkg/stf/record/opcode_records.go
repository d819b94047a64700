package record

import "github.com/sparcians/stf-tools/pkg/stf/byteio"

// InstOpcode16 is the INST_OPCODE16 record: a compressed (16-bit) RISC-V
// opcode, terminating the instruction. Per invariant 4, opcode_size is
// implied by the descriptor itself (2 for this kind, 4 for InstOpcode32);
// it is never stored on the wire.
type InstOpcode16 struct {
	Opcode uint16
	PC     uint64
}

func (InstOpcode16) Descriptor() Descriptor { return DescInstOpcode16 }

func (o InstOpcode16) encodeBody(w *byteio.Writer) error {
	if err := w.WriteU16(o.Opcode); err != nil {
		return err
	}
	return w.WriteU64(o.PC)
}

func decodeInstOpcode16(r *byteio.Reader, _ Hints) (Record, error) {
	op, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	pc, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	return InstOpcode16{PC: pc, Opcode: op}, nil
}

func init() { registerDecoder(DescInstOpcode16, decodeInstOpcode16) }

// InstOpcode32 is the INST_OPCODE32 record: a full-width (32-bit) RISC-V
// opcode, terminating the instruction.
type InstOpcode32 struct {
	Opcode uint32
	PC     uint64
}

func (InstOpcode32) Descriptor() Descriptor { return DescInstOpcode32 }

func (o InstOpcode32) encodeBody(w *byteio.Writer) error {
	if err := w.WriteU32(o.Opcode); err != nil {
		return err
	}
	return w.WriteU64(o.PC)
}

func decodeInstOpcode32(r *byteio.Reader, _ Hints) (Record, error) {
	op, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	pc, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	return InstOpcode32{PC: pc, Opcode: op}, nil
}

func init() { registerDecoder(DescInstOpcode32, decodeInstOpcode32) }

// OpcodeSize returns the instruction size in bytes implied by d (2 or 4),
// or 0 if d is not an opcode-terminator descriptor.
func (d Descriptor) OpcodeSize() int {
	switch d {
	case DescInstOpcode16:
		return 2
	case DescInstOpcode32:
		return 4
	}
	return 0
}
