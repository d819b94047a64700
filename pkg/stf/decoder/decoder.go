// Package decoder is the thin cache + semantic query layer over pkg/stf/isa
// described in §4.6: one opcode's DecodeInfo is memoized at a time, since
// traces exhibit strong temporal locality (the same opcode word repeats
// across loop iterations).
package decoder

import (
	"errors"

	"github.com/sparcians/stf-tools/pkg/stf/isa"
)

// ErrInvalidInst is returned by Decode for an opcode the underlying table
// doesn't recognize; queries on the resulting Decoder still answer (with
// predicate defaults) rather than panicking, per §4.6's failure contract.
var ErrInvalidInst = errors.New("decoder: invalid instruction")

// Decoder is a single-opcode memoizing cache over isa.Decode32/Decode16.
type Decoder struct {
	lastOpcode uint64
	lastSize   int
	lastInfo   isa.Info
	lastErr    error
	valid      bool
}

// New returns a fresh Decoder with nothing cached.
func New() *Decoder { return &Decoder{} }

// Decode looks up opcode (size 2 or 4 bytes), reusing the cached Info if
// opcode and size match the previous call.
func (d *Decoder) Decode(opcode uint64, size int) (isa.Info, error) {
	if d.valid && d.lastOpcode == opcode && d.lastSize == size {
		return d.lastInfo, d.lastErr
	}
	var info isa.Info
	var err error
	switch size {
	case 2:
		info, err = isa.Decode16(uint16(opcode))
	case 4:
		info, err = isa.Decode32(uint32(opcode))
	default:
		err = ErrInvalidInst
	}
	if err != nil {
		err = ErrInvalidInst
	}
	d.lastOpcode, d.lastSize, d.lastInfo, d.lastErr, d.valid = opcode, size, info, err, true
	return info, err
}

// IsLoad reports whether opcode/size is a memory load. Returns false for an
// unrecognized opcode, per the predicate-default failure contract.
func (d *Decoder) IsLoad(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsLoad
}

// IsStore reports whether opcode/size is a memory store.
func (d *Decoder) IsStore(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsStore
}

// IsBranch reports whether opcode/size is any control-transfer instruction
// (conditional branch, JAL, or JALR).
func (d *Decoder) IsBranch(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && (info.IsBranch || info.IsJAL || info.IsJALR)
}

// IsConditional reports whether opcode/size is a conditional branch.
func (d *Decoder) IsConditional(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsConditional
}

// IsJAL reports whether opcode/size is JAL (or its compressed form).
func (d *Decoder) IsJAL(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsJAL
}

// IsJALR reports whether opcode/size is JALR.
func (d *Decoder) IsJALR(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsJALR
}

// IsAUIPC reports whether opcode/size is AUIPC.
func (d *Decoder) IsAUIPC(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsAUIPC
}

// IsLUI reports whether opcode/size is LUI.
func (d *Decoder) IsLUI(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsLUI
}

// IsExceptionReturn reports whether opcode/size is one of {uret,sret,mret}.
func (d *Decoder) IsExceptionReturn(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsExceptionReturn
}

// IsSyscall reports whether opcode/size is ecall (or an xcall variant).
func (d *Decoder) IsSyscall(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsSyscall
}

// IsLoadReserved reports whether opcode/size is lr.w/lr.d.
func (d *Decoder) IsLoadReserved(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsLoadReserved
}

// IsStoreConditional reports whether opcode/size is sc.w/sc.d.
func (d *Decoder) IsStoreConditional(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	return err == nil && info.IsStoreConditional
}

// Mnemonic returns the opcode's mnemonic, or "c.unimp" for an unrecognized
// opcode, matching the adapter's documented InvalidInst fallback.
func (d *Decoder) Mnemonic(opcode uint64, size int) string {
	info, err := d.Decode(opcode, size)
	if err != nil {
		return "c.unimp"
	}
	return info.Mnemonic
}

// Disassembly renders a minimal "mnemonic rd, rs1, rs2" string. It does not
// attempt ABI register names or pseudo-instruction collapsing; STF_DISASM
// back-end selection (§6.5) only changes this formatting layer, never core
// decode semantics.
func (d *Decoder) Disassembly(opcode uint64, size int) string {
	info, err := d.Decode(opcode, size)
	if err != nil {
		return "c.unimp"
	}
	s := info.Mnemonic
	if info.HasRd {
		s += regSuffix(info.Rd, true)
	}
	if info.HasRs1 {
		s += regSuffix(info.Rs1, false)
	}
	if info.HasRs2 {
		s += regSuffix(info.Rs2, false)
	}
	return s
}

func regSuffix(r uint8, first bool) string {
	sep := ", "
	if first {
		sep = " "
	}
	return sep + "x" + itoa(int(r))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Immediate returns the raw immediate field, zero-extended, for opcodes
// that carry one.
func (d *Decoder) Immediate(opcode uint64, size int) uint64 {
	info, err := d.Decode(opcode, size)
	if err != nil || !info.HasImmediate {
		return 0
	}
	return uint64(info.Immediate)
}

// SignedImmediate returns the sign-extended immediate field.
func (d *Decoder) SignedImmediate(opcode uint64, size int) int64 {
	info, err := d.Decode(opcode, size)
	if err != nil || !info.HasImmediate {
		return 0
	}
	return info.Immediate
}

// SourceRegisters returns the opcode's source register operands (rs1, rs2,
// in that order, omitting absent ones).
func (d *Decoder) SourceRegisters(opcode uint64, size int) []uint8 {
	info, err := d.Decode(opcode, size)
	if err != nil {
		return nil
	}
	var regs []uint8
	if info.HasRs1 {
		regs = append(regs, info.Rs1)
	}
	if info.HasRs2 {
		regs = append(regs, info.Rs2)
	}
	return regs
}

// DestRegisters returns the opcode's destination register operands.
func (d *Decoder) DestRegisters(opcode uint64, size int) []uint8 {
	info, err := d.Decode(opcode, size)
	if err != nil || !info.HasRd {
		return nil
	}
	return []uint8{info.Rd}
}

// IsMarkpoint reports whether opcode/size is one of the two tool-visible
// checkpoint encodings: `or`/`xor` writing to x0 with both sources equal
// (§4.6). These never execute as real no-ops in generated code, so their
// appearance in a trace is unambiguous tooling intent.
func (d *Decoder) IsMarkpoint(opcode uint64, size int) bool {
	info, err := d.Decode(opcode, size)
	if err != nil {
		return false
	}
	if info.Mnemonic != "or" && info.Mnemonic != "xor" {
		return false
	}
	return info.HasRd && info.Rd == 0 && info.HasRs1 && info.HasRs2 && info.Rs1 == info.Rs2
}
