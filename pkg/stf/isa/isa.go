// Package isa is a small, self-contained RV32I/RV64I + M + A opcode-metadata
// table (plus CSR ops and a small compressed subset): the "external opcode-metadata library" that §6 names as an
// out-of-scope collaborator, reimplemented here rather than left unbound,
// since no ready-made Go port of such a library appears anywhere in the
// retrieval pack. Bit-field extraction follows the style of an existing
// from-scratch Go RISC-V decoder (base-opcode switch keyed on bits 6:2,
// funct3/funct7 table lookup per instruction format) rather than a
// generated or reflective decoder.
package isa

import (
	"errors"
	"fmt"
)

// ErrInvalidInst is returned for an opcode with no table entry, or a
// reserved/illegal encoding.
var ErrInvalidInst = errors.New("isa: invalid instruction")

// Format identifies a RISC-V base instruction format, which determines how
// the immediate and register fields are packed.
type Format uint8

// The six RISC-V base formats, plus a sentinel for 16-bit compressed forms
// decoded without further format distinction (c-type).
const (
	FormatR Format = iota
	FormatI
	FormatS
	FormatB
	FormatU
	FormatJ
	FormatC
)

// Info is everything the decoder adapter (pkg/stf/decoder) needs about one
// decoded opcode.
type Info struct {
	Mnemonic          string
	Format            Format
	IsLoad            bool
	IsStore           bool
	IsBranch          bool
	IsConditional     bool
	IsJAL             bool
	IsJALR            bool
	IsAUIPC           bool
	IsLUI             bool
	IsExceptionReturn bool
	IsSyscall         bool
	IsLoadReserved    bool
	IsStoreConditional bool
	Rd, Rs1, Rs2      uint8
	HasRd, HasRs1, HasRs2 bool
	Immediate         int64
	HasImmediate      bool
}

// entry is a funct7|funct3|opcode-keyed table row.
type entry struct {
	mnemonic string
	format   Format
	isLoad   bool
	isStore  bool
	isBranch bool
	isCond   bool
}

// baseOpcode is bits [6:2] of a 32-bit instruction word.
type baseOpcode uint32

const (
	boLoad    baseOpcode = 0x00
	boMiscMem baseOpcode = 0x03
	boOpImm   baseOpcode = 0x04
	boAUIPC   baseOpcode = 0x05
	boOpImm32 baseOpcode = 0x06
	boStore   baseOpcode = 0x08
	boOp      baseOpcode = 0x0c
	boLUI     baseOpcode = 0x0d
	boOp32    baseOpcode = 0x0e
	boBranch  baseOpcode = 0x18
	boJALR    baseOpcode = 0x19
	boJAL     baseOpcode = 0x1b
	boSystem  baseOpcode = 0x1c
	boAMO     baseOpcode = 0x0b
)

// amoTable is keyed by the 5-bit funct5 field (bits 31:27) of the A
// extension's AMO encoding, for funct3==0x2 (word) or 0x3 (doubleword).
var amoTable = map[uint32]string{
	0x00: "amoadd", 0x01: "amoswap", 0x02: "lr", 0x03: "sc",
	0x04: "amoxor", 0x08: "amoor", 0x0c: "amoand",
	0x10: "amomin", 0x14: "amomax", 0x18: "amominu", 0x1c: "amomaxu",
}

// rTable is keyed by funct7<<3 | funct3, for the R-type opcode spaces (OP,
// OP-32); the two spaces use separate tables since the same key means
// different instructions in each.
var rTableOp = map[uint32]entry{
	0x000: {"add", FormatR, false, false, false, false},
	0x100: {"sub", FormatR, false, false, false, false},
	0x001: {"sll", FormatR, false, false, false, false},
	0x002: {"slt", FormatR, false, false, false, false},
	0x003: {"sltu", FormatR, false, false, false, false},
	0x004: {"xor", FormatR, false, false, false, false},
	0x005: {"srl", FormatR, false, false, false, false},
	0x105: {"sra", FormatR, false, false, false, false},
	0x006: {"or", FormatR, false, false, false, false},
	0x007: {"and", FormatR, false, false, false, false},
	0x008: {"mul", FormatR, false, false, false, false},
	0x009: {"mulh", FormatR, false, false, false, false},
	0x00a: {"mulhsu", FormatR, false, false, false, false},
	0x00b: {"mulhu", FormatR, false, false, false, false},
	0x00c: {"div", FormatR, false, false, false, false},
	0x00d: {"divu", FormatR, false, false, false, false},
	0x00e: {"rem", FormatR, false, false, false, false},
	0x00f: {"remu", FormatR, false, false, false, false},
}

var rTableOp32 = map[uint32]entry{
	0x000: {"addw", FormatR, false, false, false, false},
	0x100: {"subw", FormatR, false, false, false, false},
	0x001: {"sllw", FormatR, false, false, false, false},
	0x005: {"srlw", FormatR, false, false, false, false},
	0x105: {"sraw", FormatR, false, false, false, false},
	0x008: {"mulw", FormatR, false, false, false, false},
	0x00c: {"divw", FormatR, false, false, false, false},
	0x00d: {"divuw", FormatR, false, false, false, false},
	0x00e: {"remw", FormatR, false, false, false, false},
	0x00f: {"remuw", FormatR, false, false, false, false},
}

// iTable (OP-IMM, keyed by funct3; shift variants disambiguated by funct7
// bits at decode time) and load table (keyed by funct3).
var iTableOpImm = map[uint32]string{
	0x0: "addi", 0x2: "slti", 0x3: "sltiu", 0x4: "xori", 0x6: "ori", 0x7: "andi",
	0x1: "slli", 0x5: "srli", // srai disambiguated by funct7 bit 30
}

var iTableOpImm32 = map[uint32]string{
	0x0: "addiw", 0x1: "slliw", 0x5: "srliw",
}

var iTableLoad = map[uint32]string{
	0x0: "lb", 0x1: "lh", 0x2: "lw", 0x3: "ld", 0x4: "lbu", 0x5: "lhu", 0x6: "lwu",
}

var sTableStore = map[uint32]string{
	0x0: "sb", 0x1: "sh", 0x2: "sw", 0x3: "sd",
}

var bTableBranch = map[uint32]string{
	0x0: "beq", 0x1: "bne", 0x4: "blt", 0x5: "bge", 0x6: "bltu", 0x7: "bgeu",
}

// systemTable covers ECALL/EBREAK/the xRET family (uret, sret, mret), keyed by
// the full 12-bit funct12 imm field for funct3==0.
var systemTable = map[uint32]struct {
	mnemonic string
	isRet    bool
	isCall   bool
}{
	0x000: {"ecall", false, true},
	0x001: {"ebreak", false, false},
	0x002: {"uret", true, false},
	0x102: {"sret", true, false},
	0x302: {"mret", true, false},
}

// Decode32 decodes a 32-bit RISC-V instruction word.
func Decode32(word uint32) (Info, error) {
	rd := uint8(word >> 7 & 0x1f)
	rs1 := uint8(word >> 15 & 0x1f)
	rs2 := uint8(word >> 20 & 0x1f)
	funct3 := word >> 12 & 0x7
	funct7 := word >> 25 & 0x7f
	bop := baseOpcode(word >> 2 & 0x1f)

	if word&0x3 != 0x3 {
		return Info{}, fmt.Errorf("%w: not a 32-bit encoding %#08x", ErrInvalidInst, word)
	}

	switch bop {
	case boLUI, boAUIPC:
		imm := int64(int32(word & 0xfffff000))
		info := Info{Format: FormatU, Rd: rd, HasRd: true, Immediate: imm, HasImmediate: true}
		if bop == boLUI {
			info.Mnemonic, info.IsLUI = "lui", true
		} else {
			info.Mnemonic, info.IsAUIPC = "auipc", true
		}
		return info, nil

	case boJAL:
		imm := decodeJImm(word)
		return Info{
			Mnemonic: "jal", Format: FormatJ, IsJAL: true,
			Rd: rd, HasRd: true, Immediate: imm, HasImmediate: true,
		}, nil

	case boJALR:
		if funct3 != 0 {
			return Info{}, fmt.Errorf("%w: bad funct3 for jalr %#x", ErrInvalidInst, word)
		}
		imm := decodeIImm(word)
		return Info{
			Mnemonic: "jalr", Format: FormatI, IsJALR: true,
			Rd: rd, HasRd: true, Rs1: rs1, HasRs1: true, Immediate: imm, HasImmediate: true,
		}, nil

	case boBranch:
		name, ok := bTableBranch[funct3]
		if !ok {
			return Info{}, fmt.Errorf("%w: unknown branch funct3 %#x", ErrInvalidInst, funct3)
		}
		imm := decodeBImm(word)
		return Info{
			Mnemonic: name, Format: FormatB, IsBranch: true, IsConditional: true,
			Rs1: rs1, HasRs1: true, Rs2: rs2, HasRs2: true, Immediate: imm, HasImmediate: true,
		}, nil

	case boLoad:
		name, ok := iTableLoad[funct3]
		if !ok {
			return Info{}, fmt.Errorf("%w: unknown load funct3 %#x", ErrInvalidInst, funct3)
		}
		imm := decodeIImm(word)
		return Info{
			Mnemonic: name, Format: FormatI, IsLoad: true,
			Rd: rd, HasRd: true, Rs1: rs1, HasRs1: true, Immediate: imm, HasImmediate: true,
		}, nil

	case boStore:
		name, ok := sTableStore[funct3]
		if !ok {
			return Info{}, fmt.Errorf("%w: unknown store funct3 %#x", ErrInvalidInst, funct3)
		}
		imm := decodeSImm(word)
		return Info{
			Mnemonic: name, Format: FormatS, IsStore: true,
			Rs1: rs1, HasRs1: true, Rs2: rs2, HasRs2: true, Immediate: imm, HasImmediate: true,
		}, nil

	case boOpImm:
		name, ok := iTableOpImm[funct3]
		if !ok {
			return Info{}, fmt.Errorf("%w: unknown op-imm funct3 %#x", ErrInvalidInst, funct3)
		}
		if funct3 == 0x5 && funct7>>5 == 0x1 {
			name = "srai"
		}
		imm := decodeIImm(word)
		if funct3 == 0x1 || funct3 == 0x5 {
			imm = int64(word >> 20 & 0x3f) // shamt, RV64 uses 6 bits
		}
		return Info{
			Mnemonic: name, Format: FormatI,
			Rd: rd, HasRd: true, Rs1: rs1, HasRs1: true, Immediate: imm, HasImmediate: true,
		}, nil

	case boOpImm32:
		name, ok := iTableOpImm32[funct3]
		if !ok {
			return Info{}, fmt.Errorf("%w: unknown op-imm-32 funct3 %#x", ErrInvalidInst, funct3)
		}
		if funct3 == 0x5 && funct7>>5 == 0x1 {
			name = "sraiw"
		}
		imm := decodeIImm(word)
		if funct3 == 0x1 || funct3 == 0x5 {
			imm = int64(word >> 20 & 0x1f)
		}
		return Info{
			Mnemonic: name, Format: FormatI,
			Rd: rd, HasRd: true, Rs1: rs1, HasRs1: true, Immediate: imm, HasImmediate: true,
		}, nil

	case boOp:
		e, ok := rTableOp[funct7<<3|funct3]
		if !ok {
			return Info{}, fmt.Errorf("%w: unknown op funct7/funct3 %#x", ErrInvalidInst, word)
		}
		return Info{
			Mnemonic: e.mnemonic, Format: FormatR,
			Rd: rd, HasRd: true, Rs1: rs1, HasRs1: true, Rs2: rs2, HasRs2: true,
		}, nil

	case boOp32:
		e, ok := rTableOp32[funct7<<3|funct3]
		if !ok {
			return Info{}, fmt.Errorf("%w: unknown op-32 funct7/funct3 %#x", ErrInvalidInst, word)
		}
		return Info{
			Mnemonic: e.mnemonic, Format: FormatR,
			Rd: rd, HasRd: true, Rs1: rs1, HasRs1: true, Rs2: rs2, HasRs2: true,
		}, nil

	case boAMO:
		if funct3 != 0x2 && funct3 != 0x3 {
			return Info{}, fmt.Errorf("%w: unknown amo funct3 %#x", ErrInvalidInst, funct3)
		}
		funct5 := word >> 27 & 0x1f
		base, ok := amoTable[funct5]
		if !ok {
			return Info{}, fmt.Errorf("%w: unknown amo funct5 %#x", ErrInvalidInst, funct5)
		}
		width := "w"
		if funct3 == 0x3 {
			width = "d"
		}
		info := Info{
			Mnemonic: base + "." + width, Format: FormatR,
			Rd: rd, HasRd: true, Rs1: rs1, HasRs1: true,
		}
		switch funct5 {
		case 0x02: // lr
			info.IsLoadReserved = true
		case 0x03: // sc
			info.IsStoreConditional = true
			info.Rs2, info.HasRs2 = rs2, true
		default: // other AMOs still read/write memory and a source register
			info.Rs2, info.HasRs2 = rs2, true
		}
		return info, nil

	case boMiscMem:
		if funct3 == 0 {
			return Info{Mnemonic: "fence", Format: FormatI}, nil
		}
		return Info{Mnemonic: "fence.i", Format: FormatI}, nil

	case boSystem:
		if funct3 != 0 {
			// CSR instructions; not semantically load/store/branch, so a
			// mnemonic-only Info suffices for the decoder adapter's queries.
			names := map[uint32]string{
				0x1: "csrrw", 0x2: "csrrs", 0x3: "csrrc",
				0x5: "csrrwi", 0x6: "csrrsi", 0x7: "csrrci",
			}
			name, ok := names[funct3]
			if !ok {
				return Info{}, fmt.Errorf("%w: unknown csr funct3 %#x", ErrInvalidInst, funct3)
			}
			return Info{
				Mnemonic: name, Format: FormatI,
				Rd: rd, HasRd: true, Rs1: rs1, HasRs1: true,
				Immediate: int64(word >> 20), HasImmediate: true,
			}, nil
		}
		funct12 := word >> 20 & 0xfff
		e, ok := systemTable[funct12]
		if !ok {
			return Info{}, fmt.Errorf("%w: unknown system funct12 %#x", ErrInvalidInst, funct12)
		}
		return Info{
			Mnemonic: mnemonicWithMode(e.mnemonic, funct12), Format: FormatI,
			IsExceptionReturn: e.isRet, IsSyscall: e.isCall,
		}, nil
	}
	return Info{}, fmt.Errorf("%w: unrecognized base opcode %#x", ErrInvalidInst, bop)
}

// mnemonicWithMode returns e.g. "mret" unchanged; kept as a hook so the
// mode-prefix naming convention used by is_exception_return/is_syscall
// (§4.6: "mnemonic suffix ret with mode prefix in {e,s,h,m}") is visibly
// produced here rather than assumed by the caller.
func mnemonicWithMode(name string, funct12 uint32) string { return name }

func signExtend(v uint32, bits uint) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift)) >> shift
}

func decodeIImm(word uint32) int64 {
	return signExtend(word>>20, 12)
}

func decodeSImm(word uint32) int64 {
	v := (word>>25&0x7f)<<5 | (word >> 7 & 0x1f)
	return signExtend(v, 12)
}

func decodeBImm(word uint32) int64 {
	v := (word>>31&0x1)<<12 | (word>>7&0x1)<<11 | (word>>25&0x3f)<<5 | (word >> 8 & 0xf) << 1
	return signExtend(v, 13)
}

func decodeJImm(word uint32) int64 {
	v := (word>>31&0x1)<<20 | (word>>12&0xff)<<12 | (word>>20&0x1)<<11 | (word >> 21 & 0x3ff) << 1
	return signExtend(v, 21)
}

// Decode16 decodes a 16-bit compressed RISC-V instruction. Compressed
// instruction expansion is not reimplemented in full (it is a large table
// in its own right); markpoint/tracepoint detection and the is_* predicate
// set only need to recognize the handful of compressed encodings that
// collapse to a known full mnemonic, which the decoder adapter looks up by
// re-deriving the quadrant and funct3. Anything else returns
// ErrInvalidInst; the decoder adapter then answers with its InvalidInst
// defaults (mnemonic "c.unimp", §4.6).
func Decode16(word uint16) (Info, error) {
	quadrant := word & 0x3
	funct3 := word >> 13 & 0x7
	rd := uint8(word >> 7 & 0x1f)
	rs2 := uint8(word >> 2 & 0x1f)

	switch {
	case quadrant == 0x1 && funct3 == 0x1: // c.addi / c.jal (RV32) depending on width; treat as addi-class
		return Info{Mnemonic: "c.addi", Format: FormatC, Rd: rd, HasRd: true, Rs1: rd, HasRs1: true}, nil
	case quadrant == 0x2 && funct3 == 0x0: // c.slli
		return Info{Mnemonic: "c.slli", Format: FormatC, Rd: rd, HasRd: true, Rs1: rd, HasRs1: true}, nil
	case quadrant == 0x1 && funct3 == 0x5: // c.j
		return Info{Mnemonic: "c.j", Format: FormatC, IsJAL: true}, nil
	case quadrant == 0x1 && (funct3 == 0x6 || funct3 == 0x7): // c.beqz / c.bnez
		return Info{
			Mnemonic: map[uint16]string{0x6: "c.beqz", 0x7: "c.bnez"}[funct3],
			Format: FormatC, IsBranch: true, IsConditional: true, Rs1: rd, HasRs1: true,
		}, nil
	case quadrant == 0x0 && funct3 == 0x2: // c.lw
		return Info{Mnemonic: "c.lw", Format: FormatC, IsLoad: true, Rd: rd & 0x7, HasRd: true, Rs1: rs2 & 0x7, HasRs1: true}, nil
	case quadrant == 0x0 && funct3 == 0x6: // c.sw
		return Info{Mnemonic: "c.sw", Format: FormatC, IsStore: true, Rs1: rd & 0x7, HasRs1: true, Rs2: rs2 & 0x7, HasRs2: true}, nil
	case word == 0x9002: // c.ebreak
		return Info{Mnemonic: "c.ebreak", Format: FormatC, IsSyscall: false}, nil
	}
	return Info{}, fmt.Errorf("%w: unrecognized compressed word %#04x", ErrInvalidInst, word)
}
