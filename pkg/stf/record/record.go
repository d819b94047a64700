// Package record implements the STF tagged-union binary codec: one
// Descriptor byte followed by a kind-specific body, with no per-record
// length (the format lacks forward skip — an unknown descriptor is a hard
// decode error, per spec §4.2). All multi-byte integers are little-endian.
//
// Each record kind is its own Go type implementing Record, the way the
// teacher's pkg/asm models one Go type per assembly instruction
// (InstructionADD, InstructionSW, ...) each with its own Encode method,
// generalized here to a decode half as well (§9 DESIGN NOTES: dispatch by
// matching on the tag, polymorphic helpers as variant-specific methods).
package record

import (
	"errors"
	"fmt"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
)

// Descriptor is the one-byte tag that prefixes every record.
type Descriptor uint8

// The full set of record descriptors, grouped per spec §3.3.
const (
	DescIdentifier Descriptor = iota + 1
	DescVersion
	DescISA
	DescInstIEM
	DescVlenConfig
	DescTraceInfo
	DescTraceInfoFeature
	DescEndHeader

	DescProcessIDExt
	DescForcePC
	DescComment

	DescInstReg
	DescInstReadyReg
	DescInstMemAccess
	DescInstMemContent
	DescInstPCTarget
	DescInstMicroOp
	DescEvent
	DescEventPCTarget
	DescPageTableWalk
	DescBusMasterAccess
	DescBusMasterContent

	DescInstOpcode16
	DescInstOpcode32
)

// String renders the descriptor's record-kind name, for logging/dumping.
func (d Descriptor) String() string {
	if s, ok := descriptorNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Descriptor(%d)", uint8(d))
}

var descriptorNames = map[Descriptor]string{
	DescIdentifier:        "IDENTIFIER",
	DescVersion:            "VERSION",
	DescISA:                "ISA",
	DescInstIEM:            "INST_IEM",
	DescVlenConfig:         "VLEN_CONFIG",
	DescTraceInfo:          "TRACE_INFO",
	DescTraceInfoFeature:   "TRACE_INFO_FEATURE",
	DescEndHeader:          "END_HEADER",
	DescProcessIDExt:       "PROCESS_ID_EXT",
	DescForcePC:            "FORCE_PC",
	DescComment:            "COMMENT",
	DescInstReg:            "INST_REG",
	DescInstReadyReg:       "INST_READY_REG",
	DescInstMemAccess:      "INST_MEM_ACCESS",
	DescInstMemContent:     "INST_MEM_CONTENT",
	DescInstPCTarget:       "INST_PC_TARGET",
	DescInstMicroOp:        "INST_MICROOP",
	DescEvent:              "EVENT",
	DescEventPCTarget:      "EVENT_PC_TARGET",
	DescPageTableWalk:      "PAGE_TABLE_WALK",
	DescBusMasterAccess:    "BUS_MASTER_ACCESS",
	DescBusMasterContent:   "BUS_MASTER_CONTENT",
	DescInstOpcode16:       "INST_OPCODE16",
	DescInstOpcode32:       "INST_OPCODE32",
}

// IsOpcode reports whether d is one of the two opcode-terminator kinds.
func (d Descriptor) IsOpcode() bool {
	return d == DescInstOpcode16 || d == DescInstOpcode32
}

// IsHeader reports whether d is one of the header-sequence kinds (§6.1).
func (d Descriptor) IsHeader() bool {
	switch d {
	case DescIdentifier, DescVersion, DescISA, DescInstIEM, DescVlenConfig,
		DescTraceInfo, DescTraceInfoFeature, DescEndHeader:
		return true
	}
	return false
}

// Features is the TRACE_INFO_FEATURE bitmap (§6.2). A handful of record
// bodies have fields that only exist when a given bit is set (e.g.
// INST_MEM_ACCESS's physical address), so decoding is parameterized by the
// Features in effect for the trace being read.
type Features uint64

// Recognized feature bits, per §6.2.
const (
	FeaturePhysicalAddressPresent  Features = 0x0001
	FeatureDataAttributePresent    Features = 0x0002
	FeatureOperandValuePresent     Features = 0x0004
	FeatureEventPresent            Features = 0x0008
	FeatureSyscallValuePresent     Features = 0x0010
	FeatureIntDivOperandValuePresent Features = 0x0040
	FeatureSampling                Features = 0x0080
	FeaturePTEEmbedded             Features = 0x0100
	FeatureSimpoint                Features = 0x0200
	FeatureProcessIDPresent        Features = 0x0400
	FeaturePTEOnly                 Features = 0x0800
	FeatureNeedsPostprocess        Features = 0x1000
	FeatureRegStatePresent         Features = 0x2000
	FeatureMicroop                 Features = 0x4000
	FeatureMultiThread             Features = 0x8000
	FeatureMultiCore               Features = 0x10000
	FeatureVec                     Features = 0x040000
	FeatureEvent64                 Features = 0x080000
	FeatureTransactions            Features = 0x100000
	FeatureRV64                    Features = 0x200000
)

// Has reports whether every bit in want is set in f.
func (f Features) Has(want Features) bool {
	return f&want == want
}

// togglableFeatures are the bits a rewriter may legally clear, per §6.2
// ("Disabling a bit via the rewriter is legal iff no record requiring that
// bit will be emitted downstream"). All bits that gate an optional,
// droppable record are toggleable; bits that describe immutable trace
// provenance (sampling, simpoint, rv64) are not.
var togglableFeatures = []Features{
	FeaturePhysicalAddressPresent,
	FeatureDataAttributePresent,
	FeatureOperandValuePresent,
	FeatureEventPresent,
	FeatureSyscallValuePresent,
	FeatureIntDivOperandValuePresent,
	FeaturePTEEmbedded,
	FeatureProcessIDPresent,
	FeatureRegStatePresent,
	FeatureMicroop,
}

// Toggleable reports whether bit is one the rewriter is allowed to clear.
func Toggleable(bit Features) bool {
	for _, b := range togglableFeatures {
		if b == bit {
			return true
		}
	}
	return false
}

// Record is implemented by every record kind. Each kind owns its own
// serialize/deserialize logic; there is no reflection and no shared base
// type (§4.2, §9 DESIGN NOTES).
type Record interface {
	// Descriptor returns the one-byte tag identifying this record's kind.
	Descriptor() Descriptor
	// encodeBody writes the body (not the descriptor byte) to w.
	encodeBody(w *byteio.Writer) error
}

// Encode writes the descriptor byte followed by r's body.
func Encode(w *byteio.Writer, r Record) error {
	if err := w.WriteByte(byte(r.Descriptor())); err != nil {
		return err
	}
	return r.encodeBody(w)
}

// Hints carries the small amount of context that a few record bodies need
// beyond their own bytes: the feature bitmap (some fields are conditional on
// it) and, for the two *_CONTENT kinds, the word count implied by the most
// recently decoded paired *_ACCESS record's size field. The wire format
// itself carries no length field for *_CONTENT (§6.3); the caller (the
// record reader/stream layer, which already tracks the preceding access) is
// responsible for filling in the word count.
type Hints struct {
	Features             Features
	MemContentWords      uint16
	BusMasterContentWords uint16
}

// Decode reads one descriptor byte and dispatches to the kind-specific
// decoder. It returns byteio.ErrEOF unmodified when the descriptor byte
// itself can't be read (clean end of stream); a truncated body is
// ErrCorruptStream.
func Decode(r *byteio.Reader, hints Hints) (Record, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	d := Descriptor(b)
	decode, ok := decoders[d]
	if !ok {
		return nil, fmt.Errorf("%w: unknown descriptor %d", byteio.ErrCorruptStream, b)
	}
	rec, err := decode(r, hints)
	if err != nil {
		if errors.Is(err, byteio.ErrEOF) {
			return nil, fmt.Errorf("%w: truncated %s body", byteio.ErrCorruptStream, d)
		}
		return nil, err
	}
	return rec, nil
}

type decodeFunc func(r *byteio.Reader, hints Hints) (Record, error)

var decoders map[Descriptor]decodeFunc

func registerDecoder(d Descriptor, fn decodeFunc) {
	if decoders == nil {
		decoders = make(map[Descriptor]decodeFunc)
	}
	decoders[d] = fn
}
