package inst

import (
	"errors"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/decoder"
	"github.com/sparcians/stf-tools/pkg/stf/record"
	"github.com/sparcians/stf-tools/pkg/stf/stream"
)

// TracepointIterator yields only the instructions between a markpoint
// start and a markpoint stop (§4.6's or/xor-to-x0 checkpoint encoding),
// adapted from the original's region-iterator family: rather than an
// operator-overload wrapper around a random-access iterator, Next here
// just skips forward until it finds a start markpoint, then passes
// instructions through until it finds the matching stop markpoint.
type TracepointIterator struct {
	asm      *Assembler
	dec      *decoder.Decoder
	inRegion bool
}

// NewTracepointIterator wraps asm; dec recognizes markpoint opcodes.
func NewTracepointIterator(asm *Assembler, dec *decoder.Decoder) *TracepointIterator {
	return &TracepointIterator{asm: asm, dec: dec}
}

// Next returns the next in-region instruction, or byteio.ErrEOF.
func (t *TracepointIterator) Next() (*Instruction, error) {
	for {
		instr, err := t.asm.Next()
		if err != nil {
			return nil, err
		}
		isMarkpoint := t.dec.IsMarkpoint(instr.opcode, instr.opcodeSize)
		if !t.inRegion {
			if isMarkpoint {
				t.inRegion = true
			}
			continue
		}
		if isMarkpoint {
			t.inRegion = false
			continue
		}
		return instr, nil
	}
}

// MemoryAccessIterator yields only the INST_MEM_ACCESS (plus paired
// content, when present) records of a trace, without constructing full
// Instruction units: the way the original's region iterators let a tool
// walk just one collaborator dimension.
type MemoryAccessIterator struct {
	r       *stream.Reader
	pending *record.InstMemAccess
}

// NewMemoryAccessIterator wraps r.
func NewMemoryAccessIterator(r *stream.Reader) *MemoryAccessIterator {
	return &MemoryAccessIterator{r: r}
}

// Next returns the next memory access (with its content, if paired), or
// byteio.ErrEOF.
func (m *MemoryAccessIterator) Next() (MemAccess, error) {
	for {
		rec, err := m.r.Next()
		if err != nil {
			if errors.Is(err, byteio.ErrEOF) && m.pending != nil {
				out := MemAccess{Access: *m.pending}
				m.pending = nil
				return out, nil
			}
			return MemAccess{}, err
		}
		switch v := rec.(type) {
		case record.InstMemAccess:
			if m.pending != nil {
				prev := MemAccess{Access: *m.pending}
				access := v
				m.pending = &access
				return prev, nil
			}
			access := v
			m.pending = &access
		case record.InstMemContent:
			if m.pending != nil {
				out := MemAccess{Access: *m.pending, Content: v, HasContent: true}
				m.pending = nil
				return out, nil
			}
		default:
			if m.pending != nil {
				out := MemAccess{Access: *m.pending}
				m.pending = nil
				return out, nil
			}
		}
	}
}

// PageTableWalkIterator yields only the PAGE_TABLE_WALK records of a
// trace.
type PageTableWalkIterator struct {
	r *stream.Reader
}

// NewPageTableWalkIterator wraps r.
func NewPageTableWalkIterator(r *stream.Reader) *PageTableWalkIterator {
	return &PageTableWalkIterator{r: r}
}

// Next returns the next PAGE_TABLE_WALK record, or byteio.ErrEOF.
func (p *PageTableWalkIterator) Next() (record.PageTableWalk, error) {
	for {
		rec, err := p.r.Next()
		if err != nil {
			return record.PageTableWalk{}, err
		}
		if w, ok := rec.(record.PageTableWalk); ok {
			return w, nil
		}
	}
}
