package record

import "github.com/sparcians/stf-tools/pkg/stf/byteio"

// ProcessIDExt is the PROCESS_ID_EXT record, identifying the process/thread
// an instruction stream belongs to. It may legally appear in the header
// even when the process_id_present feature bit is clear; the format
// accepts it silently and the validator flags the bit as stale (§9 Open
// Questions — mirrored from the source rather than "fixed").
type ProcessIDExt struct {
	HWTID uint32
	TGID  uint32
	TID   uint32
	ASID  uint32
}

func (ProcessIDExt) Descriptor() Descriptor { return DescProcessIDExt }

func (p ProcessIDExt) encodeBody(w *byteio.Writer) error {
	for _, v := range []uint32{p.HWTID, p.TGID, p.TID, p.ASID} {
		if err := w.WriteU32(v); err != nil {
			return err
		}
	}
	return nil
}

func decodeProcessIDExt(r *byteio.Reader, _ Hints) (Record, error) {
	vals := make([]uint32, 4)
	for i := range vals {
		v, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return ProcessIDExt{HWTID: vals[0], TGID: vals[1], TID: vals[2], ASID: vals[3]}, nil
}

func init() { registerDecoder(DescProcessIDExt, decodeProcessIDExt) }

// ForcePC is the FORCE_PC record. In the header it sets the initial PC; in
// the body it marks the next instruction as a change-of-flow with the given
// forced PC (§4.5).
type ForcePC struct {
	PC uint64
}

func (ForcePC) Descriptor() Descriptor { return DescForcePC }

func (f ForcePC) encodeBody(w *byteio.Writer) error {
	return w.WriteU64(f.PC)
}

func decodeForcePC(r *byteio.Reader, _ Hints) (Record, error) {
	pc, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	return ForcePC{PC: pc}, nil
}

func init() { registerDecoder(DescForcePC, decodeForcePC) }

// Comment is a free-form COMMENT record, buffered by the rewriter and
// replayed into whichever instruction or header follows.
type Comment struct {
	Text string
}

func (Comment) Descriptor() Descriptor { return DescComment }

func (c Comment) encodeBody(w *byteio.Writer) error {
	return w.WriteString(c.Text)
}

func decodeComment(r *byteio.Reader, _ Hints) (Record, error) {
	s, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return Comment{Text: s}, nil
}

func init() { registerDecoder(DescComment, decodeComment) }
