package rewrite

import (
	"errors"
	"fmt"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/decoder"
	"github.com/sparcians/stf-tools/pkg/stf/inst"
	"github.com/sparcians/stf-tools/pkg/stf/stream"
)

// Source describes one span of one input trace for Merge: instructions
// [Start, End] (1-based, inclusive; End==0 means "through EOF"), repeated
// Repeat times (0 treated as 1).
type Source struct {
	Path   string
	Start  uint64
	End    uint64
	Repeat uint64
}

// Merge implements the §4.8 merge variant: concatenate the instructions
// named by an ordered list of Sources, across one or more input files, into
// a single output trace. If two consecutive entries name the same file with
// non-overlapping ranges, the reader is not reopened and the shadow state
// carries across the gap unbroken, per §4.8.
func (rw *Rewriter) Merge(sources []Source, outPath string, cb Callback) error {
	if len(sources) == 0 {
		return errors.New("rewrite: merge requires at least one source")
	}

	dec := decoder.New()

	var w *stream.Writer
	var r *stream.Reader
	var asm *inst.Assembler
	var curPath string
	var nextIdx uint64 // the instruction index the open reader will yield next

	committed := false
	defer func() {
		if r != nil {
			r.Close()
		}
		if w != nil && !committed {
			w.Abort()
		}
	}()

	for _, src := range sources {
		repeat := src.Repeat
		if repeat == 0 {
			repeat = 1
		}
		start := src.Start
		if start < 1 {
			start = 1
		}

		for rep := uint64(0); rep < repeat; rep++ {
			sameReaderContinues := rep == 0 && r != nil && curPath == src.Path && nextIdx <= start
			if !sameReaderContinues {
				if r != nil {
					r.Close()
				}
				var err error
				r, err = stream.Open(src.Path)
				if err != nil {
					return fmt.Errorf("rewrite: merge open %s: %w", src.Path, err)
				}
				asm = inst.NewAssembler(r, dec)
				asm.SetUserModeOnly(rw.cfg.UserOnly)
				curPath = src.Path
				nextIdx = 1
				rw.seedFromHeader(r.Params)
			}

			for nextIdx < start {
				instr, err := asm.Next()
				if err != nil {
					if errors.Is(err, byteio.ErrEOF) {
						break
					}
					return err
				}
				rw.observe(instr)
				nextIdx++
			}

			instr, err := asm.Next()
			if err != nil {
				if errors.Is(err, byteio.ErrEOF) {
					continue
				}
				return err
			}
			nextIdx++

			if w == nil {
				w, err = stream.Create(outPath, byteio.WriterOptions{
					ChunkSize:         rw.cfg.ChunkSize,
					OverwriteExisting: rw.cfg.OverwriteExisting,
				})
				if err != nil {
					return fmt.Errorf("rewrite: merge create %s: %w", outPath, err)
				}
				if err := rw.startOutput(r.Params, w, instr.PC()); err != nil {
					return err
				}
			}

			for instr != nil {
				if src.End != 0 && instr.Index() > src.End {
					// Already read past the range; keep the shadows in step.
					rw.observe(instr)
					break
				}
				if err := rw.emit(w, instr, cb); err != nil {
					return err
				}
				rw.observe(instr)

				next, err := asm.Next()
				nextIdx++
				if err != nil {
					if errors.Is(err, byteio.ErrEOF) {
						break
					}
					return err
				}
				instr = next
			}
		}
	}

	if w == nil {
		return errors.New("rewrite: merge produced no output instructions")
	}
	if err := w.Close(); err != nil {
		return err
	}
	committed = true
	return nil
}
