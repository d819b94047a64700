// Package stream implements the record reader/writer (§4.4): a thin layer
// over pkg/stf/byteio, pkg/stf/record, and pkg/stf/header that exposes a
// lazy Next()-style record sequence with running counters, and a Writer
// that enforces header-before-body ordering.
package stream

import (
	"errors"
	"fmt"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/header"
	"github.com/sparcians/stf-tools/pkg/stf/record"
)

// ErrWriteAfterFinalize is returned when a caller attempts to write a
// header-class record after FinalizeHeader has run.
var ErrWriteAfterFinalize = errors.New("stream: header-class record written after finalize")

// Reader wraps a byteio.Reader plus the header already consumed from it,
// and exposes the body as a finite, non-restartable sequence of records.
type Reader struct {
	br     *byteio.Reader
	Params *header.TraceParameters

	NumRecordsRead uint64
	NumInstsRead   uint64

	pendingMemWords uint16
	pendingBusWords uint16
}

// Open opens path and reads its header, leaving the Reader positioned at
// the first body record.
func Open(path string) (*Reader, error) {
	br, err := byteio.OpenReader(path)
	if err != nil {
		return nil, err
	}
	tp, err := header.ReadHeader(br)
	if err != nil {
		br.Close()
		return nil, err
	}
	return &Reader{br: br, Params: tp}, nil
}

// NewReader wraps an already-open byteio.Reader whose header has not yet
// been consumed.
func NewReader(br *byteio.Reader) (*Reader, error) {
	tp, err := header.ReadHeader(br)
	if err != nil {
		return nil, err
	}
	return &Reader{br: br, Params: tp}, nil
}

// Close releases the underlying backing.
func (r *Reader) Close() error { return r.br.Close() }

// Next returns the next body record, or byteio.ErrEOF at clean end of
// stream. An opcode-class record's NumInstsRead increment happens after the
// record is returned, matching §4.4 ("after it is returned").
func (r *Reader) Next() (record.Record, error) {
	hints := record.Hints{
		Features:              r.Params.Features,
		MemContentWords:       r.pendingMemWords,
		BusMasterContentWords: r.pendingBusWords,
	}
	rec, err := record.Decode(r.br, hints)
	if err != nil {
		return nil, err
	}
	r.NumRecordsRead++

	switch v := rec.(type) {
	case record.InstMemAccess:
		r.pendingMemWords = v.ContentWords()
	case record.BusMasterAccess:
		r.pendingBusWords = v.ContentWords()
	}

	if rec.Descriptor().IsOpcode() {
		r.NumInstsRead++
	}
	return rec, nil
}

// Seek repositions the reader to the chunk covering instIndex, per §4.4
// ("only on chunked files"). It returns the instruction index the chunk
// actually starts at; the caller must discard records up to instIndex
// itself, since chunk boundaries don't generally land exactly on the
// requested index.
func (r *Reader) Seek(instIndex uint64) (uint64, error) {
	start, err := r.br.SeekChunk(instIndex)
	if err != nil {
		return 0, err
	}
	r.pendingMemWords = 0
	r.pendingBusWords = 0
	if start <= 1 {
		// The first chunk begins with the header bytes; consume them again
		// so Next yields body records, not header records.
		if _, err := header.ReadHeader(r.br); err != nil {
			return 0, err
		}
		r.NumInstsRead = 0
		return 1, nil
	}
	r.NumInstsRead = start - 1
	return start, nil
}

// Writer wraps a byteio.Writer plus header accumulation, enforcing that no
// header-class record is written once FinalizeHeader has run.
type Writer struct {
	bw  *byteio.Writer
	hw  *header.Writer
	idx uint64
}

// Create opens path for writing and returns a Writer ready for header
// setters.
func Create(path string, opts byteio.WriterOptions) (*Writer, error) {
	bw, err := byteio.OpenWriter(path, opts)
	if err != nil {
		return nil, err
	}
	return &Writer{bw: bw, hw: header.NewWriter(bw)}, nil
}

// NewWriter wraps an already-open byteio.Writer.
func NewWriter(bw *byteio.Writer) *Writer {
	return &Writer{bw: bw, hw: header.NewWriter(bw)}
}

// Header returns the header.Writer for setting header fields before
// FinalizeHeader.
func (w *Writer) Header() *header.Writer { return w.hw }

// FinalizeHeader flushes the header and transitions to body mode.
func (w *Writer) FinalizeHeader() error { return w.hw.FinalizeHeader() }

// Write writes one body record. It refuses header-class records once the
// header has been finalized (§4.4: "Refuses to write header-class records
// after finalizeHeader").
func (w *Writer) Write(rec record.Record) error {
	if w.hw.Finalized() && rec.Descriptor().IsHeader() {
		return fmt.Errorf("%w: %s", ErrWriteAfterFinalize, rec.Descriptor())
	}
	if !w.hw.Finalized() {
		return fmt.Errorf("%w: body record %s written before FinalizeHeader", header.ErrHeaderError, rec.Descriptor())
	}
	if err := record.Encode(w.bw, rec); err != nil {
		return err
	}
	if rec.Descriptor().IsOpcode() {
		w.idx++
		if err := w.bw.MarkInstructionBoundary(w.idx); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the underlying backing.
func (w *Writer) Close() error { return w.bw.Close() }

// Abort closes the underlying backing without committing: a writer opened
// over an existing path discards its temp file instead of renaming it into
// place. Rewriters call this on any error path so a partial output never
// replaces a good input (§6.6).
func (w *Writer) Abort() error { return w.bw.Abort() }
