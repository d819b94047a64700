package stream

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/record"
)

func buildSample(t *testing.T) []byte {
	t.Helper()
	w, mb := byteio.NewBufferWriter()
	sw := NewWriter(w)
	sw.Header().SetIEM(record.IEMRV64)
	sw.Header().SetInitialPC(0x1000)
	sw.Header().AddTraceInfo(record.TraceInfo{GeneratorID: 1, Version: "1.0"})
	if err := sw.FinalizeHeader(); err != nil {
		t.Fatalf("FinalizeHeader: %v", err)
	}

	recs := []record.Record{
		record.InstReg{Type: record.OperandDest, Reg: 10, Values: []uint64{5}},
		record.InstMemAccess{VAddr: 0x2000, Size: 8, Type: record.MemAccessRead},
		record.InstMemContent{Values: []uint64{0xdeadbeef}},
		record.InstOpcode32{PC: 0x1000, Opcode: 0x00a50513},
		record.InstOpcode16{PC: 0x1004, Opcode: 0x4505},
	}
	for _, r := range recs {
		if err := sw.Write(r); err != nil {
			t.Fatalf("Write(%s): %v", r.Descriptor(), err)
		}
	}
	if err := sw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return mb.Bytes()
}

func TestReaderCountersAndMemContentHint(t *testing.T) {
	data := buildSample(t)
	r, err := NewReader(byteio.NewBufferReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	var gotOpcodes int
	var memContent record.InstMemContent
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		if mc, ok := rec.(record.InstMemContent); ok {
			memContent = mc
		}
		if rec.Descriptor().IsOpcode() {
			gotOpcodes++
		}
	}
	if gotOpcodes != 2 {
		t.Errorf("opcodes seen = %d, want 2", gotOpcodes)
	}
	if r.NumInstsRead != 2 {
		t.Errorf("NumInstsRead = %d, want 2", r.NumInstsRead)
	}
	if r.NumRecordsRead != 5 {
		t.Errorf("NumRecordsRead = %d, want 5", r.NumRecordsRead)
	}
	if len(memContent.Values) != 1 || memContent.Values[0] != 0xdeadbeef {
		t.Errorf("mem content decoded wrong using hinted word count: %+v", memContent)
	}
}

// writeChunkedTrace writes n 2-byte opcodes at pc 0x1000, 0x1002, ... into a
// compressed trace with the given chunk size.
func writeChunkedTrace(t *testing.T, path string, n int, chunkSize uint64) {
	t.Helper()
	w, err := Create(path, byteio.WriterOptions{ChunkSize: chunkSize})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Header().SetIEM(record.IEMRV64)
	w.Header().SetInitialPC(0x1000)
	w.Header().AddTraceInfo(record.TraceInfo{GeneratorID: 1, Version: "1.0"})
	if err := w.FinalizeHeader(); err != nil {
		t.Fatalf("FinalizeHeader: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(record.InstOpcode16{PC: 0x1000 + uint64(2*i), Opcode: 0x4505}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSeekRepositionsToCoveringChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.zstf")
	writeChunkedTrace(t, path, 25, 10)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	start, err := r.Seek(17)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if start != 11 {
		t.Fatalf("chunk start = %d, want 11", start)
	}
	// Discard whole instructions until the next record opens instruction 17.
	for r.NumInstsRead < 16 {
		if _, err := r.Next(); err != nil {
			t.Fatalf("Next while discarding: %v", err)
		}
	}
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	op, ok := rec.(record.InstOpcode16)
	if !ok {
		t.Fatalf("record after discard = %T, want InstOpcode16", rec)
	}
	if want := uint64(0x1000 + 2*16); op.PC != want {
		t.Errorf("PC = %#x, want %#x (instruction 17)", op.PC, want)
	}
}

func TestSeekIntoFirstChunkSkipsHeaderBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.zstf")
	writeChunkedTrace(t, path, 25, 10)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	start, err := r.Seek(3)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if start != 1 {
		t.Fatalf("chunk start = %d, want 1", start)
	}
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	op, ok := rec.(record.InstOpcode16)
	if !ok {
		t.Fatalf("record after seek = %T, want InstOpcode16 (header must be skipped)", rec)
	}
	if op.PC != 0x1000 {
		t.Errorf("PC = %#x, want 0x1000 (instruction 1)", op.PC)
	}
}

func TestSeekUnsupportedOnRawBacking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.stf")
	writeChunkedTrace(t, path, 3, 10)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if _, err := r.Seek(2); !errors.Is(err, byteio.ErrSeekUnsupported) {
		t.Fatalf("Seek on raw file = %v, want ErrSeekUnsupported", err)
	}
}

func TestWriterRefusesHeaderAfterFinalize(t *testing.T) {
	w, _ := byteio.NewBufferWriter()
	sw := NewWriter(w)
	sw.Header().AddTraceInfo(record.TraceInfo{GeneratorID: 1, Version: "1.0"})
	if err := sw.FinalizeHeader(); err != nil {
		t.Fatalf("FinalizeHeader: %v", err)
	}
	if err := sw.Write(record.ISA{Kind: record.ISARISCV}); err == nil {
		t.Fatal("expected error writing header-class record after finalize")
	}
}

func TestWriterRefusesBodyBeforeFinalize(t *testing.T) {
	w, _ := byteio.NewBufferWriter()
	sw := NewWriter(w)
	if err := sw.Write(record.InstOpcode16{PC: 0, Opcode: 0}); err == nil {
		t.Fatal("expected error writing body record before finalize")
	}
}
