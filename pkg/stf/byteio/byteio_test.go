package byteio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRawFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.stf")
	w, err := OpenWriter(path, WriterOptions{})
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := w.WriteU16(0x1234); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteU64(0xdeadbeefcafef00d); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteString("hello"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if v, err := r.ReadU16(); err != nil || v != 0x1234 {
		t.Errorf("ReadU16 = %#x, %v", v, err)
	}
	if v, err := r.ReadU64(); err != nil || v != 0xdeadbeefcafef00d {
		t.Errorf("ReadU64 = %#x, %v", v, err)
	}
	if s, err := r.ReadString(); err != nil || s != "hello" {
		t.Errorf("ReadString = %q, %v", s, err)
	}
	if _, err := r.ReadByte(); !errors.Is(err, ErrEOF) {
		t.Errorf("read past end = %v, want ErrEOF", err)
	}
	if _, err := r.SeekChunk(1); !errors.Is(err, ErrSeekUnsupported) {
		t.Errorf("SeekChunk on raw backing = %v, want ErrSeekUnsupported", err)
	}
}

// writeChunkedSample writes n fake "instructions" of 8 bytes each, marking an
// instruction boundary after every one, so the compressed backing cuts chunks
// per its threshold.
func writeChunkedSample(t *testing.T, path string, n int, chunkSize uint64) []byte {
	t.Helper()
	w, err := OpenWriter(path, WriterOptions{ChunkSize: chunkSize})
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	var all bytes.Buffer
	for i := 1; i <= n; i++ {
		if err := w.WriteU64(uint64(i)); err != nil {
			t.Fatal(err)
		}
		var buf [8]byte
		for b := 0; b < 8; b++ {
			buf[b] = byte(uint64(i) >> (8 * b))
		}
		all.Write(buf[:])
		if err := w.MarkInstructionBoundary(uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return all.Bytes()
}

func TestCompressedRoundTripAcrossChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.zstf")
	want := writeChunkedSample(t, path, 25, 10)

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	got := make([]byte, len(want))
	if err := r.ReadFull(got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("compressed round trip produced different bytes")
	}
	if _, err := r.ReadByte(); !errors.Is(err, ErrEOF) {
		t.Errorf("read past end = %v, want ErrEOF", err)
	}
}

func TestCompressedSeekChunkFindsCoveringChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.zstf")
	writeChunkedSample(t, path, 25, 10)

	r, err := OpenReaderWithOptions(path, ReaderOptions{NoThreads: true})
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	start, err := r.SeekChunk(17)
	if err != nil {
		t.Fatalf("SeekChunk: %v", err)
	}
	if start != 11 {
		t.Fatalf("chunk start = %d, want 11", start)
	}
	// The first u64 in the chunk is instruction 11's payload.
	v, err := r.ReadU64()
	if err != nil {
		t.Fatalf("ReadU64: %v", err)
	}
	if v != 11 {
		t.Errorf("first value after seek = %d, want 11", v)
	}
}

func TestOpenWriterRefusesExistingWithoutOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "existing.stf")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenWriter(path, WriterOptions{}); !errors.Is(err, ErrFileExists) {
		t.Fatalf("OpenWriter on existing path = %v, want ErrFileExists", err)
	}
}

func TestOverwriteCommitsViaTempRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "existing.stf")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := OpenWriter(path, WriterOptions{OverwriteExisting: true})
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := w.WriteBytes([]byte("new contents")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new contents" {
		t.Errorf("file contents = %q, want %q", got, "new contents")
	}
}

func TestAbortLeavesExistingFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.stf")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := OpenWriter(path, WriterOptions{OverwriteExisting: true})
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := w.WriteBytes([]byte("partial")); err != nil {
		t.Fatal(err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "old" {
		t.Errorf("file contents after abort = %q, want %q", got, "old")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected the temp file to be removed, dir has %d entries", len(entries))
	}
}
