// Package byteio implements the lowest layer of the STF toolkit: a buffered
// byte stream abstraction with three concrete backings (uncompressed file,
// chunked ZSTD-compressed file, in-memory buffer) plus little-endian integer
// and length-prefixed string helpers shared by every record codec.
package byteio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrEOF is returned when a read hits the natural end of the stream. Callers
// that iterate records treat it as a terminator, not a failure.
var ErrEOF = io.EOF

// ErrCorruptStream indicates a structurally broken backing: a truncated
// compressed chunk, a bad chunk index, or a footer that doesn't parse. It is
// fatal; callers should abort the current operation.
var ErrCorruptStream = errors.New("byteio: corrupt stream")

// Mode selects how a path is opened.
type Mode int

// The two modes a Stream can be opened in.
const (
	ModeRead Mode = iota
	ModeWrite
)

// compressedExt is the file extension that selects the chunked ZSTD backing.
// Any other extension (or no extension) selects the raw backing.
const compressedExt = ".zstf"

// isCompressedPath reports whether path should use the chunked compressed
// backing, per spec: ".zstf" selects compressed, otherwise raw.
func isCompressedPath(path string) bool {
	return strings.HasSuffix(path, compressedExt)
}

// Reader is a byte-granular reader over one of the backings. It is not safe
// for concurrent use; the STF format is inherently single-reader.
type Reader struct {
	back readBacking
}

// readBacking is implemented by each concrete backing (raw file, compressed
// chunked file, in-memory buffer).
type readBacking interface {
	io.Reader
	io.Closer
	// SeekChunk repositions the backing to the chunk covering instIndex and
	// returns the instruction index at which that chunk begins. Only the
	// compressed backing supports this; others return ErrSeekUnsupported.
	SeekChunk(instIndex uint64) (chunkStart uint64, err error)
}

// ErrSeekUnsupported is returned by SeekChunk on a backing that has no
// random-access index: uncompressed files, in-memory buffers, and compressed
// files without a chunk index. The stream layer has no other way to seek.
var ErrSeekUnsupported = errors.New("byteio: seek unsupported on this backing")

// OpenReader opens path for reading, selecting the backing by extension.
// Equivalent to OpenReaderWithOptions(path, ReaderOptions{}).
func OpenReader(path string) (*Reader, error) {
	return OpenReaderWithOptions(path, ReaderOptions{})
}

// NewBufferReader wraps an in-memory buffer (e.g. a decompressed chunk) as a
// Reader with no seek support.
func NewBufferReader(buf []byte) *Reader {
	return &Reader{back: newMemReadBacking(buf)}
}

// Close releases the underlying resources.
func (r *Reader) Close() error {
	return r.back.Close()
}

// SeekChunk repositions to the chunk covering instIndex. Only meaningful on a
// chunked compressed Reader; see ErrSeekUnsupported.
func (r *Reader) SeekChunk(instIndex uint64) (uint64, error) {
	return r.back.SeekChunk(instIndex)
}

// ReadByte reads a single byte, translating io.EOF into ErrEOF (they are the
// same value today, kept distinct so callers can name intent).
func (r *Reader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r.back, buf[:]); err != nil {
		return 0, translateEOF(err)
	}
	return buf[0], nil
}

// ReadFull reads exactly len(buf) bytes.
func (r *Reader) ReadFull(buf []byte) error {
	_, err := io.ReadFull(r.back, buf)
	return translateEOF(err)
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	var buf [2]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	var buf [4]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	var buf [8]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// ReadString reads a u16 byte-length prefix followed by that many bytes; no
// null terminator.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadU16()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if err := r.ReadFull(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func translateEOF(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrEOF
	}
	return err
}

// Writer is a byte-granular writer over one of the backings.
type Writer struct {
	back writeBacking
}

// writeBacking is implemented by each concrete write backing.
type writeBacking interface {
	io.Writer
	// MarkInstructionBoundary tells the backing that an instruction-terminating
	// opcode record was just written at instruction index idx. The compressed
	// backing uses this to decide chunk boundaries; the raw backing ignores it.
	MarkInstructionBoundary(idx uint64) error
	Close() error
	// Abort releases the underlying resources without committing: no final
	// chunk flush, no footer, and no rename over an existing destination.
	Abort() error
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	// ChunkSize is the compressed backing's instruction-count threshold; a
	// chunk boundary is placed at the next instruction boundary after the
	// threshold is crossed. Defaults to 100000 if zero.
	ChunkSize uint64
	// OverwriteExisting allows writing to a path that already exists.
	OverwriteExisting bool
}

// ErrFileExists is returned when the destination exists and
// OverwriteExisting was not set.
var ErrFileExists = errors.New("byteio: file exists")

const defaultChunkSize = 100000

// OpenWriter opens path for writing, selecting the backing by extension. If
// finalPath already exists on disk and opts.OverwriteExisting is true, the
// writer transparently writes to a temp sibling file and Close renames it
// atomically over finalPath (§6.6); cross-filesystem renames fall back to
// copy+delete.
func OpenWriter(path string, opts WriterOptions) (*Writer, error) {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = defaultChunkSize
	}
	target := path
	useTemp := false
	if _, err := os.Stat(path); err == nil {
		if !opts.OverwriteExisting {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		useTemp = true
	}
	openPath := target
	if useTemp {
		openPath = path + ".stf-tmp"
	}
	fp, err := os.OpenFile(openPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if isCompressedPath(path) {
		back, err := newCompressedWriteBacking(fp, opts.ChunkSize)
		if err != nil {
			fp.Close()
			return nil, err
		}
		if useTemp {
			return &Writer{back: &renamingBacking{inner: back, tempPath: openPath, finalPath: target}}, nil
		}
		return &Writer{back: back}, nil
	}
	back := &rawWriteBacking{fp: fp, bw: bufio.NewWriter(fp)}
	if useTemp {
		return &Writer{back: &renamingBacking{inner: back, tempPath: openPath, finalPath: target}}, nil
	}
	return &Writer{back: back}, nil
}

// NewBufferWriter returns a Writer backed by an in-memory growable buffer,
// for tests and tools that need a trace without touching disk.
func NewBufferWriter() (*Writer, *MemBuffer) {
	mb := &MemBuffer{}
	return &Writer{back: &memWriteBacking{buf: mb}}, mb
}

// Close flushes and releases the underlying resources, performing the
// atomic rename described in §6.6 if this Writer was opened over an existing
// path.
func (w *Writer) Close() error {
	return w.back.Close()
}

// Abort releases the underlying resources without committing. A writer
// opened over an existing path discards its temp file; the destination is
// left untouched. Safe to call after a failed Close.
func (w *Writer) Abort() error {
	return w.back.Abort()
}

// MarkInstructionBoundary signals that an opcode record closing instruction
// idx was just written.
func (w *Writer) MarkInstructionBoundary(idx uint64) error {
	return w.back.MarkInstructionBoundary(idx)
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) error {
	_, err := w.back.Write([]byte{b})
	return err
}

// WriteBytes writes a raw byte slice verbatim.
func (w *Writer) WriteBytes(buf []byte) error {
	_, err := w.back.Write(buf)
	return err
}

// WriteU16 writes a little-endian uint16.
func (w *Writer) WriteU16(v uint16) error {
	return w.WriteBytes([]byte{byte(v), byte(v >> 8)})
}

// WriteU32 writes a little-endian uint32.
func (w *Writer) WriteU32(v uint32) error {
	return w.WriteBytes([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// WriteU64 writes a little-endian uint64.
func (w *Writer) WriteU64(v uint64) error {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return w.WriteBytes(buf)
}

// WriteString writes a u16 byte-length prefix followed by the string bytes.
func (w *Writer) WriteString(s string) error {
	if len(s) > 1<<16-1 {
		return fmt.Errorf("byteio: string too long (%d bytes)", len(s))
	}
	if err := w.WriteU16(uint16(len(s))); err != nil {
		return err
	}
	return w.WriteBytes([]byte(s))
}

// MemBuffer is a growable in-memory byte buffer, used both as a Writer
// backing and, after Close, re-opened as a Reader via NewBufferReader(mb.Bytes()).
type MemBuffer struct {
	data []byte
}

// Bytes returns the accumulated bytes.
func (m *MemBuffer) Bytes() []byte { return m.data }

func (m *MemBuffer) Write(p []byte) (int, error) {
	m.data = append(m.data, p...)
	return len(p), nil
}
