package byteio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// On-disk layout of a ".zstf" file:
//
//	[chunk 0 frame][chunk 1 frame]...[chunk N frame][index entries][footer]
//
// Each chunk frame is an independently decodable zstd frame holding the raw
// (uncompressed) body-record bytes for that chunk. A chunk never splits an
// instruction: the writer only cuts a chunk at an instruction boundary, at
// or after the configured threshold is crossed (§4.1).
//
// Each index entry is 24 bytes: startInstIndex(u64) | fileOffset(u64) |
// compressedLen(u64), one per chunk, in ascending startInstIndex order.
//
// The footer is the final 24 bytes of the file: indexOffset(u64) |
// numEntries(u64) | magic(8 bytes, "STFCHNK1").
const footerMagic = "STFCHNK1"
const footerSize = 8 + 8 + 8
const indexEntrySize = 8 + 8 + 8

type chunkIndexEntry struct {
	startInstIndex uint64
	fileOffset     uint64
	compressedLen  uint64
}

// ReaderOptions configures how a compressed Reader is opened.
type ReaderOptions struct {
	// NoThreads disables the background chunk-readahead decompression
	// goroutine. Tools that never consume beyond one chunk (e.g. a
	// header-only inspector) should set this to avoid decompressing a
	// speculative chunk.
	NoThreads bool
}

// OpenReaderWithOptions is like OpenReader but lets the caller control
// whether the compressed backing's readahead thread is enabled.
func OpenReaderWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !isCompressedPath(path) {
		return &Reader{back: &rawReadBacking{fp: fp, br: bufio.NewReader(fp)}}, nil
	}
	back, err := newCompressedReadBackingOpts(fp, opts)
	if err != nil {
		fp.Close()
		return nil, err
	}
	return &Reader{back: back}, nil
}

// compressedReadBacking reads a chunked ZSTD-compressed STF file.
type compressedReadBacking struct {
	fp        *os.File
	index     []chunkIndexEntry
	cur       *bytes.Reader
	nextIdx   int // index into `index` of the next chunk to decode
	noThreads bool
	ahead     chan prefetched
}

type prefetched struct {
	idx int
	buf []byte
	err error
}

func newCompressedReadBacking(fp *os.File) (*compressedReadBacking, error) {
	return newCompressedReadBackingOpts(fp, ReaderOptions{})
}

func newCompressedReadBackingOpts(fp *os.File, opts ReaderOptions) (*compressedReadBacking, error) {
	index, err := readChunkIndex(fp)
	if err != nil {
		return nil, err
	}
	b := &compressedReadBacking{fp: fp, index: index, noThreads: opts.NoThreads}
	if len(index) > 0 {
		buf, err := b.decodeChunkAt(0)
		if err != nil {
			return nil, err
		}
		b.cur = bytes.NewReader(buf)
		b.nextIdx = 1
		b.maybePrefetch()
	}
	return b, nil
}

func readChunkIndex(fp *os.File) ([]chunkIndexEntry, error) {
	size, err := fp.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if size < footerSize {
		return nil, fmt.Errorf("%w: file too small for footer", ErrCorruptStream)
	}
	footer := make([]byte, footerSize)
	if _, err := fp.ReadAt(footer, size-footerSize); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptStream, err)
	}
	if string(footer[16:24]) != footerMagic {
		return nil, fmt.Errorf("%w: bad footer magic", ErrCorruptStream)
	}
	indexOffset := binary.LittleEndian.Uint64(footer[0:8])
	numEntries := binary.LittleEndian.Uint64(footer[8:16])
	indexBytes := make([]byte, numEntries*indexEntrySize)
	if numEntries > 0 {
		if _, err := fp.ReadAt(indexBytes, int64(indexOffset)); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorruptStream, err)
		}
	}
	entries := make([]chunkIndexEntry, numEntries)
	for i := range entries {
		off := i * indexEntrySize
		entries[i] = chunkIndexEntry{
			startInstIndex: binary.LittleEndian.Uint64(indexBytes[off : off+8]),
			fileOffset:     binary.LittleEndian.Uint64(indexBytes[off+8 : off+16]),
			compressedLen:  binary.LittleEndian.Uint64(indexBytes[off+16 : off+24]),
		}
	}
	return entries, nil
}

func (b *compressedReadBacking) decodeChunkAt(i int) ([]byte, error) {
	entry := b.index[i]
	compressed := make([]byte, entry.compressedLen)
	if _, err := b.fp.ReadAt(compressed, int64(entry.fileOffset)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptStream, err)
	}
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptStream, err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptStream, err)
	}
	return out, nil
}

// maybePrefetch kicks off a goroutine decoding the next chunk into a
// single-slot channel, overlapping decompression of chunk n+1 with
// consumption of chunk n (§5). It is the one concurrency exception in the
// otherwise single-threaded core, built the same way the teacher's
// asm.StartAssembler streams results over a channel from a background
// goroutine.
func (b *compressedReadBacking) maybePrefetch() {
	if b.noThreads || b.nextIdx >= len(b.index) {
		return
	}
	idx := b.nextIdx
	ch := make(chan prefetched, 1)
	go func() {
		buf, err := b.decodeChunkAt(idx)
		ch <- prefetched{idx: idx, buf: buf, err: err}
	}()
	b.ahead = ch
}

func (b *compressedReadBacking) advanceChunk() error {
	if b.nextIdx >= len(b.index) {
		return io.EOF
	}
	if b.ahead != nil {
		res := <-b.ahead
		b.ahead = nil
		if res.idx != b.nextIdx {
			// Stale prefetch from before a seek; discard and decode fresh.
			buf, err := b.decodeChunkAt(b.nextIdx)
			if err != nil {
				return err
			}
			b.cur = bytes.NewReader(buf)
		} else {
			if res.err != nil {
				return res.err
			}
			b.cur = bytes.NewReader(res.buf)
		}
	} else {
		buf, err := b.decodeChunkAt(b.nextIdx)
		if err != nil {
			return err
		}
		b.cur = bytes.NewReader(buf)
	}
	b.nextIdx++
	b.maybePrefetch()
	return nil
}

func (b *compressedReadBacking) Read(p []byte) (int, error) {
	if b.cur == nil {
		return 0, io.EOF
	}
	for {
		n, err := b.cur.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			if aerr := b.advanceChunk(); aerr != nil {
				return 0, aerr
			}
			continue
		}
		return n, err
	}
}

func (b *compressedReadBacking) Close() error { return b.fp.Close() }

// SeekChunk finds the latest chunk whose start index <= instIndex, decodes
// it, and repositions the read cursor to its start. The caller (the stream
// layer) then discards records until the requested instruction is reached.
func (b *compressedReadBacking) SeekChunk(instIndex uint64) (uint64, error) {
	if len(b.index) == 0 {
		return 0, ErrSeekUnsupported
	}
	i := sort.Search(len(b.index), func(i int) bool {
		return b.index[i].startInstIndex > instIndex
	}) - 1
	if i < 0 {
		i = 0
	}
	buf, err := b.decodeChunkAt(i)
	if err != nil {
		return 0, err
	}
	b.cur = bytes.NewReader(buf)
	b.nextIdx = i + 1
	b.ahead = nil
	b.maybePrefetch()
	return b.index[i].startInstIndex, nil
}

// compressedWriteBacking writes a chunked ZSTD-compressed STF file.
type compressedWriteBacking struct {
	fp              *os.File
	chunkSize       uint64
	offset          int64
	pending         bytes.Buffer
	chunkStartInst  uint64
	instsSinceStart uint64
	index           []chunkIndexEntry
}

func newCompressedWriteBacking(fp *os.File, chunkSize uint64) (*compressedWriteBacking, error) {
	return &compressedWriteBacking{fp: fp, chunkSize: chunkSize, chunkStartInst: 1}, nil
}

func (w *compressedWriteBacking) Write(p []byte) (int, error) {
	return w.pending.Write(p)
}

// MarkInstructionBoundary is called after each opcode record is written. A
// chunk never splits an instruction: once the threshold is crossed, the cut
// happens at the next boundary, i.e. right here.
func (w *compressedWriteBacking) MarkInstructionBoundary(idx uint64) error {
	w.instsSinceStart++
	if w.instsSinceStart >= w.chunkSize {
		if err := w.flushChunk(idx + 1); err != nil {
			return err
		}
	}
	return nil
}

func (w *compressedWriteBacking) flushChunk(nextChunkStart uint64) error {
	if w.pending.Len() == 0 {
		w.chunkStartInst = nextChunkStart
		w.instsSinceStart = 0
		return nil
	}
	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return err
	}
	if _, err := enc.Write(w.pending.Bytes()); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	n, err := w.fp.Write(compressed.Bytes())
	if err != nil {
		return err
	}
	w.index = append(w.index, chunkIndexEntry{
		startInstIndex: w.chunkStartInst,
		fileOffset:     uint64(w.offset),
		compressedLen:  uint64(n),
	})
	w.offset += int64(n)
	w.pending.Reset()
	w.chunkStartInst = nextChunkStart
	w.instsSinceStart = 0
	return nil
}

func (w *compressedWriteBacking) Abort() error { return w.fp.Close() }

func (w *compressedWriteBacking) Close() error {
	if err := w.flushChunk(w.chunkStartInst + w.instsSinceStart); err != nil {
		w.fp.Close()
		return err
	}
	indexOffset := uint64(w.offset)
	for _, e := range w.index {
		var buf [indexEntrySize]byte
		binary.LittleEndian.PutUint64(buf[0:8], e.startInstIndex)
		binary.LittleEndian.PutUint64(buf[8:16], e.fileOffset)
		binary.LittleEndian.PutUint64(buf[16:24], e.compressedLen)
		if _, err := w.fp.Write(buf[:]); err != nil {
			w.fp.Close()
			return err
		}
	}
	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], indexOffset)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(w.index)))
	copy(footer[16:24], footerMagic)
	if _, err := w.fp.Write(footer[:]); err != nil {
		w.fp.Close()
		return err
	}
	return w.fp.Close()
}
