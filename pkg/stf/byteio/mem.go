package byteio

import "bytes"

// memReadBacking reads from an in-memory byte slice. Used for decompressed
// chunks and for tests that build a trace without touching disk.
type memReadBacking struct {
	r *bytes.Reader
}

func newMemReadBacking(buf []byte) *memReadBacking {
	return &memReadBacking{r: bytes.NewReader(buf)}
}

func (m *memReadBacking) Read(p []byte) (int, error) { return m.r.Read(p) }
func (m *memReadBacking) Close() error                { return nil }

func (m *memReadBacking) SeekChunk(uint64) (uint64, error) {
	return 0, ErrSeekUnsupported
}

// memWriteBacking accumulates writes into a MemBuffer.
type memWriteBacking struct {
	buf *MemBuffer
}

func (m *memWriteBacking) Write(p []byte) (int, error) { return m.buf.Write(p) }

func (m *memWriteBacking) MarkInstructionBoundary(uint64) error { return nil }

func (m *memWriteBacking) Close() error { return nil }

func (m *memWriteBacking) Abort() error { return nil }
