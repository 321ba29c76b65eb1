package storage

import (
	"io"
	"os"
	"slices"

	"github.com/meigma/bundle/internal/bundletype"
)

// Memory is a Backend over an in-memory byte slice.
//
// Memory is useful for tests and for bundles that never touch disk.
type Memory struct {
	data     []byte
	readOnly bool
	closed   bool
	syncs    int
}

var _ Backend = (*Memory)(nil)

// NewMemory returns a writable Memory backend holding a copy of data.
func NewMemory(data []byte) *Memory {
	return &Memory{data: slices.Clone(data)}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, bundletype.ErrInvalidArgument
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, growing the slice as needed.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, os.ErrClosed
	}
	if m.readOnly {
		return 0, bundletype.ErrReadOnly
	}
	if off < 0 {
		return 0, bundletype.ErrInvalidArgument
	}
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	return copy(m.data[off:], p), nil
}

// Size returns the length of the backing slice.
func (m *Memory) Size() int64 {
	return int64(len(m.data))
}

// Extend grows the backing slice to at least size bytes.
func (m *Memory) Extend(size int64) error {
	if m.closed {
		return os.ErrClosed
	}
	if m.readOnly {
		return bundletype.ErrReadOnly
	}
	if size > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, size-int64(len(m.data)))...)
	}
	return nil
}

// Sync counts calls; memory is always "durable".
func (m *Memory) Sync() error {
	if m.closed {
		return os.ErrClosed
	}
	m.syncs++
	return nil
}

// Close marks the backend closed. The contents stay readable through Bytes.
func (m *Memory) Close() error {
	if m.closed {
		return os.ErrClosed
	}
	m.closed = true
	return nil
}

// Bytes returns a copy of the current contents.
func (m *Memory) Bytes() []byte {
	return slices.Clone(m.data)
}

// Syncs returns how many times Sync was called.
func (m *Memory) Syncs() int {
	return m.syncs
}
