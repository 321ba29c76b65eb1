package storage

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/internal/bundletype"
)

func TestFileCreateWriteRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "c.agb")
	f, err := OpenFile(path, FileOptions{Create: true, Lock: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.Size())

	n, err := f.WriteAt([]byte("hello"), 10)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(15), f.Size())

	require.NoError(t, f.Extend(64))
	assert.Equal(t, int64(64), f.Size())
	require.NoError(t, f.Extend(32))
	assert.Equal(t, int64(64), f.Size(), "extend never shrinks")

	buf := make([]byte, 5)
	require.NoError(t, ReadFull(f, buf, 10))
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
	require.ErrorIs(t, f.Close(), os.ErrClosed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(64), info.Size())
}

func TestFileMissingWithoutCreate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.agb")
	_, err := OpenFile(path, FileOptions{})
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = OpenFile(path, FileOptions{ReadOnly: true, Create: true})
	require.ErrorIs(t, err, fs.ErrNotExist, "read-only opens never create")
}

func TestFileReadOnlyRejectsWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ro.agb")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	f, err := OpenFile(path, FileOptions{ReadOnly: true, Lock: true})
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("x"), 0)
	require.ErrorIs(t, err, bundletype.ErrReadOnly)
	require.ErrorIs(t, f.Extend(10), bundletype.ErrReadOnly)
	require.NoError(t, f.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestFileSharedLocksCoexist(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shared.agb")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	a, err := OpenFile(path, FileOptions{ReadOnly: true, Lock: true})
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenFile(path, FileOptions{ReadOnly: true, Lock: true})
	require.NoError(t, err)
	defer b.Close()
}

func TestMemoryBackend(t *testing.T) {
	t.Parallel()

	m := NewMemory(nil)
	_, err := m.WriteAt([]byte("abc"), 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 'a', 'b', 'c'}, m.Bytes())

	buf := make([]byte, 4)
	n, err := m.ReadAt(buf, 3)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, io.ErrUnexpectedEOF, ReadFull(m, buf, 3))

	require.NoError(t, m.Extend(8))
	assert.Equal(t, int64(8), m.Size())
	require.NoError(t, m.Sync())
	assert.Equal(t, 1, m.Syncs())

	ro := &Memory{data: m.Bytes(), readOnly: true}
	_, err = ro.WriteAt([]byte("x"), 0)
	require.ErrorIs(t, err, bundletype.ErrReadOnly)

	require.NoError(t, m.Close())
	_, err = m.ReadAt(buf, 0)
	require.ErrorIs(t, err, os.ErrClosed)
}
