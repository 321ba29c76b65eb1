package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/internal/testutil"
)

// fragmented builds a container with live files, tombstones and attributes.
func fragmented(t *testing.T) string {
	t.Helper()
	b, path := openTemp(t)
	for i := range 10 {
		writeFile(t, b, fmt.Sprintf("f%d", i), testutil.Pattern(byte(i), 1000+i))
	}
	for i := 0; i < 10; i += 2 {
		require.NoError(t, b.DeleteFile(fmt.Sprintf("f%d", i)))
	}
	fd, err := b.OpenFile("f3")
	require.NoError(t, err)
	require.NoError(t, b.SetFileProperties(fd, []byte("props of f3")))
	require.NoError(t, b.SetBundleAttribute(System, []byte("sys")))
	require.NoError(t, b.SetBundleAttribute(Private, []byte("priv")))
	require.NoError(t, b.Close())
	return path
}

func TestCompactToNewPath(t *testing.T) {
	t.Parallel()

	src := fragmented(t)
	dst := filepath.Join(t.TempDir(), "nested", "compact.bundle")

	var events []ProgressEvent
	stats, err := Compact(context.Background(), src, dst, CompactWithProgress(func(ev ProgressEvent) {
		events = append(events, ev)
	}))
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Files)
	assert.Equal(t, 5, stats.TombstonesDropped)
	assert.Less(t, stats.SizeAfter, stats.SizeBefore)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, stats.SizeAfter, info.Size())

	b, err := Open(dst, WithReadOnly(true))
	require.NoError(t, err)
	defer b.Close()

	files, err := b.GetFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f3", "f5", "f7", "f9"}, files)

	for i := 1; i < 10; i += 2 {
		data, err := b.ReadFile(fmt.Sprintf("f%d", i))
		require.NoError(t, err)
		assert.Equal(t, testutil.Pattern(byte(i), 1000+i), data)
	}
	props, err := b.FileProperties("f3")
	require.NoError(t, err)
	assert.Equal(t, "props of f3", string(props))

	sys, err := b.GetBundleAttribute(System)
	require.NoError(t, err)
	assert.Equal(t, "sys", string(sys))
	pub, err := b.GetBundleAttribute(Public)
	require.NoError(t, err)
	assert.Empty(t, pub)

	st, err := b.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.Tombstones)

	require.NotEmpty(t, events)
	assert.Equal(t, StageScanning, events[0].Stage)
	assert.Equal(t, 5, events[0].FilesTotal)
	last := events[len(events)-1]
	assert.Equal(t, StageCommitting, last.Stage)
	assert.Equal(t, 5, last.FilesDone)
	assert.Equal(t, last.BytesTotal, last.BytesDone)
}

func TestCompactInPlace(t *testing.T) {
	t.Parallel()

	src := fragmented(t)
	before := testutil.ReadFile(t, src)

	stats, err := Compact(context.Background(), src, "")
	require.NoError(t, err)
	assert.Equal(t, int64(len(before)), stats.SizeBefore)

	after := testutil.ReadFile(t, src)
	assert.Len(t, after, int(stats.SizeAfter))

	b, err := Open(src)
	require.NoError(t, err)
	defer b.Close()
	files, err := b.GetFiles()
	require.NoError(t, err)
	assert.Len(t, files, 5)

	entries, err := os.ReadDir(filepath.Dir(src))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestCompactInPlaceExcludesWriters(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("advisory locks need flock")
	}

	src := fragmented(t)
	var writerErr error
	_, err := Compact(context.Background(), src, "", CompactWithProgress(func(ev ProgressEvent) {
		if ev.Stage == StageCommitting && writerErr == nil {
			w, err := Open(src)
			if err == nil {
				_ = w.Close()
				err = errors.New("writer opened the source during compaction")
			}
			writerErr = err
		}
	}))
	require.NoError(t, err)
	require.ErrorIs(t, writerErr, ErrIO)

	b, err := Open(src)
	require.NoError(t, err, "lock released once compaction returns")
	require.NoError(t, b.Close())
}

func TestCompactErrors(t *testing.T) {
	t.Parallel()

	_, err := Compact(context.Background(), "", "x")
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Compact(context.Background(), filepath.Join(t.TempDir(), "missing"), "")
	require.ErrorIs(t, err, ErrNotFound)

	corrupt := filepath.Join(t.TempDir(), "corrupt.bundle")
	require.NoError(t, os.WriteFile(corrupt, make([]byte, HeaderSize), 0o644))
	dst := filepath.Join(t.TempDir(), "out.bundle")
	_, err = Compact(context.Background(), corrupt, dst)
	require.ErrorIs(t, err, ErrCorrupt)
	_, statErr := os.Stat(dst)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestCompactCancelled(t *testing.T) {
	t.Parallel()

	src := fragmented(t)
	before := testutil.ReadFile(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compact(ctx, src, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, testutil.ReadFile(t, src))

	entries, err := os.ReadDir(filepath.Dir(src))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}
