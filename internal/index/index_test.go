package index

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/internal/alloc"
	"github.com/meigma/bundle/internal/bundletype"
)

func TestInsertLookupList(t *testing.T) {
	t.Parallel()

	idx := New()
	for _, p := range []string{"b.dat", "a/b/c.dat", "a.dat"} {
		require.NoError(t, idx.Insert(&Entry{Path: p}))
	}

	assert.Equal(t, []string{"b.dat", "a/b/c.dat", "a.dat"}, idx.List(), "insertion order")
	assert.Equal(t, idx.List(), idx.List(), "stable across calls")
	assert.Equal(t, 3, idx.Len())

	e, ok := idx.Lookup("a/b/c.dat")
	require.True(t, ok)
	assert.Equal(t, "a/b/c.dat", e.Path)

	_, ok = idx.Lookup("missing")
	assert.False(t, ok)
}

func TestInsertRejectsLiveDuplicate(t *testing.T) {
	t.Parallel()

	idx := New()
	require.NoError(t, idx.Insert(&Entry{Path: "x"}))
	err := idx.Insert(&Entry{Path: "x"})
	require.ErrorIs(t, err, bundletype.ErrExist)

	err = idx.Insert(&Entry{})
	require.ErrorIs(t, err, bundletype.ErrInvalidArgument)
}

func TestMarkDeletedAndReinsert(t *testing.T) {
	t.Parallel()

	idx := New()
	require.NoError(t, idx.Insert(&Entry{Path: "x", Data: alloc.Extent{Offset: 300, Length: 10}}))
	require.NoError(t, idx.Insert(&Entry{Path: "y"}))

	e, err := idx.MarkDeleted("x")
	require.NoError(t, err)
	assert.True(t, e.Deleted)
	assert.Equal(t, []string{"y"}, idx.List())
	assert.Equal(t, 1, idx.Tombstones())

	_, err = idx.MarkDeleted("x")
	require.ErrorIs(t, err, bundletype.ErrNotFound)

	require.NoError(t, idx.Insert(&Entry{Path: "x"}), "a tombstoned path can be created again")
	assert.Equal(t, []string{"y", "x"}, idx.List())

	assert.Equal(t, []alloc.Extent{{Offset: 300, Length: 10}}, idx.Extents(), "tombstone extents stay reserved")

	dropped := idx.Purge()
	require.Len(t, dropped, 1)
	assert.Equal(t, "x", dropped[0].Path)
	assert.Equal(t, 0, idx.Tombstones())
	assert.Empty(t, idx.Extents())
}

func TestRestoreAndRemove(t *testing.T) {
	t.Parallel()

	idx := New()
	a := &Entry{Path: "a"}
	b := &Entry{Path: "b"}
	require.NoError(t, idx.Insert(a))
	require.NoError(t, idx.Insert(b))

	_, err := idx.MarkDeleted("a")
	require.NoError(t, err)
	require.NoError(t, idx.Restore(a))
	assert.False(t, a.Deleted)
	assert.Equal(t, []string{"a", "b"}, idx.List())

	_, err = idx.MarkDeleted("a")
	require.NoError(t, err)
	require.NoError(t, idx.Insert(&Entry{Path: "a"}))
	require.ErrorIs(t, idx.Restore(a), bundletype.ErrExist)

	require.ErrorIs(t, idx.Restore(&Entry{Path: "zzz"}), bundletype.ErrNotFound)

	idx.Remove(b)
	assert.Equal(t, []string{"a"}, idx.List())
	_, ok := idx.Lookup("b")
	assert.False(t, ok)
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	idx := New()
	entries := []*Entry{
		{Path: "dir1/dir2/file.dat", Data: alloc.Extent{Offset: 256, Length: 512}, Length: 300, Props: alloc.Extent{Offset: 768, Length: 18}},
		{Path: "empty"},
		{Path: "gone", Data: alloc.Extent{Offset: 1024, Length: 8}, Length: 8, Deleted: true},
	}
	for _, e := range entries {
		require.NoError(t, idx.Insert(e))
	}

	got, err := Unmarshal(idx.Marshal())
	require.NoError(t, err)

	var all []Entry
	for e := range got.Entries() {
		all = append(all, *e)
	}
	require.Len(t, all, 3)
	for i, e := range entries {
		assert.Equal(t, *e, all[i])
	}
	assert.Equal(t, []string{"dir1/dir2/file.dat", "empty"}, got.List())
}

func TestUnmarshalEmpty(t *testing.T) {
	t.Parallel()

	idx, err := Unmarshal(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestUnmarshalDetectsTruncation(t *testing.T) {
	t.Parallel()

	idx := New()
	for i := range 4 {
		require.NoError(t, idx.Insert(&Entry{Path: fmt.Sprintf("file%d", i)}))
	}
	data := idx.Marshal()

	for _, cut := range []int{1, 3, len(data)/2 + 1, len(data) - 1} {
		_, err := Unmarshal(data[:cut])
		require.ErrorIs(t, err, bundletype.ErrCorrupt, "cut at %d", cut)
	}
}

func TestUnmarshalRejectsBadRecords(t *testing.T) {
	t.Parallel()

	withLength := New()
	require.NoError(t, withLength.Insert(&Entry{Path: "a", Data: alloc.Extent{Offset: 256, Length: 4}, Length: 4}))
	valid := withLength.Marshal()

	tooLong := New()
	require.NoError(t, tooLong.Insert(&Entry{Path: "a", Data: alloc.Extent{Offset: 256, Length: 4}, Length: 5}))

	dup := append(append([]byte{}, valid...), valid...)

	garbage := make([]byte, 12)
	binary.LittleEndian.PutUint32(garbage, 8)
	binary.LittleEndian.PutUint32(garbage[4:], 0xFFFFFF00)

	zeroSize := make([]byte, 8)

	tests := []struct {
		name string
		data []byte
	}{
		{"length exceeds capacity", tooLong.Marshal()},
		{"duplicate live path", dup},
		{"garbage offsets", garbage},
		{"zero size record", zeroSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Unmarshal(tt.data)
			require.ErrorIs(t, err, bundletype.ErrCorrupt)
		})
	}
}
