package format

import (
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/internal/alloc"
	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/storage"
)

func testHeader() *Header {
	return &Header{
		Version:    Version,
		Generation: 7,
		DataEnd:    HeaderSize + 64,
		Attributes: NewSection(alloc.Extent{Offset: HeaderSize, Length: 24}, make([]byte, 24)),
		Index:      NewSection(alloc.Extent{Offset: HeaderSize + 24, Length: 40}, make([]byte, 40)),
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := testHeader()
	buf, err := h.Encode()
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize)
	assert.Equal(t, "AZBUNDLE", string(buf[:8]))
	assert.Equal(t, make([]byte, 96), buf[128:224], "reserved bytes stay zero")

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHeaderEmptySectionDigest(t *testing.T) {
	t.Parallel()

	h := &Header{Version: Version, DataEnd: HeaderSize}
	buf, err := h.Encode()
	require.NoError(t, err)

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, digest.SHA256.FromBytes(nil), got.Index.Digest)
}

func TestDecodeHeaderRejectsDamage(t *testing.T) {
	t.Parallel()

	valid, err := testHeader().Encode()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(buf []byte) []byte
	}{
		{"short", func(buf []byte) []byte { return buf[:HeaderSize-1] }},
		{"bad magic", func(buf []byte) []byte { buf[0] = 'X'; return buf }},
		{"flipped field", func(buf []byte) []byte { buf[offGeneration] ^= 1; return buf }},
		{"flipped reserved", func(buf []byte) []byte { buf[200] = 1; return buf }},
		{"flipped checksum", func(buf []byte) []byte { buf[HeaderSize-1] ^= 0xff; return buf }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := tt.mutate(append([]byte(nil), valid...))
			_, err := DecodeHeader(buf)
			require.ErrorIs(t, err, bundletype.ErrCorrupt)
		})
	}
}

func TestDecodeHeaderRejectsBadLayout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header *Header
	}{
		{"version", &Header{Version: 2, DataEnd: HeaderSize}},
		{"data end inside header", &Header{Version: Version, DataEnd: 10}},
		{"section past data end", &Header{
			Version: Version,
			DataEnd: HeaderSize + 8,
			Index:   NewSection(alloc.Extent{Offset: HeaderSize, Length: 16}, nil),
		}},
		{"section inside header", &Header{
			Version: Version,
			DataEnd: HeaderSize + 8,
			Index:   NewSection(alloc.Extent{Offset: 8, Length: 8}, nil),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf, err := tt.header.Encode()
			require.NoError(t, err)
			_, err = DecodeHeader(buf)
			require.ErrorIs(t, err, bundletype.ErrCorrupt)
		})
	}
}

func TestSectionReadWrite(t *testing.T) {
	t.Parallel()

	payload := []byte("section payload")
	mem := storage.NewMemory(make([]byte, HeaderSize+len(payload)))
	_, err := mem.WriteAt(payload, HeaderSize)
	require.NoError(t, err)

	s := NewSection(alloc.Extent{Offset: HeaderSize, Length: uint64(len(payload))}, payload)
	got, err := ReadSection(mem, s)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = mem.WriteAt([]byte("S"), HeaderSize)
	require.NoError(t, err)
	_, err = ReadSection(mem, s)
	require.ErrorIs(t, err, bundletype.ErrCorrupt)

	past := NewSection(alloc.Extent{Offset: HeaderSize, Length: 1 << 20}, nil)
	_, err = ReadSection(mem, past)
	require.ErrorIs(t, err, bundletype.ErrCorrupt)

	empty, err := ReadSection(mem, NewSection(alloc.Extent{}, nil))
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestReadWriteHeader(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory(nil)
	_, err := ReadHeader(mem)
	require.ErrorIs(t, err, bundletype.ErrCorrupt)

	h := testHeader()
	require.NoError(t, mem.Extend(int64(h.DataEnd)))
	require.NoError(t, WriteHeader(mem, h))

	got, err := ReadHeader(mem)
	require.NoError(t, err)
	assert.Equal(t, h.Generation, got.Generation)

	h.DataEnd = 1 << 20
	require.NoError(t, WriteHeader(mem, h))
	_, err = ReadHeader(mem)
	require.ErrorIs(t, err, bundletype.ErrCorrupt)
}
