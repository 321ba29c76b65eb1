// Package format defines the on-disk layout of a bundle container.
//
// A container starts with a fixed HeaderSize-byte header naming the
// attribute and index sections and the data high-water mark. Sections are
// verified against the SHA-256 digests recorded in the header; the header
// itself is covered by a trailing SHA-256 of its preceding bytes.
package format

import (
	"bytes"
	_ "crypto/sha256" // registers SHA-256 for go-digest
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/bundle/internal/alloc"
	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
)

// Layout constants.
const (
	// HeaderSize is the size of the fixed header at offset 0.
	HeaderSize = 256

	// Version is the only format version understood by this package.
	Version uint32 = 1

	digestLen   = 32
	checksumOff = HeaderSize - digestLen
)

// Magic identifies a bundle container.
var Magic = [8]byte{'A', 'Z', 'B', 'U', 'N', 'D', 'L', 'E'}

// Field offsets inside the header.
const (
	offMagic      = 0
	offVersion    = 8
	offFlags      = 12
	offGeneration = 16
	offDataEnd    = 24
	offAttr       = 32
	offIndex      = 80
)

// Section locates a metadata section and records its digest.
type Section struct {
	Extent alloc.Extent
	Digest digest.Digest
}

// Header is the decoded fixed header.
type Header struct {
	Version    uint32
	Flags      uint32
	Generation uint64
	DataEnd    uint64
	Attributes Section
	Index      Section
}

// Encode returns the HeaderSize-byte encoding of h, trailing checksum included.
func (h *Header) Encode() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	copy(buf[offMagic:], Magic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.LittleEndian.PutUint64(buf[offGeneration:], h.Generation)
	binary.LittleEndian.PutUint64(buf[offDataEnd:], h.DataEnd)
	if err := putSection(buf[offAttr:], h.Attributes); err != nil {
		return nil, fmt.Errorf("attribute section: %w", err)
	}
	if err := putSection(buf[offIndex:], h.Index); err != nil {
		return nil, fmt.Errorf("index section: %w", err)
	}
	sum, err := rawDigest(digest.SHA256.FromBytes(buf[:checksumOff]))
	if err != nil {
		return nil, err
	}
	copy(buf[checksumOff:], sum)
	return buf, nil
}

// DecodeHeader parses and verifies a header.
//
// Any mismatch in magic, version, checksum or section bounds yields ErrCorrupt.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: header is %d bytes, want %d", bundletype.ErrCorrupt, len(buf), HeaderSize)
	}
	buf = buf[:HeaderSize]
	if !bytes.Equal(buf[offMagic:offMagic+len(Magic)], Magic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", bundletype.ErrCorrupt, buf[offMagic:offMagic+len(Magic)])
	}

	want := digest.NewDigestFromBytes(digest.SHA256, buf[checksumOff:])
	v := want.Verifier()
	_, _ = v.Write(buf[:checksumOff])
	if !v.Verified() {
		return nil, fmt.Errorf("%w: header checksum mismatch", bundletype.ErrCorrupt)
	}

	h := &Header{
		Version:    binary.LittleEndian.Uint32(buf[offVersion:]),
		Flags:      binary.LittleEndian.Uint32(buf[offFlags:]),
		Generation: binary.LittleEndian.Uint64(buf[offGeneration:]),
		DataEnd:    binary.LittleEndian.Uint64(buf[offDataEnd:]),
		Attributes: getSection(buf[offAttr:]),
		Index:      getSection(buf[offIndex:]),
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported format version %d", bundletype.ErrCorrupt, h.Version)
	}
	if h.DataEnd < HeaderSize {
		return nil, fmt.Errorf("%w: data end %d inside header", bundletype.ErrCorrupt, h.DataEnd)
	}
	for _, s := range []struct {
		name string
		sec  Section
	}{{"attribute", h.Attributes}, {"index", h.Index}} {
		if s.sec.Extent.IsZero() {
			continue
		}
		end, ok := sizing.AddUint64(s.sec.Extent.Offset, s.sec.Extent.Length)
		if !ok || s.sec.Extent.Offset < HeaderSize || end > h.DataEnd {
			return nil, fmt.Errorf("%w: %s section [%d,+%d) outside data region", bundletype.ErrCorrupt,
				s.name, s.sec.Extent.Offset, s.sec.Extent.Length)
		}
	}
	return h, nil
}

// putSection writes offset, length and digest of s into buf.
func putSection(buf []byte, s Section) error {
	binary.LittleEndian.PutUint64(buf[0:], s.Extent.Offset)
	binary.LittleEndian.PutUint64(buf[8:], s.Extent.Length)
	d := s.Digest
	if d == "" {
		d = digest.SHA256.FromBytes(nil)
	}
	sum, err := rawDigest(d)
	if err != nil {
		return err
	}
	copy(buf[16:16+digestLen], sum)
	return nil
}

func getSection(buf []byte) Section {
	return Section{
		Extent: alloc.Extent{
			Offset: binary.LittleEndian.Uint64(buf[0:]),
			Length: binary.LittleEndian.Uint64(buf[8:]),
		},
		Digest: digest.NewDigestFromBytes(digest.SHA256, buf[16:16+digestLen]),
	}
}

// rawDigest returns the raw SHA-256 bytes of d.
func rawDigest(d digest.Digest) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", bundletype.ErrInvalidArgument, err)
	}
	if d.Algorithm() != digest.SHA256 {
		return nil, fmt.Errorf("%w: unsupported digest algorithm %s", bundletype.ErrInvalidArgument, d.Algorithm())
	}
	return hex.DecodeString(d.Encoded())
}
